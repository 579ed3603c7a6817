// Package ide implements the AT-attached IDE/ESDI disk task-file
// controller (§4.7): a four-state command/data-transfer machine driven by
// scheduled completion callbacks, backed by the sinks.DiskStore
// collaborator.
package ide

import (
	"sync"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
	"github.com/v-architect/pcbus-core/core_engine/errkind"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
	"github.com/v-architect/pcbus-core/core_engine/sinks"
)

// Geometry is one CHS description.
type Geometry struct {
	Cylinders int
	Heads     int
	SectorsPerTrack int
}

// Config carries construction-time parameters for one controller.
type Config struct {
	BasePort uint16 // e.g. 0x1F0
	CtrlPort uint16 // e.g. 0x3F6
	IRQLine  uint8
	Logical  Geometry
	Physical Geometry // zero value means "same as Logical"
	SeekTicksPerCylinder int64
	TransferTicksPerSector int64
	ModelString  string
	SerialNumber string
	FirmwareRev  string
}

// Controller models one drive's task-file interface.
type Controller struct {
	lock sync.Mutex

	cfg   Config
	disk  sinks.DiskStore
	sched *event.Scheduler
	irq   *interrupt.Aggregator
	owner int64
	doneEvent event.Handle

	state State

	errorReg       byte
	features       byte
	sectorCount    byte
	sectorNumber   byte
	cylinderLow    byte
	cylinderHigh   byte
	driveHead      byte
	status         byte
	controlReg     byte // device control register (nIEN at bit1)

	buffer   [SectorSize]byte
	bufPos   int
	pendingLBA uint64
	remainingSectors int
	activeCmd byte // command driving the in-flight completion event, 0 for a bare seek
	pendingWrite bool // true when doneEvent represents "commit the filled buffer", not "request the next one"

	Debug bool
}

// New creates an IDE controller backed by disk.
func New(cfg Config, disk sinks.DiskStore, sched *event.Scheduler, irq *interrupt.Aggregator) *Controller {
	if cfg.Physical == (Geometry{}) {
		cfg.Physical = cfg.Logical
	}
	if cfg.SeekTicksPerCylinder == 0 {
		cfg.SeekTicksPerCylinder = 20
	}
	if cfg.TransferTicksPerSector == 0 {
		cfg.TransferTicksPerSector = 500
	}
	c := &Controller{cfg: cfg, disk: disk, sched: sched, irq: irq}
	c.owner = sched.NewOwner()
	c.doneEvent = sched.New(c.owner, func(int) { c.commandComplete() })
	c.resetLocked()
	return c
}

func (c *Controller) Metadata() device.Metadata { return device.Metadata{Name: "ide"} }
func (c *Controller) Create() error              { return nil }
func (c *Controller) Tick()                      {}
func (c *Controller) Close()                     { c.Reset() }

func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.state = StateIdleReady
	c.errorReg = 0
	c.status = StatusDRDY | StatusDSC
	c.driveHead = 0
	c.sectorCount, c.sectorNumber, c.cylinderLow, c.cylinderHigh = 1, 1, 0, 0
	c.bufPos = 0
	c.remainingSectors = 0
	c.sched.Disarm(c.doneEvent)
}

func (c *Controller) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if port == c.cfg.CtrlPort {
		return c.handleControlPort(direction, data)
	}
	offset := port - c.cfg.BasePort
	if offset == RegData {
		return c.handleData(direction, size, data)
	}
	if size != 1 {
		return errkind.Protocolf("ide", "I/O size %d not supported for port %#x", size, port)
	}
	if direction == bus.DirectionOut {
		c.writeTaskFile(offset, data[0])
		return nil
	}
	data[0] = c.readTaskFile(offset)
	return nil
}

func (c *Controller) handleControlPort(direction uint8, data []byte) error {
	if direction == bus.DirectionOut {
		c.controlReg = data[0]
		return nil
	}
	data[0] = c.status // alternate status: same value, no side effect on read
	return nil
}

func (c *Controller) handleData(direction uint8, size uint8, data []byte) error {
	if c.state != StateDataRequestIn && c.state != StateDataRequestOut {
		if direction == bus.DirectionIn {
			for i := range data {
				data[i] = 0xFF
			}
		}
		return nil
	}
	n := int(size)
	if direction == bus.DirectionIn {
		for i := 0; i < n; i++ {
			if c.bufPos < len(c.buffer) {
				data[i] = c.buffer[c.bufPos]
				c.bufPos++
			} else {
				data[i] = 0xFF
			}
		}
	} else {
		for i := 0; i < n; i++ {
			if c.bufPos < len(c.buffer) {
				c.buffer[c.bufPos] = data[i]
				c.bufPos++
			}
		}
	}
	if c.bufPos >= len(c.buffer) {
		c.onBufferDrained()
	}
	return nil
}

func (c *Controller) writeTaskFile(offset uint16, v byte) {
	switch offset {
	case RegError: // Features
		c.features = v
	case RegSectorCount:
		c.sectorCount = v
	case RegSectorNumber:
		c.sectorNumber = v
	case RegCylinderLow:
		c.cylinderLow = v
	case RegCylinderHigh:
		c.cylinderHigh = v
	case RegDriveHead:
		c.driveHead = v
	case RegStatus: // Command
		c.issueCommand(v)
	}
}

func (c *Controller) readTaskFile(offset uint16) byte {
	switch offset {
	case RegError:
		return c.errorReg
	case RegSectorCount:
		return c.sectorCount
	case RegSectorNumber:
		return c.sectorNumber
	case RegCylinderLow:
		return c.cylinderLow
	case RegCylinderHigh:
		return c.cylinderHigh
	case RegDriveHead:
		return c.driveHead
	case RegStatus:
		c.lowerIRQ()
		return c.status
	}
	return 0xFF
}

func (c *Controller) currentCHS() (cyl, head, sector int) {
	cyl = int(c.cylinderLow) | int(c.cylinderHigh)<<8
	head = int(c.driveHead & 0x0F)
	sector = int(c.sectorNumber)
	return
}

// chsToLBA implements §4.7's spare-sector-reserving translation, optionally
// reprojecting through the physical geometry when it differs from the
// logical geometry presented to the host.
func (c *Controller) chsToLBA(cyl, head, sector int) uint64 {
	logical := c.cfg.Logical
	lba := uint64((cyl*logical.Heads+head)*logical.SectorsPerTrack + (sector - 1))
	if c.cfg.Physical == logical {
		return lba
	}
	phys := c.cfg.Physical
	effectiveSPT := phys.SectorsPerTrack - 1 // one spare sector reserved per track
	if effectiveSPT <= 0 || phys.Heads <= 0 {
		return lba
	}
	perCylinder := uint64(phys.Heads * effectiveSPT)
	pCyl := lba / perCylinder
	rem := lba % perCylinder
	pHead := rem / uint64(effectiveSPT)
	pSector := rem % uint64(effectiveSPT)
	return (pCyl*uint64(phys.Heads)+pHead)*uint64(phys.SectorsPerTrack) + pSector
}

func (c *Controller) issueCommand(cmd byte) {
	c.status = StatusBSY
	c.errorReg = 0

	switch {
	case cmd == CmdDiagnose:
		c.driveHead = 0 // §9: diagnose side effect resets drive-select
		c.status = StatusDRDY | StatusDSC
		return
	case cmd == CmdIdentify:
		c.fillIdentify()
		c.state = StateDataRequestIn
		c.bufPos = 0
		c.status = StatusDRDY | StatusDRQ | StatusDSC
		c.raiseIRQ()
		return
	case cmd == CmdInitDriveParams:
		c.status = StatusDRDY | StatusDSC
		return
	case cmd >= CmdRestoreBase && cmd < CmdRestoreBase+0x10:
		if c.cfg.Logical.Cylinders <= 0 {
			c.status = StatusErr | StatusDRDY | StatusDSC
			c.errorReg = ErrTK0NF
			c.raiseIRQ()
			return
		}
		c.cylinderLow, c.cylinderHigh = 0, 0
		c.status = StatusDRDY | StatusDSC
		return
	case cmd >= CmdSeekBase && cmd < CmdSeekBase+0x10:
		cyl, _, _ := c.currentCHS()
		c.activeCmd = 0
		c.state = StateBusy
		c.sched.Arm(c.doneEvent, int64(cyl)*c.cfg.SeekTicksPerCylinder, 0)
		return
	case cmd == CmdReadSectors || cmd == CmdReadSectorsNR ||
		cmd == CmdWriteSectors || cmd == CmdWriteSectorsNR ||
		cmd == CmdVerifySectors || cmd == CmdVerifySectorsNR ||
		cmd == CmdFormatTrack:
		c.beginSectorCommand(cmd)
	default:
		c.status = StatusErr | StatusDRDY | StatusDSC
		c.errorReg = ErrABRT
		c.raiseIRQ()
	}
}

// beginSectorCommand validates the task-file CHS address and arms the
// completion event. Write-family commands only need the seek delay before
// requesting data: the per-sector transfer delay is charged against the
// media write that happens once the host has filled the buffer, not before
// it starts (§4.7).
func (c *Controller) beginSectorCommand(cmd byte) {
	cyl, head, sector := c.currentCHS()
	if cyl < 0 || cyl >= c.cfg.Logical.Cylinders || sector < 1 || sector > c.cfg.Logical.SectorsPerTrack {
		c.status = StatusErr | StatusDRDY | StatusDSC
		c.errorReg = ErrIDNF
		c.raiseIRQ()
		return
	}
	c.pendingLBA = c.chsToLBA(cyl, head, sector)
	c.remainingSectors = int(c.sectorCount)
	if c.remainingSectors == 0 {
		c.remainingSectors = 256
	}
	c.activeCmd = cmd
	c.state = StateBusy
	seek := int64(cyl) * c.cfg.SeekTicksPerCylinder
	if isWriteCommand(cmd) {
		c.sched.Arm(c.doneEvent, seek, 0)
	} else {
		c.sched.Arm(c.doneEvent, seek+c.cfg.TransferTicksPerSector, 0)
	}
}

func isWriteCommand(cmd byte) bool {
	return cmd == CmdWriteSectors || cmd == CmdWriteSectorsNR || cmd == CmdFormatTrack
}

func (c *Controller) commandComplete() {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch {
	case isWriteCommand(c.activeCmd) && c.pendingWrite:
		c.pendingWrite = false
		n := c.disk.WriteSectors(0, c.pendingLBA, 1, c.buffer[:])
		if n < 0 {
			c.status = StatusErr | StatusDRDY | StatusDSC
			c.errorReg = ErrBBK
			c.state = StateIdleReady
			c.raiseIRQ()
			return
		}
		c.remainingSectors--
		c.pendingLBA++
		if c.remainingSectors > 0 {
			c.state = StateDataRequestOut
			c.bufPos = 0
			c.status = StatusDRDY | StatusDRQ
		} else {
			c.state = StateIdleReady
			c.status = StatusDRDY | StatusDSC
			c.raiseIRQ()
		}
	case c.activeCmd == CmdVerifySectors || c.activeCmd == CmdVerifySectorsNR:
		discard := make([]byte, c.remainingSectors*SectorSize)
		n := c.disk.ReadSectors(0, c.pendingLBA, c.remainingSectors, discard)
		if n < 0 {
			c.status = StatusErr | StatusDRDY | StatusDSC
			c.errorReg = ErrBBK
		} else {
			c.status = StatusDRDY | StatusDSC
		}
		c.state = StateIdleReady
		c.raiseIRQ()
	case isWriteCommand(c.activeCmd):
		c.state = StateDataRequestOut
		c.bufPos = 0
		c.status = StatusDRDY | StatusDRQ
	case c.activeCmd == CmdReadSectors || c.activeCmd == CmdReadSectorsNR:
		n := c.disk.ReadSectors(0, c.pendingLBA, 1, c.buffer[:])
		if n < 0 {
			c.status = StatusErr | StatusDRDY | StatusDSC
			c.errorReg = ErrBBK
			c.state = StateIdleReady
			c.raiseIRQ()
			return
		}
		if n == 0 {
			for i := range c.buffer {
				c.buffer[i] = 0
			}
		}
		c.state = StateDataRequestIn
		c.bufPos = 0
		c.status = StatusDRDY | StatusDRQ
		c.raiseIRQ()
	default: // bare seek
		c.state = StateIdleReady
		c.status = StatusDRDY | StatusDSC
		c.raiseIRQ()
	}
}

func (c *Controller) onBufferDrained() {
	switch c.state {
	case StateDataRequestIn:
		c.remainingSectors--
		c.pendingLBA++
		if c.remainingSectors > 0 {
			c.state = StateBusy
			c.status = StatusBSY
			c.sched.Arm(c.doneEvent, c.cfg.TransferTicksPerSector, 0)
		} else {
			c.state = StateIdleReady
			c.status = StatusDRDY | StatusDSC
			c.raiseIRQ()
		}
	case StateDataRequestOut:
		// Charge the media-write delay now that the host has actually
		// supplied the sector, then reuse doneEvent/commandComplete to
		// either request the next block or finish.
		c.state = StateBusy
		c.status = StatusBSY
		c.pendingWrite = true
		c.sched.Arm(c.doneEvent, c.cfg.TransferTicksPerSector, 0)
	}
}

func (c *Controller) raiseIRQ() {
	if c.controlReg&0x02 != 0 { // nIEN set: interrupts disabled
		return
	}
	c.irq.Raise(c.cfg.IRQLine, interrupt.Edge)
}

func (c *Controller) lowerIRQ() {
	c.irq.Ack(c.cfg.IRQLine)
}

func (c *Controller) fillIdentify() {
	for i := range c.buffer {
		c.buffer[i] = 0
	}
	putWord := func(offset int, v uint16) {
		c.buffer[offset*2] = byte(v)
		c.buffer[offset*2+1] = byte(v >> 8)
	}
	putWord(1, uint16(c.cfg.Logical.Cylinders))
	putWord(3, uint16(c.cfg.Logical.Heads))
	putWord(6, uint16(c.cfg.Logical.SectorsPerTrack))
	putSwappedString(c.buffer[20:30], c.cfg.SerialNumber)
	putSwappedString(c.buffer[46:54], c.cfg.FirmwareRev)
	putSwappedString(c.buffer[54:94], c.cfg.ModelString)
}

// putSwappedString writes s into dst as the IDE Identify string convention:
// ASCII bytes in big-endian pairs (§6 "model string (swapped pairs)").
func putSwappedString(dst []byte, s string) {
	for i := 0; i < len(dst); i += 2 {
		var a, b byte = ' ', ' '
		if i < len(s) {
			a = s[i]
		}
		if i+1 < len(s) {
			b = s[i+1]
		}
		dst[i] = b
		dst[i+1] = a
	}
}
