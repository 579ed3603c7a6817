// Package dma implements the classic two-cascaded 8237-style DMA
// controller (§4.4): one 8-bit controller for channels 0-3, one 16-bit
// controller for channels 4-7, sharing the address/count flip-flop and
// page-register conventions of the original AT. Device owners drive
// transfers through ChannelRead/ChannelWrite rather than touching the
// legacy port registers directly; bus-master-capable devices (AC'97, IDE
// bus-master, PAS) bypass both controllers entirely via DirectRead/
// DirectWrite against the same physical memory.
package dma

import (
	"sync"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/errkind"
)

// Channel holds one 8237 channel's programmable and live state.
type Channel struct {
	baseAddr, baseCount       uint16
	currentAddr, currentCount uint16
	page                      byte
	mode                      byte
	masked                    bool
	requestPending            bool
	terminalCount             bool
}

func (c *Channel) transferType() byte {
	return (c.mode & ModeTransferMask) >> 2
}

func (c *Channel) autoInit() bool    { return c.mode&ModeAutoInit != 0 }
func (c *Channel) addressDown() bool { return c.mode&ModeAddressDown != 0 }

func (c *Channel) reload() {
	c.currentAddr = c.baseAddr
	c.currentCount = c.baseCount
	c.terminalCount = false
}

// Controller is one half of the cascaded pair: either the 8-bit primary
// (channels 0-3) or the 16-bit secondary (channels 4-7).
type Controller struct {
	channels   [4]Channel
	flipFlop   bool
	statusTC   byte // terminal-count flags per channel, cleared on status read
	commandReg byte

	// widthBytes is 1 for the 8-bit controller, 2 for the 16-bit one: it
	// scales currentAddr into a byte offset and sets the page wraparound
	// size (64 KiB vs 128 KiB, §4.4).
	widthBytes uint32

	mem *bus.MemBus
}

func newController(widthBytes uint32, mem *bus.MemBus) *Controller {
	c := &Controller{widthBytes: widthBytes, mem: mem}
	c.masterClear()
	return c
}

func (c *Controller) masterClear() {
	for i := range c.channels {
		c.channels[i] = Channel{masked: true}
	}
	c.flipFlop = false
	c.statusTC = 0
	c.commandReg = 0
}

func (c *Controller) physicalAddress(ch int) uint32 {
	ck := &c.channels[ch]
	wrap := uint32(0x10000) * c.widthBytes
	offset := (uint32(ck.currentAddr) * c.widthBytes) % wrap
	return uint32(ck.page)<<16 + offset
}

// advance steps ch's current address and count; when current-count rolls
// below zero it flags terminal count and either reloads the channel
// (auto-init) or masks it.
func (c *Controller) advance(ch int) {
	ck := &c.channels[ch]
	if ck.addressDown() {
		ck.currentAddr--
	} else {
		ck.currentAddr++
	}
	if ck.currentCount == 0 {
		if ck.autoInit() {
			ck.reload()
		} else {
			ck.masked = true
		}
		ck.terminalCount = true
		c.statusTC |= 1 << uint(ch)
		return
	}
	ck.currentCount--
}

// ChannelRead returns the next byte the controller fetches from memory on
// behalf of a memory-to-device ("read") transfer on ch, and advances the
// channel. The returned ok is false once the channel is masked or has no
// count remaining.
func (c *Controller) ChannelRead(ch int) (b byte, ok bool) {
	ck := &c.channels[ch]
	if ck.masked {
		return 0xFF, false
	}
	addr := c.physicalAddress(ch)
	b = c.mem.ReadByte(addr)
	c.advance(ch)
	return b, true
}

// ChannelWrite stores b into memory for a device-to-memory ("write")
// transfer on ch, and advances the channel.
func (c *Controller) ChannelWrite(ch int, b byte) (ok bool) {
	ck := &c.channels[ch]
	if ck.masked {
		return false
	}
	addr := c.physicalAddress(ch)
	c.mem.WriteByte(addr, b)
	c.advance(ch)
	return true
}

// TerminalCount reports and clears ch's pending terminal-count flag.
func (c *Controller) TerminalCount(ch int) bool {
	was := c.channels[ch].terminalCount
	c.channels[ch].terminalCount = false
	return was
}

func (c *Controller) handleChannelPort(ports [4][2]uint16, port uint16, direction uint8, data []byte) (handled bool) {
	for ch, pair := range ports {
		switch port {
		case pair[0]: // address register
			c.handleFlipFlopReg(&c.channels[ch].baseAddr, direction, data)
			c.channels[ch].currentAddr = c.channels[ch].baseAddr
			return true
		case pair[1]: // count register
			c.handleFlipFlopReg(&c.channels[ch].baseCount, direction, data)
			c.channels[ch].currentCount = c.channels[ch].baseCount
			return true
		}
	}
	return false
}

func (c *Controller) handleFlipFlopReg(reg *uint16, direction uint8, data []byte) {
	if direction == bus.DirectionOut {
		if !c.flipFlop {
			*reg = (*reg &^ 0x00FF) | uint16(data[0])
		} else {
			*reg = (*reg & 0x00FF) | uint16(data[0])<<8
		}
		c.flipFlop = !c.flipFlop
		return
	}
	if !c.flipFlop {
		data[0] = byte(*reg)
	} else {
		data[0] = byte(*reg >> 8)
	}
	c.flipFlop = !c.flipFlop
}

func (c *Controller) handlePagePort(ports [4]uint16, port uint16, direction uint8, data []byte) (handled bool) {
	for ch, p := range ports {
		if p != port {
			continue
		}
		if direction == bus.DirectionOut {
			c.channels[ch].page = data[0]
		} else {
			data[0] = c.channels[ch].page
		}
		return true
	}
	return false
}

// DMA is the cascaded pair exposed to the bus: a single device aggregating
// two identical controllers, one master and one slave, the way the ISA
// 8237 pair is cascaded in a real AT-class machine.
type DMA struct {
	Primary, Secondary *Controller
	lock               sync.Mutex
	Debug              bool
}

// New creates a DMA controller pair backed by mem for legacy-mediated
// transfers.
func New(mem *bus.MemBus) *DMA {
	return &DMA{
		Primary:   newController(1, mem),
		Secondary: newController(2, mem),
	}
}

// HandleIO dispatches one I/O access to whichever controller owns port.
func (d *DMA) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if size != 1 {
		return errkind.Protocolf("dma", "I/O size %d not supported for port %#x", size, port)
	}

	if d.Primary.handleChannelPort(primaryChannelPorts, port, direction, data) {
		return nil
	}
	if d.Secondary.handleChannelPort(secondaryChannelPorts, port, direction, data) {
		return nil
	}
	if d.Primary.handlePagePort(primaryPagePorts, port, direction, data) {
		return nil
	}
	if d.Secondary.handlePagePort(secondaryPagePorts, port, direction, data) {
		return nil
	}

	switch port {
	case PrimaryStatusCmdPort:
		d.handleStatusCmd(d.Primary, direction, data)
	case SecondaryStatusCmdPort:
		d.handleStatusCmd(d.Secondary, direction, data)
	case PrimarySingleMaskPort:
		handleSingleMask(d.Primary, direction, data)
	case SecondarySingleMaskPort:
		handleSingleMask(d.Secondary, direction, data)
	case PrimaryAllMaskPort:
		handleAllMask(d.Primary, direction, data)
	case SecondaryAllMaskPort:
		handleAllMask(d.Secondary, direction, data)
	case PrimaryModePort:
		handleMode(d.Primary, direction, data)
	case SecondaryModePort:
		handleMode(d.Secondary, direction, data)
	case PrimaryClearFFPort:
		if direction == bus.DirectionOut {
			d.Primary.flipFlop = false
		}
	case SecondaryClearFFPort:
		if direction == bus.DirectionOut {
			d.Secondary.flipFlop = false
		}
	case PrimaryMasterClear:
		if direction == bus.DirectionOut {
			d.Primary.masterClear()
		}
	case SecondaryMasterClear:
		if direction == bus.DirectionOut {
			d.Secondary.masterClear()
		}
	case PrimaryClearMaskPort, SecondaryClearMaskPort, PrimaryRequestPort, SecondaryRequestPort:
		// Accepted but inert: no device in this core issues software DMA
		// requests or relies on per-channel clear-mask addressing.
	default:
		return errkind.Protocolf("dma", "unhandled I/O to port %#x", port)
	}
	return nil
}

func (d *DMA) handleStatusCmd(c *Controller, direction uint8, data []byte) {
	if direction == bus.DirectionOut {
		c.commandReg = data[0]
		return
	}
	data[0] = c.statusTC
	c.statusTC = 0
}

func handleSingleMask(c *Controller, direction uint8, data []byte) {
	if direction != bus.DirectionOut {
		return
	}
	ch := int(data[0] & ModeChannelMask)
	c.channels[ch].masked = data[0]&0x04 != 0
}

func handleAllMask(c *Controller, direction uint8, data []byte) {
	if direction == bus.DirectionOut {
		for i := range c.channels {
			c.channels[i].masked = data[0]&(1<<uint(i)) != 0
		}
		return
	}
	var v byte
	for i := range c.channels {
		if c.channels[i].masked {
			v |= 1 << uint(i)
		}
	}
	data[0] = v
}

func handleMode(c *Controller, direction uint8, data []byte) {
	if direction != bus.DirectionOut {
		return
	}
	ch := int(data[0] & ModeChannelMask)
	c.channels[ch].mode = data[0] &^ ModeChannelMask
}

// DirectRead/DirectWrite give bus-master-capable devices (AC'97, IDE
// bus-master, PAS) a path straight to physical memory with no legacy
// controller mediation (§4.4).
func DirectRead(mem *bus.MemBus, addr uint32, dst []byte) {
	mem.ReadBytes(addr, dst)
}

func DirectWrite(mem *bus.MemBus, addr uint32, src []byte) {
	mem.WriteBytes(addr, src)
}
