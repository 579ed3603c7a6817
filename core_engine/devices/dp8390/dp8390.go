// Package dp8390 implements the DP8390-family Ethernet controller (§4.8):
// a paged register file, a circular receive ring living in device RAM, a
// synchronous transmit path, and host-visible remote-DMA PIO.
package dp8390

import (
	"hash/crc32"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
	"github.com/v-architect/pcbus-core/core_engine/errkind"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
	"github.com/v-architect/pcbus-core/core_engine/sinks"
)

// Config carries construction-time parameters for one controller.
type Config struct {
	BasePort uint16
	IRQLine  uint8
	MAC      [6]byte
}

// Controller is one DP8390-compatible network interface.
type Controller struct {
	lock sync.Mutex

	cfg Config
	net sinks.NetworkSink
	irq *interrupt.Aggregator

	ram [64 * 1024]byte

	cr, isr, imr, dcr, tcr, rcr byte
	tpsr, tbcr0, tbcr1          byte
	rsar0, rsar1, rbcr0, rbcr1 byte
	pstart, pstop, bnry, curr  byte
	mar                        [8]byte

	dmaCount int

	ethParser  *gopacket.DecodingLayerParser
	ethLayer   layers.Ethernet
	decodedLayers []gopacket.LayerType

	Debug bool
}

// New creates a controller wired to net for frame transmit/receive and irq
// for interrupt delivery. It registers itself as net's receiver.
func New(cfg Config, net sinks.NetworkSink, irq *interrupt.Aggregator) *Controller {
	c := &Controller{cfg: cfg, net: net, irq: irq}
	c.ethParser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &c.ethLayer)
	c.resetLocked()
	if net != nil {
		net.SetReceiver(c.DeliverFrame)
	}
	return c
}

func (c *Controller) Metadata() device.Metadata { return device.Metadata{Name: "dp8390"} }
func (c *Controller) Create() error              { return nil }
func (c *Controller) Tick()                      {}
func (c *Controller) Close()                     { c.Reset() }

func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.cr = CRStop
	c.isr = ISRRST
	c.imr = 0
	c.dcr = 0
	c.tcr = 0
	c.rcr = 0
	c.pstart, c.pstop = 0x46, 0x80
	c.bnry, c.curr = c.pstart, c.pstart
	c.dmaCount = 0
	for i := range c.mar {
		c.mar[i] = 0
	}
}

func (c *Controller) currentPage() byte { return (c.cr & crPageMask) >> 6 }

func (c *Controller) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	offset := port - c.cfg.BasePort
	if offset == OffsetData {
		return c.handleRemoteDMA(direction, size, data)
	}
	if offset == OffsetReset {
		c.resetLocked()
		if direction == bus.DirectionIn {
			data[0] = 0xFF
		}
		return nil
	}
	if size != 1 {
		return errkind.Protocolf("dp8390", "I/O size %d not supported for port %#x", size, port)
	}
	switch c.currentPage() {
	case 0:
		return c.handlePage0(offset, direction, data)
	case 1:
		return c.handlePage1(offset, direction, data)
	default:
		if direction == bus.DirectionIn {
			data[0] = 0xFF
		}
		return nil
	}
}

func (c *Controller) handleRemoteDMA(direction uint8, size uint8, data []byte) error {
	byteCount := int(c.rbcr0) | int(c.rbcr1)<<8
	addr := int(c.rsar0) | int(c.rsar1)<<8
	n := int(size)
	for i := 0; i < n; i++ {
		if c.dmaCount >= byteCount {
			if direction == bus.DirectionIn {
				data[i] = 0xFF
			}
			break
		}
		ramAddr := (addr + c.dmaCount) & 0xFFFF
		if direction == bus.DirectionOut {
			c.ram[ramAddr] = data[i]
		} else {
			data[i] = c.ram[ramAddr]
		}
		c.dmaCount++
	}
	if c.dmaCount >= byteCount {
		c.isr |= ISRRDC
		c.dmaCount = 0
		c.updateIRQ()
	}
	return nil
}

func (c *Controller) handlePage0(offset uint16, direction uint8, data []byte) error {
	out := direction == bus.DirectionOut
	switch offset {
	case RegCR:
		if out {
			c.cr = data[0]
			c.processCommand()
		} else {
			data[0] = c.cr
		}
	case RegPSTART:
		if out {
			c.pstart = data[0]
		} else {
			data[0] = c.pstart
		}
	case RegPSTOP:
		if out {
			c.pstop = data[0]
		} else {
			data[0] = c.pstop
		}
	case RegBNRY:
		if out {
			c.bnry = data[0]
		} else {
			data[0] = c.bnry
		}
	case RegTPSR:
		if out {
			c.tpsr = data[0]
		} else {
			data[0] = c.tpsr
		}
	case RegTBCR0:
		if out {
			c.tbcr0 = data[0]
		} else {
			data[0] = c.tbcr0
		}
	case RegTBCR1:
		if out {
			c.tbcr1 = data[0]
		} else {
			data[0] = c.tbcr1
		}
	case RegISR:
		if out {
			ack := data[0]
			c.isr &^= ack
			c.updateIRQ()
		} else {
			data[0] = c.isr
		}
	case RegRSAR0:
		if out {
			c.rsar0 = data[0]
		} else {
			data[0] = c.rsar0
		}
	case RegRSAR1:
		if out {
			c.rsar1 = data[0]
		} else {
			data[0] = c.rsar1
		}
	case RegRBCR0:
		if out {
			c.rbcr0 = data[0]
		} else {
			data[0] = c.rbcr0
		}
	case RegRBCR1:
		if out {
			c.rbcr1 = data[0]
		} else {
			data[0] = c.rbcr1
		}
	case RegRCR:
		if out {
			c.rcr = data[0]
		} else {
			data[0] = c.rcr
		}
	case RegTCR:
		if out {
			c.tcr = data[0]
		} else {
			data[0] = c.tcr
		}
	case RegDCR:
		if out {
			c.dcr = data[0]
		} else {
			data[0] = c.dcr
		}
	case RegIMR:
		if out {
			c.imr = data[0]
			c.updateIRQ()
		} else {
			data[0] = c.imr
		}
	default:
		if !out {
			data[0] = 0xFF
		}
	}
	return nil
}

func (c *Controller) handlePage1(offset uint16, direction uint8, data []byte) error {
	out := direction == bus.DirectionOut
	switch {
	case offset == RegCR:
		if out {
			c.cr = data[0]
			c.processCommand()
		} else {
			data[0] = c.cr
		}
	case offset >= RegPAR0 && offset <= RegPAR5:
		idx := offset - RegPAR0
		if out {
			c.cfg.MAC[idx] = data[0]
		} else {
			data[0] = c.cfg.MAC[idx]
		}
	case offset == RegCURR:
		if !out {
			data[0] = c.curr
		}
	case offset >= RegMAR0 && offset <= RegMAR7:
		idx := offset - RegMAR0
		if out {
			c.mar[idx] = data[0]
		} else {
			data[0] = c.mar[idx]
		}
	default:
		if !out {
			data[0] = 0xFF
		}
	}
	return nil
}

func (c *Controller) processCommand() {
	if c.cr&CRStop != 0 {
		c.isr |= ISRRST
		c.cr &^= CRTXP
		c.dmaCount = 0
		c.updateIRQ()
		return
	}
	c.isr &^= ISRRST
	if c.cr&CRTXP != 0 {
		c.doTransmit()
		c.cr &^= CRTXP
	}
	if c.cr&(CRRD0|CRRD1|CRRD2) == (CRRD0 | CRRD1 | CRRD2) {
		// abort remote DMA (CRRD2 alone would also mean abort; the
		// three-bit combination here matches the house convention of
		// a deliberate "abort/complete" code rather than a transfer mode)
		c.cr &^= (CRRD0 | CRRD1 | CRRD2)
		c.dmaCount = 0
	}
	c.updateIRQ()
}

func (c *Controller) doTransmit() {
	count := int(c.tbcr0) | int(c.tbcr1)<<8
	if count == 0 {
		return
	}
	start := int(c.tpsr) * pageSize
	end := start + count
	if end > len(c.ram) {
		c.isr |= ISRTXE
		c.updateIRQ()
		return
	}
	frame := make([]byte, count)
	copy(frame, c.ram[start:end])

	if c.tcr&loopbackMask != 0 {
		c.acceptFrame(frame)
		c.isr |= ISRPTX
		c.updateIRQ()
		return
	}
	if c.net != nil {
		if err := c.net.Transmit(frame); err != nil {
			c.isr |= ISRTXE
			c.updateIRQ()
			return
		}
	}
	c.isr |= ISRPTX
	c.updateIRQ()
}

// DeliverFrame is the sinks.NetworkSink receiver callback: it runs the
// ring-buffer acceptance and insertion logic for one inbound frame.
func (c *Controller) DeliverFrame(frame []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.acceptFrame(frame)
}

func (c *Controller) acceptFrame(frame []byte) {
	if len(frame) < minFrameLen {
		if c.rcr&RCRAR == 0 {
			return
		}
	}
	if !c.filterAccepts(frame) {
		return
	}
	payload := frame
	if len(payload) < minFrameLen {
		padded := make([]byte, minFrameLen)
		copy(padded, payload)
		payload = padded
	}
	if len(payload) > maxFrameLen {
		c.isr |= ISRRXE
		c.updateIRQ()
		return
	}

	total := len(payload) + ringHeaderSize
	pagesNeeded := byte((total + pageSize - 1) / pageSize)

	if c.curr < c.pstart || c.curr >= c.pstop {
		c.curr = c.pstart
	}
	next := c.curr + pagesNeeded
	if next >= c.pstop {
		next = c.pstart + (next - c.pstop)
	}
	if next == c.bnry {
		c.isr |= ISROVW
		c.updateIRQ()
		return
	}

	headerOff := int(c.curr) * pageSize
	c.ram[headerOff+0] = RSRPRX
	c.ram[headerOff+1] = next
	c.ram[headerOff+2] = byte(total)
	c.ram[headerOff+3] = byte(total >> 8)
	writeOff := headerOff + ringHeaderSize
	copied := 0
	for copied < len(payload) {
		if writeOff >= int(c.pstop)*pageSize {
			writeOff = int(c.pstart) * pageSize
		}
		pageEnd := (writeOff/pageSize)*pageSize + pageSize
		room := pageEnd - writeOff
		n := len(payload) - copied
		if n > room {
			n = room
		}
		copy(c.ram[writeOff:writeOff+n], payload[copied:copied+n])
		writeOff += n
		copied += n
	}
	c.curr = next
	c.isr |= ISRPRX
	c.updateIRQ()
}

func (c *Controller) filterAccepts(frame []byte) bool {
	if c.rcr&RCRPRM != 0 {
		return true
	}
	dst, ok := c.decodeDestMAC(frame)
	if !ok {
		return false
	}
	if isBroadcast(dst) {
		return c.rcr&RCRAB != 0
	}
	if dst[0]&0x01 != 0 {
		if c.rcr&RCRAM == 0 {
			return false
		}
		return c.multicastHashMatch(dst)
	}
	return dst[0] == c.cfg.MAC[0] && dst[1] == c.cfg.MAC[1] && dst[2] == c.cfg.MAC[2] &&
		dst[3] == c.cfg.MAC[3] && dst[4] == c.cfg.MAC[4] && dst[5] == c.cfg.MAC[5]
}

func isBroadcast(mac []byte) bool {
	for _, b := range mac {
		if b != 0xFF {
			return false
		}
	}
	return true
}

// multicastHashMatch implements §4.8's "CRC-32 over the destination MAC,
// taking the top 6 bits" filter index into the 64-bit mar filter.
func (c *Controller) multicastHashMatch(dst []byte) bool {
	sum := crc32.ChecksumIEEE(dst)
	idx := sum >> 26
	return c.mar[idx/8]&(1<<(idx%8)) != 0
}

func (c *Controller) updateIRQ() {
	if c.isr&c.imr != 0 {
		c.irq.Raise(c.cfg.IRQLine, interrupt.Level)
	} else {
		c.irq.Clear(c.cfg.IRQLine)
	}
}

// decodeDestMAC uses the gopacket Ethernet layer to pull the destination
// address out of a raw frame, matching the decoding-layer-parser style the
// host bridge capture path uses.
func (c *Controller) decodeDestMAC(frame []byte) ([]byte, bool) {
	c.decodedLayers = c.decodedLayers[:0]
	if err := c.ethParser.DecodeLayers(frame, &c.decodedLayers); err != nil {
		if _, ok := err.(gopacket.UnsupportedLayerType); !ok {
			return nil, false
		}
	}
	for _, lt := range c.decodedLayers {
		if lt == layers.LayerTypeEthernet {
			return []byte(c.ethLayer.DstMAC), true
		}
	}
	return nil, false
}
