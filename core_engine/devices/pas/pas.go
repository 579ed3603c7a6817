// Package pas implements a Pro Audio Spectrum style DMA audio engine
// (§4.11): a pair of internal PIT-clocked counters, one setting the sample
// cadence and the other counting down to a terminal-count interrupt, and a
// compat-SB window whose steering register selects IRQ/DMA visibility
// through a fixed indirection table rather than encoding the line directly.
package pas

import (
	"sync"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
	"github.com/v-architect/pcbus-core/core_engine/dma"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
	"github.com/v-architect/pcbus-core/core_engine/sinks"
)

// Config describes the card's relocatable base and the collaborators it
// needs to fetch samples and deliver interrupts.
type Config struct {
	Base    uint16 // CRTC/mixer/DMA window base; hardware default 0x388 + 0xB8x
	IRQLine uint8

	// TicksPerPITCycle converts one native 1.193180 MHz clock cycle into
	// virtual scheduler ticks.
	TicksPerPITCycle int64
	// PrescaleFactor is how much the native-mode prescale bit divides the
	// PIT input clock by.
	PrescaleFactor int64
}

// Controller is the PAS DMA/timer engine.
type Controller struct {
	lock sync.Mutex

	cfg   Config
	sched *event.Scheduler
	mem   *bus.MemBus
	irq   *interrupt.Aggregator
	audio sinks.AudioSink

	ctrl       byte
	status     byte
	irqEnable  byte
	compat     byte
	compatBase byte
	sbIRQDMA   byte

	sampleRateReload uint16
	sampleCntReload  uint16
	sampleCntCurrent uint16

	guestAddr uint32
	tickOwner int64
	tickEvent event.Handle
	parity    int // 0 = next sample goes left, 1 = right

	Debug bool
}

// New builds a Controller with its sample-tick event disarmed.
func New(cfg Config, sched *event.Scheduler, mem *bus.MemBus, irq *interrupt.Aggregator, audio sinks.AudioSink) *Controller {
	if cfg.TicksPerPITCycle == 0 {
		cfg.TicksPerPITCycle = 1
	}
	if cfg.PrescaleFactor == 0 {
		cfg.PrescaleFactor = 4
	}
	c := &Controller{cfg: cfg, sched: sched, mem: mem, irq: irq, audio: audio}
	c.tickOwner = sched.NewOwner()
	c.tickEvent = sched.New(c.tickOwner, func(int) { c.sampleTick() })
	return c
}

func (c *Controller) Metadata() device.Metadata {
	return device.Metadata{Name: "pas", Version: "pas16-style"}
}

func (c *Controller) Create() error { return nil }
func (c *Controller) Tick()         {}

func (c *Controller) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sched.Disarm(c.tickEvent)
}

func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sched.Disarm(c.tickEvent)
	c.ctrl, c.status, c.irqEnable, c.compat, c.compatBase, c.sbIRQDMA = 0, 0, 0, 0, 0, 0
	c.sampleRateReload, c.sampleCntReload, c.sampleCntCurrent = 0, 0, 0
	c.guestAddr = 0
	c.parity = 0
}

// HandleIO dispatches the 16-byte CRTC/mixer/DMA register window.
func (c *Controller) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if port < c.cfg.Base || port >= c.cfg.Base+windowSize {
		return nil
	}
	off := int(port - c.cfg.Base)
	if direction == bus.DirectionOut {
		c.writeRegLocked(off, size, data)
	} else {
		c.readRegLocked(off, size, data)
	}
	return nil
}

func (c *Controller) writeRegLocked(off int, size uint8, data []byte) {
	switch off {
	case RegControl:
		wasRunning := c.ctrl&CtrlRun != 0
		c.ctrl = data[0]
		if c.ctrl&CtrlRun != 0 && !wasRunning {
			c.sampleCntCurrent = c.sampleCntReload
			c.parity = 0
			c.armNextTickLocked()
		} else if c.ctrl&CtrlRun == 0 {
			c.sched.Disarm(c.tickEvent)
		}
	case RegStatus:
		c.status &^= data[0]
	case RegIRQEnable:
		c.irqEnable = data[0]
	case RegCompat:
		c.compat = data[0] & 0xf3
	case RegSampleRateLo:
		c.sampleRateReload = (c.sampleRateReload & 0xFF00) | uint16(data[0])
	case RegSampleRateHi:
		c.sampleRateReload = (c.sampleRateReload & 0x00FF) | uint16(data[0])<<8
	case RegSampleCntLo:
		c.sampleCntReload = (c.sampleCntReload & 0xFF00) | uint16(data[0])
	case RegSampleCntHi:
		c.sampleCntReload = (c.sampleCntReload & 0x00FF) | uint16(data[0])<<8
	case RegGuestAddr0, RegGuestAddr0 + 1, RegGuestAddr0 + 2, RegGuestAddr0 + 3:
		shift := uint(8 * (off - RegGuestAddr0))
		c.guestAddr = (c.guestAddr &^ (0xFF << shift)) | uint32(data[0])<<shift
	case RegSBIRQDMA:
		c.sbIRQDMA = data[0]
	case RegCompatBase:
		c.compatBase = data[0]
	}
}

func (c *Controller) readRegLocked(off int, size uint8, data []byte) {
	switch off {
	case RegControl:
		data[0] = c.ctrl
	case RegStatus:
		data[0] = c.status
	case RegIRQEnable:
		data[0] = c.irqEnable
	case RegCompat:
		data[0] = c.compat
	case RegSampleRateLo:
		data[0] = byte(c.sampleRateReload)
	case RegSampleRateHi:
		data[0] = byte(c.sampleRateReload >> 8)
	case RegSampleCntLo:
		data[0] = byte(c.sampleCntCurrent)
	case RegSampleCntHi:
		data[0] = byte(c.sampleCntCurrent >> 8)
	case RegGuestAddr0, RegGuestAddr0 + 1, RegGuestAddr0 + 2, RegGuestAddr0 + 3:
		shift := uint(8 * (off - RegGuestAddr0))
		data[0] = byte(c.guestAddr >> shift)
	case RegSBIRQDMA:
		data[0] = c.sbIRQDMA
	case RegCompatBase:
		data[0] = c.compatBase
	}
}

// armNextTickLocked schedules the next sample tick at the programmed
// sample-rate period, honouring the prescaler bit for native mode.
func (c *Controller) armNextTickLocked() {
	divisor := int64(c.sampleRateReload)
	if divisor == 0 {
		divisor = 1
	}
	period := divisor * c.cfg.TicksPerPITCycle
	if c.ctrl&CtrlPrescale != 0 {
		period *= c.cfg.PrescaleFactor
	}
	c.sched.Arm(c.tickEvent, period, 0)
}

// sampleTick fires once per sample period: it pulls one (8-bit) or two
// (16-bit) bytes from guest memory, alternates stereo channels on
// successive ticks, and counts the sample down toward terminal count.
func (c *Controller) sampleTick() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.ctrl&CtrlRun == 0 {
		return
	}

	bytesPerTick := uint32(1)
	if c.ctrl&Ctrl16Bit != 0 {
		bytesPerTick = 2
	}
	buf := make([]byte, bytesPerTick)
	dma.DirectRead(c.mem, c.guestAddr, buf)
	c.guestAddr += bytesPerTick

	var sample int16
	if bytesPerTick == 2 {
		sample = int16(uint16(buf[0]) | uint16(buf[1])<<8)
	} else {
		sample = (int16(buf[0]) - 128) << 8
	}

	var left, right int16
	if c.ctrl&CtrlStereo == 0 {
		left, right = sample, sample
	} else if c.parity == 0 {
		left = sample
	} else {
		right = sample
	}
	c.parity ^= 1
	if c.audio != nil {
		c.audio.MixBuffer([]int16{left, right})
	}

	if c.sampleCntCurrent > 0 {
		c.sampleCntCurrent--
	}
	if c.sampleCntCurrent == 0 {
		c.status |= StatusTerminalCount
		if c.irqEnable != 0 && c.irq != nil {
			c.irq.Raise(c.cfg.IRQLine, interrupt.Edge)
		}
		c.sampleCntCurrent = c.sampleCntReload
	}

	c.armNextTickLocked()
}

// SBDSPIRQ returns the ISA IRQ line currently steered to the compat-SB DSP
// personality, resolved through the fixed indirection table.
func (c *Controller) SBDSPIRQ() uint8 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return sbIRQTable[(c.sbIRQDMA>>3)&7]
}

// MPUIRQ returns the ISA IRQ line steered to the compat MPU-401 personality.
func (c *Controller) MPUIRQ() uint8 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return sbIRQTable[c.sbIRQDMA&7]
}

// SBCompatBase returns the I/O port base the compat-SB DSP window aliases
// to, per the original's ((compat_base & 0xf) << 4) | 0x200 formula.
func (c *Controller) SBCompatBase() uint16 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return (uint16(c.compatBase)&0xf)<<4 | 0x200
}

// Status exposes the raw status register for tests.
func (c *Controller) Status() byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.status
}
