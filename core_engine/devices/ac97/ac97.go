// Package ac97 implements a VIA-style AC'97 DMA audio engine (§4.10): a
// scatter-gather buffer descriptor list fetched from guest memory over
// DirectRead, a small per-channel FIFO, and two independently clocked
// processes — a DMA process that keeps the FIFO filled and a poll process
// that drains it into the mixed output sink.
package ac97

import (
	"math"
	"sync"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
	"github.com/v-architect/pcbus-core/core_engine/dma"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
	"github.com/v-architect/pcbus-core/core_engine/sinks"
)

// Config describes the controller's two 256-byte I/O windows and its
// guest-memory/interrupt/audio-output collaborators.
type Config struct {
	SGDPort, CodecPort uint16
	NumChannels        int
	IRQLine            uint8

	// DMAPeriodTicks is how often the DMA process runs, in virtual ticks.
	DMAPeriodTicks int64
	// SamplePeriodTicks is how often the poll process pops a frame.
	SamplePeriodTicks int64
}

// Channel is one PCM output stream's scatter-gather state.
type Channel struct {
	bdbar uint32
	civ   byte
	lvi   byte
	sr    uint16
	cr    byte

	entryAddr      uint32
	entryRemaining uint32
	entryFlags     byte
	haveEntry      bool

	fifo []byte

	volL, volR byte
	consumed   uint32

	dmaHandle  event.Handle
	pollHandle event.Handle
}

// Controller is the AC'97 DMA engine.
type Controller struct {
	lock sync.Mutex

	cfg   Config
	sched *event.Scheduler
	mem   *bus.MemBus
	irq   *interrupt.Aggregator
	audio sinks.AudioSink
	owner int64

	channels []Channel
	attenGain [attenSteps]float64

	Debug bool
}

// New builds a Controller with its volume-attenuation table precomputed.
func New(cfg Config, sched *event.Scheduler, mem *bus.MemBus, irq *interrupt.Aggregator, audio sinks.AudioSink) *Controller {
	if cfg.NumChannels == 0 {
		cfg.NumChannels = 1
	}
	if cfg.DMAPeriodTicks == 0 {
		cfg.DMAPeriodTicks = 1
	}
	if cfg.SamplePeriodTicks == 0 {
		cfg.SamplePeriodTicks = 1
	}
	c := &Controller{
		cfg:      cfg,
		sched:    sched,
		mem:      mem,
		irq:      irq,
		audio:    audio,
		channels: make([]Channel, cfg.NumChannels),
	}
	computeAttenuation(&c.attenGain)
	c.owner = sched.NewOwner()
	for i := range c.channels {
		ch := &c.channels[i]
		idx := i
		ch.fifo = make([]byte, 0, fifoCap)
		ch.dmaHandle = sched.New(c.owner, func(int) { c.dmaProcess(idx) })
		ch.pollHandle = sched.New(c.owner, func(int) { c.pollProcess(idx) })
	}
	return c
}

func (c *Controller) Metadata() device.Metadata {
	return device.Metadata{Name: "ac97", Version: "via-style"}
}

func (c *Controller) Create() error { return nil }
func (c *Controller) Tick()         {}

func (c *Controller) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i := range c.channels {
		c.sched.Disarm(c.channels[i].dmaHandle)
		c.sched.Disarm(c.channels[i].pollHandle)
	}
}

func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i := range c.channels {
		ch := &c.channels[i]
		c.sched.Disarm(ch.dmaHandle)
		c.sched.Disarm(ch.pollHandle)
		ch.bdbar, ch.civ, ch.lvi, ch.sr, ch.cr = 0, 0, 0, 0, 0
		ch.entryAddr, ch.entryRemaining, ch.entryFlags, ch.haveEntry = 0, 0, 0, false
		ch.fifo = ch.fifo[:0]
		ch.consumed = 0
	}
}

// HandleIO dispatches the SGD and codec-mixer windows.
func (c *Controller) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if port >= c.cfg.SGDPort && port < c.cfg.SGDPort+256 {
		off := int(port - c.cfg.SGDPort)
		if off < globalBase {
			ch := off / channelStride
			reg := off % channelStride
			if ch < len(c.channels) {
				if direction == bus.DirectionOut {
					c.writeChannelRegLocked(ch, reg, size, data)
				} else {
					c.readChannelRegLocked(ch, reg, size, data)
				}
			}
		}
		return nil
	}
	if port >= c.cfg.CodecPort && port < c.cfg.CodecPort+256 {
		off := int(port - c.cfg.CodecPort)
		ch := 0
		if off/2 < len(c.channels) {
			ch = off / 2
		}
		if direction == bus.DirectionOut && size >= 2 {
			vol := data[0]
			c.channels[ch].volL = vol
			c.channels[ch].volR = vol
		} else if direction == bus.DirectionIn && size >= 2 {
			data[0] = c.channels[ch].volL
			data[1] = c.channels[ch].volR
		}
		return nil
	}
	return nil
}

func (c *Controller) writeChannelRegLocked(idx, reg int, size uint8, data []byte) {
	ch := &c.channels[idx]
	switch {
	case reg >= RegBDBAR0 && reg < RegBDBAR0+4:
		n := int(size)
		if reg+n > RegBDBAR0+4 {
			n = RegBDBAR0 + 4 - reg
		}
		for i := 0; i < n; i++ {
			shift := uint(8 * (reg - RegBDBAR0 + i))
			ch.bdbar = (ch.bdbar &^ (0xFF << shift)) | uint32(data[i])<<shift
		}
	case reg == RegCIV:
		ch.civ = data[0]
	case reg == RegLVI:
		ch.lvi = data[0]
	case reg == RegSR0:
		// sticky bits, write-one-to-clear
		ch.sr &^= uint16(data[0])
		if size >= 2 {
			ch.sr &^= uint16(data[1]) << 8
		}
	case reg == RegCR:
		wasRunning := ch.cr&CRRun != 0
		ch.cr = data[0]
		if ch.cr&CRReset != 0 {
			ch.civ = 0
			ch.haveEntry = false
			ch.fifo = ch.fifo[:0]
			ch.consumed = 0
			ch.cr &^= CRReset
		}
		if ch.cr&CRRun != 0 && !wasRunning {
			c.sched.Arm(ch.dmaHandle, c.cfg.DMAPeriodTicks, 0)
			c.sched.Arm(ch.pollHandle, c.cfg.SamplePeriodTicks, 0)
		} else if ch.cr&CRRun == 0 {
			c.sched.Disarm(ch.dmaHandle)
			c.sched.Disarm(ch.pollHandle)
		}
	}
}

func (c *Controller) readChannelRegLocked(idx, reg int, size uint8, data []byte) {
	ch := &c.channels[idx]
	switch {
	case reg >= RegBDBAR0 && reg < RegBDBAR0+4:
		n := int(size)
		if reg+n > RegBDBAR0+4 {
			n = RegBDBAR0 + 4 - reg
		}
		for i := 0; i < n; i++ {
			data[i] = byte(ch.bdbar >> uint(8*(reg-RegBDBAR0+i)))
		}
	case reg == RegCIV:
		data[0] = ch.civ
	case reg == RegLVI:
		data[0] = ch.lvi
	case reg == RegSR0:
		data[0] = byte(ch.sr)
		if size >= 2 {
			data[1] = byte(ch.sr >> 8)
		}
	case reg == RegCR:
		data[0] = ch.cr
	}
}

// dmaProcess runs once per virtual tick while the channel is running: it
// fetches the current scatter-gather entry if needed, and when the FIFO has
// room, pulls one dword from guest memory into it.
func (c *Controller) dmaProcess(idx int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	ch := &c.channels[idx]
	if ch.cr&CRRun == 0 {
		return
	}
	if !ch.haveEntry {
		if !c.fetchEntryLocked(ch) {
			return
		}
	}
	if len(ch.fifo) <= fifoCap-bytesPerDword && ch.entryRemaining > 0 {
		n := bytesPerDword
		if uint32(n) > ch.entryRemaining {
			n = int(ch.entryRemaining)
		}
		buf := make([]byte, n)
		dma.DirectRead(c.mem, ch.entryAddr, buf)
		ch.fifo = append(ch.fifo, buf...)
		ch.entryAddr += uint32(n)
		ch.entryRemaining -= uint32(n)
		ch.consumed += uint32(n)
	}
	if ch.entryRemaining == 0 {
		c.completeEntryLocked(ch)
	}
	c.sched.Arm(ch.dmaHandle, c.cfg.DMAPeriodTicks, 0)
}

// fetchEntryLocked reads the 8-byte descriptor at civ and loads it as the
// current entry. Returns false if the channel is past its last valid index.
func (c *Controller) fetchEntryLocked(ch *Channel) bool {
	if ch.civ > ch.lvi {
		c.haltLocked(ch)
		return false
	}
	entry := make([]byte, entrySize)
	addr := ch.bdbar + uint32(ch.civ)*entrySize
	dma.DirectRead(c.mem, addr, entry)
	buf := uint32(entry[0]) | uint32(entry[1])<<8 | uint32(entry[2])<<16 | uint32(entry[3])<<24
	count := uint32(entry[4]) | uint32(entry[5])<<8 | uint32(entry[6])<<16
	ch.entryAddr = buf
	ch.entryRemaining = count
	ch.entryFlags = entry[7]
	ch.haveEntry = true
	return true
}

// completeEntryLocked fires the EOL interrupt if flagged. An EOL entry
// marks the end of the descriptor list: with Stop set the channel halts,
// otherwise it loops back to the first entry and keeps running, firing the
// EOL interrupt again on every pass. An entry without EOL simply advances
// to the next descriptor, halting only if it runs past the last valid one.
func (c *Controller) completeEntryLocked(ch *Channel) {
	ch.haveEntry = false
	if ch.entryFlags&FlagEOL != 0 {
		ch.sr |= SRLVBCI
		if ch.cr&CRLVBIE != 0 && c.irq != nil {
			c.irq.Raise(c.cfg.IRQLine, interrupt.Edge)
		}
		if ch.entryFlags&FlagStop != 0 {
			c.haltLocked(ch)
			return
		}
		ch.civ = 0
		return
	}
	ch.civ++
	if ch.civ > ch.lvi {
		c.haltLocked(ch)
	}
}

func (c *Controller) haltLocked(ch *Channel) {
	ch.cr &^= CRRun
	ch.sr |= SRDCH | SRBCIS
	c.sched.Disarm(ch.dmaHandle)
	c.sched.Disarm(ch.pollHandle)
	if ch.cr&CRIOCE != 0 && c.irq != nil {
		c.irq.Raise(c.cfg.IRQLine, interrupt.Edge)
	}
}

// pollProcess runs once per sample period: it pops one dword (a stereo
// 16-bit frame) from the FIFO, applies per-channel attenuation, and mixes it.
func (c *Controller) pollProcess(idx int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	ch := &c.channels[idx]
	if ch.cr&CRRun == 0 {
		return
	}
	if len(ch.fifo) >= bytesPerDword {
		left := int16(ch.fifo[0]) | int16(ch.fifo[1])<<8
		right := int16(ch.fifo[2]) | int16(ch.fifo[3])<<8
		ch.fifo = ch.fifo[bytesPerDword:]
		gl := c.attenGain[ch.volL%attenSteps]
		gr := c.attenGain[ch.volR%attenSteps]
		frame := [2]int16{
			int16(float64(left) * gl),
			int16(float64(right) * gr),
		}
		if c.audio != nil {
			c.audio.MixBuffer(frame[:])
		}
	}
	c.sched.Arm(ch.pollHandle, c.cfg.SamplePeriodTicks, 0)
}

// BytesTransferred reports the total guest-memory bytes pulled by channel
// idx since the last reset, for diagnostics and tests.
func (c *Controller) BytesTransferred(idx int) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.channels[idx].consumed
}

// Running reports whether channel idx is still executing its descriptor
// chain.
func (c *Controller) Running(idx int) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.channels[idx].cr&CRRun != 0
}

// Status exposes the raw status register for tests.
func (c *Controller) Status(idx int) uint16 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.channels[idx].sr
}

// computeAttenuation fills gain with the linear equivalent of 0 to
// -46.5 dB in 0.375 dB steps, clamping beyond the last step (§4.10).
func computeAttenuation(gain *[attenSteps]float64) {
	for i := 0; i < attenSteps; i++ {
		db := float64(i) * attenStepDB
		if db > attenMaxDB {
			db = attenMaxDB
		}
		gain[i] = dbToLinear(-db)
	}
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20.0)
}
