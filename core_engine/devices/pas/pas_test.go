package pas_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/devices/pas"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
	"github.com/v-architect/pcbus-core/core_engine/timebase"
)

type capturingAudio struct {
	frames [][2]int16
}

func (a *capturingAudio) MixBuffer(samples []int16) {
	a.frames = append(a.frames, [2]int16{samples[0], samples[1]})
}

func installRAM(mem *bus.MemBus, size uint32) []byte {
	ram := make([]byte, size)
	mem.Install(0, size, bus.Handlers{
		ReadByte:  func(addr uint32) uint8 { return ram[addr] },
		WriteByte: func(addr uint32, v uint8) { ram[addr] = v },
	})
	return ram
}

func writeReg(t *testing.T, c *pas.Controller, base uint16, off int, val byte) {
	t.Helper()
	if err := c.HandleIO(base+uint16(off), bus.DirectionOut, 1, []byte{val}); err != nil {
		t.Fatalf("write reg %#x: %v", off, err)
	}
}

func TestStereoPlaybackAlternatesChannelsAndFiresTerminalCount(t *testing.T) {
	clock := timebase.New()
	sched := event.New(clock.Now)
	agg := interrupt.New()
	mem := bus.NewMemBus()
	ram := installRAM(mem, 0x2000)
	audio := &capturingAudio{}

	const base = 0x3B8
	c := pas.New(pas.Config{Base: base, IRQLine: 5, TicksPerPITCycle: 1}, sched, mem, agg, audio)

	// 4 8-bit samples at guest address 0x100: 10, 20, 30, 40.
	for i, v := range []byte{10, 20, 30, 40} {
		ram[0x100+i] = v
	}

	writeReg(t, c, base, pas.RegGuestAddr0, 0x00)
	writeReg(t, c, base, pas.RegGuestAddr0+1, 0x01)
	writeReg(t, c, base, pas.RegSampleRateLo, 1) // one PIT cycle per sample
	writeReg(t, c, base, pas.RegSampleCntLo, 4)  // terminal count after 4 samples
	writeReg(t, c, base, pas.RegIRQEnable, 0x01)
	writeReg(t, c, base, pas.RegControl, pas.CtrlRun|pas.CtrlStereo)

	for i := 0; i < 20 && len(audio.frames) < 4; i++ {
		clock.Advance(1)
		sched.Tick()
	}

	if len(audio.frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(audio.frames))
	}
	// Stereo alternation: sample 0 -> left, sample 1 -> right, etc.
	if audio.frames[0][0] == 0 || audio.frames[0][1] != 0 {
		t.Fatalf("frame 0 = %v, want left channel populated", audio.frames[0])
	}
	if audio.frames[1][1] == 0 || audio.frames[1][0] != 0 {
		t.Fatalf("frame 1 = %v, want right channel populated", audio.frames[1])
	}
	if c.Status()&pas.StatusTerminalCount == 0 {
		t.Fatal("expected terminal-count status bit to be set after 4 samples")
	}
}

func TestSBSteeringIndirectsThroughFixedTable(t *testing.T) {
	clock := timebase.New()
	sched := event.New(clock.Now)
	agg := interrupt.New()
	mem := bus.NewMemBus()
	installRAM(mem, 0x100)
	c := pas.New(pas.Config{Base: 0x3B8}, sched, mem, agg, nil)

	// low 3 bits select MPU IRQ index 5 (-> IRQ 10), high 3 bits select
	// SB DSP IRQ index 3 (-> IRQ 5), per the original's pas16_sb_irqs table.
	writeReg(t, c, 0x3B8, pas.RegSBIRQDMA, 5|(3<<3))

	if got := c.MPUIRQ(); got != 10 {
		t.Fatalf("MPU IRQ = %d, want 10", got)
	}
	if got := c.SBDSPIRQ(); got != 5 {
		t.Fatalf("SB DSP IRQ = %d, want 5", got)
	}
}
