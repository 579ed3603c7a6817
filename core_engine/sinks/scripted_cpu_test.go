package sinks_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/sinks"
)

func TestScriptedCPUReplaysBatchesThenZero(t *testing.T) {
	cpu := sinks.NewScriptedCPU(100, 200, 50)
	got := []int64{cpu.CyclesConsumed(), cpu.CyclesConsumed(), cpu.CyclesConsumed(), cpu.CyclesConsumed()}
	want := []int64{100, 200, 50, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("batch %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestScriptedCPURecordsInterrupts(t *testing.T) {
	cpu := sinks.NewScriptedCPU()
	cpu.InterruptNotify(0x21)
	cpu.InterruptNotify(0x24)
	if len(cpu.Delivered) != 2 || cpu.Delivered[0] != 0x21 || cpu.Delivered[1] != 0x24 {
		t.Fatalf("Delivered = %v, want [0x21 0x24]", cpu.Delivered)
	}
}
