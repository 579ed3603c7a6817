package interrupt_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/interrupt"
)

func TestLevelIsIdempotentAndSharedByCount(t *testing.T) {
	agg := interrupt.New()
	var events []bool
	agg.Notify = func(line uint8, asserted bool) { events = append(events, asserted) }

	agg.Raise(4, interrupt.Level)
	agg.Raise(4, interrupt.Level) // second source on same line: no new notify
	if len(events) != 1 || !events[0] {
		t.Fatalf("events = %v, want single true", events)
	}
	if !agg.Pending(4) {
		t.Fatal("line 4 should be asserted")
	}

	agg.Clear(4) // one of two sources drops
	if !agg.Pending(4) {
		t.Fatal("line 4 should still be asserted (shared)")
	}
	agg.Clear(4) // last source drops
	if agg.Pending(4) {
		t.Fatal("line 4 should be deasserted")
	}
	if len(events) != 2 || events[1] {
		t.Fatalf("events = %v, want [true false]", events)
	}
}

func TestEdgeLatchesUntilAck(t *testing.T) {
	agg := interrupt.New()
	agg.Raise(3, interrupt.Edge)
	if !agg.Pending(3) {
		t.Fatal("edge line should be pending after raise")
	}
	agg.Clear(3) // no-op for edge
	if !agg.Pending(3) {
		t.Fatal("clear must not affect an edge-triggered line")
	}
	agg.Ack(3)
	if agg.Pending(3) {
		t.Fatal("ack should clear the edge latch")
	}
}

func TestMaskHidesButPreservesState(t *testing.T) {
	agg := interrupt.New()
	agg.Raise(1, interrupt.Level)
	agg.SetMask(1, true)
	if agg.Pending(1) {
		t.Fatal("masked line must not report pending")
	}
	agg.SetMask(1, false)
	if !agg.Pending(1) {
		t.Fatal("unmasking should reveal the still-asserted line")
	}
}

func TestPCIRoutingReroutesLiveAssertion(t *testing.T) {
	agg := interrupt.New()
	var notified []uint8
	agg.Notify = func(line uint8, asserted bool) {
		if asserted {
			notified = append(notified, line)
		}
	}

	agg.RoutePCI(2, interrupt.INTA, 10)
	agg.RaisePCI(2, interrupt.INTA)
	if !agg.Pending(10) {
		t.Fatal("ISA line 10 should be asserted via PCI routing")
	}

	agg.RoutePCI(2, interrupt.INTA, 11) // reroute while asserted
	if agg.Pending(10) {
		t.Fatal("old target should be lowered on reroute")
	}
	if !agg.Pending(11) {
		t.Fatal("new target should be raised on reroute")
	}
}
