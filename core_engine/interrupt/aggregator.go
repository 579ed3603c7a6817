// Package interrupt implements the programmable interrupt aggregator:
// per-line level/edge assertion with mask/ack semantics for the 16 ISA
// lines, plus a PCI INTA..INTD routing table that maps (slot, pin) onto an
// ISA line and can be rewritten live without losing in-flight assertions.
package interrupt

// Mode selects how Raise treats repeated assertions of the same line.
type Mode int

const (
	// Level assertions are idempotent: raising an already-asserted level
	// line is a no-op on the notify side, and Clear only deasserts once
	// the assert count returns to zero (co-operative sharing between
	// multiple sources wired to one line).
	Level Mode = iota
	// Edge assertions always latch pending regardless of prior state;
	// the latch is cleared only by Ack.
	Edge
)

const numISALines = 16

// Pin identifies one of the four PCI interrupt pins on a slot.
type Pin int

const (
	INTA Pin = iota
	INTB
	INTC
	INTD
)

type line struct {
	mode        Mode
	assertCount int
	edgePending bool
	masked      bool
}

func (l *line) asserted() bool {
	if l.mode == Edge {
		return l.edgePending && !l.masked
	}
	return l.assertCount > 0 && !l.masked
}

// pciRoute is the (slot, pin) -> ISA line routing table entry.
type pciRoute struct {
	isaLine uint8
	valid   bool
	// asserted mirrors whether this PCI source currently holds its routed
	// ISA line asserted, so RoutePCI can move the assertion cleanly.
	asserted bool
}

// Aggregator is the PIC-equivalent coherence point: every device that can
// assert an interrupt calls Raise/Clear/RaisePCI/ClearPCI here, and the
// aggregator calls Notify exactly when the logical OR of all sources
// driving a given ISA line changes state.
type Aggregator struct {
	lines  [numISALines]line
	routes map[routeKey]*pciRoute

	// Notify is invoked with (isaLine, asserted) whenever the externally
	// observable state of a line changes. Devices/tests may leave this nil
	// to only observe state via Pending.
	Notify func(isaLine uint8, asserted bool)
}

type routeKey struct {
	slot uint8
	pin  Pin
}

// New creates an Aggregator with all lines unmasked and deasserted.
func New() *Aggregator {
	return &Aggregator{routes: make(map[routeKey]*pciRoute)}
}

func (a *Aggregator) notify(l uint8, asserted bool) {
	if a.Notify != nil {
		a.Notify(l, asserted)
	}
}

// Raise asserts line with the given trigger mode.
func (a *Aggregator) Raise(isaLine uint8, mode Mode) {
	l := &a.lines[isaLine]
	wasAsserted := l.asserted()
	l.mode = mode
	if mode == Level {
		l.assertCount++
	} else {
		l.edgePending = true
	}
	if !wasAsserted && l.asserted() {
		a.notify(isaLine, true)
	}
}

// Clear deasserts one level-triggered source on line. For an edge line this
// is a no-op: edge latches clear only via Ack.
func (a *Aggregator) Clear(isaLine uint8) {
	l := &a.lines[isaLine]
	if l.mode != Level {
		return
	}
	wasAsserted := l.asserted()
	if l.assertCount > 0 {
		l.assertCount--
	}
	if wasAsserted && !l.asserted() {
		a.notify(isaLine, false)
	}
}

// Ack clears the edge-pending latch on line, acknowledging delivery.
func (a *Aggregator) Ack(isaLine uint8) {
	l := &a.lines[isaLine]
	wasAsserted := l.asserted()
	l.edgePending = false
	if wasAsserted && !l.asserted() {
		a.notify(isaLine, false)
	}
}

// SetMask masks or unmasks a line; masking hides assertion from Notify
// without losing the underlying assert-count/edge-latch state.
func (a *Aggregator) SetMask(isaLine uint8, masked bool) {
	l := &a.lines[isaLine]
	wasAsserted := l.asserted()
	l.masked = masked
	nowAsserted := l.asserted()
	if wasAsserted != nowAsserted {
		a.notify(isaLine, nowAsserted)
	}
}

// Pending reports the current externally observable state of isaLine.
func (a *Aggregator) Pending(isaLine uint8) bool {
	return a.lines[isaLine].asserted()
}

// RoutePCI installs or rewrites the routing of (slot, pin) to isaLine. If
// the PCI source currently holds an assertion live, it is lowered on the
// old target and raised on the new one atomically from the caller's
// perspective (§4.2: "writes to the routing register reroute live
// assertions").
func (a *Aggregator) RoutePCI(slot uint8, pin Pin, isaLine uint8) {
	key := routeKey{slot, pin}
	r, ok := a.routes[key]
	if !ok {
		r = &pciRoute{}
		a.routes[key] = r
	}
	wasAsserted := r.asserted
	if r.valid && wasAsserted {
		a.Clear(r.isaLine)
	}
	r.isaLine = isaLine
	r.valid = true
	if wasAsserted {
		a.Raise(r.isaLine, Level)
	}
}

// RaisePCI asserts the level-triggered PCI line (slot, pin), routed through
// whatever ISA line RoutePCI last assigned it to.
func (a *Aggregator) RaisePCI(slot uint8, pin Pin) {
	key := routeKey{slot, pin}
	r, ok := a.routes[key]
	if !ok || !r.valid {
		return
	}
	if !r.asserted {
		r.asserted = true
		a.Raise(r.isaLine, Level)
	}
}

// ClearPCI deasserts the PCI line (slot, pin).
func (a *Aggregator) ClearPCI(slot uint8, pin Pin) {
	key := routeKey{slot, pin}
	r, ok := a.routes[key]
	if !ok || !r.valid {
		return
	}
	if r.asserted {
		r.asserted = false
		a.Clear(r.isaLine)
	}
}
