// Package device defines the uniform device lifecycle every concrete chip
// in devices/ implements, plus the SystemContext that replaces the
// globally mutable scheduler/interrupt/DMA/bus state the original source
// reaches for directly. Devices hold a *SystemContext instead of pointers
// into each other, matching §9's "non-owning handle into a root registry"
// guidance.
package device

import (
	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/dma"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
	"github.com/v-architect/pcbus-core/core_engine/timebase"
)

// Metadata describes a device for diagnostics and for the machine
// registry's config step; it carries no behavior.
type Metadata struct {
	Name    string
	Version string
}

// Device is the trait object the scheduler and dispatchers address every
// concrete chip through (§2 item 6). Close releases any armed events or
// installed bus ranges; it is always safe to call more than once.
type Device interface {
	Create() error
	Reset()
	Tick()
	Close()
	Metadata() Metadata
}

// SystemContext bundles the collaborators a device needs, handed to every
// device constructor so devices never hold raw pointers to one another
// (§9 "Global mutable state ... becomes an explicit SystemContext").
type SystemContext struct {
	Clock  *timebase.Clock
	Sched  *event.Scheduler
	IRQ    *interrupt.Aggregator
	IOBus  *bus.IOBus
	MemBus *bus.MemBus
	DMA    *dma.DMA
}

// NewSystemContext wires the shared leaf collaborators into one context.
func NewSystemContext() *SystemContext {
	clock := timebase.New()
	sc := &SystemContext{
		Clock:  clock,
		Sched:  event.New(clock.Now),
		IRQ:    interrupt.New(),
		IOBus:  bus.NewIOBus(),
		MemBus: bus.NewMemBus(),
	}
	sc.DMA = dma.New(sc.MemBus)
	return sc
}

// Base is an embeddable helper that gives a concrete device Metadata() and
// a no-op Tick()/Close() for devices with nothing periodic to do, so a
// chip with no per-tick work doesn't have to redeclare empty stubs.
type Base struct {
	meta Metadata
}

// NewBase stores md for later retrieval via Metadata().
func NewBase(md Metadata) Base {
	return Base{meta: md}
}

func (b Base) Metadata() Metadata { return b.meta }
func (b Base) Tick()              {}
func (b Base) Close()             {}
