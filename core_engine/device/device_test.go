package device_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/device"
)

type stubDevice struct {
	device.Base
	created bool
	resets  int
}

func (s *stubDevice) Create() error {
	s.created = true
	return nil
}

func (s *stubDevice) Reset() {
	s.resets++
}

func TestBaseSatisfiesDeviceInterface(t *testing.T) {
	var _ device.Device = &stubDevice{Base: device.NewBase(device.Metadata{Name: "stub"})}
}

func TestSystemContextWiresCollaborators(t *testing.T) {
	sc := device.NewSystemContext()
	if sc.Clock == nil || sc.Sched == nil || sc.IRQ == nil || sc.IOBus == nil || sc.MemBus == nil || sc.DMA == nil {
		t.Fatal("NewSystemContext left a collaborator nil")
	}
	if sc.Clock.Now() != 0 {
		t.Fatalf("fresh clock Now() = %d, want 0", sc.Clock.Now())
	}
}

func TestLifecycleMethods(t *testing.T) {
	d := &stubDevice{Base: device.NewBase(device.Metadata{Name: "stub", Version: "1"})}
	if err := d.Create(); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !d.created {
		t.Fatal("Create did not run")
	}
	d.Reset()
	d.Reset()
	if d.resets != 2 {
		t.Fatalf("resets = %d, want 2", d.resets)
	}
	d.Tick()  // no-op from Base, must not panic
	d.Close() // no-op from Base, must not panic
	if d.Metadata().Name != "stub" {
		t.Fatalf("Metadata().Name = %q, want stub", d.Metadata().Name)
	}
}
