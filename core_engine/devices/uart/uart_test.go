package uart_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/devices/uart"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
)

type discard struct{ written []byte }

func (d *discard) Write(p []byte) (int, error) {
	d.written = append(d.written, p...)
	return len(p), nil
}

func newTestUART(t *testing.T) (*uart.UART, *event.Scheduler, func(delta int64)) {
	t.Helper()
	var now int64
	sched := event.New(func() int64 { return now })
	agg := interrupt.New()
	u := uart.New(uart.Config{Variant: uart.Variant16550, BasePort: 0x3F8, IRQLine: 4}, sched, agg)
	advance := func(delta int64) {
		now += delta
		sched.Tick()
	}
	return u, sched, advance
}

func writeByte(t *testing.T, u *uart.UART, offset uint16, v byte) {
	t.Helper()
	if err := u.HandleIO(0x3F8+offset, bus.DirectionOut, 1, []byte{v}); err != nil {
		t.Fatalf("HandleIO out offset %d: %v", offset, err)
	}
}

func readByte(t *testing.T, u *uart.UART, offset uint16) byte {
	t.Helper()
	out := make([]byte, 1)
	if err := u.HandleIO(0x3F8+offset, bus.DirectionIn, 1, out); err != nil {
		t.Fatalf("HandleIO in offset %d: %v", offset, err)
	}
	return out[0]
}

func TestLoopback9600_8N1(t *testing.T) {
	u, _, advance := newTestUART(t)

	writeByte(t, u, uart.RegLCR, uart.LCRDLAB)
	writeByte(t, u, uart.RegRxTxDLL, 0x0C)
	writeByte(t, u, uart.RegIERDLH, 0x00)
	writeByte(t, u, uart.RegLCR, 0x03) // 8N1, DLAB cleared
	writeByte(t, u, uart.RegMCR, uart.MCRLoopback)
	writeByte(t, u, uart.RegRxTxDLL, 0x55) // THR

	advance(1100) // >= ~1040us char time

	lsr := readByte(t, u, uart.RegLSR)
	if lsr&uart.LSRDataReady == 0 {
		t.Fatalf("LSR = %#x, want data-ready set", lsr)
	}
	if got := readByte(t, u, uart.RegRxTxDLL); got != 0x55 {
		t.Fatalf("RBR = %#x, want 0x55", got)
	}
}

func TestNonFIFOOverrunSetsLSRBit(t *testing.T) {
	u, _, _ := newTestUART(t)
	writeByte(t, u, uart.RegLCR, 0x03)
	u.Receive(0x11)
	u.Receive(0x22) // arrives before first is read -> overrun
	lsr := readByte(t, u, uart.RegLSR)
	if lsr&uart.LSROverrun == 0 {
		t.Fatalf("LSR = %#x, want overrun set", lsr)
	}
	// Overrun bit clears on LSR read.
	lsr2 := readByte(t, u, uart.RegLSR)
	if lsr2&uart.LSROverrun != 0 {
		t.Fatalf("LSR = %#x, overrun should have cleared on read", lsr2)
	}
}

func TestFIFORxAvailableInterruptAtTriggerLevel(t *testing.T) {
	u, _, _ := newTestUART(t)
	writeByte(t, u, uart.RegLCR, 0x03)
	writeByte(t, u, uart.RegIIRFCR, uart.FCREnable) // trigger level 1 (bits 00)
	writeByte(t, u, uart.RegIERDLH, uart.IERRxData)

	u.Receive(0xAA)
	iir := readByte(t, u, uart.RegIIRFCR)
	if iir&0x0E != uart.IIRRxAvailable {
		t.Fatalf("IIR cause = %#x, want RxAvailable (%#x)", iir&0x0E, uart.IIRRxAvailable)
	}
}

func TestThrEmptyInterruptClearsOnIIRRead(t *testing.T) {
	u, _, advance := newTestUART(t)
	writeByte(t, u, uart.RegLCR, 0x03)
	writeByte(t, u, uart.RegLCR, uart.LCRDLAB)
	writeByte(t, u, uart.RegRxTxDLL, 0x0C)
	writeByte(t, u, uart.RegIERDLH, 0x00)
	writeByte(t, u, uart.RegLCR, 0x03)
	writeByte(t, u, uart.RegIERDLH, uart.IERThrEmpty)
	writeByte(t, u, uart.RegRxTxDLL, 0x01)

	advance(1100)

	iir := readByte(t, u, uart.RegIIRFCR)
	if iir&0x0E != uart.IIRThrEmpty {
		t.Fatalf("IIR cause = %#x, want ThrEmpty (%#x)", iir&0x0E, uart.IIRThrEmpty)
	}
	iir2 := readByte(t, u, uart.RegIIRFCR)
	if iir2&0x0E == uart.IIRThrEmpty {
		t.Fatal("ThrEmpty cause should have cleared after IIR read")
	}
}
