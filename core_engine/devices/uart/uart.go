// Package uart implements the 8250/16450/16550+ family UART (§4.6): eight
// consecutive I/O bytes, a divisor-latch baud generator driving the
// scheduler, FIFO buffering on 16550+, the IIR interrupt-priority
// taxonomy, and modem-control loopback.
package uart

import (
	"io"
	"sync"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
	"github.com/v-architect/pcbus-core/core_engine/errkind"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
)

// UART is one 8250-family serial port.
type UART struct {
	lock sync.Mutex

	variant  Variant
	basePort uint16
	irqLine  uint8
	clockHz  int64

	dll, dlh byte
	ier      byte
	fcr      byte
	lcr      byte
	mcr      byte
	lsr      byte
	msr      byte
	scr      byte

	dlabActive bool
	irqAsserted bool
	thrEmptyPending  bool
	rxTimeoutPending bool

	rxFifo []byte
	txFifo []byte

	rxHolding     byte
	rxHoldingFull bool
	txHolding     byte
	txHoldingFull bool
	txShiftBusy   bool

	sched   *event.Scheduler
	irq     *interrupt.Aggregator
	owner   int64
	txEvent event.Handle
	rxTOEv  event.Handle

	// Out receives transmitted bytes when not in loopback mode. Tests and
	// the machine wiring may swap in any io.Writer.
	Out io.Writer

	Debug bool
}

// Config carries the construction-time parameters for one port.
type Config struct {
	Variant  Variant
	BasePort uint16
	IRQLine  uint8
	ClockHz  int64 // defaults to the standard 1.8432 MHz UART crystal
	Out      io.Writer
}

// New creates a UART wired to sched for its baud/timeout timers and irq
// for interrupt delivery.
func New(cfg Config, sched *event.Scheduler, irq *interrupt.Aggregator) *UART {
	clockHz := cfg.ClockHz
	if clockHz == 0 {
		clockHz = 1_843_200
	}
	u := &UART{
		variant:  cfg.Variant,
		basePort: cfg.BasePort,
		irqLine:  cfg.IRQLine,
		clockHz:  clockHz,
		Out:      cfg.Out,
	}
	u.sched = sched
	u.irq = irq
	u.owner = sched.NewOwner()
	u.txEvent = sched.New(u.owner, func(arg int) { u.txComplete(byte(arg)) })
	u.rxTOEv = sched.New(u.owner, func(int) { u.rxTimeoutFired() })
	u.resetLocked()
	return u
}

func (u *UART) Metadata() device.Metadata {
	return device.Metadata{Name: "uart", Version: variantName(u.variant)}
}

func variantName(v Variant) string {
	switch v {
	case Variant16550:
		return "16550"
	case Variant16450:
		return "16450"
	default:
		return "8250"
	}
}

func (u *UART) Create() error { return nil }

func (u *UART) Reset() {
	u.lock.Lock()
	defer u.lock.Unlock()
	u.resetLocked()
}

func (u *UART) resetLocked() {
	u.dll, u.dlh = 0, 0
	u.ier, u.fcr, u.lcr, u.mcr, u.msr, u.scr = 0, 0, 0, 0, 0, 0
	u.lsr = LSRThrEmpty | LSRTxEmpty
	u.dlabActive = false
	u.rxFifo = nil
	u.txFifo = nil
	u.rxHoldingFull, u.txHoldingFull, u.txShiftBusy = false, false, false
	u.thrEmptyPending, u.rxTimeoutPending = false, false
	if u.sched != nil {
		u.sched.Disarm(u.txEvent)
		u.sched.Disarm(u.rxTOEv)
	}
	if u.irqAsserted && u.irq != nil {
		u.irq.Clear(u.irqLine)
	}
	u.irqAsserted = false
}

func (u *UART) Tick()  {}
func (u *UART) Close() { u.Reset() }

func (u *UART) fifoEnabled() bool { return u.fcr&FCREnable != 0 }

func (u *UART) triggerLevel() int {
	return fifoTriggerLevels[(u.fcr&FCRTriggerMask)>>6]
}

func (u *UART) rxBufLen() int {
	if u.fifoEnabled() {
		return len(u.rxFifo)
	}
	if u.rxHoldingFull {
		return 1
	}
	return 0
}

func (u *UART) txBufEmpty() bool {
	if u.fifoEnabled() {
		return len(u.txFifo) == 0
	}
	return !u.txHoldingFull
}

// charTimeTicks computes the transmission period for one character: the
// bit-time times 1(start)+data+parity+stop bits (§4.6).
func (u *UART) charTimeTicks() int64 {
	divisor := int64(u.dll) | int64(u.dlh)<<8
	if divisor == 0 {
		divisor = 65536
	}
	bitTicks := (16 * divisor * 1_000_000) / u.clockHz
	wordLen := int64(u.lcr&LCRWordLenMask) + 5
	stopBits := int64(1)
	if u.lcr&LCRStopBits != 0 {
		stopBits = 2
	}
	parityBits := int64(0)
	if u.lcr&LCRParityMask != 0 {
		parityBits = 1
	}
	bits := 1 + wordLen + parityBits + stopBits
	if bitTicks < 1 {
		bitTicks = 1
	}
	return bitTicks * bits
}

// HandleIO is the house PioDevice entry point.
func (u *UART) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	u.lock.Lock()
	defer u.lock.Unlock()

	if size != 1 {
		return errkind.Protocolf("uart", "I/O size %d not supported for port %#x", size, port)
	}
	offset := port - u.basePort
	if direction == bus.DirectionOut {
		u.writeReg(offset, data[0])
		return nil
	}
	data[0] = u.readReg(offset)
	return nil
}

func (u *UART) writeReg(offset uint16, v byte) {
	switch offset {
	case RegRxTxDLL:
		if u.dlabActive {
			u.dll = v
			return
		}
		u.writeTHR(v)
	case RegIERDLH:
		if u.dlabActive {
			u.dlh = v
			return
		}
		u.ier = v
		u.updateIRQ()
	case RegIIRFCR:
		u.fcr = v
		if v&FCRClearRx != 0 {
			u.rxFifo = nil
			u.rxHoldingFull = false
			u.lsr &^= LSRDataReady
			u.sched.Disarm(u.rxTOEv)
			u.rxTimeoutPending = false
		}
		if v&FCRClearTx != 0 {
			u.txFifo = nil
			u.txHoldingFull = false
		}
		u.updateIRQ()
	case RegLCR:
		u.lcr = v
		u.dlabActive = v&LCRDLAB != 0
	case RegMCR:
		u.mcr = v
		u.applyLoopbackMSR()
		u.updateIRQ()
	case RegSCR:
		u.scr = v
	default:
		// LSR and MSR are read-only; an OUT to them is simply ignored,
		// matching the permissive house style.
	}
}

func (u *UART) readReg(offset uint16) byte {
	switch offset {
	case RegRxTxDLL:
		if u.dlabActive {
			return u.dll
		}
		return u.readRBR()
	case RegIERDLH:
		if u.dlabActive {
			return u.dlh
		}
		return u.ier
	case RegIIRFCR:
		return u.readIIR()
	case RegLCR:
		return u.lcr
	case RegMCR:
		return u.mcr
	case RegLSR:
		return u.readLSR()
	case RegMSR:
		return u.readMSR()
	case RegSCR:
		return u.scr
	default:
		return 0xFF
	}
}

func (u *UART) applyLoopbackMSR() {
	if u.mcr&MCRLoopback == 0 {
		return
	}
	msr := byte(0)
	if u.mcr&MCRDTR != 0 {
		msr |= MSRDSR
	}
	if u.mcr&MCRRTS != 0 {
		msr |= MSRCTS
	}
	if u.mcr&MCROut1 != 0 {
		msr |= MSRRI
	}
	if u.mcr&MCROut2 != 0 {
		msr |= MSRDCD
	}
	u.msr = msr
}

func (u *UART) writeTHR(b byte) {
	if u.fifoEnabled() {
		if len(u.txFifo) >= fifoDepth {
			copy(u.txFifo, u.txFifo[1:])
			u.txFifo[len(u.txFifo)-1] = b
			u.lsr |= LSROverrun
		} else {
			u.txFifo = append(u.txFifo, b)
		}
	} else {
		if u.txHoldingFull {
			u.lsr |= LSROverrun
		}
		u.txHolding = b
		u.txHoldingFull = true
	}
	if u.txBufEmpty() {
		u.lsr |= LSRThrEmpty
	} else {
		u.lsr &^= LSRThrEmpty
	}
	u.lsr &^= LSRTxEmpty
	u.kickTX()
	u.updateIRQ()
}

func (u *UART) kickTX() {
	if u.txShiftBusy || u.txBufEmpty() {
		return
	}
	var b byte
	if u.fifoEnabled() {
		b = u.txFifo[0]
		u.txFifo = u.txFifo[1:]
	} else {
		b = u.txHolding
		u.txHoldingFull = false
	}
	u.txShiftBusy = true
	if u.txBufEmpty() {
		u.lsr |= LSRThrEmpty
	}
	u.lsr &^= LSRTxEmpty
	u.sched.Arm(u.txEvent, u.charTimeTicks(), int(b))
}

func (u *UART) txComplete(b byte) {
	u.lock.Lock()
	defer u.lock.Unlock()

	u.txShiftBusy = false
	if u.mcr&MCRLoopback != 0 {
		u.deliverRx(b)
	} else if u.Out != nil {
		_, _ = u.Out.Write([]byte{b})
	}
	if u.txBufEmpty() {
		u.lsr |= LSRTxEmpty
		u.thrEmptyPending = true
	} else {
		u.kickTX()
	}
	u.updateIRQ()
}

func (u *UART) readRBR() byte {
	var b byte
	if u.fifoEnabled() {
		if len(u.rxFifo) > 0 {
			b = u.rxFifo[0]
			u.rxFifo = u.rxFifo[1:]
		}
	} else if u.rxHoldingFull {
		b = u.rxHolding
		u.rxHoldingFull = false
	}
	if u.rxBufLen() == 0 {
		u.lsr &^= LSRDataReady
		u.sched.Disarm(u.rxTOEv)
		u.rxTimeoutPending = false
	}
	u.updateIRQ()
	return b
}

func (u *UART) readIIR() byte {
	cause, ok := u.pendingCause()
	result := IIRNone
	if ok {
		result = cause
		if cause == IIRThrEmpty {
			u.thrEmptyPending = false
		}
	}
	if u.fifoEnabled() {
		result |= iirFIFOEnabled
	}
	u.updateIRQ()
	return result
}

func (u *UART) readLSR() byte {
	v := u.lsr
	u.lsr &^= LSROverrun | LSRParityError | LSRFramingError | LSRBreak
	u.updateIRQ()
	return v
}

func (u *UART) readMSR() byte {
	v := u.msr
	u.msr &^= MSRDeltaCTS | MSRDeltaDSR | MSRTERI | MSRDeltaDCD
	u.updateIRQ()
	return v
}

// Receive delivers one externally-arriving byte into the RX path (the
// host console side, via whatever collaborator owns the wire). Loopback
// mode instead routes TX straight into RX internally; callers should not
// call Receive while loopback is active.
func (u *UART) Receive(b byte) {
	u.lock.Lock()
	defer u.lock.Unlock()
	u.deliverRx(b)
}

func (u *UART) deliverRx(b byte) {
	if u.fifoEnabled() {
		if len(u.rxFifo) >= fifoDepth {
			u.rxFifo = append(u.rxFifo[1:], b)
			u.lsr |= LSROverrun
		} else {
			u.rxFifo = append(u.rxFifo, b)
		}
	} else {
		if u.rxHoldingFull {
			u.lsr |= LSROverrun
		}
		u.rxHolding = b
		u.rxHoldingFull = true
	}
	u.lsr |= LSRDataReady
	u.rxTimeoutPending = false
	if u.fifoEnabled() {
		u.sched.Arm(u.rxTOEv, 4*u.charTimeTicks(), 0)
	}
	u.updateIRQ()
}

func (u *UART) rxTimeoutFired() {
	u.lock.Lock()
	defer u.lock.Unlock()
	if u.rxBufLen() > 0 && u.rxBufLen() < u.triggerLevel() {
		u.rxTimeoutPending = true
		u.updateIRQ()
	}
}

// pendingCause returns the highest-priority enabled interrupt cause, per
// §4.6's fixed priority order.
func (u *UART) pendingCause() (byte, bool) {
	if u.ier&IERLineStat != 0 && u.lsr&(LSROverrun|LSRParityError|LSRFramingError|LSRBreak) != 0 {
		return IIRLineStatus, true
	}
	if u.ier&IERRxData != 0 {
		if u.rxTimeoutPending {
			return IIRRxTimeout, true
		}
		if u.fifoEnabled() {
			if len(u.rxFifo) >= u.triggerLevel() {
				return IIRRxAvailable, true
			}
		} else if u.rxHoldingFull {
			return IIRRxAvailable, true
		}
	}
	if u.ier&IERThrEmpty != 0 && u.thrEmptyPending {
		return IIRThrEmpty, true
	}
	if u.ier&IERModem != 0 && u.msr&(MSRDeltaCTS|MSRDeltaDSR|MSRTERI|MSRDeltaDCD) != 0 {
		return IIRModemStatus, true
	}
	return 0, false
}

func (u *UART) updateIRQ() {
	_, asserted := u.pendingCause()
	if asserted == u.irqAsserted {
		return
	}
	u.irqAsserted = asserted
	if asserted {
		u.irq.Raise(u.irqLine, interrupt.Level)
	} else {
		u.irq.Clear(u.irqLine)
	}
}
