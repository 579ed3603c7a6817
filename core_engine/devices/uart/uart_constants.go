package uart

// Register offsets from the device's base port, valid when DLAB is clear
// unless noted otherwise.
const (
	RegRxTxDLL = 0 // RBR(r)/THR(w), divisor latch low when DLAB=1
	RegIERDLH  = 1 // IER, divisor latch high when DLAB=1
	RegIIRFCR  = 2 // IIR(r)/FCR(w)
	RegLCR     = 3
	RegMCR     = 4
	RegLSR     = 5
	RegMSR     = 6
	RegSCR     = 7
)

// Line Control Register bits.
const (
	LCRWordLenMask byte = 0x03
	LCRStopBits    byte = 0x04
	LCRParityMask  byte = 0x38
	LCRBreak       byte = 0x40
	LCRDLAB        byte = 0x80
)

// Line Status Register bits.
const (
	LSRDataReady     byte = 0x01
	LSROverrun       byte = 0x02
	LSRParityError   byte = 0x04
	LSRFramingError  byte = 0x08
	LSRBreak         byte = 0x10
	LSRThrEmpty      byte = 0x20
	LSRTxEmpty       byte = 0x40
	LSRFifoError     byte = 0x80
)

// Modem Control Register bits.
const (
	MCRDTR      byte = 0x01
	MCRRTS      byte = 0x02
	MCROut1     byte = 0x04
	MCROut2     byte = 0x08
	MCRLoopback byte = 0x10
)

// Modem Status Register bits.
const (
	MSRDeltaCTS byte = 0x01
	MSRDeltaDSR byte = 0x02
	MSRTERI     byte = 0x04
	MSRDeltaDCD byte = 0x08
	MSRCTS      byte = 0x10
	MSRDSR      byte = 0x20
	MSRRI       byte = 0x40
	MSRDCD      byte = 0x80
)

// Interrupt Enable Register bits.
const (
	IERRxData   byte = 0x01
	IERThrEmpty byte = 0x02
	IERLineStat byte = 0x04
	IERModem    byte = 0x08
)

// Interrupt Identification Register cause codes (bits 1-3), highest
// priority first, per §4.6.
const (
	IIRNone        byte = 0x01
	IIRLineStatus  byte = 0x06
	IIRRxAvailable byte = 0x04
	IIRRxTimeout   byte = 0x0C
	IIRThrEmpty    byte = 0x02
	IIRModemStatus byte = 0x00
)

const iirFIFOEnabled byte = 0xC0

// FIFO Control Register bits.
const (
	FCREnable       byte = 0x01
	FCRClearRx      byte = 0x02
	FCRClearTx      byte = 0x04
	FCRTriggerMask  byte = 0xC0
)

// Variant selects FIFO capability and interrupt granularity.
type Variant int

const (
	Variant8250 Variant = iota
	Variant16450
	Variant16550
)

const fifoDepth = 16

var fifoTriggerLevels = [4]int{1, 4, 8, 14}
