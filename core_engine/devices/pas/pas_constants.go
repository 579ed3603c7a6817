package pas

// Register offsets within the 16-byte CRTC/mixer/DMA window at base+0xB8x
// (§4.11). Only the DMA-engine-relevant subset is modelled; the CRTC and
// mixer aliases this window shares on real hardware are out of scope.
const (
	RegControl      = 0x00
	RegStatus       = 0x01
	RegIRQEnable    = 0x02
	RegCompat       = 0x03
	RegSampleRateLo = 0x04
	RegSampleRateHi = 0x05
	RegSampleCntLo  = 0x06
	RegSampleCntHi  = 0x07
	RegGuestAddr0   = 0x08 // 4 little-endian bytes, 0x08..0x0B
	RegSBIRQDMA     = 0x0C
	RegCompatBase   = 0x0D

	windowSize = 16
)

// Control register bits.
const (
	CtrlRun      byte = 0x01
	CtrlStereo   byte = 0x02
	Ctrl16Bit    byte = 0x04
	CtrlPrescale byte = 0x08
)

// Status register bit, sticky, cleared by writing one.
const StatusTerminalCount byte = 0x01

// sbIRQTable is the original firmware's fixed IRQ indirection table: the
// compat-SB steering register selects an index into this table rather than
// encoding the ISA IRQ line directly.
var sbIRQTable = [8]uint8{0, 2, 3, 5, 7, 10, 11, 12}

// nativeClockHz is the PIT input clock PAS's sample-rate timer divides.
const nativeClockHz = 1193180
