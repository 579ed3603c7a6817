package isapnp

// initKey is the standard 32-byte ISA Plug and Play initiation key: writing
// these bytes in order to the address port, starting from an arbitrary
// reset state, places every listening card into configuration state.
var initKey = [32]byte{
	0x6a, 0xb5, 0xda, 0xed, 0xf6, 0xfb, 0x7d, 0xbe,
	0xdf, 0x6f, 0x37, 0x1b, 0x0d, 0x86, 0xc3, 0x61,
	0xb0, 0x58, 0x2c, 0x16, 0x8b, 0x45, 0xa2, 0xd1,
	0xe8, 0x74, 0x3a, 0x9d, 0x4e, 0xa7, 0x53, 0x2e,
}

// Card-level register indices.
const (
	RegCSN = 0x06 // Card Select Number
	RegLDN = 0x07 // active Logical Device Number for the per-LDN block below
)

// Per-logical-device register indices, interpreted relative to whichever
// LDN is currently selected via RegLDN.
const (
	RegActivate   = 0x30
	RegIOBaseHi   = 0x40
	RegIOBaseLo   = 0x41
	RegIRQSelect  = 0x42
	RegDMASelect  = 0x44
)

// Vendor pass-through ranges (§4.9): global card registers, per-LDN
// vendor registers, and the Super-I/O's GPIO window.
const (
	VendorGlobalLo, VendorGlobalHi = 0x20, 0x2f
	VendorPerLDNLo, VendorPerLDNHi = 0xf0, 0xff
	VendorGPIOLo, VendorGPIOHi     = 0x60, 0x7f
)

const maxLogicalDevices = 8

// PeerKind names the fixed set of Super-I/O peripherals a logical device
// can be routed to.
type PeerKind int

const (
	PeerFDC PeerKind = iota
	PeerUART0
	PeerUART1
	PeerLPT
	PeerInfrared
	PeerKBCMain
	PeerKBCMouse
)

func isVendorRegister(index int) bool {
	return (index >= VendorGlobalLo && index <= VendorGlobalHi) ||
		(index >= VendorPerLDNLo && index <= VendorPerLDNHi) ||
		(index >= VendorGPIOLo && index <= VendorGPIOHi)
}
