package dma

// Transfer type, mode register bits 2-3.
const (
	TransferVerify byte = 0
	TransferWrite  byte = 1 // device -> memory
	TransferRead   byte = 2 // memory -> device
)

// Mode register bit masks.
const (
	ModeChannelMask  byte = 0x03
	ModeTransferMask byte = 0x0C
	ModeAutoInit     byte = 0x10
	ModeAddressDown  byte = 0x20
	ModeModeSelMask  byte = 0xC0
)

// Primary controller (8-bit channels 0-3) ISA port map.
const (
	PrimaryStatusCmdPort  uint16 = 0x08 // read: status, write: command
	PrimaryRequestPort    uint16 = 0x09
	PrimarySingleMaskPort uint16 = 0x0A
	PrimaryModePort       uint16 = 0x0B
	PrimaryClearFFPort    uint16 = 0x0C
	PrimaryMasterClear    uint16 = 0x0D
	PrimaryClearMaskPort  uint16 = 0x0E
	PrimaryAllMaskPort    uint16 = 0x0F
)

// Secondary controller (16-bit channels 4-7) ISA port map; register step
// is 2 because the secondary controller's data bus is word-wide.
const (
	SecondaryStatusCmdPort  uint16 = 0xD0
	SecondaryRequestPort    uint16 = 0xD2
	SecondarySingleMaskPort uint16 = 0xD4
	SecondaryModePort       uint16 = 0xD6
	SecondaryClearFFPort    uint16 = 0xD8
	SecondaryMasterClear    uint16 = 0xDA
	SecondaryClearMaskPort  uint16 = 0xDC
	SecondaryAllMaskPort    uint16 = 0xDE
)

// Per-channel base-address/base-count port pairs, indexed by channel 0-3
// within a controller. Primary steps by 1 byte per register; secondary
// steps by 2.
var primaryChannelPorts = [4][2]uint16{
	{0x00, 0x01}, {0x02, 0x03}, {0x04, 0x05}, {0x06, 0x07},
}

var secondaryChannelPorts = [4][2]uint16{
	{0xC0, 0xC2}, {0xC4, 0xC6}, {0xC8, 0xCA}, {0xCC, 0xCE},
}

// Page registers, one per channel, at their conventional AT locations.
// Channel 0 (primary) has no usable page register on AT hardware but is
// kept addressable for uniformity; channel 4 (the cascade channel on the
// secondary controller) likewise.
var primaryPagePorts = [4]uint16{0x87, 0x83, 0x81, 0x82}
var secondaryPagePorts = [4]uint16{0x8F, 0x8B, 0x89, 0x8A}
