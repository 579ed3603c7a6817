package dp8390

// Register offsets (Page 0), relative to the controller's base port.
const (
	RegCR     uint16 = 0x00
	RegPSTART uint16 = 0x01
	RegPSTOP  uint16 = 0x02
	RegBNRY   uint16 = 0x03
	RegTPSR   uint16 = 0x04
	RegTBCR0  uint16 = 0x05
	RegTBCR1  uint16 = 0x06
	RegISR    uint16 = 0x07
	RegRSAR0  uint16 = 0x08
	RegRSAR1  uint16 = 0x09
	RegRBCR0  uint16 = 0x0A
	RegRBCR1  uint16 = 0x0B
	RegRCR    uint16 = 0x0C
	RegTCR    uint16 = 0x0D
	RegDCR    uint16 = 0x0E
	RegIMR    uint16 = 0x0F
)

// Register offsets (Page 1).
const (
	RegPAR0 uint16 = 0x01
	RegPAR5 uint16 = 0x06
	RegCURR uint16 = 0x07
	RegMAR0 uint16 = 0x08
	RegMAR7 uint16 = 0x0F
)

// ASIC offsets, outside the 16-byte register window.
const (
	OffsetData  uint16 = 0x10
	OffsetReset uint16 = 0x1F
	PortRange   uint16 = 0x20
)

// Command Register bits.
const (
	CRStop  byte = 0x01
	CRStart byte = 0x02
	CRTXP   byte = 0x04
	CRRD0   byte = 0x08
	CRRD1   byte = 0x10
	CRRD2   byte = 0x20
	CRPS0   byte = 0x40
	CRPS1   byte = 0x80
	crPageMask = CRPS0 | CRPS1
)

// Interrupt Status Register bits.
const (
	ISRPRX byte = 0x01 // packet received
	ISRPTX byte = 0x02 // packet transmitted
	ISRRXE byte = 0x04 // receive error
	ISRTXE byte = 0x08 // transmit error
	ISROVW byte = 0x10 // overwrite warning (ring full)
	ISRCNT byte = 0x20
	ISRRDC byte = 0x40 // remote DMA complete
	ISRRST byte = 0x80
)

// Data Configuration Register bits.
const (
	DCRWTS byte = 0x01 // word transfer select
	DCRBOS byte = 0x02
	DCRLAS byte = 0x04
	DCRBMS byte = 0x08
	DCRAR  byte = 0x10
)

// Receive Configuration Register bits.
const (
	RCRPRM byte = 0x01 // promiscuous
	RCRAR  byte = 0x02 // accept runt
	RCRAB  byte = 0x04 // accept broadcast
	RCRAM  byte = 0x08 // accept multicast
	RCRSEP byte = 0x10 // accept short (post-acceptance, pads up instead of rejecting)
	RCRMON byte = 0x20 // monitor mode: accept into ring, discard from wire
)

// Transmit Configuration Register bits.
const (
	TCRCRC byte = 0x01 // inhibit CRC append
	TCRLB0 byte = 0x02
	TCRLB1 byte = 0x04
	loopbackMask = TCRLB0 | TCRLB1
)

// Receive Status byte, written into the 4-byte ring header.
const (
	RSRPRX byte = 0x01
	RSRFO  byte = 0x08
	RSRMPA byte = 0x10
)

const (
	ringHeaderSize = 4
	minFrameLen    = 60
	maxFrameLen    = 1514
	pageSize       = 256
)
