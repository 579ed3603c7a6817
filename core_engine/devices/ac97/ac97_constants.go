package ac97

// Per-channel register offsets within the channel's 0x10-byte block,
// starting at SGDBase + channel*channelStride (§4.9's sub-register layout:
// "offsets 0x00..0x7f are per-stream SGDs, 0x80..0x8f are global").
const (
	RegBDBAR0 = 0x00 // 4-byte little-endian descriptor table base address
	RegCIV    = 0x04
	RegLVI    = 0x05
	RegSR0    = 0x06 // 2-byte status
	RegPICB0  = 0x08 // 2-byte position-in-current-buffer
	RegCR     = 0x0B

	channelStride = 0x10
	globalBase    = 0x80
)

// Status register bits, sticky and cleared by writing ones.
const (
	SRDCH   uint16 = 0x01 // DMA controller halted
	SRCELV  uint16 = 0x02 // current index equals last valid index
	SRLVBCI uint16 = 0x04 // last valid buffer completion interrupt
	SRBCIS  uint16 = 0x08 // buffer completion interrupt status
)

// Control register bits.
const (
	CRRun   byte = 0x01
	CRReset byte = 0x02
	CRLVBIE byte = 0x04 // enable interrupt on SRLVBCI
	CRIOCE  byte = 0x08 // enable interrupt on SRBCIS
)

// Scatter-gather descriptor entry flags (the top byte of the 8-byte
// entry's second word).
const (
	FlagStop byte = 0x40
	FlagEOL  byte = 0x80
)

const (
	entrySize  = 8
	fifoCap    = 32
	bytesPerDword = 4
)

// attenSteps covers 0 to -46.5 dB in 0.375 dB increments (§4.10).
const (
	attenStepDB  = 0.375
	attenMaxDB   = 46.5
	attenSteps   = 128
)
