// Package sinks defines the external-collaborator contracts the core
// consumes (§5): everything this repository deliberately does not
// implement — the CPU instruction interpreter, disk image persistence, the
// host network path, a display/audio presentation layer, and font
// storage — modelled only by the interface the core drives it through.
package sinks

// CPU is the collaborator that actually executes guest instructions; the
// core never interprets or translates code, it only reacts to cycle
// counts and delivers interrupt vectors (§5, §9 "CPU instruction
// interpreter ... out of scope").
type CPU interface {
	CyclesConsumed() int64
	InterruptNotify(vector uint8)
}

// DiskStore backs the IDE/ESDI task-file state machine with sector
// storage; it returns -1 on I/O failure and 0 on a read that runs past the
// end of the image, matching §5's contract exactly.
type DiskStore interface {
	ReadSectors(id int, lba uint64, count int, buf []byte) int
	WriteSectors(id int, lba uint64, count int, buf []byte) int
	ZeroSectors(id int, lba uint64, count int) int
}

// NetworkSink is the host-side Ethernet path a DP8390-family controller
// transmits onto and receives frames from.
type NetworkSink interface {
	Transmit(frame []byte) error
	// SetReceiver registers the callback the sink invokes with each
	// inbound frame (the DP8390's rx_deliver(handle, bytes, len)).
	SetReceiver(rxDeliver func(frame []byte))
}

// DisplaySink accepts one finished rectangle of pixels per completed CRTC
// frame.
type DisplaySink interface {
	Blit(x, y, w, h int, pixels []byte)
}

// AudioSink accepts one tick's worth of mixed stereo samples from an
// AC'97/PAS DMA engine.
type AudioSink interface {
	MixBuffer(samples []int16)
}

// FontROM resolves one glyph row for the CRTC's text-mode renderer.
type FontROM interface {
	Glyph(charset int, char byte, row int) byte
}
