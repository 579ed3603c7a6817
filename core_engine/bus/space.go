// Package bus implements the address-space dispatcher: two independent
// instances of the same sparse interval index back the I/O port space and
// the physical memory space (§4.3). Installs are append-only with
// "last install wins" semantics for overlapping ranges; narrow handlers are
// synthesized into wider ones in little-endian order when a device does not
// supply its own atomic wide handler.
package bus

import "fmt"

// Handlers is the set of access functions a device registers for one
// range. Word/long handlers may be left nil; the dispatcher then
// synthesizes them from the byte handler.
type Handlers struct {
	ReadByte   func(addr uint32) uint8
	ReadWord   func(addr uint32) uint16 // optional
	ReadLong   func(addr uint32) uint32 // optional
	WriteByte  func(addr uint32, v uint8)
	WriteWord  func(addr uint32, v uint16) // optional
	WriteLong  func(addr uint32, v uint32) // optional
	// Context identifies the owning device for diagnostics/removal by owner.
	Context any
}

// Token identifies one installed range for removal.
type Token int

type entry struct {
	base, length uint32
	handlers     Handlers
	removed      bool
}

// Space is one sparse address space (I/O ports or physical memory).
type Space struct {
	name    string
	entries []entry
	// BytesLatencyFn, when set, is called with the byte count of each
	// narrow-to-wide synthesis step, for wait-state cycle accounting. Nil
	// (the default) means no charge.
	BytesLatencyFn func(bytes int)
}

// NewSpace creates an empty address space used for diagnostics messages.
func NewSpace(name string) *Space {
	return &Space{name: name}
}

// Install appends a new range mapping [base, base+length) to handlers and
// returns a token for later removal. Overlapping an existing range does not
// remove or alias it: the new entry simply shadows the old one for the
// overlapping addresses because lookups scan newest-first.
func (s *Space) Install(base, length uint32, h Handlers) Token {
	s.entries = append(s.entries, entry{base: base, length: length, handlers: h})
	return Token(len(s.entries) - 1)
}

// Remove unregisters the range identified by tok. Idempotent.
func (s *Space) Remove(tok Token) {
	if int(tok) < 0 || int(tok) >= len(s.entries) {
		return
	}
	s.entries[tok].removed = true
}

// RemoveOwner removes every still-installed range whose Context == ctx,
// used when a device is destroyed so its ranges vanish atomically.
func (s *Space) RemoveOwner(ctx any) {
	for i := range s.entries {
		if !s.entries[i].removed && s.entries[i].handlers.Context == ctx {
			s.entries[i].removed = true
		}
	}
}

// find returns the newest non-removed entry containing addr, or nil.
func (s *Space) find(addr uint32) *entry {
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := &s.entries[i]
		if e.removed {
			continue
		}
		if addr >= e.base && addr < e.base+e.length {
			return e
		}
	}
	return nil
}

func (s *Space) chargeBytes(n int) {
	if s.BytesLatencyFn != nil {
		s.BytesLatencyFn(n)
	}
}

// ReadByte returns the byte at addr, or 0xFF if unmapped (§4.3: "Missing
// addresses return all-ones on read").
func (s *Space) ReadByte(addr uint32) uint8 {
	e := s.find(addr)
	if e == nil || e.handlers.ReadByte == nil {
		return 0xFF
	}
	return e.handlers.ReadByte(addr)
}

// ReadWord returns the little-endian word at addr, using the device's own
// wide handler when provided, else two byte reads combined little-endian.
func (s *Space) ReadWord(addr uint32) uint16 {
	e := s.find(addr)
	if e == nil {
		return 0xFFFF
	}
	if e.handlers.ReadWord != nil {
		return e.handlers.ReadWord(addr)
	}
	lo := s.ReadByte(addr)
	hi := s.ReadByte(addr + 1)
	s.chargeBytes(2)
	return uint16(lo) | uint16(hi)<<8
}

// ReadLong returns the little-endian dword at addr.
func (s *Space) ReadLong(addr uint32) uint32 {
	e := s.find(addr)
	if e == nil {
		return 0xFFFFFFFF
	}
	if e.handlers.ReadLong != nil {
		return e.handlers.ReadLong(addr)
	}
	lo := s.ReadWord(addr)
	hi := s.ReadWord(addr + 2)
	s.chargeBytes(4)
	return uint32(lo) | uint32(hi)<<16
}

// WriteByte writes v at addr; unmapped addresses discard the write
// (§4.3: "discarded on write").
func (s *Space) WriteByte(addr uint32, v uint8) {
	e := s.find(addr)
	if e == nil || e.handlers.WriteByte == nil {
		return
	}
	e.handlers.WriteByte(addr, v)
}

// WriteWord writes the little-endian word v at addr.
func (s *Space) WriteWord(addr uint32, v uint16) {
	e := s.find(addr)
	if e == nil {
		return
	}
	if e.handlers.WriteWord != nil {
		e.handlers.WriteWord(addr, v)
		return
	}
	s.WriteByte(addr, uint8(v))
	s.WriteByte(addr+1, uint8(v>>8))
	s.chargeBytes(2)
}

// WriteLong writes the little-endian dword v at addr.
func (s *Space) WriteLong(addr uint32, v uint32) {
	e := s.find(addr)
	if e == nil {
		return
	}
	if e.handlers.WriteLong != nil {
		e.handlers.WriteLong(addr, v)
		return
	}
	s.WriteWord(addr, uint16(v))
	s.WriteWord(addr+2, uint16(v>>16))
	s.chargeBytes(4)
}

// ReadBytes fills dst from consecutive addresses starting at addr, one byte
// access per element — used by bulk copy paths (bus-master DMA, SG
// fetches) that want ordinary byte semantics rather than an atomic wide op.
func (s *Space) ReadBytes(addr uint32, dst []byte) {
	for i := range dst {
		dst[i] = s.ReadByte(addr + uint32(i))
	}
}

// WriteBytes writes src to consecutive addresses starting at addr.
func (s *Space) WriteBytes(addr uint32, src []byte) {
	for i, b := range src {
		s.WriteByte(addr+uint32(i), b)
	}
}

func (s *Space) String() string {
	return fmt.Sprintf("bus.Space(%s, %d ranges)", s.name, len(s.entries))
}
