package bus_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/bus"
)

func TestWriteThenReadObservesEffect(t *testing.T) {
	s := bus.NewSpace("test")
	mem := make(map[uint32]uint8)
	s.Install(0x300, 8, bus.Handlers{
		ReadByte:  func(addr uint32) uint8 { return mem[addr] },
		WriteByte: func(addr uint32, v uint8) { mem[addr] = v },
	})

	s.WriteByte(0x303, 0x42)
	if got := s.ReadByte(0x303); got != 0x42 {
		t.Fatalf("ReadByte = %#x, want 0x42", got)
	}
}

func TestOverlappingInstallNewestWins(t *testing.T) {
	s := bus.NewSpace("test")
	s.Install(0x3F8, 8, bus.Handlers{
		ReadByte: func(addr uint32) uint8 { return 0xAA },
	})
	tok := s.Install(0x3F8, 1, bus.Handlers{
		ReadByte: func(addr uint32) uint8 { return 0xBB },
	})

	if got := s.ReadByte(0x3F8); got != 0xBB {
		t.Fatalf("ReadByte = %#x, want 0xBB (newest install)", got)
	}
	if got := s.ReadByte(0x3F9); got != 0xAA {
		t.Fatalf("ReadByte(0x3F9) = %#x, want 0xAA (outside newer range)", got)
	}

	s.Remove(tok)
	if got := s.ReadByte(0x3F8); got != 0xAA {
		t.Fatalf("after removal ReadByte = %#x, want 0xAA (fall back to older)", got)
	}
}

func TestMissingAddressReadsAllOnesAndDiscardsWrites(t *testing.T) {
	s := bus.NewSpace("test")
	if got := s.ReadByte(0x1234); got != 0xFF {
		t.Fatalf("ReadByte(unmapped) = %#x, want 0xFF", got)
	}
	if got := s.ReadWord(0x1234); got != 0xFFFF {
		t.Fatalf("ReadWord(unmapped) = %#x, want 0xFFFF", got)
	}
	if got := s.ReadLong(0x1234); got != 0xFFFFFFFF {
		t.Fatalf("ReadLong(unmapped) = %#x, want 0xFFFFFFFF", got)
	}
	s.WriteByte(0x1234, 0x99) // must not panic; nothing to observe
}

func TestWordAndLongSynthesisIsLittleEndian(t *testing.T) {
	s := bus.NewSpace("test")
	mem := make(map[uint32]uint8)
	s.Install(0, 16, bus.Handlers{
		ReadByte:  func(addr uint32) uint8 { return mem[addr] },
		WriteByte: func(addr uint32, v uint8) { mem[addr] = v },
	})

	s.WriteWord(4, 0x1234)
	if mem[4] != 0x34 || mem[5] != 0x12 {
		t.Fatalf("mem[4:6] = %#x %#x, want 34 12", mem[4], mem[5])
	}
	if got := s.ReadWord(4); got != 0x1234 {
		t.Fatalf("ReadWord = %#x, want 0x1234", got)
	}

	s.WriteLong(8, 0xAABBCCDD)
	want := []uint8{0xDD, 0xCC, 0xBB, 0xAA}
	for i, w := range want {
		if mem[8+uint32(i)] != w {
			t.Fatalf("mem[%d] = %#x, want %#x", 8+i, mem[8+uint32(i)], w)
		}
	}
	if got := s.ReadLong(8); got != 0xAABBCCDD {
		t.Fatalf("ReadLong = %#x, want 0xAABBCCDD", got)
	}
}

func TestWideHandlerTakesPriorityOverSynthesis(t *testing.T) {
	s := bus.NewSpace("test")
	var wideCalled bool
	s.Install(0, 4, bus.Handlers{
		ReadByte: func(addr uint32) uint8 { return 0 },
		ReadWord: func(addr uint32) uint16 { wideCalled = true; return 0xBEEF },
	})
	if got := s.ReadWord(0); got != 0xBEEF || !wideCalled {
		t.Fatalf("ReadWord = %#x, wideCalled = %v", got, wideCalled)
	}
}

func TestRemoveOwnerDropsAllOfOneDevicesRanges(t *testing.T) {
	s := bus.NewSpace("test")
	type dev struct{ id int }
	owner := &dev{}
	s.Install(0x10, 4, bus.Handlers{ReadByte: func(uint32) uint8 { return 1 }, Context: owner})
	s.Install(0x20, 4, bus.Handlers{ReadByte: func(uint32) uint8 { return 2 }, Context: owner})
	s.Install(0x30, 4, bus.Handlers{ReadByte: func(uint32) uint8 { return 3 }, Context: &dev{}})

	s.RemoveOwner(owner)

	if got := s.ReadByte(0x10); got != 0xFF {
		t.Fatalf("ReadByte(0x10) = %#x, want 0xFF after RemoveOwner", got)
	}
	if got := s.ReadByte(0x30); got != 3 {
		t.Fatalf("ReadByte(0x30) = %#x, want 3 (other owner untouched)", got)
	}
}

func TestBulkReadWriteBytes(t *testing.T) {
	s := bus.NewSpace("test")
	mem := make(map[uint32]uint8)
	s.Install(0, 256, bus.Handlers{
		ReadByte:  func(addr uint32) uint8 { return mem[addr] },
		WriteByte: func(addr uint32, v uint8) { mem[addr] = v },
	})

	src := []byte{1, 2, 3, 4, 5}
	s.WriteBytes(0x10, src)
	dst := make([]byte, len(src))
	s.ReadBytes(0x10, dst)
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("dst[%d] = %d, want %d", i, dst[i], src[i])
		}
	}
}
