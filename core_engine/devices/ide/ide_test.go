package ide_test

import (
	"testing"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/devices/ide"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/interrupt"
)

type fakeDisk struct {
	sectors map[uint64][512]byte
}

func newFakeDisk() *fakeDisk { return &fakeDisk{sectors: map[uint64][512]byte{}} }

func (f *fakeDisk) ReadSectors(id int, lba uint64, count int, buf []byte) int {
	for i := 0; i < count; i++ {
		s := f.sectors[lba+uint64(i)]
		copy(buf[i*512:(i+1)*512], s[:])
	}
	return count
}

func (f *fakeDisk) WriteSectors(id int, lba uint64, count int, buf []byte) int {
	for i := 0; i < count; i++ {
		var s [512]byte
		copy(s[:], buf[i*512:(i+1)*512])
		f.sectors[lba+uint64(i)] = s
	}
	return count
}

func (f *fakeDisk) ZeroSectors(id int, lba uint64, count int) int {
	for i := 0; i < count; i++ {
		f.sectors[lba+uint64(i)] = [512]byte{}
	}
	return count
}

func newTestController(t *testing.T) (*ide.Controller, *fakeDisk, func(delta int64)) {
	t.Helper()
	var now int64
	sched := event.New(func() int64 { return now })
	agg := interrupt.New()
	disk := newFakeDisk()
	c := ide.New(ide.Config{
		BasePort: 0x1F0,
		CtrlPort: 0x3F6,
		IRQLine:  14,
		Logical:  ide.Geometry{Cylinders: 100, Heads: 16, SectorsPerTrack: 63},
		ModelString:  "TESTDISK",
		SerialNumber: "SN001",
		FirmwareRev:  "1.0",
	}, disk, sched, agg)
	advance := func(delta int64) {
		now += delta
		sched.Tick()
	}
	return c, disk, advance
}

func writeTF(t *testing.T, c *ide.Controller, offset uint16, v byte) {
	t.Helper()
	if err := c.HandleIO(0x1F0+offset, bus.DirectionOut, 1, []byte{v}); err != nil {
		t.Fatalf("HandleIO out offset %d: %v", offset, err)
	}
}

func readTF(t *testing.T, c *ide.Controller, offset uint16) byte {
	t.Helper()
	out := make([]byte, 1)
	if err := c.HandleIO(0x1F0+offset, bus.DirectionIn, 1, out); err != nil {
		t.Fatalf("HandleIO in offset %d: %v", offset, err)
	}
	return out[0]
}

func TestIdentifyPopulatesDataBufferAndSetsDRQ(t *testing.T) {
	c, _, _ := newTestController(t)

	writeTF(t, c, ide.RegStatus, ide.CmdIdentify)

	status := readTF(t, c, ide.RegStatus)
	if status&ide.StatusDRQ == 0 {
		t.Fatalf("status = %#x, want DRQ set", status)
	}

	var words []byte
	out := make([]byte, 1)
	for i := 0; i < ide.SectorSize; i++ {
		if err := c.HandleIO(0x1F0, bus.DirectionIn, 1, out); err != nil {
			t.Fatalf("data read %d: %v", i, err)
		}
		words = append(words, out[0])
	}
	// Cylinder count word (offset 2 bytes in) should reflect the logical
	// geometry programmed at construction.
	got := int(words[2]) | int(words[3])<<8
	if got != 100 {
		t.Fatalf("identify cylinders word = %d, want 100", got)
	}
}

func TestDiagnoseResetsDriveSelectToZero(t *testing.T) {
	c, _, _ := newTestController(t)
	writeTF(t, c, ide.RegDriveHead, 0xB0) // select drive 1, head 0
	writeTF(t, c, ide.RegStatus, ide.CmdDiagnose)

	if got := readTF(t, c, ide.RegDriveHead); got != 0 {
		t.Fatalf("drive/head = %#x after diagnose, want 0", got)
	}
}

func TestReadSectorsAfterSeekTransfersDiskContent(t *testing.T) {
	c, disk, advance := newTestController(t)

	var sector [512]byte
	for i := range sector {
		sector[i] = byte(i)
	}
	disk.sectors[0] = sector

	writeTF(t, c, ide.RegSectorCount, 1)
	writeTF(t, c, ide.RegSectorNumber, 1)
	writeTF(t, c, ide.RegCylinderLow, 0)
	writeTF(t, c, ide.RegCylinderHigh, 0)
	writeTF(t, c, ide.RegDriveHead, 0)
	writeTF(t, c, ide.RegStatus, ide.CmdReadSectors)

	if status := readTF(t, c, ide.RegStatus); status&ide.StatusBSY == 0 {
		t.Fatal("status should be BSY immediately after issuing ReadSectors")
	}

	advance(100000)

	status := readTF(t, c, ide.RegStatus)
	if status&ide.StatusDRQ == 0 {
		t.Fatalf("status = %#x, want DRQ set after completion", status)
	}

	out := make([]byte, 1)
	for i := 0; i < 512; i++ {
		if err := c.HandleIO(0x1F0, bus.DirectionIn, 1, out); err != nil {
			t.Fatalf("data read %d: %v", i, err)
		}
		if out[0] != byte(i) {
			t.Fatalf("byte %d = %#x, want %#x", i, out[0], byte(i))
		}
	}
}

func TestWriteSectorsCommitsBufferToDisk(t *testing.T) {
	c, disk, advance := newTestController(t)

	writeTF(t, c, ide.RegSectorCount, 1)
	writeTF(t, c, ide.RegSectorNumber, 1)
	writeTF(t, c, ide.RegCylinderLow, 0)
	writeTF(t, c, ide.RegCylinderHigh, 0)
	writeTF(t, c, ide.RegDriveHead, 0)
	writeTF(t, c, ide.RegStatus, ide.CmdWriteSectors)
	advance(0) // let the zero-length seek to cylinder 0 complete

	status := readTF(t, c, ide.RegStatus)
	if status&ide.StatusDRQ == 0 {
		t.Fatalf("status = %#x, want DRQ set for data-out phase", status)
	}

	for i := 0; i < 512; i++ {
		if err := c.HandleIO(0x1F0, bus.DirectionOut, 1, []byte{byte(i)}); err != nil {
			t.Fatalf("data write %d: %v", i, err)
		}
	}

	advance(100000)

	got := disk.sectors[0]
	for i := 0; i < 512; i++ {
		if got[i] != byte(i) {
			t.Fatalf("disk byte %d = %#x, want %#x", i, got[i], byte(i))
		}
	}
	if status := readTF(t, c, ide.RegStatus); status&ide.StatusErr != 0 {
		t.Fatalf("status = %#x, want no error after write completes", status)
	}
}

func TestReadBeyondGeometryReportsIDNotFound(t *testing.T) {
	c, _, _ := newTestController(t)

	writeTF(t, c, ide.RegSectorCount, 1)
	writeTF(t, c, ide.RegSectorNumber, 1)
	writeTF(t, c, ide.RegCylinderLow, 0xFF)
	writeTF(t, c, ide.RegCylinderHigh, 0xFF)
	writeTF(t, c, ide.RegDriveHead, 0)
	writeTF(t, c, ide.RegStatus, ide.CmdReadSectors)

	status := readTF(t, c, ide.RegStatus)
	if status&ide.StatusErr == 0 {
		t.Fatalf("status = %#x, want ERR set for out-of-range cylinder", status)
	}
	if err := readTF(t, c, ide.RegError); err&ide.ErrIDNF == 0 {
		t.Fatalf("error register = %#x, want IDNF set", err)
	}
}

func TestRestoreWithNoGeometryReportsTrack0NotFound(t *testing.T) {
	sched := event.New(func() int64 { return 0 })
	agg := interrupt.New()
	c := ide.New(ide.Config{
		BasePort: 0x1F0,
		CtrlPort: 0x3F6,
		IRQLine:  14,
		// Zero-cylinder geometry stands in for "no drive present": a
		// recalibrate can never reach track 0.
	}, newFakeDisk(), sched, agg)

	writeTF(t, c, ide.RegCylinderLow, 0x12)
	writeTF(t, c, ide.RegCylinderHigh, 0x34)
	writeTF(t, c, ide.RegStatus, ide.CmdRestoreBase)

	status := readTF(t, c, ide.RegStatus)
	if status&ide.StatusErr == 0 {
		t.Fatalf("status = %#x, want ERR set for restore with no geometry", status)
	}
	if err := readTF(t, c, ide.RegError); err&ide.ErrTK0NF == 0 {
		t.Fatalf("error register = %#x, want TK0NF set", err)
	}
	if cl, ch := readTF(t, c, ide.RegCylinderLow), readTF(t, c, ide.RegCylinderHigh); cl != 0x12 || ch != 0x34 {
		t.Fatalf("cylinder regs = %#x/%#x, want unchanged after a failed restore", cl, ch)
	}
}

func TestRestoreZerosCylinderRegisters(t *testing.T) {
	c, _, _ := newTestController(t)

	writeTF(t, c, ide.RegCylinderLow, 0x12)
	writeTF(t, c, ide.RegCylinderHigh, 0x34)
	writeTF(t, c, ide.RegStatus, ide.CmdRestoreBase)

	status := readTF(t, c, ide.RegStatus)
	if status&ide.StatusErr != 0 {
		t.Fatalf("status = %#x, want no error for a normal restore", status)
	}
	if cl, ch := readTF(t, c, ide.RegCylinderLow), readTF(t, c, ide.RegCylinderHigh); cl != 0 || ch != 0 {
		t.Fatalf("cylinder regs = %#x/%#x, want zeroed after restore", cl, ch)
	}
}
