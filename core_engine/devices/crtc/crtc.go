// Package crtc implements the CRTC register set and CGA-family pixel
// pipeline (§4.5): a 32-register timing generator driving a polling event
// pair (dispon/dispoff), text and graphics line renderers, a composite
// post-process stage, line doubling, and snow emulation.
package crtc

import (
	"math"
	"sync"

	"github.com/v-architect/pcbus-core/core_engine/bus"
	"github.com/v-architect/pcbus-core/core_engine/device"
	"github.com/v-architect/pcbus-core/core_engine/event"
	"github.com/v-architect/pcbus-core/core_engine/sinks"
	"github.com/v-architect/pcbus-core/core_engine/timebase"
)

// Config describes one CRTC instance and the card it drives.
type Config struct {
	IndexPort, DataPort              uint16
	ModePort, ColorPort, StatusPort  uint16
	VRAMBase                         uint32
	CharWidth                        int // dots per character column, 8 or 9
	CharPeriodTicks                  int64
	ColorMode                        ColorMode
	DoubleMode                       DoubleMode
	SnowEnabled                      bool
	// VendorRegisters, when set, handles CRTC index reads/writes for
	// indices 16..31 (InColor/Sigma-style vendor extensions) instead of
	// the plain register file; without it those indices are stored
	// unmasked in the register file.
	VendorRegisters func(index int, write bool, val byte) byte
}

// cgaPalette is the standard 16-colour CGA RGB table, one RGB24 triple per
// index (bit 3 selects the bright half of the palette).
var cgaPalette = [16][3]byte{
	{0x00, 0x00, 0x00}, {0x00, 0x00, 0xAA}, {0x00, 0xAA, 0x00}, {0x00, 0xAA, 0xAA},
	{0xAA, 0x00, 0x00}, {0xAA, 0x00, 0xAA}, {0xAA, 0x55, 0x00}, {0xAA, 0xAA, 0xAA},
	{0x55, 0x55, 0x55}, {0x55, 0x55, 0xFF}, {0x55, 0xFF, 0x55}, {0x55, 0xFF, 0xFF},
	{0xFF, 0x55, 0x55}, {0xFF, 0x55, 0xFF}, {0xFF, 0xFF, 0x55}, {0xFF, 0xFF, 0xFF},
}

// Controller is one CRTC + pixel pipeline instance.
type Controller struct {
	lock sync.Mutex

	cfg   Config
	sched *event.Scheduler
	clock *timebase.Clock
	owner int64

	display sinks.DisplaySink
	font    sinks.FontROM

	vram [vramSize]byte

	crtcIndex byte
	crtc      [numRegisters]byte
	mode      byte
	colorSel  byte
	status    byte

	dispOn        bool
	dispOnEvent   event.Handle
	dispOnArmedAt int64

	vc, sc    int
	vAdjust   int
	displine  int
	blinkTick int

	lines [][]byte // accumulated scanlines for the in-progress frame
	width int

	interpSRGB [256][256]byte

	Debug bool
}

// New builds a disarmed Controller; call Create to start the polling event.
func New(cfg Config, sched *event.Scheduler, clock *timebase.Clock, display sinks.DisplaySink, font sinks.FontROM) *Controller {
	if cfg.CharWidth == 0 {
		cfg.CharWidth = 8
	}
	if cfg.CharPeriodTicks == 0 {
		cfg.CharPeriodTicks = 1
	}
	c := &Controller{cfg: cfg, sched: sched, clock: clock, display: display, font: font}
	c.owner = sched.NewOwner()
	c.dispOnEvent = sched.New(c.owner, c.onEvent)
	computeSRGBInterp(&c.interpSRGB)
	return c
}

func (c *Controller) Metadata() device.Metadata {
	return device.Metadata{Name: "crtc", Version: "cga-family"}
}

func (c *Controller) Create() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.armDispOn()
	return nil
}

func (c *Controller) Tick() {}

func (c *Controller) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sched.Disarm(c.dispOnEvent)
}

func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.crtcIndex, c.mode, c.colorSel, c.status = 0, 0, 0, 0
	c.crtc = [numRegisters]byte{}
	c.vc, c.sc, c.vAdjust, c.displine, c.blinkTick = 0, 0, 0, 0, 0
	c.dispOn = false
	c.lines = nil
}

// HandleIO dispatches the index/data/mode/colour-select/status ports.
func (c *Controller) HandleIO(port uint16, direction uint8, size uint8, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	switch port {
	case c.cfg.IndexPort:
		if direction == bus.DirectionOut {
			c.crtcIndex = data[0] & 0x1f
		} else {
			data[0] = c.crtcIndex
		}
	case c.cfg.DataPort:
		if direction == bus.DirectionOut {
			c.writeCRTCLocked(int(c.crtcIndex), data[0])
		} else {
			data[0] = c.readCRTCLocked(int(c.crtcIndex))
		}
	case c.cfg.ModePort:
		if direction == bus.DirectionOut {
			c.mode = data[0]
		} else {
			data[0] = c.mode
		}
	case c.cfg.ColorPort:
		if direction == bus.DirectionOut {
			c.colorSel = data[0]
		} else {
			data[0] = c.colorSel
		}
	case c.cfg.StatusPort:
		if direction == bus.DirectionIn {
			data[0] = c.status
		}
	}
	return nil
}

func (c *Controller) writeCRTCLocked(idx int, val byte) {
	if idx >= 16 {
		if c.cfg.VendorRegisters != nil {
			c.cfg.VendorRegisters(idx, true, val)
			return
		}
		c.crtc[idx] = val
		return
	}
	c.crtc[idx] = val & regMask[idx]
}

func (c *Controller) readCRTCLocked(idx int) byte {
	if idx >= 16 {
		if c.cfg.VendorRegisters != nil {
			return c.cfg.VendorRegisters(idx, false, 0)
		}
		return c.crtc[idx]
	}
	return c.crtc[idx]
}

// ReadVRAM and WriteVRAM are installed directly as bus.Handlers against
// the memory space covering [VRAMBase, VRAMBase+vramSize).
func (c *Controller) ReadVRAM(addr uint32) byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.snowCorruptLocked()
	off := (addr - c.cfg.VRAMBase) & vramMask
	return c.vram[off]
}

func (c *Controller) WriteVRAM(addr uint32, v byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.snowCorruptLocked()
	off := (addr - c.cfg.VRAMBase) & vramMask
	c.vram[off] = v
}

// snowCorruptLocked implements the documented-but-unverified snow
// heuristic: a VRAM access during dispon corrupts the byte at a column
// derived from the time remaining until the next dispoff transition.
func (c *Controller) snowCorruptLocked() {
	if !c.cfg.SnowEnabled || !c.dispOn {
		return
	}
	hdisp := int(c.crtc[RegHDisplayed])
	if hdisp == 0 {
		return
	}
	elapsed := c.clock.Now() - c.dispOnArmedAt
	remaining := c.dispOnTicksLocked() - elapsed
	if remaining < 0 {
		remaining = 0
	}
	col := int(remaining>>2) % hdisp
	rowBase := (int(c.crtc[RegStartAddrHi])<<8 | int(c.crtc[RegStartAddrLo])) + c.vc*hdisp
	memAddr := (rowBase + col) & vramMask
	c.vram[memAddr*2] ^= byte(remaining)
}

func (c *Controller) dispOnTicksLocked() int64 {
	return int64(c.crtc[RegHDisplayed]) * c.cfg.CharPeriodTicks
}

func (c *Controller) dispOffTicksLocked() int64 {
	total := int64(c.crtc[RegHTotal]) + 1
	hdisp := int64(c.crtc[RegHDisplayed])
	off := total - hdisp
	if off < 1 {
		off = 1
	}
	return off * c.cfg.CharPeriodTicks
}

func (c *Controller) armDispOn() {
	c.dispOnArmedAt = c.clock.Now()
	c.sched.Arm(c.dispOnEvent, 0, 0)
}

func (c *Controller) armDispOff() {
	c.sched.Arm(c.dispOnEvent, c.dispOffTicksLocked(), 1)
}

// onEvent is the scheduler callback for the two-phase dispon/dispoff
// polling event; arg 0 means "entering dispon" and arg 1 "entering
// dispoff", matching §4.5's "polling event at one of two deadlines".
func (c *Controller) onEvent(arg int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if arg == 0 {
		c.status &^= StatusDisplayDisabled
		c.dispOn = int(c.vc) < int(c.crtc[RegVDisplayed])
		if c.dispOn {
			c.renderLineLocked()
			c.displine++
		}
		c.armDispOff()
		return
	}

	c.status |= StatusDisplayDisabled
	c.sc++
	maxScan := int(c.crtc[RegMaxScanLine] & 0x1f)
	if c.sc > maxScan {
		c.sc = 0
		c.vc++
		vtotal := int(c.crtc[RegVTotal])
		if c.vc > vtotal {
			if c.vAdjust < int(c.crtc[RegVTotalAdjust]) {
				c.vAdjust++
			} else {
				c.vAdjust = 0
				c.vc = 0
				c.sc = 0
				c.displine = 0
				c.flushFrameLocked()
			}
		}
	}
	c.blinkTick = (c.blinkTick + 1) % (blinkFrames * 2)
	c.armDispOn()
}

// renderLineLocked renders exactly one scan line into c.lines, dispatching
// to the text or graphics renderer per the mode register.
func (c *Controller) renderLineLocked() {
	hdisp := int(c.crtc[RegHDisplayed])
	if hdisp == 0 {
		return
	}
	width := hdisp * c.cfg.CharWidth
	line := make([]byte, width*3)
	if c.mode&ModeGraphics != 0 {
		c.renderGraphicsLineLocked(line, hdisp)
	} else {
		c.renderTextLineLocked(line, hdisp)
	}
	if c.cfg.ColorMode == ColorComposite {
		c.compositeProcessLocked(line)
	}
	c.width = width
	c.lines = append(c.lines, line)
}

func (c *Controller) startAddr() int {
	return int(c.crtc[RegStartAddrHi])<<8 | int(c.crtc[RegStartAddrLo])
}

func (c *Controller) cursorAddr() int {
	return int(c.crtc[RegCursorAddrHi])<<8 | int(c.crtc[RegCursorAddrLo])
}

func (c *Controller) renderTextLineLocked(line []byte, hdisp int) {
	rowBase := c.startAddr() + c.vc*hdisp
	cursorOn := c.cursorVisibleLocked()
	cursorAt := c.cursorAddr()
	for col := 0; col < hdisp; col++ {
		memAddr := (rowBase + col) & vramMask
		ch := c.vram[memAddr*2]
		attr := c.vram[memAddr*2+1]
		fg := attr & 0x0f
		bg := (attr >> 4) & 0x07
		if c.mode&ModeBlink != 0 && attr&0x80 != 0 && c.blinkTick >= blinkFrames {
			fg = bg
		}
		glyph := c.font.Glyph(0, ch, c.sc)
		isCursor := cursorOn && memAddr == cursorAt
		for dot := 0; dot < c.cfg.CharWidth; dot++ {
			bit := dot
			if bit > 7 {
				bit = 7
			}
			set := glyph&(0x80>>uint(bit)) != 0
			if isCursor {
				set = !set
			}
			idx := bg
			if set {
				idx = fg
			}
			rgb := cgaPalette[idx&0x0f]
			o := (col*c.cfg.CharWidth + dot) * 3
			line[o], line[o+1], line[o+2] = rgb[0], rgb[1], rgb[2]
		}
	}
}

func (c *Controller) cursorVisibleLocked() bool {
	start := c.crtc[RegCursorStart]
	end := c.crtc[RegCursorEnd]
	if start&0x20 != 0 { // cursor disabled
		return false
	}
	sc := byte(c.sc)
	return sc >= (start&0x1f) && sc <= (end&0x1f) && (c.blinkTick/8)%2 == 0
}

// renderGraphicsLineLocked unpacks bpp-wide pixels from the interleaved
// plane layout, advancing memory-address by one per column (two for
// 80-column addressing when the mode register requests it).
func (c *Controller) renderGraphicsLineLocked(line []byte, hdisp int) {
	bpp := 2
	if c.mode&ModeHiResGfx != 0 {
		bpp = 1
	}
	step := 1
	if c.mode&ModeHighRes != 0 {
		step = 2
	}
	rowBase := c.startAddr()
	planeOffset := (c.sc & 1) * 0x2000
	pixelsPerByte := 8 / bpp
	memAddr := rowBase
	pixel := 0
	for col := 0; col < hdisp && pixel < hdisp*pixelsPerByte; col++ {
		addr := (planeOffset + (memAddr >> 1)) & vramMask
		b := c.vram[addr]
		for p := 0; p < pixelsPerByte && pixel < hdisp*pixelsPerByte; p++ {
			shift := uint(8 - bpp - p*bpp)
			idx := (b >> shift) & byte((1<<uint(bpp))-1)
			rgb := cgaPalette[idx&0x0f]
			o := pixel * 3
			if o+2 < len(line) {
				line[o], line[o+1], line[o+2] = rgb[0], rgb[1], rgb[2]
			}
			pixel++
		}
		memAddr += step
	}
}

// compositeProcessLocked is a post-process over the raw RGB line: each
// group of four adjacent pixels is folded into one NTSC-derived sample by
// averaging, an inexpensive stand-in for the real comb-filter LUT that
// still keeps the stage orthogonal to the line renderer.
func (c *Controller) compositeProcessLocked(line []byte) {
	for i := 0; i+11 < len(line); i += 12 {
		var r, g, b int
		for k := 0; k < 4; k++ {
			r += int(line[i+k*3])
			g += int(line[i+k*3+1])
			b += int(line[i+k*3+2])
		}
		r, g, b = r/4, g/4, b/4
		for k := 0; k < 4; k++ {
			line[i+k*3], line[i+k*3+1], line[i+k*3+2] = byte(r), byte(g), byte(b)
		}
	}
}

// flushFrameLocked applies line doubling and hands the finished frame to
// the display sink.
func (c *Controller) flushFrameLocked() {
	if len(c.lines) == 0 || c.display == nil {
		c.lines = nil
		return
	}
	out := c.doubleLinesLocked()
	pixels := make([]byte, 0, len(out)*c.width*3)
	for _, l := range out {
		pixels = append(pixels, l...)
	}
	c.display.Blit(0, 0, c.width, len(out), pixels)
	c.lines = nil
}

// doubleLinesLocked optionally emits two output lines per raw line: an
// identical pair, a blend of this line and the next in the sRGB domain, or
// a blend in linear light. The last raw line blends with itself.
func (c *Controller) doubleLinesLocked() [][]byte {
	if c.cfg.DoubleMode == DoubleNone {
		return c.lines
	}
	out := make([][]byte, 0, len(c.lines)*2)
	for i, l := range c.lines {
		next := l
		if i+1 < len(c.lines) {
			next = c.lines[i+1]
		}
		out = append(out, l)
		switch c.cfg.DoubleMode {
		case DoubleInterpolateSRGB:
			out = append(out, c.blendSRGB(l, next))
		case DoubleInterpolateLinear:
			out = append(out, c.blendLinear(l, next))
		default: // DoubleSimple
			cp := make([]byte, len(l))
			copy(cp, l)
			out = append(out, cp)
		}
	}
	return out
}

func (c *Controller) blendSRGB(a, b []byte) []byte {
	blended := make([]byte, len(a))
	for j := range blended {
		if j < len(b) {
			blended[j] = c.interpSRGB[a[j]][b[j]]
		}
	}
	return blended
}

func (c *Controller) blendLinear(a, b []byte) []byte {
	blended := make([]byte, len(a))
	for j := range blended {
		if j < len(b) {
			blended[j] = byte((linearize(a[j]) + linearize(b[j])) / 2)
		}
	}
	return blended
}

func linearize(v byte) float64 {
	x := float64(v) / 255.0
	return math.Pow(x, 2.2) * 255.0
}

// computeSRGBInterp fills the 256x256 sRGB-domain blend LUT once, per
// §4.5's "LUTs are computed once at startup".
func computeSRGBInterp(lut *[256][256]byte) {
	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			fa := math.Pow(float64(a)/255.0, 2.199)
			fb := math.Pow(float64(b)/255.0, 2.199)
			blended := (fa + fb) / 2
			lut[a][b] = byte(math.Pow(blended, 1.0/2.199) * 255.0)
		}
	}
}
