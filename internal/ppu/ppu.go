package ppu

import (
	"bytes"
	"encoding/gob"
)

// InterruptRequester is a callback signature to request IF bits (0:VBlank, 1:STAT, etc.).
type InterruptRequester func(bit int)

// LineRegs is a snapshot of the registers that affect rendering,
// captured once mode 3 begins for a given scanline so the compositor
// never has to worry about mid-instruction register writes tearing a
// line that's already being drawn.
type LineRegs struct {
	SCX, SCY, WX, WY, LCDC, BGP, OBP0, OBP1 byte
	WinLine                                 int
	WindowActive                            bool
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, and basic timing.
// It exposes CPU-facing Read/Write for VRAM/OAM and PPU IO regs.
type PPU struct {
	// memory
	vram [0x2000]byte // 0x8000–0x9FFF
	oam  [0xA0]byte   // 0xFE00–0xFE9F

	// regs
	lcdc byte // FF40
	stat byte // FF41 (mode bits 0-1, coincidence flag bit2, enables bits3-6)
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // dots within current line [0..455]

	// shortLine marks the first line after an LCD enable: the pixel
	// pipeline skips its initial tile fetch on that line, so mode 3
	// runs 8 dots short before HBlank. Cleared when the line wraps.
	shortLine bool

	winLineCounter int // internal WLY counter, advances only on lines the window actually draws
	lineRegs       [154]LineRegs

	pixels [144][160]byte // 2-bit palette indices, written one scanline at a time at HBlank entry

	// statLine is the level of the internal STAT interrupt line: the OR
	// of all enabled sources. The IRQ fires only on its rising edge, so
	// e.g. an LYC match while the HBlank condition already holds the
	// line high must not fire again.
	statLine bool

	req InterruptRequester
}

func New(req InterruptRequester) *PPU { return &PPU{req: req, winLineCounter: -1} }

// CPURead returns bytes for VRAM, OAM, and PPU IO registers. Returns 0xFF for others.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		// VRAM is inaccessible to CPU during mode 3 (return 0xFF)
		if (p.stat & 0x03) == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		// OAM is inaccessible during modes 2 and 3
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		// On DMG, bit7 reads as 1; bit6..3 are enables; bit2 coincidence; bit1..0 mode
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// CPUWrite handles writes to VRAM, OAM, and PPU IO regs. Others are ignored here.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if (p.stat & 0x03) == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		m := p.stat & 0x03
		if m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if (p.lcdc&0x80) == 0 && (prev&0x80) != 0 {
			// Turning LCD off resets LY/mode and shows white.
			p.ly = 0
			p.dot = 0
			p.setMode(0)
			p.updateLYC()
			p.pixels = [144][160]byte{}
		} else if (p.lcdc&0x80) != 0 && (prev&0x80) == 0 {
			// Turning LCD on: start at LY=0, mode 2 (OAM), with a
			// shortened mode 3 on this first line.
			p.ly = 0
			p.dot = 0
			p.winLineCounter = -1
			p.shortLine = true
			p.setMode(2)
			p.updateLYC()
		}
		p.checkSTATLine()
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
		p.checkSTATLine()
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly = 0
		p.dot = 0
		p.updateLYC()
		if (p.lcdc & 0x80) != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// DMAWrite stores a byte into OAM on behalf of the DMA engine, which
// is not subject to the CPU-side mode gating.
func (p *PPU) DMAWrite(addr uint16, value byte) {
	if addr >= 0xFE00 && addr <= 0xFE9F {
		p.oam[addr-0xFE00] = value
	}
}

// Tick advances PPU state by the given number of dots (CPU cycles).
func (p *PPU) Tick(cycles int) {
	if cycles <= 0 {
		return
	}
	for i := 0; i < cycles; i++ {
		if (p.lcdc & 0x80) == 0 { // LCD off
			continue
		}
		p.dot++
		// Mode scheduling
		mode3End := 80 + 172
		if p.shortLine {
			mode3End -= 8
		}
		var mode byte
		if p.ly >= 144 {
			mode = 1
		} else {
			switch {
			case p.dot < 80:
				mode = 2
			case p.dot < mode3End:
				mode = 3
			default:
				mode = 0
			}
		}
		prevMode := p.stat & 0x03
		p.setMode(mode)
		if mode == 3 && prevMode != 3 {
			p.captureLineRegs()
		}
		if mode == 0 && prevMode == 3 {
			p.renderScanline()
		}

		if p.dot >= 456 {
			p.dot = 0
			p.shortLine = false
			p.ly++
			if p.ly == 144 {
				// Enter VBlank
				if p.req != nil {
					p.req(0)
				}
			} else if p.ly > 153 {
				p.ly = 0
				p.winLineCounter = -1
			}
			p.updateLYC()
			// Set mode for new line start (dot=0)
			if p.ly >= 144 {
				p.setMode(1)
			} else {
				p.setMode(2)
			}
		}
	}
}

func (p *PPU) setMode(mode byte) {
	prev := p.stat & 0x03
	if prev == mode {
		return
	}
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
	p.checkSTATLine()
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
	p.checkSTATLine()
}

// statLineLevel computes the current level of the STAT interrupt line:
// the OR of every enabled source for the current mode and LY==LYC
// state. A disabled LCD holds the line low.
func (p *PPU) statLineLevel() bool {
	if p.lcdc&0x80 == 0 {
		return false
	}
	line := false
	switch p.stat & 0x03 {
	case 0:
		line = p.stat&(1<<3) != 0
	case 1:
		line = p.stat&(1<<4) != 0
	case 2:
		line = p.stat&(1<<5) != 0
	}
	if p.stat&(1<<2) != 0 && p.stat&(1<<6) != 0 {
		line = true
	}
	return line
}

// checkSTATLine re-evaluates the interrupt line and requests the STAT
// IRQ on a rising edge only.
func (p *PPU) checkSTATLine() {
	line := p.statLineLevel()
	if line && !p.statLine && p.req != nil {
		p.req(1)
	}
	p.statLine = line
}

// vramView adapts the PPU's VRAM array to the VRAMReader interface
// used by the scanline/fetcher/sprite helpers; addr is a full CPU
// address (0x8000-based), matching how tiles and tile maps are
// addressed everywhere else in this package.
type vramView struct{ p *PPU }

func (v vramView) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return v.p.vram[addr-0x8000]
}

// captureLineRegs snapshots the registers mode 3 will render with and
// advances the internal window-line counter if the window is active
// on this scanline.
func (p *PPU) captureLineRegs() {
	ly := int(p.ly)
	winXStart := int(p.wx) - 7
	active := (p.lcdc&0x20) != 0 && int(p.wy) <= ly && winXStart < 160
	winLine := 0
	if active {
		p.winLineCounter++
		winLine = p.winLineCounter
	}
	p.lineRegs[ly] = LineRegs{
		SCX: p.scx, SCY: p.scy, WX: p.wx, WY: p.wy,
		LCDC: p.lcdc, BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WinLine:      winLine,
		WindowActive: active,
	}
}

// LineRegs returns the registers captured when mode 3 began for ly,
// exposed for tests and for debug overlays.
func (p *PPU) LineRegs(ly int) LineRegs {
	if ly < 0 || ly >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[ly]
}

// renderScanline composes BG, window, and OBJ layers for the line that
// just finished mode 3, applying palette lookup, and writes the result
// into the indexed pixel buffer. Called once per visible scanline at
// the mode3->HBlank transition.
func (p *PPU) renderScanline() {
	ly := int(p.ly)
	if ly >= 144 {
		return
	}
	lr := p.lineRegs[ly]
	mem := vramView{p}

	var bgci [160]byte
	if lr.LCDC&0x01 != 0 {
		mapBase := uint16(0x9800)
		if lr.LCDC&0x08 != 0 {
			mapBase = 0x9C00
		}
		tileData8000 := lr.LCDC&0x10 != 0
		bgci = RenderBGScanlineUsingFetcher(mem, mapBase, tileData8000, lr.SCX, lr.SCY, byte(ly))
	}
	if lr.WindowActive {
		winMapBase := uint16(0x9800)
		if lr.LCDC&0x40 != 0 {
			winMapBase = 0x9C00
		}
		tileData8000 := lr.LCDC&0x10 != 0
		winXStart := int(lr.WX) - 7
		win := RenderWindowScanlineUsingFetcher(mem, winMapBase, tileData8000, winXStart, byte(lr.WinLine))
		for x := winXStart; x < 160; x++ {
			if x < 0 {
				continue
			}
			bgci[x] = win[x]
		}
	}

	final := bgci
	if lr.LCDC&0x02 != 0 {
		height := 8
		if lr.LCDC&0x04 != 0 {
			height = 16
		}
		sprites := ScanOAM(&p.oam, ly, height)
		objci := ComposeSpriteLine(mem, sprites, ly, bgci, height == 16)
		for x := 0; x < 160; x++ {
			ci := objci[x] & 0x03
			if ci == 0 {
				continue
			}
			pal := lr.OBP0
			if objci[x]&0x10 != 0 {
				pal = lr.OBP1
			}
			final[x] = (pal >> (ci * 2)) & 0x03
			continue
		}
		// BG/window pixels not covered by a sprite still need BG palette applied below.
		for x := 0; x < 160; x++ {
			if objci[x]&0x03 != 0 {
				continue
			}
			final[x] = (lr.BGP >> (bgci[x] * 2)) & 0x03
		}
	} else {
		for x := 0; x < 160; x++ {
			final[x] = (lr.BGP >> (bgci[x] * 2)) & 0x03
		}
	}
	p.pixels[ly] = final
}

// Frame returns the current indexed (0..3) framebuffer, one byte per
// pixel, row-major 160x144. The host applies whatever 4-color palette
// it likes; the core never picks colors itself.
func (p *PPU) Frame() [144][160]byte { return p.pixels }

// Expose palettes and scroll for renderer convenience (optional helpers)
func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }

// --- Save/Load state ---
type ppuState struct {
	VRAM                          [0x2000]byte
	OAM                           [0xA0]byte
	LCDC, STAT, SCY, SCX, LY, LYC byte
	BGP, OBP0, OBP1, WY, WX       byte
	Dot                           int
	ShortLine                     bool
	WinLineCounter                int
	Pixels                        [144][160]byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := ppuState{
		VRAM: p.vram, OAM: p.oam,
		LCDC: p.lcdc, STAT: p.stat, SCY: p.scy, SCX: p.scx, LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1, WY: p.wy, WX: p.wx,
		Dot: p.dot, ShortLine: p.shortLine,
		WinLineCounter: p.winLineCounter, Pixels: p.pixels,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	p.vram, p.oam = s.VRAM, s.OAM
	p.lcdc, p.stat, p.scy, p.scx, p.ly, p.lyc = s.LCDC, s.STAT, s.SCY, s.SCX, s.LY, s.LYC
	p.bgp, p.obp0, p.obp1, p.wy, p.wx = s.BGP, s.OBP0, s.OBP1, s.WY, s.WX
	p.dot = s.Dot
	p.shortLine = s.ShortLine
	p.winLineCounter = s.WinLineCounter
	p.pixels = s.Pixels
	p.statLine = p.statLineLevel()
}
