// Package emu wires the cpu, bus, and cart packages into the single
// host-facing Machine type: load a ROM, step whole frames, read back
// a framebuffer and audio samples, and save/load state. Everything
// outside this package (cmd/gbemu, internal/ui) only ever talks to
// Machine.
package emu

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/loop24/dmgo/internal/bus"
	"github.com/loop24/dmgo/internal/cart"
	"github.com/loop24/dmgo/internal/cpu"
)

// frameCycles is the number of T-cycles in one 59.7Hz DMG frame:
// 154 scanlines * 456 dots.
const frameCycles = 154 * 456

// Buttons is a full joypad snapshot for one frame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.Right {
		m |= 1 << 0
	}
	if b.Left {
		m |= 1 << 1
	}
	if b.Up {
		m |= 1 << 2
	}
	if b.Down {
		m |= 1 << 3
	}
	if b.A {
		m |= 1 << 4
	}
	if b.B {
		m |= 1 << 5
	}
	if b.Select {
		m |= 1 << 6
	}
	if b.Start {
		m |= 1 << 7
	}
	return m
}

// Machine owns one running DMG session: CPU, Bus (and everything the
// Bus wires), and the cartridge currently loaded.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	romBytes  []byte
	bootBytes []byte
	romPath   string
	header    *cart.Header

	fb []byte // RGBA 160x144*4

	compatPalette int
}

// New constructs a Machine with no cartridge loaded; LoadCartridge (or
// LoadROMFromFile) must be called before StepFrame.
func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, fb: make([]byte, 160*144*4)}
	m.bus = bus.New(nil)
	m.cpu = cpu.New(m.bus)
	m.cpu.ResetPostBoot(0)
	return m
}

// SetBootROM stages a DMG boot ROM image to be mapped at 0x0000 on the
// next LoadCartridge/ResetWithBoot, in place of the fake post-boot
// register seeding.
func (m *Machine) SetBootROM(data []byte) {
	if len(data) >= 0x100 {
		m.bootBytes = append([]byte(nil), data...)
	} else {
		m.bootBytes = nil
	}
}

// LoadCartridge parses rom's header, builds the matching cartridge
// (ROM-only/MBC1/MBC2/MBC3/MBC5) and wires a fresh Bus+CPU around it.
// boot, if non-empty, overrides any boot ROM staged via SetBootROM. An
// unparseable header (ROM too short to carry one) is reported here,
// never as a runtime panic; an unrecognized cartridge type falls back
// to ROM-only rather than erroring, since some homebrew/test ROMs rely
// on that.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return fmt.Errorf("load cartridge: %w", err)
	}
	if len(boot) >= 0x100 {
		m.bootBytes = append([]byte(nil), boot...)
	}

	m.romBytes = append([]byte(nil), rom...)
	m.header = h

	c := cart.NewCartridge(m.romBytes)
	m.bus = bus.NewWithCartridge(c)
	m.cpu = cpu.New(m.bus)

	if len(m.bootBytes) >= 0x100 {
		m.bus.SetBootROM(m.bootBytes)
		m.cpu.SetPC(0)
	} else {
		m.cpu.ResetPostBoot(h.HeaderChecksum)
	}

	if id, ok := autoCompatPaletteFromHeader(h); ok {
		m.compatPalette = normalizePaletteID(id)
	}
	return nil
}

// LoadROMFromFile reads path from disk and loads it as the current
// cartridge, using whatever boot ROM was previously staged via
// SetBootROM. It also records path for ROMPath()/battery-save naming.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rom: %w", err)
	}
	if err := m.LoadCartridge(data, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path LoadROMFromFile last loaded, or "".
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title, or "" if no ROM is
// loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// runFrame drives the CPU for one frame's worth of T-cycles, resuming
// from STOP once any joypad button is held and leaving HALT to the CPU's own
// interrupt-driven wakeup.
func (m *Machine) runFrame() {
	target := m.bus.Cycles() + frameCycles
	for m.bus.Cycles() < target {
		if m.cpu.Stopped() {
			if m.bus.Pressed() {
				m.cpu.ResumeFromStop()
			} else {
				m.bus.Tick(4)
				continue
			}
		}
		pc, ime := m.cpu.Regs.PC, m.cpu.IME
		m.cpu.Step()
		if m.cfg.Trace {
			log.Printf("PC=%04X IME=%t A=%02X F=%02X SP=%04X",
				pc, ime, m.cpu.Regs.A, m.cpu.Regs.F, m.cpu.Regs.SP)
		}
		if m.cpu.UndefinedOpcode {
			log.Print(m.cpu.Diagnostic())
			return
		}
	}
}

// StepFrame runs one frame and refreshes the RGBA framebuffer.
func (m *Machine) StepFrame() {
	m.runFrame()
	m.renderFramebuffer()
}

// StepFrameNoRender runs one frame without the RGBA conversion, for
// throughput-sensitive callers (conformance-test runners) that never
// read Framebuffer.
func (m *Machine) StepFrameNoRender() {
	m.runFrame()
}

// renderFramebuffer converts the PPU's 2-bit-per-pixel indexed frame
// into RGBA using the active compat palette.
func (m *Machine) renderFramebuffer() {
	pal := dmgPalettes[m.compatPalette]
	frame := m.bus.PPU().Frame()
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			ci := frame[y][x] & 0x03
			rgb := pal[ci]
			i := (y*160 + x) * 4
			m.fb[i+0] = rgb[0]
			m.fb[i+1] = rgb[1]
			m.fb[i+2] = rgb[2]
			m.fb[i+3] = 0xFF
		}
	}
}

// Framebuffer returns the current RGBA 160x144 frame, row-major,
// 4 bytes per pixel. The returned slice is owned by the Machine and
// is overwritten by the next StepFrame.
func (m *Machine) Framebuffer() []byte { return m.fb }

// SetButtons applies a full joypad snapshot for the next frame.
func (m *Machine) SetButtons(b Buttons) {
	m.bus.SetJoypadState(b.mask())
}

// SetSerialWriter routes bytes written to the serial port to w (used
// by blargg-style test ROMs that print results over the link cable).
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.bus.SetSerialWriter(w)
}

// ResetPostBoot restarts the current cartridge with the CPU/PPU seeded
// to their documented fake post-boot state (no boot ROM execution).
func (m *Machine) ResetPostBoot() {
	if m.romBytes == nil {
		return
	}
	boot := m.bootBytes
	m.bootBytes = nil
	_ = m.LoadCartridge(m.romBytes, nil)
	m.bootBytes = boot
}

// ResetWithBoot restarts the current cartridge and, if a boot ROM is
// staged, actually executes it from 0x0000 instead of fake-booting.
func (m *Machine) ResetWithBoot() {
	if m.romBytes == nil {
		return
	}
	_ = m.LoadCartridge(m.romBytes, m.bootBytes)
}

// ResetCGBPostBoot exists for UI compatibility with a CGB-capable
// host shell; this core never runs in CGB mode, so it is equivalent
// to ResetPostBoot regardless of the requested color mode.
func (m *Machine) ResetCGBPostBoot(wantColor bool) {
	m.ResetPostBoot()
}

// IsCGBCompat always reports false, whatever CGB compatibility the loaded
// cartridge declares. This core is DMG-only, so CGB-specific UI affordances
// (color BG palettes, double-speed) stay permanently gated off.
func (m *Machine) IsCGBCompat() bool { return false }

// WantCGBColors always reports false: there is no CGB color mode to
// toggle on a DMG-only core.
func (m *Machine) WantCGBColors() bool { return false }

// UseCGBBG always reports false, paired with WantCGBColors.
func (m *Machine) UseCGBBG() bool { return false }

// SetUseCGBBG is a no-op on this DMG-only core, kept so the shared UI
// code compiles unchanged.
func (m *Machine) SetUseCGBBG(bool) {}

// CurrentCompatPalette returns the active palette id (0-based, into
// the table in palette.go).
func (m *Machine) CurrentCompatPalette() int { return m.compatPalette }

// CompatPaletteName returns the display name of palette id.
func (m *Machine) CompatPaletteName(id int) string { return paletteName(normalizePaletteID(id)) }

// SetCompatPalette selects a palette by id, wrapping out-of-range ids.
func (m *Machine) SetCompatPalette(id int) { m.compatPalette = normalizePaletteID(id) }

// CycleCompatPalette advances the palette by delta (negative to go
// back), wrapping at the ends.
func (m *Machine) CycleCompatPalette(delta int) {
	m.compatPalette = normalizePaletteID(m.compatPalette + delta)
}

// APUBufferedStereo reports how many stereo sample pairs are queued.
func (m *Machine) APUBufferedStereo() int { return m.bus.APU().StereoAvailable() }

// APUPullStereo removes and returns up to max interleaved
// left/right int16 samples.
func (m *Machine) APUPullStereo(max int) []int16 { return m.bus.APU().PullStereo(max) }

// APUCapBufferedStereo discards queued samples down to max frames, to
// bound audio latency after a pause or a slow frame.
func (m *Machine) APUCapBufferedStereo(max int) {
	if extra := m.bus.APU().StereoAvailable() - max; extra > 0 {
		m.bus.APU().PullStereo(extra)
	}
}

// APUClearAudioLatency drains the entire audio queue.
func (m *Machine) APUClearAudioLatency() {
	for m.bus.APU().StereoAvailable() > 0 {
		m.bus.APU().PullStereo(4096)
	}
}

// SaveBattery returns a copy of the cartridge's external RAM, if it
// has any (ok is false for ROM-only or RAM-less carts).
func (m *Machine) SaveBattery() (data []byte, ok bool) {
	bb, isBattery := m.bus.Cart().(cart.BatteryBacked)
	if !isBattery {
		return nil, false
	}
	ram := bb.SaveRAM()
	if ram == nil {
		return nil, false
	}
	return ram, true
}

// LoadBattery restores external RAM previously returned by
// SaveBattery. Reports false if the cartridge has no battery RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// machineState is the gob envelope saved to/loaded from disk by
// SaveStateToFile/LoadStateFromFile.
type machineState struct {
	Bus           []byte
	CPU           []byte
	CompatPalette int
}

// SaveStateToFile serializes CPU+Bus (and everything the Bus owns:
// PPU/APU/Timer/Joypad/Serial/Cartridge) to path.
func (m *Machine) SaveStateToFile(path string) error {
	return saveGob(path, machineState{
		Bus: m.bus.SaveState(), CPU: m.cpu.SaveState(), CompatPalette: m.compatPalette,
	})
}

// LoadStateFromFile restores a snapshot written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	var s machineState
	if err := loadGob(path, &s); err != nil {
		return err
	}
	m.bus.LoadState(s.Bus)
	m.cpu.LoadState(s.CPU)
	m.compatPalette = normalizePaletteID(s.CompatPalette)
	return nil
}
