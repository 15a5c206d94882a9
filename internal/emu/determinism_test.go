package emu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildLoopROM returns a minimal 32KiB ROM-only cartridge image: a
// valid-length header (cart type 0x00, ROM size code 0x00) and an
// entry point at 0x0100 that spins in place (JR -2), so a fixed
// number of stepped frames always executes the same instructions.
func buildLoopROM() []byte {
	rom := make([]byte, 32*1024)
	rom[0x0100] = 0x00 // NOP
	rom[0x0101] = 0x18 // JR
	rom[0x0102] = 0xFE // -2: loops back to 0x0101
	rom[0x0134] = 'L'
	rom[0x0135] = 'O'
	rom[0x0136] = 'O'
	rom[0x0137] = 'P'
	rom[0x0147] = 0x00 // ROM ONLY
	rom[0x0148] = 0x00 // 32 KiB
	rom[0x0149] = 0x00 // no RAM
	return rom
}

// hashFrame reduces a framebuffer to a small comparable digest without
// pulling in a hashing package the rest of the module doesn't already use.
func hashFrame(fb []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range fb {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}

// TestMachine_ResetThenRerun_IsDeterministic checks that resetting and
// rerunning a deterministic ROM produces identical framebuffer hashes.
func TestMachine_ResetThenRerun_IsDeterministic(t *testing.T) {
	rom := buildLoopROM()
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(rom, nil))

	const frames = 5
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	first := hashFrame(append([]byte(nil), m.Framebuffer()...))
	firstPC := m.cpu.Regs.PC

	m.ResetPostBoot()
	for i := 0; i < frames; i++ {
		m.StepFrame()
	}
	second := hashFrame(append([]byte(nil), m.Framebuffer()...))
	secondPC := m.cpu.Regs.PC

	require.Equal(t, first, second, "framebuffer hash must match after reset+rerun")
	require.Equal(t, firstPC, secondPC, "CPU state must match after reset+rerun")
}

// TestMachine_TwoFreshInstances_AgreeOnFramebuffer checks that loading
// the same ROM into two independent Machines yields byte-identical
// framebuffers after the same number of frames, i.e. there is no
// hidden source of nondeterminism (wall-clock, map iteration order, ...)
// in the core's per-frame path.
func TestMachine_TwoFreshInstances_AgreeOnFramebuffer(t *testing.T) {
	rom := buildLoopROM()

	m1 := New(Config{})
	require.NoError(t, m1.LoadCartridge(rom, nil))
	m2 := New(Config{})
	require.NoError(t, m2.LoadCartridge(rom, nil))

	const frames = 3
	for i := 0; i < frames; i++ {
		m1.StepFrame()
		m2.StepFrame()
	}

	require.Equal(t, m1.Framebuffer(), m2.Framebuffer())
}
