package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC2 implements ROM banking plus the 512x4-bit built-in RAM that
// ships on the cartridge itself (no external RAM chip). RAM nibbles
// read back with their upper 4 bits stuck high, and the RAM/ROM
// control writes below 0x4000 are distinguished by address bit 8
// rather than by separate register windows.
type MBC2 struct {
	rom []byte
	ram [512]byte // 4 bits used per byte

	romBank    byte // 1..15
	ramEnabled bool
}

func NewMBC2(rom []byte) *MBC2 {
	m := &MBC2{rom: rom}
	for i := range m.ram {
		m.ram[i] = 0xFF
	}
	m.romBank = 1
	return m
}

func (m *MBC2) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		off := int(m.romBank)*0x4000 + int(addr-0x4000)
		if len(m.rom) > 0 {
			off &= len(m.rom) - 1
		}
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		return 0xF0 | (m.ram[int(addr-0xA000)%len(m.ram)] & 0x0F)
	default:
		return 0xFF
	}
}

func (m *MBC2) Write(addr uint16, value byte) {
	switch {
	case addr < 0x4000:
		// Bit 8 of the address (not the value) distinguishes RAM-enable
		// from ROM-bank-select writes in this 0000-3FFF window.
		if addr&0x0100 == 0 {
			m.ramEnabled = (value & 0x0F) == 0x0A
		} else {
			bank := value & 0x0F
			if bank == 0 {
				bank = 1
			}
			m.romBank = bank
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		m.ram[int(addr-0xA000)%len(m.ram)] = value & 0x0F
	}
}

// BatteryBacked implementation. The 512 nibbles are dumped one per
// byte with the unused upper nibble stuck at 0xF, matching how reads
// present them on the bus.
func (m *MBC2) SaveRAM() []byte {
	out := make([]byte, len(m.ram))
	for i, v := range m.ram {
		out[i] = 0xF0 | (v & 0x0F)
	}
	return out
}

func (m *MBC2) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	copy(m.ram[:], data)
}

type mbc2State struct {
	RAM        [512]byte
	ROMBank    byte
	RAMEnabled bool
}

func (m *MBC2) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc2State{RAM: m.ram, ROMBank: m.romBank, RAMEnabled: m.ramEnabled}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *MBC2) LoadState(data []byte) {
	var s mbc2State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	m.ram = s.RAM
	m.romBank, m.ramEnabled = s.ROMBank, s.RAMEnabled
}
