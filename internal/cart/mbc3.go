package cart

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"time"
)

// nowUnix is the wall-clock source MBC3's RTC ticks against. It is a
// package var so tests can substitute a fake clock.
var nowUnix = func() int64 { return time.Now().Unix() }

// MBC3 implements ROM/RAM banking plus the MBC3 real-time clock.
// Banking behavior:
//   - 0000-1FFF: RAM/RTC enable (0x0A in low nibble)
//   - 2000-3FFF: ROM bank, 7 bits (0 maps to 1)
//   - 4000-5FFF: RAM bank (0-3) or RTC register select (0x08-0x0C)
//   - 6000-7FFF: latch: a 0x00 write followed by 0x01 copies the live
//     RTC registers into the latched snapshot the CPU actually reads.
//   - A000-BFFF: external RAM, or the selected RTC register
//
// ROM: bank 0 fixed at 0000-3FFF; switchable 4000-7FFF uses bank 1..127.
//
// The RTC never syncs against the host clock on its own: Read opportunistically
// catches it up to nowUnix() first, so a ROM that never touches the clock
// pays nothing, and save states stay deterministic between reads.
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled   bool
	romBank      byte
	ramBankOrRTC byte

	latchSeq byte

	rtcSec, rtcMin, rtcHour byte
	rtcDay                  int // 9-bit day counter, 0..0x1FF
	rtcHalt                 bool
	rtcCarry                bool
	lastRTCWallSec          int64

	latchedSec, latchedMin, latchedHour byte
	latchedDay                          int
	latchedHalt                         bool
	latchedCarry                        bool
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	m.romBank = 1
	m.lastRTCWallSec = nowUnix()
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	m.syncRTC()
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off >= 0 && off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.ramBankOrRTC <= 0x03 {
			if len(m.ram) == 0 {
				return 0xFF
			}
			off := int(m.ramBankOrRTC)*0x2000 + int(addr-0xA000)
			if off >= 0 && off < len(m.ram) {
				return m.ram[off]
			}
			return 0xFF
		}
		if m.ramBankOrRTC >= 0x08 && m.ramBankOrRTC <= 0x0C {
			return m.readRTC(m.ramBankOrRTC)
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = (value & 0x0F) == 0x0A
	case addr < 0x4000:
		v := value & 0x7F
		if v == 0 {
			v = 1
		}
		m.romBank = v
	case addr < 0x6000:
		m.ramBankOrRTC = value
	case addr < 0x8000:
		if value == 0x00 {
			m.latchSeq = 0x00
		} else if value == 0x01 && m.latchSeq == 0x00 {
			m.latchedSec, m.latchedMin, m.latchedHour = m.rtcSec, m.rtcMin, m.rtcHour
			m.latchedDay, m.latchedHalt, m.latchedCarry = m.rtcDay, m.rtcHalt, m.rtcCarry
			m.latchSeq = 0x01
		} else {
			m.latchSeq = 0xFF
		}
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.ramBankOrRTC <= 0x03 {
			if len(m.ram) == 0 {
				return
			}
			off := int(m.ramBankOrRTC)*0x2000 + int(addr-0xA000)
			if off >= 0 && off < len(m.ram) {
				m.ram[off] = value
			}
			return
		}
		if m.ramBankOrRTC >= 0x08 && m.ramBankOrRTC <= 0x0C {
			m.writeRTC(m.ramBankOrRTC, value)
		}
	}
}

func (m *MBC3) readRTC(reg byte) byte {
	switch reg {
	case 0x08:
		return m.latchedSec
	case 0x09:
		return m.latchedMin
	case 0x0A:
		return m.latchedHour
	case 0x0B:
		return byte(m.latchedDay)
	case 0x0C:
		return dhByte(m.latchedDay, m.latchedHalt, m.latchedCarry)
	default:
		return 0xFF
	}
}

func (m *MBC3) writeRTC(reg, value byte) {
	switch reg {
	case 0x08:
		m.rtcSec = value & 0x3F
	case 0x09:
		m.rtcMin = value & 0x3F
	case 0x0A:
		m.rtcHour = value & 0x1F
	case 0x0B:
		m.rtcDay = (m.rtcDay &^ 0xFF) | int(value)
	case 0x0C:
		m.rtcDay = (m.rtcDay & 0xFF) | int(value&0x01)<<8
		m.rtcHalt = value&0x40 != 0
		m.rtcCarry = value&0x80 != 0
	}
}

// syncRTC catches the live registers up to the current wall-clock
// time. Called opportunistically on every Read, never on Write, so a
// manual register write (used by save-load and by tests) isn't
// immediately clobbered by a stale elapsed-time calculation.
func (m *MBC3) syncRTC() {
	now := nowUnix()
	elapsed := now - m.lastRTCWallSec
	m.lastRTCWallSec = now
	if elapsed <= 0 || m.rtcHalt {
		return
	}
	totalSec := int(m.rtcSec) + int(elapsed)
	m.rtcSec = byte(totalSec % 60)
	minCarry := totalSec / 60

	totalMin := int(m.rtcMin) + minCarry
	m.rtcMin = byte(totalMin % 60)
	hourCarry := totalMin / 60

	totalHour := int(m.rtcHour) + hourCarry
	m.rtcHour = byte(totalHour % 24)
	dayCarry := totalHour / 24

	day := m.rtcDay + dayCarry
	if day > 0x1FF {
		day = 0
		m.rtcCarry = true
	}
	m.rtcDay = day
}

// rtcTrailerLen is the size of the RTC block appended after the raw
// SRAM bytes in a .sav: ten 4-byte little-endian register words (the
// five live registers, then the five latched ones) followed by the
// 8-byte unix timestamp of the last sync. This is the de-facto .sav
// layout RTC carts use across emulators, so saves interchange.
const rtcTrailerLen = 10*4 + 8

// dhByte packs a day counter plus halt/carry into the DH register form.
func dhByte(day int, halt, carry bool) byte {
	v := byte((day >> 8) & 0x01)
	if halt {
		v |= 0x40
	}
	if carry {
		v |= 0x80
	}
	return v
}

// BatteryBacked implementation: the raw SRAM banks in bank-index order,
// followed by the fixed-width RTC trailer.
func (m *MBC3) SaveRAM() []byte {
	out := make([]byte, len(m.ram)+rtcTrailerLen)
	copy(out, m.ram)
	tr := out[len(m.ram):]
	regs := []byte{
		m.rtcSec, m.rtcMin, m.rtcHour, byte(m.rtcDay),
		dhByte(m.rtcDay, m.rtcHalt, m.rtcCarry),
		m.latchedSec, m.latchedMin, m.latchedHour, byte(m.latchedDay),
		dhByte(m.latchedDay, m.latchedHalt, m.latchedCarry),
	}
	for i, r := range regs {
		binary.LittleEndian.PutUint32(tr[i*4:], uint32(r))
	}
	binary.LittleEndian.PutUint64(tr[40:], uint64(m.lastRTCWallSec))
	return out
}

// LoadRAM accepts either a bare SRAM dump or one carrying the RTC
// trailer; a save without the trailer leaves the clock where it is.
func (m *MBC3) LoadRAM(data []byte) {
	if len(data) == 0 {
		return
	}
	n := len(m.ram)
	if n > len(data) {
		n = len(data)
	}
	copy(m.ram, data[:n])
	tr := data[len(m.ram):]
	if len(tr) < rtcTrailerLen {
		return
	}
	var regs [10]byte
	for i := range regs {
		regs[i] = byte(binary.LittleEndian.Uint32(tr[i*4:]))
	}
	m.rtcSec, m.rtcMin, m.rtcHour = regs[0], regs[1], regs[2]
	m.rtcDay = int(regs[3]) | int(regs[4]&0x01)<<8
	m.rtcHalt = regs[4]&0x40 != 0
	m.rtcCarry = regs[4]&0x80 != 0
	m.latchedSec, m.latchedMin, m.latchedHour = regs[5], regs[6], regs[7]
	m.latchedDay = int(regs[8]) | int(regs[9]&0x01)<<8
	m.latchedHalt = regs[9]&0x40 != 0
	m.latchedCarry = regs[9]&0x80 != 0
	m.lastRTCWallSec = int64(binary.LittleEndian.Uint64(tr[40:]))
}

// --- Save/Load state ---
type mbc3State struct {
	RAM                                 []byte
	RAMEnabled                          bool
	ROMBank                             byte
	RAMBankOrRTC                        byte
	LatchSeq                            byte
	RTCSec, RTCMin, RTCHour             byte
	RTCDay                              int
	RTCHalt, RTCCarry                   bool
	LastWallSec                         int64
	LatchedSec, LatchedMin, LatchedHour byte
	LatchedDay                          int
	LatchedHalt, LatchedCarry           bool
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := mbc3State{
		RAM:        append([]byte(nil), m.ram...),
		RAMEnabled: m.ramEnabled, ROMBank: m.romBank, RAMBankOrRTC: m.ramBankOrRTC,
		LatchSeq: m.latchSeq,
		RTCSec:   m.rtcSec, RTCMin: m.rtcMin, RTCHour: m.rtcHour, RTCDay: m.rtcDay,
		RTCHalt: m.rtcHalt, RTCCarry: m.rtcCarry, LastWallSec: m.lastRTCWallSec,
		LatchedSec: m.latchedSec, LatchedMin: m.latchedMin, LatchedHour: m.latchedHour,
		LatchedDay: m.latchedDay, LatchedHalt: m.latchedHalt, LatchedCarry: m.latchedCarry,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	if len(m.ram) == len(s.RAM) {
		copy(m.ram, s.RAM)
	}
	m.ramEnabled, m.romBank, m.ramBankOrRTC = s.RAMEnabled, s.ROMBank, s.RAMBankOrRTC
	m.latchSeq = s.LatchSeq
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.RTCSec, s.RTCMin, s.RTCHour, s.RTCDay
	m.rtcHalt, m.rtcCarry, m.lastRTCWallSec = s.RTCHalt, s.RTCCarry, s.LastWallSec
	m.latchedSec, m.latchedMin, m.latchedHour = s.LatchedSec, s.LatchedMin, s.LatchedHour
	m.latchedDay, m.latchedHalt, m.latchedCarry = s.LatchedDay, s.LatchedHalt, s.LatchedCarry
}
