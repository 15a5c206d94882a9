// Package cpu implements a cycle-accurate Sharp SM83 (DMG) core: the
// 256-entry base opcode table, the CB-prefixed table, interrupt
// dispatch, and HALT/STOP handling. Every memory access goes through
// Bus, which is the sole source of timing: this package never counts
// cycles itself, it only observes how many the Bus consumed.
package cpu

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Bus is everything the CPU needs from the memory-mapped bus. Every
// Read/Write implementation must advance the shared clock by exactly
// one machine cycle (4 T-cycles) before returning: this is what makes
// instruction timing fall out of the sequence of accesses instead of a
// hand-maintained per-opcode cycle table.
type Bus interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)
	// Tick advances the clock by tCycles T-cycles with no memory
	// access; used for internal delay cycles (branch-taken, 16-bit
	// ALU, the extra internal cycle on PUSH/interrupt dispatch).
	Tick(tCycles int)
	// Cycles returns the running T-cycle counter, used by Step to
	// report how many machine cycles an instruction consumed.
	Cycles() uint64

	ReadIE() byte
	ReadIF() byte
	WriteIF(value byte)
}

// Interrupt bit indices, in dispatch priority order (lowest first).
const (
	IntVBlank = 0
	IntSTAT   = 1
	IntTimer  = 2
	IntSerial = 3
	IntJoypad = 4
)

// CPU is the SM83 execution core. Register state lives in Regs for
// debugger/UI consumption; the table-driven opcode bodies live in
// opcodes.go / opcodes_cb.go and close over this type.
type CPU struct {
	Regs Registers

	IME     bool
	eiDelay int // EI's enable lands after the *next* instruction: 2 at EI, armed at 0
	halted  bool
	stopped bool
	haltBug bool // true for one fetch after HALT observed a pending IRQ with IME=0

	bus Bus

	// UndefinedOpcode latches true the first time an illegal opcode is
	// fetched; the CPU then halts permanently rather than crash the
	// host.
	UndefinedOpcode bool
	lastUndefined   byte
}

// illegalOpcodes enumerates the 11 undefined DMG opcodes.
var illegalOpcodes = map[byte]bool{
	0xD3: true, 0xDB: true, 0xDD: true, 0xE3: true, 0xE4: true,
	0xEB: true, 0xEC: true, 0xED: true, 0xF4: true, 0xFC: true, 0xFD: true,
}

// New creates a CPU wired to bus. Registers are zeroed except SP=0xFFFE; call
// ResetPostBoot (fake-boot) or SetPC (real boot ROM) before stepping.
func New(bus Bus) *CPU {
	return &CPU{bus: bus, Regs: Registers{SP: 0xFFFE}}
}

// ResetPostBoot seeds registers to the documented fake-boot state.
// headerChecksum is the ROM's 0x014D byte; a zero checksum yields F=0x80
// instead of the usual 0xB0 (DMG boot ROM quirk).
func (c *CPU) ResetPostBoot(headerChecksum byte) {
	c.Regs.A = 0x01
	if headerChecksum == 0 {
		c.Regs.F = 0x80
	} else {
		c.Regs.F = 0xB0
	}
	c.Regs.setBC(0x0013)
	c.Regs.setDE(0x00D8)
	c.Regs.setHL(0x014D)
	c.Regs.SP = 0xFFFE
	c.Regs.PC = 0x0100
	c.IME = false
	c.eiDelay = 0
	c.halted = false
	c.stopped = false
	c.haltBug = false
	c.UndefinedOpcode = false
}

// SetPC points execution at addr; used when a boot ROM is mapped at
// reset instead of fake-boot register seeding.
func (c *CPU) SetPC(addr uint16) { c.Regs.PC = addr }

// Halted reports whether the CPU is parked in HALT.
func (c *CPU) Halted() bool { return c.halted }

// Stopped reports whether the CPU executed STOP and is waiting for a
// joypad button to resume.
func (c *CPU) Stopped() bool { return c.stopped }

// ResumeFromStop releases STOP; the Machine calls this once any joypad
// button is held.
func (c *CPU) ResumeFromStop() { c.stopped = false }

// ---- bus helpers ----------------------------------------------------

func (c *CPU) read8(addr uint16) byte     { return c.bus.Read(addr) }
func (c *CPU) write8(addr uint16, v byte) { c.bus.Write(addr, v) }

func (c *CPU) fetch8() byte {
	v := c.bus.Read(c.Regs.PC)
	if c.haltBug {
		// Halt bug: PC fails to advance for exactly this one fetch.
		c.haltBug = false
	} else {
		c.Regs.PC++
	}
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := c.fetch8()
	hi := c.fetch8()
	return uint16(hi)<<8 | uint16(lo)
}

func (c *CPU) write16(addr uint16, v uint16) {
	c.write8(addr, byte(v))
	c.write8(addr+1, byte(v>>8))
}

func (c *CPU) push16(v uint16) {
	c.bus.Tick(4) // internal delay cycle before the two stack writes
	c.Regs.SP--
	c.write8(c.Regs.SP, byte(v>>8))
	c.Regs.SP--
	c.write8(c.Regs.SP, byte(v))
}

func (c *CPU) pop16() uint16 {
	lo := c.read8(c.Regs.SP)
	c.Regs.SP++
	hi := c.read8(c.Regs.SP)
	c.Regs.SP++
	return uint16(hi)<<8 | uint16(lo)
}

// get8/set8 index the 8 operand slots {B,C,D,E,H,L,(HL),A}, shared by
// the base LD group and the CB-prefixed table.
func (c *CPU) get8(idx byte) byte {
	switch idx & 7 {
	case 0:
		return c.Regs.B
	case 1:
		return c.Regs.C
	case 2:
		return c.Regs.D
	case 3:
		return c.Regs.E
	case 4:
		return c.Regs.H
	case 5:
		return c.Regs.L
	case 6:
		return c.read8(c.Regs.HL())
	default:
		return c.Regs.A
	}
}

func (c *CPU) set8(idx byte, v byte) {
	switch idx & 7 {
	case 0:
		c.Regs.B = v
	case 1:
		c.Regs.C = v
	case 2:
		c.Regs.D = v
	case 3:
		c.Regs.E = v
	case 4:
		c.Regs.H = v
	case 5:
		c.Regs.L = v
	case 6:
		c.write8(c.Regs.HL(), v)
	default:
		c.Regs.A = v
	}
}

// ---- ALU helpers (all return the flags rather than mutate c.Regs.F
// directly, so callers can combine them with instruction-specific flag
// rules, e.g. CP discards the result). ----

func add8(a, b byte) (res byte, z, n, h, cy bool) {
	r := uint16(a) + uint16(b)
	res = byte(r)
	return res, res == 0, false, ((a & 0x0F) + (b & 0x0F)) > 0x0F, r > 0xFF
}

func adc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := byte(0)
	if carryIn {
		ci = 1
	}
	r := uint16(a) + uint16(b) + uint16(ci)
	res = byte(r)
	return res, res == 0, false, ((a & 0x0F) + (b & 0x0F) + ci) > 0x0F, r > 0xFF
}

func sub8(a, b byte) (res byte, z, n, h, cy bool) {
	r := int16(a) - int16(b)
	res = byte(r)
	return res, res == 0, true, (a & 0x0F) < (b & 0x0F), int16(a) < int16(b)
}

func sbc8(a, b byte, carryIn bool) (res byte, z, n, h, cy bool) {
	ci := int16(0)
	if carryIn {
		ci = 1
	}
	r := int16(a) - int16(b) - ci
	res = byte(r)
	return res, res == 0, true, int16(a&0x0F) < int16(b&0x0F)+ci, int16(a) < int16(b)+ci
}

func and8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a & b
	return res, res == 0, false, true, false
}

func xor8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a ^ b
	return res, res == 0, false, false, false
}

func or8(a, b byte) (res byte, z, n, h, cy bool) {
	res = a | b
	return res, res == 0, false, false, false
}

func cp8(a, b byte) (z, n, h, cy bool) {
	_, z, n, h, cy = sub8(a, b)
	return
}

// ---- interrupt dispatch ---------------------------------------------

// pendingInterrupt returns the lowest-priority-index pending, enabled
// interrupt bit, or -1 if none.
func (c *CPU) pendingInterrupt() int {
	pending := c.bus.ReadIE() & c.bus.ReadIF() & 0x1F
	if pending == 0 {
		return -1
	}
	for bit := 0; bit < 5; bit++ {
		if pending&(1<<uint(bit)) != 0 {
			return bit
		}
	}
	return -1
}

// serviceInterrupt performs the dispatch sequence: 5 machine cycles
// total (2 internal, 2 push writes, 1 to land PC on the vector) --
// push16 supplies one internal delay cycle plus the two writes, so
// this adds the other two explicitly.
func (c *CPU) serviceInterrupt(bit int) {
	ifReg := c.bus.ReadIF()
	c.bus.WriteIF(ifReg &^ (1 << uint(bit)))
	c.IME = false
	c.bus.Tick(4)
	c.push16(c.Regs.PC)
	c.Regs.PC = 0x0040 + uint16(bit)*8
	c.bus.Tick(4)
}

// Step executes exactly one instruction (or one interrupt dispatch, or
// one HALT/STOP-idle tick) and returns the number of machine cycles it
// consumed, measured from the Bus's own clock counter.
func (c *CPU) Step() int {
	before := c.bus.Cycles()

	if c.UndefinedOpcode {
		// Locked: mirrors real hardware hanging on an illegal opcode.
		c.bus.Tick(4)
		return int((c.bus.Cycles() - before) / 4)
	}

	// EI's enable lands only after the instruction that follows it has
	// finished, so the countdown runs before the interrupt check: the
	// step right after EI still sees IME clear, the one after that
	// dispatches.
	if c.eiDelay > 0 {
		c.eiDelay--
		if c.eiDelay == 0 {
			c.IME = true
		}
	}

	if c.stopped {
		c.bus.Tick(4)
		return int((c.bus.Cycles() - before) / 4)
	}

	if c.halted {
		if bit := c.pendingInterrupt(); bit >= 0 {
			c.halted = false
			if c.IME {
				c.serviceInterrupt(bit)
				return int((c.bus.Cycles() - before) / 4)
			}
			// !IME: HALT releases without dispatch and falls through
			// to execute the next opcode this same Step.
		} else {
			c.bus.Tick(4)
			return int((c.bus.Cycles() - before) / 4)
		}
	} else if c.IME {
		if bit := c.pendingInterrupt(); bit >= 0 {
			c.serviceInterrupt(bit)
			return int((c.bus.Cycles() - before) / 4)
		}
	}

	op := c.fetch8()
	if illegalOpcodes[op] {
		c.UndefinedOpcode = true
		c.lastUndefined = op
		c.bus.Tick(4)
		return int((c.bus.Cycles() - before) / 4)
	}

	baseOps[op](c)

	return int((c.bus.Cycles() - before) / 4)
}

// opHALT implements the HALT opcode (0x76), including the halt bug:
// if IME=0 and an interrupt is already pending at the HALT boundary,
// the CPU does not actually halt, and the following fetch fails to
// advance PC once.
func (c *CPU) opHALT() {
	if !c.IME && c.pendingInterrupt() >= 0 {
		c.haltBug = true
		return
	}
	c.halted = true
}

// opSTOP implements the 2-byte STOP opcode (0x10 0x00). Speed
// switching and LCD power-down are CGB-only; on DMG this resets DIV
// and parks the CPU until a joypad button is held.
func (c *CPU) opSTOP() {
	c.fetch8()          // the mandatory (and ignored) second STOP byte
	c.write8(0xFF04, 0) // any write to DIV resets it to 0
	c.stopped = true
}

// LastUndefinedOpcode reports the opcode byte that locked the CPU, for
// diagnostics. Only meaningful when UndefinedOpcode is true.
func (c *CPU) LastUndefinedOpcode() byte { return c.lastUndefined }

// Diagnostic renders a one-line fault description for logging.
func (c *CPU) Diagnostic() string {
	if !c.UndefinedOpcode {
		return ""
	}
	return fmt.Sprintf("illegal opcode 0x%02X at PC=0x%04X: CPU locked", c.lastUndefined, c.Regs.PC-1)
}

// cpuState is the gob-serializable snapshot of everything Step needs
// to resume execution identically, for save states.
type cpuState struct {
	Regs            Registers
	IME             bool
	EIDelay         int
	Halted          bool
	Stopped         bool
	HaltBug         bool
	UndefinedOpcode bool
	LastUndefined   byte
}

// SaveState serializes register and control-flow state. The Bus is
// not included; callers save it separately.
func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(cpuState{
		Regs: c.Regs, IME: c.IME, EIDelay: c.eiDelay,
		Halted: c.halted, Stopped: c.stopped, HaltBug: c.haltBug,
		UndefinedOpcode: c.UndefinedOpcode, LastUndefined: c.lastUndefined,
	})
	return buf.Bytes()
}

// LoadState restores a snapshot produced by SaveState.
func (c *CPU) LoadState(data []byte) {
	var s cpuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	c.Regs = s.Regs
	c.IME, c.eiDelay = s.IME, s.EIDelay
	c.halted, c.stopped, c.haltBug = s.Halted, s.Stopped, s.HaltBug
	c.UndefinedOpcode, c.lastUndefined = s.UndefinedOpcode, s.LastUndefined
}
