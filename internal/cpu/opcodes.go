package cpu

// baseOps is the 256-entry base opcode dispatch table. init() below
// populates the regular patterns (LD r,r'; ALU r; INC/DEC r; PUSH/POP;
// conditional jumps) via loops over the opcode's own bit fields and
// fills in the one-off opcodes explicitly.
var baseOps [256]func(*CPU)

func init() {
	for op := 0; op < 256; op++ {
		baseOps[op] = opUndefinedStub
	}

	// 0x40-0x7F: LD r,r' / LD r,(HL) / LD (HL),r, with 0x76 = HALT.
	for op := 0x40; op <= 0x7F; op++ {
		o := byte(op)
		if o == 0x76 {
			baseOps[op] = func(c *CPU) { c.opHALT() }
			continue
		}
		dst := (o >> 3) & 7
		src := o & 7
		baseOps[op] = func(c *CPU) { c.set8(dst, c.get8(src)) }
	}

	// 0x80-0xBF: ADD/ADC/SUB/SBC/AND/XOR/OR/CP A,r (and (HL) variants).
	aluGroup := []func(c *CPU, src byte){
		opADD, opADC, opSUB, opSBC, opAND, opXOR, opOR, opCP,
	}
	for op := 0x80; op <= 0xBF; op++ {
		o := byte(op)
		group := aluGroup[(o>>3)&7]
		src := o & 7
		baseOps[op] = func(c *CPU) { group(c, c.get8(src)) }
	}

	// 0x04,0x0C,... INC r (every third nibble position: 06,0E group is
	// LD d8, handled separately below).
	incRegs := []byte{0, 1, 2, 3, 4, 5, 6, 7} // B,C,D,E,H,L,(HL),A
	for i, base := range []byte{0x04, 0x0C, 0x14, 0x1C, 0x24, 0x2C, 0x34, 0x3C} {
		idx := incRegs[i]
		baseOps[base] = func(c *CPU) { c.opINC8(idx) }
	}
	for i, base := range []byte{0x05, 0x0D, 0x15, 0x1D, 0x25, 0x2D, 0x35, 0x3D} {
		idx := incRegs[i]
		baseOps[base] = func(c *CPU) { c.opDEC8(idx) }
	}

	// LD r,d8
	for i, base := range []byte{0x06, 0x0E, 0x16, 0x1E, 0x26, 0x2E, 0x36, 0x3E} {
		idx := incRegs[i]
		baseOps[base] = func(c *CPU) { c.set8(idx, c.fetch8()) }
	}

	// PUSH/POP rr
	pushPop := []struct{ push, pop byte }{{0xC5, 0xC1}, {0xD5, 0xD1}, {0xE5, 0xE1}, {0xF5, 0xF1}}
	pushGet := []func(*CPU) uint16{
		func(c *CPU) uint16 { return c.Regs.BC() },
		func(c *CPU) uint16 { return c.Regs.DE() },
		func(c *CPU) uint16 { return c.Regs.HL() },
		func(c *CPU) uint16 { return c.Regs.AF() },
	}
	popSet := []func(*CPU, uint16){
		func(c *CPU, v uint16) { c.Regs.setBC(v) },
		func(c *CPU, v uint16) { c.Regs.setDE(v) },
		func(c *CPU, v uint16) { c.Regs.setHL(v) },
		func(c *CPU, v uint16) { c.Regs.setAF(v) },
	}
	for i, pp := range pushPop {
		get, set := pushGet[i], popSet[i]
		baseOps[pp.push] = func(c *CPU) { c.push16(get(c)) }
		baseOps[pp.pop] = func(c *CPU) { set(c, c.pop16()) }
	}

	// RST t
	for i, op := range []byte{0xC7, 0xCF, 0xD7, 0xDF, 0xE7, 0xEF, 0xF7, 0xFF} {
		vec := uint16(i) * 8
		baseOps[op] = func(c *CPU) {
			// push16 supplies RST's one internal delay cycle.
			c.push16(c.Regs.PC)
			c.Regs.PC = vec
		}
	}

	// JP cc,a16 / CALL cc,a16 / RET cc
	conds := []struct {
		jp, call, ret byte
		test          func(*CPU) bool
	}{
		{0xC2, 0xC4, 0xC0, func(c *CPU) bool { return !c.Regs.getFlag(FlagZ) }},
		{0xCA, 0xCC, 0xC8, func(c *CPU) bool { return c.Regs.getFlag(FlagZ) }},
		{0xD2, 0xD4, 0xD0, func(c *CPU) bool { return !c.Regs.getFlag(FlagC) }},
		{0xDA, 0xDC, 0xD8, func(c *CPU) bool { return c.Regs.getFlag(FlagC) }},
	}
	for _, cc := range conds {
		test := cc.test
		baseOps[cc.jp] = func(c *CPU) {
			addr := c.fetch16()
			if test(c) {
				c.Regs.PC = addr
				c.bus.Tick(4)
			}
		}
		baseOps[cc.call] = func(c *CPU) {
			addr := c.fetch16()
			if test(c) {
				// push16 supplies the one internal delay cycle CALL needs.
				c.push16(c.Regs.PC)
				c.Regs.PC = addr
			}
		}
		baseOps[cc.ret] = func(c *CPU) {
			c.bus.Tick(4)
			if test(c) {
				c.Regs.PC = c.pop16()
				c.bus.Tick(4)
			}
		}
	}

	// JR cc,r8
	jrConds := []struct {
		op   byte
		test func(*CPU) bool
	}{
		{0x20, func(c *CPU) bool { return !c.Regs.getFlag(FlagZ) }},
		{0x28, func(c *CPU) bool { return c.Regs.getFlag(FlagZ) }},
		{0x30, func(c *CPU) bool { return !c.Regs.getFlag(FlagC) }},
		{0x38, func(c *CPU) bool { return c.Regs.getFlag(FlagC) }},
	}
	for _, jc := range jrConds {
		test := jc.test
		baseOps[jc.op] = func(c *CPU) {
			off := int8(c.fetch8())
			if test(c) {
				c.Regs.PC = uint16(int32(c.Regs.PC) + int32(off))
				c.bus.Tick(4)
			}
		}
	}

	// 16-bit INC/DEC rr
	incDec16 := []struct {
		op  byte
		get func(*CPU) uint16
		set func(*CPU, uint16)
	}{
		{0x03, func(c *CPU) uint16 { return c.Regs.BC() }, func(c *CPU, v uint16) { c.Regs.setBC(v) }},
		{0x13, func(c *CPU) uint16 { return c.Regs.DE() }, func(c *CPU, v uint16) { c.Regs.setDE(v) }},
		{0x23, func(c *CPU) uint16 { return c.Regs.HL() }, func(c *CPU, v uint16) { c.Regs.setHL(v) }},
		{0x33, func(c *CPU) uint16 { return c.Regs.SP }, func(c *CPU, v uint16) { c.Regs.SP = v }},
	}
	for _, id := range incDec16 {
		get, set := id.get, id.set
		incOp, decOp := id.op, id.op+0x08
		baseOps[incOp] = func(c *CPU) { set(c, get(c)+1); c.bus.Tick(4) }
		baseOps[decOp] = func(c *CPU) { set(c, get(c)-1); c.bus.Tick(4) }
	}

	// ADD HL,rr
	addHL := []struct {
		op  byte
		get func(*CPU) uint16
	}{
		{0x09, func(c *CPU) uint16 { return c.Regs.BC() }},
		{0x19, func(c *CPU) uint16 { return c.Regs.DE() }},
		{0x29, func(c *CPU) uint16 { return c.Regs.HL() }},
		{0x39, func(c *CPU) uint16 { return c.Regs.SP }},
	}
	for _, a := range addHL {
		get := a.get
		baseOps[a.op] = func(c *CPU) {
			hl := c.Regs.HL()
			rhs := get(c)
			r := uint32(hl) + uint32(rhs)
			h := ((hl & 0x0FFF) + (rhs & 0x0FFF)) > 0x0FFF
			c.Regs.setHL(uint16(r))
			c.Regs.setFlag(FlagN, false)
			c.Regs.setFlag(FlagH, h)
			c.Regs.setFlag(FlagC, r > 0xFFFF)
			c.bus.Tick(4)
		}
	}

	registerOneOffs()
}

func opADD(c *CPU, src byte) {
	r, z, n, h, cy := add8(c.Regs.A, src)
	c.Regs.A = r
	c.Regs.setZNHC(z, n, h, cy)
}
func opADC(c *CPU, src byte) {
	r, z, n, h, cy := adc8(c.Regs.A, src, c.Regs.getFlag(FlagC))
	c.Regs.A = r
	c.Regs.setZNHC(z, n, h, cy)
}
func opSUB(c *CPU, src byte) {
	r, z, n, h, cy := sub8(c.Regs.A, src)
	c.Regs.A = r
	c.Regs.setZNHC(z, n, h, cy)
}
func opSBC(c *CPU, src byte) {
	r, z, n, h, cy := sbc8(c.Regs.A, src, c.Regs.getFlag(FlagC))
	c.Regs.A = r
	c.Regs.setZNHC(z, n, h, cy)
}
func opAND(c *CPU, src byte) {
	r, z, n, h, cy := and8(c.Regs.A, src)
	c.Regs.A = r
	c.Regs.setZNHC(z, n, h, cy)
}
func opXOR(c *CPU, src byte) {
	r, z, n, h, cy := xor8(c.Regs.A, src)
	c.Regs.A = r
	c.Regs.setZNHC(z, n, h, cy)
}
func opOR(c *CPU, src byte) {
	r, z, n, h, cy := or8(c.Regs.A, src)
	c.Regs.A = r
	c.Regs.setZNHC(z, n, h, cy)
}
func opCP(c *CPU, src byte) {
	z, n, h, cy := cp8(c.Regs.A, src)
	c.Regs.setZNHC(z, n, h, cy)
}

func (c *CPU) opINC8(idx byte) {
	old := c.get8(idx)
	v := old + 1
	c.set8(idx, v)
	c.Regs.setFlag(FlagZ, v == 0)
	c.Regs.setFlag(FlagN, false)
	c.Regs.setFlag(FlagH, (old&0x0F) == 0x0F)
}

func (c *CPU) opDEC8(idx byte) {
	old := c.get8(idx)
	v := old - 1
	c.set8(idx, v)
	c.Regs.setFlag(FlagZ, v == 0)
	c.Regs.setFlag(FlagN, true)
	c.Regs.setFlag(FlagH, (old&0x0F) == 0x00)
}

func opUndefinedStub(c *CPU) {
	// unreachable: Step intercepts illegalOpcodes before dispatch; any
	// opcode not explicitly wired below falls through to this, which
	// would indicate a gap in table construction.
	c.UndefinedOpcode = true
	c.lastUndefined = 0xFF
}

// registerOneOffs wires every opcode that doesn't fit the regular
// patterns handled by loops above: NOP, loads through BC/DE/HL(+/-),
// immediate 16-bit loads, LDH, rotates on A, DAA/CPL/SCF/CCF, absolute
// jumps/calls/rets, stack-pointer arithmetic, EI/DI, STOP, and the CB
// prefix entry point.
func registerOneOffs() {
	baseOps[0x00] = func(c *CPU) {} // NOP
	baseOps[0x10] = func(c *CPU) { c.opSTOP() }

	baseOps[0x01] = func(c *CPU) { c.Regs.setBC(c.fetch16()) }
	baseOps[0x11] = func(c *CPU) { c.Regs.setDE(c.fetch16()) }
	baseOps[0x21] = func(c *CPU) { c.Regs.setHL(c.fetch16()) }
	baseOps[0x31] = func(c *CPU) { c.Regs.SP = c.fetch16() }
	baseOps[0x08] = func(c *CPU) { // LD (a16),SP
		addr := c.fetch16()
		c.write16(addr, c.Regs.SP)
	}

	baseOps[0x02] = func(c *CPU) { c.write8(c.Regs.BC(), c.Regs.A) }
	baseOps[0x12] = func(c *CPU) { c.write8(c.Regs.DE(), c.Regs.A) }
	baseOps[0x0A] = func(c *CPU) { c.Regs.A = c.read8(c.Regs.BC()) }
	baseOps[0x1A] = func(c *CPU) { c.Regs.A = c.read8(c.Regs.DE()) }

	baseOps[0x22] = func(c *CPU) { // LD (HL+),A
		hl := c.Regs.HL()
		c.write8(hl, c.Regs.A)
		c.Regs.setHL(hl + 1)
	}
	baseOps[0x2A] = func(c *CPU) { // LD A,(HL+)
		hl := c.Regs.HL()
		c.Regs.A = c.read8(hl)
		c.Regs.setHL(hl + 1)
	}
	baseOps[0x32] = func(c *CPU) { // LD (HL-),A
		hl := c.Regs.HL()
		c.write8(hl, c.Regs.A)
		c.Regs.setHL(hl - 1)
	}
	baseOps[0x3A] = func(c *CPU) { // LD A,(HL-)
		hl := c.Regs.HL()
		c.Regs.A = c.read8(hl)
		c.Regs.setHL(hl - 1)
	}

	baseOps[0xE0] = func(c *CPU) { // LDH (a8),A
		n := uint16(c.fetch8())
		c.write8(0xFF00+n, c.Regs.A)
	}
	baseOps[0xF0] = func(c *CPU) { // LDH A,(a8)
		n := uint16(c.fetch8())
		c.Regs.A = c.read8(0xFF00 + n)
	}
	baseOps[0xE2] = func(c *CPU) { c.write8(0xFF00+uint16(c.Regs.C), c.Regs.A) }
	baseOps[0xF2] = func(c *CPU) { c.Regs.A = c.read8(0xFF00 + uint16(c.Regs.C)) }
	baseOps[0xEA] = func(c *CPU) { c.write8(c.fetch16(), c.Regs.A) }
	baseOps[0xFA] = func(c *CPU) { c.Regs.A = c.read8(c.fetch16()) }

	baseOps[0x07] = func(c *CPU) { // RLCA
		cv := (c.Regs.A >> 7) & 1
		c.Regs.A = (c.Regs.A << 1) | cv
		c.Regs.setZNHC(false, false, false, cv == 1)
	}
	baseOps[0x0F] = func(c *CPU) { // RRCA
		cv := c.Regs.A & 1
		c.Regs.A = (c.Regs.A >> 1) | (cv << 7)
		c.Regs.setZNHC(false, false, false, cv == 1)
	}
	baseOps[0x17] = func(c *CPU) { // RLA
		cv := (c.Regs.A >> 7) & 1
		cin := byte(0)
		if c.Regs.getFlag(FlagC) {
			cin = 1
		}
		c.Regs.A = (c.Regs.A << 1) | cin
		c.Regs.setZNHC(false, false, false, cv == 1)
	}
	baseOps[0x1F] = func(c *CPU) { // RRA
		cv := c.Regs.A & 1
		cin := byte(0)
		if c.Regs.getFlag(FlagC) {
			cin = 1 << 7
		}
		c.Regs.A = (c.Regs.A >> 1) | cin
		c.Regs.setZNHC(false, false, false, cv == 1)
	}
	baseOps[0x27] = func(c *CPU) { // DAA
		a := c.Regs.A
		cf := c.Regs.getFlag(FlagC)
		if !c.Regs.getFlag(FlagN) {
			if cf || a > 0x99 {
				a += 0x60
				cf = true
			}
			if c.Regs.getFlag(FlagH) || (a&0x0F) > 9 {
				a += 0x06
			}
		} else {
			if cf {
				a -= 0x60
			}
			if c.Regs.getFlag(FlagH) {
				a -= 0x06
			}
		}
		c.Regs.A = a
		c.Regs.setFlag(FlagZ, a == 0)
		c.Regs.setFlag(FlagH, false)
		c.Regs.setFlag(FlagC, cf)
	}
	baseOps[0x2F] = func(c *CPU) { // CPL
		c.Regs.A = ^c.Regs.A
		c.Regs.setFlag(FlagN, true)
		c.Regs.setFlag(FlagH, true)
	}
	baseOps[0x37] = func(c *CPU) { // SCF
		c.Regs.setFlag(FlagN, false)
		c.Regs.setFlag(FlagH, false)
		c.Regs.setFlag(FlagC, true)
	}
	baseOps[0x3F] = func(c *CPU) { // CCF
		c.Regs.setFlag(FlagN, false)
		c.Regs.setFlag(FlagH, false)
		c.Regs.setFlag(FlagC, !c.Regs.getFlag(FlagC))
	}

	// ALU A,d8
	baseOps[0xC6] = func(c *CPU) { opADD(c, c.fetch8()) }
	baseOps[0xCE] = func(c *CPU) { opADC(c, c.fetch8()) }
	baseOps[0xD6] = func(c *CPU) { opSUB(c, c.fetch8()) }
	baseOps[0xDE] = func(c *CPU) { opSBC(c, c.fetch8()) }
	baseOps[0xE6] = func(c *CPU) { opAND(c, c.fetch8()) }
	baseOps[0xEE] = func(c *CPU) { opXOR(c, c.fetch8()) }
	baseOps[0xF6] = func(c *CPU) { opOR(c, c.fetch8()) }
	baseOps[0xFE] = func(c *CPU) { opCP(c, c.fetch8()) }

	baseOps[0xC3] = func(c *CPU) { c.Regs.PC = c.fetch16(); c.bus.Tick(4) } // JP a16
	baseOps[0xE9] = func(c *CPU) { c.Regs.PC = c.Regs.HL() }                // JP (HL), no extra delay
	baseOps[0x18] = func(c *CPU) {                                          // JR r8
		off := int8(c.fetch8())
		c.Regs.PC = uint16(int32(c.Regs.PC) + int32(off))
		c.bus.Tick(4)
	}

	baseOps[0xCD] = func(c *CPU) { // CALL a16
		addr := c.fetch16()
		c.push16(c.Regs.PC)
		c.Regs.PC = addr
	}
	baseOps[0xC9] = func(c *CPU) { c.Regs.PC = c.pop16(); c.bus.Tick(4) }               // RET
	baseOps[0xD9] = func(c *CPU) { c.Regs.PC = c.pop16(); c.IME = true; c.bus.Tick(4) } // RETI

	baseOps[0xF8] = func(c *CPU) { // LD HL,SP+r8
		off := int8(c.fetch8())
		res := uint16(int32(int16(c.Regs.SP)) + int32(off))
		_, _, _, h, cy := add8(byte(c.Regs.SP), byte(off))
		c.Regs.setHL(res)
		c.Regs.setZNHC(false, false, h, cy)
		c.bus.Tick(4)
	}
	baseOps[0xF9] = func(c *CPU) { c.Regs.SP = c.Regs.HL(); c.bus.Tick(4) } // LD SP,HL
	baseOps[0xE8] = func(c *CPU) {                                          // ADD SP,r8
		off := int8(c.fetch8())
		_, _, _, h, cy := add8(byte(c.Regs.SP), byte(off))
		c.Regs.SP = uint16(int32(int16(c.Regs.SP)) + int32(off))
		c.Regs.setZNHC(false, false, h, cy)
		c.bus.Tick(4)
		c.bus.Tick(4)
	}

	baseOps[0xF3] = func(c *CPU) { c.IME = false; c.eiDelay = 0 } // DI
	baseOps[0xFB] = func(c *CPU) {                                // EI
		if !c.IME && c.eiDelay == 0 {
			c.eiDelay = 2
		}
	}

	baseOps[0xCB] = func(c *CPU) {
		cb := c.fetch8()
		cbOps[cb](c)
	}
}
