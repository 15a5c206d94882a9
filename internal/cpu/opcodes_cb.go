package cpu

// cbOps is the 256-entry CB-prefixed dispatch table. The low 3 bits of
// a CB opcode select one of the 8 operand slots (B,C,D,E,H,L,(HL),A);
// bits 3-5 select the sub-operation; bits 6-7 select the group
// (rotate/shift/swap, BIT, RES, SET). Built the same way as the base
// table: loops over the bit fields rather than 256 explicit cases.
var cbOps [256]func(*CPU)

func init() {
	for op := 0; op < 256; op++ {
		reg := byte(op) & 7
		y := (byte(op) >> 3) & 7
		group := (byte(op) >> 6) & 3
		switch group {
		case 0:
			cbOps[op] = cbShiftOp(y, reg)
		case 1:
			cbOps[op] = cbBitOp(y, reg)
		case 2:
			cbOps[op] = cbResOp(y, reg)
		default:
			cbOps[op] = cbSetOp(y, reg)
		}
	}
}

// cbShiftOp covers RLC/RRC/RL/RR/SLA/SRA/SWAP/SRL, selected by y.
func cbShiftOp(y, reg byte) func(*CPU) {
	return func(c *CPU) {
		v := c.get8(reg)
		var cflag byte
		switch y {
		case 0: // RLC
			cflag = (v >> 7) & 1
			v = (v << 1) | cflag
		case 1: // RRC
			cflag = v & 1
			v = (v >> 1) | (cflag << 7)
		case 2: // RL
			cflag = (v >> 7) & 1
			cin := byte(0)
			if c.Regs.getFlag(FlagC) {
				cin = 1
			}
			v = (v << 1) | cin
		case 3: // RR
			cflag = v & 1
			cin := byte(0)
			if c.Regs.getFlag(FlagC) {
				cin = 1 << 7
			}
			v = (v >> 1) | cin
		case 4: // SLA
			cflag = (v >> 7) & 1
			v <<= 1
		case 5: // SRA
			cflag = v & 1
			v = (v >> 1) | (v & 0x80)
		case 6: // SWAP
			v = (v << 4) | (v >> 4)
		case 7: // SRL
			cflag = v & 1
			v >>= 1
		}
		c.set8(reg, v)
		if y == 6 {
			c.Regs.setZNHC(v == 0, false, false, false)
		} else {
			c.Regs.setZNHC(v == 0, false, false, cflag == 1)
		}
	}
}

// cbBitOp implements BIT y,r: Z set if the bit is clear, H always set,
// C unchanged.
func cbBitOp(y, reg byte) func(*CPU) {
	return func(c *CPU) {
		v := c.get8(reg)
		bit := (v >> y) & 1
		c.Regs.setFlag(FlagZ, bit == 0)
		c.Regs.setFlag(FlagN, false)
		c.Regs.setFlag(FlagH, true)
	}
}

func cbResOp(y, reg byte) func(*CPU) {
	mask := ^(byte(1) << y)
	return func(c *CPU) { c.set8(reg, c.get8(reg)&mask) }
}

func cbSetOp(y, reg byte) func(*CPU) {
	mask := byte(1) << y
	return func(c *CPU) { c.set8(reg, c.get8(reg)|mask) }
}
