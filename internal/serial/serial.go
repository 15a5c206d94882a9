// Package serial implements the DMG serial port (SB/SC) as a stub: no
// link-cable peer is modeled, so an internal-clock transfer completes
// immediately and shifts in 0xFF. An optional io.Writer lets
// blargg-style test ROMs report PASS/FAIL over "serial".
package serial

import "io"

// Port owns SB (0xFF01) and SC (0xFF02).
type Port struct {
	sb byte
	sc byte // bit7 transfer-start, bit0 clock source; only bits 0x81 are meaningful

	sink io.Writer
}

func New() *Port { return &Port{} }

// SetSink directs completed transfers to w; nil disables it.
func (p *Port) SetSink(w io.Writer) { p.sink = w }

func (p *Port) SB() byte { return p.sb }

// SC renders the control register with unused bits read as 1.
func (p *Port) SC() byte { return 0x7E | (p.sc & 0x81) }

func (p *Port) WriteSB(v byte) { p.sb = v }

// WriteSC starts a transfer when bit7 is set. Since no peer is wired,
// the transfer "completes" on the spot: the outgoing byte is handed
// to the sink (if any), SB shifts in the 0xFF an unconnected cable
// reads as, and the Serial interrupt fires.
func (p *Port) WriteSC(v byte) (interruptFired bool) {
	p.sc = v & 0x81
	if p.sc&0x80 == 0 {
		return false
	}
	if p.sink != nil {
		_, _ = p.sink.Write([]byte{p.sb})
	}
	p.sb = 0xFF
	p.sc &^= 0x80
	return true
}

// State is the gob-serializable snapshot used by save states.
type State struct {
	SB byte
	SC byte
}

func (p *Port) SaveState() State { return State{p.sb, p.sc} }
func (p *Port) LoadState(s State) {
	p.sb, p.sc = s.SB, s.SC
}
