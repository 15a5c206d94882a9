package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/loop24/dmgo/internal/apu"
	"github.com/loop24/dmgo/internal/cart"
	"github.com/loop24/dmgo/internal/joypad"
	"github.com/loop24/dmgo/internal/ppu"
	"github.com/loop24/dmgo/internal/serial"
	"github.com/loop24/dmgo/internal/timer"
)

// Bus wires the CPU-visible address space to the cartridge, WRAM, HRAM,
// and the peripheral packages (PPU, APU, Timer, Joypad, Serial). It
// implements cpu.Bus: every Read/Write ticks every peripheral by one
// machine cycle (4 T-cycles), so instruction timing falls out of the
// access sequence instead of being hand-tabulated per opcode.
type Bus struct {
	cart cart.Cartridge

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	ppu *ppu.PPU
	apu *apu.APU
	tmr *timer.Timer
	joy *joypad.Joypad
	ser *serial.Port

	ie    byte // 0xFFFF
	ifReg byte // 0xFF0F, lower 5 bits used

	dma       byte // 0xFF46
	dmaActive bool
	dmaSrc    uint16
	dmaIndex  int
	dmaTick   int // T-cycles into the current DMA machine cycle

	prevDivBit4 bool // for the APU frame sequencer's falling-edge clock

	bootROM     []byte
	bootEnabled bool

	cycles uint64 // running T-cycle counter sampled by CPU.Step
}

// New constructs a Bus with a ROM-only cartridge for convenience.
func New(rom []byte) *Bus {
	return NewWithCartridge(cart.NewCartridge(rom))
}

// NewWithCartridge wires a provided cartridge implementation.
func NewWithCartridge(c cart.Cartridge) *Bus {
	b := &Bus{cart: c, tmr: timer.New(), joy: joypad.New(), ser: serial.New()}
	b.ppu = ppu.New(func(bit int) { b.ifReg |= 1 << uint(bit) })
	b.apu = apu.New(44100)
	b.prevDivBit4 = b.tmr.DIVBit4()
	return b
}

// PPU returns the internal PPU for read-only rendering helpers.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

// APU returns the internal APU so the host can pull mixed samples.
func (b *Bus) APU() *apu.APU { return b.apu }

// Cart returns the underlying cartridge for battery save/load.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// Read implements cpu.Bus: every CPU-visible read costs one machine
// cycle, ticked before the dispatch so peripherals observe the clock
// at the access point and the returned value reflects it.
func (b *Bus) Read(addr uint16) byte {
	b.Tick(4)
	return b.read(addr)
}

// Write implements cpu.Bus.
func (b *Bus) Write(addr uint16, value byte) {
	b.Tick(4)
	b.write(addr, value)
}

func (b *Bus) read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && addr < 0x0100 && len(b.bootROM) >= 0x100 {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr >= 0x8000 && addr <= 0x9FFF:
		return b.ppu.CPURead(addr)
	case addr >= 0xA000 && addr <= 0xBFFF:
		return b.cart.Read(addr)
	case addr >= 0xC000 && addr <= 0xDFFF:
		return b.wram[addr-0xC000]
	case addr >= 0xE000 && addr <= 0xFDFF:
		return b.wram[addr-0x2000-0xC000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		return b.hram[addr-0xFF80]
	case addr == 0xFF00:
		return b.joy.Read()
	case addr == 0xFF01:
		return b.ser.SB()
	case addr == 0xFF02:
		return b.ser.SC()
	case addr == 0xFF04:
		return b.tmr.DIV()
	case addr == 0xFF05:
		return b.tmr.TIMA()
	case addr == 0xFF06:
		return b.tmr.TMA()
	case addr == 0xFF07:
		return 0xF8 | (b.tmr.TAC() & 0x07)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF46:
		return b.dma
	case addr == 0xFF50:
		return 0xFF
	case addr == 0xFF0F:
		return 0xE0 | (b.ifReg & 0x1F)
	case addr == 0xFFFF:
		return b.ie
	}
	return 0xFF
}

func (b *Bus) write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr >= 0x8000 && addr <= 0x9FFF:
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xA000 && addr <= 0xBFFF:
		b.cart.Write(addr, value)
	case addr >= 0xC000 && addr <= 0xDFFF:
		b.wram[addr-0xC000] = value
	case addr >= 0xE000 && addr <= 0xFDFF:
		b.wram[addr-0x2000-0xC000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
	case addr >= 0xFF80 && addr <= 0xFFFE:
		b.hram[addr-0xFF80] = value
	case addr == 0xFF00:
		if b.joy.WriteSelect(value) {
			b.ifReg |= 1 << 4
		}
	case addr == 0xFF01:
		b.ser.WriteSB(value)
	case addr == 0xFF02:
		if b.ser.WriteSC(value) {
			b.ifReg |= 1 << 3
		}
	case addr == 0xFF04:
		if b.tmr.WriteDIV() {
			b.ifReg |= 1 << 2
		}
	case addr == 0xFF05:
		b.tmr.WriteTIMA(value)
	case addr == 0xFF06:
		b.tmr.WriteTMA(value)
	case addr == 0xFF07:
		if b.tmr.WriteTAC(value) {
			b.ifReg |= 1 << 2
		}
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr == 0xFF40, addr == 0xFF41, addr == 0xFF42, addr == 0xFF43,
		addr == 0xFF44, addr == 0xFF45,
		addr == 0xFF47, addr == 0xFF48, addr == 0xFF49,
		addr == 0xFF4A, addr == 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.dma = value
		b.dmaActive = true
		b.dmaSrc = uint16(value) << 8
		b.dmaIndex = 0
		b.dmaTick = 0
	case addr == 0xFF50:
		if value != 0x00 {
			b.bootEnabled = false
		}
	case addr == 0xFF0F:
		b.ifReg = value & 0x1F
	case addr == 0xFFFF:
		b.ie = value
	}
}

// ReadIE/ReadIF/WriteIF implement the cpu.Bus interrupt-register access
// the CPU needs for pendingInterrupt and interrupt dispatch. These do
// not tick the clock: the CPU accounts for interrupt-dispatch cycles
// itself via explicit Tick calls.
func (b *Bus) ReadIE() byte       { return b.ie }
func (b *Bus) ReadIF() byte       { return 0xE0 | (b.ifReg & 0x1F) }
func (b *Bus) WriteIF(value byte) { b.ifReg = value & 0x1F }

// Cycles returns the running T-cycle counter the CPU samples to derive
// machine-cycle counts per instruction.
func (b *Bus) Cycles() uint64 { return b.cycles }

// Tick advances every peripheral by tCycles T-cycles. Called both
// internally (once per Read/Write) and directly by the CPU for
// internal-delay cycles that touch no memory.
func (b *Bus) Tick(tCycles int) {
	if tCycles <= 0 {
		return
	}
	for i := 0; i < tCycles; i++ {
		b.cycles++
		if b.tmr.Tick() {
			b.ifReg |= 1 << 2
		}
		bit4 := b.tmr.DIVBit4()
		if b.prevDivBit4 && !bit4 {
			b.apu.FrameSeqTick()
		}
		b.prevDivBit4 = bit4
		b.ppu.Tick(1)
		b.apu.Tick(1)

		// DMA copies one byte per machine cycle, in parallel with CPU
		// execution.
		if b.dmaActive {
			b.dmaTick++
			if b.dmaTick == 4 {
				b.dmaTick = 0
				v := b.read(b.dmaSrc + uint16(b.dmaIndex))
				b.ppu.DMAWrite(0xFE00+uint16(b.dmaIndex), v)
				b.dmaIndex++
				if b.dmaIndex >= 0xA0 {
					b.dmaActive = false
				}
			}
		}
	}
}

// SetJoypadState sets which buttons are currently pressed, using the
// joypad package's Right/Left/Up/Down/A/B/SelectBtn/Start bitmasks.
func (b *Bus) SetJoypadState(mask byte) {
	if b.joy.SetState(mask) {
		b.ifReg |= 1 << 4
	}
}

// Pressed reports whether any button is held, used to decide when a
// STOP-halted CPU should resume.
func (b *Bus) Pressed() bool { return b.joy.Pressed() }

// SetSerialWriter sets a sink that receives bytes written via the
// serial port.
func (b *Bus) SetSerialWriter(w io.Writer) { b.ser.SetSink(w) }

// SetBootROM loads a DMG boot ROM mapped at 0x0000-0x00FF until
// disabled via a 0xFF50 write.
func (b *Bus) SetBootROM(data []byte) {
	b.bootROM = nil
	b.bootEnabled = false
	if len(data) >= 0x100 {
		b.bootROM = make([]byte, 0x100)
		copy(b.bootROM, data[:0x100])
		b.bootEnabled = true
	}
}

// --- Save/Load state ---
type busState struct {
	WRAM      [0x2000]byte
	HRAM      [0x7F]byte
	IE, IF    byte
	DMA       byte
	DMAActive bool
	DMASrc    uint16
	DMAIdx    int
	DMATick   int
	BootEn    bool
	Cycles    uint64

	Timer  timer.State
	Joypad joypad.State
	Serial serial.State
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		WRAM: b.wram, HRAM: b.hram,
		IE: b.ie, IF: b.ifReg,
		DMA: b.dma, DMAActive: b.dmaActive, DMASrc: b.dmaSrc, DMAIdx: b.dmaIndex, DMATick: b.dmaTick,
		BootEn: b.bootEnabled, Cycles: b.cycles,
		Timer: b.tmr.SaveState(), Joypad: b.joy.SaveState(), Serial: b.ser.SaveState(),
	}
	_ = enc.Encode(s)
	if b.ppu != nil {
		_ = enc.Encode(b.ppu.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	_ = enc.Encode(b.apu.SaveState())
	if bb, ok := b.cart.(interface{ SaveState() []byte }); ok {
		_ = enc.Encode(bb.SaveState())
	} else {
		_ = enc.Encode([]byte(nil))
	}
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	dec := gob.NewDecoder(bytes.NewReader(data))
	var s busState
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.wram = s.WRAM
	b.hram = s.HRAM
	b.ie, b.ifReg = s.IE, s.IF
	b.dma, b.dmaActive, b.dmaSrc, b.dmaIndex = s.DMA, s.DMAActive, s.DMASrc, s.DMAIdx
	b.dmaTick = s.DMATick
	b.bootEnabled = s.BootEn
	b.cycles = s.Cycles
	b.tmr.LoadState(s.Timer)
	b.prevDivBit4 = b.tmr.DIVBit4()
	b.joy.LoadState(s.Joypad)
	b.ser.LoadState(s.Serial)

	var ps []byte
	if err := dec.Decode(&ps); err == nil && b.ppu != nil {
		b.ppu.LoadState(ps)
	}
	var as []byte
	if err := dec.Decode(&as); err == nil {
		b.apu.LoadState(as)
	}
	var cs []byte
	if err := dec.Decode(&cs); err == nil {
		if bb, ok := b.cart.(interface{ LoadState([]byte) }); ok {
			bb.LoadState(cs)
		}
	}
}
