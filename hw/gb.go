package hw

import (
	"math"

	"dotmat/emu/log"
	"dotmat/hw/apu"
	"dotmat/hw/hwio"
)

// Style selects the flavor of hardware being emulated. Peripherals branch
// on it for wave-channel addressing and NR52 reset behavior.
type Style uint8

const (
	StyleDMG Style = iota
	StyleGBA
)

func (s Style) String() string {
	if s == StyleGBA {
		return "gba"
	}
	return "dmg"
}

const (
	// Frequency is the LR35902 master clock, 4.194304 MHz.
	Frequency = 0x400000

	// FrameCycles is one video frame: 154 scanlines of 456 cycles.
	FrameCycles = 70224
)

// Interrupt-flag bits of IF/IE.
const (
	IRQVBlank uint8 = 1 << iota
	IRQLCDStat
	IRQTimer
	IRQSerial
	IRQKeypad
)

const ioBase = 0xFF00

// Quirks gates hardware behaviors that differ between board revisions.
type Quirks struct {
	// WaveCorrupt replays the DMG wave-RAM corruption on channel-3
	// retrigger. The exact behavior differs between revisions; this models
	// the common one.
	WaveCorrupt bool
}

// GB is the emulated core: the cycle clock, the event-deadline scheduler
// and the memory-mapped peripherals. The CPU instruction decoder, cartridge
// and PPU renderer are external collaborators; RunLoop advances the clock
// in instruction-sized quanta and services peripheral deadlines.
type GB struct {
	Timer *Timer
	APU   *apu.Audio
	IO    *hwio.Table

	IF hwio.Reg8 `hwio:"offset=0x0F,setmask=0xE0"`
	IE hwio.Reg8 `hwio:"offset=0xFF"`

	sync *Sync

	cycles      int32
	nextEvent   int32
	doubleSpeed uint8
	style       Style

	// irqCb is invoked whenever an enabled interrupt becomes pending. The
	// CPU decoder hooks itself here.
	irqCb func(pending uint8)

	// frameHook is invoked on the worker after each presented frame.
	frameHook func()
}

func NewGB(style Style, samples int) *GB {
	gb := &GB{
		style: style,
	}
	quirks := Quirks{WaveCorrupt: style == StyleDMG}
	gb.Timer = newTimer(gb)
	gb.APU = apu.New(gb, samples, apu.Style(style), apu.Quirks(quirks))

	gb.IO = hwio.NewTable("io", ioBase)
	hwio.MustInitRegs(gb)
	hwio.MustInitRegs(gb.Timer)
	gb.IO.MapBank(ioBase, gb, 0)
	gb.IO.MapBank(ioBase, gb.Timer, 0)
	gb.APU.Map(gb.IO, ioBase)

	return gb
}

func (gb *GB) SetSync(sync *Sync) {
	gb.sync = sync
	gb.APU.SetSync(sync)
}

func (gb *GB) SetIRQHandler(cb func(pending uint8)) {
	gb.irqCb = cb
}

func (gb *GB) Style() Style { return gb.style }

func (gb *GB) Reset() {
	gb.cycles = 0
	gb.nextEvent = 0
	gb.IF.Value = 0
	gb.Timer.Reset()
	gb.APU.Reset()
	log.ModEmu.InfoZ("core reset").Stringer("style", gb.style).End()
}

// Cycles returns the current CPU cycle count, adjusted for double speed.
// Peripherals use it to re-base deadlines set by register writes between
// service rounds.
func (gb *GB) Cycles() int32 {
	return gb.cycles >> gb.doubleSpeed
}

// SetNextEvent installs a new scheduler deadline. Register writes use it so
// the reduced deadline is observed at the next instruction boundary.
func (gb *GB) SetNextEvent(v int32) {
	gb.nextEvent = v
}

// LowerNextEvent installs v as the scheduler deadline if it is nearer than
// the current one.
func (gb *GB) LowerNextEvent(v int32) {
	if v < gb.nextEvent {
		gb.nextEvent = v
	}
}

func (gb *GB) NextEvent() int32 {
	return gb.nextEvent
}

// RaiseIRQ sets an interrupt-pending bit and propagates it.
func (gb *GB) RaiseIRQ(irq uint8) {
	gb.IF.Value |= irq
	gb.UpdateIRQs()
}

func (gb *GB) UpdateIRQs() {
	pending := gb.IE.Value & gb.IF.Value & 0x1F
	if pending == 0 {
		return
	}
	log.ModCPU.DebugZ("irq pending").Hex8("if", gb.IF.Value).Hex8("ie", gb.IE.Value).End()
	if gb.irqCb != nil {
		gb.irqCb(pending)
	}
}

// Step advances the clock by one instruction's worth of cycles and services
// peripherals whenever a deadline expires.
func (gb *GB) Step(cycles int32) {
	gb.cycles += cycles
	if gb.cycles >= gb.nextEvent {
		gb.processEvents()
	}
}

// processEvents runs every peripheral up to the current cycle and
// recomputes the nearest deadline. Coincident deadlines are all serviced in
// one round; a peripheral returning a value that a register write already
// lowered is handled by looping until the deadline is in the future again.
func (gb *GB) processEvents() {
	for gb.cycles >= gb.nextEvent {
		cycles := gb.cycles
		gb.cycles = 0
		gb.nextEvent = math.MaxInt32

		nextEvent := int32(math.MaxInt32)
		if t := gb.Timer.ProcessEvents(cycles); t < nextEvent {
			nextEvent = t
		}
		if t := gb.APU.ProcessEvents(cycles >> gb.doubleSpeed); t < nextEvent {
			nextEvent = t
		}
		gb.nextEvent = nextEvent
	}
}

// RunLoop runs one frame quantum: FrameCycles cycles of bus activity, then
// a frame presentation through the video barrier. The thread harness calls
// it in a loop while the worker is in the running state.
func (gb *GB) RunLoop() {
	for elapsed := int32(0); elapsed < FrameCycles; elapsed += 4 {
		gb.Step(4)
	}
	if gb.sync != nil {
		gb.sync.PostFrame()
	}
	if gb.frameHook != nil {
		gb.frameHook()
	}
}

func (gb *GB) SetFrameHook(hook func()) {
	gb.frameHook = hook
}

// Write8 and Read8 are the CPU-visible accessors of the IO page.

func (gb *GB) Write8(addr uint16, val uint8) {
	gb.IO.Write8(addr, val)
}

func (gb *GB) Read8(addr uint16) uint8 {
	return gb.IO.Read8(addr, false)
}

func (gb *GB) Peek8(addr uint16) uint8 {
	return gb.IO.Peek8(addr)
}
