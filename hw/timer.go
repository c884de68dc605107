package hw

import (
	"math"

	"dotmat/emu/log"
	"dotmat/hw/hwio"
)

// divPeriod is the DMG DIV prescaler period in cycles.
const divPeriod = 256

// Timer is the DIV/TIMA hardware timer. Deadlines are phrased as remaining
// cycles; nextTima == math.MaxInt32 means TIMA is disabled. eventDiff
// accumulates cycles since the last service so deadlines set by register
// writes between ticks can be re-based.
type Timer struct {
	gb *GB

	DIV  hwio.Reg8 `hwio:"offset=0x04,wcb"`
	TIMA hwio.Reg8 `hwio:"offset=0x05"`
	TMA  hwio.Reg8 `hwio:"offset=0x06"`
	TAC  hwio.Reg8 `hwio:"offset=0x07,wcb,setmask=0xF8"`

	nextDiv    int32
	nextTima   int32
	nextEvent  int32
	eventDiff  int32
	timaPeriod int32
}

func newTimer(gb *GB) *Timer {
	return &Timer{gb: gb}
}

func (t *Timer) Reset() {
	t.nextDiv = divPeriod
	t.nextTima = math.MaxInt32
	t.nextEvent = divPeriod
	t.eventDiff = 0
	t.timaPeriod = 1024
}

// ProcessEvents advances the timer by delta cycles and returns the cycles
// until its next deadline. Negative residuals after a large delta carry
// forward so the prescaler keeps phase.
func (t *Timer) ProcessEvents(cycles int32) int32 {
	t.eventDiff += cycles
	t.nextEvent -= cycles
	if t.nextEvent <= 0 {
		t.nextDiv -= t.eventDiff
		if t.nextDiv <= 0 {
			t.DIV.Value++
			t.nextDiv += divPeriod
		}
		t.nextEvent = t.nextDiv

		if t.nextTima != math.MaxInt32 {
			t.nextTima -= t.eventDiff
			if t.nextTima <= 0 {
				t.TIMA.Value++
				if t.TIMA.Value == 0 {
					t.TIMA.Value = t.TMA.Value
					t.gb.RaiseIRQ(IRQTimer)
				}
				t.nextTima += t.timaPeriod
			}
			if t.nextTima < t.nextEvent {
				t.nextEvent = t.nextTima
			}
		}

		t.eventDiff = 0
	}
	return t.nextEvent
}

// WriteDIV: writing any value resets the prescaler.
func (t *Timer) WriteDIV(_, _ uint8) {
	t.DivReset()
}

func (t *Timer) DivReset() {
	t.DIV.Value = 0
	t.nextDiv = t.eventDiff + t.gb.cycles + divPeriod
	if t.eventDiff+divPeriod < t.nextEvent {
		t.nextEvent = t.eventDiff + divPeriod
		t.gb.LowerNextEvent(t.nextEvent)
	}
}

func (t *Timer) WriteTAC(_, val uint8) {
	t.UpdateTAC(val)
}

// UpdateTAC reprograms the TIMA period from the clock-select field, or
// disables TIMA when the run bit is clear.
func (t *Timer) UpdateTAC(tac uint8) {
	if tac&0x04 != 0 {
		switch tac & 0x03 {
		case 0:
			t.timaPeriod = 1024
		case 1:
			t.timaPeriod = 16
		case 2:
			t.timaPeriod = 64
		case 3:
			t.timaPeriod = 256
		}
		t.UpdateTIMA()
	} else {
		t.nextTima = math.MaxInt32
	}
	log.ModTimer.DebugZ("tac update").Hex8("tac", tac).Int32("period", t.timaPeriod).End()
}

// UpdateTIMA re-bases the TIMA deadline relative to the current CPU cycle.
func (t *Timer) UpdateTIMA() {
	t.nextTima = t.eventDiff + t.gb.cycles + t.timaPeriod
	if t.eventDiff+t.timaPeriod < t.nextEvent {
		t.nextEvent = t.eventDiff + t.timaPeriod
		t.gb.LowerNextEvent(t.nextEvent)
	}
}
