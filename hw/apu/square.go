package apu

import "dotmat/emu/log"

// squareControl is the frequency/length state shared by the two square
// channels. The duty cycle is produced by toggling hi with a non-uniform
// half-period.
type squareControl struct {
	frequency int32
	length    int32
	hi        bool
	stop      bool
}

// update toggles the output level and returns the length in cycles of the
// new half-period, with period = 4*(2048-frequency).
func (c *squareControl) update(duty int32) int32 {
	c.hi = !c.hi
	period := 4 * (2048 - c.frequency)
	switch duty {
	case 0:
		if c.hi {
			return period
		}
		return period * 7
	case 1:
		if c.hi {
			return period * 2
		}
		return period * 6
	case 3:
		if c.hi {
			return period * 6
		}
		return period * 2
	default:
		return period * 4
	}
}

type channel1 struct {
	envelope envelope
	control  squareControl
	sample   int32

	shift         int32
	direction     bool // true: frequency decreases
	time          int32
	sweepStep     int32
	sweepEnable   bool
	sweepOccurred bool
	realFrequency int32
}

// updateSweep runs one sweep calculation. On the increasing branch an
// overflowed frequency silences the channel; when writing back, the result
// is immediately re-checked for overflow and that second check can silence
// the channel too.
func (ch *channel1) updateSweep(initial bool) bool {
	if initial || ch.time != 8 {
		frequency := ch.realFrequency
		if ch.direction {
			frequency -= frequency >> ch.shift
			if !initial && frequency >= 0 {
				ch.control.frequency = frequency
				ch.realFrequency = frequency
			}
		} else {
			frequency += frequency >> ch.shift
			if frequency < 2048 {
				if !initial && ch.shift != 0 {
					ch.control.frequency = frequency
					ch.realFrequency = frequency
					if !ch.updateSweep(true) {
						return false
					}
				}
			} else {
				return false
			}
		}
		ch.sweepOccurred = true
	}
	ch.sweepStep = ch.time
	return true
}

func (ch *channel1) update() int32 {
	timing := ch.control.update(ch.envelope.duty)
	ch.sample = int32(boolToInt(ch.control.hi))*0x10 - 0x8
	ch.sample *= ch.envelope.currentVolume
	return timing
}

type channel2 struct {
	envelope envelope
	control  squareControl
	sample   int32
}

func (ch *channel2) update() int32 {
	timing := ch.control.update(ch.envelope.duty)
	ch.sample = int32(boolToInt(ch.control.hi))*0x10 - 0x8
	ch.sample *= ch.envelope.currentVolume
	return timing
}

// WriteNR10: channel 1 sweep parameters. Flipping the direction from
// decreasing to increasing after a sweep calculation has run silences the
// channel.
func (a *Audio) WriteNR10(old, val uint8) {
	if !a.enable {
		a.NR10.Value = old
		return
	}
	a.writeNR10(val)
}

func (a *Audio) writeNR10(val uint8) {
	a.ch1.shift = int32(val & 0x7)
	oldDirection := a.ch1.direction
	a.ch1.direction = val&0x8 != 0
	if a.ch1.sweepOccurred && oldDirection && !a.ch1.direction {
		a.playingCh1 = false
		a.NR52.Value &^= 0x01
	}
	a.ch1.sweepOccurred = false
	a.ch1.time = int32(val>>4) & 0x7
	if a.ch1.time == 0 {
		a.ch1.time = 8
	}
}

// WriteNR11: channel 1 duty/length. On the DMG the length field is writable
// even while the APU is disabled.
func (a *Audio) WriteNR11(old, val uint8) {
	if !a.enable {
		a.NR11.Value = old
		if a.style == StyleDMG {
			a.ch1.envelope.length = int32(val & 0x3F)
			a.ch1.control.length = 64 - a.ch1.envelope.length
		}
		return
	}
	a.writeNR11(val)
}

func (a *Audio) writeNR11(val uint8) {
	a.ch1.envelope.writeDuty(val)
	a.ch1.control.length = 64 - a.ch1.envelope.length
}

func (a *Audio) WriteNR12(old, val uint8) {
	if !a.enable {
		a.NR12.Value = old
		return
	}
	a.writeNR12(val)
}

func (a *Audio) writeNR12(val uint8) {
	if !a.ch1.envelope.writeSweep(val) {
		a.playingCh1 = false
		a.NR52.Value &^= 0x01
	}
}

func (a *Audio) WriteNR13(old, val uint8) {
	if !a.enable {
		a.NR13.Value = old
		return
	}
	a.writeNR13(val)
}

func (a *Audio) writeNR13(val uint8) {
	a.ch1.control.frequency &= 0x700
	a.ch1.control.frequency |= int32(val)
}

// WriteNR14: channel 1 frequency high bits, length enable and restart.
func (a *Audio) WriteNR14(old, val uint8) {
	if !a.enable {
		a.NR14.Value = old
		return
	}
	a.writeNR14(val)
}

func (a *Audio) writeNR14(val uint8) {
	a.ch1.control.frequency &= 0xFF
	a.ch1.control.frequency |= int32(val&0x7) << 8
	wasStop := a.ch1.control.stop
	a.ch1.control.stop = val&0x40 != 0
	if !wasStop && a.ch1.control.stop && a.ch1.control.length != 0 && a.frame&1 == 0 {
		a.ch1.control.length--
		if a.ch1.control.length == 0 {
			a.playingCh1 = false
		}
	}
	if val&0x80 != 0 {
		if a.nextEvent == maxInt32 {
			a.eventDiff = 0
		}
		if a.playingCh1 {
			a.ch1.control.hi = !a.ch1.control.hi
		}
		a.nextCh1 = a.eventDiff
		a.playingCh1 = a.ch1.envelope.initialVolume != 0 || a.ch1.envelope.direction
		a.ch1.envelope.restart()
		a.ch1.realFrequency = a.ch1.control.frequency
		a.ch1.sweepStep = a.ch1.time
		a.ch1.sweepEnable = a.ch1.sweepStep != 8 || a.ch1.shift != 0
		a.ch1.sweepOccurred = false
		if a.playingCh1 && a.ch1.shift != 0 {
			a.playingCh1 = a.ch1.updateSweep(true)
		}
		if a.ch1.control.length == 0 {
			a.ch1.control.length = 64
			if a.ch1.control.stop && a.frame&1 == 0 {
				a.ch1.control.length--
			}
		}
		a.scheduleEvent()
		log.ModSound.DebugZ("ch1 restart").
			Int32("freq", a.ch1.control.frequency).
			Bool("playing", a.playingCh1).
			End()
	}
	a.NR52.Value &^= 0x01
	if a.playingCh1 {
		a.NR52.Value |= 0x01
	}
}

// WriteNR21: channel 2 duty/length, with the same DMG power-off length
// behavior as NR11.
func (a *Audio) WriteNR21(old, val uint8) {
	if !a.enable {
		a.NR21.Value = old
		if a.style == StyleDMG {
			a.ch2.envelope.length = int32(val & 0x3F)
			a.ch2.control.length = 64 - a.ch2.envelope.length
		}
		return
	}
	a.writeNR21(val)
}

func (a *Audio) writeNR21(val uint8) {
	a.ch2.envelope.writeDuty(val)
	a.ch2.control.length = 64 - a.ch2.envelope.length
}

func (a *Audio) WriteNR22(old, val uint8) {
	if !a.enable {
		a.NR22.Value = old
		return
	}
	a.writeNR22(val)
}

func (a *Audio) writeNR22(val uint8) {
	if !a.ch2.envelope.writeSweep(val) {
		a.playingCh2 = false
		a.NR52.Value &^= 0x02
	}
}

func (a *Audio) WriteNR23(old, val uint8) {
	if !a.enable {
		a.NR23.Value = old
		return
	}
	a.writeNR23(val)
}

func (a *Audio) writeNR23(val uint8) {
	a.ch2.control.frequency &= 0x700
	a.ch2.control.frequency |= int32(val)
}

func (a *Audio) WriteNR24(old, val uint8) {
	if !a.enable {
		a.NR24.Value = old
		return
	}
	a.writeNR24(val)
}

func (a *Audio) writeNR24(val uint8) {
	a.ch2.control.frequency &= 0xFF
	a.ch2.control.frequency |= int32(val&0x7) << 8
	wasStop := a.ch2.control.stop
	a.ch2.control.stop = val&0x40 != 0
	if !wasStop && a.ch2.control.stop && a.ch2.control.length != 0 && a.frame&1 == 0 {
		a.ch2.control.length--
		if a.ch2.control.length == 0 {
			a.playingCh2 = false
		}
	}
	if val&0x80 != 0 {
		a.playingCh2 = a.ch2.envelope.initialVolume != 0 || a.ch2.envelope.direction
		a.ch2.envelope.restart()
		if a.nextEvent == maxInt32 {
			a.eventDiff = 0
		}
		if a.playingCh2 {
			a.ch2.control.hi = !a.ch2.control.hi
		}
		a.nextCh2 = a.eventDiff
		if a.ch2.control.length == 0 {
			a.ch2.control.length = 64
			if a.ch2.control.stop && a.frame&1 == 0 {
				a.ch2.control.length--
			}
		}
		a.scheduleEvent()
	}
	a.NR52.Value &^= 0x02
	if a.playingCh2 {
		a.NR52.Value |= 0x02
	}
}
