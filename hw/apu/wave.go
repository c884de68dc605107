package apu

import (
	"encoding/binary"

	"dotmat/emu/log"
)

// channel3 is the wavetable channel: 32 4-bit entries, addressed a nibble
// at a time on the DMG and as two rotating 16-entry banks of 32-bit words
// on the GBA.
type channel3 struct {
	length int32
	bank   int32
	size   int32
	volume int32
	rate   int32

	enable   bool
	stop     bool
	readable bool

	window   uint8
	sample   int32
	wavedata [32]uint8
}

func (ch *channel3) word(i int) uint32 {
	return binary.LittleEndian.Uint32(ch.wavedata[i*4:])
}

func (ch *channel3) setWord(i int, w uint32) {
	binary.LittleEndian.PutUint32(ch.wavedata[i*4:], w)
}

// update advances the wave window one step and computes the output sample.
// The GBA keeps the wave RAM itself rotating: every byte within a word
// moves one nibble forward, each word carrying the high nibble over from
// the next; the extracted nibble is the carry out of the last word.
func (ch *channel3) update(style Style) int32 {
	var volume int32
	switch ch.volume {
	case 0:
		volume = 0
	case 1:
		volume = 4
	case 2:
		volume = 2
	case 3:
		volume = 1
	default:
		volume = 3
	}
	var sample int32
	switch style {
	case StyleGBA:
		var start, end int
		switch {
		case ch.size != 0:
			start, end = 7, 0
		case ch.bank != 0:
			start, end = 7, 4
		default:
			start, end = 3, 0
		}
		bitsCarry := ch.word(end) & 0x000000F0
		for i := start; i >= end; i-- {
			bits := ch.word(i) & 0x000000F0
			w := ch.word(i)
			w = ((w & 0x0F0F0F0F) << 4) | ((w & 0xF0F0F000) >> 12)
			w |= bitsCarry << 20
			ch.setWord(i, w)
			bitsCarry = bits
		}
		sample = int32(bitsCarry >> 4)
	default:
		ch.window++
		ch.window &= 0x1F
		sample = int32(ch.wavedata[ch.window>>1])
		if ch.window&1 == 0 {
			sample >>= 4
		}
		sample &= 0xF
	}
	sample -= 8
	sample *= volume * 4
	ch.sample = sample
	return 2 * (2048 - ch.rate)
}

// WriteNR30: wave channel power; on the GBA also the bank layout bits.
func (a *Audio) WriteNR30(old, val uint8) {
	if !a.enable {
		a.NR30.Value = old
		return
	}
	a.writeNR30(val)
}

func (a *Audio) writeNR30(val uint8) {
	a.ch3.enable = val&0x80 != 0
	if a.style == StyleGBA {
		a.ch3.size = int32(val>>5) & 1
		a.ch3.bank = int32(val>>6) & 1
	}
	if !a.ch3.enable {
		a.playingCh3 = false
		a.NR52.Value &^= 0x04
	}
}

// WriteNR31: wave channel length, writable on the DMG even while the APU
// is off.
func (a *Audio) WriteNR31(old, val uint8) {
	if !a.enable {
		a.NR31.Value = old
		if a.style == StyleDMG {
			a.ch3.length = 256 - int32(val)
		}
		return
	}
	a.writeNR31(val)
}

func (a *Audio) writeNR31(val uint8) {
	a.ch3.length = 256 - int32(val)
}

func (a *Audio) WriteNR32(old, val uint8) {
	if !a.enable {
		a.NR32.Value = old
		return
	}
	a.writeNR32(val)
}

func (a *Audio) writeNR32(val uint8) {
	if a.style == StyleGBA {
		a.ch3.volume = int32(val>>5) & 0x7
	} else {
		a.ch3.volume = int32(val>>5) & 0x3
	}
}

func (a *Audio) WriteNR33(old, val uint8) {
	if !a.enable {
		a.NR33.Value = old
		return
	}
	a.writeNR33(val)
}

func (a *Audio) writeNR33(val uint8) {
	a.ch3.rate &= 0x700
	a.ch3.rate |= int32(val)
}

// WriteNR34: wave frequency high bits, length enable and restart. A DMG
// retrigger while the previous read window is still open corrupts the
// start of wave RAM with the bytes currently being read.
func (a *Audio) WriteNR34(old, val uint8) {
	if !a.enable {
		a.NR34.Value = old
		return
	}
	a.writeNR34(val)
}

func (a *Audio) writeNR34(val uint8) {
	a.ch3.rate &= 0xFF
	a.ch3.rate |= int32(val&0x7) << 8
	wasStop := a.ch3.stop
	a.ch3.stop = val&0x40 != 0
	if !wasStop && a.ch3.stop && a.ch3.length != 0 && a.frame&1 == 0 {
		a.ch3.length--
		if a.ch3.length == 0 {
			a.playingCh3 = false
		}
	}
	wasEnable := a.playingCh3
	if val&0x80 != 0 {
		a.playingCh3 = a.ch3.enable
		if a.ch3.length == 0 {
			a.ch3.length = 256
			if a.ch3.stop && a.frame&1 == 0 {
				a.ch3.length--
			}
		}

		if a.quirk.WaveCorrupt && a.style == StyleDMG && wasEnable && a.playingCh3 && a.ch3.readable {
			if a.ch3.window < 8 {
				a.ch3.wavedata[0] = a.ch3.wavedata[a.ch3.window>>1]
			} else {
				base := (a.ch3.window >> 1) &^ 3
				copy(a.ch3.wavedata[0:4], a.ch3.wavedata[base:base+4])
			}
			log.ModSound.DebugZ("wave ram corrupted").Uint8("window", a.ch3.window).End()
		}
		a.ch3.window = 0
	}
	if a.playingCh3 {
		if a.nextEvent == maxInt32 {
			a.eventDiff = 0
		}
		a.ch3.readable = a.style != StyleDMG
		a.scheduleEvent()
		// TODO: where does this cycle delay come from?
		a.nextCh3 = a.eventDiff + a.nextEvent + 4 + 2*(2048-a.ch3.rate)
	}
	a.NR52.Value &^= 0x04
	if a.playingCh3 {
		a.NR52.Value |= 0x04
	}
}

// Wave RAM window. While the channel plays, DMG reads see 0xFF unless the
// hardware happens to be fetching (readable); otherwise reads and writes go
// to the CPU-visible bank (on the GBA, the bank not being played).

func (a *Audio) waveBank() int {
	if a.style == StyleGBA {
		return int(1-a.ch3.bank) * 16
	}
	return 0
}

func (a *Audio) readWave(addr uint16) uint8 {
	if a.playingCh3 {
		if a.ch3.readable || a.style != StyleDMG {
			return a.ch3.wavedata[a.ch3.window>>1]
		}
		return 0xFF
	}
	return a.ch3.wavedata[a.waveBank()+int(addr-a.waveBase)]
}

func (a *Audio) peekWave(addr uint16) uint8 {
	return a.ch3.wavedata[a.waveBank()+int(addr-a.waveBase)]
}

func (a *Audio) writeWave(addr uint16, val uint8) {
	if a.playingCh3 {
		if a.ch3.readable || a.style != StyleDMG {
			a.ch3.wavedata[a.ch3.window>>1] = val
		}
		return
	}
	a.ch3.wavedata[a.waveBank()+int(addr-a.waveBase)] = val
}
