package apu

import (
	"math"

	"github.com/arl/blip"

	"dotmat/emu/log"
	"dotmat/hw/hwio"
)

// Style selects the flavor of PSG being emulated; it changes wave-channel
// addressing and what a global disable clears.
type Style uint8

const (
	StyleDMG Style = iota
	StyleGBA
)

// Quirks gates revision-dependent behaviors.
type Quirks struct {
	WaveCorrupt bool
}

const (
	// frameCycles is the 512 Hz frame-sequencer period.
	frameCycles = 0x400000 >> 9

	// clocksPerBlipFrame is how many CPU cycles are accumulated before the
	// resampler frame is closed.
	clocksPerBlipFrame = 0x1000

	blipBufferSize = 0x4000

	// VolumeMax is the neutral master volume.
	VolumeMax = 0x100

	maxInt32 = math.MaxInt32
)

// core is the non-owning handle back to the parent; the core strictly
// outlives its peripherals.
type core interface {
	// Cycles is the CPU cycle count, double-speed adjusted.
	Cycles() int32
	// SetNextEvent installs a new scheduler deadline so a register write is
	// observed at the next instruction boundary.
	SetNextEvent(int32)
}

// Synchronizer is the audio side of the producer/consumer barrier.
type Synchronizer interface {
	LockAudio()
	ProduceAudio(wait bool) bool
}

// Stream taps the sample flow: PostAudioFrame sees every stereo sample,
// PostAudioBuffer fires when a full buffer of samples is available.
type Stream interface {
	PostAudioFrame(left, right int16)
	PostAudioBuffer(left, right *blip.Buffer)
}

// Audio is the four-channel PSG: two squares, a wavetable and a noise LFSR,
// clocked by a 512 Hz frame sequencer and drained into a pair of
// band-limited resampling buffers.
type Audio struct {
	NR10 hwio.Reg8 `hwio:"offset=0x10,wcb,setmask=0x80"`
	NR11 hwio.Reg8 `hwio:"offset=0x11,wcb,setmask=0x3F"`
	NR12 hwio.Reg8 `hwio:"offset=0x12,wcb"`
	NR13 hwio.Reg8 `hwio:"offset=0x13,wcb,setmask=0xFF"`
	NR14 hwio.Reg8 `hwio:"offset=0x14,wcb,setmask=0xBF"`
	NR21 hwio.Reg8 `hwio:"offset=0x16,wcb,setmask=0x3F"`
	NR22 hwio.Reg8 `hwio:"offset=0x17,wcb"`
	NR23 hwio.Reg8 `hwio:"offset=0x18,wcb,setmask=0xFF"`
	NR24 hwio.Reg8 `hwio:"offset=0x19,wcb,setmask=0xBF"`
	NR30 hwio.Reg8 `hwio:"offset=0x1A,wcb,setmask=0x7F"`
	NR31 hwio.Reg8 `hwio:"offset=0x1B,wcb,setmask=0xFF"`
	NR32 hwio.Reg8 `hwio:"offset=0x1C,wcb,setmask=0x9F"`
	NR33 hwio.Reg8 `hwio:"offset=0x1D,wcb,setmask=0xFF"`
	NR34 hwio.Reg8 `hwio:"offset=0x1E,wcb,setmask=0xBF"`
	NR41 hwio.Reg8 `hwio:"offset=0x20,wcb,setmask=0xFF"`
	NR42 hwio.Reg8 `hwio:"offset=0x21,wcb"`
	NR43 hwio.Reg8 `hwio:"offset=0x22,wcb"`
	NR44 hwio.Reg8 `hwio:"offset=0x23,wcb,setmask=0xBF"`
	NR50 hwio.Reg8 `hwio:"offset=0x24,wcb"`
	NR51 hwio.Reg8 `hwio:"offset=0x25,wcb"`
	NR52 hwio.Reg8 `hwio:"offset=0x26,wcb,romask=0x0F,setmask=0x70"`

	core  core
	sync  Synchronizer
	strm  Stream
	style Style
	quirk Quirks

	left  *blip.Buffer
	right *blip.Buffer

	ch1 channel1
	ch2 channel2
	ch3 channel3
	ch4 channel4

	playingCh1 bool
	playingCh2 bool
	playingCh3 bool
	playingCh4 bool

	frame     int32
	nextFrame int32

	nextEvent int32
	eventDiff int32
	nextCh1   int32
	nextCh2   int32
	nextCh3   int32
	fadeCh3   int32
	nextCh4   int32

	nextSample     int32
	sampleInterval int32
	clock          int32
	lastLeft       int16
	lastRight      int16
	samples        int

	volumeLeft  int32
	volumeRight int32
	ch1Left     bool
	ch2Left     bool
	ch3Left     bool
	ch4Left     bool
	ch1Right    bool
	ch2Right    bool
	ch3Right    bool
	ch4Right    bool

	enable         bool
	forceDisableCh [4]bool
	masterVolume   int32

	waveBase uint16
}

func New(c core, samples int, style Style, quirk Quirks) *Audio {
	a := &Audio{
		core:    c,
		style:   style,
		quirk:   quirk,
		samples: samples,
		left:    blip.NewBuffer(blipBufferSize),
		right:   blip.NewBuffer(blipBufferSize),

		masterVolume: VolumeMax,
	}
	// Guess too large; we hang producing extra samples if we guess too low.
	a.left.SetRates(0x400000, 96000)
	a.right.SetRates(0x400000, 96000)

	hwio.MustInitRegs(a)
	return a
}

// Map wires the register bank and the wave RAM window into an IO table.
func (a *Audio) Map(tbl *hwio.Table, base uint16) {
	tbl.MapBank(base, a, 0)
	a.waveBase = base + 0x30
	tbl.MapDevice(a.waveBase, &hwio.Device{
		Name:    "WAVE",
		Size:    16,
		ReadCb:  a.readWave,
		PeekCb:  a.peekWave,
		WriteCb: a.writeWave,
	})
}

func (a *Audio) SetSync(sync Synchronizer) { a.sync = sync }
func (a *Audio) SetStream(strm Stream)     { a.strm = strm }
func (a *Audio) Left() *blip.Buffer        { return a.left }
func (a *Audio) Right() *blip.Buffer       { return a.right }
func (a *Audio) Samples() int              { return a.samples }
func (a *Audio) SetMasterVolume(vol int32) { a.masterVolume = vol }
func (a *Audio) MasterVolume() int32       { return a.masterVolume }

func (a *Audio) ForceDisable(ch int, disable bool) {
	a.forceDisableCh[ch] = disable
}

func (a *Audio) Reset() {
	a.nextEvent = 0
	a.nextCh1 = 0
	a.nextCh2 = 0
	a.nextCh3 = 0
	a.fadeCh3 = 0
	a.nextCh4 = 0
	a.ch1 = channel1{envelope: envelope{dead: 2}}
	a.ch2 = channel2{envelope: envelope{dead: 2}}
	a.ch3 = channel3{}
	a.ch4 = channel4{envelope: envelope{dead: 2}}
	a.eventDiff = 0
	a.nextFrame = 0
	a.frame = 0
	a.nextSample = 0
	a.sampleInterval = 128
	a.lastLeft = 0
	a.lastRight = 0
	a.clock = 0
	a.volumeRight = 0
	a.volumeLeft = 0
	a.ch1Right = false
	a.ch2Right = false
	a.ch3Right = false
	a.ch4Right = false
	a.ch1Left = false
	a.ch2Left = false
	a.ch3Left = false
	a.ch4Left = false
	a.playingCh1 = false
	a.playingCh2 = false
	a.playingCh3 = false
	a.playingCh4 = false
	a.enable = false
}

// ResizeBuffer installs a new consumer buffer size. Takes the audio lock so
// it is safe against a concurrently producing worker.
func (a *Audio) ResizeBuffer(samples int) {
	if a.sync != nil {
		a.sync.LockAudio()
	}
	a.samples = samples
	a.left.Clear()
	a.right.Clear()
	a.clock = 0
	if a.sync != nil {
		a.sync.ProduceAudio(false)
	}
}

func (a *Audio) Enabled() bool { return a.enable }

// Frame is the current 512 Hz frame-sequencer phase (0-7).
func (a *Audio) Frame() int32 { return a.frame }

func (a *Audio) Playing(ch int) bool {
	switch ch {
	case 0:
		return a.playingCh1
	case 1:
		return a.playingCh2
	case 2:
		return a.playingCh3
	default:
		return a.playingCh4
	}
}

// scheduleEvent forces a service round at the current cycle, so that a
// register write is observed before the CPU advances further.
func (a *Audio) scheduleEvent() {
	a.nextEvent = a.core.Cycles()
	a.core.SetNextEvent(a.nextEvent)
}

func (a *Audio) updateNR52() {
	a.NR52.Value &^= 0x0F
	if a.playingCh1 {
		a.NR52.Value |= 0x01
	}
	if a.playingCh2 {
		a.NR52.Value |= 0x02
	}
	if a.playingCh3 {
		a.NR52.Value |= 0x04
	}
	if a.playingCh4 {
		a.NR52.Value |= 0x08
	}
}

// ProcessEvents advances the PSG by delta cycles: the frame sequencer, each
// channel's own deadline, and the sampling interval. Returns the cycles
// until the nearest deadline, or math.MaxInt32 when nothing is scheduled.
func (a *Audio) ProcessEvents(cycles int32) int32 {
	if a.nextEvent == math.MaxInt32 {
		return math.MaxInt32
	}
	a.nextEvent -= cycles
	a.eventDiff += cycles
	for a.nextEvent <= 0 {
		a.nextEvent = math.MaxInt32
		if a.enable {
			a.nextFrame -= a.eventDiff
			frame := int32(-1)
			if a.nextFrame <= 0 {
				frame = (a.frame + 1) & 7
				a.frame = frame
				a.nextFrame += frameCycles
				if a.nextFrame < a.nextEvent {
					a.nextEvent = a.nextFrame
				}
			}

			if a.playingCh1 {
				a.nextCh1 -= a.eventDiff
				if a.ch1.envelope.dead == 0 && frame == 7 {
					a.ch1.envelope.nextStep--
					if a.ch1.envelope.nextStep == 0 {
						sample := int32(boolToInt(a.ch1.control.hi))*0x10 - 0x8
						a.ch1.envelope.update()
						a.ch1.sample = sample * a.ch1.envelope.currentVolume
					}
				}

				if a.ch1.sweepEnable && (frame&3) == 2 {
					a.ch1.sweepStep--
					if a.ch1.sweepStep == 0 {
						a.playingCh1 = a.ch1.updateSweep(false)
					}
				}

				if a.ch1.envelope.dead != 2 {
					if a.nextCh1 <= 0 {
						a.nextCh1 += a.ch1.update()
					}
					if a.nextCh1 < a.nextEvent {
						a.nextEvent = a.nextCh1
					}
				}
			}

			if a.ch1.control.length != 0 && a.ch1.control.stop && frame&1 == 0 {
				a.ch1.control.length--
				if a.ch1.control.length == 0 {
					a.playingCh1 = false
				}
			}

			if a.playingCh2 {
				a.nextCh2 -= a.eventDiff
				if a.ch2.envelope.dead == 0 && frame == 7 {
					a.ch2.envelope.nextStep--
					if a.ch2.envelope.nextStep == 0 {
						sample := int32(boolToInt(a.ch2.control.hi))*0x10 - 0x8
						a.ch2.envelope.update()
						a.ch2.sample = sample * a.ch2.envelope.currentVolume
					}
				}

				if a.ch2.envelope.dead != 2 {
					if a.nextCh2 <= 0 {
						a.nextCh2 += a.ch2.update()
					}
					if a.nextCh2 < a.nextEvent {
						a.nextEvent = a.nextCh2
					}
				}
			}

			if a.ch2.control.length != 0 && a.ch2.control.stop && frame&1 == 0 {
				a.ch2.control.length--
				if a.ch2.control.length == 0 {
					a.playingCh2 = false
				}
			}

			if a.playingCh3 {
				a.nextCh3 -= a.eventDiff
				a.fadeCh3 -= a.eventDiff
				if a.fadeCh3 <= 0 {
					a.ch3.readable = false
					a.fadeCh3 = math.MaxInt32
				}
				if a.nextCh3 <= 0 {
					if a.style == StyleDMG {
						a.fadeCh3 = a.nextCh3 + 2
					}
					a.nextCh3 += a.ch3.update(a.style)
					a.ch3.readable = true
				}
				if a.fadeCh3 < a.nextEvent {
					a.nextEvent = a.fadeCh3
				}
				if a.nextCh3 < a.nextEvent {
					a.nextEvent = a.nextCh3
				}
			}

			if a.ch3.length != 0 && a.ch3.stop && frame&1 == 0 {
				a.ch3.length--
				if a.ch3.length == 0 {
					a.playingCh3 = false
				}
			}

			if a.playingCh4 {
				a.nextCh4 -= a.eventDiff
				if a.ch4.envelope.dead == 0 && frame == 7 {
					a.ch4.envelope.nextStep--
					if a.ch4.envelope.nextStep == 0 {
						sample := (a.ch4.sample >> 31) * 0x8
						a.ch4.envelope.update()
						a.ch4.sample = sample * a.ch4.envelope.currentVolume
					}
				}
			}

			if a.ch4.length != 0 && a.ch4.stop && frame&1 == 0 {
				a.ch4.length--
				if a.ch4.length == 0 {
					a.playingCh4 = false
				}
			}
		}

		a.updateNR52()

		a.nextSample -= a.eventDiff
		if a.nextSample <= 0 {
			a.sample(a.sampleInterval)
			a.nextSample += a.sampleInterval
		}

		if a.nextSample < a.nextEvent {
			a.nextEvent = a.nextSample
		}
		a.eventDiff = 0
	}
	return a.nextEvent
}

// SamplePSG mixes the four channels into one stereo sample pair, before
// master-volume scaling. Channel 4 runs on no fixed deadline and is caught
// up lazily here.
func (a *Audio) SamplePSG() (left, right int16) {
	var sampleLeft, sampleRight int32

	if a.ch4.envelope.dead != 2 {
		for a.nextCh4 <= 0 {
			a.nextCh4 += a.ch4.update()
		}
		if a.nextCh4 < a.nextEvent {
			a.nextEvent = a.nextCh4
		}
	}

	if a.playingCh1 && !a.forceDisableCh[0] {
		if a.ch1Left {
			sampleLeft += a.ch1.sample
		}
		if a.ch1Right {
			sampleRight += a.ch1.sample
		}
	}

	if a.playingCh2 && !a.forceDisableCh[1] {
		if a.ch2Left {
			sampleLeft += a.ch2.sample
		}
		if a.ch2Right {
			sampleRight += a.ch2.sample
		}
	}

	if a.playingCh3 && !a.forceDisableCh[2] {
		if a.ch3Left {
			sampleLeft += a.ch3.sample
		}
		if a.ch3Right {
			sampleRight += a.ch3.sample
		}
	}

	if a.playingCh4 && !a.forceDisableCh[3] {
		if a.ch4Left {
			sampleLeft += a.ch4.sample
		}
		if a.ch4Right {
			sampleRight += a.ch4.sample
		}
	}

	return int16(sampleLeft * (1 + a.volumeLeft)), int16(sampleRight * (1 + a.volumeRight))
}

func (a *Audio) sample(cycles int32) {
	sampleLeft, sampleRight := a.SamplePSG()
	sampleLeft = int16((int32(sampleLeft) * a.masterVolume) >> 6)
	sampleRight = int16((int32(sampleRight) * a.masterVolume) >> 6)

	if a.sync != nil {
		a.sync.LockAudio()
	}
	if a.left.SamplesAvailable() < a.samples {
		a.left.AddDelta(uint64(a.clock), int32(sampleLeft-a.lastLeft))
		a.right.AddDelta(uint64(a.clock), int32(sampleRight-a.lastRight))
		a.lastLeft = sampleLeft
		a.lastRight = sampleRight
		a.clock += cycles
		if a.clock >= clocksPerBlipFrame {
			a.left.EndFrame(int(a.clock))
			a.right.EndFrame(int(a.clock))
			a.clock -= clocksPerBlipFrame
		}
	}
	produced := a.left.SamplesAvailable()
	if a.strm != nil {
		a.strm.PostAudioFrame(sampleLeft, sampleRight)
	}
	wait := produced >= a.samples
	if a.sync != nil {
		a.sync.ProduceAudio(wait)
	}
	if wait && a.strm != nil {
		a.strm.PostAudioBuffer(a.left, a.right)
	}
}

// WriteNR50: master volume.
func (a *Audio) WriteNR50(old, val uint8) {
	if !a.enable {
		a.NR50.Value = old
		return
	}
	a.writeNR50(val)
}

func (a *Audio) writeNR50(val uint8) {
	a.volumeRight = int32(val & 0x7)
	a.volumeLeft = int32(val>>4) & 0x7
}

// WriteNR51: channel-to-output routing.
func (a *Audio) WriteNR51(old, val uint8) {
	if !a.enable {
		a.NR51.Value = old
		return
	}
	a.writeNR51(val)
}

func (a *Audio) writeNR51(val uint8) {
	a.ch1Right = val&0x01 != 0
	a.ch2Right = val&0x02 != 0
	a.ch3Right = val&0x04 != 0
	a.ch4Right = val&0x08 != 0
	a.ch1Left = val&0x10 != 0
	a.ch2Left = val&0x20 != 0
	a.ch3Left = val&0x40 != 0
	a.ch4Left = val&0x80 != 0
}

// WriteNR52: master enable. Disabling clears every audio register and stops
// all four channels; the DMG keeps its length counters across the power
// cycle. Re-enabling resets the frame sequencer phase so the next tick is
// frame 0.
func (a *Audio) WriteNR52(old, val uint8) {
	wasEnable := a.enable
	a.enable = val&0x80 != 0
	if !a.enable {
		a.playingCh1 = false
		a.playingCh2 = false
		a.playingCh3 = false
		a.playingCh4 = false
		a.writeNR10(0)
		a.writeNR12(0)
		a.writeNR13(0)
		a.writeNR14(0)
		a.writeNR22(0)
		a.writeNR23(0)
		a.writeNR24(0)
		a.writeNR30(0)
		a.writeNR32(0)
		a.writeNR33(0)
		a.writeNR34(0)
		a.writeNR42(0)
		a.writeNR43(0)
		a.writeNR44(0)
		a.writeNR50(0)
		a.writeNR51(0)
		if a.style != StyleDMG {
			a.writeNR11(0)
			a.writeNR21(0)
			a.writeNR31(0)
			a.writeNR41(0)
		}

		a.NR10.Value = 0
		a.NR12.Value = 0
		a.NR13.Value = 0
		a.NR14.Value = 0
		a.NR22.Value = 0
		a.NR23.Value = 0
		a.NR24.Value = 0
		a.NR30.Value = 0
		a.NR32.Value = 0
		a.NR33.Value = 0
		a.NR34.Value = 0
		a.NR42.Value = 0
		a.NR43.Value = 0
		a.NR44.Value = 0
		a.NR50.Value = 0
		a.NR51.Value = 0
		if a.style != StyleDMG {
			a.NR11.Value = 0
			a.NR21.Value = 0
			a.NR31.Value = 0
			a.NR41.Value = 0
		}
		a.NR52.Value &^= 0x0F
		log.ModSound.DebugZ("apu disabled").End()
	} else if !wasEnable {
		a.frame = 7
		log.ModSound.DebugZ("apu enabled").End()
	}
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
