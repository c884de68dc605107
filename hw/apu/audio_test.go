package apu

import (
	"math"
	"testing"

	"dotmat/hw/hwio"
)

// testCore drives an Audio through the event-deadline protocol the way the
// CPU core does: advance in small steps, service on expiry, keep the
// minimum deadline.
type testCore struct {
	a         *Audio
	cycles    int32
	nextEvent int32
}

func (c *testCore) Cycles() int32        { return c.cycles }
func (c *testCore) SetNextEvent(v int32) { c.nextEvent = v }

func (c *testCore) process() {
	for c.cycles >= c.nextEvent {
		cycles := c.cycles
		c.cycles = 0
		c.nextEvent = math.MaxInt32
		if t := c.a.ProcessEvents(cycles); t < c.nextEvent {
			c.nextEvent = t
		}
	}
}

func (c *testCore) run(n int32) {
	for range n / 4 {
		c.cycles += 4
		if c.cycles >= c.nextEvent {
			c.process()
		}
	}
}

func newTestAudio(t *testing.T, style Style) (*Audio, *testCore, *hwio.Table) {
	t.Helper()
	c := &testCore{}
	a := New(c, 512, style, Quirks{WaveCorrupt: style == StyleDMG})
	c.a = a
	a.Reset()

	tbl := hwio.NewTable("io", 0xFF00)
	a.Map(tbl, 0xFF00)

	// Power on and open all routes at full volume.
	tbl.Write8(0xFF26, 0x80)
	tbl.Write8(0xFF24, 0x77)
	tbl.Write8(0xFF25, 0xFF)
	return a, c, tbl
}

func TestFrameSequencer(t *testing.T) {
	a, c, _ := newTestAudio(t, StyleDMG)

	// Power-on parks the sequencer at phase 7; the first tick is frame 0.
	if a.Frame() != 7 {
		t.Fatalf("initial frame = %d, want 7", a.Frame())
	}
	c.run(4)
	if a.Frame() != 0 {
		t.Fatalf("first frame tick = %d, want 0", a.Frame())
	}
	for want := int32(1); want < 16; want++ {
		c.run(frameCycles)
		if got := a.Frame(); got != want&7 {
			t.Fatalf("frame after %d periods = %d, want %d", want, got, want&7)
		}
	}
}

func TestFrameSequencerResetOnEnable(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	c.run(frameCycles * 3)
	tbl.Write8(0xFF26, 0x00)
	tbl.Write8(0xFF26, 0x80)
	// Phase 7 after re-enable, so the next tick lands on frame 0.
	if a.Frame() != 7 {
		t.Fatalf("frame after re-enable = %d, want 7", a.Frame())
	}
	c.run(frameCycles)
	if a.Frame() != 0 {
		t.Fatalf("first frame tick after re-enable = %d, want 0", a.Frame())
	}
}

func TestEnvelopeDecay(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	// Volume 10, decreasing, step time 2; trigger.
	tbl.Write8(0xFF17, 0xA2)
	tbl.Write8(0xFF19, 0x80)

	if a.ch2.envelope.currentVolume != 10 {
		t.Fatalf("volume after trigger = %d, want 10", a.ch2.envelope.currentVolume)
	}

	// Envelope clocks on frame 7, every 8 frames, and steps every 2 clocks.
	c.run(frameCycles * 8 * 2)
	if a.ch2.envelope.currentVolume != 9 {
		t.Fatalf("volume after one step = %d, want 9", a.ch2.envelope.currentVolume)
	}

	c.run(frameCycles * 8 * 2 * 9)
	if a.ch2.envelope.currentVolume != 0 {
		t.Fatalf("volume after decay = %d, want 0", a.ch2.envelope.currentVolume)
	}
	if a.ch2.envelope.dead != envSatLow {
		t.Fatalf("envelope dead = %d, want %d", a.ch2.envelope.dead, envSatLow)
	}

	// Once dead, further ticks leave it alone.
	c.run(frameCycles * 8 * 4)
	if a.ch2.envelope.currentVolume != 0 || a.ch2.envelope.dead != envSatLow {
		t.Fatalf("dead envelope moved: vol %d dead %d", a.ch2.envelope.currentVolume, a.ch2.envelope.dead)
	}
}

func TestEnvelopeVolumeBounds(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	// Volume 14, increasing, step time 1.
	tbl.Write8(0xFF17, 0xE9)
	tbl.Write8(0xFF19, 0x80)

	for range 64 {
		c.run(frameCycles)
		vol := a.ch2.envelope.currentVolume
		if vol < 0 || vol > 15 {
			t.Fatalf("volume out of range: %d", vol)
		}
	}
	if a.ch2.envelope.currentVolume != 15 || a.ch2.envelope.dead != envSatHigh {
		t.Fatalf("envelope not saturated high: vol %d dead %d",
			a.ch2.envelope.currentVolume, a.ch2.envelope.dead)
	}
}

func TestEnvelopeZeroStepKills(t *testing.T) {
	a, _, tbl := newTestAudio(t, StyleDMG)

	tbl.Write8(0xFF17, 0xA2)
	tbl.Write8(0xFF19, 0x80)
	if !a.playingCh2 {
		t.Fatal("channel 2 not playing after trigger")
	}

	// Step time 0 with nonzero volume saturates.
	tbl.Write8(0xFF17, 0xA0)
	if a.ch2.envelope.dead != envSatHigh {
		t.Fatalf("dead = %d, want %d", a.ch2.envelope.dead, envSatHigh)
	}

	// Clearing initial volume and direction silences the channel.
	tbl.Write8(0xFF17, 0x00)
	if a.playingCh2 {
		t.Fatal("channel 2 still playing after DAC off")
	}
	if a.NR52.Value&0x02 != 0 {
		t.Fatal("NR52 channel 2 status still set")
	}
}

func TestSquareDutyTiming(t *testing.T) {
	// Non-uniform half periods per duty code, period = 4*(2048-frequency).
	var ctl squareControl
	ctl.frequency = 2040
	period := int32(4 * 8)

	cases := []struct {
		duty   int32
		hi, lo int32
	}{
		{0, period, 7 * period},
		{1, 2 * period, 6 * period},
		{2, 4 * period, 4 * period},
		{3, 6 * period, 2 * period},
	}
	for _, tc := range cases {
		ctl.hi = false
		gotHi := ctl.update(tc.duty)
		gotLo := ctl.update(tc.duty)
		if gotHi != tc.hi || gotLo != tc.lo {
			t.Errorf("duty %d: half periods = %d/%d, want %d/%d",
				tc.duty, gotHi, gotLo, tc.hi, tc.lo)
		}
	}
}

func TestSweepOverflowDisables(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	// shift 3, increasing, time 7; full volume; trigger with length enable
	// and frequency 0x700.
	tbl.Write8(0xFF10, 0x73)
	tbl.Write8(0xFF12, 0xF0)
	tbl.Write8(0xFF13, 0x00)
	tbl.Write8(0xFF14, 0xC7)

	// The initial sweep calculation (1792 + 1792>>3 = 2016) survives.
	if !a.playingCh1 {
		t.Fatal("channel 1 not playing after trigger")
	}

	// The first periodic step writes 2016 back and the double-check
	// (2016 + 2016>>3 = 2268) overflows, well before the length expires.
	c.run(0x40000)
	if a.playingCh1 {
		t.Fatalf("channel 1 still playing, frequency %d", a.ch1.realFrequency)
	}
	if a.ch1.control.length == 0 {
		t.Fatal("length expired first; sweep not exercised")
	}
	if a.NR52.Value&0x01 != 0 {
		t.Fatal("NR52 channel 1 status still set")
	}
}

func TestSweepInitialOverflowDisables(t *testing.T) {
	a, _, tbl := newTestAudio(t, StyleDMG)

	// shift 1: the calculation run at trigger time already overflows.
	tbl.Write8(0xFF10, 0x71)
	tbl.Write8(0xFF12, 0xF0)
	tbl.Write8(0xFF13, 0x00)
	tbl.Write8(0xFF14, 0x87)

	if a.playingCh1 {
		t.Fatal("channel 1 playing despite initial sweep overflow")
	}
	if a.NR52.Value&0x01 != 0 {
		t.Fatal("NR52 channel 1 status set")
	}
}

func TestSweepDirectionFlipDisables(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	// Decreasing sweep, shift 2, time 1.
	tbl.Write8(0xFF10, 0x1A)
	tbl.Write8(0xFF12, 0xF0)
	tbl.Write8(0xFF13, 0x00)
	tbl.Write8(0xFF14, 0x84) // trigger, frequency 0x400

	// Let at least one sweep step run so sweepOccurred is set.
	c.run(frameCycles * 8)
	if !a.ch1.sweepOccurred {
		t.Fatal("no sweep occurred")
	}

	// Flipping direction from down to up disables the channel.
	tbl.Write8(0xFF10, 0x12)
	if a.playingCh1 {
		t.Fatal("channel 1 still playing after direction flip")
	}
}

func TestLengthCounter(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	// Length 64-60 = 4; volume max; trigger with length enable.
	tbl.Write8(0xFF16, 0x3C)
	tbl.Write8(0xFF17, 0xF0)
	tbl.Write8(0xFF19, 0xC0)

	if !a.playingCh2 {
		t.Fatal("channel 2 not playing")
	}

	// Length clocks on even frames: 4 ticks happen within 8 frames.
	c.run(frameCycles * 8)
	if a.playingCh2 {
		t.Fatalf("channel 2 still playing after length expiry, length %d", a.ch2.control.length)
	}
	if a.NR52.Value&0x02 != 0 {
		t.Fatal("NR52 channel 2 status still set")
	}
}

func TestNoiseLFSRPeriods(t *testing.T) {
	// 15-bit mode cycles through every nonzero state: period 32767.
	ch := channel4{lfsr: 0x4000}
	seen := 0
	for {
		ch.update()
		seen++
		if ch.lfsr == 0x4000 {
			break
		}
		if seen > 1<<16 {
			t.Fatal("15-bit lfsr did not cycle")
		}
	}
	if seen != 32767 {
		t.Errorf("15-bit lfsr period = %d, want 32767", seen)
	}

	// 7-bit mode: period 127.
	ch = channel4{lfsr: 0x40, power: true}
	seen = 0
	for {
		ch.update()
		seen++
		if ch.lfsr == 0x40 {
			break
		}
		if seen > 1<<10 {
			t.Fatal("7-bit lfsr did not cycle")
		}
	}
	if seen != 127 {
		t.Errorf("7-bit lfsr period = %d, want 127", seen)
	}
}

func TestNoiseRestartPreload(t *testing.T) {
	a, _, tbl := newTestAudio(t, StyleDMG)

	tbl.Write8(0xFF21, 0xF0)
	tbl.Write8(0xFF22, 0x00)
	tbl.Write8(0xFF23, 0x80)
	if a.ch4.lfsr != 0x4000 {
		t.Fatalf("15-bit preload = %#x, want 0x4000", a.ch4.lfsr)
	}

	tbl.Write8(0xFF22, 0x08) // 7-bit width
	tbl.Write8(0xFF23, 0x80)
	if a.ch4.lfsr != 0x40 {
		t.Fatalf("7-bit preload = %#x, want 0x40", a.ch4.lfsr)
	}
}

func TestNoisePeriod(t *testing.T) {
	cases := []struct {
		ratio, freq int32
		want        int32
	}{
		{0, 0, 8},
		{1, 0, 16},
		{2, 3, 256},
		{7, 5, 3584},
	}
	for _, tc := range cases {
		ch := channel4{lfsr: 0x4000, ratio: tc.ratio, frequency: tc.freq}
		if got := ch.update(); got != tc.want {
			t.Errorf("ratio %d freq %d: period = %d, want %d", tc.ratio, tc.freq, got, tc.want)
		}
	}
}

func TestNR52StatusTracksPlaying(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	check := func() {
		t.Helper()
		want := uint8(0)
		for ch := range 4 {
			if a.Playing(ch) {
				want |= 1 << ch
			}
		}
		if got := a.NR52.Value & 0x0F; got != want {
			t.Fatalf("NR52 status = %04b, playing = %04b", got, want)
		}
	}

	check()
	tbl.Write8(0xFF17, 0xF0)
	tbl.Write8(0xFF19, 0x80)
	check()
	tbl.Write8(0xFF21, 0xF0)
	tbl.Write8(0xFF23, 0x80)
	check()
	c.run(frameCycles * 4)
	check()
	tbl.Write8(0xFF17, 0x00) // kill ch2 DAC
	check()
}

func TestNR52DisableClearsRegisters(t *testing.T) {
	a, _, tbl := newTestAudio(t, StyleDMG)

	tbl.Write8(0xFF17, 0xF0)
	tbl.Write8(0xFF19, 0x80)
	if !a.playingCh2 {
		t.Fatal("channel 2 not playing")
	}

	tbl.Write8(0xFF26, 0x00)

	if a.playingCh1 || a.playingCh2 || a.playingCh3 || a.playingCh4 {
		t.Fatal("channels still playing after global disable")
	}
	for _, reg := range []*hwio.Reg8{&a.NR10, &a.NR12, &a.NR14, &a.NR22, &a.NR24, &a.NR50, &a.NR51} {
		if reg.Value != 0 {
			t.Errorf("%s not cleared: %#02x", reg.Name, reg.Value)
		}
	}
	if a.NR52.Value&0x0F != 0 {
		t.Errorf("NR52 status bits not cleared: %#02x", a.NR52.Value)
	}

	// Writes are ignored while disabled.
	tbl.Write8(0xFF17, 0xF0)
	if a.NR22.Value != 0 || a.ch2.envelope.initialVolume != 0 {
		t.Error("NR22 write accepted while disabled")
	}
}

func TestNR52DisableDMGKeepsLength(t *testing.T) {
	a, _, tbl := newTestAudio(t, StyleDMG)

	tbl.Write8(0xFF16, 0x3C) // ch2 length field 60
	tbl.Write8(0xFF26, 0x00)

	if a.ch2.control.length != 4 {
		t.Fatalf("ch2 length = %d after disable, want 4", a.ch2.control.length)
	}

	// DMG accepts length writes even while off.
	tbl.Write8(0xFF16, 0x30)
	if a.ch2.control.length != 16 {
		t.Fatalf("ch2 length = %d after off-write, want 16", a.ch2.control.length)
	}

	// Other writes stay ignored.
	tbl.Write8(0xFF17, 0xF0)
	if a.ch2.envelope.initialVolume != 0 {
		t.Fatal("NR22 write accepted while disabled")
	}
}

func TestNR52DisableGBAClearsLength(t *testing.T) {
	a, _, tbl := newTestAudio(t, StyleGBA)

	tbl.Write8(0xFF16, 0x3C)
	tbl.Write8(0xFF26, 0x00)
	if a.ch2.control.length != 64 {
		t.Fatalf("ch2 length = %d after disable, want 64 (cleared field)", a.ch2.control.length)
	}
	if a.NR21.Value != 0 {
		t.Fatalf("NR21 not cleared on GBA: %#02x", a.NR21.Value)
	}
}

func TestMixerRoutingAndVolumes(t *testing.T) {
	a, _, tbl := newTestAudio(t, StyleDMG)

	a.playingCh2 = true
	a.ch2.sample = 10
	a.ch4.envelope.dead = envSatLow // keep SamplePSG from running ch4

	tbl.Write8(0xFF25, 0x02) // ch2 right only
	tbl.Write8(0xFF24, 0x30) // left 3, right 0

	left, right := a.SamplePSG()
	if left != 0 || right != 10 {
		t.Fatalf("routed sample = %d/%d, want 0/10", left, right)
	}

	tbl.Write8(0xFF25, 0x22) // ch2 both sides
	left, right = a.SamplePSG()
	if left != 40 || right != 10 {
		t.Fatalf("scaled sample = %d/%d, want 40/10", left, right)
	}

	a.ForceDisable(1, true)
	left, right = a.SamplePSG()
	if left != 0 || right != 0 {
		t.Fatalf("force-disabled sample = %d/%d, want 0/0", left, right)
	}
}

func TestResamplerAccumulates(t *testing.T) {
	a, c, tbl := newTestAudio(t, StyleDMG)

	tbl.Write8(0xFF17, 0xF0)
	tbl.Write8(0xFF18, 0x00)
	tbl.Write8(0xFF19, 0x87)

	// A quarter second of samples at 128 cycles apiece, resampled to 96 kHz, fills
	// the 512-sample target many times over; without a sync barrier the
	// producer just stops pushing once full.
	c.run(0x400000 / 4)
	if avail := a.Left().SamplesAvailable(); avail < a.Samples() {
		t.Fatalf("resampler holds %d samples, want at least %d", avail, a.Samples())
	}
}
