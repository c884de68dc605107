package main

import (
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"

	"dotmat/emu"
	"dotmat/hw"
)

// emuMain runs the emulator core until interrupted or until the requested
// number of frames has been emulated.
func emuMain(args Run) {
	cfg := emu.LoadConfigOrDefault()
	if args.Style != "" {
		cfg.Emulation.Style = args.Style
	}
	if args.NoAudio {
		cfg.Audio.DisableAudio = true
	}

	gb := hw.NewGB(cfg.Emulation.HardwareStyle(), cfg.Audio.Samples)
	gb.APU.SetMasterVolume(int32(cfg.Audio.MasterVolume))
	for ch, mute := range cfg.Audio.Mute {
		gb.APU.ForceDisable(ch, mute)
	}

	thread := &emu.Thread{
		Core:      gb,
		AudioWait: cfg.Audio.Sync && !cfg.Audio.DisableAudio,
		VideoWait: cfg.Video.Sync,
		FPSTarget: cfg.Emulation.FPSTarget,
	}

	frameDone := make(chan struct{})
	if args.Frames > 0 {
		frames := 0
		gb.SetFrameHook(func() {
			frames++
			if frames == args.Frames {
				close(frameDone)
			}
		})
	}

	if !thread.Start() {
		fmt.Fprintln(os.Stderr, "failed to start core thread")
		os.Exit(1)
	}

	var aout *hw.AudioOutput
	if !cfg.Audio.DisableAudio {
		var err error
		aout, err = hw.NewAudioOutput(gb, thread.Sync)
		checkf(err, "failed to open audio output")
	}

	var g errgroup.Group
	if aout != nil {
		g.Go(func() error {
			aout.Run()
			return nil
		})
	}
	if cfg.Video.Sync {
		g.Go(func() error {
			for thread.IsActive() {
				thread.Sync.WaitFrameStart()
				thread.Sync.WaitFrameEnd()
			}
			return nil
		})
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	select {
	case <-sigint:
	case <-frameDone:
	}
	signal.Stop(sigint)

	if args.DumpState != "" {
		f, err := os.Create(args.DumpState)
		checkf(err, "failed to create state dump file")
		checkf(emu.DumpState(thread, f), "failed to dump state")
		f.Close()
	}

	thread.End()
	thread.Join()
	if aout != nil {
		aout.Close()
	}
	g.Wait()
}
