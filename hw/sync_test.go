package hw

import (
	"testing"
	"time"
)

func TestAudioBarrier(t *testing.T) {
	s := NewSync()
	s.SetAudioSync(true)

	produced := make(chan struct{})
	go func() {
		s.LockAudio()
		s.ProduceAudio(true)
		close(produced)
	}()

	select {
	case <-produced:
		t.Fatal("producer did not block")
	case <-time.After(50 * time.Millisecond):
	}

	s.LockAudio()
	s.ConsumeAudio()

	select {
	case <-produced:
	case <-time.After(time.Second):
		t.Fatal("producer not released by consume")
	}
}

func TestAudioBarrierDisabled(t *testing.T) {
	s := NewSync()
	s.SetAudioSync(false)

	done := make(chan struct{})
	go func() {
		s.LockAudio()
		s.ProduceAudio(true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked with audio sync off")
	}
}

func TestAudioBarrierRelease(t *testing.T) {
	s := NewSync()
	s.SetAudioSync(true)

	done := make(chan struct{})
	go func() {
		s.LockAudio()
		s.ProduceAudio(true)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer not released by Release")
	}
}

func TestVideoBarrier(t *testing.T) {
	s := NewSync()
	s.SetVideoSync(true)

	posted := make(chan struct{})
	go func() {
		s.PostFrame()
		close(posted)
	}()

	select {
	case <-posted:
		t.Fatal("producer did not block on video barrier")
	case <-time.After(50 * time.Millisecond):
	}

	if !s.WaitFrameStart() {
		t.Fatal("WaitFrameStart = false, want frame")
	}
	s.WaitFrameEnd()

	select {
	case <-posted:
	case <-time.After(time.Second):
		t.Fatal("producer not released by frame consumption")
	}
}

func TestVideoBarrierOff(t *testing.T) {
	s := NewSync()

	done := make(chan struct{})
	go func() {
		s.PostFrame()
		s.PostFrame()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked with video sync off")
	}

	// A pending frame is still observable.
	if !s.WaitFrameStart() {
		t.Fatal("WaitFrameStart = false with pending frame")
	}
	s.WaitFrameEnd()

	// No frame and video off: nothing to present.
	if s.WaitFrameStart() {
		t.Fatal("WaitFrameStart = true with no pending frame")
	}
	s.WaitFrameEnd()
}

func TestVideoBarrierRelease(t *testing.T) {
	s := NewSync()
	s.SetVideoSync(true)

	done := make(chan struct{})
	go func() {
		s.PostFrame()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer not released by Release")
	}
}

func TestSwapVideoWait(t *testing.T) {
	s := NewSync()
	s.SetVideoSync(true)

	if old := s.SwapVideoWait(false); !old {
		t.Fatal("SwapVideoWait returned false, want previous value true")
	}

	// With wait parked off, the producer does not block.
	done := make(chan struct{})
	go func() {
		s.PostFrame()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked while wait parked off")
	}

	if old := s.SwapVideoWait(true); old {
		t.Fatal("SwapVideoWait returned true, want previous value false")
	}
}
