package hw

import (
	"sync"
)

// Sync is the pair of producer/consumer barriers coupling the emulator
// thread to the video and audio consumers. The two sides are independent:
// each has its own mutex and conditions and may be enabled or disabled at
// runtime.
//
// Go's sync.Cond only wakes on Signal/Broadcast, so the single-shot waits
// below are exact: the producer parks until anything wakes it (a consume, a
// shutdown, or the thread harness keeping consumers drained while it holds
// the worker elsewhere).
type Sync struct {
	videoFrameMu        sync.Mutex
	videoFrameAvailable *sync.Cond
	videoFrameRequired  *sync.Cond
	videoFramePending   int
	videoFrameOn        bool
	videoFrameWait      bool

	audioBufferMu sync.Mutex
	audioRequired *sync.Cond
	audioWait     bool

	fpsTarget float64
}

func NewSync() *Sync {
	s := &Sync{}
	s.videoFrameAvailable = sync.NewCond(&s.videoFrameMu)
	s.videoFrameRequired = sync.NewCond(&s.videoFrameMu)
	s.audioRequired = sync.NewCond(&s.audioBufferMu)
	return s
}

// PostFrame publishes a finished video frame. When video sync is on, the
// producer parks here until the consumer has taken the frame.
func (s *Sync) PostFrame() {
	s.videoFrameMu.Lock()
	s.videoFramePending++
	for {
		s.videoFrameAvailable.Broadcast()
		if !s.videoFrameWait || s.videoFramePending == 0 {
			break
		}
		s.videoFrameRequired.Wait()
	}
	s.videoFrameMu.Unlock()
}

// WaitFrameStart blocks until a frame is available (when video sync is on)
// and reports whether the consumer should present it. The video mutex is
// held on return either way; release it with WaitFrameEnd once done with
// the framebuffer.
func (s *Sync) WaitFrameStart() bool {
	s.videoFrameMu.Lock()
	s.videoFrameRequired.Broadcast()
	if !s.videoFrameOn && s.videoFramePending == 0 {
		return false
	}
	for s.videoFrameOn && s.videoFramePending == 0 {
		s.videoFrameAvailable.Wait()
	}
	s.videoFramePending = 0
	return true
}

func (s *Sync) WaitFrameEnd() {
	s.videoFrameMu.Unlock()
}

// SetVideoSync enables or disables the video barrier in both directions.
func (s *Sync) SetVideoSync(wait bool) {
	s.videoFrameMu.Lock()
	s.videoFrameOn = wait
	s.videoFrameWait = wait
	s.videoFrameAvailable.Broadcast()
	s.videoFrameRequired.Broadcast()
	s.videoFrameMu.Unlock()
}

// LockAudio acquires the audio buffer mutex. The producer calls this before
// touching the resampler output side; ProduceAudio releases it.
func (s *Sync) LockAudio() {
	s.audioBufferMu.Lock()
}

// ProduceAudio publishes freshly resampled audio and releases the audio
// mutex. When wait is set and the barrier is enabled, the producer parks
// until woken; any wake releases it (the pause and shutdown paths depend on
// this, see Thread.waitUntilNotState).
func (s *Sync) ProduceAudio(wait bool) bool {
	if s.audioWait && wait {
		s.audioRequired.Wait()
	}
	w := s.audioWait
	s.audioBufferMu.Unlock()
	return w
}

// ConsumeAudio signals that the consumer has drained the resampler and
// releases the audio mutex acquired with LockAudio.
func (s *Sync) ConsumeAudio() {
	s.audioRequired.Broadcast()
	s.audioBufferMu.Unlock()
}

// WakeAudio wakes a producer parked in ProduceAudio without consuming,
// if the audio mutex can be taken without blocking.
func (s *Sync) WakeAudio() {
	if s.audioBufferMu.TryLock() {
		s.audioRequired.Broadcast()
		s.audioBufferMu.Unlock()
	}
}

// WakeVideo wakes a producer parked in PostFrame without consuming, if the
// video mutex can be taken without blocking.
func (s *Sync) WakeVideo() {
	if s.videoFrameMu.TryLock() {
		s.videoFrameRequired.Broadcast()
		s.videoFrameMu.Unlock()
	}
}

// SetAudioSync enables or disables the audio barrier.
func (s *Sync) SetAudioSync(wait bool) {
	s.audioBufferMu.Lock()
	s.audioWait = wait
	s.audioBufferMu.Unlock()
}

func (s *Sync) AudioWait() bool {
	s.audioBufferMu.Lock()
	defer s.audioBufferMu.Unlock()
	return s.audioWait
}

func (s *Sync) VideoFrameOn() bool {
	s.videoFrameMu.Lock()
	defer s.videoFrameMu.Unlock()
	return s.videoFrameOn
}

// SwapVideoWait installs a new videoFrameWait value and returns the
// previous one. The thread harness uses it to park the barrier while the
// worker sits in a command state.
func (s *Sync) SwapVideoWait(wait bool) bool {
	s.videoFrameMu.Lock()
	old := s.videoFrameWait
	s.videoFrameWait = wait
	if !wait {
		s.videoFrameRequired.Broadcast()
	}
	s.videoFrameMu.Unlock()
	return old
}

func (s *Sync) FPSTarget() float64 {
	return s.fpsTarget
}

func (s *Sync) SetFPSTarget(fps float64) {
	s.fpsTarget = fps
}

// Release drops both barriers and wakes everyone: producers parked on
// either side and consumers waiting for frames. Called on shutdown and
// after a crash.
func (s *Sync) Release() {
	s.audioBufferMu.Lock()
	s.audioWait = false
	s.audioRequired.Broadcast()
	s.audioBufferMu.Unlock()

	s.videoFrameMu.Lock()
	s.videoFrameWait = false
	s.videoFrameOn = false
	s.videoFrameRequired.Broadcast()
	s.videoFrameAvailable.Broadcast()
	s.videoFrameMu.Unlock()
}
