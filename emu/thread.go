package emu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"dotmat/emu/log"
	"dotmat/hw"
)

// State is the lifecycle state of the core worker. The ordering matters:
// states beyond StateExiting are terminal, states beyond StateRunning but
// before StateExiting are command states handled by the worker's command
// loop.
type State int32

const (
	StateInitialized State = iota - 1
	StateRunning
	StateInterrupted
	StateInterrupting
	StatePaused
	StatePausing
	StateRunOn
	StateReseting
	StateExiting
	StateShutdown
	StateCrashed
)

//go:generate go tool stringer -type=State -trimprefix=State

// Core is the emulated machine driven by the worker. The worker owns it for
// the whole running-to-exiting span; external threads only reach it through
// Interrupt/RunFunction.
type Core interface {
	SetSync(*hw.Sync)
	Reset()
	RunLoop()
}

const defaultFPSTarget = 60.0

// Thread is the long-running emulation worker: it owns the CPU step loop,
// multiplexes commands from foreign threads, and coordinates back-pressure
// with the video and audio consumers through Sync.
type Thread struct {
	Core Core
	Sync *hw.Sync

	// StartCallback runs on the worker right after the core reset, before
	// the state flips to running. CleanCallback runs on the worker after
	// shutdown.
	StartCallback func(*Thread)
	CleanCallback func(*Thread)

	// AudioWait and VideoWait seed the sync barriers at Start.
	AudioWait bool
	VideoWait bool
	FPSTarget float64

	stateMutex sync.Mutex
	stateCond  *sync.Cond

	state       State
	stateMirror atomic.Int32 // for lock-free observers (log context)
	savedState  State

	interruptDepth int
	frameWasOn     bool
	runFn          func(*Thread)

	started bool
	joined  bool
	done    chan struct{}
}

// setStateLocked must be called with stateMutex held.
func (t *Thread) setStateLocked(s State) {
	t.state = s
	t.stateMirror.Store(int32(s))
}

func (t *Thread) changeState(s State, broadcast bool) {
	t.stateMutex.Lock()
	t.setStateLocked(s)
	if broadcast {
		t.stateCond.Broadcast()
	}
	t.stateMutex.Unlock()
}

// waitOnInterrupt must be called with stateMutex held; it parks the caller
// until a pending interrupt window has closed.
func (t *Thread) waitOnInterrupt() {
	for t.state == StateInterrupted {
		t.stateCond.Wait()
	}
}

// waitUntilNotState parks the caller until the worker has left oldState.
// While waiting it keeps the video and audio consumers released: the worker
// may be parked inside a sync barrier, and an external thread waiting for a
// state acknowledgment while the producer waits for a consumer would
// deadlock. Must be called with stateMutex held.
func (t *Thread) waitUntilNotState(oldState State) {
	videoFrameWait := t.Sync.SwapVideoWait(false)

	for t.state == oldState {
		t.stateMutex.Unlock()

		t.Sync.WakeVideo()
		t.Sync.WakeAudio()

		t.stateMutex.Lock()
		t.stateCond.Broadcast()
	}

	t.Sync.SwapVideoWait(videoFrameWait)
}

func (t *Thread) pauseThread(onThread bool) {
	t.setStateLocked(StatePausing)
	if !onThread {
		t.waitUntilNotState(StatePausing)
	}
}

func (t *Thread) threadRun() {
	defer close(t.done)

	log.RegisterContext(t)
	defer log.UnregisterContext(t)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		log.ModThread.ErrorZ("core thread crashed").String("panic", fmt.Sprint(r)).End()
		t.changeState(StateCrashed, true)
		t.Sync.Release()
		if t.CleanCallback != nil {
			t.CleanCallback(t)
		}
	}()

	core := t.Core
	core.SetSync(t.Sync)
	core.Reset()

	if t.StartCallback != nil {
		t.StartCallback(t)
	}

	t.changeState(StateRunning, true)
	log.ModThread.InfoZ("core thread running").End()

	for t.loadState() < StateExiting {
		for t.loadState() == StateRunning {
			core.RunLoop()
		}

		resetScheduled := false
		t.stateMutex.Lock()
		for t.state > StateRunning && t.state < StateExiting {
			switch t.state {
			case StatePausing:
				t.setStateLocked(StatePaused)
				t.stateCond.Broadcast()
			case StateInterrupting:
				t.setStateLocked(StateInterrupted)
				t.stateCond.Broadcast()
			case StateRunOn:
				if t.runFn != nil {
					t.runFn(t)
				}
				t.setStateLocked(t.savedState)
				t.stateCond.Broadcast()
			case StateReseting:
				t.setStateLocked(StateRunning)
				resetScheduled = true
			}
			for t.state == StatePaused || t.state == StateInterrupted {
				t.stateCond.Wait()
			}
		}
		t.stateMutex.Unlock()
		if resetScheduled {
			core.Reset()
		}
	}

	for t.loadState() < StateShutdown {
		t.changeState(StateShutdown, false)
	}
	log.ModThread.InfoZ("core thread exited").End()

	if t.CleanCallback != nil {
		t.CleanCallback(t)
	}
}

func (t *Thread) loadState() State {
	return State(t.stateMirror.Load())
}

// AddLogContext tags every log entry with the worker state while the
// thread is alive.
func (t *Thread) AddLogContext(e *log.EntryZ) {
	e.String("thread_state", t.loadState().String())
}

// Start spawns the worker and blocks until it is running.
func (t *Thread) Start() bool {
	if t.started {
		return false
	}
	t.started = true
	t.done = make(chan struct{})
	t.stateCond = sync.NewCond(&t.stateMutex)
	t.setStateLocked(StateInitialized)
	t.interruptDepth = 0

	if t.Sync == nil {
		t.Sync = hw.NewSync()
	}
	if t.FPSTarget == 0 {
		t.FPSTarget = defaultFPSTarget
	}
	t.Sync.SetFPSTarget(t.FPSTarget)
	t.Sync.SetAudioSync(t.AudioWait)
	t.Sync.SetVideoSync(t.VideoWait)

	t.stateMutex.Lock()
	go t.threadRun()
	for t.state < StateRunning {
		t.stateCond.Wait()
	}
	t.stateMutex.Unlock()

	return true
}

func (t *Thread) HasStarted() bool {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	return t.started && t.state > StateInitialized
}

func (t *Thread) HasExited() bool {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	return t.state > StateExiting
}

func (t *Thread) HasCrashed() bool {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	return t.state == StateCrashed
}

// IsActive reports whether the worker is running or in a command state.
func (t *Thread) IsActive() bool {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	return t.isActiveLocked()
}

func (t *Thread) isActiveLocked() bool {
	return t.state >= StateRunning && t.state < StateExiting
}

// End asks the worker to shut down and releases both sync barriers so a
// blocked producer unwinds. Idempotent; callable from any thread.
func (t *Thread) End() {
	if !t.started {
		return
	}
	t.stateMutex.Lock()
	t.waitOnInterrupt()
	if t.state < StateExiting {
		t.setStateLocked(StateExiting)
	}
	t.stateCond.Broadcast()
	t.stateMutex.Unlock()

	t.Sync.Release()
}

// Reset schedules a core reset on the worker; it is applied once, when the
// worker next drains its command loop.
func (t *Thread) Reset() {
	if !t.started || t.joined {
		return
	}
	t.stateMutex.Lock()
	t.waitOnInterrupt()
	if t.isActiveLocked() {
		t.setStateLocked(StateReseting)
		t.stateCond.Broadcast()
	}
	t.stateMutex.Unlock()
}

// Join waits for the worker to terminate. Commands after Join are no-ops.
func (t *Thread) Join() {
	if !t.started {
		return
	}
	<-t.done
	t.joined = true
}

// Interrupt suspends the CPU loop so the caller may safely reach into the
// core. Interrupts nest: only the first caller performs the transition,
// and the matching number of Continue calls resumes the worker.
func (t *Thread) Interrupt() {
	if t == nil || !t.started {
		return
	}
	t.stateMutex.Lock()
	t.interruptDepth++
	if t.interruptDepth > 1 || !t.isActiveLocked() {
		t.stateMutex.Unlock()
		return
	}
	t.savedState = t.state
	t.waitOnInterrupt()
	t.setStateLocked(StateInterrupting)
	t.stateCond.Broadcast()
	t.waitUntilNotState(StateInterrupting)
	t.stateMutex.Unlock()
}

// Continue undoes one Interrupt; at depth zero the worker resumes in the
// state it was interrupted from.
func (t *Thread) Continue() {
	if t == nil || !t.started {
		return
	}
	t.stateMutex.Lock()
	t.interruptDepth--
	if t.interruptDepth < 1 && t.isActiveLocked() {
		t.setStateLocked(t.savedState)
		t.stateCond.Broadcast()
	}
	t.stateMutex.Unlock()
}

// RunFunction executes fn on the worker, at a cycle-aligned boundary, and
// returns once it has run.
func (t *Thread) RunFunction(fn func(*Thread)) {
	if !t.started || t.joined {
		return
	}
	t.stateMutex.Lock()
	t.runFn = fn
	t.waitOnInterrupt()
	t.savedState = t.state
	t.setStateLocked(StateRunOn)
	t.stateCond.Broadcast()
	t.waitUntilNotState(StateRunOn)
	t.stateMutex.Unlock()
}

// Pause blocks until the worker has acknowledged the pause.
func (t *Thread) Pause() {
	if !t.started || t.joined {
		return
	}
	frameOn := t.Sync.VideoFrameOn()
	t.stateMutex.Lock()
	t.waitOnInterrupt()
	if t.state == StateRunning {
		t.pauseThread(false)
		t.frameWasOn = frameOn
		frameOn = false
	}
	t.stateMutex.Unlock()

	t.Sync.SetVideoSync(frameOn)
}

func (t *Thread) Unpause() {
	if !t.started || t.joined {
		return
	}
	frameOn := t.Sync.VideoFrameOn()
	t.stateMutex.Lock()
	t.waitOnInterrupt()
	if t.state == StatePaused || t.state == StatePausing {
		t.setStateLocked(StateRunning)
		t.stateCond.Broadcast()
		frameOn = t.frameWasOn
	}
	t.stateMutex.Unlock()

	t.Sync.SetVideoSync(frameOn)
}

func (t *Thread) IsPaused() bool {
	if !t.started {
		return false
	}
	t.stateMutex.Lock()
	t.waitOnInterrupt()
	isPaused := t.state == StatePaused
	t.stateMutex.Unlock()
	return isPaused
}

// TogglePause flips between paused and running.
func (t *Thread) TogglePause() {
	if !t.started || t.joined {
		return
	}
	frameOn := t.Sync.VideoFrameOn()
	t.stateMutex.Lock()
	t.waitOnInterrupt()
	if t.state == StatePaused || t.state == StatePausing {
		t.setStateLocked(StateRunning)
		t.stateCond.Broadcast()
		frameOn = t.frameWasOn
	} else if t.state == StateRunning {
		t.pauseThread(false)
		t.frameWasOn = frameOn
		frameOn = false
	}
	t.stateMutex.Unlock()

	t.Sync.SetVideoSync(frameOn)
}

// PauseFromThread requests a pause from the worker itself; the
// acknowledgment happens when the worker reaches its command loop, so this
// does not block.
func (t *Thread) PauseFromThread() {
	if !t.started {
		return
	}
	frameOn := true
	t.stateMutex.Lock()
	t.waitOnInterrupt()
	if t.state == StateRunning {
		t.pauseThread(true)
		frameOn = false
	}
	t.stateMutex.Unlock()

	t.Sync.SetVideoSync(frameOn)
}
