package capture

import "sync/atomic"

// CaptureState is the run flag of a Loop.
type CaptureState int32

const (
	Idle CaptureState = iota
	Capturing
)

func (s CaptureState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// State holds the flags shared between UI commands and the capture goroutine.
type State struct {
	capture atomic.Int32
	ready   atomic.Bool
}

func (s *State) Capture() CaptureState { return CaptureState(s.capture.Load()) }

func (s *State) Ready() bool { return s.ready.Load() }

// tryStart moves Idle to Capturing and reports whether it did.
func (s *State) tryStart() bool {
	return s.capture.CompareAndSwap(int32(Idle), int32(Capturing))
}

// stop moves Capturing to Idle and reports whether it did.
func (s *State) stop() bool {
	return s.capture.CompareAndSwap(int32(Capturing), int32(Idle))
}

func (s *State) setReady(v bool) { s.ready.Store(v) }
