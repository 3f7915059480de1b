package scanner

import "sync/atomic"

// PauseFlag is the single shared control cell between the consumer and the
// discovery loop. Reads and writes are sequentially consistent.
// The zero value is an unpaused flag.
type PauseFlag struct {
	paused atomic.Bool
}

// NewPauseFlag creates an unpaused flag
func NewPauseFlag() *PauseFlag {
	return &PauseFlag{}
}

func (f *PauseFlag) Pause() {
	f.paused.Store(true)
}

func (f *PauseFlag) Resume() {
	f.paused.Store(false)
}

// Toggle flips the flag and returns the new state
func (f *PauseFlag) Toggle() bool {
	for {
		old := f.paused.Load()
		if f.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (f *PauseFlag) IsPaused() bool {
	return f.paused.Load()
}
