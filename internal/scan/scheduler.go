package scan

import "time"

// Scheduler abstracts timer creation so the controller can be driven by a
// virtual clock in tests. The production implementation delegates to the
// runtime timers.
type Scheduler interface {
	// AfterFunc runs fn after d elapses and returns a handle to stop it.
	AfterFunc(d time.Duration, fn func()) TimerHandle
	// Now returns the scheduler's current time, used to timestamp events.
	Now() time.Time
}

// TimerHandle cancels a pending timer. Stopping an already-fired or
// already-stopped timer is a no-op.
type TimerHandle interface {
	Stop()
}

// wallScheduler is the production Scheduler backed by time.AfterFunc.
type wallScheduler struct{}

// NewWallScheduler returns the real-time scheduler.
func NewWallScheduler() Scheduler {
	return wallScheduler{}
}

func (wallScheduler) AfterFunc(d time.Duration, fn func()) TimerHandle {
	return wallTimer{t: time.AfterFunc(d, fn)}
}

func (wallScheduler) Now() time.Time {
	return time.Now()
}

type wallTimer struct {
	t *time.Timer
}

func (w wallTimer) Stop() {
	w.t.Stop()
}
