package scan

import (
	"sync"
	"time"
)

// timerGroup is a disposable set of timers armed together on state entry and
// cancelled together on state exit. A timer that fires after Cancel is a
// no-op. Partial cancellation (stopping the phase timer but leaving reveal
// timers armed) is the bug class this type exists to prevent.
type timerGroup struct {
	sched Scheduler

	mu        sync.Mutex
	cancelled bool
	timers    []TimerHandle
}

func newTimerGroup(sched Scheduler) *timerGroup {
	return &timerGroup{sched: sched}
}

// AfterFunc arms fn to run after d. Scheduling on a cancelled group is a
// no-op, which closes the race between a firing timer arming a successor and
// a concurrent Cancel.
func (g *timerGroup) AfterFunc(d time.Duration, fn func()) {
	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		return
	}
	handle := g.sched.AfterFunc(d, func() {
		g.mu.Lock()
		dead := g.cancelled
		g.mu.Unlock()
		if dead {
			return
		}
		fn()
	})
	g.timers = append(g.timers, handle)
	g.mu.Unlock()
}

// Every arms fn to run repeatedly at the given interval until the group is
// cancelled. Each firing re-arms the next one on the same group.
func (g *timerGroup) Every(interval time.Duration, fn func()) {
	var tick func()
	tick = func() {
		fn()
		g.AfterFunc(interval, tick)
	}
	g.AfterFunc(interval, tick)
}

// Cancel stops every pending timer in the group as a unit.
func (g *timerGroup) Cancel() {
	g.mu.Lock()
	g.cancelled = true
	timers := g.timers
	g.timers = nil
	g.mu.Unlock()

	for _, t := range timers {
		t.Stop()
	}
}
