package scan

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatescan/internal/camera"
)

// virtualScheduler is a deterministic Scheduler for tests. Advance fires due
// timers synchronously on the caller's goroutine, in deadline order with ties
// broken by arming order, so every timer-driven property can be asserted
// without sleeps or races.
type virtualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*virtualTimer
}

type virtualTimer struct {
	sched   *virtualScheduler
	at      time.Time
	seq     int
	fn      func()
	stopped bool
}

func newVirtualScheduler() *virtualScheduler {
	return &virtualScheduler{now: time.Unix(1700000000, 0)}
}

func (s *virtualScheduler) AfterFunc(d time.Duration, fn func()) TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &virtualTimer{sched: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.seq++
	s.timers = append(s.timers, t)
	return t
}

func (s *virtualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the virtual clock forward, firing every due timer in order.
// Timers armed by a firing callback participate if they fall inside the
// window.
func (s *virtualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		var next *virtualTimer
		idx := -1
		for i, t := range s.timers {
			if t.stopped || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
				idx = i
			}
		}
		if next == nil {
			break
		}
		s.timers = append(s.timers[:idx], s.timers[idx+1:]...)
		s.now = next.at
		s.mu.Unlock()
		next.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// pending counts timers that are still armed.
func (s *virtualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (t *virtualTimer) Stop() {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	t.stopped = true
}

// testJPEG renders a frame with a bright marker block on the left edge, the
// same shape the synthetic camera source produces.
func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	dark := color.RGBA{R: 10, G: 12, B: 18, A: 255}
	bright := color.RGBA{R: 245, G: 245, B: 245, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, dark)
		}
	}
	for y := h / 3; y < 2*h/3; y++ {
		for x := 0; x < w/10; x++ {
			img.Set(x, y, bright)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// fakeSource is a scriptable FrameSource that records the acquire/release
// discipline.
type fakeSource struct {
	mu         sync.Mutex
	acquireErr error
	frame      camera.Frame
	hasFrame   bool
	active     bool
	acquires   int
	releases   int
}

func newFakeSource() *fakeSource {
	return &fakeSource{}
}

func (f *fakeSource) setFrame(frame camera.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frame = frame
	f.hasFrame = true
}

func (f *fakeSource) Acquire(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.acquireErr != nil {
		return f.acquireErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.active = true
	return nil
}

func (f *fakeSource) Frame() (camera.Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active || !f.hasFrame {
		return camera.Frame{}, false
	}
	return f.frame, true
}

func (f *fakeSource) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.releases++
}

func (f *fakeSource) isActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// eventRecorder collects published session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *eventRecorder) reveals() []string {
	var out []string
	for _, ev := range r.ofType(EventReveal) {
		out = append(out, ev.Reveal)
	}
	return out
}

func (r *eventRecorder) states() []State {
	var out []State
	for _, ev := range r.ofType(EventState) {
		out = append(out, ev.State)
	}
	return out
}

// fakeClassifier scripts a sequence of face-presence answers. Answers repeat
// the last entry once exhausted.
type fakeClassifier struct {
	mu      sync.Mutex
	answers []bool
	err     error
	calls   int
}

func (f *fakeClassifier) HasFace(ctx context.Context, jpeg []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.answers) {
		idx = len(f.answers) - 1
	}
	return f.answers[idx], nil
}
