package scan

import (
	"bytes"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatescan/internal/camera"
	"gatescan/internal/effects"
	domainerrors "gatescan/pkg/domain-errors"
)

type nullCueSink struct{}

func (nullCueSink) PlayCue(effects.CueSpec) {}

// cueRecorder records effect cue specs alongside the session events.
type cueRecorder struct {
	mu    sync.Mutex
	names []string
}

func (r *cueRecorder) PlayCue(spec effects.CueSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, spec.Name)
}

func (r *cueRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.names {
		if c == name {
			n++
		}
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	ctrl  *Controller
	src   *fakeSource
	rec   *eventRecorder
	cues  *cueRecorder
	sched *virtualScheduler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	src := newFakeSource()
	src.setFrame(camera.Frame{JPEG: testJPEG(t, 320, 240), Width: 320, Height: 240})

	cues := &cueRecorder{}
	fx, err := effects.New(cues)
	require.NoError(t, err)

	rec := &eventRecorder{}
	sched := newVirtualScheduler()

	base := []Option{WithScheduler(sched), WithLogger(discardLogger())}
	ctrl, err := New(src, rec, fx, append(base, opts...)...)
	require.NoError(t, err)

	return &fixture{ctrl: ctrl, src: src, rec: rec, cues: cues, sched: sched}
}

func (f *fixture) awaitState(t *testing.T, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.ctrl.Snapshot().State == want
	}, 2*time.Second, time.Millisecond, "never reached %s (at %s)", want, f.ctrl.Snapshot().State)
}

// startDetecting starts a session and waits for the async camera acquisition
// to land in DETECTING.
func (f *fixture) startDetecting(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ctrl.Start())
	f.awaitState(t, StateDetecting)
}

// driveToCaptured walks DETECTING through dwell, lock-on, and capture.
func (f *fixture) driveToCaptured(t *testing.T) {
	t.Helper()
	f.startDetecting(t)
	timings := f.ctrl.timings
	f.sched.Advance(timings.DetectionDelay)
	require.NotNil(t, f.ctrl.Snapshot().Region, "region should be set after dwell")
	f.sched.Advance(timings.LockDelay)
	require.Equal(t, StateCaptured, f.ctrl.Snapshot().State)
}

// driveToScanPassed continues through CAPTURED and the full SCANNING phase.
func (f *fixture) driveToScanPassed(t *testing.T) {
	t.Helper()
	f.driveToCaptured(t)
	timings := f.ctrl.timings
	f.sched.Advance(timings.CaptureHold)
	require.Equal(t, StateScanning, f.ctrl.Snapshot().State)
	f.sched.Advance(timings.ScanDuration)
	require.Equal(t, StateScanPassed, f.ctrl.Snapshot().State)
}

func TestStart_ReachesDetecting(t *testing.T) {
	f := newFixture(t)
	f.startDetecting(t)

	require.True(t, f.src.isActive(), "camera must be held in DETECTING")
	require.Equal(t, []State{StateInitializing, StateDetecting}, f.rec.states())
	snap := f.ctrl.Snapshot()
	require.NotEmpty(t, snap.SessionID)
	require.Empty(t, snap.Error)
}

func TestStart_RejectsWhileRunning(t *testing.T) {
	f := newFixture(t)
	f.startDetecting(t)

	err := f.ctrl.Start()
	require.Error(t, err)
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeInvalidState))
}

func TestCameraInvariant_HeldOnlyDuringAcquisitionStates(t *testing.T) {
	f := newFixture(t)

	require.False(t, f.src.isActive(), "idle: camera closed")
	f.startDetecting(t)
	require.True(t, f.src.isActive(), "detecting: camera open")

	timings := f.ctrl.timings
	f.sched.Advance(timings.DetectionDelay)
	require.True(t, f.src.isActive(), "still detecting during lock delay")

	f.sched.Advance(timings.LockDelay)
	require.Equal(t, StateCaptured, f.ctrl.Snapshot().State)
	require.False(t, f.src.isActive(), "captured: camera released")

	// The feed stays closed for the rest of the session.
	f.sched.Advance(timings.CaptureHold + timings.ScanDuration)
	f.sched.Advance(f.ctrl.choreo.Advance + timings.FinalizeDelay)
	f.sched.Advance(6 * timings.CountdownInterval)
	f.sched.Advance(timings.OnboardDelay)
	require.Equal(t, StateWelcome, f.ctrl.Snapshot().State)
	require.False(t, f.src.isActive())
	require.Equal(t, 1, f.src.releases, "exactly one release per session")
}

func TestDetectionRegion_ExactFractionsCentered(t *testing.T) {
	f := newFixture(t, WithRegionSpec(RegionSpec{WidthFrac: 0.25, HeightFrac: 0.4}))
	f.startDetecting(t)
	f.sched.Advance(f.ctrl.timings.DetectionDelay)

	snap := f.ctrl.Snapshot()
	require.NotNil(t, snap.Region)
	require.Equal(t, Region{X: 120, Y: 72, Width: 80, Height: 96}, *snap.Region)

	regionEvents := f.rec.ofType(EventRegion)
	require.Len(t, regionEvents, 1)
	require.Equal(t, *snap.Region, *regionEvents[0].Region)
}

func TestCapture_MirrorsFrameAndRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.driveToCaptured(t)

	raw, ok := f.ctrl.Capture()
	require.True(t, ok)

	img, _, err := image.Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	// The test frame has its marker on the left; the capture must show it on
	// the right.
	lum := func(x, y int) uint32 {
		r, g, b, _ := img.At(x, y).RGBA()
		return (r + g + b) / 3
	}
	require.Greater(t, lum(320-9, 120), lum(8, 120), "marker should appear on the right after mirroring")

	require.Equal(t, 1, f.cues.count(string(effects.CueShutter)), "capture fires exactly one shutter cue")
}

func TestDetecting_PollsUntilFrameAvailable(t *testing.T) {
	src := newFakeSource()
	cues := &cueRecorder{}
	fx, err := effects.New(cues)
	require.NoError(t, err)
	rec := &eventRecorder{}
	sched := newVirtualScheduler()
	ctrl, err := New(src, rec, fx, WithScheduler(sched), WithLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, ctrl.Start())
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().State == StateDetecting
	}, 2*time.Second, time.Millisecond)

	// No frame yet: two poll intervals pass without a region.
	sched.Advance(2 * ctrl.timings.FramePoll)
	require.Nil(t, ctrl.Snapshot().Region)

	src.setFrame(camera.Frame{JPEG: testJPEG(t, 320, 240), Width: 320, Height: 240})
	sched.Advance(ctrl.timings.FramePoll)
	sched.Advance(ctrl.timings.DetectionDelay)
	require.NotNil(t, ctrl.Snapshot().Region)
}

func TestScanning_MessagesRotateCircularly(t *testing.T) {
	msgs := []string{"alpha", "beta", "gamma"}
	f := newFixture(t, WithMessages(msgs))
	f.driveToCaptured(t)
	f.sched.Advance(f.ctrl.timings.CaptureHold)

	// Entry publishes the first message; 6s / 700ms yields 8 rotations.
	f.sched.Advance(f.ctrl.timings.ScanDuration - time.Millisecond)
	got := f.rec.ofType(EventMessage)
	require.Len(t, got, 9)
	for i, ev := range got {
		require.Equal(t, msgs[i%len(msgs)], ev.Message, "message %d wraps circularly", i)
	}
}

func TestScanning_ConfidenceCapsAt99ThenSnapsTo100(t *testing.T) {
	timings := DefaultTimings()
	timings.ConfidenceInterval = 50 * time.Millisecond // 120 ticks in 6s, past the ceiling
	f := newFixture(t, WithTimings(timings))
	f.driveToCaptured(t)
	f.sched.Advance(timings.CaptureHold)

	f.sched.Advance(timings.ScanDuration - time.Millisecond)
	require.Equal(t, 99, f.ctrl.Snapshot().Confidence, "confidence holds at the ceiling")

	f.sched.Advance(time.Millisecond)
	require.Equal(t, StateScanPassed, f.ctrl.Snapshot().State)
	require.Equal(t, 100, f.ctrl.Snapshot().Confidence, "confidence snaps to exactly 100 at phase end")

	conf := f.rec.ofType(EventConfidence)
	require.Equal(t, 100, conf[len(conf)-1].Confidence)
	for _, ev := range conf[:len(conf)-1] {
		require.LessOrEqual(t, ev.Confidence, 99)
	}
}

func TestScanPassed_ChoreographyRevealsInOrder(t *testing.T) {
	f := newFixture(t)
	f.driveToScanPassed(t)

	require.Equal(t, []string{RevealPass}, f.rec.reveals(), "entry cue fires immediately")
	require.Equal(t, 1, f.cues.count(string(effects.CuePass)),
		"the choreography is the only source of the pass cue")

	f.sched.Advance(4 * time.Second)
	require.Equal(t,
		[]string{RevealPass, RevealBadgeIdentity, RevealBadgeWatchlist, RevealRiskScore},
		f.rec.reveals())

	f.sched.Advance(time.Second)
	reveals := f.rec.reveals()
	require.Equal(t, RevealDisclosure, reveals[len(reveals)-1])
	disclosure := f.rec.ofType(EventReveal)[len(reveals)-1]
	require.NotEmpty(t, disclosure.Text)
	require.Equal(t, 15, disclosure.CharIntervalMs)
	require.Equal(t, 6000, disclosure.HoldMs)

	// The hide cue and the automatic advance close the phase.
	f.sched.Advance(7 * time.Second)
	require.Equal(t, StateFinalizing, f.ctrl.Snapshot().State)
	reveals = f.rec.reveals()
	require.Equal(t, RevealDisclosureHide, reveals[len(reveals)-1])
}

func TestScanPassed_ResetCancelsEntireRevealSet(t *testing.T) {
	f := newFixture(t)
	f.driveToScanPassed(t)

	// Partway in: two badges revealed, the rest armed.
	f.sched.Advance(2500 * time.Millisecond)
	require.Len(t, f.rec.reveals(), 3)

	f.ctrl.Reset()
	require.Equal(t, StateIdle, f.ctrl.Snapshot().State)
	require.Zero(t, f.sched.pending(), "no timer may stay armed after reset")

	// Advancing past every remaining offset fires nothing.
	before := f.rec.len()
	f.sched.Advance(time.Minute)
	require.Equal(t, before, f.rec.len(), "no late callback may mutate state after reset")
	require.Equal(t, StateIdle, f.ctrl.Snapshot().State)
}

func TestCountdown_ExactlyFiveTicks(t *testing.T) {
	f := newFixture(t)
	f.driveToScanPassed(t)
	f.sched.Advance(f.ctrl.choreo.Advance)
	f.sched.Advance(f.ctrl.timings.FinalizeDelay)
	require.Equal(t, StateCountdown, f.ctrl.Snapshot().State)
	require.Equal(t, 5, f.ctrl.Snapshot().Countdown)

	var values []int
	for i := 0; i < 5; i++ {
		f.sched.Advance(f.ctrl.timings.CountdownInterval)
		values = append(values, f.ctrl.Snapshot().Countdown)
	}
	require.Equal(t, StateOnboarded, f.ctrl.Snapshot().State)

	ticks := f.rec.ofType(EventCountdown)
	require.Len(t, ticks, 6, "initial announcement plus exactly five ticks")
	want := []int{5, 4, 3, 2, 1, 0}
	for i, ev := range ticks {
		require.NotNil(t, ev.Countdown)
		require.Equal(t, want[i], *ev.Countdown)
		require.GreaterOrEqual(t, *ev.Countdown, 0, "countdown never goes negative")
	}
	require.Equal(t, 0, values[len(values)-1])

	// Spoken cues: 5 at entry, then 4..1 (zero is the transition, not a number).
	require.Equal(t, 5, f.cues.count(string(effects.CueCountdown)))

	// Long after ONBOARDED, no stray tick may fire.
	f.sched.Advance(f.ctrl.timings.OnboardDelay)
	require.Equal(t, StateWelcome, f.ctrl.Snapshot().State)
	require.Len(t, f.rec.ofType(EventCountdown), 6)
}

func TestWelcome_WaitsForManualResetByDefault(t *testing.T) {
	f := newFixture(t)
	f.driveToScanPassed(t)
	f.sched.Advance(f.ctrl.choreo.Advance + f.ctrl.timings.FinalizeDelay)
	f.sched.Advance(6*f.ctrl.timings.CountdownInterval + f.ctrl.timings.OnboardDelay)
	require.Equal(t, StateWelcome, f.ctrl.Snapshot().State)

	f.sched.Advance(time.Hour)
	require.Equal(t, StateWelcome, f.ctrl.Snapshot().State)

	f.ctrl.Reset()
	require.Equal(t, StateIdle, f.ctrl.Snapshot().State)
}

func TestWelcome_AutoResetWhenConfigured(t *testing.T) {
	timings := DefaultTimings()
	timings.WelcomeAutoReset = 10 * time.Second
	f := newFixture(t, WithTimings(timings))
	f.driveToScanPassed(t)
	f.sched.Advance(f.ctrl.choreo.Advance + timings.FinalizeDelay)
	f.sched.Advance(6*timings.CountdownInterval + timings.OnboardDelay)
	require.Equal(t, StateWelcome, f.ctrl.Snapshot().State)

	f.sched.Advance(10 * time.Second)
	require.Equal(t, StateIdle, f.ctrl.Snapshot().State)
	require.False(t, f.ctrl.Snapshot().HasCapture)
}

func TestCameraDenied_TransitionsToError(t *testing.T) {
	f := newFixture(t)
	f.src.acquireErr = camera.ErrPermissionDenied

	require.NoError(t, f.ctrl.Start())
	f.awaitState(t, StateError)

	snap := f.ctrl.Snapshot()
	require.NotEmpty(t, snap.Error)
	require.False(t, f.src.isActive())
	require.Zero(t, f.src.releases, "a feed that never opened must not be released")

	// The stream is never referenced again: no timers remain armed.
	require.Zero(t, f.sched.pending())
	f.sched.Advance(time.Minute)
	require.Equal(t, StateError, f.ctrl.Snapshot().State)

	// Retry after the user fixes permissions.
	f.src.acquireErr = nil
	require.NoError(t, f.ctrl.Start())
	f.awaitState(t, StateDetecting)
	require.Empty(t, f.ctrl.Snapshot().Error)
}

func TestReset_ClearsSessionFromAnyState(t *testing.T) {
	t.Run("from detecting releases the camera", func(t *testing.T) {
		f := newFixture(t)
		f.startDetecting(t)
		require.True(t, f.src.isActive())

		f.ctrl.Reset()
		snap := f.ctrl.Snapshot()
		require.Equal(t, StateIdle, snap.State)
		require.False(t, f.src.isActive())
		require.Zero(t, f.sched.pending())
	})

	t.Run("from captured clears the artifact and region", func(t *testing.T) {
		f := newFixture(t)
		f.driveToCaptured(t)
		require.True(t, f.ctrl.Snapshot().HasCapture)

		f.ctrl.Reset()
		snap := f.ctrl.Snapshot()
		require.Equal(t, StateIdle, snap.State)
		require.False(t, snap.HasCapture)
		require.Nil(t, snap.Region)
		require.Empty(t, snap.SessionID)
		_, ok := f.ctrl.Capture()
		require.False(t, ok)
	})

	t.Run("from error clears the message", func(t *testing.T) {
		f := newFixture(t)
		f.src.acquireErr = errors.New("no device")
		require.NoError(t, f.ctrl.Start())
		f.awaitState(t, StateError)

		f.ctrl.Reset()
		snap := f.ctrl.Snapshot()
		require.Equal(t, StateIdle, snap.State)
		require.Empty(t, snap.Error)
	})
}

func TestReset_DuringAcquisitionNeverLeaksFeed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctrl.Start())
	f.ctrl.Reset()

	require.Eventually(t, func() bool {
		return !f.src.isActive()
	}, 2*time.Second, time.Millisecond, "feed acquired mid-reset must be released")
	require.Equal(t, StateIdle, f.ctrl.Snapshot().State)
}

func TestClassifier_ProceedsOnYesAfterRetries(t *testing.T) {
	fc := &fakeClassifier{answers: []bool{false, false, true}}
	f := newFixture(t, WithClassifier(fc))
	f.startDetecting(t)

	// Wait for the answer to land and the follow-up timer to be armed before
	// advancing the virtual clock, since the classifier call is async.
	waitCalls := func(n int) {
		require.Eventually(t, func() bool {
			fc.mu.Lock()
			calls := fc.calls
			fc.mu.Unlock()
			return calls >= n && f.sched.pending() > 0
		}, 2*time.Second, time.Millisecond)
	}

	waitCalls(1)
	require.Nil(t, f.ctrl.Snapshot().Region, "NO answer must not lock on")

	f.sched.Advance(f.ctrl.timings.ClassifierRetry)
	waitCalls(2)
	f.sched.Advance(f.ctrl.timings.ClassifierRetry)
	waitCalls(3)

	require.Eventually(t, func() bool {
		return f.ctrl.Snapshot().Region != nil
	}, 2*time.Second, time.Millisecond, "YES answer locks on")

	f.sched.Advance(f.ctrl.timings.LockDelay)
	require.Equal(t, StateCaptured, f.ctrl.Snapshot().State)
}

func TestClassifier_ErrorFailsSession(t *testing.T) {
	fc := &fakeClassifier{err: errors.New("model unavailable")}
	f := newFixture(t, WithClassifier(fc))
	require.NoError(t, f.ctrl.Start())

	f.awaitState(t, StateError)
	snap := f.ctrl.Snapshot()
	require.Contains(t, snap.Error, "face check failed")
	require.False(t, f.src.isActive(), "camera released on classifier failure")
}

func TestNew_RequiresDependencies(t *testing.T) {
	fx, err := effects.New(nullCueSink{})
	require.NoError(t, err)

	_, err = New(nil, &eventRecorder{}, fx)
	require.Error(t, err)
	_, err = New(newFakeSource(), nil, fx)
	require.Error(t, err)
	_, err = New(newFakeSource(), &eventRecorder{}, nil)
	require.Error(t, err)
}

func TestNew_RejectsInvalidChoreography(t *testing.T) {
	fx, err := effects.New(nullCueSink{})
	require.NoError(t, err)

	bad := Choreography{
		Cues:    []Cue{{Offset: time.Second, Reveal: "a"}, {Offset: time.Second, Reveal: "b"}},
		Advance: 2 * time.Second,
	}
	_, err = New(newFakeSource(), &eventRecorder{}, fx, WithChoreography(bad))
	require.Error(t, err)
}
