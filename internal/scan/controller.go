package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatescan/internal/camera"
	"gatescan/internal/effects"
	"gatescan/internal/scan/metrics"
	domainerrors "gatescan/pkg/domain-errors"
)

// Controller owns the scanner state and drives every transition. All timers
// armed for a phase live in one disposable group; a transition cancels the
// group and bumps the generation counter, so callbacks and async completions
// from a previous phase can never mutate the session.
type Controller struct {
	sched      Scheduler
	frames     FrameSource
	classifier FaceClassifier
	fx         *effects.Dispatcher
	sink       EventSink
	logger     *slog.Logger
	metrics    *metrics.Metrics
	timings    Timings
	regionSpec RegionSpec
	choreo     Choreography
	messages   []string

	mu           sync.Mutex
	state        State
	gen          uint64
	timers       *timerGroup
	sessionID    string
	startedAt    time.Time
	cameraHeld   bool
	cameraCtx    context.Context
	cameraCancel context.CancelFunc
	captureDone  bool
	capture      []byte
	region       *Region
	confidence   int
	message      string
	msgIdx       int
	countdown    int
	lastErr      string
}

// Option configures the Controller.
type Option func(*Controller)

// WithLogger sets the logger for the controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector for the controller.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithScheduler overrides the timer scheduler, letting tests drive the
// controller with a virtual clock.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		if s != nil {
			c.sched = s
		}
	}
}

// WithClassifier enables the external face-presence check. Without it the
// detection loop uses the fixed dwell delay.
func WithClassifier(fc FaceClassifier) Option {
	return func(c *Controller) {
		c.classifier = fc
	}
}

// WithTimings overrides the timer constants.
func WithTimings(t Timings) Option {
	return func(c *Controller) {
		c.timings = t
	}
}

// WithRegionSpec overrides the detection region fractions.
func WithRegionSpec(spec RegionSpec) Option {
	return func(c *Controller) {
		c.regionSpec = spec
	}
}

// WithChoreography overrides the SCAN_PASSED schedule.
func WithChoreography(ch Choreography) Option {
	return func(c *Controller) {
		c.choreo = ch
	}
}

// WithMessages overrides the scanning flavor-text list.
func WithMessages(msgs []string) Option {
	return func(c *Controller) {
		if len(msgs) > 0 {
			c.messages = msgs
		}
	}
}

// New creates a controller in IDLE. The frame source, event sink, and effect
// dispatcher are required; the choreography is validated up front so a broken
// schedule fails at startup, not mid-session.
func New(frames FrameSource, sink EventSink, fx *effects.Dispatcher, opts ...Option) (*Controller, error) {
	if frames == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "scan.New: frame source is required")
	}
	if sink == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "scan.New: event sink is required")
	}
	if fx == nil {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, "scan.New: effect dispatcher is required")
	}

	c := &Controller{
		sched:      NewWallScheduler(),
		frames:     frames,
		sink:       sink,
		fx:         fx,
		logger:     slog.Default(),
		timings:    DefaultTimings(),
		regionSpec: DefaultRegionSpec(),
		choreo:     DefaultChoreography(),
		messages:   DefaultMessages,
		state:      StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if err := c.choreo.Validate(); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInvalidInput, "scan.New: invalid choreography")
	}
	c.timers = newTimerGroup(c.sched)
	return c, nil
}

// Start begins a scan session. It is valid from IDLE or any terminal state;
// anything else means a session is already running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle && !c.state.Terminal() {
		return domainerrors.New(domainerrors.CodeInvalidState, "scan already in progress")
	}
	if c.state != StateIdle {
		c.clearSessionLocked()
	}

	c.sessionID = uuid.New().String()
	c.startedAt = c.sched.Now()
	if c.metrics != nil {
		c.metrics.SessionsStarted.Inc()
	}

	c.transitionLocked(StateInitializing)

	ctx, cancel := context.WithCancel(context.Background())
	c.cameraCtx = ctx
	c.cameraCancel = cancel
	gen := c.gen
	go c.acquireCamera(ctx, gen)
	return nil
}

// acquireCamera is the one fallible external call in the fixed-dwell variant.
// It runs off the lock; the generation check decides whether its result still
// belongs to the live session.
func (c *Controller) acquireCamera(ctx context.Context, gen uint64) {
	err := c.frames.Acquire(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// The session moved on while we were waiting. If the acquire won the
		// race anyway, the feed must not stay open.
		if err == nil {
			c.frames.Release()
		}
		return
	}
	if err != nil {
		c.failLocked(domainerrors.CodeCameraUnavailable, "camera unavailable: "+err.Error())
		return
	}
	c.cameraHeld = true
	c.transitionLocked(StateDetecting)
	c.pollFrameLocked()
}

// pollFrameLocked retries until the feed reports a live frame, then starts
// the dwell or the classifier loop.
func (c *Controller) pollFrameLocked() {
	frame, ok := c.frames.Frame()
	if !ok {
		c.afterLocked(c.timings.FramePoll, c.pollFrameLocked)
		return
	}
	if c.classifier != nil {
		c.classifyFrameLocked(frame)
		return
	}
	c.afterLocked(c.timings.DetectionDelay, c.lockOnLocked)
}

// classifyFrameLocked sends the frame to the face-presence classifier without
// holding the lock across the network call.
func (c *Controller) classifyFrameLocked(frame camera.Frame) {
	gen := c.gen
	ctx := c.cameraCtx
	go func() {
		start := c.sched.Now()
		hasFace, err := c.classifier.HasFace(ctx, frame.JPEG)
		elapsed := c.sched.Now().Sub(start)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ClassifierLatency.Observe(elapsed.Seconds())
			c.metrics.ClassifierCalls.WithLabelValues(classifierOutcome(hasFace, err)).Inc()
		}
		if c.gen != gen {
			return
		}
		switch {
		case err != nil:
			c.failLocked(domainerrors.CodeClassifierFailure, "face check failed: "+err.Error())
		case hasFace:
			c.lockOnLocked()
		default:
			c.afterLocked(c.timings.ClassifierRetry, c.retryClassifyLocked)
		}
	}()
}

func (c *Controller) retryClassifyLocked() {
	frame, ok := c.frames.Frame()
	if !ok {
		c.pollFrameLocked()
		return
	}
	c.classifyFrameLocked(frame)
}

func classifierOutcome(hasFace bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case hasFace:
		return "yes"
	default:
		return "no"
	}
}

// lockOnLocked computes the cosmetic detection region and arms the capture.
func (c *Controller) lockOnLocked() {
	frame, ok := c.frames.Frame()
	if !ok {
		c.pollFrameLocked()
		return
	}
	region := regionFor(frame.Width, frame.Height, c.regionSpec)
	c.region = &region
	c.fx.Play(effects.CueLockOn)
	c.publishLocked(Event{Type: EventRegion, Region: &region})
	c.afterLocked(c.timings.LockDelay, c.captureLocked)
}

// captureLocked freezes the current frame, mirrored so the stored image
// matches what the user saw, then releases the camera. Guarded to run once
// per detection cycle.
func (c *Controller) captureLocked() {
	if c.captureDone {
		return
	}
	frame, ok := c.frames.Frame()
	if !ok {
		c.failLocked(domainerrors.CodeCameraUnavailable, "camera feed lost before capture")
		return
	}
	mirrored, err := camera.MirrorJPEG(frame.JPEG)
	if err != nil {
		c.failLocked(domainerrors.CodeCameraUnavailable, "capture failed: "+err.Error())
		return
	}
	c.capture = mirrored
	c.captureDone = true
	c.releaseCameraLocked()
	c.transitionLocked(StateCaptured)
	c.afterLocked(c.timings.CaptureHold, c.enterScanningLocked)
}

// enterScanningLocked runs the scanning phase: a message-rotation timer and a
// confidence counter, independent for the whole phase.
func (c *Controller) enterScanningLocked() {
	c.transitionLocked(StateScanning)
	c.confidence = 0
	c.msgIdx = 0
	c.rotateMessageLocked()

	c.everyLocked(c.timings.MessageInterval, c.rotateMessageLocked)
	c.everyLocked(c.timings.ConfidenceInterval, c.bumpConfidenceLocked)
	c.afterLocked(c.timings.ScanDuration, c.finishScanningLocked)
}

func (c *Controller) rotateMessageLocked() {
	c.message = c.messages[c.msgIdx%len(c.messages)]
	c.msgIdx++
	c.publishLocked(Event{Type: EventMessage, Message: c.message})
}

func (c *Controller) bumpConfidenceLocked() {
	if c.confidence >= 99 {
		return
	}
	c.confidence++
	c.publishLocked(Event{Type: EventConfidence, Confidence: c.confidence})
}

// finishScanningLocked snaps the confidence to exactly 100 and arms the
// SCAN_PASSED choreography. The transition cancels the scanning timers as a
// unit before the reveal set is armed on the fresh group.
func (c *Controller) finishScanningLocked() {
	c.confidence = 100
	c.publishLocked(Event{Type: EventConfidence, Confidence: c.confidence})
	c.transitionLocked(StateScanPassed)

	for _, cue := range c.choreo.Cues {
		cue := cue
		if cue.Offset == 0 {
			c.fireCueLocked(cue)
			continue
		}
		c.afterLocked(cue.Offset, func() { c.fireCueLocked(cue) })
	}
	c.afterLocked(c.choreo.Advance, c.enterFinalizingLocked)
}

func (c *Controller) fireCueLocked(cue Cue) {
	if cue.Effect != "" {
		c.fx.Play(cue.Effect)
	}
	if cue.Reveal == "" {
		return
	}
	ev := Event{Type: EventReveal, Reveal: cue.Reveal}
	if cue.Text != "" {
		ev.Text = cue.Text
		ev.CharIntervalMs = int(cue.CharInterval / time.Millisecond)
		ev.HoldMs = int(cue.Hold / time.Millisecond)
	}
	c.publishLocked(ev)
}

func (c *Controller) enterFinalizingLocked() {
	c.transitionLocked(StateFinalizing)
	c.afterLocked(c.timings.FinalizeDelay, c.enterCountdownLocked)
}

// enterCountdownLocked announces the initial value, then decrements once per
// interval with a spoken-number cue, reaching ONBOARDED at zero. The value
// never goes negative: the transition cancels the tick timer.
func (c *Controller) enterCountdownLocked() {
	c.transitionLocked(StateCountdown)
	c.countdown = c.timings.CountdownStart
	c.publishLocked(Event{Type: EventCountdown, Countdown: intPtr(c.countdown)})
	c.fx.SpeakNumber(c.countdown)
	c.everyLocked(c.timings.CountdownInterval, c.countdownTickLocked)
}

func (c *Controller) countdownTickLocked() {
	c.countdown--
	c.publishLocked(Event{Type: EventCountdown, Countdown: intPtr(c.countdown)})
	if c.countdown <= 0 {
		c.enterOnboardedLocked()
		return
	}
	c.fx.SpeakNumber(c.countdown)
}

func (c *Controller) enterOnboardedLocked() {
	c.transitionLocked(StateOnboarded)
	c.afterLocked(c.timings.OnboardDelay, c.enterWelcomeLocked)
}

func (c *Controller) enterWelcomeLocked() {
	c.transitionLocked(StateWelcome)
	if c.metrics != nil {
		c.metrics.SessionsCompleted.Inc()
		c.metrics.ObserveSession(c.sched.Now().Sub(c.startedAt))
	}
	if c.timings.WelcomeAutoReset > 0 {
		c.afterLocked(c.timings.WelcomeAutoReset, c.resetLocked)
	}
}

// Reset cancels all pending timers, releases the camera if held, clears the
// session artifacts, and returns to IDLE. Callable from any state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.clearSessionLocked()
	c.transitionLocked(StateIdle)
}

// clearSessionLocked releases held resources and wipes the per-session data.
func (c *Controller) clearSessionLocked() {
	c.releaseCameraLocked()
	c.capture = nil
	c.captureDone = false
	c.region = nil
	c.confidence = 0
	c.message = ""
	c.msgIdx = 0
	c.countdown = 0
	c.lastErr = ""
	c.sessionID = ""
}

func (c *Controller) releaseCameraLocked() {
	if c.cameraCancel != nil {
		c.cameraCancel()
		c.cameraCancel = nil
		c.cameraCtx = nil
	}
	if c.cameraHeld {
		c.frames.Release()
		c.cameraHeld = false
	}
}

// failLocked converts an async failure into the terminal ERROR state. Errors
// never propagate above the controller; there is no caller above it.
func (c *Controller) failLocked(code domainerrors.Code, msg string) {
	c.lastErr = msg
	c.releaseCameraLocked()
	c.logger.Error("scan session failed",
		"session_id", c.sessionID,
		"code", string(code),
		"error", msg,
	)
	if c.metrics != nil {
		c.metrics.SessionsFailed.WithLabelValues(string(code)).Inc()
	}
	c.transitionLocked(StateError)
	c.publishLocked(Event{Type: EventError, Error: msg})
}

// transitionLocked is the single place state changes. It cancels the outgoing
// phase's timer group, invalidates stale callbacks via the generation
// counter, notifies the effect dispatcher, and publishes the state event.
func (c *Controller) transitionLocked(to State) {
	from := c.state
	c.timers.Cancel()
	c.timers = newTimerGroup(c.sched)
	c.gen++
	c.state = to

	c.logger.Info("state transition",
		"from", string(from),
		"to", string(to),
		"session_id", c.sessionID,
	)
	if c.metrics != nil {
		c.metrics.Transitions.WithLabelValues(string(to)).Inc()
	}
	c.fx.PhaseEntered(string(to))
	c.publishLocked(Event{Type: EventState, State: to})
}

// afterLocked arms fn on the current timer group with a generation guard, so
// a timer surviving a cancellation race still cannot touch a newer phase.
func (c *Controller) afterLocked(d time.Duration, fn func()) {
	gen := c.gen
	c.timers.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		fn()
	})
}

// everyLocked arms fn to repeat on the current timer group with the same
// generation guard.
func (c *Controller) everyLocked(interval time.Duration, fn func()) {
	gen := c.gen
	c.timers.Every(interval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		fn()
	})
}

// publishLocked stamps and emits a session event.
func (c *Controller) publishLocked(ev Event) {
	ev.SessionID = c.sessionID
	ev.At = c.sched.Now()
	c.sink.Publish(ev)
}

// Snapshot returns a point-in-time view for the state endpoint.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		SessionID:  c.sessionID,
		Confidence: c.confidence,
		Countdown:  c.countdown,
		Message:    c.message,
		Error:      c.lastErr,
		HasCapture: len(c.capture) > 0,
	}
	if c.region != nil {
		region := *c.region
		snap.Region = &region
	}
	return snap
}

// Capture returns the capture artifact, if one exists this session.
func (c *Controller) Capture() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.capture) == 0 {
		return nil, false
	}
	out := make([]byte, len(c.capture))
	copy(out, c.capture)
	return out, true
}

// CameraHeld reports whether the controller currently holds the frame feed.
func (c *Controller) CameraHeld() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraHeld
}

func intPtr(n int) *int {
	return &n
}
