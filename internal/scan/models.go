package scan

import (
	"context"
	"time"

	"gatescan/internal/camera"
)

// Timings holds every timer constant the controller uses. The choreography
// offsets live separately in Choreography; everything else is here so no
// phase carries a hardcoded delay. Env tags allow the platform config to
// parse overrides directly into this struct.
type Timings struct {
	// FramePoll is the retry interval while waiting for a live video frame.
	FramePoll time.Duration `env:"FRAME_POLL" envDefault:"500ms"`
	// DetectionDelay is the fixed dwell before a face is "found" when no
	// classifier is configured.
	DetectionDelay time.Duration `env:"DETECTION_DELAY" envDefault:"2500ms"`
	// ClassifierRetry is the re-check interval after the classifier answers NO.
	ClassifierRetry time.Duration `env:"CLASSIFIER_RETRY" envDefault:"1500ms"`
	// LockDelay is the pause between the region reveal and the capture.
	LockDelay time.Duration `env:"LOCK_DELAY" envDefault:"1100ms"`
	// CaptureHold is how long the frozen frame is shown before scanning.
	CaptureHold time.Duration `env:"CAPTURE_HOLD" envDefault:"1s"`
	// ScanDuration is the total length of the SCANNING phase.
	ScanDuration time.Duration `env:"SCAN_DURATION" envDefault:"6s"`
	// MessageInterval rotates the scanning flavor-text messages.
	MessageInterval time.Duration `env:"MESSAGE_INTERVAL" envDefault:"700ms"`
	// ConfidenceInterval increments the confidence counter by one.
	ConfidenceInterval time.Duration `env:"CONFIDENCE_INTERVAL" envDefault:"90ms"`
	// FinalizeDelay is the FINALIZING dwell before the countdown.
	FinalizeDelay time.Duration `env:"FINALIZE_DELAY" envDefault:"4s"`
	// CountdownStart is the countdown's initial value.
	CountdownStart int `env:"COUNTDOWN_START" envDefault:"5"`
	// CountdownInterval is the countdown tick period.
	CountdownInterval time.Duration `env:"COUNTDOWN_INTERVAL" envDefault:"1s"`
	// OnboardDelay is the ONBOARDED dwell before WELCOME.
	OnboardDelay time.Duration `env:"ONBOARD_DELAY" envDefault:"3s"`
	// WelcomeAutoReset returns the kiosk to IDLE after this long on the
	// welcome screen. Zero waits for an explicit reset.
	WelcomeAutoReset time.Duration `env:"WELCOME_AUTO_RESET" envDefault:"0"`
}

// DefaultTimings returns the stock timing set.
func DefaultTimings() Timings {
	return Timings{
		FramePoll:          500 * time.Millisecond,
		DetectionDelay:     2500 * time.Millisecond,
		ClassifierRetry:    1500 * time.Millisecond,
		LockDelay:          1100 * time.Millisecond,
		CaptureHold:        time.Second,
		ScanDuration:       6 * time.Second,
		MessageInterval:    700 * time.Millisecond,
		ConfidenceInterval: 90 * time.Millisecond,
		FinalizeDelay:      4 * time.Second,
		CountdownStart:     5,
		CountdownInterval:  time.Second,
		OnboardDelay:       3 * time.Second,
		WelcomeAutoReset:   0,
	}
}

// RegionSpec describes the detection region as fractions of the source frame.
// No real geometry is computed; the region is cosmetic.
type RegionSpec struct {
	WidthFrac  float64 `env:"WIDTH_FRAC" envDefault:"0.28"`
	HeightFrac float64 `env:"HEIGHT_FRAC" envDefault:"0.34"`
}

// DefaultRegionSpec returns the stock region fractions.
func DefaultRegionSpec() RegionSpec {
	return RegionSpec{WidthFrac: 0.28, HeightFrac: 0.34}
}

// Region is a rectangle in source-frame coordinates where a face was "found".
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// regionFor centers a RegionSpec-sized rectangle in a frame of the given size.
func regionFor(frameW, frameH int, spec RegionSpec) Region {
	w := int(float64(frameW) * spec.WidthFrac)
	h := int(float64(frameH) * spec.HeightFrac)
	return Region{
		X:      (frameW - w) / 2,
		Y:      (frameH - h) / 2,
		Width:  w,
		Height: h,
	}
}

// Snapshot is a point-in-time view of the session for the state endpoint.
type Snapshot struct {
	State      State   `json:"state"`
	SessionID  string  `json:"session_id,omitempty"`
	Confidence int     `json:"confidence"`
	Countdown  int     `json:"countdown"`
	Message    string  `json:"message,omitempty"`
	Region     *Region `json:"region,omitempty"`
	Error      string  `json:"error,omitempty"`
	HasCapture bool    `json:"has_capture"`
}

// FrameSource is the camera port. The controller is its only owner: it
// acquires in INITIALIZING and releases on every exit from INITIALIZING or
// DETECTING, whatever caused the exit.
type FrameSource interface {
	Acquire(ctx context.Context) error
	Frame() (camera.Frame, bool)
	Release()
}

// FaceClassifier is the optional external face-presence check. When set, the
// detection loop asks it instead of waiting out the fixed dwell.
type FaceClassifier interface {
	HasFace(ctx context.Context, jpeg []byte) (bool, error)
}

// EventSink receives session events for fan-out to kiosk viewers.
type EventSink interface {
	Publish(ev Event)
}

// DefaultMessages is the stock scanning flavor text, rotated circularly.
var DefaultMessages = []string{
	"Aligning biometric mesh",
	"Sampling micro-expressions",
	"Cross-referencing identity ledger",
	"Measuring liveness signals",
	"Normalizing sensor gain",
	"Sealing session envelope",
}
