// Package scan implements the scan timeline controller: a finite state
// machine driving the kiosk's capture-scan-reveal-onboard narrative through
// timer-driven and event-driven transitions. The controller is the single
// owner of the camera feed and of every per-phase timer.
package scan

// State is the scanner's phase tag. Exactly one is active at a time.
type State string

const (
	StateIdle         State = "IDLE"
	StateInitializing State = "INITIALIZING"
	StateDetecting    State = "DETECTING"
	StateCaptured     State = "CAPTURED"
	StateScanning     State = "SCANNING"
	StateScanPassed   State = "SCAN_PASSED"
	StateFinalizing   State = "FINALIZING"
	StateCountdown    State = "COUNTDOWN"
	StateOnboarded    State = "ONBOARDED"
	StateWelcome      State = "WELCOME"
	StateSuccess      State = "SUCCESS"
	StateError        State = "ERROR"
)

// Terminal reports whether the state awaits an explicit user action
// (start or reset) rather than a timer.
func (s State) Terminal() bool {
	switch s {
	case StateWelcome, StateSuccess, StateError:
		return true
	}
	return false
}

// HoldsCamera reports whether the camera feed must be open in this state.
// The feed is open if and only if HoldsCamera is true; releasing it on every
// exit from these states is the controller's strictest obligation.
func (s State) HoldsCamera() bool {
	return s == StateInitializing || s == StateDetecting
}
