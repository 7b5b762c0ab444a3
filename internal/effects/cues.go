// Package effects maps scan phases and choreography events to audio cues.
// The dispatcher builds declarative cue envelopes (waveform, duration, ramp
// points) and hands them to a sink; the kiosk front-end synthesizes and plays
// them. No audio is rendered server-side.
package effects

// ID names a cue in the dispatch table.
type ID string

const (
	CuePowerUp        ID = "power_up"        // scan session starting
	CueLockOn         ID = "lock_on"         // detection region found
	CueShutter        ID = "shutter"         // frame captured
	CueScanLoop       ID = "scan_loop"       // scanning ambience, looping
	CuePass           ID = "pass"            // scan passed
	CueBadgeIdentity  ID = "badge_identity"  // identity-check badge reveal
	CueBadgeWatchlist ID = "badge_watchlist" // watchlist-check badge reveal
	CueRiskScore      ID = "risk_score"      // risk score reveal
	CueDisclosure     ID = "disclosure"      // disclosure popup typing
	CueFinalize       ID = "finalize"        // finalizing chord
	CueCountdown      ID = "countdown"       // spoken countdown number
	CueOnboard        ID = "onboard"         // onboarding confirmation
	CueWelcome        ID = "welcome"         // welcome fanfare
	CueError          ID = "error"           // blocking error buzz
)

// Ramp is one point of a parameter envelope: at AtMs milliseconds from cue
// start, the oscillator should be at Freq hertz and Gain amplitude.
type Ramp struct {
	AtMs int     `json:"at_ms"`
	Freq float64 `json:"freq"`
	Gain float64 `json:"gain"`
}

// CueSpec is the wire form of one audio cue. Loop cues stay audible until a
// Stop spec with the same name arrives; FadeOutMs avoids an audible click on
// stop.
type CueSpec struct {
	Name       string  `json:"name"`
	Wave       string  `json:"wave"` // sine | square | sawtooth | triangle | noise | voice
	DurationMs int     `json:"duration_ms,omitempty"`
	Ramps      []Ramp  `json:"ramps,omitempty"`
	Gain       float64 `json:"gain,omitempty"`
	Loop       bool    `json:"loop,omitempty"`
	Stop       bool    `json:"stop,omitempty"`
	FadeOutMs  int     `json:"fade_out_ms,omitempty"`
	NoiseSeed  int64   `json:"noise_seed,omitempty"`
	Text       string  `json:"text,omitempty"` // spoken cues
}

// Sink receives cue envelopes for playback.
type Sink interface {
	PlayCue(spec CueSpec)
}
