package scan

import "time"

// EventType tags the session events streamed to kiosk viewers.
type EventType string

const (
	EventState      EventType = "state"      // phase transition
	EventRegion     EventType = "region"     // detection region found
	EventMessage    EventType = "message"    // scanning flavor text
	EventConfidence EventType = "confidence" // scanning confidence counter
	EventReveal     EventType = "reveal"     // choreography reveal
	EventCountdown  EventType = "countdown"  // countdown tick
	EventError      EventType = "error"      // terminal failure
)

// Event is one session event. Fields beyond Type and At are populated per
// event type; the zero values are omitted on the wire.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"session_id,omitempty"`
	State      State     `json:"state,omitempty"`
	Message    string    `json:"message,omitempty"`
	Confidence int       `json:"confidence,omitempty"`
	Countdown  *int      `json:"countdown,omitempty"`
	Region     *Region   `json:"region,omitempty"`
	Reveal     string    `json:"reveal,omitempty"`
	// Text, CharIntervalMs, and HoldMs describe the typewriter disclosure
	// popup: the viewer types Text out one character per interval and hides
	// the popup after HoldMs.
	Text           string    `json:"text,omitempty"`
	CharIntervalMs int       `json:"char_interval_ms,omitempty"`
	HoldMs         int       `json:"hold_ms,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
}
