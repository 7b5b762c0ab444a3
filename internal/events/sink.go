package events

import (
	"gatescan/internal/effects"
	"gatescan/internal/scan"
)

// cueEnvelope wraps an audio cue so viewers can demultiplex it from session
// events by the shared "type" discriminator.
type cueEnvelope struct {
	Type string          `json:"type"`
	Cue  effects.CueSpec `json:"cue"`
}

// SessionSink adapts the hub to the scan controller's event port and the
// effect dispatcher's cue sink, so both streams reach viewers on one socket.
type SessionSink struct {
	hub *Hub
}

// NewSessionSink wraps hub as an event and cue sink.
func NewSessionSink(hub *Hub) *SessionSink {
	return &SessionSink{hub: hub}
}

// Publish broadcasts a session event to all viewers.
func (s *SessionSink) Publish(event scan.Event) {
	s.hub.Broadcast(event)
}

// PlayCue broadcasts an audio cue envelope to all viewers.
func (s *SessionSink) PlayCue(spec effects.CueSpec) {
	s.hub.Broadcast(cueEnvelope{Type: "cue", Cue: spec})
}
