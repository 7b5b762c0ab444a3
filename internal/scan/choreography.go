package scan

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gatescan/internal/effects"
)

// Reveal ids shown by the kiosk during SCAN_PASSED. The ids are the single
// source of truth shared by the visual reveal and its sound cue.
const (
	RevealPass           = "pass"
	RevealBadgeIdentity  = "badge_identity"
	RevealBadgeWatchlist = "badge_watchlist"
	RevealRiskScore      = "risk_score"
	RevealDisclosure     = "disclosure"
	RevealDisclosureHide = "disclosure_hide"
)

// Cue is one scheduled reveal in the SCAN_PASSED choreography: at Offset from
// phase entry, show Reveal and play Effect. Disclosure cues additionally
// carry the typewriter text, its per-character interval, and the auto-hide
// hold time.
type Cue struct {
	Offset       time.Duration
	Reveal       string
	Effect       effects.ID
	Text         string
	CharInterval time.Duration
	Hold         time.Duration
}

// Choreography is the declarative schedule for SCAN_PASSED. All cues are
// armed together at phase entry; Advance is the offset of the automatic
// transition to FINALIZING.
type Choreography struct {
	Cues    []Cue
	Advance time.Duration
}

// disclosureText is the stock disclosure typed out in the popup.
const disclosureText = "Your biometric template was evaluated against the active watchlist. " +
	"No adverse records were found. This capture is retained for the duration " +
	"of the session only and is discarded on reset."

// DefaultChoreography returns the stock SCAN_PASSED schedule: the pass cue at
// entry, two staggered verification badges, the risk score, the disclosure
// popup with its auto-hide, and the advance to FINALIZING.
func DefaultChoreography() Choreography {
	return Choreography{
		Cues: []Cue{
			{Offset: 0, Reveal: RevealPass, Effect: effects.CuePass},
			{Offset: 1200 * time.Millisecond, Reveal: RevealBadgeIdentity, Effect: effects.CueBadgeIdentity},
			{Offset: 2400 * time.Millisecond, Reveal: RevealBadgeWatchlist, Effect: effects.CueBadgeWatchlist},
			{Offset: 3600 * time.Millisecond, Reveal: RevealRiskScore, Effect: effects.CueRiskScore},
			{
				Offset:       5 * time.Second,
				Reveal:       RevealDisclosure,
				Effect:       effects.CueDisclosure,
				Text:         disclosureText,
				CharInterval: 15 * time.Millisecond,
				Hold:         6 * time.Second,
			},
			{Offset: 11 * time.Second, Reveal: RevealDisclosureHide},
		},
		Advance: 12 * time.Second,
	}
}

// Validate checks that the schedule is well-formed: offsets strictly
// increasing and non-colliding, the advance after the last cue, and
// typewriter parameters present wherever text is.
func (c Choreography) Validate() error {
	if len(c.Cues) == 0 {
		return fmt.Errorf("choreography has no cues")
	}
	prev := time.Duration(-1)
	for i, cue := range c.Cues {
		if cue.Offset < 0 {
			return fmt.Errorf("cue %d: negative offset %v", i, cue.Offset)
		}
		if cue.Offset <= prev {
			return fmt.Errorf("cue %d: offset %v not after previous %v", i, cue.Offset, prev)
		}
		if cue.Reveal == "" && cue.Effect == "" {
			return fmt.Errorf("cue %d: neither reveal nor effect", i)
		}
		if cue.Text != "" && cue.CharInterval <= 0 {
			return fmt.Errorf("cue %d: text requires a positive charIntervalMs", i)
		}
		prev = cue.Offset
	}
	if c.Advance <= prev {
		return fmt.Errorf("advance %v must come after the last cue at %v", c.Advance, prev)
	}
	return nil
}

// choreographyFile is the YAML wire form. Offsets are integral milliseconds,
// matching how the schedule is discussed everywhere else.
type choreographyFile struct {
	Cues []struct {
		OffsetMs       int    `yaml:"offsetMs"`
		Reveal         string `yaml:"reveal"`
		Effect         string `yaml:"effect"`
		Text           string `yaml:"text"`
		CharIntervalMs int    `yaml:"charIntervalMs"`
		HoldMs         int    `yaml:"holdMs"`
	} `yaml:"cues"`
	AdvanceMs int `yaml:"advanceMs"`
}

// LoadChoreography reads a YAML override schedule and validates it.
func LoadChoreography(path string) (Choreography, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Choreography{}, fmt.Errorf("read choreography: %w", err)
	}
	return ParseChoreography(raw)
}

// ParseChoreography decodes and validates a YAML schedule.
func ParseChoreography(raw []byte) (Choreography, error) {
	var file choreographyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return Choreography{}, fmt.Errorf("parse choreography: %w", err)
	}

	choreo := Choreography{
		Advance: time.Duration(file.AdvanceMs) * time.Millisecond,
	}
	for _, c := range file.Cues {
		choreo.Cues = append(choreo.Cues, Cue{
			Offset:       time.Duration(c.OffsetMs) * time.Millisecond,
			Reveal:       c.Reveal,
			Effect:       effects.ID(c.Effect),
			Text:         c.Text,
			CharInterval: time.Duration(c.CharIntervalMs) * time.Millisecond,
			Hold:         time.Duration(c.HoldMs) * time.Millisecond,
		})
	}
	if err := choreo.Validate(); err != nil {
		return Choreography{}, err
	}
	return choreo, nil
}
