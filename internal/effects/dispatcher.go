package effects

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"sync"
)

// noiseSeed seeds the shared noise buffer so every noise cue in a session
// shares the same texture.
const noiseSeed int64 = 0x5ca9

// noiseBufferLen is the number of samples in the cached noise buffer.
const noiseBufferLen = 4096

// loopFadeMs is the fade applied when the scanning ambience stops.
const loopFadeMs = 180

// phaseCues maps scan phase names to their entry cue. Phases without an entry
// are silent; SCANNING is special-cased because its cue loops, and SCAN_PASSED
// is absent because the reveal choreography owns its pass cue.
var phaseCues = map[string]ID{
	"INITIALIZING": CuePowerUp,
	"CAPTURED":     CueShutter,
	"FINALIZING":   CueFinalize,
	"ONBOARDED":    CueOnboard,
	"WELCOME":      CueWelcome,
	"ERROR":        CueError,
}

// Dispatcher is the effect table. It is an explicitly constructed service
// with an init/dispose lifecycle; nothing here is package-level state. It is
// stateless between calls except for the cached noise buffer and the running
// ambience loop handle.
type Dispatcher struct {
	sink   Sink
	logger *slog.Logger

	mu         sync.Mutex
	disposed   bool
	loopActive bool

	noiseOnce sync.Once
	noiseGain float64
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger for the dispatcher.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a dispatcher delivering cues to sink.
func New(sink Sink, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, fmt.Errorf("effects.New: sink is required")
	}
	d := &Dispatcher{
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// PhaseEntered plays the entry cue for a scan phase and manages the scanning
// ambience loop: the loop starts on entering SCANNING and is stopped, with a
// short fade, the instant any other phase is entered.
func (d *Dispatcher) PhaseEntered(phase string) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	stopLoop := d.loopActive && phase != "SCANNING"
	startLoop := !d.loopActive && phase == "SCANNING"
	d.loopActive = phase == "SCANNING"
	d.mu.Unlock()

	if stopLoop {
		d.sink.PlayCue(CueSpec{Name: string(CueScanLoop), Stop: true, FadeOutMs: loopFadeMs})
	}
	if startLoop {
		d.sink.PlayCue(d.buildSpec(CueScanLoop))
		return
	}
	if id, ok := phaseCues[phase]; ok {
		d.sink.PlayCue(d.buildSpec(id))
	}
}

// Play fires a single cue by id. Unknown ids are logged and dropped rather
// than failing the caller; cues are fire-and-forget.
func (d *Dispatcher) Play(id ID) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	spec := d.buildSpec(id)
	if spec.Name == "" {
		d.logger.Warn("unknown effect cue", "id", string(id))
		return
	}
	d.sink.PlayCue(spec)
}

// SpeakNumber emits a spoken-number cue for the countdown.
func (d *Dispatcher) SpeakNumber(n int) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.sink.PlayCue(CueSpec{
		Name: string(CueCountdown),
		Wave: "voice",
		Text: strconv.Itoa(n),
	})
}

// Dispose stops the ambience loop if running and silences the dispatcher.
// Further calls are no-ops; the session owner calls this on shutdown.
func (d *Dispatcher) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	stopLoop := d.loopActive
	d.loopActive = false
	d.mu.Unlock()

	if stopLoop {
		d.sink.PlayCue(CueSpec{Name: string(CueScanLoop), Stop: true, FadeOutMs: loopFadeMs})
	}
}

// noiseLevel lazily builds the cached noise buffer and returns the gain that
// normalizes its peak to unity. Noise cues share one buffer so their texture
// is identical across a session.
func (d *Dispatcher) noiseLevel() float64 {
	d.noiseOnce.Do(func() {
		rng := rand.New(rand.NewSource(noiseSeed))
		peak := 0.0
		for i := 0; i < noiseBufferLen; i++ {
			s := rng.Float64()*2 - 1
			if s < 0 {
				s = -s
			}
			if s > peak {
				peak = s
			}
		}
		if peak == 0 {
			peak = 1
		}
		d.noiseGain = 1 / peak
	})
	return d.noiseGain
}

// buildSpec returns the synthesis envelope for a cue. The envelopes are data,
// not sound: the front-end runs the ramps through its oscillators.
func (d *Dispatcher) buildSpec(id ID) CueSpec {
	switch id {
	case CuePowerUp:
		return CueSpec{
			Name: string(id), Wave: "sine", DurationMs: 450, Gain: 0.5,
			Ramps: []Ramp{{AtMs: 0, Freq: 220, Gain: 0}, {AtMs: 120, Freq: 440, Gain: 0.5}, {AtMs: 450, Freq: 880, Gain: 0}},
		}
	case CueLockOn:
		return CueSpec{
			Name: string(id), Wave: "square", DurationMs: 180, Gain: 0.35,
			Ramps: []Ramp{{AtMs: 0, Freq: 1200, Gain: 0.35}, {AtMs: 90, Freq: 1600, Gain: 0.35}, {AtMs: 180, Freq: 1600, Gain: 0}},
		}
	case CueShutter:
		return CueSpec{
			Name: string(id), Wave: "noise", DurationMs: 120,
			Gain: 0.6 * d.noiseLevel(), NoiseSeed: noiseSeed,
			Ramps: []Ramp{{AtMs: 0, Gain: 0.6}, {AtMs: 120, Gain: 0}},
		}
	case CueScanLoop:
		return CueSpec{
			Name: string(id), Wave: "sawtooth", Loop: true, Gain: 0.18, FadeOutMs: loopFadeMs,
			Ramps: []Ramp{{AtMs: 0, Freq: 80, Gain: 0.18}, {AtMs: 600, Freq: 140, Gain: 0.22}, {AtMs: 1200, Freq: 80, Gain: 0.18}},
		}
	case CuePass:
		return CueSpec{
			Name: string(id), Wave: "sine", DurationMs: 600, Gain: 0.5,
			Ramps: []Ramp{{AtMs: 0, Freq: 523, Gain: 0.5}, {AtMs: 200, Freq: 659, Gain: 0.5}, {AtMs: 400, Freq: 784, Gain: 0.5}, {AtMs: 600, Freq: 784, Gain: 0}},
		}
	case CueBadgeIdentity:
		return CueSpec{
			Name: string(id), Wave: "triangle", DurationMs: 220, Gain: 0.4,
			Ramps: []Ramp{{AtMs: 0, Freq: 880, Gain: 0.4}, {AtMs: 220, Freq: 988, Gain: 0}},
		}
	case CueBadgeWatchlist:
		return CueSpec{
			Name: string(id), Wave: "triangle", DurationMs: 220, Gain: 0.4,
			Ramps: []Ramp{{AtMs: 0, Freq: 988, Gain: 0.4}, {AtMs: 220, Freq: 1175, Gain: 0}},
		}
	case CueRiskScore:
		return CueSpec{
			Name: string(id), Wave: "sine", DurationMs: 500, Gain: 0.45,
			Ramps: []Ramp{{AtMs: 0, Freq: 392, Gain: 0.45}, {AtMs: 250, Freq: 587, Gain: 0.45}, {AtMs: 500, Freq: 587, Gain: 0}},
		}
	case CueDisclosure:
		return CueSpec{
			Name: string(id), Wave: "square", DurationMs: 90, Gain: 0.2,
			Ramps: []Ramp{{AtMs: 0, Freq: 2000, Gain: 0.2}, {AtMs: 90, Freq: 2000, Gain: 0}},
		}
	case CueFinalize:
		return CueSpec{
			Name: string(id), Wave: "sine", DurationMs: 800, Gain: 0.4,
			Ramps: []Ramp{{AtMs: 0, Freq: 440, Gain: 0.4}, {AtMs: 400, Freq: 554, Gain: 0.4}, {AtMs: 800, Freq: 659, Gain: 0}},
		}
	case CueOnboard:
		return CueSpec{
			Name: string(id), Wave: "sine", DurationMs: 350, Gain: 0.5,
			Ramps: []Ramp{{AtMs: 0, Freq: 660, Gain: 0.5}, {AtMs: 350, Freq: 880, Gain: 0}},
		}
	case CueWelcome:
		return CueSpec{
			Name: string(id), Wave: "sine", DurationMs: 900, Gain: 0.55,
			Ramps: []Ramp{{AtMs: 0, Freq: 523, Gain: 0.55}, {AtMs: 300, Freq: 659, Gain: 0.55}, {AtMs: 600, Freq: 1047, Gain: 0.55}, {AtMs: 900, Freq: 1047, Gain: 0}},
		}
	case CueError:
		return CueSpec{
			Name: string(id), Wave: "sawtooth", DurationMs: 700, Gain: 0.5,
			Ramps: []Ramp{{AtMs: 0, Freq: 160, Gain: 0.5}, {AtMs: 350, Freq: 110, Gain: 0.5}, {AtMs: 700, Freq: 110, Gain: 0}},
		}
	case CueCountdown:
		return CueSpec{Name: string(id), Wave: "voice"}
	default:
		return CueSpec{}
	}
}
