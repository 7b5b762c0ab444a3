// Package classifier answers the one question the scan controller asks about
// a frame: is there a face in it. The Vision client delegates the judgement
// to an OpenAI-compatible vision endpoint and normalizes whatever comes back
// to a strict yes or no.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domainerrors "gatescan/pkg/domain-errors"
	"gatescan/pkg/platform/circuit"
)

// prompt pins the model to a one-word answer. Anything outside YES/NO is
// treated as a classifier failure rather than guessed at.
const prompt = "Does this image contain a clearly visible human face? " +
	"Answer with exactly one word: YES or NO."

const (
	defaultTimeout       = 10 * time.Second
	defaultProbeInterval = 30 * time.Second
	maxAnswerTokens      = 4
)

// Config holds the endpoint parameters for the vision client.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Vision is an HTTP face-presence classifier. A circuit breaker guards the
// endpoint: after consecutive failures the client fails fast, probing the
// endpoint again at most once per probe interval.
type Vision struct {
	endpoint string
	apiKey   string
	model    string

	httpClient    *http.Client
	logger        *slog.Logger
	tracer        trace.Tracer
	breaker       *circuit.Breaker
	probeInterval time.Duration

	mu        sync.Mutex
	lastProbe time.Time
}

// Option configures the vision client.
type Option func(*Vision)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(v *Vision) {
		if client != nil {
			v.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vision) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithTracer overrides the OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(v *Vision) {
		if tracer != nil {
			v.tracer = tracer
		}
	}
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(breaker *circuit.Breaker) Option {
	return func(v *Vision) {
		if breaker != nil {
			v.breaker = breaker
		}
	}
}

// WithProbeInterval sets how often an open circuit lets one probe through.
func WithProbeInterval(d time.Duration) Option {
	return func(v *Vision) {
		if d > 0 {
			v.probeInterval = d
		}
	}
}

// New builds a vision classifier for the given endpoint.
func New(cfg Config, opts ...Option) (*Vision, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("classifier: endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("classifier: model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	v := &Vision{
		endpoint:      cfg.Endpoint,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:        otel.Tracer("gatescan/classifier"),
		breaker:       circuit.New("vision_classifier"),
		probeInterval: defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// chatRequest is the OpenAI-compatible chat completion payload with one
// multimodal user message.
type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// HasFace reports whether the JPEG frame contains a visible face. Transport
// errors, non-2xx responses, and answers outside YES/NO all surface as
// classifier failures.
func (v *Vision) HasFace(ctx context.Context, jpegFrame []byte) (bool, error) {
	if !v.allow() {
		return false, domainerrors.New(domainerrors.CodeClassifierFailure,
			"classifier circuit open")
	}

	ctx, span := v.tracer.Start(ctx, "classifier.HasFace",
		trace.WithAttributes(
			attribute.String("classifier.model", v.model),
			attribute.Int("classifier.frame_bytes", len(jpegFrame)),
		))
	defer span.End()

	answer, err := v.ask(ctx, jpegFrame)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if opened := v.breaker.RecordFailure(); opened {
			v.logger.ErrorContext(ctx, "classifier circuit opened",
				"circuit", v.breaker.Name(), "error", err)
		}
		return false, err
	}

	if closed := v.breaker.RecordSuccess(); closed {
		v.logger.InfoContext(ctx, "classifier circuit closed",
			"circuit", v.breaker.Name())
	}
	span.SetAttributes(attribute.Bool("classifier.face", answer))
	return answer, nil
}

// allow asks the breaker whether a call may proceed, letting one probe
// through per probe interval while the circuit is open.
func (v *Vision) allow() bool {
	if v.breaker.Allow() {
		return true
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if time.Since(v.lastProbe) < v.probeInterval {
		return false
	}
	v.lastProbe = time.Now()
	return true
}

func (v *Vision) ask(ctx context.Context, jpegFrame []byte) (bool, error) {
	payload := chatRequest{
		Model:     v.model,
		MaxTokens: maxAnswerTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegFrame),
				}},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, domainerrors.Wrap(err, domainerrors.CodeClassifierFailure,
			"encode classifier request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, domainerrors.Wrap(err, domainerrors.CodeClassifierFailure,
			"build classifier request")
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, domainerrors.Wrap(err, domainerrors.CodeClassifierFailure,
			"call classifier endpoint")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, domainerrors.Wrap(err, domainerrors.CodeClassifierFailure,
			"read classifier response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, domainerrors.New(domainerrors.CodeClassifierFailure,
			fmt.Sprintf("classifier endpoint returned %d", resp.StatusCode))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false, domainerrors.Wrap(err, domainerrors.CodeClassifierFailure,
			"decode classifier response")
	}
	if decoded.Error != nil {
		return false, domainerrors.New(domainerrors.CodeClassifierFailure,
			"classifier endpoint error: "+decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return false, domainerrors.New(domainerrors.CodeClassifierFailure,
			"classifier returned no choices")
	}

	return parseAnswer(decoded.Choices[0].Message.Content)
}

// parseAnswer normalizes the model output to a strict yes or no. Models
// occasionally append punctuation; anything beyond that is a failure.
func parseAnswer(content string) (bool, error) {
	normalized := strings.ToUpper(strings.TrimSpace(content))
	normalized = strings.TrimRight(normalized, ".!")
	switch normalized {
	case "YES":
		return true, nil
	case "NO":
		return false, nil
	}
	return false, domainerrors.New(domainerrors.CodeClassifierFailure,
		fmt.Sprintf("unexpected classifier answer %q", content))
}
