package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainerrors "gatescan/pkg/domain-errors"
	"gatescan/pkg/platform/circuit"
)

func answerWith(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		require.Len(t, req.Messages[0].Content, 2)
		require.True(t, strings.HasPrefix(req.Messages[0].Content[1].ImageURL.URL, "data:image/jpeg;base64,"))

		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newVision(t *testing.T, endpoint string, opts ...Option) *Vision {
	t.Helper()
	v, err := New(Config{Endpoint: endpoint, Model: "test-vision", Timeout: time.Second}, opts...)
	require.NoError(t, err)
	return v
}

func TestVision_YesAnswer(t *testing.T) {
	srv := answerWith(t, "YES")
	v := newVision(t, srv.URL)

	got, err := v.HasFace(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	require.True(t, got)
}

func TestVision_NoAnswer(t *testing.T) {
	srv := answerWith(t, "no.")
	v := newVision(t, srv.URL)

	got, err := v.HasFace(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	require.False(t, got)
}

func TestVision_UnexpectedAnswerIsFailure(t *testing.T) {
	srv := answerWith(t, "It looks like there might be a face.")
	v := newVision(t, srv.URL)

	_, err := v.HasFace(context.Background(), []byte("jpeg"))
	require.Error(t, err)
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeClassifierFailure))
}

func TestVision_SendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"YES"}}]}`)
	}))
	t.Cleanup(srv.Close)

	v, err := New(Config{Endpoint: srv.URL, APIKey: "secret", Model: "test-vision"})
	require.NoError(t, err)

	_, err = v.HasFace(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", auth)
}

func TestVision_EndpointErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	v := newVision(t, srv.URL)

	_, err := v.HasFace(context.Background(), []byte("jpeg"))
	require.Error(t, err)
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeClassifierFailure))
}

func TestVision_BreakerFailsFastWhenOpen(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	v := newVision(t, srv.URL,
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2))),
		WithProbeInterval(time.Hour))

	for i := 0; i < 2; i++ {
		_, err := v.HasFace(context.Background(), []byte("jpeg"))
		require.Error(t, err)
	}
	require.Equal(t, 2, calls)

	// Circuit is open and the single probe slot was consumed opening it, so
	// further calls never reach the endpoint.
	v.mu.Lock()
	v.lastProbe = time.Now()
	v.mu.Unlock()

	_, err := v.HasFace(context.Background(), []byte("jpeg"))
	require.Error(t, err)
	require.True(t, domainerrors.HasCode(err, domainerrors.CodeClassifierFailure))
	require.Equal(t, 2, calls)
}

func TestVision_BreakerProbeClosesCircuit(t *testing.T) {
	healthy := false
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"YES"}}]}`)
	}))
	t.Cleanup(srv.Close)

	v := newVision(t, srv.URL,
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(1))),
		WithProbeInterval(time.Millisecond))

	_, err := v.HasFace(context.Background(), []byte("jpeg"))
	require.Error(t, err)

	// Endpoint recovers; the next probe closes the circuit again.
	healthy = true
	time.Sleep(5 * time.Millisecond)

	got, err := v.HasFace(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	require.True(t, got)
	require.True(t, v.breaker.Allow())
}

func TestNew_RequiresEndpointAndModel(t *testing.T) {
	_, err := New(Config{Model: "test-vision"})
	require.Error(t, err)

	_, err = New(Config{Endpoint: "http://localhost"})
	require.Error(t, err)
}

func TestParseAnswer(t *testing.T) {
	cases := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{in: "YES", want: true},
		{in: "yes", want: true},
		{in: " Yes.\n", want: true},
		{in: "NO", want: false},
		{in: "No!", want: false},
		{in: "maybe", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseAnswer(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}
