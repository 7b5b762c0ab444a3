package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// deniedMessage is the text frame a feed client sends when the user refused
// camera access in the browser.
const deniedMessage = "denied"

// releaseMessage is the text frame sent to the feed client so it can stop the
// hardware camera before we close the socket.
const releaseMessage = "release"

// Feed is the production frame source: the kiosk front-end opens a WebSocket
// and pushes JPEG frames as binary messages. The controller owns acquisition
// and release; at most one feed client is attached at a time.
type Feed struct {
	logger         *slog.Logger
	acquireTimeout time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	frame    Frame
	hasFrame bool
	acquired bool
	denied   bool
	waiters  []chan error
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithFeedLogger overrides the logger used for feed lifecycle events.
func WithFeedLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithAcquireTimeout bounds how long Acquire waits for a client and a first
// frame. Default is 10 seconds.
func WithAcquireTimeout(d time.Duration) FeedOption {
	return func(f *Feed) {
		if d > 0 {
			f.acquireTimeout = d
		}
	}
}

// NewFeed creates an empty feed awaiting a client connection.
func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		logger:         slog.Default(),
		acquireTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Attach binds a feed client connection and consumes its frames until the
// connection drops. It blocks, so the HTTP handler should call it directly
// from the upgraded request goroutine. Only one client may be attached.
func (f *Feed) Attach(conn *websocket.Conn) error {
	f.mu.Lock()
	if f.conn != nil {
		f.mu.Unlock()
		conn.Close()
		return fmt.Errorf("feed client already attached")
	}
	f.conn = conn
	f.denied = false
	f.mu.Unlock()

	f.logger.Info("camera feed attached", "remote_addr", conn.RemoteAddr().String())
	f.readLoop(conn)
	return nil
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			f.detach(conn)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			f.storeFrame(payload)
		case websocket.TextMessage:
			if string(payload) == deniedMessage {
				f.reportDenied()
			}
		}
	}
}

func (f *Feed) storeFrame(payload []byte) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(payload))
	if err != nil {
		f.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	f.mu.Lock()
	first := !f.hasFrame
	f.frame = Frame{JPEG: payload, Width: cfg.Width, Height: cfg.Height}
	f.hasFrame = true
	// A live frame proves the permission was granted after all; without this
	// a client that recovered from a refusal could never be acquired again.
	f.denied = false
	var waiters []chan error
	if first {
		waiters = f.waiters
		f.waiters = nil
	}
	f.mu.Unlock()

	for _, w := range waiters {
		w <- nil
	}
}

func (f *Feed) reportDenied() {
	f.mu.Lock()
	f.denied = true
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, w := range waiters {
		w <- ErrPermissionDenied
	}
}

func (f *Feed) detach(conn *websocket.Conn) {
	f.mu.Lock()
	if f.conn == conn {
		f.conn = nil
		f.hasFrame = false
	}
	f.mu.Unlock()
	conn.Close()
	f.logger.Info("camera feed detached")
}

// Acquire waits for an attached client to deliver its first frame. It fails
// with ErrPermissionDenied when the client reports a refusal and ErrNoDevice
// when the acquisition window elapses without a live frame.
func (f *Feed) Acquire(ctx context.Context) error {
	f.mu.Lock()
	if f.denied {
		f.mu.Unlock()
		return ErrPermissionDenied
	}
	if f.hasFrame {
		f.acquired = true
		f.mu.Unlock()
		return nil
	}
	ready := make(chan error, 1)
	f.waiters = append(f.waiters, ready)
	f.mu.Unlock()

	select {
	case err := <-ready:
		if err != nil {
			return err
		}
		f.mu.Lock()
		f.acquired = true
		f.mu.Unlock()
		return nil
	case <-ctx.Done():
		f.removeWaiter(ready)
		return ErrReleased
	case <-time.After(f.acquireTimeout):
		f.removeWaiter(ready)
		return ErrNoDevice
	}
}

func (f *Feed) removeWaiter(target chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.waiters {
		if w == target {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

// Frame returns the latest frame pushed by the client.
func (f *Feed) Frame() (Frame, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.hasFrame {
		return Frame{}, false
	}
	return f.frame, true
}

// Release drops the hold, tells the client to stop its camera, and closes the
// connection. A dangling hardware stream on the client is the leak this must
// prevent.
func (f *Feed) Release() {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.hasFrame = false
	f.acquired = false
	f.denied = false
	f.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		if err := conn.SetWriteDeadline(deadline); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(releaseMessage))
		}
		conn.Close()
	}
}

// Active reports whether the feed is currently held by the controller.
func (f *Feed) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}
