// Package camera provides the kiosk's frame sources: a WebSocket-fed live
// feed pushed by the kiosk front-end and a synthetic test-pattern source for
// demo mode. It also owns capture-artifact encoding (mirrored JPEG).
package camera

import "errors"

// Frame is a single still from a frame source. JPEG holds the encoded image,
// Width and Height are the source dimensions in pixels.
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
}

// Sentinel errors returned by frame sources. Callers translate them into
// domain errors exactly once.
var (
	// ErrPermissionDenied is reported when the feed client signals that the
	// user refused camera access.
	ErrPermissionDenied = errors.New("camera permission denied")

	// ErrNoDevice is reported when no feed client attached within the
	// acquisition window.
	ErrNoDevice = errors.New("no camera device attached")

	// ErrReleased is reported when the source was released while a caller
	// was still waiting on it.
	ErrReleased = errors.New("camera released")
)
