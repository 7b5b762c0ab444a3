package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
)

// Synthetic is a generated test-pattern frame source. It stands in for a real
// camera in demo mode and in tests; acquisition always succeeds immediately.
//
// The pattern is a dark field with a bright marker block on the left edge so
// mirroring is observable in the capture artifact.
type Synthetic struct {
	mu       sync.Mutex
	width    int
	height   int
	frame    Frame
	acquired bool
}

// NewSynthetic creates a synthetic source producing frames of the given size.
func NewSynthetic(width, height int) (*Synthetic, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("synthetic source requires positive dimensions, got %dx%d", width, height)
	}
	return &Synthetic{width: width, height: height}, nil
}

// Acquire marks the source as held. The first frame is rendered eagerly so
// callers see a live feed right away.
func (s *Synthetic) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame.JPEG == nil {
		frame, err := renderPattern(s.width, s.height)
		if err != nil {
			return err
		}
		s.frame = frame
	}
	s.acquired = true
	return nil
}

// Frame returns the current test pattern. ok is false until Acquire succeeds.
func (s *Synthetic) Frame() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired {
		return Frame{}, false
	}
	return s.frame, true
}

// Release drops the hold on the source.
func (s *Synthetic) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired = false
}

// Active reports whether the source is currently held.
func (s *Synthetic) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// renderPattern draws the test pattern: dark background, white marker block
// occupying the left tenth of the frame at mid-height.
func renderPattern(width, height int) (Frame, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{R: 16, G: 20, B: 28, A: 255}
	marker := color.RGBA{R: 240, G: 240, B: 240, A: 255}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, bg)
		}
	}
	markerW := width / 10
	for y := height / 3; y < 2*height/3; y++ {
		for x := 0; x < markerW; x++ {
			img.Set(x, y, marker)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: mirrorQuality}); err != nil {
		return Frame{}, fmt.Errorf("encode pattern: %w", err)
	}
	return Frame{JPEG: buf.Bytes(), Width: width, Height: height}, nil
}
