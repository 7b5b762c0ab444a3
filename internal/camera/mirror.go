package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// mirrorQuality is the JPEG quality used for capture artifacts.
const mirrorQuality = 90

// MirrorJPEG decodes a JPEG frame, flips it horizontally, and re-encodes it.
// The stored capture must match what the user saw on screen, not the sensor's
// raw orientation.
func MirrorJPEG(src []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	mirrored := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			mirrored.Set(bounds.Max.X-1-(x-bounds.Min.X), y, img.At(x, y))
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, mirrored, &jpeg.Options{Quality: mirrorQuality}); err != nil {
		return nil, fmt.Errorf("encode capture: %w", err)
	}
	return buf.Bytes(), nil
}
