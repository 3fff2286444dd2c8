// Package capture provides screenshot acquisition and content fingerprinting
// for the recognition pipeline.
package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Minimum dimensions for a usable screenshot.
const (
	MinWidth  = 100
	MinHeight = 100
)

// Source labels for captured screenshots.
const (
	SourceActiveWindow = "active_window"
	SourceFullScreen   = "full_screen"
	SourceFile         = "file"
)

// ErrScreenshotTooSmall is returned when a captured image is below the
// minimum usable dimensions.
var ErrScreenshotTooSmall = errors.New("screenshot below minimum dimensions")

// Screenshot is a captured screen image with its content fingerprint.
// Two screenshots with identical pixel data always share a fingerprint.
type Screenshot struct {
	Fingerprint string
	Data        []byte // encoded image bytes (PNG or JPEG)
	Width       int
	Height      int
	Source      string
	CapturedAt  time.Time
}

// Fingerprint computes the deterministic content hash for an image: the hex
// SHA-256 of the encoded pixel data followed by the dimensions.
func Fingerprint(data []byte, width, height int) string {
	h := sha256.New()
	h.Write(data)
	fmt.Fprintf(h, "%dx%d", width, height)
	return hex.EncodeToString(h.Sum(nil))
}

// NewScreenshot builds a fingerprinted Screenshot from encoded image bytes.
// Returns ErrScreenshotTooSmall if the dimensions are below the minimum.
func NewScreenshot(data []byte, width, height int, source string) (*Screenshot, error) {
	if width < MinWidth || height < MinHeight {
		return nil, fmt.Errorf("%w: %dx%d", ErrScreenshotTooSmall, width, height)
	}
	return &Screenshot{
		Fingerprint: Fingerprint(data, width, height),
		Data:        data,
		Width:       width,
		Height:      height,
		Source:      source,
		CapturedAt:  time.Now(),
	}, nil
}

// Capturer produces fingerprinted screenshots for the pipeline.
type Capturer interface {
	Capture() (*Screenshot, error)
}
