package capture

import (
	"fmt"

	"gocv.io/x/gocv"
)

// FileCapturer reads screenshots from image files on disk. It backs the
// "file" capture source used by the CLI and by tests.
type FileCapturer struct {
	path string
}

// NewFileCapturer creates a Capturer that reads the image at path.
func NewFileCapturer(path string) *FileCapturer {
	return &FileCapturer{path: path}
}

// Capture loads and fingerprints the image file.
func (c *FileCapturer) Capture() (*Screenshot, error) {
	mat := gocv.IMRead(c.path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to read image: %s", c.path)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(".png", mat)
	if err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	return NewScreenshot(data, mat.Cols(), mat.Rows(), SourceFile)
}
