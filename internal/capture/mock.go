package capture

// MockCapturer is a test implementation of the Capturer interface.
// It allows tests to control the captured screenshot.
type MockCapturer struct {
	shot *Screenshot
	err  error
}

// NewMockCapturer creates a new MockCapturer instance.
func NewMockCapturer() *MockCapturer {
	return &MockCapturer{}
}

// SetScreenshot sets the screenshot that will be returned by Capture.
func (m *MockCapturer) SetScreenshot(shot *Screenshot) {
	m.shot = shot
}

// SetError sets the error that will be returned by Capture.
func (m *MockCapturer) SetError(err error) {
	m.err = err
}

// Capture returns the pre-configured screenshot or error.
func (m *MockCapturer) Capture() (*Screenshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.shot, nil
}
