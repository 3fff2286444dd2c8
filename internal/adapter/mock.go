package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// Mock is a test implementation of the Adapter interface.
// It allows tests to control inference results, errors, and latency.
type Mock struct {
	mu         sync.Mutex
	descriptor Descriptor
	elements   []vision.Element
	inferErr   error
	loadErr    error
	delay      time.Duration
	loadCount  int
	inferCount int
}

// NewMock creates a mock adapter with the given descriptor.
func NewMock(descriptor Descriptor) *Mock {
	return &Mock{descriptor: descriptor}
}

// SetElements sets the elements that will be returned by Infer.
func (m *Mock) SetElements(elements []vision.Element) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elements = elements
}

// SetInferError sets the error that will be returned by Infer.
func (m *Mock) SetInferError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferErr = err
}

// SetLoadError sets the error that will be returned by Load.
func (m *Mock) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// SetDelay makes Infer sleep before returning, to simulate slow inference.
func (m *Mock) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// LoadCount returns the number of times Load was called.
func (m *Mock) LoadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCount
}

// InferCount returns the number of times Infer was called.
func (m *Mock) InferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inferCount
}

// Load returns the pre-configured load error, if any.
func (m *Mock) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCount++
	return m.loadErr
}

// Infer returns the pre-configured elements or error, honoring the configured
// delay against both the timeout and ctx.
func (m *Mock) Infer(ctx context.Context, shot *capture.Screenshot, timeout time.Duration) ([]vision.Element, error) {
	m.mu.Lock()
	m.inferCount++
	elements := m.elements
	inferErr := m.inferErr
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		if delay > timeout {
			select {
			case <-time.After(timeout):
				return nil, ErrTimeout
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if inferErr != nil {
		return nil, inferErr
	}
	return elements, nil
}

// Unload is a no-op for the mock adapter.
func (m *Mock) Unload() error {
	return nil
}

// Descriptor returns the adapter's static capability metadata.
func (m *Mock) Descriptor() Descriptor {
	return m.descriptor
}
