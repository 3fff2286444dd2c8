// Package adapter defines the backend contract for vision model inference and
// its implementations: local model subprocesses, the cloud API, and a mock
// for testing.
package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// ErrTimeout is returned when an inference attempt exceeds its timeout.
// Timeout enforcement is cooperative: a backend already mid-inference is not
// preempted, only abandoned.
var ErrTimeout = errors.New("inference timed out")

// ErrNotLoaded is returned when Infer is called before a successful Load.
var ErrNotLoaded = errors.New("adapter not loaded")

// Descriptor is static capability metadata for an adapter, used for
// selection and ordering. It is never persisted.
type Descriptor struct {
	Name        string
	Tier        vision.Tier
	RequiresGPU bool
	MinVRAMGB   float64
	MinRAMGB    float64
}

// Adapter is the capability set every inference backend provides.
// The orchestrator depends only on this interface.
type Adapter interface {
	// Load prepares the backend for inference (model load, process start).
	Load() error

	// Infer analyzes a screenshot and returns the detected UI elements.
	// The timeout bounds this single attempt; cancellation via ctx is
	// cooperative and checked between protocol steps, not mid-computation.
	Infer(ctx context.Context, shot *capture.Screenshot, timeout time.Duration) ([]vision.Element, error)

	// Unload releases backend resources.
	Unload() error

	// Descriptor returns the adapter's static capability metadata.
	Descriptor() Descriptor
}

// jsonElement is the wire format local model services and the cloud API use
// for detected elements.
type jsonElement struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	BBox       [4]int  `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Actionable bool    `json:"actionable"`
	ParentID   string  `json:"parent_id,omitempty"`
}

func (e jsonElement) toElement() vision.Element {
	return vision.Element{
		Type: vision.ElementType(e.Type),
		Text: e.Text,
		Box: vision.BoundingBox{
			X1: e.BBox[0], Y1: e.BBox[1],
			X2: e.BBox[2], Y2: e.BBox[3],
		},
		Confidence: e.Confidence,
		Actionable: e.Actionable,
		ParentID:   e.ParentID,
	}
}

func toElements(raw []jsonElement) []vision.Element {
	elements := make([]vision.Element, len(raw))
	for i, e := range raw {
		elements[i] = e.toElement()
	}
	return elements
}
