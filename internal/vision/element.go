// Package vision defines the core data types for the NVDA Vision recognition
// pipeline: UI elements, bounding boxes, and recognition results.
package vision

import (
	"errors"
	"fmt"
)

// ErrInvalidBoundingBox is returned when bounding box coordinates are not strictly ordered.
var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// ErrInvalidConfidence is returned when a confidence value falls outside [0, 1].
var ErrInvalidConfidence = errors.New("confidence out of range")

// ElementType classifies a detected UI element.
type ElementType string

// Interactive element types.
const (
	TypeButton   ElementType = "button"
	TypeLink     ElementType = "link"
	TypeTextbox  ElementType = "textbox"
	TypeDropdown ElementType = "dropdown"
	TypeCheckbox ElementType = "checkbox"
	TypeRadio    ElementType = "radio"
)

// Display element types.
const (
	TypeText    ElementType = "text"
	TypeIcon    ElementType = "icon"
	TypeImage   ElementType = "image"
	TypeLabel   ElementType = "label"
	TypeTooltip ElementType = "tooltip"
)

// Container element types.
const (
	TypeDialog ElementType = "dialog"
	TypePanel  ElementType = "panel"
	TypeMenu   ElementType = "menu"
	TypeList   ElementType = "list"
	TypeTable  ElementType = "table"
)

var interactiveTypes = map[ElementType]bool{
	TypeButton: true, TypeLink: true, TypeTextbox: true,
	TypeDropdown: true, TypeCheckbox: true, TypeRadio: true,
}

var containerTypes = map[ElementType]bool{
	TypeDialog: true, TypePanel: true, TypeMenu: true,
	TypeList: true, TypeTable: true,
}

// IsInteractive reports whether the element type can be interacted with.
func (t ElementType) IsInteractive() bool {
	return interactiveTypes[t]
}

// IsContainer reports whether the element type groups other elements.
func (t ElementType) IsContainer() bool {
	return containerTypes[t]
}

// BoundingBox is a screen-coordinate rectangle with strictly ordered corners
// (X1 < X2, Y1 < Y2).
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// NewBoundingBox creates a BoundingBox, returning an error if the coordinates
// are not strictly ordered.
func NewBoundingBox(x1, y1, x2, y2 int) (BoundingBox, error) {
	b := BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Validate checks that the box coordinates are strictly ordered.
func (b BoundingBox) Validate() error {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return fmt.Errorf("%w: [%d %d %d %d]", ErrInvalidBoundingBox, b.X1, b.Y1, b.X2, b.Y2)
	}
	return nil
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() int {
	return b.X2 - b.X1
}

// Height returns the box height in pixels.
func (b BoundingBox) Height() int {
	return b.Y2 - b.Y1
}

// CenterX returns the horizontal center of the box.
func (b BoundingBox) CenterX() int {
	return (b.X1 + b.X2) / 2
}

// CenterY returns the vertical center of the box.
func (b BoundingBox) CenterY() int {
	return (b.Y1 + b.Y2) / 2
}

// AnnotationUncertain marks an element whose confidence fell below the
// configured threshold.
const AnnotationUncertain = "uncertain"

// Element represents a UI element detected in a screenshot.
type Element struct {
	ID          string      `json:"id,omitempty"`
	Type        ElementType `json:"type"`
	Text        string      `json:"text"`
	Box         BoundingBox `json:"box"`
	Confidence  float64     `json:"confidence"`
	Actionable  bool        `json:"actionable"`
	ParentID    string      `json:"parent_id,omitempty"`
	Annotations []string    `json:"annotations,omitempty"`
}

// Validate checks the element invariants: strictly ordered bounding box and
// confidence within [0, 1].
func (e *Element) Validate() error {
	if err := e.Box.Validate(); err != nil {
		return err
	}
	if e.Confidence < 0.0 || e.Confidence > 1.0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfidence, e.Confidence)
	}
	return nil
}

// Annotate appends an annotation if the element does not already carry it.
func (e *Element) Annotate(annotation string) {
	for _, a := range e.Annotations {
		if a == annotation {
			return
		}
	}
	e.Annotations = append(e.Annotations, annotation)
}

// IsUncertain reports whether the element carries the uncertain annotation.
func (e *Element) IsUncertain() bool {
	for _, a := range e.Annotations {
		if a == AnnotationUncertain {
			return true
		}
	}
	return false
}
