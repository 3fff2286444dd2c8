// Package process post-processes raw inference output into a final
// recognition result: validation, uncertainty annotation, reading-order
// sorting, ID assignment, and status classification.
package process

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// DefaultConfidenceThreshold marks the boundary below which elements are
// annotated as uncertain.
const DefaultConfidenceThreshold = 0.7

// Processor cleans, annotates, sorts, and classifies raw elements.
type Processor struct {
	threshold float64
}

// New creates a Processor with the given confidence threshold. A threshold
// outside (0, 1] falls back to the default.
func New(threshold float64) *Processor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &Processor{threshold: threshold}
}

// Process turns raw elements into a final Result. Steps run in order:
// drop invalid elements, annotate low-confidence ones, sort by reading
// order, assign synthetic IDs, classify status.
func (p *Processor) Process(raw []vision.Element, fingerprint, backend string, inferenceMs int64, tier vision.Tier) *vision.Result {
	elements := p.filterInvalid(raw)
	p.annotateUncertain(elements)
	sortByReadingOrder(elements)
	assignIDs(elements)

	return &vision.Result{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		Elements:    elements,
		ModelName:   backend,
		Tier:        tier,
		InferenceMs: inferenceMs,
		Status:      p.classify(elements),
		CreatedAt:   time.Now(),
	}
}

// filterInvalid drops elements with malformed bounding boxes or confidence
// outside [0, 1]. Dropped elements are counted, never propagated.
func (p *Processor) filterInvalid(raw []vision.Element) []vision.Element {
	valid := make([]vision.Element, 0, len(raw))
	dropped := 0

	for i := range raw {
		if err := raw[i].Validate(); err != nil {
			dropped++
			continue
		}
		valid = append(valid, raw[i])
	}

	if dropped > 0 {
		log.Printf("Dropped %d invalid elements", dropped)
	}
	return valid
}

// annotateUncertain marks elements below the threshold without altering
// their text or type.
func (p *Processor) annotateUncertain(elements []vision.Element) {
	for i := range elements {
		if elements[i].Confidence < p.threshold {
			elements[i].Annotate(vision.AnnotationUncertain)
		}
	}
}

// sortByReadingOrder sorts top-to-bottom, then left-to-right.
func sortByReadingOrder(elements []vision.Element) {
	sort.SliceStable(elements, func(i, j int) bool {
		if elements[i].Box.Y1 != elements[j].Box.Y1 {
			return elements[i].Box.Y1 < elements[j].Box.Y1
		}
		return elements[i].Box.X1 < elements[j].Box.X1
	})
}

// assignIDs gives stable synthetic IDs to elements lacking one, numbered in
// final sorted order.
func assignIDs(elements []vision.Element) {
	for i := range elements {
		if elements[i].ID == "" {
			elements[i].ID = fmt.Sprintf("element_%03d", i+1)
		}
	}
}

// classify determines the result status: Failure with no elements, Partial
// when nothing is actionable or mean confidence is below the threshold,
// Success otherwise.
func (p *Processor) classify(elements []vision.Element) vision.Status {
	if len(elements) == 0 {
		return vision.StatusFailure
	}

	actionable := 0
	sum := 0.0
	for i := range elements {
		if elements[i].Actionable {
			actionable++
		}
		sum += elements[i].Confidence
	}

	if actionable == 0 {
		return vision.StatusPartial
	}
	if sum/float64(len(elements)) < p.threshold {
		return vision.StatusPartial
	}
	return vision.StatusSuccess
}

// SpeechText renders an element as screen-reader-friendly text.
func (p *Processor) SpeechText(e *vision.Element) string {
	parts := []string{string(e.Type)}

	if e.Text != "" {
		parts = append(parts, fmt.Sprintf("'%s'", e.Text))
	}

	parts = append(parts, fmt.Sprintf("at position %d, %d", e.Box.CenterX(), e.Box.CenterY()))

	if e.IsUncertain() {
		parts = append(parts, "(uncertain)")
		parts = append(parts, fmt.Sprintf("confidence %.0f%%", e.Confidence*100))
	}

	return strings.Join(parts, " ")
}

// Summary renders a human-readable one-line description of a result.
func (p *Processor) Summary(r *vision.Result) string {
	parts := []string{fmt.Sprintf("Found %d UI elements", r.ElementCount())}

	if n := r.ActionableCount(); n > 0 {
		parts = append(parts, fmt.Sprintf("(%d actionable)", n))
	}

	parts = append(parts, fmt.Sprintf("using %s", r.ModelName))
	parts = append(parts, fmt.Sprintf("in %.1f seconds", float64(r.InferenceMs)/1000.0))

	switch r.Tier {
	case vision.TierGPU:
		parts = append(parts, "on GPU")
	case vision.TierCPU:
		parts = append(parts, "on CPU")
	case vision.TierCloud:
		parts = append(parts, "via cloud API")
	case vision.TierCache:
		parts = append(parts, "from cache")
	}

	return strings.Join(parts, " ")
}
