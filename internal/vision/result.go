package vision

import "time"

// Tier identifies which class of backend satisfied a recognition request.
type Tier string

const (
	// TierGPU means the result came from the accelerated local model.
	TierGPU Tier = "gpu"
	// TierCPU means the result came from a CPU-resident local model.
	TierCPU Tier = "cpu"
	// TierCloud means the result came from the remote cloud API.
	TierCloud Tier = "cloud_api"
	// TierCache means the result was served from the persistent cache.
	TierCache Tier = "cache"
	// TierNone is the sentinel tier for a request no backend could satisfy.
	TierNone Tier = "none"
)

// Status classifies the overall quality of a recognition result.
type Status string

const (
	// StatusSuccess means actionable elements were found with good confidence.
	StatusSuccess Status = "success"
	// StatusPartial means elements were found but none are actionable or the
	// mean confidence fell below the threshold.
	StatusPartial Status = "partial_success"
	// StatusFailure means no valid elements survived processing.
	StatusFailure Status = "failure"
)

// Result is a processed recognition result for one screenshot.
type Result struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Elements    []Element `json:"elements"`
	ModelName   string    `json:"model_name"`
	Tier        Tier      `json:"tier"`
	InferenceMs int64     `json:"inference_ms"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// ElementCount returns the number of elements in the result.
func (r *Result) ElementCount() int {
	return len(r.Elements)
}

// ActionableCount returns the number of actionable elements.
func (r *Result) ActionableCount() int {
	n := 0
	for i := range r.Elements {
		if r.Elements[i].Actionable {
			n++
		}
	}
	return n
}

// AverageConfidence returns the mean confidence across all elements, or 0 for
// an empty result.
func (r *Result) AverageConfidence() float64 {
	if len(r.Elements) == 0 {
		return 0.0
	}
	sum := 0.0
	for i := range r.Elements {
		sum += r.Elements[i].Confidence
	}
	return sum / float64(len(r.Elements))
}
