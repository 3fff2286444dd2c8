// Package testdata provides canned screens and element sets shared by tests.
package testdata

import (
	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// Screenshot builds a valid screenshot whose fingerprint is derived from the
// given content string.
func Screenshot(content string) (*capture.Screenshot, error) {
	return capture.NewScreenshot([]byte(content), 1024, 768, capture.SourceActiveWindow)
}

// DialogElements returns the raw detections for a typical confirmation
// dialog, in no particular order, the way a model would emit them.
func DialogElements() []vision.Element {
	return []vision.Element{
		{
			Type:       vision.TypeButton,
			Text:       "Cancel",
			Box:        vision.BoundingBox{X1: 540, Y1: 400, X2: 620, Y2: 430},
			Confidence: 0.94,
			Actionable: true,
		},
		{
			Type:       vision.TypeDialog,
			Text:       "Confirm Delete",
			Box:        vision.BoundingBox{X1: 300, Y1: 200, X2: 700, Y2: 450},
			Confidence: 0.97,
		},
		{
			Type:       vision.TypeButton,
			Text:       "Delete",
			Box:        vision.BoundingBox{X1: 430, Y1: 400, X2: 520, Y2: 430},
			Confidence: 0.95,
			Actionable: true,
		},
		{
			Type:       vision.TypeText,
			Text:       "Are you sure you want to delete this file?",
			Box:        vision.BoundingBox{X1: 330, Y1: 260, X2: 670, Y2: 290},
			Confidence: 0.91,
		},
		{
			Type:       vision.TypeCheckbox,
			Text:       "Don't ask again",
			Box:        vision.BoundingBox{X1: 330, Y1: 330, X2: 480, Y2: 355},
			Confidence: 0.62,
			Actionable: true,
		},
	}
}

// ServiceReply is a JSON line a local model service would write for the
// dialog screen, matching the subprocess wire format.
const ServiceReply = `{"elements": [` +
	`{"type": "dialog", "text": "Confirm Delete", "bbox": [300, 200, 700, 450], "confidence": 0.97, "actionable": false},` +
	`{"type": "button", "text": "Delete", "bbox": [430, 400, 520, 430], "confidence": 0.95, "actionable": true},` +
	`{"type": "button", "text": "Cancel", "bbox": [540, 400, 620, 430], "confidence": 0.94, "actionable": true}` +
	`]}`
