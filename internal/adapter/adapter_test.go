package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

func testShot(t *testing.T) *capture.Screenshot {
	t.Helper()

	shot, err := capture.NewScreenshot([]byte("pixels"), 800, 600, capture.SourceActiveWindow)
	if err != nil {
		t.Fatalf("NewScreenshot() error = %v", err)
	}
	return shot
}

func TestJSONElement_ToElement(t *testing.T) {
	raw := `{"type": "button", "text": "Submit", "bbox": [10, 20, 110, 60], "confidence": 0.87, "actionable": true, "parent_id": "element_004"}`

	var je jsonElement
	if err := json.Unmarshal([]byte(raw), &je); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}

	e := je.toElement()
	if e.Type != vision.TypeButton {
		t.Errorf("Type = %q, want %q", e.Type, vision.TypeButton)
	}
	if e.Text != "Submit" {
		t.Errorf("Text = %q, want Submit", e.Text)
	}
	if e.Box != (vision.BoundingBox{X1: 10, Y1: 20, X2: 110, Y2: 60}) {
		t.Errorf("Box = %+v, want [10 20 110 60]", e.Box)
	}
	if e.Confidence != 0.87 {
		t.Errorf("Confidence = %v, want 0.87", e.Confidence)
	}
	if !e.Actionable {
		t.Error("Actionable = false, want true")
	}
	if e.ParentID != "element_004" {
		t.Errorf("ParentID = %q, want element_004", e.ParentID)
	}
}

func TestParseCloudResponse(t *testing.T) {
	payload := `{"elements": [{"type": "button", "text": "OK", "bbox": [1, 2, 3, 4], "confidence": 0.9, "actionable": true}]}`

	tests := []struct {
		name    string
		content string
	}{
		{"bare json", payload},
		{"json fence", "```json\n" + payload + "\n```"},
		{"plain fence", "```\n" + payload + "\n```"},
		{"surrounding whitespace", "\n  " + payload + "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elements, err := parseCloudResponse(tt.content)
			if err != nil {
				t.Fatalf("parseCloudResponse() error = %v", err)
			}
			if len(elements) != 1 {
				t.Fatalf("elements = %d, want 1", len(elements))
			}
			if elements[0].Type != vision.TypeButton || elements[0].Text != "OK" {
				t.Errorf("element = %+v, want button OK", elements[0])
			}
		})
	}
}

func TestParseCloudResponse_Invalid(t *testing.T) {
	if _, err := parseCloudResponse("I could not identify any elements."); err == nil {
		t.Error("prose reply should fail to parse")
	}
}

func TestParseCloudResponse_EmptyElements(t *testing.T) {
	elements, err := parseCloudResponse(`{"elements": []}`)
	if err != nil {
		t.Fatalf("parseCloudResponse() error = %v", err)
	}
	if len(elements) != 0 {
		t.Errorf("elements = %d, want 0", len(elements))
	}
}

func TestCloud_LoadRequiresAPIKey(t *testing.T) {
	c := NewCloud(CloudConfig{})
	if err := c.Load(); err == nil {
		t.Error("Load() without an API key should fail")
	}

	c = NewCloud(CloudConfig{APIKey: "test-key"})
	if err := c.Load(); err != nil {
		t.Errorf("Load() with an API key error = %v", err)
	}
}

func TestCloud_DescriptorDefaults(t *testing.T) {
	c := NewCloud(CloudConfig{APIKey: "test-key"})

	d := c.Descriptor()
	if d.Name != DefaultCloudModel {
		t.Errorf("Name = %q, want %q", d.Name, DefaultCloudModel)
	}
	if d.Tier != vision.TierCloud {
		t.Errorf("Tier = %q, want %q", d.Tier, vision.TierCloud)
	}
}

func TestMock_InferReturnsConfiguredElements(t *testing.T) {
	m := NewMock(Descriptor{Name: "mock", Tier: vision.TierCPU})
	want := []vision.Element{{Type: vision.TypeButton, Confidence: 0.9}}
	m.SetElements(want)

	got, err := m.Infer(context.Background(), testShot(t), time.Second)
	if err != nil {
		t.Fatalf("Infer() error = %v", err)
	}
	if len(got) != 1 || got[0].Type != vision.TypeButton {
		t.Errorf("Infer() = %+v, want configured elements", got)
	}
	if m.InferCount() != 1 {
		t.Errorf("InferCount() = %d, want 1", m.InferCount())
	}
}

func TestMock_DelayBeyondTimeout(t *testing.T) {
	m := NewMock(Descriptor{Name: "mock", Tier: vision.TierCPU})
	m.SetDelay(time.Second)

	start := time.Now()
	_, err := m.Infer(context.Background(), testShot(t), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Infer() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Infer() took %s, should give up at the timeout", elapsed)
	}
}

func TestMock_HonorsContext(t *testing.T) {
	m := NewMock(Descriptor{Name: "mock", Tier: vision.TierCPU})
	m.SetDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := m.Infer(ctx, testShot(t), 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Infer() error = %v, want context.Canceled", err)
	}
}
