package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/adapter"
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

func testElements() []vision.Element {
	return []vision.Element{
		{
			Type:       vision.TypeButton,
			Text:       "OK",
			Box:        vision.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 30},
			Confidence: 0.9,
			Actionable: true,
		},
	}
}

func gpuMock() *adapter.Mock {
	return adapter.NewMock(adapter.Descriptor{Name: "uitars-7b", Tier: vision.TierGPU})
}

func cpuMock() *adapter.Mock {
	return adapter.NewMock(adapter.Descriptor{Name: "minicpm-v-2.6", Tier: vision.TierCPU})
}

func cloudMock() *adapter.Mock {
	return adapter.NewMock(adapter.Descriptor{Name: "doubao-vision-pro", Tier: vision.TierCloud})
}

func TestRun_PrimarySucceeds(t *testing.T) {
	primary := gpuMock()
	primary.SetElements(testElements())
	backup := cpuMock()

	e := New(Config{Primary: primary, Backups: []adapter.Adapter{backup}})

	out, err := e.Run(context.Background(), testShot(t), time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.Tier != vision.TierGPU {
		t.Errorf("Tier = %q, want %q", out.Tier, vision.TierGPU)
	}
	if out.Backend != "uitars-7b" {
		t.Errorf("Backend = %q, want uitars-7b", out.Backend)
	}
	if len(out.Elements) != 1 {
		t.Errorf("Elements = %d, want 1", len(out.Elements))
	}
	if backup.InferCount() != 0 {
		t.Error("backup should not be tried when primary succeeds")
	}
}

func TestRun_FallsBackToBackup(t *testing.T) {
	primary := gpuMock()
	primary.SetInferError(errors.New("out of memory"))
	backup := cpuMock()
	backup.SetElements(testElements())
	cloud := cloudMock()

	e := New(Config{
		Primary:     primary,
		Backups:     []adapter.Adapter{backup},
		Cloud:       cloud,
		EnableCloud: true,
		Consent:     func() bool { return true },
	})

	out, err := e.Run(context.Background(), testShot(t), time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.Tier != vision.TierCPU {
		t.Errorf("Tier = %q, want %q", out.Tier, vision.TierCPU)
	}
	if out.Backend != "minicpm-v-2.6" {
		t.Errorf("Backend = %q, want minicpm-v-2.6", out.Backend)
	}
	if cloud.InferCount() != 0 {
		t.Error("cloud should not be tried when a backup succeeds")
	}

	stats := e.Stats()
	if stats.Fallbacks != 1 {
		t.Errorf("Fallbacks = %d, want 1", stats.Fallbacks)
	}
}

func TestRun_CloudAfterLocalsFail(t *testing.T) {
	primary := gpuMock()
	primary.SetInferError(errors.New("crashed"))
	backup := cpuMock()
	backup.SetInferError(errors.New("crashed"))
	cloud := cloudMock()
	cloud.SetElements(testElements())

	consentCalls := 0
	e := New(Config{
		Primary:     primary,
		Backups:     []adapter.Adapter{backup},
		Cloud:       cloud,
		EnableCloud: true,
		Consent: func() bool {
			consentCalls++
			return true
		},
	})

	out, err := e.Run(context.Background(), testShot(t), time.Second)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if out.Tier != vision.TierCloud {
		t.Errorf("Tier = %q, want %q", out.Tier, vision.TierCloud)
	}
	if consentCalls != 1 {
		t.Errorf("consent asked %d times, want 1", consentCalls)
	}
	if e.Stats().CloudCalls != 1 {
		t.Errorf("CloudCalls = %d, want 1", e.Stats().CloudCalls)
	}
}

func TestRun_ConsentDeclinedSkipsCloud(t *testing.T) {
	primary := gpuMock()
	primary.SetInferError(errors.New("crashed"))
	cloud := cloudMock()
	cloud.SetElements(testElements())

	e := New(Config{
		Primary:     primary,
		Cloud:       cloud,
		EnableCloud: true,
		Consent:     func() bool { return false },
	})

	_, err := e.Run(context.Background(), testShot(t), time.Second)
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Errorf("Run() error = %v, want ErrAllBackendsExhausted", err)
	}
	if cloud.InferCount() != 0 {
		t.Error("cloud should never be invoked without consent")
	}
}

func TestRun_CloudDisabledSkipsCloud(t *testing.T) {
	primary := gpuMock()
	primary.SetInferError(errors.New("crashed"))
	cloud := cloudMock()
	cloud.SetElements(testElements())

	e := New(Config{
		Primary:     primary,
		Cloud:       cloud,
		EnableCloud: false,
		Consent:     func() bool { return true },
	})

	_, err := e.Run(context.Background(), testShot(t), time.Second)
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Errorf("Run() error = %v, want ErrAllBackendsExhausted", err)
	}
	if cloud.InferCount() != 0 {
		t.Error("cloud should never be invoked when disabled")
	}
}

func TestRun_AllExhausted(t *testing.T) {
	primary := gpuMock()
	primary.SetInferError(errors.New("crashed"))
	backup := cpuMock()
	backup.SetInferError(adapter.ErrTimeout)

	e := New(Config{Primary: primary, Backups: []adapter.Adapter{backup}})

	_, err := e.Run(context.Background(), testShot(t), time.Second)
	if !errors.Is(err, ErrAllBackendsExhausted) {
		t.Errorf("Run() error = %v, want ErrAllBackendsExhausted", err)
	}
	if primary.InferCount() != 1 || backup.InferCount() != 1 {
		t.Error("each adapter should be tried exactly once, never retried")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	primary := gpuMock()
	primary.SetDelay(time.Second)
	primary.SetElements(testElements())

	e := New(Config{Primary: primary})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.Run(ctx, testShot(t), 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRun_NotifiesOnFallback(t *testing.T) {
	primary := gpuMock()
	primary.SetInferError(errors.New("crashed"))
	backup := cpuMock()
	backup.SetElements(testElements())

	var messages []string
	e := New(Config{
		Primary: primary,
		Backups: []adapter.Adapter{backup},
		Notify:  func(m string) { messages = append(messages, m) },
	})

	if _, err := e.Run(context.Background(), testShot(t), time.Second); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(messages) == 0 {
		t.Error("fallback should produce a notification")
	}
}

func TestLoad_BackupFailureNotFatal(t *testing.T) {
	primary := gpuMock()
	backup := cpuMock()
	backup.SetLoadError(errors.New("model file missing"))

	e := New(Config{Primary: primary, Backups: []adapter.Adapter{backup}})

	if err := e.Load(); err != nil {
		t.Errorf("Load() error = %v, backup failure should not be fatal", err)
	}
	if primary.LoadCount() != 1 {
		t.Errorf("primary LoadCount = %d, want 1", primary.LoadCount())
	}
}

func TestLoad_PrimaryFailureFatal(t *testing.T) {
	primary := gpuMock()
	primary.SetLoadError(errors.New("model file missing"))

	e := New(Config{Primary: primary})

	if err := e.Load(); err == nil {
		t.Error("Load() should fail when the primary cannot load")
	}
}

func TestLoad_NoPrimary(t *testing.T) {
	e := New(Config{})
	if err := e.Load(); err == nil {
		t.Error("Load() should fail without a primary adapter")
	}
}

func TestStats_CountsInferences(t *testing.T) {
	primary := gpuMock()
	primary.SetElements(testElements())

	e := New(Config{Primary: primary})

	for i := 0; i < 3; i++ {
		if _, err := e.Run(context.Background(), testShot(t), time.Second); err != nil {
			t.Fatalf("Run() %d error = %v", i, err)
		}
	}

	if got := e.Stats().Inferences; got != 3 {
		t.Errorf("Inferences = %d, want 3", got)
	}
}

func TestPrimaryName(t *testing.T) {
	e := New(Config{Primary: gpuMock()})
	if got := e.PrimaryName(); got != "uitars-7b" {
		t.Errorf("PrimaryName() = %q, want uitars-7b", got)
	}

	if got := New(Config{}).PrimaryName(); got != "" {
		t.Errorf("PrimaryName() with no primary = %q, want empty", got)
	}
}
