package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

func testScreenshot(t *testing.T, content string) *capture.Screenshot {
	t.Helper()

	shot, err := capture.NewScreenshot([]byte(content), 800, 600, capture.SourceActiveWindow)
	if err != nil {
		t.Fatalf("NewScreenshot() error = %v", err)
	}
	return shot
}

func testResult(fingerprint string) *vision.Result {
	return &vision.Result{
		ID:          "res-" + fingerprint[:8],
		Fingerprint: fingerprint,
		Elements: []vision.Element{
			{
				ID:         "element_001",
				Type:       vision.TypeButton,
				Text:       "OK",
				Box:        vision.BoundingBox{X1: 10, Y1: 10, X2: 50, Y2: 30},
				Confidence: 0.92,
				Actionable: true,
			},
			{
				ID:         "element_002",
				Type:       vision.TypeText,
				Text:       "Hello",
				Box:        vision.BoundingBox{X1: 10, Y1: 40, X2: 200, Y2: 60},
				Confidence: 0.85,
			},
		},
		ModelName:   "uitars-7b",
		Tier:        vision.TierGPU,
		InferenceMs: 4200,
		Status:      vision.StatusSuccess,
		CreatedAt:   time.Now(),
	}
}

func TestCache_PutLookupRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	shot := testScreenshot(t, "screen one")
	want := testResult(shot.Fingerprint)

	if err := cache.Put(shot, want, 5*time.Minute, 1000); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if want.ExpiresAt.IsZero() {
		t.Error("Put() should set the result's expiry")
	}

	got, err := cache.Lookup(shot.Fingerprint)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	if got.ID != want.ID {
		t.Errorf("ID = %q, want %q", got.ID, want.ID)
	}
	if got.Tier != vision.TierGPU {
		t.Errorf("Tier = %q, want %q", got.Tier, vision.TierGPU)
	}
	if len(got.Elements) != 2 {
		t.Fatalf("Elements = %d, want 2", len(got.Elements))
	}
	if got.Elements[0].Text != "OK" || got.Elements[0].Box.X2 != 50 {
		t.Errorf("first element = %+v, want text and box preserved", got.Elements[0])
	}
	if !got.Elements[0].Actionable || got.Elements[1].Actionable {
		t.Error("actionable flags should round-trip")
	}
}

func TestCache_LookupMiss(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Cache().Lookup("deadbeef")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() error = %v, want ErrNotFound", err)
	}
}

func TestCache_LookupUpdatesHitCount(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	shot := testScreenshot(t, "screen one")
	if err := cache.Put(shot, testResult(shot.Fingerprint), 5*time.Minute, 1000); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.Lookup(shot.Fingerprint); err != nil {
			t.Fatalf("Lookup() %d error = %v", i, err)
		}
	}

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalHits != 3 {
		t.Errorf("TotalHits = %d, want 3", stats.TotalHits)
	}
	// 3 hits over 3 hits + 1 entry
	if stats.HitRate != 0.75 {
		t.Errorf("HitRate = %v, want 0.75", stats.HitRate)
	}
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	shot := testScreenshot(t, "screen one")
	if err := cache.Put(shot, testResult(shot.Fingerprint), 20*time.Millisecond, 1000); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Live before expiry
	if _, err := cache.Lookup(shot.Fingerprint); err != nil {
		t.Fatalf("Lookup() before expiry error = %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, err := cache.Lookup(shot.Fingerprint); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestCache_CleanupExpired(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	expired := testScreenshot(t, "old screen")
	if err := cache.Put(expired, testResult(expired.Fingerprint), 10*time.Millisecond, 1000); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	live := testScreenshot(t, "fresh screen")
	if err := cache.Put(live, testResult(live.Fingerprint), 5*time.Minute, 1000); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	n, err := cache.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.ScreenshotCount != 1 {
		t.Errorf("ScreenshotCount = %d, want 1", stats.ScreenshotCount)
	}
	// Deleting the screenshot cascades to its results and elements
	if stats.EntryCount != 1 {
		t.Errorf("EntryCount = %d, want 1 (cascade delete)", stats.EntryCount)
	}
	if stats.ElementCount != 2 {
		t.Errorf("ElementCount = %d, want 2 (cascade delete)", stats.ElementCount)
	}
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	const maxEntries = 3

	shots := make([]*capture.Screenshot, 0, 4)
	for i := 0; i < 3; i++ {
		shot := testScreenshot(t, fmt.Sprintf("screen %d", i))
		if err := cache.Put(shot, testResult(shot.Fingerprint), 5*time.Minute, maxEntries); err != nil {
			t.Fatalf("Put() %d error = %v", i, err)
		}
		shots = append(shots, shot)
		// Millisecond timestamps need distinct access times
		time.Sleep(5 * time.Millisecond)
	}

	// Touch the oldest entry so it is no longer the eviction candidate
	if _, err := cache.Lookup(shots[0].Fingerprint); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	overflow := testScreenshot(t, "screen 3")
	if err := cache.Put(overflow, testResult(overflow.Fingerprint), 5*time.Minute, maxEntries); err != nil {
		t.Fatalf("Put() overflow error = %v", err)
	}
	shots = append(shots, overflow)

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.EntryCount != maxEntries {
		t.Errorf("EntryCount = %d, want %d", stats.EntryCount, maxEntries)
	}

	// screen 1 had the oldest access time and should be gone
	if _, err := cache.Lookup(shots[1].Fingerprint); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(evicted) error = %v, want ErrNotFound", err)
	}
	for _, i := range []int{0, 2, 3} {
		if _, err := cache.Lookup(shots[i].Fingerprint); err != nil {
			t.Errorf("Lookup(shots[%d]) error = %v, want survivor", i, err)
		}
	}
}

func TestCache_EvictionSweepsOrphanScreenshots(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	const maxEntries = 2

	for i := 0; i < 3; i++ {
		shot := testScreenshot(t, fmt.Sprintf("screen %d", i))
		if err := cache.Put(shot, testResult(shot.Fingerprint), 5*time.Minute, maxEntries); err != nil {
			t.Fatalf("Put() %d error = %v", i, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.EntryCount != maxEntries {
		t.Errorf("EntryCount = %d, want %d", stats.EntryCount, maxEntries)
	}
	// The evicted result's screenshot must not linger until its TTL
	if stats.ScreenshotCount != maxEntries {
		t.Errorf("ScreenshotCount = %d, want %d (no orphans)", stats.ScreenshotCount, maxEntries)
	}
}

func TestCache_RepeatPutRefreshesExpiry(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	shot := testScreenshot(t, "screen one")
	if err := cache.Put(shot, testResult(shot.Fingerprint), 30*time.Millisecond, 1000); err != nil {
		t.Fatalf("first Put() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	// Re-recognition of the same screen extends the screenshot's life
	if err := cache.Put(shot, testResult(shot.Fingerprint), 5*time.Minute, 1000); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := cache.Lookup(shot.Fingerprint); err != nil {
		t.Errorf("Lookup() after refresh error = %v, want hit", err)
	}

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.ScreenshotCount != 1 {
		t.Errorf("ScreenshotCount = %d, want 1 (fingerprint is unique)", stats.ScreenshotCount)
	}
	if stats.EntryCount != 2 {
		t.Errorf("EntryCount = %d, want 2 (history retained)", stats.EntryCount)
	}
}

func TestCache_Clear(t *testing.T) {
	s := newTestStore(t)
	cache := s.Cache()

	shot := testScreenshot(t, "screen one")
	if err := cache.Put(shot, testResult(shot.Fingerprint), 5*time.Minute, 1000); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := cache.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	stats, err := cache.Stats()
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.ScreenshotCount != 0 || stats.EntryCount != 0 || stats.ElementCount != 0 {
		t.Errorf("Stats() after clear = %+v, want all zero", stats)
	}

	if _, err := cache.Lookup(shot.Fingerprint); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() after clear error = %v, want ErrNotFound", err)
	}
}
