// Package engine orchestrates inference across heterogeneous backends with
// ordered fallback: primary model, then backups, then the cloud API.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/adapter"
	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// ErrAllBackendsExhausted is returned when every adapter failed or timed out
// (or none exist). It is the only inference error surfaced to callers.
var ErrAllBackendsExhausted = errors.New("all inference backends exhausted")

// Notifier receives advisory tier-transition messages for the UI layer.
// Implementations must not block; a nil Notifier disables notifications.
type Notifier func(message string)

// ConsentFunc asks the user for per-invocation permission to upload a
// screenshot to the cloud API. A nil ConsentFunc denies consent.
type ConsentFunc func() bool

// Config holds the adapters and policy for an Engine.
type Config struct {
	Primary     adapter.Adapter
	Backups     []adapter.Adapter
	Cloud       adapter.Adapter
	EnableCloud bool
	Notify      Notifier
	Consent     ConsentFunc
}

// Stats reports engine counters since construction.
type Stats struct {
	Inferences int `json:"inferences"`
	Fallbacks  int `json:"fallbacks"`
	CloudCalls int `json:"cloud_calls"`
}

// Engine tries adapters strictly in priority order, bounding each attempt by
// a per-attempt timeout. No adapter is ever retried within a request.
type Engine struct {
	config Config

	mu    sync.Mutex
	stats Stats
}

// New creates an Engine with the given adapters and policy.
func New(config Config) *Engine {
	return &Engine{config: config}
}

// Load loads the primary adapter (required) and the backups (failures are
// logged but not fatal). The cloud adapter needs no loading.
func (e *Engine) Load() error {
	if e.config.Primary == nil {
		return errors.New("no primary adapter configured")
	}

	if err := e.config.Primary.Load(); err != nil {
		return err
	}
	log.Printf("Loaded primary model: %s", e.config.Primary.Descriptor().Name)

	for _, a := range e.config.Backups {
		if err := a.Load(); err != nil {
			log.Printf("Failed to load backup model %s: %v", a.Descriptor().Name, err)
			continue
		}
		log.Printf("Loaded backup model: %s", a.Descriptor().Name)
	}

	return nil
}

// Unload unloads every adapter, logging failures.
func (e *Engine) Unload() {
	for _, a := range e.adapters() {
		if err := a.Unload(); err != nil {
			log.Printf("Failed to unload %s: %v", a.Descriptor().Name, err)
		}
	}
}

// Outcome reports which backend satisfied a request and what it found.
type Outcome struct {
	Elements []vision.Element
	Tier     vision.Tier
	Backend  string
}

// Run attempts inference across the fallback chain. It returns the first
// successful adapter's outcome, or ErrAllBackendsExhausted when every
// attempt failed. Worst-case latency is bounded by timeout multiplied by the
// number of available adapters.
func (e *Engine) Run(ctx context.Context, shot *capture.Screenshot, timeout time.Duration) (*Outcome, error) {
	e.mu.Lock()
	e.stats.Inferences++
	e.mu.Unlock()

	if e.config.Primary != nil {
		elements, err := e.attempt(ctx, e.config.Primary, shot, timeout)
		if err == nil {
			return outcome(e.config.Primary, elements), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.recordFallback()
		e.notify("Primary model failed, switching to backup")
	}

	for _, a := range e.config.Backups {
		elements, err := e.attempt(ctx, a, shot, timeout)
		if err == nil {
			return outcome(a, elements), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if e.config.EnableCloud && e.config.Cloud != nil {
		e.notify("Local models failed, requesting cloud consent")
		if e.config.Consent != nil && e.config.Consent() {
			e.mu.Lock()
			e.stats.CloudCalls++
			e.mu.Unlock()

			elements, err := e.attempt(ctx, e.config.Cloud, shot, timeout)
			if err == nil {
				e.notify("Recognition succeeded via cloud API")
				return outcome(e.config.Cloud, elements), nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		} else {
			log.Printf("Cloud consent declined")
			e.notify("Cloud API declined")
		}
	}

	return nil, ErrAllBackendsExhausted
}

func outcome(a adapter.Adapter, elements []vision.Element) *Outcome {
	d := a.Descriptor()
	return &Outcome{Elements: elements, Tier: d.Tier, Backend: d.Name}
}

// attempt runs a single bounded inference against one adapter.
func (e *Engine) attempt(ctx context.Context, a adapter.Adapter, shot *capture.Screenshot, timeout time.Duration) ([]vision.Element, error) {
	name := a.Descriptor().Name
	start := time.Now()

	elements, err := a.Infer(ctx, shot, timeout)
	if err != nil {
		if errors.Is(err, adapter.ErrTimeout) {
			log.Printf("Adapter %s timed out after %s", name, timeout)
		} else {
			log.Printf("Adapter %s failed: %v", name, err)
		}
		return nil, err
	}

	log.Printf("Adapter %s returned %d elements in %s", name, len(elements), time.Since(start).Round(time.Millisecond))
	return elements, nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// PrimaryName returns the primary adapter's model name, or empty if none.
func (e *Engine) PrimaryName() string {
	if e.config.Primary == nil {
		return ""
	}
	return e.config.Primary.Descriptor().Name
}

func (e *Engine) adapters() []adapter.Adapter {
	var all []adapter.Adapter
	if e.config.Primary != nil {
		all = append(all, e.config.Primary)
	}
	all = append(all, e.config.Backups...)
	if e.config.Cloud != nil {
		all = append(all, e.config.Cloud)
	}
	return all
}

func (e *Engine) recordFallback() {
	e.mu.Lock()
	e.stats.Fallbacks++
	e.mu.Unlock()
}

func (e *Engine) notify(message string) {
	if e.config.Notify != nil {
		e.config.Notify(message)
	}
}
