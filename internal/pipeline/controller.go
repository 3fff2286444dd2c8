// Package pipeline sequences the recognition flow: capture, cache lookup,
// inference with fallback, result processing, and cache write. Requests run
// on a background worker; at most one request is in flight at a time.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/engine"
	"github.com/AllenChen-Xingan/nvda-vision/internal/process"
	"github.com/AllenChen-Xingan/nvda-vision/internal/store"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// joinTimeout bounds how long a new request waits for the previous worker
// to exit after cancellation.
const joinTimeout = 1 * time.Second

// cleanupJoinTimeout bounds how long Cleanup waits for worker termination.
const cleanupJoinTimeout = 2 * time.Second

// Callbacks receive the outcome of an asynchronous recognition request.
// They are invoked through the controller's dispatcher, never concurrently
// for a single request. A cancelled request invokes no callbacks at all.
type Callbacks struct {
	OnComplete func(*vision.Result)
	OnError    func(error)
	OnProgress func(elapsed time.Duration)
}

// Config holds the collaborators and tunables for a Controller.
type Config struct {
	Capturer      capture.Capturer
	Store         *store.Store
	Engine        *engine.Engine
	Processor     *process.Processor
	CacheTTL      time.Duration
	MaxEntries    int
	Timeout       time.Duration // per inference attempt
	ProgressDelay time.Duration // delay before the single progress signal
	// Dispatch marshals callbacks onto the caller's execution context.
	// Nil means callbacks run directly on the worker goroutine.
	Dispatch func(func())
}

// Controller owns the per-request recognition state machine and the cursor
// over the last result's elements.
type Controller struct {
	config Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Current result and cursor, replaced wholesale on each completed
	// request and never merged.
	curMu   sync.RWMutex
	current *vision.Result
	cursor  int
}

// New creates a Controller with the given configuration.
func New(config Config) *Controller {
	if config.ProgressDelay <= 0 {
		config.ProgressDelay = 5 * time.Second
	}
	if config.Dispatch == nil {
		config.Dispatch = func(fn func()) { fn() }
	}
	return &Controller{config: config}
}

// RecognizeAsync starts a recognition request on a background worker.
// A still-running prior request is cancelled and joined (bounded wait)
// before the new one starts: last write wins, and the prior request's
// callbacks are never invoked.
func (c *Controller) RecognizeAsync(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		select {
		case <-c.done:
		default:
			log.Printf("Previous recognition still running, cancelling")
			c.cancel()
			select {
			case <-c.done:
			case <-time.After(joinTimeout):
				log.Printf("Previous recognition worker did not exit within %s", joinTimeout)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go c.worker(ctx, cb, done)
}

// worker runs the full pipeline for one request. Cancellation is cooperative
// and checked at each stage boundary; an adapter already mid-inference is
// not preempted.
func (c *Controller) worker(ctx context.Context, cb Callbacks, done chan struct{}) {
	defer close(done)
	start := time.Now()

	// Stage 1: capture
	shot, err := c.config.Capturer.Capture()
	if err != nil {
		c.deliverError(ctx, cb, err)
		return
	}

	if ctx.Err() != nil {
		log.Printf("Recognition cancelled after capture")
		return
	}

	// Stage 2: cache lookup; read errors degrade to a miss
	cache := c.config.Store.Cache()
	cached, err := cache.Lookup(shot.Fingerprint)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("Cache lookup failed, treating as miss: %v", err)
	}
	if cached != nil {
		log.Printf("Cache hit: %.8s", shot.Fingerprint)
		cached.Tier = vision.TierCache
		c.setCurrent(cached)
		c.deliver(ctx, cb, cached)
		return
	}

	// Stage 3: inference with fallback; a timer fires the single progress
	// signal if inference is still running after the configured delay
	progressDone := make(chan struct{})
	go c.progressMonitor(ctx, cb, start, progressDone)
	defer close(progressDone)

	if ctx.Err() != nil {
		log.Printf("Recognition cancelled before inference")
		return
	}

	inferStart := time.Now()
	outcome, err := c.config.Engine.Run(ctx, shot, c.config.Timeout)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("Recognition cancelled during inference")
			return
		}
		c.deliverError(ctx, cb, err)
		return
	}
	inferenceMs := time.Since(inferStart).Milliseconds()

	if ctx.Err() != nil {
		log.Printf("Recognition cancelled after inference")
		return
	}

	// Stage 4: processing
	result := c.config.Processor.Process(
		outcome.Elements, shot.Fingerprint, outcome.Backend, inferenceMs, outcome.Tier,
	)

	// Stage 5: cache write; failures must not fail the recognition
	if result.Status != vision.StatusFailure {
		if err := cache.Put(shot, result, c.config.CacheTTL, c.config.MaxEntries); err != nil {
			log.Printf("Cache write failed: %v", err)
		}
	}

	c.setCurrent(result)
	log.Printf("Recognition complete: %d elements in %s", result.ElementCount(), time.Since(start).Round(time.Millisecond))
	c.deliver(ctx, cb, result)
}

// progressMonitor fires OnProgress at most once per request if the inference
// stage is still running after the configured delay. It exits without effect
// when the worker finishes or the request is cancelled first.
func (c *Controller) progressMonitor(ctx context.Context, cb Callbacks, start time.Time, workerDone <-chan struct{}) {
	timer := time.NewTimer(c.config.ProgressDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		if cb.OnProgress == nil || ctx.Err() != nil {
			return
		}
		elapsed := time.Since(start)
		log.Printf("Long-running inference, %.1fs elapsed", elapsed.Seconds())
		c.config.Dispatch(func() { cb.OnProgress(elapsed) })
	case <-workerDone:
	case <-ctx.Done():
	}
}

// Cancel requests cooperative cancellation of the in-flight request, if any.
// Stage transitions are short-circuited; an adapter mid-inference runs on.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Cleanup cancels any in-flight request and waits (bounded) for the worker
// to terminate.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(cleanupJoinTimeout):
			log.Printf("Recognition worker did not exit within %s", cleanupJoinTimeout)
		}
	}
}

func (c *Controller) deliver(ctx context.Context, cb Callbacks, result *vision.Result) {
	if ctx.Err() != nil || cb.OnComplete == nil {
		return
	}
	c.config.Dispatch(func() { cb.OnComplete(result) })
}

func (c *Controller) deliverError(ctx context.Context, cb Callbacks, err error) {
	if ctx.Err() != nil {
		return
	}
	log.Printf("Recognition failed: %v", err)
	if cb.OnError == nil {
		return
	}
	c.config.Dispatch(func() { cb.OnError(err) })
}

// setCurrent replaces the current result and resets the cursor to the first
// element.
func (c *Controller) setCurrent(result *vision.Result) {
	c.curMu.Lock()
	defer c.curMu.Unlock()
	c.current = result
	c.cursor = 0
}

// Current returns the element under the cursor, or false if there is no
// result or it has no elements.
func (c *Controller) Current() (*vision.Element, bool) {
	c.curMu.RLock()
	defer c.curMu.RUnlock()

	if c.current == nil || len(c.current.Elements) == 0 {
		return nil, false
	}
	return &c.current.Elements[c.cursor], true
}

// Next advances the cursor and returns the element there. Moving past the
// last element returns false and pins the cursor at the end.
func (c *Controller) Next() (*vision.Element, bool) {
	c.curMu.Lock()
	defer c.curMu.Unlock()

	if c.current == nil || len(c.current.Elements) == 0 {
		return nil, false
	}

	if c.cursor >= len(c.current.Elements)-1 {
		c.cursor = len(c.current.Elements) - 1
		return nil, false
	}
	c.cursor++
	return &c.current.Elements[c.cursor], true
}

// Previous moves the cursor back and returns the element there. Moving
// before the first element returns false and pins the cursor at the start.
func (c *Controller) Previous() (*vision.Element, bool) {
	c.curMu.Lock()
	defer c.curMu.Unlock()

	if c.current == nil || len(c.current.Elements) == 0 {
		return nil, false
	}

	if c.cursor <= 0 {
		c.cursor = 0
		return nil, false
	}
	c.cursor--
	return &c.current.Elements[c.cursor], true
}

// LastResult returns the most recent completed result, or nil.
func (c *Controller) LastResult() *vision.Result {
	c.curMu.RLock()
	defer c.curMu.RUnlock()
	return c.current
}
