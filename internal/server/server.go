// Package server provides the local HTTP API for the visiond recognition
// daemon: triggering recognition, reading the last result, cache statistics,
// and a WebSocket event stream.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/AllenChen-Xingan/nvda-vision/internal/pipeline"
	"github.com/AllenChen-Xingan/nvda-vision/internal/store"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// Config holds the server configuration.
type Config struct {
	Store      *store.Store
	Controller *pipeline.Controller
	Events     *EventHub
}

// Server represents the HTTP server for the visiond daemon.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Controller != nil {
		s.mux.HandleFunc("/api/recognize", s.handleRecognize)
		s.mux.HandleFunc("/api/elements", s.handleElements)
	}

	if s.config.Store != nil {
		s.mux.HandleFunc("/api/cache/stats", s.handleCacheStats)
		s.mux.HandleFunc("/api/cache", s.handleCacheClear)
	}

	if s.config.Events != nil {
		s.mux.Handle("/api/events", s.config.Events)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// handleRecognize handles POST requests to /api/recognize. The request is
// accepted and runs asynchronously; the outcome is broadcast on the event
// stream.
func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events := s.config.Events
	s.config.Controller.RecognizeAsync(pipeline.Callbacks{
		OnComplete: func(result *vision.Result) {
			if events != nil {
				events.Broadcast(Event{Kind: EventComplete, Result: result})
			}
		},
		OnError: func(err error) {
			if events != nil {
				events.Broadcast(Event{Kind: EventError, Error: err.Error(), Tier: vision.TierNone})
			}
		},
		OnProgress: func(elapsed time.Duration) {
			if events != nil {
				events.Broadcast(Event{Kind: EventProgress, ElapsedSec: elapsed.Seconds()})
			}
		},
	})

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "recognizing"})
}

// handleElements handles GET requests to /api/elements, returning the last
// recognition result.
func (s *Server) handleElements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result := s.config.Controller.LastResult()
	if result == nil {
		http.Error(w, "No recognition result available", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCacheStats handles GET requests to /api/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.config.Store.Cache().Stats()
	if err != nil {
		http.Error(w, "Failed to read cache stats", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleCacheClear handles DELETE requests to /api/cache.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.config.Store.Cache().Clear(); err != nil {
		http.Error(w, "Failed to clear cache", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
