package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Event kinds broadcast on the stream.
const (
	EventComplete = "recognition_complete"
	EventError    = "recognition_error"
	EventProgress = "recognition_progress"
	EventNotice   = "notice"
)

// Event is one message on the recognition event stream.
type Event struct {
	Kind       string         `json:"kind"`
	Result     *vision.Result `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Tier       vision.Tier    `json:"tier,omitempty"`
	ElapsedSec float64        `json:"elapsed_sec,omitempty"`
	Message    string         `json:"message,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}

// EventHub broadcasts recognition lifecycle events to WebSocket clients.
// Broadcast never blocks: a client that cannot keep up is dropped.
type EventHub struct {
	clients map[*websocket.Conn]chan []byte
	mu      sync.RWMutex
}

// NewEventHub creates an empty EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan []byte, 16)

	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	go func() {
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Broadcast sends an event to all connected clients without blocking.
func (h *EventHub) Broadcast(event Event) {
	event.Timestamp = time.Now().UnixMilli()
	msg, err := json.Marshal(event)
	if err != nil {
		log.Printf("encode event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, send := range h.clients {
		select {
		case send <- msg:
		default:
			// Slow client; drop the event rather than block the pipeline
		}
	}
}

// Notify broadcasts an advisory message. It satisfies engine.Notifier.
func (h *EventHub) Notify(message string) {
	h.Broadcast(Event{Kind: EventNotice, Message: message})
}
