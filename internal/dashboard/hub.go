package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Hub fans dashboard events out to Server-Sent Events subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister drops c and closes it. Unknown or already closed clients are
// ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// Close disconnects every client; their handlers return on the next select.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes event once and writes it to every client.
func (h *Hub) Broadcast(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode dashboard event", "type", event.Type, "error", err)
		return
	}
	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.write(frame)
	}
}

var errStreamingUnsupported = errors.New("streaming not supported")

// Client is one SSE connection. Broadcasts and keep-alive pings arrive from
// different goroutines, so every write holds mu, and nothing is written
// once done is closed.
type Client struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	closed  bool
}

// NewClient sets the event-stream headers on w.
func NewClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	return &Client{w: w, flusher: flusher, done: make(chan struct{})}, nil
}

func (c *Client) write(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	fmt.Fprint(c.w, frame)
	c.flusher.Flush()
}

func (c *Client) send(eventType string, data []byte) {
	c.write(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data))
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

// KeepAlive writes a comment line every interval until the client closes.
func (c *Client) KeepAlive(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.write(": ping\n\n")
		}
	}
}
