// Package sse streams engine events to dashboard clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/venuescout/internal/engine"
)

// ClientBuffer is the number of undelivered events kept per client.
// Events beyond it are dropped for that client only.
const ClientBuffer = 32

// KeepAliveInterval is how often an idle stream receives a comment line.
const KeepAliveInterval = 25 * time.Second

// Client represents a connected SSE client.
type Client struct {
	ID     string
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster fans engine events out to SSE clients.
// It implements engine.EventSink; Publish never blocks on a slow client.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	dropped uint64
}

var _ engine.EventSink = (*Broadcaster)(nil)

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a new client.
func (b *Broadcaster) AddClient() *Client {
	client := &Client{
		ID:     uuid.NewString(),
		events: make(chan []byte, ClientBuffer),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client
}

// RemoveClient unregisters a client.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	clientCount := len(b.clients)
	b.mu.Unlock()

	client.close()

	log.Debug().
		Str("clientId", client.ID).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

// Publish queues event for every connected client.
func (b *Broadcaster) Publish(event engine.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("Failed to marshal SSE event")
		return
	}
	message := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data))

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, client := range b.clients {
		select {
		case client.events <- message:
		default:
			b.dropped++
			log.Debug().Str("clientId", client.ID).Str("type", event.Type).Msg("SSE client buffer full, dropping event")
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many events were discarded for slow clients.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	clients := b.clients
	b.clients = make(map[string]*Client)
	b.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// HandleSSE streams events until the request or the broadcaster ends.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := b.AddClient()
	defer b.RemoveClient(client)

	// Send initial connection message
	fmt.Fprintf(w, "event: connected\ndata: {\"clientId\":%q}\n\n", client.ID)
	flusher.Flush()

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-client.events:
			if _, err := w.Write(msg); err != nil {
				log.Debug().Str("clientId", client.ID).Err(err).Msg("Failed to write to SSE client")
				return
			}
			flusher.Flush()
		}
	}
}
