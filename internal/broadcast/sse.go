// Package broadcast implements the SSE and WebSocket client registries that
// push live events (prices, alerts, job completions) to connected UIs.
package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	sseQueueSize    = 256
	sseHeartbeat    = 15 * time.Second
	maxPayloadBytes = 64 * 1024
)

// EventType is one entry of the SSE allowlist.
type EventType string

const (
	EventHeartbeat        EventType = "heartbeat"
	EventSnapshot         EventType = "snapshot"
	EventAlert            EventType = "alert"
	EventPriceUpdate      EventType = "price_update"
	EventTechnicalAlerts  EventType = "technical_alerts"
	EventRegimeUpdate     EventType = "regime_update"
	EventMorningBriefing  EventType = "morning_briefing"
	EventDailySummary     EventType = "daily_summary"
	EventWeeklyReview     EventType = "weekly_review"
	EventRedditTrending   EventType = "reddit_trending"
	EventDownloadTracker  EventType = "download_tracker"
	EventProviderFallback EventType = "provider_fallback"
	EventJobCompleted     EventType = "job_completed"
	EventRateLimitUpdate  EventType = "rate_limit_update"
)

var allowedEventTypes = map[EventType]bool{
	EventHeartbeat:        true,
	EventSnapshot:         true,
	EventAlert:            true,
	EventPriceUpdate:      true,
	EventTechnicalAlerts:  true,
	EventRegimeUpdate:     true,
	EventMorningBriefing:  true,
	EventDailySummary:     true,
	EventWeeklyReview:     true,
	EventRedditTrending:   true,
	EventDownloadTracker:  true,
	EventProviderFallback: true,
	EventJobCompleted:     true,
	EventRateLimitUpdate:  true,
}

// SnapshotFunc builds the payload sent as the `snapshot` event immediately
// after the initial heartbeat on every new connection.
type SnapshotFunc func() (map[string]interface{}, error)

// sseClient is one connected SSE reader. queue is a bounded FIFO; a full
// queue means the client isn't draining fast enough and is dropped.
type sseClient struct {
	id    uint64
	queue chan sseMessage
}

type sseMessage struct {
	eventType EventType
	data      interface{}
}

// SSEBroadcaster is a thread-safe registry of connected SSE clients.
type SSEBroadcaster struct {
	mu       sync.Mutex
	clients  map[uint64]*sseClient
	nextID   uint64
	snapshot SnapshotFunc
	log      zerolog.Logger
}

// NewSSEBroadcaster builds a broadcaster. snapshot is invoked once per new
// connection to build the post-heartbeat snapshot event payload.
func NewSSEBroadcaster(snapshot SnapshotFunc, log zerolog.Logger) *SSEBroadcaster {
	return &SSEBroadcaster{
		clients:  make(map[uint64]*sseClient),
		snapshot: snapshot,
		log:      log.With().Str("component", "sse_broadcaster").Logger(),
	}
}

// SendEvent validates eventType against the allowlist and the payload
// against the 64 KiB JSON size gate, then enqueues it to every connected
// client. Clients whose queue is full are dropped as dead.
func (b *SSEBroadcaster) SendEvent(eventType EventType, data interface{}) error {
	if !allowedEventTypes[eventType] {
		return fmt.Errorf("broadcast: unknown SSE event type %q", eventType)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("broadcast: payload not JSON-serialisable: %w", err)
	}
	if len(encoded) > maxPayloadBytes {
		return fmt.Errorf("broadcast: payload %d bytes exceeds %d byte limit", len(encoded), maxPayloadBytes)
	}

	var dead []uint64
	b.mu.Lock()
	clients := make([]*sseClient, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		select {
		case c.queue <- sseMessage{eventType: eventType, data: data}:
		default:
			dead = append(dead, c.id)
			b.log.Warn().Uint64("client_id", c.id).Str("event_type", string(eventType)).Msg("sse client queue full, dropping client")
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, id := range dead {
			delete(b.clients, id)
		}
		b.mu.Unlock()
	}
	return nil
}

// ServeHTTP streams events to one client for the lifetime of the request.
func (b *SSEBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{
		id:    b.register(),
		queue: make(chan sseMessage, sseQueueSize),
	}
	b.mu.Lock()
	b.clients[client.id] = client
	b.mu.Unlock()
	defer b.unregister(client.id)

	b.writeFrame(w, EventHeartbeat, map[string]interface{}{"timestamp": time.Now().UTC().Format(time.RFC3339)})
	flusher.Flush()

	if b.snapshot != nil {
		snap, err := b.snapshot()
		if err != nil {
			b.log.Warn().Err(err).Msg("failed to build connect snapshot")
		} else {
			b.writeFrame(w, EventSnapshot, snap)
			flusher.Flush()
		}
	}

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	done := r.Context().Done()

	for {
		select {
		case <-done:
			return
		case msg := <-client.queue:
			b.writeFrame(w, msg.eventType, msg.data)
			flusher.Flush()
		case <-heartbeat.C:
			b.writeFrame(w, EventHeartbeat, map[string]interface{}{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

func (b *SSEBroadcaster) writeFrame(w http.ResponseWriter, eventType EventType, data interface{}) {
	encoded, err := json.Marshal(map[string]interface{}{
		"type": string(eventType),
		"data": data,
	})
	if err != nil {
		b.log.Error().Err(err).Msg("failed to encode sse frame")
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", encoded)
}

func (b *SSEBroadcaster) register() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *SSEBroadcaster) unregister(id uint64) {
	b.mu.Lock()
	delete(b.clients, id)
	b.mu.Unlock()
}

// ClientCount returns the number of currently registered clients.
func (b *SSEBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}
