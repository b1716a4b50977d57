package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEventRejectsUnknownType(t *testing.T) {
	b := NewSSEBroadcaster(nil, zerolog.Nop())
	err := b.SendEvent(EventType("bogus"), map[string]string{"x": "y"})
	assert.Error(t, err)
}

func TestSendEventRejectsOversizedPayload(t *testing.T) {
	b := NewSSEBroadcaster(nil, zerolog.Nop())
	big := strings.Repeat("a", maxPayloadBytes+1)
	err := b.SendEvent(EventPriceUpdate, map[string]string{"blob": big})
	assert.Error(t, err)
}

func TestSendEventRejectsUnserializable(t *testing.T) {
	b := NewSSEBroadcaster(nil, zerolog.Nop())
	err := b.SendEvent(EventPriceUpdate, map[string]interface{}{"fn": func() {}})
	assert.Error(t, err)
}

func TestServeHTTPEmitsHeartbeatThenSnapshot(t *testing.T) {
	snapshotCalled := false
	b := NewSSEBroadcaster(func() (map[string]interface{}, error) {
		snapshotCalled = true
		return map[string]interface{}{"active_alerts": []string{}}, nil
	}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 200*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	b.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.True(t, snapshotCalled)
	assert.Contains(t, body, `"type":"heartbeat"`)
	assert.Contains(t, body, `"type":"snapshot"`)
	assert.Contains(t, body, "active_alerts")
}

func TestSendEventDeliversToConnectedClient(t *testing.T) {
	b := NewSSEBroadcaster(nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/stream", nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.SendEvent(EventAlert, map[string]interface{}{"ticker": "AAPL"}))
	require.Eventually(t, func() bool {
		return strings.Contains(rec.Body.String(), `"type":"alert"`)
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, b.ClientCount())
}

func TestSendEventDropsClientWithFullQueue(t *testing.T) {
	b := NewSSEBroadcaster(nil, zerolog.Nop())
	b.mu.Lock()
	b.nextID++
	c := &sseClient{id: b.nextID, queue: make(chan sseMessage, 1)}
	b.clients[c.id] = c
	b.mu.Unlock()

	c.queue <- sseMessage{eventType: EventHeartbeat, data: nil}

	require.NoError(t, b.SendEvent(EventHeartbeat, map[string]string{"x": "y"}))
	assert.Equal(t, 0, b.ClientCount())
}
