package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

type fakeWSConn struct {
	sent    [][]byte
	failErr error
	closed  bool
}

func (f *fakeWSConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeWSConn) Close(websocket.StatusCode, string) error {
	f.closed = true
	return nil
}

func TestSubscribeAndBroadcastToSubscribers(t *testing.T) {
	b := NewWSBroadcaster(50, zerolog.Nop())
	conn := &fakeWSConn{}
	id := b.Register(conn)

	added, err := b.Subscribe(id, []string{"aapl", "MSFT"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, added)

	require.NoError(t, b.BroadcastToSubscribers("AAPL", "price_update", map[string]float64{"price": 100}))
	require.Len(t, conn.sent, 1)
	assert.Contains(t, string(conn.sent[0]), "price_update")
}

func TestBroadcastToSubscribersSkipsUnsubscribedTicker(t *testing.T) {
	b := NewWSBroadcaster(50, zerolog.Nop())
	conn := &fakeWSConn{}
	id := b.Register(conn)
	_, err := b.Subscribe(id, []string{"AAPL"})
	require.NoError(t, err)

	require.NoError(t, b.BroadcastToSubscribers("TSLA", "price_update", map[string]float64{"price": 1}))
	assert.Len(t, conn.sent, 0)
}

func TestSubscribeEnforcesCap(t *testing.T) {
	b := NewWSBroadcaster(2, zerolog.Nop())
	conn := &fakeWSConn{}
	id := b.Register(conn)

	_, err := b.Subscribe(id, []string{"A", "B"})
	require.NoError(t, err)

	_, err = b.Subscribe(id, []string{"C"})
	assert.Error(t, err)
}

func TestUnsubscribeRemovesFromReverseIndex(t *testing.T) {
	b := NewWSBroadcaster(50, zerolog.Nop())
	conn := &fakeWSConn{}
	id := b.Register(conn)
	_, err := b.Subscribe(id, []string{"AAPL"})
	require.NoError(t, err)

	b.Unsubscribe(id, []string{"AAPL"})
	require.NoError(t, b.BroadcastToSubscribers("AAPL", "price_update", map[string]int{"x": 1}))
	assert.Len(t, conn.sent, 0)
}

func TestBroadcastPricesGroupsPerClientSubscriptions(t *testing.T) {
	b := NewWSBroadcaster(50, zerolog.Nop())
	connA := &fakeWSConn{}
	connB := &fakeWSConn{}
	idA := b.Register(connA)
	idB := b.Register(connB)

	_, err := b.Subscribe(idA, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	_, err = b.Subscribe(idB, []string{"TSLA"})
	require.NoError(t, err)

	err = b.BroadcastPrices(map[string]interface{}{
		"AAPL": map[string]float64{"price": 100},
		"MSFT": map[string]float64{"price": 200},
		"TSLA": map[string]float64{"price": 300},
	})
	require.NoError(t, err)

	require.Len(t, connA.sent, 1)
	var msgA struct {
		Type   string                 `json:"type"`
		Prices map[string]interface{} `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(connA.sent[0], &msgA))
	assert.Equal(t, "price_batch", msgA.Type)
	assert.Contains(t, msgA.Prices, "AAPL")
	assert.Contains(t, msgA.Prices, "MSFT")
	assert.NotContains(t, msgA.Prices, "TSLA")

	require.Len(t, connB.sent, 1)
	var msgB struct {
		Type   string                 `json:"type"`
		Prices map[string]interface{} `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(connB.sent[0], &msgB))
	assert.Equal(t, "price_batch", msgB.Type)
	assert.Contains(t, msgB.Prices, "TSLA")
	assert.NotContains(t, msgB.Prices, "AAPL")
}

func TestBroadcastToSubscribersUnregistersFailingClient(t *testing.T) {
	b := NewWSBroadcaster(50, zerolog.Nop())
	conn := &fakeWSConn{failErr: errors.New("connection reset")}
	id := b.Register(conn)
	_, err := b.Subscribe(id, []string{"AAPL"})
	require.NoError(t, err)

	require.NoError(t, b.BroadcastToSubscribers("AAPL", "price_update", map[string]int{"x": 1}))
	assert.Equal(t, 0, b.ClientCount())
}

func TestUnregisterClearsSubscriptions(t *testing.T) {
	b := NewWSBroadcaster(50, zerolog.Nop())
	conn := &fakeWSConn{}
	id := b.Register(conn)
	_, err := b.Subscribe(id, []string{"AAPL"})
	require.NoError(t, err)

	b.Unregister(id)
	assert.Equal(t, 0, b.ClientCount())
	require.NoError(t, b.BroadcastToSubscribers("AAPL", "price_update", map[string]int{"x": 1}))
	assert.Len(t, conn.sent, 0)
}
