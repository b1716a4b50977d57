package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// wsConn is the subset of *websocket.Conn this package depends on, so tests
// can substitute a fake without opening a real socket.
type wsConn interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

const wsWriteTimeout = 5 * time.Second

// wsClient is one connected WebSocket subscriber.
type wsClient struct {
	id            string
	conn          wsConn
	subscriptions map[string]bool
}

// WSBroadcaster is a thread-safe registry of WebSocket clients and their
// per-client ticker subscriptions, with a reverse ticker->clients index for
// O(1) subscriber lookups on broadcast.
type WSBroadcaster struct {
	mu          sync.Mutex
	clients     map[string]*wsClient
	byTicker    map[string]map[string]bool // ticker -> set of client IDs
	maxPerClient int
	log         zerolog.Logger
}

// NewWSBroadcaster builds a registry. maxSubscriptionsPerClient caps how
// many tickers a single client may subscribe to at once.
func NewWSBroadcaster(maxSubscriptionsPerClient int, log zerolog.Logger) *WSBroadcaster {
	return &WSBroadcaster{
		clients:      make(map[string]*wsClient),
		byTicker:     make(map[string]map[string]bool),
		maxPerClient: maxSubscriptionsPerClient,
		log:          log.With().Str("component", "ws_broadcaster").Logger(),
	}
}

// Register adds a new client to the registry and returns its generated ID.
func (b *WSBroadcaster) Register(conn wsConn) string {
	id := uuid.NewString()
	b.mu.Lock()
	b.clients[id] = &wsClient{id: id, conn: conn, subscriptions: make(map[string]bool)}
	b.mu.Unlock()
	return id
}

// Unregister removes a client and clears its entries from the reverse index.
func (b *WSBroadcaster) Unregister(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unregisterLocked(clientID)
}

func (b *WSBroadcaster) unregisterLocked(clientID string) {
	c, ok := b.clients[clientID]
	if !ok {
		return
	}
	for ticker := range c.subscriptions {
		if set, ok := b.byTicker[ticker]; ok {
			delete(set, clientID)
			if len(set) == 0 {
				delete(b.byTicker, ticker)
			}
		}
	}
	delete(b.clients, clientID)
}

// Subscribe adds tickers to a client's subscription set, capped at
// maxSubscriptionsPerClient. Returns the tickers actually added.
func (b *WSBroadcaster) Subscribe(clientID string, tickers []string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("broadcast: unknown client %q", clientID)
	}

	var added []string
	for _, t := range tickers {
		t = normalizeTicker(t)
		if c.subscriptions[t] {
			continue
		}
		if len(c.subscriptions) >= b.maxPerClient {
			return added, fmt.Errorf("broadcast: client %q at subscription cap (%d)", clientID, b.maxPerClient)
		}
		c.subscriptions[t] = true
		if b.byTicker[t] == nil {
			b.byTicker[t] = make(map[string]bool)
		}
		b.byTicker[t][clientID] = true
		added = append(added, t)
	}
	return added, nil
}

// Unsubscribe removes tickers from a client's subscription set.
func (b *WSBroadcaster) Unsubscribe(clientID string, tickers []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[clientID]
	if !ok {
		return
	}
	for _, t := range tickers {
		t = normalizeTicker(t)
		delete(c.subscriptions, t)
		if set, ok := b.byTicker[t]; ok {
			delete(set, clientID)
			if len(set) == 0 {
				delete(b.byTicker, t)
			}
		}
	}
}

// BroadcastToSubscribers sends payload to every client subscribed to
// ticker. The subscriber list is snapshotted under the lock; the lock is
// released before any I/O. A client whose send fails is considered dead
// and unregistered.
func (b *WSBroadcaster) BroadcastToSubscribers(ticker string, eventType string, payload interface{}) error {
	encoded, err := encodeWSPayload(eventType, payload)
	if err != nil {
		return err
	}

	ticker = normalizeTicker(ticker)
	b.mu.Lock()
	ids := b.byTicker[ticker]
	targets := make([]*wsClient, 0, len(ids))
	for id := range ids {
		if c, ok := b.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	b.sendToClients(targets, encoded)
	return nil
}

// BroadcastPrices groups prices by each client's subscription set and sends
// one `price_batch` message per client containing only the tickers that
// client subscribed to. The wire shape is {"type":"price_batch","prices":
// {ticker: {...}}}, a map keyed by ticker rather than an array of pairs, to
// match the documented external WS contract.
func (b *WSBroadcaster) BroadcastPrices(prices map[string]interface{}) error {
	type delivery struct {
		client *wsClient
		ticks  map[string]interface{}
	}

	b.mu.Lock()
	deliveries := make([]delivery, 0, len(b.clients))
	for _, c := range b.clients {
		var ticks map[string]interface{}
		for ticker, data := range prices {
			if c.subscriptions[ticker] {
				if ticks == nil {
					ticks = make(map[string]interface{})
				}
				ticks[ticker] = data
			}
		}
		if len(ticks) > 0 {
			deliveries = append(deliveries, delivery{client: c, ticks: ticks})
		}
	}
	b.mu.Unlock()

	for _, d := range deliveries {
		encoded, err := encodePriceBatch(d.ticks)
		if err != nil {
			return err
		}
		b.sendToClients([]*wsClient{d.client}, encoded)
	}
	return nil
}

func (b *WSBroadcaster) sendToClients(targets []*wsClient, encoded []byte) {
	var dead []string
	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, encoded)
		cancel()
		if err != nil {
			b.log.Warn().Err(err).Str("client_id", c.id).Msg("ws send failed, dropping client")
			dead = append(dead, c.id)
		}
	}
	if len(dead) == 0 {
		return
	}
	b.mu.Lock()
	for _, id := range dead {
		b.unregisterLocked(id)
	}
	b.mu.Unlock()
}

func encodeWSPayload(eventType string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(map[string]interface{}{
		"type": eventType,
		"data": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast: payload not JSON-serialisable: %w", err)
	}
	if len(encoded) > maxPayloadBytes {
		return nil, fmt.Errorf("broadcast: payload %d bytes exceeds %d byte limit", len(encoded), maxPayloadBytes)
	}
	return encoded, nil
}

// encodePriceBatch encodes a price_batch message with prices keyed by
// ticker under a "prices" field, per the documented external WS contract.
func encodePriceBatch(prices map[string]interface{}) ([]byte, error) {
	encoded, err := json.Marshal(map[string]interface{}{
		"type":   "price_batch",
		"prices": prices,
	})
	if err != nil {
		return nil, fmt.Errorf("broadcast: payload not JSON-serialisable: %w", err)
	}
	if len(encoded) > maxPayloadBytes {
		return nil, fmt.Errorf("broadcast: payload %d bytes exceeds %d byte limit", len(encoded), maxPayloadBytes)
	}
	return encoded, nil
}

func normalizeTicker(t string) string {
	out := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// ClientCount returns the number of currently registered WS clients.
func (b *WSBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// AcceptWS upgrades an HTTP connection and returns the live connection. It
// does not register the client; the caller passes the connection to
// Register and runs the read loop.
func AcceptWS(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*websocket.Conn, error) {
	return websocket.Accept(w, r, opts)
}
