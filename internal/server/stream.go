package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/tickerpulse/core/internal/broadcast"
)

func (s *Server) routeStream(r chi.Router) {
	r.Get("/stream", s.sse.ServeHTTP)
	r.Get("/ws/prices", s.handleWSPrices)
}

// wsMessage is the client->server control frame: {"op": "subscribe",
// "tickers": [...]}.
type wsMessage struct {
	Op      string   `json:"op"`
	Tickers []string `json:"tickers"`
}

// handleWSPrices upgrades the connection, registers it with the WS
// broadcaster, and loops reading subscribe/unsubscribe/refresh control
// frames until the client disconnects.
func (s *Server) handleWSPrices(w http.ResponseWriter, r *http.Request) {
	conn, err := broadcast.AcceptWS(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	clientID := s.ws.Register(conn)
	defer s.ws.Unregister(clientID)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Op {
		case "subscribe":
			if _, err := s.ws.Subscribe(clientID, msg.Tickers); err != nil {
				s.log.Debug().Err(err).Str("client_id", clientID).Msg("ws subscribe rejected")
			}
		case "unsubscribe":
			s.ws.Unsubscribe(clientID, msg.Tickers)
		case "refresh":
			s.refreshAndBroadcast(ctx, msg.Tickers)
		}
	}
}

// refreshAndBroadcast fetches a fresh quote per ticker and pushes a
// price_batch to subscribed clients immediately, for the client-initiated
// "refresh" op rather than waiting on the next scheduled price_refresh tick.
func (s *Server) refreshAndBroadcast(ctx context.Context, tickers []string) {
	prices := make(map[string]interface{}, len(tickers))
	for _, t := range tickers {
		q, err := s.providers.GetQuote(t)
		if err != nil {
			continue
		}
		prices[t] = q
	}
	if len(prices) == 0 {
		return
	}
	if err := s.ws.BroadcastPrices(prices); err != nil {
		s.log.Warn().Err(err).Msg("failed to broadcast refreshed prices")
	}
}
