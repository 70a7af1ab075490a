package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/TheKrainBow/tetris-ai/engine"
)

// ghostPayload is one progress update of a running think.
type ghostPayload struct {
	SessionID  string          `json:"session_id"`
	PlayerID   json.RawMessage `json:"player_id,omitempty"`
	Mode       string          `json:"mode"`
	Interval   int             `json:"interval"`
	Intervals  int             `json:"intervals"`
	Nodes      int             `json:"nodes"`
	Expansions int             `json:"expansions"`
	Best       *moveDTO        `json:"best,omitempty"`
	Score      float64         `json:"score,omitempty"`
	Active     bool            `json:"active"`
	Final      bool            `json:"final,omitempty"`
}

type GhostClient struct {
	hub  *GhostHub
	conn *websocket.Conn
	send chan []byte
}

type GhostHub struct {
	mu        sync.Mutex
	clients   map[*GhostClient]struct{}
	broadcast chan ghostPayload
}

func NewGhostHub() *GhostHub {
	return &GhostHub{
		clients:   make(map[*GhostClient]struct{}),
		broadcast: make(chan ghostPayload, 32),
	}
}

func (h *GhostHub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case payload := <-h.broadcast:
			h.mu.Lock()
			if len(h.clients) == 0 {
				h.mu.Unlock()
				continue
			}
			msg := mustMarshal(wsMessage{Type: "ghost", Payload: mustMarshal(payload)})
			for client := range h.clients {
				client.sendRaw(msg)
			}
			h.mu.Unlock()
		}
	}
}

func (h *GhostHub) Register(c *GhostClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *GhostHub) Publish(payload ghostPayload) {
	select {
	case h.broadcast <- payload:
	default:
	}
}

func (h *GhostHub) Unregister(c *GhostClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *GhostHub) HasClients() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients) > 0
}

func (c *GhostClient) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func serveGhostWS(hub *GhostHub, logger zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("ghost upgrade failed")
		return
	}
	client := &GhostClient{hub: hub, conn: conn, send: make(chan []byte, 16)}
	hub.Register(client)

	go func() {
		defer conn.Close()
		if err := writeWSWithHeartbeat(conn, client.send); err != nil {
			logger.Debug().Err(err).Msg("ghost writer stopped")
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			hub.Unregister(client)
			return
		}
	}
}

// progressFromEngine summarises the engine for a ghost update. chosen is the
// move sent to the client, path included; without it the leading root move
// is reported with no path.
func progressFromEngine(e *engine.Engine, mode string, interval, intervals int, chosen *engine.Move) ghostPayload {
	stats := e.Stats()
	payload := ghostPayload{
		Mode:       mode,
		Interval:   interval,
		Intervals:  intervals,
		Nodes:      stats.Nodes,
		Expansions: stats.Expansions,
		Active:     e.State() == engine.StateThinking,
	}
	if chosen != nil {
		payload.Best = moveToDTO(*chosen)
		payload.Score = chosen.Score
		return payload
	}
	if best, ok := leadingMove(e.RootMoves()); ok {
		payload.Best = moveToDTO(best)
		payload.Score = best.Score
	}
	return payload
}

// leadingMove picks the highest scored move, first one on ties.
func leadingMove(moves []engine.Move) (engine.Move, bool) {
	if len(moves) == 0 {
		return engine.Move{}, false
	}
	best := moves[0]
	for _, m := range moves[1:] {
		if m.Score > best.Score {
			best = m
		}
	}
	return best, true
}
