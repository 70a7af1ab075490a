package main

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Hub tracks every connected move-request client and fans config changes out
// to them.
type Hub struct {
	mu              sync.Mutex
	clients         map[*Client]struct{}
	broadcastConfig chan Config
}

type Client struct {
	hub         *Hub
	session     *Session
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type configPayload struct {
	Config Config `json:"config"`
}

type sessionInfoDTO struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Ready       bool   `json:"ready"`
	Nodes       int    `json:"nodes"`
	Expansions  int    `json:"expansions"`
	Searches    int    `json:"searches"`
	Reused      int    `json:"reused"`
	Requests    uint64 `json:"requests"`
	ConnectedAt int64  `json:"connected_at_ms"`
}

type sessionsResponse struct {
	Sessions []sessionInfoDTO `json:"sessions"`
	Total    int              `json:"total"`
}

func NewHub() *Hub {
	return &Hub{
		clients:         make(map[*Client]struct{}),
		broadcastConfig: make(chan Config, 8),
	}
}

func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case cfg := <-h.broadcastConfig:
			h.mu.Lock()
			for client := range h.clients {
				client.sendJSON(wsMessage{Type: "config", Payload: mustMarshal(configPayload{Config: cfg})})
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) HasClients() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients) > 0
}

// PublishConfig queues a config update; it is dropped when the queue is full.
func (h *Hub) PublishConfig(cfg Config) {
	select {
	case h.broadcastConfig <- cfg:
	default:
	}
}

// Sessions lists the connected sessions, oldest first.
func (h *Hub) Sessions() []sessionInfoDTO {
	h.mu.Lock()
	out := make([]sessionInfoDTO, 0, len(h.clients))
	for client := range h.clients {
		if client.session == nil {
			continue
		}
		info := client.session.Info()
		info.ConnectedAt = client.connectedAt.UnixMilli()
		out = append(out, info)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt != out[j].ConnectedAt {
			return out[i].ConnectedAt < out[j].ConnectedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Client) sendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.sendRaw(data)
}

// sendRaw never blocks; a client that stops reading loses messages.
func (c *Client) sendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}
