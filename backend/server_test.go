package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheKrainBow/tetris-ai/engine"
)

type testEnvelope struct {
	Type     string          `json:"type"`
	PlayerID json.RawMessage `json:"playerId"`
	Payload  json.RawMessage `json:"payload"`
	Error    string          `json:"error"`
}

func testServerConfig() Config {
	cfg := DefaultConfig()
	cfg.ThinkTimeMs = 10
	cfg.Intervals = 2
	cfg.StepsPerInterval = 40
	cfg.EvalCacheSize = 1 << 12
	cfg.EvalCacheBuckets = 2
	cfg.Engine.MaxNodes = 20000
	return cfg
}

func newTestServer(t *testing.T, cfg Config) (*app, *httptest.Server) {
	t.Helper()
	old := GetConfig()
	configStore.Update(cfg)
	t.Cleanup(func() { configStore.Update(old) })

	ctx, cancel := context.WithCancel(context.Background())
	a := newApp(ctx, cfg, zerolog.Nop(), newEvalCache(cfg))
	go a.hub.Run(ctx.Done())
	go a.ghost.Run(ctx.Done())
	srv := httptest.NewServer(a.routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return a, srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the next message of the wanted type, skipping heartbeats
// and broadcasts.
func readUntil(t *testing.T, conn *websocket.Conn, want string) testEnvelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)
		var env testEnvelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == want {
			return env
		}
		if env.Type == "ping" || env.Type == "config" || env.Type == "ghost" {
			continue
		}
		t.Fatalf("expected %s, got %s: %s", want, env.Type, data)
	}
}

func sendWS(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg := map[string]any{"type": msgType}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func emptyRequest(playerID any, current string, next ...string) map[string]any {
	return map[string]any{
		"playerId":    playerID,
		"board":       make([]uint16, engine.Height),
		"currentMino": current,
		"holdMino":    "",
		"nextMinos":   next,
		"b2b":         0,
		"ren":         0,
	}
}

func TestWebsocketAnnouncesReadyThenAnswersRequestMove(t *testing.T) {
	_, srv := newTestServer(t, testServerConfig())
	conn := dialWS(t, srv, "/ws/")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"aiReady"}`, string(first))

	sendWS(t, conn, "requestMove", emptyRequest(1, "T", "I", "O", "L", "J", "S"))
	reply := readUntil(t, conn, "bestMove")
	assert.Equal(t, "1", string(reply.PlayerID))
	assert.Empty(t, reply.Error)

	var move moveDTO
	require.NoError(t, json.Unmarshal(reply.Payload, &move))
	assert.Contains(t, []string{"T", "I"}, move.Piece)
	assert.Equal(t, move.Piece == "I", move.Hold)
	assert.Len(t, move.Cells, 4)
	require.NotEmpty(t, move.Path)
	assert.Equal(t, "hard_drop", move.Path[len(move.Path)-1])
}

func TestWebsocketCommitReusesTree(t *testing.T) {
	cfg := testServerConfig()
	cfg.Engine.Rules.AllowHold = false
	a, srv := newTestServer(t, cfg)
	conn := dialWS(t, srv, "/ws/")
	readUntil(t, conn, "aiReady")

	sendWS(t, conn, "requestMove", emptyRequest("p1", "T", "I", "O", "L", "J", "S"))
	reply := readUntil(t, conn, "bestMove")
	var dto moveDTO
	require.NoError(t, json.Unmarshal(reply.Payload, &dto))
	assert.Equal(t, "T", dto.Piece)

	sendWS(t, conn, "commitMove", map[string]any{"move": dto})

	m, err := moveFromDTO(&dto)
	require.NoError(t, err)
	locked, err := engine.Lock(engine.Board{}, m, engine.Counters{})
	require.NoError(t, err)
	next := map[string]any{
		"playerId":    "p1",
		"board":       locked.Board.Rows(),
		"currentMino": "I",
		"holdMino":    "",
		"nextMinos":   []string{"O", "L", "J", "S", "Z"},
		"b2b":         locked.Counters.B2B,
		"ren":         locked.Counters.Ren,
	}
	sendWS(t, conn, "requestMove", next)
	second := readUntil(t, conn, "bestMove")
	require.NoError(t, json.Unmarshal(second.Payload, &dto))
	assert.Equal(t, "I", dto.Piece)

	require.Eventually(t, func() bool {
		sessions := a.hub.Sessions()
		return len(sessions) == 1 && sessions[0].Searches == 2 && sessions[0].Reused == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebsocketRejectsBadMessagesAndKeepsServing(t *testing.T) {
	_, srv := newTestServer(t, testServerConfig())
	conn := dialWS(t, srv, "/ws/")
	readUntil(t, conn, "aiReady")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var payload errorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "error").Payload, &payload))
	assert.Equal(t, codeBadMessage, payload.Code)

	sendWS(t, conn, "requestMove", map[string]any{"currentMino": "Q"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "error").Payload, &payload))
	assert.Equal(t, codeInvalidRequest, payload.Code)

	sendWS(t, conn, "dance", nil)
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "error").Payload, &payload))
	assert.Equal(t, codeUnknownType, payload.Code)

	sendWS(t, conn, "commitMove", map[string]any{"move": map[string]any{"piece": "T"}})
	sendWS(t, conn, "reset", nil)
	sendWS(t, conn, "requestMove", emptyRequest(7, "O", "I"))
	reply := readUntil(t, conn, "bestMove")
	assert.Equal(t, "7", string(reply.PlayerID))
	assert.NotEqual(t, "null", string(reply.Payload))
}

func TestWebsocketReportsNoMove(t *testing.T) {
	_, srv := newTestServer(t, testServerConfig())
	conn := dialWS(t, srv, "/ws/")
	readUntil(t, conn, "aiReady")

	rows := make([]uint16, engine.Height)
	for i := range rows {
		rows[i] = 0b0111111111
	}
	req := emptyRequest(3, "T", "I", "O")
	req["board"] = rows
	sendWS(t, conn, "requestMove", req)

	reply := readUntil(t, conn, "bestMove")
	assert.Equal(t, "null", string(reply.Payload))
	assert.Equal(t, codeNoMove, reply.Error)
}

func TestGhostStreamPublishesProgress(t *testing.T) {
	cfg := testServerConfig()
	cfg.GhostMode = true
	a, srv := newTestServer(t, cfg)
	ghost := dialWS(t, srv, "/ws/ghost")
	require.Eventually(t, a.ghost.HasClients, 2*time.Second, 5*time.Millisecond)

	conn := dialWS(t, srv, "/ws/")
	readUntil(t, conn, "aiReady")
	sendWS(t, conn, "requestMove", emptyRequest(1, "L", "J"))
	readUntil(t, conn, "bestMove")

	update := readUntil(t, ghost, "ghost")
	var payload ghostPayload
	require.NoError(t, json.Unmarshal(update.Payload, &payload))
	assert.NotEmpty(t, payload.SessionID)
	assert.Equal(t, cfg.Intervals, payload.Intervals)
	assert.Positive(t, payload.Nodes)
}

func TestHTTPPingAndConfig(t *testing.T) {
	_, srv := newTestServer(t, testServerConfig())

	resp, err := http.Get(srv.URL + "/api/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := bytes.NewBufferString(`{"think_time_ms": 40, "intervals": 4}`)
	resp, err = http.Post(srv.URL+"/api/config", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, 40, updated.ThinkTimeMs)
	assert.Equal(t, 4, updated.Intervals)
	assert.Equal(t, testServerConfig().StepsPerInterval, updated.StepsPerInterval)
	assert.Equal(t, 40, GetConfig().ThinkTimeMs)

	resp, err = http.Post(srv.URL+"/api/config", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPOneShotMove(t *testing.T) {
	a, _ := newTestServer(t, testServerConfig())
	handler := a.routes()

	data, err := json.Marshal(emptyRequest("solo", "S", "Z", "T"))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/move", bytes.NewReader(data)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		testEnvelope
		Stats moveStatsDTO `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bestMove", resp.Type)
	assert.Equal(t, `"solo"`, string(resp.PlayerID))
	var move moveDTO
	require.NoError(t, json.Unmarshal(resp.Payload, &move))
	assert.Contains(t, []string{"S", "Z"}, move.Piece)
	assert.Positive(t, resp.Stats.Nodes)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/move", strings.NewReader(`{"currentMino":"W"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPEvalCacheEndpoints(t *testing.T) {
	a, _ := newTestServer(t, testServerConfig())
	handler := a.routes()
	a.cache.Store(0x1, 0x2, 3.5)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/eval", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status evalCacheStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Count)
	assert.Equal(t, a.cache.Capacity(), status.Capacity)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cache/eval/entries?limit=500", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entries evalCacheEntriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Equal(t, 100, entries.Limit)
	require.Len(t, entries.Items, 1)
	assert.Equal(t, "0x0000000000000001", entries.Items[0].Hash)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/cache/eval", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, a.cache.Count())
}

func TestHTTPSessionsListsConnectedClients(t *testing.T) {
	_, srv := newTestServer(t, testServerConfig())
	conn := dialWS(t, srv, "/ws/")
	readUntil(t, conn, "aiReady")

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	var sessions sessionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	require.Equal(t, 1, sessions.Total)
	assert.True(t, sessions.Sessions[0].Ready)
	assert.Equal(t, "idle", sessions.Sessions[0].State)
	assert.NotEmpty(t, sessions.Sessions[0].ID)
}

func TestWebsocketPondersBetweenReplyAndCommit(t *testing.T) {
	cfg := testServerConfig()
	cfg.Intervals = 1
	cfg.StepsPerInterval = 5
	cfg.PonderEnabled = true
	cfg.PonderSteps = 5
	cfg.Engine.MaxNodes = 60000
	cfg.Engine.Rules.AllowHold = false
	a, srv := newTestServer(t, cfg)
	conn := dialWS(t, srv, "/ws/")
	readUntil(t, conn, "aiReady")

	sendWS(t, conn, "requestMove", emptyRequest("p1", "T", "I", "O", "L", "J", "S"))
	reply := readUntil(t, conn, "bestMove")
	var dto moveDTO
	require.NoError(t, json.Unmarshal(reply.Payload, &dto))

	require.Eventually(t, func() bool {
		sessions := a.hub.Sessions()
		return len(sessions) == 1 && sessions[0].Expansions > cfg.StepsPerInterval
	}, 5*time.Second, 5*time.Millisecond, "search kept expanding after the reply")

	sendWS(t, conn, "commitMove", map[string]any{"move": dto})
	m, err := moveFromDTO(&dto)
	require.NoError(t, err)
	locked, err := engine.Lock(engine.Board{}, m, engine.Counters{})
	require.NoError(t, err)
	sendWS(t, conn, "requestMove", map[string]any{
		"playerId":    "p1",
		"board":       locked.Board.Rows(),
		"currentMino": "I",
		"holdMino":    "",
		"nextMinos":   []string{"O", "L", "J", "S", "Z"},
		"b2b":         locked.Counters.B2B,
		"ren":         locked.Counters.Ren,
	})
	readUntil(t, conn, "bestMove")

	require.Eventually(t, func() bool {
		sessions := a.hub.Sessions()
		return len(sessions) == 1 && sessions[0].Searches == 2 && sessions[0].Reused == 1
	}, 2*time.Second, 10*time.Millisecond)
}
