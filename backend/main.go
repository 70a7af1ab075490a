package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/errgroup"

	"github.com/TheKrainBow/tetris-ai/engine"
)

type evalCacheStatusResponse struct {
	Count         int     `json:"count"`
	Capacity      int     `json:"capacity"`
	Usage         float64 `json:"usage"`
	Full          bool    `json:"full"`
	EntryBytes    uint64  `json:"entry_bytes"`
	UsedBytes     uint64  `json:"used_bytes"`
	CapacityBytes uint64  `json:"capacity_bytes"`
	Probes        uint64  `json:"probes"`
	Hits          uint64  `json:"hits"`
	HitRate       float64 `json:"hit_rate"`
	Generation    uint32  `json:"generation"`
}

type evalCacheEntryDTO struct {
	Hash        string  `json:"hash"`
	Tag         string  `json:"tag"`
	Score       float64 `json:"score"`
	Hits        uint32  `json:"hits"`
	GenWritten  uint32  `json:"gen_written"`
	GenLastUsed uint32  `json:"gen_last_used"`
}

type evalCacheEntriesResponse struct {
	Items  []evalCacheEntryDTO `json:"items"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"`
	Total  int                 `json:"total"`
}

type moveStatsDTO struct {
	Nodes      int   `json:"nodes"`
	Expansions int   `json:"expansions"`
	ElapsedMs  int64 `json:"elapsed_ms"`
}

type oneShotMoveResponse struct {
	bestMoveMessage
	Stats moveStatsDTO `json:"stats"`
}

// app holds the process-wide services the handlers share.
type app struct {
	ctx       context.Context
	logger    zerolog.Logger
	hub       *Hub
	ghost     *GhostHub
	cache     *engine.EvalCache
	scheduler *thinkScheduler
}

func newApp(ctx context.Context, cfg Config, logger zerolog.Logger, cache *engine.EvalCache) *app {
	workers := thinkWorkerCount(cfg, runtime.NumCPU())
	logger.Info().Int("think_workers", workers).Msg("think scheduler ready")
	return &app{
		ctx:       ctx,
		logger:    logger,
		hub:       NewHub(),
		ghost:     NewGhostHub(),
		cache:     cache,
		scheduler: newThinkScheduler(workers),
	}
}

func (a *app) sessionDeps() sessionDeps {
	return sessionDeps{
		cache:        a.cache,
		scheduler:    a.scheduler,
		logger:       a.logger,
		ghostEnabled: func() bool { return a.ghost.HasClients() && GetConfig().GhostMode },
		ghostPublish: a.ghost.Publish,
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg, cfgErr := loadConfig(os.Getenv("TETRIS_AI_CONFIG"), os.Getenv)
	logger := newLogger(cfg, os.Stderr)
	if cfgErr != nil {
		logger.Fatal().Err(cfgErr).Msg("load config")
	}
	configStore.Update(cfg)
	zerolog.DefaultContextLogger = &logger

	cache := newEvalCache(cfg)
	loadEvalCachePersistence(cfg, cache, logger)

	var persistOnce sync.Once
	persistOnShutdown := func(reason string) {
		persistOnce.Do(func() {
			logger.Info().Str("reason", reason).Msg("persisting eval cache")
			_ = persistEvalCachePersistence(GetConfig(), cache, logger)
		})
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error().Interface("panic", recovered).Msg("panic recovered in main")
			persistOnShutdown("panic")
		}
	}()
	defer persistOnShutdown("exit")

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	g, ctx := errgroup.WithContext(sigCtx)

	a := newApp(ctx, cfg, logger, cache)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.hub.Run(ctx.Done())
		return nil
	})
	g.Go(func() error {
		a.ghost.Run(ctx.Done())
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Err(context.Cause(ctx)).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
			if closeErr := server.Close(); closeErr != nil && !errors.Is(closeErr, http.ErrServerClosed) {
				logger.Warn().Err(closeErr).Msg("forced close failed")
			}
		}
		return nil
	})

	runErr := g.Wait()
	persistOnShutdown("shutdown")
	if runErr != nil {
		logger.Error().Err(runErr).Msg("exiting after server error")
	}
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(a.logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Get("/api/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, GetConfig())
	})
	r.Post("/api/config", func(w http.ResponseWriter, r *http.Request) {
		cfg := GetConfig()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, errorPayload{Code: codeInvalidRequest, Message: "invalid payload"})
			return
		}
		configStore.Update(cfg)
		updated := GetConfig()
		hlog.FromRequest(r).Info().Msg("config updated")
		a.hub.PublishConfig(updated)
		writeJSON(w, http.StatusOK, updated)
	})

	r.Post("/api/move", a.handleOneShotMove)

	r.Get("/api/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions := a.hub.Sessions()
		writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions, Total: len(sessions)})
	})

	r.Get("/api/cache/eval", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, evalCacheStatus(a.cache))
	})
	r.Delete("/api/cache/eval", func(w http.ResponseWriter, r *http.Request) {
		a.cache.Clear()
		hlog.FromRequest(r).Info().Msg("eval cache cleared")
		writeJSON(w, http.StatusOK, map[string]any{
			"cleared": true,
		})
	})
	r.Get("/api/cache/eval/entries", func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}
		if offset < 0 {
			offset = 0
		}
		writeJSON(w, http.StatusOK, evalCacheEntries(a.cache, offset, limit))
	})

	r.Get("/ws/", a.serveWS)
	r.Get("/ws/ghost", func(w http.ResponseWriter, r *http.Request) {
		serveGhostWS(a.ghost, *hlog.FromRequest(r), w, r)
	})
	return r
}

func (a *app) handleOneShotMove(w http.ResponseWriter, r *http.Request) {
	var req requestMovePayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: codeInvalidRequest, Message: err.Error()})
		return
	}
	snapshot, err := snapshotFromRequest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: codeInvalidRequest, Message: err.Error()})
		return
	}
	cfg := GetConfig()
	deps := a.sessionDeps()
	deps.logger = *hlog.FromRequest(r)
	best, stats, err := thinkOnce(r.Context(), cfg, deps, snapshot)
	resp := oneShotMoveResponse{
		bestMoveMessage: bestMoveMessage{Type: "bestMove", PlayerID: req.PlayerID},
		Stats: moveStatsDTO{
			Nodes:      stats.Nodes,
			Expansions: stats.Expansions,
			ElapsedMs:  stats.Elapsed().Milliseconds(),
		},
	}
	switch {
	case err == nil:
		resp.Payload = moveToDTO(best)
	case errors.Is(err, engine.ErrNoMoveFound):
		resp.Error = codeNoMove
	case errors.Is(err, engine.ErrInvalidSnapshot):
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: codeInvalidRequest, Message: err.Error()})
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, errorPayload{Code: codeInternal, Message: err.Error()})
		return
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("one-shot move failed")
		writeJSON(w, http.StatusInternalServerError, errorPayload{Code: codeInternal, Message: err.Error()})
		return
	}
	if cfg.LogSearchStats {
		logSearchStats(*hlog.FromRequest(r), "one-shot", stats)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *app) serveWS(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	client := &Client{hub: a.hub, connectedAt: time.Now(), send: make(chan []byte, 16)}
	session := newSession(a.sessionDeps(), client.sendJSON)
	client.session = session
	a.hub.Register(client)
	defer func() {
		cancel()
		a.hub.Unregister(client)
	}()

	go func() {
		defer conn.Close()
		if err := writeWSWithHeartbeat(conn, client.send); err != nil {
			logger.Debug().Err(err).Msg("websocket writer stopped")
		}
	}()
	go session.Run(ctx)
	logger.Info().Str("session", session.ID()).Msg("session connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info().Str("session", session.ID()).Msg("session disconnected")
			return
		}
		reply, err := deliverFrame(ctx, session, data)
		if reply != nil {
			client.sendJSON(reply)
		}
		if err != nil {
			return
		}
	}
}

// deliverFrame decodes one client frame and queues it on the session. The
// returned reply is an error envelope for frames the session never sees; a
// non-nil error means the connection should close.
func deliverFrame(ctx context.Context, session *Session, data []byte) (*wsMessage, error) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		session.logger.Warn().Err(err).Msg("malformed websocket message")
		reply := errorMessage(codeBadMessage, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return &reply, nil
	}
	if msg.Type == "" {
		reply := errorMessage(codeBadMessage, fmt.Errorf("%w: missing type", errInvalidPayload))
		return &reply, nil
	}
	if err := session.Deliver(ctx, msg); err != nil {
		if errors.Is(err, errEngineNotReady) {
			session.logger.Warn().Str("type", msg.Type).Msg("message before engine ready")
			reply := errorMessage(codeNotReady, err)
			return &reply, nil
		}
		return nil, err
	}
	return nil, nil
}

func evalCacheStatus(cache *engine.EvalCache) evalCacheStatusResponse {
	if cache == nil {
		return evalCacheStatusResponse{}
	}
	count := cache.Count()
	capacity := cache.Capacity()
	entryBytes := uint64(unsafe.Sizeof(engine.CacheEntry{}))
	probes, hits := cache.HitRate()
	resp := evalCacheStatusResponse{
		Count:         count,
		Capacity:      capacity,
		EntryBytes:    entryBytes,
		UsedBytes:     uint64(count) * entryBytes,
		CapacityBytes: uint64(capacity) * entryBytes,
		Probes:        probes,
		Hits:          hits,
		Generation:    cache.Generation(),
	}
	if capacity > 0 {
		resp.Usage = float64(count) / float64(capacity)
		resp.Full = count >= capacity
	}
	if probes > 0 {
		resp.HitRate = float64(hits) / float64(probes)
	}
	return resp
}

func evalCacheEntries(cache *engine.EvalCache, offset int, limit int) evalCacheEntriesResponse {
	if cache == nil {
		return evalCacheEntriesResponse{Items: []evalCacheEntryDTO{}, Offset: offset, Limit: limit}
	}
	entries, total := cache.TopEntriesByHits(offset, limit)
	items := make([]evalCacheEntryDTO, 0, len(entries))
	for _, entry := range entries {
		items = append(items, evalCacheEntryDTO{
			Hash:        fmt.Sprintf("0x%016x", entry.Key),
			Tag:         fmt.Sprintf("0x%016x", entry.Tag),
			Score:       entry.Score,
			Hits:        entry.Hits,
			GenWritten:  entry.GenWritten,
			GenLastUsed: entry.GenLastUsed,
		})
	}
	return evalCacheEntriesResponse{
		Items:  items,
		Offset: offset,
		Limit:  limit,
		Total:  total,
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
