package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TheKrainBow/tetris-ai/engine"
)

// Session owns one engine and serves one client. All engine calls happen on
// the goroutine running Run; other goroutines only Deliver messages and read
// Info.
type Session struct {
	id       uuid.UUID
	logger   zerolog.Logger
	cache    *engine.EvalCache
	sched    *thinkScheduler
	out      func(msg any)
	inbox    chan wsMessage
	ready    atomic.Bool
	requests atomic.Uint64

	ghostEnabled func() bool
	ghostPublish func(ghostPayload)

	engine    *engine.Engine
	engineCfg engine.Config
	pending   *wsMessage
	pondering bool

	infoMu sync.Mutex
	info   sessionInfoDTO
}

type sessionDeps struct {
	cache        *engine.EvalCache
	scheduler    *thinkScheduler
	logger       zerolog.Logger
	ghostEnabled func() bool
	ghostPublish func(ghostPayload)
}

func newSession(deps sessionDeps, out func(msg any)) *Session {
	id := uuid.New()
	s := &Session{
		id:           id,
		logger:       deps.logger.With().Str("session", id.String()).Logger(),
		cache:        deps.cache,
		sched:        deps.scheduler,
		out:          out,
		inbox:        make(chan wsMessage, 16),
		ghostEnabled: deps.ghostEnabled,
		ghostPublish: deps.ghostPublish,
	}
	if s.ghostEnabled == nil {
		s.ghostEnabled = func() bool { return false }
	}
	if s.ghostPublish == nil {
		s.ghostPublish = func(ghostPayload) {}
	}
	s.info = sessionInfoDTO{ID: id.String(), State: engine.StateIdle.String()}
	return s
}

func (s *Session) ID() string { return s.id.String() }

func (s *Session) Ready() bool { return s.ready.Load() }

// Deliver queues a client message for the session goroutine. Heartbeat
// messages are dropped here so they never pre-empt a think.
func (s *Session) Deliver(ctx context.Context, msg wsMessage) error {
	if !s.ready.Load() {
		return errEngineNotReady
	}
	switch msg.Type {
	case "ping", "pong":
		return nil
	}
	select {
	case s.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Info() sessionInfoDTO {
	s.infoMu.Lock()
	info := s.info
	s.infoMu.Unlock()
	info.Ready = s.ready.Load()
	info.Requests = s.requests.Load()
	return info
}

// Run initialises the engine, announces readiness and serves messages until
// ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	s.ensureEngine(GetConfig())
	s.updateInfo()
	s.ready.Store(true)
	s.out(wsMessage{Type: "aiReady"})
	s.logger.Debug().Msg("session ready")
	for {
		msg, ok := s.next(ctx)
		if !ok {
			s.logger.Debug().Msg("session closed")
			return
		}
		s.dispatch(ctx, msg)
	}
}

func (s *Session) next(ctx context.Context) (wsMessage, bool) {
	if s.pending != nil {
		msg := *s.pending
		s.pending = nil
		return msg, true
	}
	for s.pondering {
		select {
		case <-ctx.Done():
			return wsMessage{}, false
		case msg := <-s.inbox:
			return msg, true
		default:
		}
		s.ponderSlice(ctx)
	}
	select {
	case <-ctx.Done():
		return wsMessage{}, false
	case msg := <-s.inbox:
		return msg, true
	}
}

func (s *Session) dispatch(ctx context.Context, msg wsMessage) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error().Interface("panic", recovered).Str("type", msg.Type).Msg("session panic recovered, resetting engine")
			s.pondering = false
			s.pending = nil
			if s.engine != nil {
				s.engine.Reset()
			}
			s.out(errorMessage(codeInternal, fmt.Errorf("internal error while handling %s", msg.Type)))
		}
		s.updateInfo()
	}()

	switch msg.Type {
	case "requestMove":
		s.handleRequestMove(ctx, msg.Payload)
	case "commitMove":
		s.handleCommitMove(msg.Payload)
	case "reset":
		s.pondering = false
		s.engine.Reset()
		s.logger.Debug().Msg("engine reset")
	default:
		s.reject(codeUnknownType, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (s *Session) reject(code string, err error) {
	s.logger.Warn().Err(err).Str("code", code).Msg("rejecting message")
	s.out(errorMessage(code, err))
}

func (s *Session) handleRequestMove(ctx context.Context, raw json.RawMessage) {
	var req requestMovePayload
	if err := json.Unmarshal(raw, &req); err != nil {
		s.reject(codeInvalidRequest, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	snapshot, err := snapshotFromRequest(req)
	if err != nil {
		s.reject(codeInvalidRequest, err)
		return
	}
	cfg := GetConfig()
	s.ensureEngine(cfg)
	s.requests.Add(1)
	s.pondering = false
	if s.engine.State() == engine.StateThinking {
		s.logger.Warn().Msg("move requested while a search is running, restarting")
		s.engine.Reset()
	}
	if err := s.engine.Start(snapshot); err != nil {
		s.reject(codeInvalidRequest, err)
		return
	}
	if !s.think(ctx, cfg, req.PlayerID) {
		return
	}
	s.replyBestMove(cfg, req.PlayerID)
}

// think runs cfg.Intervals slices spread over cfg.ThinkTimeMs. It returns
// false when a new message or cancellation cut it short.
func (s *Session) think(ctx context.Context, cfg Config, playerID json.RawMessage) bool {
	interval := time.Duration(cfg.ThinkTimeMs) * time.Millisecond / time.Duration(cfg.Intervals)
	ghost := s.ghostEnabled()
	for i := 0; i < cfg.Intervals; i++ {
		var stepErr error
		err := s.sched.Run(ctx, func() {
			_, stepErr = s.engine.StepBudgeted(cfg.StepsPerInterval)
		})
		if err != nil {
			return false
		}
		if stepErr != nil {
			s.logger.Error().Err(stepErr).Msg("search step failed")
			break
		}
		if ghost {
			s.publishProgress("think", i+1, cfg.Intervals, playerID, false, nil)
		}
		if s.engine.State() != engine.StateThinking || i == cfg.Intervals-1 {
			break
		}
		if !s.wait(ctx, interval) {
			return false
		}
	}
	return true
}

func (s *Session) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case msg := <-s.inbox:
		s.logger.Debug().Str("type", msg.Type).Msg("think pre-empted")
		s.pending = &msg
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) replyBestMove(cfg Config, playerID json.RawMessage) {
	reply := bestMoveMessage{Type: "bestMove", PlayerID: playerID}
	best, err := s.engine.BestMove()
	var final *engine.Move
	switch {
	case err == nil:
		reply.Payload = moveToDTO(best)
		final = &best
	case errors.Is(err, engine.ErrNoMoveFound):
		reply.Error = codeNoMove
	default:
		s.logger.Error().Err(err).Msg("best move unavailable")
		reply.Error = codeInternal
	}
	s.out(reply)
	if cfg.LogSearchStats {
		logSearchStats(s.logger, "think", s.engine.Stats())
	}
	if s.ghostEnabled() {
		s.publishProgress("think", cfg.Intervals, cfg.Intervals, playerID, true, final)
	}
	s.pondering = cfg.PonderEnabled && err == nil && s.engine.State() == engine.StateThinking
}

func (s *Session) handleCommitMove(raw json.RawMessage) {
	var payload commitMovePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.reject(codeInvalidRequest, fmt.Errorf("%w: %v", errInvalidPayload, err))
		return
	}
	m, err := moveFromDTO(payload.Move)
	if err != nil {
		s.reject(codeInvalidRequest, err)
		return
	}
	s.pondering = false
	if err := s.engine.Commit(m); err != nil {
		s.logger.Debug().Err(err).Msg("commit ignored")
	}
}

func (s *Session) ponderSlice(ctx context.Context) {
	steps := GetConfig().PonderSteps
	var stepErr error
	if err := s.sched.Run(ctx, func() {
		_, stepErr = s.engine.StepBudgeted(steps)
	}); err != nil || stepErr != nil {
		s.pondering = false
		return
	}
	if s.engine.State() != engine.StateThinking {
		s.pondering = false
		s.logger.Debug().EmbedObject(s.engine.Stats()).Msg("ponder finished")
	}
	s.updateInfo()
}

// ensureEngine rebuilds the engine when the engine section of the config
// changed since it was built.
func (s *Session) ensureEngine(cfg Config) {
	if s.engine != nil && s.engineCfg == cfg.Engine {
		return
	}
	if s.engine != nil {
		s.logger.Info().Msg("engine config changed, rebuilding engine")
	}
	s.engineCfg = cfg.Engine
	s.engine = engine.NewEngine(cfg.Engine,
		engine.WithLogger(s.logger),
		engine.WithEvalCache(s.cache),
	)
}

func (s *Session) publishProgress(mode string, interval, intervals int, playerID json.RawMessage, final bool, best *engine.Move) {
	payload := progressFromEngine(s.engine, mode, interval, intervals, best)
	payload.SessionID = s.id.String()
	payload.PlayerID = playerID
	payload.Final = final
	s.ghostPublish(payload)
}

func (s *Session) updateInfo() {
	if s.engine == nil {
		return
	}
	stats := s.engine.Stats()
	s.infoMu.Lock()
	s.info = sessionInfoDTO{
		ID:         s.id.String(),
		State:      s.engine.State().String(),
		Nodes:      stats.Nodes,
		Expansions: stats.Expansions,
		Searches:   stats.Searches,
		Reused:     stats.Reused,
	}
	s.infoMu.Unlock()
}

// thinkOnce runs a stateless search: a fresh engine, the configured number
// of slices back to back, and the best move.
func thinkOnce(ctx context.Context, cfg Config, deps sessionDeps, snapshot engine.Snapshot) (engine.Move, engine.Stats, error) {
	e := engine.NewEngine(cfg.Engine, engine.WithLogger(deps.logger), engine.WithEvalCache(deps.cache))
	if err := e.Start(snapshot); err != nil {
		return engine.Move{}, e.Stats(), err
	}
	for i := 0; i < cfg.Intervals && e.State() == engine.StateThinking; i++ {
		var stepErr error
		if err := deps.scheduler.Run(ctx, func() {
			_, stepErr = e.StepBudgeted(cfg.StepsPerInterval)
		}); err != nil {
			return engine.Move{}, e.Stats(), err
		}
		if stepErr != nil {
			return engine.Move{}, e.Stats(), stepErr
		}
	}
	best, err := e.BestMove()
	return best, e.Stats(), err
}
