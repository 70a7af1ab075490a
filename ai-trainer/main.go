package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/TheKrainBow/tetris-ai/engine"
)

type trainerStatus struct {
	Running    bool           `json:"running"`
	Mode       string         `json:"mode"`
	Phase      string         `json:"phase"`
	Message    string         `json:"message"`
	StartedAt  string         `json:"started_at"`
	UpdatedAt  string         `json:"updated_at"`
	Generation int            `json:"generation"`
	Champion   engine.Weights `json:"champion"`
	Standings  []contender    `json:"standings,omitempty"`
	Benchmark  *matchSummary  `json:"benchmark,omitempty"`
}

type trainer struct {
	logger      zerolog.Logger
	apiAddr     string
	generations int
	benchGames  int
	weightsPath string
	tuner       *tuner

	statusMu  sync.RWMutex
	status    trainerStatus
	jobMu     sync.Mutex
	jobCancel context.CancelFunc
	jobDone   chan struct{}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	outDir := getenv("TRAINER_OUT_DIR", "logs")
	logger, closeLog, err := buildLogger(filepath.Join(outDir, "AITrainer.log"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	mode := getenv("TRAINER_MODE", "bench")
	autostart := getenv("TRAINER_AUTOSTART", "")
	populationSize := max(getenvInt("TRAINER_POPULATION_SIZE", 8), 2)
	eliteCount := getenvInt("TRAINER_ELITE_COUNT", 2)
	if eliteCount >= populationSize {
		eliteCount = populationSize - 1
	}
	mutationStrength := getenvFloat("TRAINER_MUTATION_STRENGTH", 0.1)
	if mutationStrength <= 0 {
		mutationStrength = 0.1
	}
	seed := uint64(getenvInt("TRAINER_SEED", 0))
	if seed == 0 {
		seed = newSeed()
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.MaxNodes = getenvInt("TRAINER_MAX_NODES", 50000)
	settings := gameSettings{
		Pieces:       getenvInt("TRAINER_PIECES_PER_GAME", 300),
		StepsPerMove: getenvInt("TRAINER_STEPS_PER_MOVE", 1000),
		Preview:      getenvInt("TRAINER_PREVIEW", 5),
		Engine:       engineCfg,
	}

	t := &trainer{
		logger:      logger,
		apiAddr:     getenv("TRAINER_API_ADDR", ":8090"),
		generations: getenvInt("TRAINER_GENERATIONS", 0),
		benchGames:  getenvInt("TRAINER_BENCH_GAMES", 16),
		weightsPath: getenv("TRAINER_WEIGHTS", ""),
		tuner: &tuner{
			settings:         settings,
			populationSize:   populationSize,
			eliteCount:       eliteCount,
			gamesPerRound:    getenvInt("TRAINER_GAMES_PER_ROUND", 8),
			validationGames:  getenvInt("TRAINER_VALIDATION_GAMES", 16),
			mutationStrength: mutationStrength,
			promoteMargin:    getenvFloat("TRAINER_PROMOTE_MARGIN", 0.5),
			parallel:         getenvInt("TRAINER_PARALLEL", runtime.NumCPU()),
			outDir:           outDir,
			rng:              rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
			cache:            engine.NewEvalCache(1<<18, 4),
		},
		status: trainerStatus{
			Mode:      mode,
			Phase:     "idle",
			Message:   "service ready",
			StartedAt: time.Now().UTC().Format(time.RFC3339),
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
	t.tuner.report = t.reportGeneration

	t.logger.Info().Str("mode", mode).Uint64("seed", seed).Int("pieces", settings.Pieces).
		Int("steps_per_move", settings.StepsPerMove).Msg("AI trainer service started")

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	server := t.startStatusAPI()

	if autostart != "" {
		startMode := autostart
		if startMode == "1" || startMode == "true" || startMode == "yes" {
			startMode = mode
		}
		if err := t.startTraining(startMode); err != nil {
			t.logger.Error().Err(err).Msg("autostart failed")
		}
	}

	<-sigCtx.Done()
	_ = t.stopTraining("shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	t.logger.Info().Msg("trainer service stopping")
}

func (t *trainer) startStatusAPI() *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/trainer/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "running": t.getStatus().Running})
	})
	r.Get("/api/trainer/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, t.getStatus())
	})
	r.Post("/api/trainer/start", func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("mode")
		if mode == "" {
			mode = t.getStatus().Mode
		}
		if err := t.startTraining(mode); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, t.getStatus())
	})
	r.Post("/api/trainer/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := t.stopTraining("requested"); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, t.getStatus())
	})

	server := &http.Server{Addr: t.apiAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error().Err(err).Msg("status API stopped")
		}
	}()
	return server
}

func (t *trainer) getStatus() trainerStatus {
	t.statusMu.RLock()
	defer t.statusMu.RUnlock()
	return t.status
}

func (t *trainer) updateStatus(mutator func(*trainerStatus)) {
	t.statusMu.Lock()
	mutator(&t.status)
	t.status.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	t.statusMu.Unlock()
}

func (t *trainer) startTraining(mode string) error {
	if mode != "bench" && mode != "tune" {
		return fmt.Errorf("unknown mode %q", mode)
	}
	t.jobMu.Lock()
	defer t.jobMu.Unlock()
	if t.jobCancel != nil {
		return errors.New("training already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.jobCancel = cancel
	t.jobDone = done
	t.updateStatus(func(s *trainerStatus) {
		s.Running = true
		s.Mode = mode
		s.Phase = "starting"
		s.Message = mode + " starting"
	})

	go func() {
		defer close(done)
		defer cancel()
		err := t.runMode(ctx, mode)
		t.jobMu.Lock()
		t.jobCancel = nil
		t.jobMu.Unlock()
		t.updateStatus(func(s *trainerStatus) {
			s.Running = false
			s.Phase = "idle"
			switch {
			case err == nil:
				s.Message = mode + " finished"
			case errors.Is(err, context.Canceled):
				s.Message = mode + " stopped"
			default:
				s.Phase = "error"
				s.Message = err.Error()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Error().Err(err).Str("mode", mode).Msg("training failed")
		}
	}()
	return nil
}

func (t *trainer) stopTraining(reason string) error {
	t.jobMu.Lock()
	cancel := t.jobCancel
	done := t.jobDone
	t.jobMu.Unlock()
	if cancel == nil {
		return errors.New("training not running")
	}
	t.logger.Info().Str("reason", reason).Msg("stopping training")
	cancel()
	<-done
	return nil
}

func (t *trainer) baseWeights() (engine.Weights, error) {
	if t.weightsPath == "" {
		return engine.DefaultWeights(), nil
	}
	return readWeightsFile(t.weightsPath)
}

func (t *trainer) runMode(ctx context.Context, mode string) error {
	base, err := t.baseWeights()
	if err != nil {
		return err
	}
	t.updateStatus(func(s *trainerStatus) {
		s.Phase = "running"
		s.Champion = base
	})
	switch mode {
	case "bench":
		return t.runBenchmark(ctx, base)
	default:
		champion, err := t.tuner.run(ctx, base, t.generations)
		t.updateStatus(func(s *trainerStatus) { s.Champion = champion })
		return err
	}
}

func (t *trainer) runBenchmark(ctx context.Context, weights engine.Weights) error {
	started := time.Now()
	summary, results, err := playMatch(ctx, t.tuner.settings, weights, seedList(t.benchGames), t.tuner.parallel, t.tuner.cache)
	if err != nil {
		return err
	}
	for _, r := range results {
		t.logger.Debug().Uint64("seed", r.Seed).Int("pieces", r.Pieces).Int("lines", r.Lines).
			Int("attack", r.Attack).Bool("topped_out", r.ToppedOut).Msg("game finished")
	}
	probes, hits := t.tuner.cache.HitRate()
	t.logger.Info().
		Int("games", summary.Games).
		Int("pieces", summary.Pieces).
		Int("lines", summary.Lines).
		Int("attack", summary.Attack).
		Int("top_outs", summary.TopOuts).
		Float64("attack_per_piece", summary.AttackPPS).
		Float64("fitness", summary.Fitness).
		Uint64("cache_probes", probes).
		Uint64("cache_hits", hits).
		Dur("elapsed", time.Since(started)).
		Msg("benchmark finished")
	t.updateStatus(func(s *trainerStatus) { s.Benchmark = &summary })
	return nil
}

func (t *trainer) reportGeneration(generation int, champion contender, ranked []contender) {
	best := ranked[0]
	t.logger.Info().
		Int("generation", generation).
		Str("best", best.ID).
		Float64("best_fitness", best.Summary.Fitness).
		Int("best_top_outs", best.Summary.TopOuts).
		Bool("champion_is_best", best.Weights == champion.Weights).
		Msg("generation finished")
	standings := append([]contender(nil), ranked[:min(len(ranked), 8)]...)
	t.updateStatus(func(s *trainerStatus) {
		s.Generation = generation
		s.Champion = champion.Weights
		s.Standings = standings
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func buildLogger(path string) (zerolog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return zerolog.Nop(), func() {}, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}
	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	logger := zerolog.New(io.MultiWriter(console, f)).With().Timestamp().Logger()
	return logger, func() { _ = f.Close() }, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
