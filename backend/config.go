package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/TheKrainBow/tetris-ai/engine"
)

type Config struct {
	ListenAddr string `json:"listen_addr"`
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`
	GhostMode  bool   `json:"ghost_mode"`

	ThinkTimeMs      int  `json:"think_time_ms"`
	Intervals        int  `json:"intervals"`
	StepsPerInterval int  `json:"steps_per_interval"`
	PonderEnabled    bool `json:"ponder_enabled"`
	PonderSteps      int  `json:"ponder_steps"`
	ThinkWorkers     int  `json:"think_workers"`
	LogSearchStats   bool `json:"log_search_stats"`

	EvalCacheSize          int    `json:"eval_cache_size"`
	EvalCacheBuckets       int    `json:"eval_cache_buckets"`
	EnableCachePersistence bool   `json:"enable_cache_persistence"`
	CachePersistencePath   string `json:"cache_persistence_path"`

	Engine engine.Config `json:"engine"`
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		LogFormat:  "console",
		GhostMode:  false,

		// 10 slices of 100 expansions spread over 150ms
		ThinkTimeMs:      150,
		Intervals:        10,
		StepsPerInterval: 100,

		// Pondering keeps a core busy between requests
		PonderEnabled: false,
		PonderSteps:   50,
		ThinkWorkers:  0, // one per CPU

		LogSearchStats: false,

		EvalCacheSize:          1 << 18,
		EvalCacheBuckets:       4,
		EnableCachePersistence: false,
		CachePersistencePath:   "eval_cache.gob",

		Engine: engine.DefaultConfig(),
	}
}

// normalized replaces unusable values with their defaults.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
	if c.ThinkTimeMs < 0 {
		c.ThinkTimeMs = 0
	}
	if c.Intervals <= 0 {
		c.Intervals = def.Intervals
	}
	if c.StepsPerInterval <= 0 {
		c.StepsPerInterval = def.StepsPerInterval
	}
	if c.PonderSteps <= 0 {
		c.PonderSteps = def.PonderSteps
	}
	if c.EvalCacheSize <= 0 {
		c.EvalCacheSize = def.EvalCacheSize
	}
	if c.EvalCacheBuckets <= 0 {
		c.EvalCacheBuckets = def.EvalCacheBuckets
	}
	if c.Engine.MaxNodes <= 0 {
		c.Engine.MaxNodes = def.Engine.MaxNodes
	}
	return c
}

type ConfigStore struct {
	mu     sync.RWMutex
	config Config
}

var configStore = &ConfigStore{config: DefaultConfig()}

func GetConfig() Config {
	return configStore.Get()
}

func (c *ConfigStore) Get() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

func (c *ConfigStore) Update(newConfig Config) {
	c.mu.Lock()
	c.config = newConfig.normalized()
	c.mu.Unlock()
}

// loadConfig layers the JSON file at path (if any) and then environment
// overrides on top of the defaults.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	cfg, err := applyEnvOverrides(cfg, getenv)
	if err != nil {
		return cfg, err
	}
	return cfg.normalized(), nil
}

func applyEnvOverrides(cfg Config, getenv func(string) string) (Config, error) {
	if v := getenv("TETRIS_AI_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("TETRIS_AI_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := getenv("TETRIS_AI_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := getenv("TETRIS_AI_CACHE_PATH"); v != "" {
		cfg.CachePersistencePath = v
		cfg.EnableCachePersistence = true
	}
	if v := getenv("TETRIS_AI_THINK_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("TETRIS_AI_THINK_WORKERS: %w", err)
		}
		cfg.ThinkWorkers = n
	}
	if v := getenv("TETRIS_AI_PONDER"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("TETRIS_AI_PONDER: %w", err)
		}
		cfg.PonderEnabled = on
	}
	if v := getenv("TETRIS_AI_GHOST"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("TETRIS_AI_GHOST: %w", err)
		}
		cfg.GhostMode = on
	}
	return cfg, nil
}
