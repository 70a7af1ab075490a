package main

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/TheKrainBow/tetris-ai/engine"
)

var dockerCacheDir = "/cache_logs"

type evalCachePersistenceSnapshot struct {
	Capacity   int
	Generation uint32
	Entries    []engine.CacheEntry
}

func newEvalCache(cfg Config) *engine.EvalCache {
	return engine.NewEvalCache(uint64(cfg.EvalCacheSize), cfg.EvalCacheBuckets)
}

// loadEvalCachePersistence fills cache from the configured snapshot and
// returns how many entries were restored.
func loadEvalCachePersistence(cfg Config, cache *engine.EvalCache, logger zerolog.Logger) int {
	if cache == nil || !cfg.EnableCachePersistence || cfg.CachePersistencePath == "" {
		logger.Info().Msg("restored eval cache persistence: 0 entries (disabled or no path)")
		return 0
	}
	path := resolveCachePersistencePath(cfg.CachePersistencePath)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("path", path).Msg("restored eval cache persistence: 0 entries (file not found)")
		} else {
			logger.Warn().Err(err).Str("path", path).Msg("failed to open eval cache persistence")
		}
		return 0
	}
	defer file.Close()

	var snapshot evalCachePersistenceSnapshot
	if err := gob.NewDecoder(file).Decode(&snapshot); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to decode eval cache persistence")
		return 0
	}
	if snapshot.Capacity != cache.Capacity() {
		logger.Info().Int("snapshot_capacity", snapshot.Capacity).Int("capacity", cache.Capacity()).
			Msg("eval cache persistence was written for another capacity; entries will be rehashed")
	}
	cache.RestoreGeneration(snapshot.Generation)
	loaded := cache.Load(snapshot.Entries)
	logger.Info().Str("path", path).Int("loaded", loaded).Int("stored", len(snapshot.Entries)).
		Uint32("generation", cache.Generation()).
		Msg("restored eval cache persistence")
	return loaded
}

func persistEvalCachePersistence(cfg Config, cache *engine.EvalCache, logger zerolog.Logger) error {
	if cache == nil || !cfg.EnableCachePersistence || cfg.CachePersistencePath == "" {
		logger.Info().Msg("stored eval cache persistence: 0 entries (disabled or no path)")
		return nil
	}
	path := resolveCachePersistencePath(cfg.CachePersistencePath)
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("unable to create eval cache persistence directory")
			return err
		}
	}
	entries := cache.Snapshot()
	snapshot := evalCachePersistenceSnapshot{
		Capacity:   cache.Capacity(),
		Generation: cache.Generation(),
		Entries:    entries,
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		logger.Warn().Err(err).Str("path", tmp).Msg("failed to create eval cache persistence")
		return err
	}
	if err := gob.NewEncoder(file).Encode(&snapshot); err != nil {
		file.Close()
		os.Remove(tmp)
		logger.Warn().Err(err).Str("path", tmp).Msg("failed to encode eval cache persistence")
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to move eval cache persistence into place")
		return err
	}
	logger.Info().Str("path", path).Int("entries", len(entries)).Msg("stored eval cache persistence")
	return nil
}

func resolveCachePersistencePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if stat, err := os.Stat(dockerCacheDir); err == nil && stat.IsDir() {
		return filepath.Join(dockerCacheDir, path)
	}
	return path
}
