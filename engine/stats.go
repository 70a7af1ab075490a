package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// Stats describes the current search. Searches and Reused count across the engine's lifetime.
type Stats struct {
	Nodes          int
	Frontier       int
	Expansions     int
	Generated      int
	Transpositions int
	Pruned         int
	CacheProbes    int
	CacheHits      int
	Searches       int
	Reused         int
	Started        time.Time
}

func (s Stats) Elapsed() time.Duration {
	if s.Started.IsZero() {
		return 0
	}
	return time.Since(s.Started)
}

func (s Stats) CacheHitRate() float64 {
	if s.CacheProbes == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.CacheProbes)
}

func (s Stats) MarshalZerologObject(ev *zerolog.Event) {
	elapsed := s.Elapsed()
	nps := 0.0
	if elapsed > 0 {
		nps = float64(s.Expansions) / elapsed.Seconds()
	}
	ev.Int("nodes", s.Nodes).
		Int("frontier", s.Frontier).
		Int("expansions", s.Expansions).
		Int("generated", s.Generated).
		Int("transpositions", s.Transpositions).
		Int("pruned", s.Pruned).
		Int("cache_probes", s.CacheProbes).
		Float64("cache_hit_rate", s.CacheHitRate()).
		Float64("nps", nps).
		Int("reused", s.Reused).
		Dur("elapsed", elapsed)
}
