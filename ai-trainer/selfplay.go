package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TheKrainBow/tetris-ai/engine"
)

// gameSettings bounds one self-play game.
type gameSettings struct {
	Pieces       int
	StepsPerMove int
	Preview      int
	Engine       engine.Config
}

type gameResult struct {
	Seed      uint64  `json:"seed"`
	Pieces    int     `json:"pieces"`
	Lines     int     `json:"lines"`
	Attack    int     `json:"attack"`
	ToppedOut bool    `json:"topped_out"`
	Fitness   float64 `json:"fitness"`
}

type matchSummary struct {
	Games     int     `json:"games"`
	Pieces    int     `json:"pieces"`
	Lines     int     `json:"lines"`
	Attack    int     `json:"attack"`
	TopOuts   int     `json:"top_outs"`
	Fitness   float64 `json:"fitness"`
	AttackPPS float64 `json:"attack_per_piece"`
}

const topOutPenalty = 50.0

// fitness rewards attack per piece and punishes losing the game.
func fitness(r gameResult) float64 {
	if r.Pieces == 0 {
		return -topOutPenalty
	}
	score := (float64(r.Attack) + 0.2*float64(r.Lines)) / float64(r.Pieces) * 100
	if r.ToppedOut {
		score -= topOutPenalty
	}
	return score
}

// playGame runs one 7-bag game with the engine picking every move, reusing
// the tree between pieces the way a live session does.
func playGame(ctx context.Context, settings gameSettings, weights engine.Weights, seed uint64, cache *engine.EvalCache) (gameResult, error) {
	cfg := settings.Engine
	cfg.Weights = weights
	opts := []engine.Option{}
	if cache != nil {
		opts = append(opts, engine.WithEvalCache(cache))
	}
	e := engine.NewEngine(cfg, opts...)
	game := engine.NewGame(cfg.Rules, engine.NewBagRandomizer(seed), settings.Preview)
	result := gameResult{Seed: seed}

	for game.Pieces < settings.Pieces && !game.Over() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.Start(game.Snapshot()); err != nil {
			return result, fmt.Errorf("piece %d: %w", game.Pieces, err)
		}
		if _, err := e.StepBudgeted(settings.StepsPerMove); err != nil {
			return result, fmt.Errorf("piece %d: %w", game.Pieces, err)
		}
		best, err := e.BestMove()
		if errors.Is(err, engine.ErrNoMoveFound) {
			result.ToppedOut = true
			break
		}
		if err != nil {
			return result, fmt.Errorf("piece %d: %w", game.Pieces, err)
		}
		if _, err := game.Apply(best); err != nil {
			return result, fmt.Errorf("piece %d apply %s: %w", game.Pieces, best, err)
		}
		if err := e.Commit(best); err != nil {
			return result, fmt.Errorf("piece %d commit: %w", game.Pieces, err)
		}
	}
	if game.Over() {
		result.ToppedOut = true
	}
	result.Pieces = game.Pieces
	result.Lines = game.Lines
	result.Attack = game.Attack
	result.Fitness = fitness(result)
	return result, nil
}

// playMatch plays one game per seed, at most parallel at a time, and sums
// the results. Every contender plays the same seeds so their sums compare.
func playMatch(ctx context.Context, settings gameSettings, weights engine.Weights, seeds []uint64, parallel int, cache *engine.EvalCache) (matchSummary, []gameResult, error) {
	results := make([]gameResult, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	var mu sync.Mutex
	for i, seed := range seeds {
		g.Go(func() error {
			res, err := playGame(gctx, settings, weights, seed, cache)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return matchSummary{}, nil, err
	}
	return summarize(results), results, nil
}

func summarize(results []gameResult) matchSummary {
	var s matchSummary
	for _, r := range results {
		s.Games++
		s.Pieces += r.Pieces
		s.Lines += r.Lines
		s.Attack += r.Attack
		s.Fitness += r.Fitness
		if r.ToppedOut {
			s.TopOuts++
		}
	}
	if s.Games > 0 {
		s.Fitness /= float64(s.Games)
	}
	if s.Pieces > 0 {
		s.AttackPPS = float64(s.Attack) / float64(s.Pieces)
	}
	return s
}
