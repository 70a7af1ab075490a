package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"lukechampine.com/frand"

	"github.com/TheKrainBow/tetris-ai/engine"
)

type contender struct {
	ID      string         `json:"id"`
	Weights engine.Weights `json:"weights"`
	Summary matchSummary   `json:"summary"`
}

// tuner runs a small elitist evolution over evaluator weights. Each
// generation every contender plays the same fresh seeds; the best one must
// beat the champion on a separate validation set to take its place.
type tuner struct {
	settings         gameSettings
	populationSize   int
	eliteCount       int
	gamesPerRound    int
	validationGames  int
	mutationStrength float64
	promoteMargin    float64
	parallel         int
	outDir           string
	rng              *rand.Rand
	cache            *engine.EvalCache
	report           func(generation int, champion contender, ranked []contender)
}

func newSeed() uint64 {
	return frand.Uint64n(math.MaxUint64)
}

func seedList(n int) []uint64 {
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = newSeed()
	}
	return seeds
}

func (t *tuner) mutate(base engine.Weights) engine.Weights {
	out := base
	for _, f := range out.Fields() {
		factor := 1 + (t.rng.Float64()*2-1)*t.mutationStrength
		next := *f * factor
		if math.IsNaN(next) || math.IsInf(next, 0) {
			continue
		}
		*f = next
	}
	return out.Clamped()
}

func (t *tuner) initialPopulation(champion engine.Weights) []contender {
	population := make([]contender, 0, t.populationSize)
	population = append(population, contender{ID: "champion", Weights: champion})
	for len(population) < t.populationSize {
		population = append(population, contender{
			ID:      fmt.Sprintf("g0-c%d", len(population)),
			Weights: t.mutate(champion),
		})
	}
	return population
}

// nextPopulation keeps the elites and refills the rest with mutations of
// the champion and of the elites.
func (t *tuner) nextPopulation(generation int, champion engine.Weights, ranked []contender) []contender {
	next := make([]contender, 0, t.populationSize)
	next = append(next, contender{ID: "champion", Weights: champion})
	for i := 0; i < len(ranked) && len(next) < t.eliteCount+1; i++ {
		if ranked[i].Weights == champion {
			continue
		}
		next = append(next, contender{ID: ranked[i].ID, Weights: ranked[i].Weights})
	}
	parents := append([]contender(nil), next...)
	for len(next) < t.populationSize {
		parent := parents[t.rng.IntN(len(parents))]
		next = append(next, contender{
			ID:      fmt.Sprintf("g%d-c%d", generation, len(next)),
			Weights: t.mutate(parent.Weights),
		})
	}
	return next
}

func rankContenders(list []contender) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Summary.Fitness > list[j].Summary.Fitness
	})
}

// run tunes until ctx ends or generations is reached (0 runs forever).
func (t *tuner) run(ctx context.Context, base engine.Weights, generations int) (engine.Weights, error) {
	champion := base.Resolved()
	population := t.initialPopulation(champion)
	for generation := 1; generations <= 0 || generation <= generations; generation++ {
		seeds := seedList(t.gamesPerRound)
		for i := range population {
			summary, _, err := playMatch(ctx, t.settings, population[i].Weights, seeds, t.parallel, t.cache)
			if err != nil {
				return champion, fmt.Errorf("generation %d contender %s: %w", generation, population[i].ID, err)
			}
			population[i].Summary = summary
		}
		rankContenders(population)
		best := population[0]
		if best.Weights != champion {
			promoted, err := t.validate(ctx, best.Weights, champion)
			if err != nil {
				return champion, err
			}
			if promoted {
				champion = best.Weights
				if err := t.writeWeightsFile("champion_weights.json", champion); err != nil {
					return champion, err
				}
			}
		}
		if t.report != nil {
			t.report(generation, contender{ID: "champion", Weights: champion}, population)
		}
		population = t.nextPopulation(generation, champion, population)
	}
	return champion, nil
}

// validate replays both weight sets on new seeds; the candidate must win by
// promoteMargin.
func (t *tuner) validate(ctx context.Context, candidate, champion engine.Weights) (bool, error) {
	seeds := seedList(t.validationGames)
	cand, _, err := playMatch(ctx, t.settings, candidate, seeds, t.parallel, t.cache)
	if err != nil {
		return false, fmt.Errorf("validate candidate: %w", err)
	}
	champ, _, err := playMatch(ctx, t.settings, champion, seeds, t.parallel, t.cache)
	if err != nil {
		return false, fmt.Errorf("validate champion: %w", err)
	}
	return cand.Fitness > champ.Fitness+t.promoteMargin, nil
}

func (t *tuner) writeWeightsFile(name string, w engine.Weights) error {
	if t.outDir == "" {
		return nil
	}
	if err := os.MkdirAll(t.outDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	path := filepath.Join(t.outDir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readWeightsFile(path string) (engine.Weights, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.Weights{}, err
	}
	var w engine.Weights
	if err := json.Unmarshal(raw, &w); err != nil {
		return engine.Weights{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return w.Resolved(), nil
}
