package main

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheKrainBow/tetris-ai/engine"
)

func testSettings() gameSettings {
	cfg := engine.DefaultConfig()
	cfg.MaxNodes = 5000
	return gameSettings{Pieces: 12, StepsPerMove: 60, Preview: 5, Engine: cfg}
}

func testTuner(t *testing.T) *tuner {
	return &tuner{
		settings:         testSettings(),
		populationSize:   3,
		eliteCount:       1,
		gamesPerRound:    1,
		validationGames:  1,
		mutationStrength: 0.1,
		parallel:         2,
		outDir:           t.TempDir(),
		rng:              rand.New(rand.NewPCG(1, 2)),
		cache:            engine.NewEvalCache(1<<10, 2),
	}
}

func TestPlayGamePlacesPiecesAndIsDeterministic(t *testing.T) {
	settings := testSettings()
	first, err := playGame(context.Background(), settings, engine.DefaultWeights(), 7, nil)
	require.NoError(t, err)
	assert.Equal(t, settings.Pieces, first.Pieces)
	assert.False(t, first.ToppedOut)
	assert.Equal(t, fitness(first), first.Fitness)

	second, err := playGame(context.Background(), settings, engine.DefaultWeights(), 7, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlayGameStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := playGame(ctx, testSettings(), engine.DefaultWeights(), 1, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPlayMatchSumsEveryGame(t *testing.T) {
	settings := testSettings()
	seeds := []uint64{1, 2, 3}
	summary, results, err := playMatch(context.Background(), settings, engine.DefaultWeights(), seeds, 2, engine.NewEvalCache(1<<10, 2))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 3, summary.Games)
	assert.Equal(t, 3*settings.Pieces, summary.Pieces)
	for i, r := range results {
		assert.Equal(t, seeds[i], r.Seed)
	}
}

func TestFitnessPunishesTopOut(t *testing.T) {
	alive := gameResult{Pieces: 100, Lines: 40, Attack: 30}
	dead := alive
	dead.ToppedOut = true
	assert.Greater(t, fitness(alive), fitness(dead))
	assert.Equal(t, -topOutPenalty, fitness(gameResult{}))
}

func TestMutateKeepsPenaltiesNonPositive(t *testing.T) {
	tn := testTuner(t)
	base := engine.DefaultWeights()
	for i := 0; i < 50; i++ {
		mutated := tn.mutate(base)
		assert.Equal(t, mutated.Clamped(), mutated)
	}
	assert.NotEqual(t, base, tn.mutate(base))
}

func TestNextPopulationKeepsChampionAndElites(t *testing.T) {
	tn := testTuner(t)
	champion := engine.DefaultWeights()
	population := tn.initialPopulation(champion)
	require.Len(t, population, 3)
	population[1].Summary.Fitness = 10
	population[0].Summary.Fitness = 5
	rankContenders(population)

	next := tn.nextPopulation(1, champion, population)
	require.Len(t, next, 3)
	assert.Equal(t, champion, next[0].Weights)
	assert.Equal(t, population[0].Weights, next[1].Weights)
}

func TestTunerRunWritesChampionOnPromotion(t *testing.T) {
	tn := testTuner(t)
	tn.promoteMargin = -1e9
	reported := 0
	tn.report = func(int, contender, []contender) { reported++ }

	champion, err := tn.run(context.Background(), engine.DefaultWeights(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, reported)

	path := filepath.Join(tn.outDir, "champion_weights.json")
	stored, err := readWeightsFile(path)
	if champion == engine.DefaultWeights().Resolved() {
		// The champion ranked first, so there was nothing to promote.
		assert.Error(t, err)
		return
	}
	require.NoError(t, err)
	assert.InDelta(t, champion.Holes, stored.Holes, 1e-9)
}
