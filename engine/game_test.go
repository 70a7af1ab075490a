package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBagDealsEveryKindOncePerBag(t *testing.T) {
	r := NewBagRandomizer(1)
	for bag := 0; bag < 5; bag++ {
		seen := map[Kind]int{}
		for i := 0; i < NumKinds; i++ {
			seen[r.Next()]++
		}
		assert.Len(t, seen, NumKinds)
		for k, n := range seen {
			assert.Equal(t, 1, n, "kind %s in bag %d", k, bag)
		}
	}
}

func TestBagIsSeeded(t *testing.T) {
	a, b := NewBagRandomizer(42), NewBagRandomizer(42)
	for i := 0; i < 28; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestGameApplyRejectsWrongPiece(t *testing.T) {
	g := NewGame(DefaultRules(), NewBagRandomizer(3), 5)
	before := g.Snapshot()
	wrong := KindI
	if g.Current == KindI {
		wrong = KindO
	}
	_, err := g.Apply(Move{Kind: wrong, X: 4, Y: 0})
	assert.ErrorIs(t, err, ErrInvalidPlacement)
	assert.Equal(t, before, g.Snapshot())
	assert.Zero(t, g.Pieces)
}

func TestGameHoldFromEmptyTakesNextPiece(t *testing.T) {
	g := NewGame(DefaultRules(), NewBagRandomizer(5), 5)
	current, next := g.Current, g.Queue[0]
	gen := NewGenerator(DefaultRules())
	moves := gen.Generate(&g.Board, next)
	require.NotEmpty(t, moves)
	m := moves[0]
	m.Hold = true

	_, err := g.Apply(m)
	require.NoError(t, err)
	assert.Equal(t, current, g.Hold)
	assert.Len(t, g.Queue, 5)
	assert.Equal(t, 1, g.Pieces)
	assert.Equal(t, 4, g.Board.CellCount())
}

func TestSelfPlaySurvives(t *testing.T) {
	game := NewGame(DefaultRules(), NewBagRandomizer(2024), 5)
	e := NewEngine(testConfig())
	for i := 0; i < 20; i++ {
		require.NoError(t, e.Start(game.Snapshot()))
		_, err := e.StepBudgeted(100)
		require.NoError(t, err)
		m, err := e.BestMove()
		require.NoError(t, err)
		require.NoError(t, e.Commit(m))
		_, err = game.Apply(m)
		require.NoError(t, err, "piece %d", i)
		require.False(t, game.Over())
	}
	assert.Equal(t, 20, game.Pieces)
	assert.Less(t, game.Board.StackHeight(), VisibleHeight)
}
