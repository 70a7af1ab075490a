package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tetrisSetup() (Board, Move) {
	b := ParseBoard(
		"#########.",
		"#########.",
		"#########.",
		"#########.",
	)
	return b, Move{Kind: KindI, Rot: RotRight, X: 8, Y: 2}
}

func TestLockTetrisPerfectClear(t *testing.T) {
	b, m := tetrisSetup()
	res, err := Lock(b, m, Counters{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Lines)
	assert.True(t, res.PerfectClear)
	assert.False(t, res.B2BBonus)
	assert.Equal(t, 4+perfectClearAttack, res.Attack)
	assert.Equal(t, Counters{B2B: 1, Ren: 1}, res.Counters)
	assert.True(t, res.Board.IsEmpty())
}

func TestLockBackToBackAndCombo(t *testing.T) {
	b, m := tetrisSetup()
	res, err := Lock(b, m, Counters{B2B: 1, Ren: 2})
	require.NoError(t, err)
	assert.True(t, res.B2BBonus)
	// tetris + b2b + third combo step + perfect clear
	assert.Equal(t, 4+1+1+perfectClearAttack, res.Attack)
	assert.Equal(t, Counters{B2B: 2, Ren: 3}, res.Counters)
}

func TestLockWithoutClearResetsRenOnly(t *testing.T) {
	var b Board
	res, err := Lock(b, Move{Kind: KindO, X: 0, Y: 0}, Counters{B2B: 3, Ren: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Lines)
	assert.Equal(t, 0, res.Attack)
	assert.Equal(t, Counters{B2B: 3, Ren: 0}, res.Counters)
}

func TestLockEasyClearBreaksBackToBack(t *testing.T) {
	b := ParseBoard(
		"##........",
		"########..",
	)
	res, err := Lock(b, Move{Kind: KindO, X: 8, Y: 0}, Counters{B2B: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Lines)
	assert.Equal(t, 0, res.Attack)
	assert.Equal(t, Counters{B2B: 0, Ren: 1}, res.Counters)
	assert.False(t, res.PerfectClear)
}

func TestLockInvalidPlacement(t *testing.T) {
	b := ParseBoard("##########")
	_, err := Lock(b, Move{Kind: KindO, X: 0, Y: 0}, Counters{})
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

func TestComboAttackTable(t *testing.T) {
	assert.Equal(t, 0, ComboAttack(0))
	assert.Equal(t, 0, ComboAttack(1))
	assert.Equal(t, 1, ComboAttack(3))
	assert.Equal(t, 4, ComboAttack(11))
	assert.Equal(t, 5, ComboAttack(12))
	assert.Equal(t, 5, ComboAttack(40))
}
