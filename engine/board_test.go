package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDroppedOnEmptyBoard(t *testing.T) {
	var b Board
	rules := DefaultRules()
	p, ok := rules.Spawn(&b, KindI)
	require.True(t, ok)

	placed, err := b.Place(dropPiece(&b, p))
	require.NoError(t, err)
	cleared, lines := placed.ClearLines()

	assert.Equal(t, 0, lines)
	assert.Equal(t, 4, cleared.CellCount())
	assert.Equal(t, uint16(0b0001111000), cleared.Row(0))
	assert.Equal(t, 1, cleared.StackHeight())
}

func TestSingleLineClearShiftsRowsDown(t *testing.T) {
	b := ParseBoard(
		"#.........",
		"#########.",
	)
	vertical := Piece{Kind: KindI, Rot: RotRight, X: 8, Y: 2}
	placed, err := b.Place(vertical)
	require.NoError(t, err)

	cleared, lines := placed.ClearLines()
	require.Equal(t, 1, lines)
	assert.Equal(t, uint16(1|1<<9), cleared.Row(0))
	assert.Equal(t, uint16(1<<9), cleared.Row(1))
	assert.Equal(t, uint16(1<<9), cleared.Row(2))
	assert.Equal(t, uint16(0), cleared.Row(3))
	assert.Len(t, cleared.Rows(), Height)
}

func TestClearLinesCascadesInOrder(t *testing.T) {
	var b Board
	b.SetRow(0, fullRow)
	b.SetRow(1, 0b0000000011)
	b.SetRow(2, fullRow)
	b.SetRow(3, 0b1100000000)
	b.SetRow(4, fullRow)

	cleared, lines := b.ClearLines()
	assert.Equal(t, 3, lines)
	assert.Equal(t, uint16(0b0000000011), cleared.Row(0))
	assert.Equal(t, uint16(0b1100000000), cleared.Row(1))
	assert.Equal(t, 2, cleared.StackHeight())
}

func TestPlaceRejectsOverlapAndWalls(t *testing.T) {
	b := ParseBoard("####......")
	_, err := b.Place(Piece{Kind: KindO, X: 2, Y: 0})
	assert.ErrorIs(t, err, ErrInvalidPlacement)

	_, err = b.Place(Piece{Kind: KindI, X: -1, Y: 5})
	assert.ErrorIs(t, err, ErrInvalidPlacement)

	_, err = b.Place(Piece{Kind: KindI, Rot: RotLeft, X: 0, Y: 0})
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

func TestOccupiedOutsideBoard(t *testing.T) {
	var b Board
	assert.True(t, b.Occupied(-1, 0))
	assert.True(t, b.Occupied(Width, 0))
	assert.True(t, b.Occupied(0, -1))
	assert.True(t, b.Occupied(0, Height))
	assert.False(t, b.Occupied(0, 0))
}

func TestBoardFromRowsIsTopFirst(t *testing.T) {
	rows := make([]uint16, Height)
	rows[Height-1] = 0b1
	rows[0] = 0b10
	b, err := BoardFromRows(rows)
	require.NoError(t, err)
	assert.True(t, b.Occupied(0, 0))
	assert.True(t, b.Occupied(1, Height-1))
	assert.Equal(t, rows, b.Rows())

	short, err := BoardFromRows([]uint16{0b100, 0b1})
	require.NoError(t, err)
	assert.True(t, short.Occupied(0, 0))
	assert.True(t, short.Occupied(2, 1))

	_, err = BoardFromRows(make([]uint16, Height+1))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	_, err = BoardFromRows([]uint16{1 << Width})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestHeightsAndHoles(t *testing.T) {
	b := ParseBoard(
		".#........",
		"##..#.....",
		"#.#.#....#",
	)
	assert.Equal(t, [Width]int{2, 3, 1, 0, 2, 0, 0, 0, 0, 1}, b.ColumnHeights())
	assert.Equal(t, 3, b.StackHeight())
	assert.Equal(t, 1, b.Holes())
	assert.False(t, b.IsEmpty())
	assert.Equal(t, ".#........\n##..#.....\n#.#.#....#\n", b.String())
}
