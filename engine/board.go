package engine

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	Width         = 10
	Height        = 40
	VisibleHeight = 20

	fullRow uint16 = 1<<Width - 1
)

// Board is a bitboard with one row mask per line. Row 0 is the bottom row and
// bit x of a row is column x.
type Board struct {
	rows [Height]uint16
}

func (b *Board) Occupied(x, y int) bool {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return true
	}
	return b.rows[y]&(1<<uint(x)) != 0
}

func (b *Board) Set(x, y int) {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return
	}
	b.rows[y] |= 1 << uint(x)
}

func (b *Board) Remove(x, y int) {
	if x < 0 || x >= Width || y < 0 || y >= Height {
		return
	}
	b.rows[y] &^= 1 << uint(x)
}

func (b *Board) Row(y int) uint16 {
	if y < 0 || y >= Height {
		return 0
	}
	return b.rows[y]
}

func (b *Board) SetRow(y int, mask uint16) {
	if y < 0 || y >= Height {
		return
	}
	b.rows[y] = mask & fullRow
}

func (b *Board) fits(p Piece) bool {
	for _, c := range p.Cells() {
		if b.Occupied(c.X, c.Y) {
			return false
		}
	}
	return true
}

// Place returns a copy of the board with the piece's cells filled.
func (b Board) Place(p Piece) (Board, error) {
	for _, c := range p.Cells() {
		if b.Occupied(c.X, c.Y) {
			return b, fmt.Errorf("%w: %s rot %s at (%d,%d) blocked at (%d,%d)",
				ErrInvalidPlacement, p.Kind, p.Rot, p.X, p.Y, c.X, c.Y)
		}
	}
	for _, c := range p.Cells() {
		b.rows[c.Y] |= 1 << uint(c.X)
	}
	return b, nil
}

// ClearLines removes every full row. Rows above a cleared row move down in
// order and empty rows refill the top, so the board always keeps Height rows.
func (b Board) ClearLines() (Board, int) {
	var out Board
	dst := 0
	for y := 0; y < Height; y++ {
		if b.rows[y] == fullRow {
			continue
		}
		out.rows[dst] = b.rows[y]
		dst++
	}
	return out, Height - dst
}

func (b *Board) IsEmpty() bool {
	for _, row := range b.rows {
		if row != 0 {
			return false
		}
	}
	return true
}

func (b *Board) CellCount() int {
	count := 0
	for _, row := range b.rows {
		count += bits.OnesCount16(row)
	}
	return count
}

// StackHeight is the number of rows up to and including the highest filled cell.
func (b *Board) StackHeight() int {
	for y := Height - 1; y >= 0; y-- {
		if b.rows[y] != 0 {
			return y + 1
		}
	}
	return 0
}

func (b *Board) ColumnHeights() [Width]int {
	var heights [Width]int
	var seen uint16
	for y := b.StackHeight() - 1; y >= 0 && seen != fullRow; y-- {
		fresh := b.rows[y] &^ seen
		for fresh != 0 {
			x := bits.TrailingZeros16(fresh)
			heights[x] = y + 1
			fresh &= fresh - 1
		}
		seen |= b.rows[y]
	}
	return heights
}

// Holes counts empty cells that have a filled cell somewhere above them in the same column.
func (b *Board) Holes() int {
	holes := 0
	var covered uint16
	for y := b.StackHeight() - 1; y >= 0; y-- {
		holes += bits.OnesCount16(covered &^ b.rows[y])
		covered |= b.rows[y]
	}
	return holes
}

// BoardFromRows converts wire rows (index 0 = top row) into a Board. Fewer
// than Height rows are aligned to the bottom.
func BoardFromRows(rows []uint16) (Board, error) {
	var b Board
	if len(rows) > Height {
		return b, fmt.Errorf("%w: %d rows exceeds board height %d", ErrInvalidSnapshot, len(rows), Height)
	}
	for i, mask := range rows {
		if mask&^fullRow != 0 {
			return b, fmt.Errorf("%w: row %d mask 0x%x exceeds width %d", ErrInvalidSnapshot, i, mask, Width)
		}
		b.rows[len(rows)-1-i] = mask
	}
	return b, nil
}

// Rows returns the wire representation, index 0 = top row.
func (b Board) Rows() []uint16 {
	out := make([]uint16, Height)
	for y := 0; y < Height; y++ {
		out[Height-1-y] = b.rows[y]
	}
	return out
}

// ParseBoard builds a board from text rows, the last row being the bottom.
// '#', 'X' and 'x' are filled cells, anything else is empty.
func ParseBoard(lines ...string) Board {
	var b Board
	for i, line := range lines {
		y := len(lines) - 1 - i
		if y >= Height {
			continue
		}
		for x, ch := range line {
			if x >= Width {
				break
			}
			if ch == '#' || ch == 'X' || ch == 'x' {
				b.Set(x, y)
			}
		}
	}
	return b
}

func (b Board) String() string {
	top := b.StackHeight()
	if top == 0 {
		return strings.Repeat(".", Width) + "\n"
	}
	var sb strings.Builder
	for y := top - 1; y >= 0; y-- {
		for x := 0; x < Width; x++ {
			if b.Occupied(x, y) {
				sb.WriteByte('#')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
