package engine

const (
	stateXOffset = 4
	stateYOffset = 4
	stateCols    = 16
	stateRows    = Height + 8
	stateCount   = 4 * stateCols * stateRows
)

var tCorners = [4]Cell{{-1, 1}, {1, 1}, {1, -1}, {-1, -1}}

// front corner pair per orientation, indexes into tCorners
var tFrontCorners = [4][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}}

// Generator enumerates every reachable resting placement of a piece. It keeps
// its scratch buffers between calls and is not safe for concurrent use.
type Generator struct {
	rules  Rules
	epoch  uint32
	seen   [stateCount]uint32
	parent [stateCount]int32
	input  [stateCount]Input
	kick   [stateCount]int8
	queue  []int32
	index  map[uint64]int
}

func NewGenerator(rules Rules) *Generator {
	return &Generator{
		rules: rules,
		queue: make([]int32, 0, 256),
		index: make(map[uint64]int, 64),
	}
}

func (g *Generator) Rules() Rules { return g.rules }

func stateIndex(p Piece) int32 {
	return int32((int(p.Rot&3)*stateRows+p.Y+stateYOffset)*stateCols + p.X + stateXOffset)
}

func stateToPiece(kind Kind, idx int32) Piece {
	i := int(idx)
	x := i%stateCols - stateXOffset
	i /= stateCols
	y := i%stateRows - stateYOffset
	rot := Rotation(i / stateRows)
	return Piece{Kind: kind, Rot: rot, X: x, Y: y}
}

// Generate returns the placements of kind on board in discovery order, one
// per distinct set of cells. It returns nil when the piece cannot spawn.
func (g *Generator) Generate(board *Board, kind Kind) []Move {
	spawn, ok := g.rules.Spawn(board, kind)
	if !ok {
		return nil
	}
	g.epoch++
	if g.epoch == 0 {
		g.seen = [stateCount]uint32{}
		g.epoch = 1
	}
	g.queue = g.queue[:0]
	clear(g.index)
	g.mark(stateIndex(spawn), -1, InputNone, -1)

	moves := make([]Move, 0, 48)
	for head := 0; head < len(g.queue); head++ {
		cur := g.queue[head]
		p := stateToPiece(kind, cur)
		rest := dropPiece(board, p)
		if rest == p || !g.rules.AllowSoftDrop {
			spin := SpinNone
			if rest == p && g.input[cur].rotation() {
				spin = g.detectSpin(board, p, int(g.kick[cur]))
			}
			moves = g.collect(board, moves, rest, spin, g.path(cur, InputNone))
		}

		g.shift(board, cur, p.Moved(-1, 0), InputLeft)
		g.shift(board, cur, p.Moved(1, 0), InputRight)
		moves = g.turn(board, moves, cur, p, p.Rot.CW(), InputCW)
		moves = g.turn(board, moves, cur, p, p.Rot.CCW(), InputCCW)
		if g.rules.Allow180 {
			moves = g.turn(board, moves, cur, p, p.Rot.Flip(), InputFlip)
		}
		if g.rules.AllowSoftDrop && rest != p {
			g.shift(board, cur, p.Moved(0, -1), InputSoftDrop)
			g.shift(board, cur, rest, InputSonicDrop)
		}
	}
	return moves
}

func (g *Generator) mark(idx, parent int32, in Input, kick int) {
	g.seen[idx] = g.epoch
	g.parent[idx] = parent
	g.input[idx] = in
	g.kick[idx] = int8(kick)
	g.queue = append(g.queue, idx)
}

func (g *Generator) shift(board *Board, cur int32, q Piece, in Input) {
	if !board.fits(q) {
		return
	}
	idx := stateIndex(q)
	if g.seen[idx] == g.epoch {
		return
	}
	g.mark(idx, cur, in, -1)
}

func (g *Generator) turn(board *Board, moves []Move, cur int32, p Piece, target Rotation, in Input) []Move {
	q, kick, ok := g.rules.Rotate(board, p, target)
	if !ok {
		return moves
	}
	idx := stateIndex(q)
	if g.seen[idx] != g.epoch {
		g.mark(idx, cur, in, kick)
		return moves
	}
	// Already reached another way; rotating into a resting state can still be a spin.
	if board.fits(q.Moved(0, -1)) {
		return moves
	}
	if spin := g.detectSpin(board, q, kick); spin != SpinNone {
		moves = g.collect(board, moves, q, spin, g.path(cur, in))
	}
	return moves
}

func (g *Generator) detectSpin(board *Board, p Piece, kick int) Spin {
	if g.rules.Spins != SpinModeTSpin || p.Kind != KindT {
		return SpinNone
	}
	var occupied [4]bool
	filled := 0
	for i, c := range tCorners {
		if board.Occupied(p.X+c.X, p.Y+c.Y) {
			occupied[i] = true
			filled++
		}
	}
	if filled < 3 {
		return SpinNone
	}
	front := tFrontCorners[p.Rot&3]
	if (occupied[front[0]] && occupied[front[1]]) || kick == 4 {
		return SpinFull
	}
	return SpinMini
}

func (g *Generator) collect(board *Board, moves []Move, p Piece, spin Spin, path []Input) []Move {
	cells := p.Cells()
	m := Move{
		Kind:  p.Kind,
		Rot:   p.Rot,
		X:     p.X,
		Y:     p.Y,
		Spin:  spin,
		Cells: cells,
		Path:  path,
		Lines: completedLines(board, cells),
	}
	key := shapeKey(cells)
	if i, ok := g.index[key]; ok {
		if replaces(m, moves[i]) {
			moves[i] = m
		}
		return moves
	}
	g.index[key] = len(moves)
	return append(moves, m)
}

// replaces reports whether m should take the place of an earlier move with
// the same cells. The shortest path wins, except that a line-clearing spin
// is never traded for a lesser spin class.
func replaces(m, old Move) bool {
	if m.Lines > 0 && m.Spin != old.Spin {
		return m.Spin > old.Spin
	}
	return len(m.Path) < len(old.Path)
}

// path rebuilds the inputs from spawn to state idx, followed by extra and a hard drop.
func (g *Generator) path(idx int32, extra Input) []Input {
	n := 0
	for cur := idx; g.parent[cur] >= 0; cur = g.parent[cur] {
		n++
	}
	size := n + 1
	if extra != InputNone {
		size++
	}
	out := make([]Input, size)
	i := n - 1
	for cur := idx; g.parent[cur] >= 0; cur = g.parent[cur] {
		out[i] = g.input[cur]
		i--
	}
	if extra != InputNone {
		out[n] = extra
	}
	if last := len(out) - 2; last >= 0 && out[last] == InputSonicDrop {
		return append(out[:last], InputHardDrop)
	}
	out[len(out)-1] = InputHardDrop
	return out
}

func dropPiece(board *Board, p Piece) Piece {
	for board.fits(p.Moved(0, -1)) {
		p.Y--
	}
	return p
}

func completedLines(board *Board, cells [4]Cell) int {
	var rows [4]int
	n := 0
	for _, c := range cells {
		dup := false
		for i := 0; i < n; i++ {
			if rows[i] == c.Y {
				dup = true
				break
			}
		}
		if !dup {
			rows[n] = c.Y
			n++
		}
	}
	lines := 0
	for i := 0; i < n; i++ {
		mask := board.Row(rows[i])
		for _, c := range cells {
			if c.Y == rows[i] {
				mask |= 1 << uint(c.X)
			}
		}
		if mask == fullRow {
			lines++
		}
	}
	return lines
}
