package engine

import "fmt"

type Kind uint8

const (
	KindNone Kind = iota
	KindI
	KindO
	KindT
	KindS
	KindZ
	KindJ
	KindL
)

const NumKinds = 7

var AllKinds = [NumKinds]Kind{KindI, KindO, KindT, KindS, KindZ, KindJ, KindL}

var kindCodes = [...]byte{'-', 'I', 'O', 'T', 'S', 'Z', 'J', 'L'}

func (k Kind) Valid() bool { return k >= KindI && k <= KindL }

func (k Kind) Code() byte {
	if int(k) >= len(kindCodes) {
		return '?'
	}
	return kindCodes[k]
}

func (k Kind) String() string {
	if k == KindNone {
		return ""
	}
	return string(k.Code())
}

// KindFromCode parses a wire piece code. The empty-hold spellings "", " ",
// "-" and "E" all map to KindNone.
func KindFromCode(code string) (Kind, error) {
	switch code {
	case "", " ", "-", "E":
		return KindNone, nil
	}
	if len(code) == 1 {
		for k := KindI; k <= KindL; k++ {
			if kindCodes[k] == code[0] {
				return k, nil
			}
		}
	}
	return KindNone, fmt.Errorf("%w: unknown piece code %q", ErrInvalidSnapshot, code)
}

// Rotation is the SRS orientation: 0 spawn, 1 right, 2 reverse, 3 left.
type Rotation uint8

const (
	RotSpawn Rotation = iota
	RotRight
	RotReverse
	RotLeft
)

func (r Rotation) CW() Rotation   { return (r + 1) & 3 }
func (r Rotation) CCW() Rotation  { return (r + 3) & 3 }
func (r Rotation) Flip() Rotation { return (r + 2) & 3 }

func (r Rotation) String() string {
	switch r & 3 {
	case RotRight:
		return "R"
	case RotReverse:
		return "2"
	case RotLeft:
		return "L"
	}
	return "0"
}

type Cell struct {
	X, Y int
}

// Piece is a kind, orientation and pivot position. Cells are pivot-relative with y pointing up.
type Piece struct {
	Kind Kind
	Rot  Rotation
	X, Y int
}

var shapes [KindL + 1][4][4]Cell

func init() {
	spawn := map[Kind][4]Cell{
		KindT: {{-1, 0}, {0, 0}, {1, 0}, {0, 1}},
		KindS: {{-1, 0}, {0, 0}, {0, 1}, {1, 1}},
		KindZ: {{-1, 1}, {0, 1}, {0, 0}, {1, 0}},
		KindJ: {{-1, 1}, {-1, 0}, {0, 0}, {1, 0}},
		KindL: {{-1, 0}, {0, 0}, {1, 0}, {1, 1}},
	}
	for kind, cells := range spawn {
		shape := cells
		for rot := 0; rot < 4; rot++ {
			shapes[kind][rot] = shape
			for i, c := range shape {
				shape[i] = Cell{X: c.Y, Y: -c.X}
			}
		}
	}
	shapes[KindI] = [4][4]Cell{
		{{-1, 0}, {0, 0}, {1, 0}, {2, 0}},
		{{1, 1}, {1, 0}, {1, -1}, {1, -2}},
		{{-1, -1}, {0, -1}, {1, -1}, {2, -1}},
		{{0, 1}, {0, 0}, {0, -1}, {0, -2}},
	}
	o := [4]Cell{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	shapes[KindO] = [4][4]Cell{o, o, o, o}
}

func (p Piece) Cells() [4]Cell {
	cells := shapes[p.Kind][p.Rot&3]
	for i := range cells {
		cells[i].X += p.X
		cells[i].Y += p.Y
	}
	return cells
}

func (p Piece) Moved(dx, dy int) Piece {
	p.X += dx
	p.Y += dy
	return p
}

func (p Piece) String() string {
	return fmt.Sprintf("%s%s@(%d,%d)", p.Kind, p.Rot, p.X, p.Y)
}
