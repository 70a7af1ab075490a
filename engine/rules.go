package engine

// SpinMode selects which placements are recognised as spins.
type SpinMode string

const (
	SpinModeNone  SpinMode = "none"
	SpinModeTSpin SpinMode = "tspin"
)

type Rules struct {
	SpawnX        int      `json:"spawn_x"`
	SpawnY        int      `json:"spawn_y"`
	AllowHold     bool     `json:"allow_hold"`
	Allow180      bool     `json:"allow_180"`
	AllowSoftDrop bool     `json:"allow_soft_drop"`
	Spins         SpinMode `json:"spins"`
}

func DefaultRules() Rules {
	return Rules{
		SpawnX:        4,
		SpawnY:        20,
		AllowHold:     true,
		Allow180:      false,
		AllowSoftDrop: true,
		Spins:         SpinModeTSpin,
	}
}

// Spawn places a fresh piece at the spawn pivot, one row higher if that is
// blocked. ok is false when the piece cannot enter the board at all.
func (r Rules) Spawn(b *Board, kind Kind) (Piece, bool) {
	if !kind.Valid() {
		return Piece{}, false
	}
	p := Piece{Kind: kind, Rot: RotSpawn, X: r.SpawnX, Y: r.SpawnY}
	if b.fits(p) {
		return p, true
	}
	p.Y++
	if b.fits(p) {
		return p, true
	}
	return Piece{}, false
}

// Rotate tries every kick for the rotation from p.Rot to target. It returns
// the resulting piece and the index of the kick that succeeded.
func (r Rules) Rotate(b *Board, p Piece, target Rotation) (Piece, int, bool) {
	for i, k := range kickTable(p.Kind, p.Rot, target) {
		q := Piece{Kind: p.Kind, Rot: target, X: p.X + k.X, Y: p.Y + k.Y}
		if b.fits(q) {
			return q, i, true
		}
	}
	return p, -1, false
}

var noKicks = []Cell{{0, 0}}

// Kicks indexed by the starting orientation.
var (
	jlstzKicksCW = [4][]Cell{
		{{0, 0}, {-1, 0}, {-1, 1}, {0, -2}, {-1, -2}},
		{{0, 0}, {1, 0}, {1, -1}, {0, 2}, {1, 2}},
		{{0, 0}, {1, 0}, {1, 1}, {0, -2}, {1, -2}},
		{{0, 0}, {-1, 0}, {-1, -1}, {0, 2}, {-1, 2}},
	}
	jlstzKicksCCW = [4][]Cell{
		{{0, 0}, {1, 0}, {1, 1}, {0, -2}, {1, -2}},
		{{0, 0}, {1, 0}, {1, -1}, {0, 2}, {1, 2}},
		{{0, 0}, {-1, 0}, {-1, 1}, {0, -2}, {-1, -2}},
		{{0, 0}, {-1, 0}, {-1, -1}, {0, 2}, {-1, 2}},
	}
	iKicksCW = [4][]Cell{
		{{0, 0}, {-2, 0}, {1, 0}, {-2, -1}, {1, 2}},
		{{0, 0}, {-1, 0}, {2, 0}, {-1, 2}, {2, -1}},
		{{0, 0}, {2, 0}, {-1, 0}, {2, 1}, {-1, -2}},
		{{0, 0}, {1, 0}, {-2, 0}, {1, -2}, {-2, 1}},
	}
	iKicksCCW = [4][]Cell{
		{{0, 0}, {-1, 0}, {2, 0}, {-1, 2}, {2, -1}},
		{{0, 0}, {2, 0}, {-1, 0}, {2, 1}, {-1, -2}},
		{{0, 0}, {1, 0}, {-2, 0}, {1, -2}, {-2, 1}},
		{{0, 0}, {-2, 0}, {1, 0}, {-2, -1}, {1, 2}},
	}
	flipKicks = [4][]Cell{
		{{0, 0}, {0, 1}, {1, 1}, {-1, 1}, {1, 0}, {-1, 0}},
		{{0, 0}, {1, 0}, {1, 2}, {1, 1}, {0, 2}, {0, 1}},
		{{0, 0}, {0, -1}, {-1, -1}, {1, -1}, {-1, 0}, {1, 0}},
		{{0, 0}, {-1, 0}, {-1, 2}, {-1, 1}, {0, 2}, {0, 1}},
	}
)

func kickTable(kind Kind, from, to Rotation) []Cell {
	if kind == KindO {
		return noKicks
	}
	from &= 3
	switch (to - from) & 3 {
	case 1:
		if kind == KindI {
			return iKicksCW[from]
		}
		return jlstzKicksCW[from]
	case 3:
		if kind == KindI {
			return iKicksCCW[from]
		}
		return jlstzKicksCCW[from]
	case 2:
		return flipKicks[from]
	}
	return noKicks
}
