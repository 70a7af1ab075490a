package engine

import "fmt"

// Counters carry the combo state between placements.
type Counters struct {
	B2B int `json:"b2b"`
	Ren int `json:"ren"`
}

type LockResult struct {
	Board        Board
	Kind         Kind
	Spin         Spin
	Lines        int
	PerfectClear bool
	// B2BBonus is set when a difficult clear continued an existing back-to-back chain.
	B2BBonus bool
	Attack   int
	Counters Counters
}

var (
	clearAttack     = [5]int{0, 0, 1, 2, 4}
	tspinAttack     = [4]int{0, 2, 4, 6}
	miniTSpinAttack = [3]int{0, 0, 1}
	comboAttack     = [...]int{0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 4, 5}
)

const perfectClearAttack = 10

// ComboAttack is the extra garbage for the ren-th consecutive clear.
func ComboAttack(ren int) int {
	if ren <= 0 {
		return 0
	}
	if ren > len(comboAttack) {
		ren = len(comboAttack)
	}
	return comboAttack[ren-1]
}

// Lock places the move, clears lines and advances the counters. Ren counts
// consecutive clearing placements and resets on a placement without a clear.
// B2B counts consecutive difficult clears (tetris or spin with lines), resets
// on an easy clear and is untouched by a placement without a clear.
func Lock(board Board, m Move, c Counters) (LockResult, error) {
	placed, err := board.Place(m.Piece())
	if err != nil {
		return LockResult{}, fmt.Errorf("lock %s: %w", m, err)
	}
	cleared, lines := placed.ClearLines()
	res := LockResult{
		Board: cleared,
		Kind:  m.Kind,
		Spin:  m.Spin,
		Lines: lines,
	}
	if lines == 0 {
		res.Counters = Counters{B2B: c.B2B, Ren: 0}
		return res, nil
	}

	res.PerfectClear = cleared.IsEmpty()
	res.Counters.Ren = c.Ren + 1
	difficult := lines == 4 || m.Spin != SpinNone
	if difficult {
		res.B2BBonus = c.B2B > 0
		res.Counters.B2B = c.B2B + 1
	}

	attack := clearAttack[min(lines, 4)]
	switch m.Spin {
	case SpinFull:
		attack = tspinAttack[min(lines, 3)]
	case SpinMini:
		attack = miniTSpinAttack[min(lines, 2)]
	}
	if res.B2BBonus {
		attack++
	}
	attack += ComboAttack(res.Counters.Ren)
	if res.PerfectClear {
		attack += perfectClearAttack
	}
	res.Attack = attack
	return res, nil
}
