package engine

import "math"

// Evaluator scores positions for the search. Evaluate gives the static value
// of a board after a placement, Reward scores the placement itself.
type Evaluator interface {
	Evaluate(board *Board, counters Counters) float64
	Reward(result LockResult) float64
}

// Weights drive the default heuristic. Board features are penalties and must
// stay at or below zero, except WellDepth and B2BActive which reward shape.
type Weights struct {
	Height         float64 `json:"height"`
	TopHalf        float64 `json:"top_half"`
	TopQuarter     float64 `json:"top_quarter"`
	Bumpiness      float64 `json:"bumpiness"`
	BumpinessSq    float64 `json:"bumpiness_sq"`
	Holes          float64 `json:"holes"`
	CoveredCells   float64 `json:"covered_cells"`
	RowTransitions float64 `json:"row_transitions"`
	ColTransitions float64 `json:"col_transitions"`
	WellDepth      float64 `json:"well_depth"`
	MaxWellDepth   float64 `json:"max_well_depth"`
	B2BActive      float64 `json:"b2b_active"`

	Clear1       float64 `json:"clear1"`
	Clear2       float64 `json:"clear2"`
	Clear3       float64 `json:"clear3"`
	Clear4       float64 `json:"clear4"`
	MiniTSpin1   float64 `json:"mini_tspin1"`
	MiniTSpin2   float64 `json:"mini_tspin2"`
	TSpin1       float64 `json:"tspin1"`
	TSpin2       float64 `json:"tspin2"`
	TSpin3       float64 `json:"tspin3"`
	PerfectClear float64 `json:"perfect_clear"`
	B2BClear     float64 `json:"b2b_clear"`
	Combo        float64 `json:"combo"`
	Attack       float64 `json:"attack"`
	WastedT      float64 `json:"wasted_t"`
}

func DefaultWeights() Weights {
	return Weights{
		Height:         -39,
		TopHalf:        -150,
		TopQuarter:     -511,
		Bumpiness:      -24,
		BumpinessSq:    -7,
		Holes:          -173,
		CoveredCells:   -34,
		RowTransitions: -5,
		ColTransitions: -10,
		WellDepth:      57,
		MaxWellDepth:   8, // rows, deeper wells stop paying
		B2BActive:      52,

		Clear1:       -143,
		Clear2:       -100,
		Clear3:       -58,
		Clear4:       390,
		MiniTSpin1:   -158,
		MiniTSpin2:   -93,
		TSpin1:       121,
		TSpin2:       410,
		TSpin3:       602,
		PerfectClear: 999,
		B2BClear:     104,
		Combo:        150,
		Attack:       20,
		WastedT:      -152,
	}
}

func (w *Weights) fields() []*float64 {
	return []*float64{
		&w.Height, &w.TopHalf, &w.TopQuarter, &w.Bumpiness, &w.BumpinessSq,
		&w.Holes, &w.CoveredCells, &w.RowTransitions, &w.ColTransitions,
		&w.WellDepth, &w.MaxWellDepth, &w.B2BActive,
		&w.Clear1, &w.Clear2, &w.Clear3, &w.Clear4,
		&w.MiniTSpin1, &w.MiniTSpin2, &w.TSpin1, &w.TSpin2, &w.TSpin3,
		&w.PerfectClear, &w.B2BClear, &w.Combo, &w.Attack, &w.WastedT,
	}
}

// Fields exposes the weights as a flat list, in a fixed order, for tuning.
func (w *Weights) Fields() []*float64 { return w.fields() }

// Resolved fills every zero weight from the defaults.
func (w Weights) Resolved() Weights {
	defaults := DefaultWeights()
	if w == (Weights{}) {
		return defaults
	}
	dst := w.fields()
	src := defaults.fields()
	for i := range dst {
		if *dst[i] == 0 {
			*dst[i] = *src[i]
		}
	}
	return w
}

// Clamped forces the board penalties to be non-positive and keeps Holes at
// least as strong as the terms a new hole can relieve, so the evaluation
// never improves when a hole is added.
func (w Weights) Clamped() Weights {
	for _, f := range []*float64{
		&w.Height, &w.TopHalf, &w.TopQuarter, &w.Bumpiness, &w.BumpinessSq,
		&w.Holes, &w.CoveredCells, &w.RowTransitions, &w.ColTransitions,
	} {
		if *f > 0 {
			*f = 0
		}
	}
	// Emptying a buried cell leaves heights alone, adds one hole and can drop
	// one covered cell plus two transitions in each direction.
	if limit := w.CoveredCells + 2*w.ColTransitions + 2*w.RowTransitions; w.Holes > limit {
		w.Holes = limit
	}
	if w.MaxWellDepth < 0 {
		w.MaxWellDepth = 0
	}
	return w
}

type Heuristic struct {
	weights     Weights
	fingerprint uint64
}

func NewHeuristic(w Weights) *Heuristic {
	w = w.Resolved().Clamped()
	return &Heuristic{weights: w, fingerprint: weightsHash(w)}
}

func (h *Heuristic) Weights() Weights { return h.weights }

// Fingerprint identifies the weight set; values cached under another
// fingerprint are never served.
func (h *Heuristic) Fingerprint() uint64 { return h.fingerprint }

func (h *Heuristic) Evaluate(b *Board, counters Counters) float64 {
	w := &h.weights
	heights := b.ColumnHeights()
	top := b.StackHeight()

	score := w.Height * float64(top)
	if top > VisibleHeight/2 {
		score += w.TopHalf * float64(top-VisibleHeight/2)
	}
	if top > VisibleHeight*3/4 {
		score += w.TopQuarter * float64(top-VisibleHeight*3/4)
	}

	well := 0
	for x := 1; x < Width; x++ {
		if heights[x] < heights[well] {
			well = x
		}
	}
	bump, bumpSq := 0, 0
	prev := -1
	for x := 0; x < Width; x++ {
		if x == well {
			continue
		}
		if prev >= 0 {
			d := heights[x] - heights[prev]
			if d < 0 {
				d = -d
			}
			bump += d
			bumpSq += d * d
		}
		prev = x
	}
	score += w.Bumpiness*float64(bump) + w.BumpinessSq*float64(bumpSq)

	depth := Height
	if well > 0 {
		depth = heights[well-1]
	}
	if well < Width-1 && heights[well+1] < depth {
		depth = heights[well+1]
	}
	depth -= heights[well]
	score += w.WellDepth * math.Min(float64(depth), w.MaxWellDepth)

	holes, covered, colTrans := 0, 0, 0
	for x := 0; x < Width; x++ {
		hole := false
		filledPrev := true // the floor
		for y := 0; y < heights[x]; y++ {
			filled := b.Occupied(x, y)
			if filled != filledPrev {
				colTrans++
			}
			filledPrev = filled
			switch {
			case !filled:
				holes++
				hole = true
			case hole:
				covered++
			}
		}
	}
	score += w.Holes*float64(holes) + w.CoveredCells*float64(covered) + w.ColTransitions*float64(colTrans)

	rowTrans := 0
	for y := 0; y < top; y++ {
		filledPrev := true // the wall
		for x := 0; x < Width; x++ {
			filled := b.Occupied(x, y)
			if filled != filledPrev {
				rowTrans++
			}
			filledPrev = filled
		}
		if !filledPrev {
			rowTrans++
		}
	}
	score += w.RowTransitions * float64(rowTrans)

	if counters.B2B > 0 {
		score += w.B2BActive
	}
	return score
}

func (h *Heuristic) Reward(r LockResult) float64 {
	w := &h.weights
	reward := 0.0
	if r.Lines > 0 {
		switch r.Spin {
		case SpinFull:
			reward += pick(r.Lines, w.TSpin1, w.TSpin2, w.TSpin3, w.TSpin3)
		case SpinMini:
			reward += pick(r.Lines, w.MiniTSpin1, w.MiniTSpin2, w.MiniTSpin2, w.MiniTSpin2)
		default:
			reward += pick(r.Lines, w.Clear1, w.Clear2, w.Clear3, w.Clear4)
		}
		if r.PerfectClear {
			reward += w.PerfectClear
		}
		if r.B2BBonus {
			reward += w.B2BClear
		}
		reward += w.Combo * float64(ComboAttack(r.Counters.Ren))
	}
	reward += w.Attack * float64(r.Attack)
	if r.Kind == KindT && r.Spin == SpinNone {
		reward += w.WastedT
	}
	return reward
}

func pick(lines int, one, two, three, four float64) float64 {
	switch lines {
	case 1:
		return one
	case 2:
		return two
	case 3:
		return three
	}
	return four
}
