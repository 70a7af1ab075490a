package engine

import (
	"fmt"
	"math/rand/v2"
)

type Randomizer interface {
	Next() Kind
}

// BagRandomizer deals the seven kinds in shuffled bags.
type BagRandomizer struct {
	rng *rand.Rand
	bag []Kind
}

func NewBagRandomizer(seed uint64) *BagRandomizer {
	return &BagRandomizer{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *BagRandomizer) Next() Kind {
	if len(r.bag) == 0 {
		r.bag = append(r.bag[:0], AllKinds[:]...)
		r.rng.Shuffle(len(r.bag), func(i, j int) { r.bag[i], r.bag[j] = r.bag[j], r.bag[i] })
	}
	k := r.bag[0]
	r.bag = r.bag[1:]
	return k
}

// Game is a single-player simulation used for self-play.
type Game struct {
	Board    Board
	Current  Kind
	Hold     Kind
	Queue    []Kind
	Counters Counters

	Pieces int
	Lines  int
	Attack int

	rules   Rules
	rand    Randomizer
	preview int
	over    bool
}

func NewGame(rules Rules, r Randomizer, preview int) *Game {
	if preview < 0 {
		preview = 0
	}
	g := &Game{rules: rules, rand: r, preview: preview}
	g.Current = r.Next()
	g.refill()
	g.over = !g.spawnable(g.Current)
	return g
}

func (g *Game) Over() bool { return g.over }

func (g *Game) Snapshot() Snapshot {
	return Snapshot{
		Board:    g.Board,
		Current:  g.Current,
		Hold:     g.Hold,
		Queue:    append([]Kind(nil), g.Queue...),
		Counters: g.Counters,
	}
}

// Apply plays m, swapping through hold when m.Hold is set. The game is left
// untouched when the move is not legal here.
func (g *Game) Apply(m Move) (LockResult, error) {
	if g.over {
		return LockResult{}, fmt.Errorf("apply: %w: game over", ErrInvalidState)
	}
	kind, hold, queue := g.Current, g.Hold, g.Queue
	if m.Hold {
		if !g.rules.AllowHold {
			return LockResult{}, fmt.Errorf("apply %s: %w: hold disabled", m, ErrInvalidPlacement)
		}
		if hold == KindNone {
			if len(queue) == 0 {
				return LockResult{}, fmt.Errorf("apply %s: %w: empty queue", m, ErrInvalidPlacement)
			}
			hold, kind, queue = kind, queue[0], queue[1:]
		} else {
			hold, kind = kind, hold
		}
	}
	if kind != m.Kind {
		return LockResult{}, fmt.Errorf("apply %s: %w: piece is %s", m, ErrInvalidPlacement, kind)
	}
	res, err := Lock(g.Board, m, g.Counters)
	if err != nil {
		return LockResult{}, fmt.Errorf("apply: %w", err)
	}

	g.Board = res.Board
	g.Counters = res.Counters
	g.Hold = hold
	g.Queue = queue
	g.Pieces++
	g.Lines += res.Lines
	g.Attack += res.Attack
	g.Current = g.pop()
	g.refill()
	g.over = !g.spawnable(g.Current)
	return res, nil
}

func (g *Game) pop() Kind {
	if len(g.Queue) == 0 {
		return g.rand.Next()
	}
	k := g.Queue[0]
	g.Queue = append([]Kind(nil), g.Queue[1:]...)
	return k
}

func (g *Game) refill() {
	for len(g.Queue) < g.preview {
		g.Queue = append(g.Queue, g.rand.Next())
	}
}

func (g *Game) spawnable(k Kind) bool {
	_, ok := g.rules.Spawn(&g.Board, k)
	return ok
}
