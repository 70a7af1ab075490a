package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

type State uint8

const (
	StateIdle State = iota
	StateThinking
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateThinking:
		return "thinking"
	case StateExhausted:
		return "exhausted"
	}
	return "idle"
}

// deathScore is the static value of a position where the next piece cannot spawn.
const deathScore = -1e9

// Snapshot is the game state a search starts from.
type Snapshot struct {
	Board    Board
	Current  Kind
	Hold     Kind
	Queue    []Kind
	Counters Counters
}

func (s Snapshot) Validate() error {
	if !s.Current.Valid() {
		return fmt.Errorf("%w: current piece %d", ErrInvalidSnapshot, s.Current)
	}
	if s.Hold != KindNone && !s.Hold.Valid() {
		return fmt.Errorf("%w: hold piece %d", ErrInvalidSnapshot, s.Hold)
	}
	if s.Counters.B2B < 0 || s.Counters.Ren < 0 {
		return fmt.Errorf("%w: negative counters b2b=%d ren=%d", ErrInvalidSnapshot, s.Counters.B2B, s.Counters.Ren)
	}
	return nil
}

// stream is the current piece followed by the known queue, cut at the first unknown entry.
func (s Snapshot) stream() []Kind {
	out := make([]Kind, 0, len(s.Queue)+1)
	out = append(out, s.Current)
	for _, k := range s.Queue {
		if !k.Valid() {
			break
		}
		out = append(out, k)
	}
	return out
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEvaluator replaces the default heuristic. Evaluators that expose a
// Fingerprint() uint64 method can share the eval cache.
func WithEvaluator(ev Evaluator) Option {
	return func(e *Engine) { e.eval = ev }
}

func WithEvalCache(cache *EvalCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// Engine is a best-first move search over the current piece, hold and the
// known queue. It is single-writer: one goroutine owns it.
type Engine struct {
	cfg      Config
	gen      *Generator
	eval     Evaluator
	cache    *EvalCache
	cacheTag uint64
	zobrist  *ZobristTable
	logger   zerolog.Logger

	state   State
	started bool
	stepped bool
	tree    *tree
	stats   Stats
}

func NewEngine(cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		gen:     NewGenerator(cfg.Rules),
		zobrist: GetZobrist(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.eval == nil {
		e.eval = NewHeuristic(cfg.Weights)
	}
	if fp, ok := e.eval.(interface{ Fingerprint() uint64 }); ok {
		e.cacheTag = fp.Fingerprint()
	} else {
		e.cache = nil
	}
	return e
}

func (e *Engine) Config() Config { return e.cfg }
func (e *Engine) State() State   { return e.state }

func (e *Engine) Stats() Stats {
	s := e.stats
	if e.tree != nil {
		s.Nodes = len(e.tree.nodes)
		s.Frontier = e.tree.frontier.Len()
	}
	return s
}

// Start seeds a search from s. A subtree kept by Commit is reused when its
// root matches the snapshot and the known queue only grew.
func (e *Engine) Start(s Snapshot) error {
	if e.state == StateThinking {
		return fmt.Errorf("start: %w: search already running", ErrInvalidState)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	stream := s.stream()
	e.stats = Stats{Searches: e.stats.Searches + 1, Reused: e.stats.Reused, Started: time.Now()}
	if e.tree != nil && e.tree.matches(s, stream) {
		e.tree.extend(stream)
		e.stats.Reused++
		e.completeRoot()
		e.logger.Debug().Int("nodes", len(e.tree.nodes)).Msg("reusing committed subtree")
	} else {
		root := node{
			board:    s.Board,
			counters: s.Counters,
			hold:     s.Hold,
			static:   e.evaluate(&s.Board, s.Counters),
		}
		e.tree = newTree(root, stream)
		e.tree.seen[e.zobrist.Position(&s.Board, s.Counters, s.Hold, 0)] = 0
	}
	e.tree.rebuildFrontier(e.cfg.DepthBonus)
	if e.cache != nil {
		e.cache.NextGeneration()
	}
	e.state = StateThinking
	e.started = true
	e.stepped = false
	return nil
}

// StepBudgeted performs up to n node expansions and returns how many ran.
// Each expansion costs one or two move generations plus their evaluations.
func (e *Engine) StepBudgeted(n int) (int, error) {
	switch e.state {
	case StateIdle:
		return 0, fmt.Errorf("step: %w: no search running", ErrInvalidState)
	case StateExhausted:
		e.stepped = true
		return 0, nil
	}
	done := 0
	for done < n {
		if len(e.tree.nodes) >= e.cfg.MaxNodes {
			e.exhaust("node limit")
			break
		}
		idx, ok := e.tree.pop()
		if !ok {
			e.exhaust("frontier empty")
			break
		}
		e.expand(idx)
		done++
	}
	if e.state == StateThinking && e.tree.frontier.Len() == 0 {
		e.exhaust("frontier empty")
	}
	e.stepped = true
	return done, nil
}

func (e *Engine) exhaust(reason string) {
	e.state = StateExhausted
	e.logger.Debug().Str("reason", reason).EmbedObject(e.Stats()).Msg("search exhausted")
}

// BestMove returns the root child with the highest backed-up value. Ties go
// to the child discovered first.
func (e *Engine) BestMove() (Move, error) {
	if e.state == StateIdle || e.tree == nil {
		return Move{}, fmt.Errorf("best move: %w: no search running", ErrInvalidState)
	}
	if !e.stepped {
		return Move{}, fmt.Errorf("best move: %w: no steps taken since start", ErrInvalidState)
	}
	t := e.tree
	root := &t.nodes[t.root]
	if root.flags&nodeExpanded == 0 {
		return Move{}, fmt.Errorf("best move: %w: root not expanded yet", ErrInvalidState)
	}
	if len(root.children) == 0 {
		return Move{}, ErrNoMoveFound
	}
	best := root.children[0]
	for _, c := range root.children[1:] {
		if t.nodes[c].value > t.nodes[best].value {
			best = c
		}
	}
	m := t.nodes[best].move
	m.Score = t.nodes[best].value
	m.Path = e.pathFor(&root.board, m)
	e.logger.Debug().Str("move", m.String()).Float64("score", m.Score).EmbedObject(e.Stats()).Msg("best move")
	return m, nil
}

// RootMoves lists every legal placement at the root with its backed-up value,
// in discovery order. Paths are not filled in.
func (e *Engine) RootMoves() []Move {
	if e.tree == nil {
		return nil
	}
	t := e.tree
	out := make([]Move, 0, len(t.nodes[t.root].children))
	for _, c := range t.nodes[t.root].children {
		m := t.nodes[c].move
		m.Score = t.nodes[c].value
		out = append(out, m)
	}
	return out
}

// Commit advances the tree to the root child matching m and keeps its
// subtree for the next Start. An unknown move drops the tree.
func (e *Engine) Commit(m Move) error {
	if !e.started {
		return fmt.Errorf("commit: %w: no search since reset", ErrInvalidState)
	}
	e.state = StateIdle
	e.stepped = false
	if e.tree == nil {
		return nil
	}
	child := e.tree.findRootChild(m)
	if child < 0 {
		e.logger.Debug().Str("move", m.String()).Msg("committed move not in tree, discarding")
		e.tree = nil
		return nil
	}
	e.tree.reroot(child, e.zobrist)
	return nil
}

func (e *Engine) Reset() {
	e.tree = nil
	e.state = StateIdle
	e.started = false
	e.stepped = false
}

func (e *Engine) expand(idx int32) {
	t := e.tree
	parent := t.nodes[idx]
	cur := t.pieceAt(parent.next)
	var kids []node
	pending := false
	if parent.flags&nodeExpanded == 0 {
		kids = e.placements(kids, idx, &parent, cur, false, parent.hold, parent.next+1)
		if e.cfg.Rules.AllowHold {
			kids, pending = e.holdPlacements(kids, idx, &parent, cur)
		}
	} else {
		kids, pending = e.holdPlacements(kids, idx, &parent, cur)
	}
	e.stats.Expansions++

	flags := (parent.flags | nodeExpanded) &^ nodeHoldPending
	if pending {
		flags |= nodeHoldPending
	}
	t.nodes[idx].flags = flags

	isRoot := idx == t.root
	if !isRoot && e.cfg.ChildLimit > 0 {
		kids = e.limitChildren(idx, kids)
	}
	e.attach(idx, kids, isRoot)
}

// limitChildren keeps the best ChildLimit of the node's current children and
// kids together. Children that lose their place are pruned with their
// subtrees; the kids that make the cut are returned, best first.
func (e *Engine) limitChildren(idx int32, kids []node) []node {
	t := e.tree
	limit := e.cfg.ChildLimit
	existing := t.nodes[idx].children
	if len(existing)+len(kids) <= limit {
		return kids
	}
	sort.SliceStable(kids, func(i, j int) bool { return kids[i].value > kids[j].value })

	type candidate struct {
		value float64
		child int32 // -1 for a new kid
	}
	ranked := make([]candidate, 0, len(existing)+len(kids))
	for _, c := range existing {
		ranked = append(ranked, candidate{value: t.nodes[c].value, child: c})
	}
	for i := range kids {
		ranked = append(ranked, candidate{value: kids[i].value, child: -1})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].value > ranked[j].value })

	keep := 0
	var dropped map[int32]bool
	for i, c := range ranked {
		switch {
		case i < limit && c.child < 0:
			keep++
		case i >= limit && c.child >= 0:
			if dropped == nil {
				dropped = make(map[int32]bool)
			}
			dropped[c.child] = true
		}
	}
	if len(dropped) > 0 {
		children := make([]int32, 0, limit)
		for _, c := range existing {
			if dropped[c] {
				t.prune(c, e.zobrist)
				e.stats.Pruned++
				continue
			}
			children = append(children, c)
		}
		t.nodes[idx].children = children
	}
	return kids[:keep]
}

// attach adds kids under idx and backs their best value up the tree.
// Transpositions are kept at the root, flagged, so the root move list stays complete.
func (e *Engine) attach(idx int32, kids []node, keepDuplicates bool) {
	t := e.tree
	best := math.Inf(-1)
	for i := range kids {
		kid := kids[i]
		key := e.zobrist.Position(&kid.board, kid.counters, kid.hold, int(kid.next))
		if _, dup := t.seen[key]; dup {
			e.stats.Transpositions++
			if !keepDuplicates {
				continue
			}
			kid.flags |= nodeDuplicate
		}
		childIdx := int32(len(t.nodes))
		if kid.flags&nodeDuplicate == 0 {
			t.seen[key] = childIdx
		}
		t.nodes = append(t.nodes, kid)
		t.nodes[idx].children = append(t.nodes[idx].children, childIdx)
		if t.expandable(childIdx) {
			t.push(childIdx, e.cfg.DepthBonus)
		}
		best = math.Max(best, kid.value)
	}
	if !math.IsInf(best, -1) {
		t.backup(idx, best)
	}
}

// completeRoot adds the placements a reused root lost to child pruning when
// it was still an inner node.
func (e *Engine) completeRoot() {
	t := e.tree
	root := t.nodes[t.root]
	if root.flags&nodeExpanded == 0 {
		return
	}
	cur := t.pieceAt(root.next)
	all := e.placements(nil, t.root, &root, cur, false, root.hold, root.next+1)
	if e.cfg.Rules.AllowHold {
		var pending bool
		all, pending = e.holdPlacements(all, t.root, &root, cur)
		if !pending {
			t.nodes[t.root].flags &^= nodeHoldPending
		}
	}
	missing := all[:0]
	for _, kid := range all {
		if t.findRootChild(kid.move) < 0 {
			missing = append(missing, kid)
		}
	}
	if len(missing) > 0 {
		e.attach(t.root, missing, true)
	}
}

func (e *Engine) holdPlacements(kids []node, idx int32, parent *node, cur Kind) ([]node, bool) {
	if cur == KindNone {
		return kids, false
	}
	switch {
	case parent.hold == KindNone:
		next := e.tree.pieceAt(parent.next + 1)
		if next == KindNone {
			return kids, true
		}
		return e.placements(kids, idx, parent, next, true, cur, parent.next+2), false
	case parent.hold != cur:
		return e.placements(kids, idx, parent, parent.hold, true, cur, parent.next+1), false
	}
	return kids, false
}

// placements locks every generated move of kind on the parent's board.
func (e *Engine) placements(kids []node, idx int32, parent *node, kind Kind, hold bool, newHold Kind, next int32) []node {
	if kind == KindNone {
		return kids
	}
	moves := e.gen.Generate(&parent.board, kind)
	e.stats.Generated += len(moves)
	upcoming := e.tree.pieceAt(next)
	for _, m := range moves {
		res, err := Lock(parent.board, m, parent.counters)
		if err != nil {
			e.logger.Error().Err(err).Msg("generated move failed to lock")
			continue
		}
		m.Hold = hold
		m.Lines = res.Lines
		m.Path = nil
		kid := node{
			board:    res.Board,
			counters: res.Counters,
			hold:     newHold,
			next:     next,
			parent:   idx,
			depth:    parent.depth + 1,
			move:     m,
			reward:   parent.reward + e.eval.Reward(res),
		}
		if upcoming != KindNone && !e.canSpawn(&res.Board, upcoming) {
			kid.static = deathScore
		} else {
			kid.static = e.evaluate(&res.Board, res.Counters)
		}
		kid.value = kid.own()
		kids = append(kids, kid)
	}
	return kids
}

func (e *Engine) canSpawn(b *Board, kind Kind) bool {
	_, ok := e.cfg.Rules.Spawn(b, kind)
	return ok
}

func (e *Engine) evaluate(b *Board, c Counters) float64 {
	if e.cache == nil {
		return e.eval.Evaluate(b, c)
	}
	key := e.zobrist.EvalKey(b, c)
	e.stats.CacheProbes++
	if v, ok := e.cache.Probe(key, e.cacheTag); ok {
		e.stats.CacheHits++
		return v
	}
	v := e.eval.Evaluate(b, c)
	e.cache.Store(key, e.cacheTag, v)
	return v
}

func (e *Engine) pathFor(board *Board, m Move) []Input {
	want := shapeKey(m.Cells)
	for _, cand := range e.gen.Generate(board, m.Kind) {
		if shapeKey(cand.Cells) != want {
			continue
		}
		if !m.Hold {
			return cand.Path
		}
		return append([]Input{InputHold}, cand.Path...)
	}
	return []Input{InputHardDrop}
}
