package engine

import "container/heap"

type nodeFlags uint8

const (
	nodeExpanded nodeFlags = 1 << iota
	// nodeHoldPending marks an expanded node whose hold alternative needs a
	// queue piece that was not known yet.
	nodeHoldPending
	nodeDuplicate
	// nodePruned marks a node detached from its parent by the child limit.
	nodePruned
)

type node struct {
	board    Board
	counters Counters
	hold     Kind
	next     int32 // stream index of the piece to place from this node
	parent   int32
	depth    int32
	flags    nodeFlags
	move     Move    // placement that led here, path stripped
	reward   float64 // accumulated placement rewards from the root
	static   float64
	value    float64 // max of own value and the children's values
	children []int32
}

func (n *node) own() float64 { return n.reward + n.static }

type frontierItem struct {
	idx      int32
	priority float64
}

// frontier is a max-heap of expandable node indexes; ties go to the older node.
type frontier []frontierItem

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].priority != f[j].priority {
		return f[i].priority > f[j].priority
	}
	return f[i].idx < f[j].idx
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(frontierItem)) }
func (f *frontier) Pop() any {
	old := *f
	item := old[len(old)-1]
	*f = old[:len(old)-1]
	return item
}

// tree is the search arena. Nodes refer to each other only by index, and the
// root is node t.root. Stream index 0 is the root's current piece.
type tree struct {
	nodes    []node
	root     int32
	stream   []Kind
	frontier frontier
	seen     map[uint64]int32
}

func newTree(root node, stream []Kind) *tree {
	root.parent = -1
	root.depth = 0
	root.next = 0
	root.value = root.own()
	t := &tree{
		nodes:  make([]node, 1, 1024),
		stream: stream,
		seen:   make(map[uint64]int32, 1024),
	}
	t.nodes[0] = root
	return t
}

func (t *tree) pieceAt(i int32) Kind {
	if i < 0 || int(i) >= len(t.stream) {
		return KindNone
	}
	return t.stream[i]
}

func (t *tree) push(idx int32, depthBonus float64) {
	n := &t.nodes[idx]
	heap.Push(&t.frontier, frontierItem{idx: idx, priority: n.own() + float64(n.depth)*depthBonus})
}

func (t *tree) pop() (int32, bool) {
	for t.frontier.Len() > 0 {
		item := heap.Pop(&t.frontier).(frontierItem)
		if t.expandable(item.idx) {
			return item.idx, true
		}
	}
	return -1, false
}

// expandable reports whether expanding idx could add children now.
func (t *tree) expandable(idx int32) bool {
	n := &t.nodes[idx]
	if n.flags&(nodeDuplicate|nodePruned) != 0 {
		return false
	}
	if n.flags&nodeExpanded == 0 {
		return t.pieceAt(n.next) != KindNone
	}
	return n.flags&nodeHoldPending != 0 && t.pieceAt(n.next+1) != KindNone
}

// rebuildFrontier pushes every node that has work left, including horizon
// leaves and hold-pending nodes unlocked by a longer queue.
func (t *tree) rebuildFrontier(depthBonus float64) {
	t.frontier = t.frontier[:0]
	for i := range t.nodes {
		if t.expandable(int32(i)) {
			t.push(int32(i), depthBonus)
		}
	}
}

// backup raises the ancestors of idx to v where v improves on them.
func (t *tree) backup(idx int32, v float64) {
	for cur := idx; cur >= 0; cur = t.nodes[cur].parent {
		if t.nodes[cur].value >= v {
			return
		}
		t.nodes[cur].value = v
	}
}

// prune detaches the subtree under idx. Its nodes stay in the arena until the
// next reroot but are never expanded and no longer count as transpositions.
func (t *tree) prune(idx int32, z *ZobristTable) {
	stack := []int32{idx}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[cur]
		n.flags |= nodePruned
		key := z.Position(&n.board, n.counters, n.hold, int(n.next))
		if at, ok := t.seen[key]; ok && at == cur {
			delete(t.seen, key)
		}
		stack = append(stack, n.children...)
	}
}

func (t *tree) findRootChild(m Move) int32 {
	for _, c := range t.nodes[t.root].children {
		if t.nodes[c].move.Matches(m) {
			return c
		}
	}
	return -1
}

// reroot keeps only the subtree under idx, copied into a fresh arena with
// remapped indexes. Stream indexes, depths and rewards are rebased so the
// new root looks like a freshly seeded one.
func (t *tree) reroot(idx int32, z *ZobristTable) {
	old := t.nodes
	base := old[idx]
	order := make([]int32, 1, len(old))
	order[0] = idx
	nodes := make([]node, 1, len(old))
	nodes[0] = old[idx]
	nodes[0].parent = -1
	for i := 0; i < len(nodes); i++ {
		children := old[order[i]].children
		if len(children) == 0 {
			continue
		}
		remapped := make([]int32, len(children))
		for j, c := range children {
			remapped[j] = int32(len(nodes))
			order = append(order, c)
			child := old[c]
			child.parent = int32(i)
			nodes = append(nodes, child)
		}
		nodes[i].children = remapped
	}
	t.seen = make(map[uint64]int32, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		n.next -= base.next
		n.depth -= base.depth
		n.reward -= base.reward
		n.value -= base.reward
		if n.flags&nodeDuplicate == 0 {
			t.seen[z.Position(&n.board, n.counters, n.hold, int(n.next))] = int32(i)
		}
	}
	// A duplicate whose twin was discarded takes its place.
	for i := range nodes {
		n := &nodes[i]
		if n.flags&nodeDuplicate == 0 {
			continue
		}
		key := z.Position(&n.board, n.counters, n.hold, int(n.next))
		if _, ok := t.seen[key]; !ok {
			n.flags &^= nodeDuplicate
			t.seen[key] = int32(i)
		}
	}
	nodes[0].move = Move{}
	t.nodes = nodes
	t.root = 0
	t.stream = append([]Kind(nil), t.stream[base.next:]...)
	t.frontier = t.frontier[:0]
}

// extend replaces the stream with a longer one that starts with the current stream.
func (t *tree) extend(stream []Kind) {
	t.stream = append(t.stream[:0:0], stream...)
}

func (t *tree) matches(s Snapshot, stream []Kind) bool {
	root := &t.nodes[t.root]
	if root.board != s.Board || root.hold != s.Hold || root.counters != s.Counters {
		return false
	}
	if len(t.stream) > len(stream) {
		return false
	}
	for i, k := range t.stream {
		if stream[i] != k {
			return false
		}
	}
	return true
}
