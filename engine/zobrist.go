package engine

import (
	"math/bits"
	"sync"
)

const (
	zobristCounterCap = 32
	zobristStreamCap  = 64
)

// ZobristTable holds the random keys used to hash search positions.
type ZobristTable struct {
	cells  [Height][Width]uint64
	hold   [KindL + 1]uint64
	b2b    [zobristCounterCap]uint64
	ren    [zobristCounterCap]uint64
	stream [zobristStreamCap]uint64
}

var (
	zobristOnce  sync.Once
	zobristTable *ZobristTable
)

func GetZobrist() *ZobristTable {
	zobristOnce.Do(func() {
		rng := splitmix64{state: 0x9e3779b97f4a7c15 ^ uint64(Width*Height)}
		z := &ZobristTable{}
		for y := range z.cells {
			for x := range z.cells[y] {
				z.cells[y][x] = rng.next()
			}
		}
		for i := range z.hold {
			z.hold[i] = rng.next()
		}
		for i := range z.b2b {
			z.b2b[i] = rng.next()
		}
		for i := range z.ren {
			z.ren[i] = rng.next()
		}
		for i := range z.stream {
			z.stream[i] = rng.next()
		}
		zobristTable = z
	})
	return zobristTable
}

func (z *ZobristTable) Board(b *Board) uint64 {
	var hash uint64
	top := b.StackHeight()
	for y := 0; y < top; y++ {
		row := b.rows[y]
		for row != 0 {
			x := bits.TrailingZeros16(row)
			hash ^= z.cells[y][x]
			row &= row - 1
		}
	}
	return hash
}

func (z *ZobristTable) Counters(c Counters) uint64 {
	return z.b2b[clampIndex(c.B2B, zobristCounterCap)] ^ z.ren[clampIndex(c.Ren, zobristCounterCap)]
}

// EvalKey identifies a static evaluation: the board plus the counters it depends on.
func (z *ZobristTable) EvalKey(b *Board, c Counters) uint64 {
	return z.Board(b) ^ z.Counters(c)
}

// Position hashes everything that makes two search nodes interchangeable.
func (z *ZobristTable) Position(b *Board, c Counters, hold Kind, next int) uint64 {
	hash := z.EvalKey(b, c) ^ z.hold[hold]
	if next < zobristStreamCap {
		return hash ^ z.stream[next]
	}
	rng := splitmix64{state: uint64(next)}
	return hash ^ rng.next()
}

func clampIndex(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v >= limit {
		return limit - 1
	}
	return v
}

type splitmix64 struct {
	state uint64
}

func (s *splitmix64) next() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
