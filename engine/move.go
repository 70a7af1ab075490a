package engine

import (
	"fmt"
	"strings"
)

type Input uint8

const (
	InputNone Input = iota
	InputLeft
	InputRight
	InputCW
	InputCCW
	InputFlip
	InputSoftDrop
	InputSonicDrop
	InputHardDrop
	InputHold
)

var inputNames = [...]string{"", "left", "right", "cw", "ccw", "flip", "soft_drop", "sonic_drop", "hard_drop", "hold"}

func (in Input) String() string {
	if int(in) >= len(inputNames) {
		return fmt.Sprintf("input(%d)", in)
	}
	return inputNames[in]
}

func (in Input) rotation() bool {
	return in == InputCW || in == InputCCW || in == InputFlip
}

func ParseInput(s string) (Input, error) {
	for i, name := range inputNames {
		if i > 0 && name == s {
			return Input(i), nil
		}
	}
	return InputNone, fmt.Errorf("unknown input %q", s)
}

type Spin uint8

const (
	SpinNone Spin = iota
	SpinMini
	SpinFull
)

func (s Spin) String() string {
	switch s {
	case SpinMini:
		return "mini"
	case SpinFull:
		return "full"
	}
	return "none"
}

func ParseSpin(s string) (Spin, error) {
	switch s {
	case "", "none":
		return SpinNone, nil
	case "mini":
		return SpinMini, nil
	case "full":
		return SpinFull, nil
	}
	return SpinNone, fmt.Errorf("unknown spin %q", s)
}

// Move describes one placement: which piece lands where, whether hold was
// used to get it, and the input sequence that reaches it from spawn.
type Move struct {
	Kind  Kind
	Hold  bool
	Rot   Rotation
	X, Y  int
	Spin  Spin
	Cells [4]Cell
	Path  []Input
	Lines int
	Score float64
}

func (m Move) Piece() Piece {
	return Piece{Kind: m.Kind, Rot: m.Rot, X: m.X, Y: m.Y}
}

// Matches reports whether two moves put the same piece on the same cells,
// using hold the same way. Rotation state and path are ignored.
func (m Move) Matches(o Move) bool {
	return m.Hold == o.Hold && m.Kind == o.Kind && shapeKey(m.Piece().Cells()) == shapeKey(o.Piece().Cells())
}

func (m Move) String() string {
	var sb strings.Builder
	if m.Hold {
		sb.WriteString("hold ")
	}
	sb.WriteString(m.Piece().String())
	if m.Spin != SpinNone {
		sb.WriteString(" spin=")
		sb.WriteString(m.Spin.String())
	}
	if m.Lines > 0 {
		fmt.Fprintf(&sb, " lines=%d", m.Lines)
	}
	return sb.String()
}

// shapeKey packs the sorted absolute cell indexes so equal cell sets compare equal.
func shapeKey(cells [4]Cell) uint64 {
	var idx [4]uint16
	for i, c := range cells {
		idx[i] = uint16(c.Y*Width + c.X)
	}
	for i := 1; i < len(idx); i++ {
		for j := i; j > 0 && idx[j] < idx[j-1]; j-- {
			idx[j], idx[j-1] = idx[j-1], idx[j]
		}
	}
	return uint64(idx[0]) | uint64(idx[1])<<16 | uint64(idx[2])<<32 | uint64(idx[3])<<48
}
