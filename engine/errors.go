package engine

import "errors"

var (
	// ErrInvalidPlacement is returned when a piece would overlap a filled cell or leave the board.
	ErrInvalidPlacement = errors.New("invalid placement")
	// ErrInvalidState is returned when an engine operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid engine state")
	// ErrNoMoveFound is returned when the root position has no legal placement.
	ErrNoMoveFound = errors.New("no move found")
	// ErrInvalidSnapshot is returned when a game snapshot cannot seed a search.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
