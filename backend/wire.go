package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/TheKrainBow/tetris-ai/engine"
)

var (
	errInvalidPayload = errors.New("invalid payload")
	errEngineNotReady = errors.New("engine not ready")
)

// Error codes sent back in error envelopes.
const (
	codeBadMessage     = "bad_message"
	codeInvalidRequest = "invalid_request"
	codeNotReady       = "not_ready"
	codeUnknownType    = "unknown_type"
	codeInternal       = "internal"
	codeNoMove         = "no_move"
)

type requestMovePayload struct {
	PlayerID    json.RawMessage `json:"playerId,omitempty"`
	Board       wireBoard       `json:"board"`
	CurrentMino string          `json:"currentMino"`
	HoldMino    string          `json:"holdMino"`
	NextMinos   pieceList       `json:"nextMinos"`
	B2B         int             `json:"b2b"`
	Ren         int             `json:"ren"`
}

type commitMovePayload struct {
	Move *moveDTO `json:"move"`
}

type bestMoveMessage struct {
	Type     string          `json:"type"`
	PlayerID json.RawMessage `json:"playerId,omitempty"`
	Payload  *moveDTO        `json:"payload"`
	Error    string          `json:"error,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type cellDTO struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// moveDTO is the wire move. Coordinates count columns from the left and
// rows upward from the bottom of the field; cells are the four squares the
// piece occupies once locked.
type moveDTO struct {
	Piece    string    `json:"piece"`
	Hold     bool      `json:"hold"`
	Rotation int       `json:"rotation"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Spin     string    `json:"spin"`
	Lines    int       `json:"lines"`
	Score    float64   `json:"score"`
	Cells    []cellDTO `json:"cells"`
	Path     []string  `json:"path"`
}

// wireBoard accepts either one bitmask per row or a grid of truthy cells.
// Both list rows top-first.
type wireBoard struct {
	rows []uint16
}

func (b *wireBoard) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		b.rows = nil
		return nil
	}
	var masks []uint16
	if err := json.Unmarshal(data, &masks); err == nil {
		b.rows = masks
		return nil
	}
	var grid [][]any
	if err := json.Unmarshal(data, &grid); err != nil {
		return fmt.Errorf("%w: board must be row masks or a cell grid", errInvalidPayload)
	}
	rows := make([]uint16, len(grid))
	for y, row := range grid {
		if len(row) > engine.Width {
			return fmt.Errorf("%w: board row %d has %d cells", errInvalidPayload, y, len(row))
		}
		for x, cell := range row {
			if truthy(cell) {
				rows[y] |= 1 << x
			}
		}
	}
	b.rows = rows
	return nil
}

func (b wireBoard) MarshalJSON() ([]byte, error) {
	if b.rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b.rows)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != "" && val != "0"
	}
	return false
}

// pieceList accepts ["I","O"] or "IO".
type pieceList []string

func (p *pieceList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*p = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("%w: nextMinos must be a list or a string", errInvalidPayload)
	}
	out := make([]string, 0, len(joined))
	for _, r := range joined {
		out = append(out, string(r))
	}
	*p = out
	return nil
}

func parseKind(code string) (engine.Kind, error) {
	return engine.KindFromCode(strings.ToUpper(code))
}

func snapshotFromRequest(req requestMovePayload) (engine.Snapshot, error) {
	board, err := engine.BoardFromRows(req.Board.rows)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	current, err := parseKind(req.CurrentMino)
	if err != nil || current == engine.KindNone {
		return engine.Snapshot{}, fmt.Errorf("%w: currentMino %q", errInvalidPayload, req.CurrentMino)
	}
	hold, err := parseKind(req.HoldMino)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("%w: holdMino %q", errInvalidPayload, req.HoldMino)
	}
	queue := make([]engine.Kind, 0, len(req.NextMinos))
	for _, code := range req.NextMinos {
		k, err := parseKind(code)
		if err != nil || k == engine.KindNone {
			// Unknown previews end the known queue.
			break
		}
		queue = append(queue, k)
	}
	if req.B2B < 0 || req.Ren < 0 {
		return engine.Snapshot{}, fmt.Errorf("%w: negative b2b or ren", errInvalidPayload)
	}
	return engine.Snapshot{
		Board:    board,
		Current:  current,
		Hold:     hold,
		Queue:    queue,
		Counters: engine.Counters{B2B: req.B2B, Ren: req.Ren},
	}, nil
}

func moveToDTO(m engine.Move) *moveDTO {
	dto := &moveDTO{
		Piece:    m.Kind.String(),
		Hold:     m.Hold,
		Rotation: int(m.Rot),
		X:        m.X,
		Y:        m.Y,
		Spin:     m.Spin.String(),
		Lines:    m.Lines,
		Score:    m.Score,
		Cells:    make([]cellDTO, 0, len(m.Cells)),
		Path:     make([]string, 0, len(m.Path)),
	}
	for _, c := range m.Cells {
		dto.Cells = append(dto.Cells, cellDTO{X: c.X, Y: c.Y})
	}
	for _, in := range m.Path {
		dto.Path = append(dto.Path, in.String())
	}
	return dto
}

// moveFromDTO rebuilds enough of a move to match it against the tree:
// piece, hold, rotation and position. Spin and path are carried when valid.
func moveFromDTO(dto *moveDTO) (engine.Move, error) {
	if dto == nil {
		return engine.Move{}, fmt.Errorf("%w: missing move", errInvalidPayload)
	}
	kind, err := parseKind(dto.Piece)
	if err != nil || kind == engine.KindNone {
		return engine.Move{}, fmt.Errorf("%w: piece %q", errInvalidPayload, dto.Piece)
	}
	if dto.Rotation < 0 || dto.Rotation > 3 {
		return engine.Move{}, fmt.Errorf("%w: rotation %d", errInvalidPayload, dto.Rotation)
	}
	m := engine.Move{
		Kind:  kind,
		Hold:  dto.Hold,
		Rot:   engine.Rotation(dto.Rotation),
		X:     dto.X,
		Y:     dto.Y,
		Lines: dto.Lines,
		Score: dto.Score,
	}
	m.Cells = m.Piece().Cells()
	if spin, err := engine.ParseSpin(dto.Spin); err == nil {
		m.Spin = spin
	}
	for _, name := range dto.Path {
		in, err := engine.ParseInput(name)
		if err != nil {
			return engine.Move{}, fmt.Errorf("%w: %v", errInvalidPayload, err)
		}
		m.Path = append(m.Path, in)
	}
	return m, nil
}

func errorMessage(code string, err error) wsMessage {
	return wsMessage{Type: "error", Payload: mustMarshal(errorPayload{Code: code, Message: err.Error()})}
}

func mustMarshal(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
