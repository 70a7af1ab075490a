package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheKrainBow/tetris-ai/engine"
)

func TestRequestMoveDecodesRowMasksTopFirst(t *testing.T) {
	raw := `{"playerId":2,"board":[0,0,513,1023],"currentMino":"T","holdMino":"","nextMinos":["I","O","L"],"b2b":1,"ren":3}`
	var req requestMovePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	snap, err := snapshotFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, engine.KindT, snap.Current)
	assert.Equal(t, engine.KindNone, snap.Hold)
	assert.Equal(t, []engine.Kind{engine.KindI, engine.KindO, engine.KindL}, snap.Queue)
	assert.Equal(t, engine.Counters{B2B: 1, Ren: 3}, snap.Counters)
	// The last listed row is the floor.
	assert.Equal(t, uint16(1023), snap.Board.Row(0))
	assert.Equal(t, uint16(513), snap.Board.Row(1))
	assert.True(t, snap.Board.Occupied(9, 1))
	assert.False(t, snap.Board.Occupied(4, 1))
	assert.Equal(t, "2", string(req.PlayerID))
}

func TestRequestMoveDecodesCellGrid(t *testing.T) {
	raw := `{"board":[[0,0,0,0,0,0,0,0,0,0],[1,true,"J",0,0,0,0,0,0,false]],"currentMino":"i","holdMino":"E","nextMinos":"SZ"}`
	var req requestMovePayload
	require.NoError(t, json.Unmarshal([]byte(raw), &req))

	snap, err := snapshotFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, engine.KindI, snap.Current)
	assert.Equal(t, []engine.Kind{engine.KindS, engine.KindZ}, snap.Queue)
	assert.Equal(t, uint16(0b111), snap.Board.Row(0))
	assert.Equal(t, uint16(0), snap.Board.Row(1))
}

func TestRequestMoveStopsQueueAtUnknownPiece(t *testing.T) {
	req := requestMovePayload{CurrentMino: "O", NextMinos: pieceList{"I", "?", "T"}}
	snap, err := snapshotFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, []engine.Kind{engine.KindI}, snap.Queue)
}

func TestRequestMoveRejectsBadInput(t *testing.T) {
	cases := map[string]requestMovePayload{
		"missing current": {CurrentMino: ""},
		"unknown current": {CurrentMino: "Q"},
		"unknown hold":    {CurrentMino: "T", HoldMino: "Q"},
		"negative ren":    {CurrentMino: "T", Ren: -1},
		"too many rows":   {CurrentMino: "T", Board: wireBoard{rows: make([]uint16, engine.Height+1)}},
		"row too wide":    {CurrentMino: "T", Board: wireBoard{rows: []uint16{1 << engine.Width}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := snapshotFromRequest(req)
			require.Error(t, err)
			assert.ErrorIs(t, err, errInvalidPayload)
		})
	}
}

func TestWireBoardRejectsGarbage(t *testing.T) {
	var b wireBoard
	err := json.Unmarshal([]byte(`{"rows":1}`), &b)
	require.Error(t, err)
	assert.ErrorIs(t, err, errInvalidPayload)
}

func TestMoveDTORoundTripMatchesEngineMove(t *testing.T) {
	board := engine.Board{}
	moves := engine.NewGenerator(engine.DefaultRules()).Generate(&board, engine.KindT)
	require.NotEmpty(t, moves)
	for _, m := range moves {
		dto := moveToDTO(m)
		data, err := json.Marshal(dto)
		require.NoError(t, err)

		var decoded moveDTO
		require.NoError(t, json.Unmarshal(data, &decoded))
		back, err := moveFromDTO(&decoded)
		require.NoError(t, err)
		assert.True(t, back.Matches(m), "move %s did not survive the wire", m)
		assert.Equal(t, m.Path, back.Path)
		assert.Equal(t, m.Spin, back.Spin)
	}
}

func TestMoveToDTOUsesWireNames(t *testing.T) {
	m := engine.Move{
		Kind: engine.KindJ,
		Hold: true,
		Rot:  engine.RotLeft,
		X:    3,
		Y:    1,
		Spin: engine.SpinNone,
		Path: []engine.Input{engine.InputHold, engine.InputCCW, engine.InputLeft, engine.InputHardDrop},
	}
	m.Cells = m.Piece().Cells()
	dto := moveToDTO(m)
	assert.Equal(t, "J", dto.Piece)
	assert.Equal(t, 3, dto.Rotation)
	assert.Equal(t, "none", dto.Spin)
	assert.Equal(t, []string{"hold", "ccw", "left", "hard_drop"}, dto.Path)
	assert.Len(t, dto.Cells, 4)
}

func TestMoveFromDTORejectsBadMoves(t *testing.T) {
	_, err := moveFromDTO(nil)
	assert.ErrorIs(t, err, errInvalidPayload)
	_, err = moveFromDTO(&moveDTO{Piece: "X"})
	assert.ErrorIs(t, err, errInvalidPayload)
	_, err = moveFromDTO(&moveDTO{Piece: "T", Rotation: 4})
	assert.ErrorIs(t, err, errInvalidPayload)
	_, err = moveFromDTO(&moveDTO{Piece: "T", Path: []string{"jump"}})
	assert.ErrorIs(t, err, errInvalidPayload)
}

func TestBestMoveMessageCarriesNullPayload(t *testing.T) {
	data, err := json.Marshal(bestMoveMessage{Type: "bestMove", PlayerID: json.RawMessage(`"p1"`), Error: codeNoMove})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"bestMove","playerId":"p1","payload":null,"error":"no_move"}`, string(data))
}
