package httpapi

import (
	"math"

	"github.com/freeeve/tablebase/internal/alphabeta"
	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/store"
)

// KnotResponse is one state and its stored result.
type KnotResponse struct {
	Layer uint32 `json:"layer"`
	State uint32 `json:"state"`
	Value string `json:"value"`
	// Ply is the raw ply info, PlyText its readable form ("12", "drawn").
	Ply     uint16 `json:"ply"`
	PlyText string `json:"ply_text"`
}

func toKnotResponse(addr game.StateAddress, k game.Knot) KnotResponse {
	return KnotResponse{
		Layer:   addr.Layer,
		State:   addr.State,
		Value:   k.Value.String(),
		Ply:     uint16(k.Ply),
		PlyText: k.Ply.String(),
	}
}

// ChildResponse is one possibility of a searched state, seen from the
// player to move in the child.
type ChildResponse struct {
	Move          uint32  `json:"move"`
	PlayerChanged bool    `json:"player_changed"`
	Value         string  `json:"value"`
	Ply           string  `json:"ply"`
	Float         float64 `json:"float"`
}

// ChoiceResponse is the answer to a best-move query.
type ChoiceResponse struct {
	KnotResponse
	Float float64 `json:"float"`
	// Move is absent for states without possibilities.
	Move      *uint32         `json:"move,omitempty"`
	Children  []ChildResponse `json:"children"`
	Histogram map[string]int  `json:"histogram"`
}

func toChoiceResponse(addr game.StateAddress, c alphabeta.Choice) ChoiceResponse {
	resp := ChoiceResponse{
		KnotResponse: toKnotResponse(addr, c.Knot),
		Float:        finite(c.Float),
		Children:     make([]ChildResponse, 0, len(c.Children)),
		Histogram:    make(map[string]int),
	}
	if c.HasMove {
		m := uint32(c.Move)
		resp.Move = &m
	}
	for _, ch := range c.Children {
		resp.Children = append(resp.Children, ChildResponse{
			Move:          uint32(ch.Move),
			PlayerChanged: ch.PlayerChanged,
			Value:         ch.Knot.Value.String(),
			Ply:           ch.Knot.Ply.String(),
			Float:         finite(ch.Float),
		})
	}
	for v, n := range c.Histogram {
		if n > 0 {
			resp.Histogram[game.Value(v).String()] = n
		}
	}
	return resp
}

// finite clamps infinities, which JSON cannot carry.
func finite(f float32) float64 {
	switch {
	case math.IsInf(float64(f), 1):
		return math.MaxFloat32
	case math.IsInf(float64(f), -1):
		return -math.MaxFloat32
	case math.IsNaN(float64(f)):
		return 0
	}
	return float64(f)
}

// LayersResponse describes the whole database.
type LayersResponse struct {
	Encoding string               `json:"encoding"`
	Complete bool                 `json:"complete"`
	Session  store.Counters       `json:"session"`
	Layers   []store.LayerSummary `json:"layers"`
}
