package graph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/freeeve/tablebase/internal/game"
)

// ErrInvalidDefinition is returned for a game file that does not describe a
// closed, consistent state graph.
var ErrInvalidDefinition = errors.New("invalid game definition")

// Definition is the YAML form of a game.
//
//	lost_if_unable_to_move: false
//	layers:
//	  - states: 3
//	    retro: true
//	states:
//	  - id: 0/0
//	    invalid: true
//	  - id: 0/1
//	    value: won
//	edges:
//	  - {from: 0/2, to: 0/1}
type Definition struct {
	LostIfUnableToMove bool       `yaml:"lost_if_unable_to_move"`
	MaxPlies           int        `yaml:"max_plies"`
	Layers             []LayerDef `yaml:"layers"`
	States             []StateDef `yaml:"states"`
	Edges              []EdgeDef  `yaml:"edges"`
}

// LayerDef declares one layer.
type LayerDef struct {
	Name   string `yaml:"name"`
	States uint32 `yaml:"states"`
	// Retro selects retrograde analysis for the layer.
	Retro bool `yaml:"retro"`
	// Succ adds successor layers to the ones implied by the edges.
	Succ     []uint32 `yaml:"succ"`
	Partners []uint32 `yaml:"partners"`
}

// StateDef overrides the defaults of one state. States that are not listed
// are valid, non-terminal and evaluate to drawn.
type StateDef struct {
	ID      string   `yaml:"id"`
	Invalid bool     `yaml:"invalid"`
	Value   string   `yaml:"value"`
	Eval    *float32 `yaml:"eval"`
	// AliasOf makes the state a symmetric duplicate of another state. An
	// alias has no edges of its own.
	AliasOf string `yaml:"alias_of"`
}

// EdgeDef is one move. PlayerChanged defaults to true.
type EdgeDef struct {
	From          string `yaml:"from"`
	To            string `yaml:"to"`
	PlayerChanged *bool  `yaml:"player_changed"`
}

// ParseAddress parses "layer/state".
func ParseAddress(s string) (game.StateAddress, error) {
	ls, ss, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return game.StateAddress{}, fmt.Errorf("%w: address %q is not layer/state", ErrInvalidDefinition, s)
	}
	l, err := strconv.ParseUint(ls, 10, 32)
	if err != nil {
		return game.StateAddress{}, fmt.Errorf("%w: address %q: %v", ErrInvalidDefinition, s, err)
	}
	st, err := strconv.ParseUint(ss, 10, 32)
	if err != nil {
		return game.StateAddress{}, fmt.Errorf("%w: address %q: %v", ErrInvalidDefinition, s, err)
	}
	return game.StateAddress{Layer: uint32(l), State: uint32(st)}, nil
}

type edge struct {
	to            game.StateAddress
	playerChanged bool
}

type node struct {
	invalid   bool
	value     game.Value
	eval      float32
	canonical game.StateAddress
	aliases   []game.StateAddress
	out       []edge
	in        []game.PredecessorEdge
}

// cursor is the current situation of one worker.
type cursor struct {
	at    game.StateAddress
	valid bool
}
