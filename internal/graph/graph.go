// Package graph is a game given as an explicit, closed state graph.
//
// Layers, terminal values and moves are read from a YAML file. The graph
// implements game.Game, so any layered game small enough to enumerate can be
// solved and queried without writing code.
package graph

import (
	"fmt"
	"os"
	"slices"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/freeeve/tablebase/internal/game"
)

// Graph implements game.Game over a Definition.
type Graph struct {
	def     Definition
	nodes   [][]node
	succ    [][]uint32
	threads []cursor
	maxPoss int
}

var _ game.Game = (*Graph)(nil)

// Load reads a YAML definition. threads is the number of independent
// situations, one per worker.
func Load(path string, threads int) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	g, err := Parse(data, threads)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// Parse builds a graph from YAML.
func Parse(data []byte, threads int) (*Graph, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return New(def, threads)
}

// New validates def and builds the graph.
func New(def Definition, threads int) (*Graph, error) {
	if threads <= 0 {
		threads = 1
	}
	if len(def.Layers) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrInvalidDefinition)
	}
	g := &Graph{
		def:     def,
		nodes:   make([][]node, len(def.Layers)),
		succ:    make([][]uint32, len(def.Layers)),
		threads: make([]cursor, threads),
	}
	for l, ld := range def.Layers {
		g.nodes[l] = make([]node, ld.States)
		for s := range g.nodes[l] {
			g.nodes[l][s] = node{
				value:     game.ValueDrawn,
				canonical: game.StateAddress{Layer: uint32(l), State: uint32(s)},
			}
		}
		for _, p := range append(slices.Clone(ld.Succ), ld.Partners...) {
			if int(p) >= len(def.Layers) {
				return nil, fmt.Errorf("%w: layer %d references layer %d", ErrInvalidDefinition, l, p)
			}
		}
		g.succ[l] = slices.Clone(ld.Succ)
	}

	if err := g.applyStates(); err != nil {
		return nil, err
	}
	if err := g.applyEdges(); err != nil {
		return nil, err
	}
	for l := range g.succ {
		g.succ[l] = lo.Without(lo.Uniq(g.succ[l]), uint32(l))
		slices.Sort(g.succ[l])
	}
	return g, nil
}

func (g *Graph) node(a game.StateAddress) (*node, error) {
	if int(a.Layer) >= len(g.nodes) || int(a.State) >= len(g.nodes[a.Layer]) {
		return nil, fmt.Errorf("%w: state %s out of range", ErrInvalidDefinition, a)
	}
	return &g.nodes[a.Layer][a.State], nil
}

func (g *Graph) applyStates() error {
	var aliases [][2]game.StateAddress
	for _, sd := range g.def.States {
		a, err := ParseAddress(sd.ID)
		if err != nil {
			return err
		}
		n, err := g.node(a)
		if err != nil {
			return err
		}
		n.invalid = sd.Invalid
		if sd.Value != "" {
			v, err := game.ParseValue(sd.Value)
			if err != nil {
				return fmt.Errorf("%w: state %s: %v", ErrInvalidDefinition, a, err)
			}
			n.value = v
		}
		switch {
		case sd.Eval != nil:
			n.eval = *sd.Eval
		case n.value == game.ValueWon:
			n.eval = 1
		case n.value == game.ValueLost:
			n.eval = -1
		}
		if sd.AliasOf != "" {
			c, err := ParseAddress(sd.AliasOf)
			if err != nil {
				return err
			}
			aliases = append(aliases, [2]game.StateAddress{a, c})
		}
	}

	for _, pair := range aliases {
		a, c := pair[0], pair[1]
		cn, err := g.node(c)
		if err != nil {
			return err
		}
		an, _ := g.node(a)
		if cn.invalid || an.invalid || cn.canonical != c || a == c {
			return fmt.Errorf("%w: %s cannot alias %s", ErrInvalidDefinition, a, c)
		}
		if len(an.aliases) > 0 {
			return fmt.Errorf("%w: %s is aliased and cannot be an alias", ErrInvalidDefinition, a)
		}
		an.canonical = c
		cn.aliases = append(cn.aliases, a)
		if c.Layer != a.Layer {
			g.succ[a.Layer] = append(g.succ[a.Layer], c.Layer)
		}
	}
	return nil
}

func (g *Graph) applyEdges() error {
	for _, ed := range g.def.Edges {
		from, err := ParseAddress(ed.From)
		if err != nil {
			return err
		}
		to, err := ParseAddress(ed.To)
		if err != nil {
			return err
		}
		fn, err := g.node(from)
		if err != nil {
			return err
		}
		tn, err := g.node(to)
		if err != nil {
			return err
		}
		if fn.canonical != from {
			return fmt.Errorf("%w: edge from alias %s", ErrInvalidDefinition, from)
		}
		if fn.invalid || tn.invalid {
			return fmt.Errorf("%w: edge %s -> %s touches an invalid state", ErrInvalidDefinition, from, to)
		}
		if fn.value == game.ValueWon || fn.value == game.ValueLost {
			return fmt.Errorf("%w: terminal state %s has a move", ErrInvalidDefinition, from)
		}
		changed := true
		if ed.PlayerChanged != nil {
			changed = *ed.PlayerChanged
		}
		// moves into an alias land on the state it duplicates
		to = tn.canonical
		tn, _ = g.node(to)

		fn.out = append(fn.out, edge{to: to, playerChanged: changed})
		tn.in = append(tn.in, game.PredecessorEdge{Addr: from, PlayerChanged: changed})
		g.maxPoss = max(g.maxPoss, len(fn.out))
		if to.Layer != from.Layer {
			g.succ[from.Layer] = append(g.succ[from.Layer], to.Layer)
		}
	}
	return nil
}

// NumThreads returns the number of independent situations.
func (g *Graph) NumThreads() int { return len(g.threads) }

func (g *Graph) current(thread int) *node {
	c := &g.threads[thread]
	return &g.nodes[c.at.Layer][c.at.State]
}

func (g *Graph) ValueOfSituation(thread int) (float32, game.Value) {
	n := g.current(thread)
	if n.invalid {
		return 0, game.ValueInvalid
	}
	return n.eval, n.value
}

// SetSituation moves the worker to a state. Aliases land on the state they
// duplicate.
func (g *Graph) SetSituation(thread int, layer, state uint32) bool {
	c := &g.threads[thread]
	if int(layer) >= len(g.nodes) || int(state) >= len(g.nodes[layer]) {
		c.valid = false
		return false
	}
	n := &g.nodes[layer][state]
	c.at = n.canonical
	c.valid = !n.invalid
	return c.valid
}

func (g *Graph) LayerAndStateNumber(thread int) (uint32, uint32, game.SymOp) {
	c := g.threads[thread]
	return c.at.Layer, c.at.State, 0
}

func (g *Graph) Predecessors(thread int) []game.PredecessorEdge {
	return g.current(thread).in
}

func (g *Graph) SymStateNumWithDuplicates(thread int) []game.StateAddress {
	c := g.threads[thread]
	n := g.current(thread)
	return append([]game.StateAddress{c.at}, n.aliases...)
}

// ApplySymOp is the identity: duplicates are stored as aliases.
func (g *Graph) ApplySymOp(thread int, op game.SymOp, inverse, playerChanged bool) {}

func (g *Graph) IsStateIntegrityOk(thread int) bool {
	c := g.threads[thread]
	return c.valid && !g.current(thread).invalid
}

func (g *Graph) LostIfUnableToMove() bool { return g.def.LostIfUnableToMove }

func (g *Graph) SuccLayers(layer uint32) []uint32 {
	if int(layer) >= len(g.succ) {
		return nil
	}
	return g.succ[layer]
}

func (g *Graph) PartnerLayers(layer uint32) []uint32 {
	if int(layer) >= len(g.def.Layers) {
		return nil
	}
	return g.def.Layers[layer].Partners
}

// MaxNumPlies bounds any line of play. Without an explicit limit it is the
// number of states, which no acyclic line can exceed.
func (g *Graph) MaxNumPlies() int {
	if g.def.MaxPlies > 0 {
		return g.def.MaxPlies
	}
	total := 1
	for _, l := range g.nodes {
		total += len(l)
	}
	return total
}

func (g *Graph) MaxNumPossibilities() int { return g.maxPoss }

func (g *Graph) NumberOfLayers() uint32 { return uint32(len(g.nodes)) }

func (g *Graph) NumberOfKnotsInLayer(layer uint32) uint32 {
	if int(layer) >= len(g.nodes) {
		return 0
	}
	return uint32(len(g.nodes[layer]))
}

func (g *Graph) ShallRetroAnalysisBeUsed(layer uint32) bool {
	if int(layer) >= len(g.def.Layers) {
		return false
	}
	return g.def.Layers[layer].Retro
}
