package graph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/tablebase/internal/game"
)

func load(t *testing.T, name string, threads int) *Graph {
	t.Helper()
	g, err := Load(filepath.Join("..", "..", "testdata", name), threads)
	require.NoError(t, err)
	return g
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress(" 3/17 ")
	require.NoError(t, err)
	require.Equal(t, game.StateAddress{Layer: 3, State: 17}, a)

	for _, bad := range []string{"", "3", "a/1", "1/-2", "1/2/3"} {
		_, err := ParseAddress(bad)
		require.ErrorIs(t, err, ErrInvalidDefinition, bad)
	}
}

func TestThreeStateGraph(t *testing.T) {
	g := load(t, "three_state.yaml", 1)
	require.Equal(t, uint32(1), g.NumberOfLayers())
	require.Equal(t, uint32(3), g.NumberOfKnotsInLayer(0))
	require.False(t, g.LostIfUnableToMove())

	require.False(t, g.SetSituation(0, 0, 0))
	require.False(t, g.IsStateIntegrityOk(0))

	require.True(t, g.SetSituation(0, 0, 1))
	f, v := g.ValueOfSituation(0)
	require.Equal(t, game.ValueWon, v)
	require.Equal(t, float32(1), f)
	require.Empty(t, g.Possibilities(0))
	require.Equal(t, []game.PredecessorEdge{{Addr: game.StateAddress{Layer: 0, State: 2}, PlayerChanged: true}}, g.Predecessors(0))

	require.True(t, g.SetSituation(0, 0, 2))
	_, v = g.ValueOfSituation(0)
	require.Equal(t, game.ValueDrawn, v)
	require.Empty(t, g.Predecessors(0))
	require.Equal(t, 1, g.MaxNumPossibilities())
	require.Equal(t, 4, g.MaxNumPlies())
}

func TestLayersAndAliases(t *testing.T) {
	g := load(t, "acyclic.yaml", 2)
	require.Equal(t, []uint32{0}, g.SuccLayers(1))
	require.Empty(t, g.SuccLayers(0))
	require.False(t, g.ShallRetroAnalysisBeUsed(0))

	// the alias lands on the state it duplicates
	require.True(t, g.SetSituation(1, 1, 6))
	l, s, sym := g.LayerAndStateNumber(1)
	require.Equal(t, game.StateAddress{Layer: 1, State: 3}, game.StateAddress{Layer: l, State: s})
	require.Equal(t, game.SymOp(0), sym)
	require.ElementsMatch(t, []game.StateAddress{{Layer: 1, State: 3}, {Layer: 1, State: 6}}, g.SymStateNumWithDuplicates(1))

	// the move into the alias was redirected, so 1/3 has 1/7 as predecessor
	require.Contains(t, g.Predecessors(1), game.PredecessorEdge{Addr: game.StateAddress{Layer: 1, State: 7}, PlayerChanged: true})

	require.True(t, g.SetSituation(0, 1, 2))
	require.Equal(t, []game.MoveID{0}, g.Possibilities(0))
	changed, _ := g.Move(0, 0)
	require.False(t, changed)
}

func TestCycleGraph(t *testing.T) {
	g := load(t, "cycle.yaml", 1)
	require.True(t, g.ShallRetroAnalysisBeUsed(0))
	require.True(t, g.SetSituation(0, 0, 3))
	require.Len(t, g.Predecessors(0), 2)
}

func TestInvalidDefinitions(t *testing.T) {
	tests := map[string]string{
		"no layers":           `edges: []`,
		"out of range":        "layers: [{states: 2}]\nedges: [{from: 0/0, to: 0/2}]",
		"terminal with move":  "layers: [{states: 2}]\nstates: [{id: 0/0, value: won}]\nedges: [{from: 0/0, to: 0/1}]",
		"into invalid":        "layers: [{states: 2}]\nstates: [{id: 0/1, invalid: true}]\nedges: [{from: 0/0, to: 0/1}]",
		"from alias":          "layers: [{states: 3}]\nstates: [{id: 0/2, alias_of: 0/1}]\nedges: [{from: 0/2, to: 0/0}]",
		"alias chain":         "layers: [{states: 3}]\nstates: [{id: 0/2, alias_of: 0/1}, {id: 0/0, alias_of: 0/2}]",
		"bad value":           "layers: [{states: 1}]\nstates: [{id: 0/0, value: maybe}]",
		"bad partner":         "layers: [{states: 1, partners: [4]}]",
		"not yaml":            "layers: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), 1)
			require.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestPartnersAndExplicitLimits(t *testing.T) {
	doc := `
max_plies: 9
layers:
  - {states: 2, partners: [1], retro: true}
  - {states: 2, partners: [0], succ: [0]}
edges:
  - {from: 0/0, to: 1/0}
  - {from: 1/1, to: 0/1}
`
	g, err := Parse([]byte(doc), 1)
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, g.PartnerLayers(0))
	require.Equal(t, []uint32{1}, g.SuccLayers(0))
	require.Equal(t, []uint32{0}, g.SuccLayers(1))
	require.Equal(t, 9, g.MaxNumPlies())
}
