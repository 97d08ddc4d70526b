package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/freeeve/tablebase/internal/game"
)

const chain = `
layers:
  - states: 4
edges:
  - {from: 0/0, to: 0/1}
  - {from: 0/0, to: 0/2, player_changed: false}
  - {from: 0/1, to: 0/3}
states:
  - {id: 0/3, value: lost}
`

func TestMoveAndUndo(t *testing.T) {
	g, err := Parse([]byte(chain), 2)
	require.NoError(t, err)

	require.True(t, g.SetSituation(0, 0, 0))
	require.True(t, g.SetSituation(1, 0, 1))
	require.Equal(t, []game.MoveID{0, 1}, g.Possibilities(0))

	changed, undo := g.Move(0, 1)
	require.False(t, changed)
	l, s, _ := g.LayerAndStateNumber(0)
	require.Equal(t, game.StateAddress{Layer: 0, State: 2}, game.StateAddress{Layer: l, State: s})
	require.Empty(t, g.Possibilities(0))

	// the other thread keeps its own situation
	_, s, _ = g.LayerAndStateNumber(1)
	require.Equal(t, uint32(1), s)

	g.Undo(0, 1, changed, undo)
	_, s, _ = g.LayerAndStateNumber(0)
	require.Equal(t, uint32(0), s)

	changed, undo = g.Move(0, 0)
	require.True(t, changed)
	changed2, undo2 := g.Move(0, 0)
	require.True(t, changed2)
	_, v := g.ValueOfSituation(0)
	require.Equal(t, game.ValueLost, v)
	g.Undo(0, 0, changed2, undo2)
	g.Undo(0, 0, changed, undo)
	_, s, _ = g.LayerAndStateNumber(0)
	require.Equal(t, uint32(0), s)
}
