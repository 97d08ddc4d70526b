package graph

import "github.com/freeeve/tablebase/internal/game"

// Moves are numbered by their position in the state's edge list.

func (g *Graph) Possibilities(thread int) []game.MoveID {
	n := g.current(thread)
	if !g.threads[thread].valid || len(n.out) == 0 {
		return nil
	}
	moves := make([]game.MoveID, len(n.out))
	for i := range moves {
		moves[i] = game.MoveID(i)
	}
	return moves
}

// Move follows an edge. The undo token is the address moved from.
func (g *Graph) Move(thread int, move game.MoveID) (bool, game.UndoToken) {
	c := &g.threads[thread]
	e := g.current(thread).out[move]
	prev := c.at
	c.at = e.to
	return e.playerChanged, prev
}

func (g *Graph) Undo(thread int, move game.MoveID, playerChanged bool, undo game.UndoToken) {
	g.threads[thread].at = undo.(game.StateAddress)
}
