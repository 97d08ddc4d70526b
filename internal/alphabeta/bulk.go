package alphabeta

import (
	"context"

	"github.com/freeeve/tablebase/internal/game"
)

// bulk searches the root moves in parallel, one move per worker at a time,
// and folds the results like grow would. The root situation is set on
// worker 0.
func (s *Solver) bulk(ctx context.Context, root game.StateAddress, depth int) (*node, error) {
	g := s.cfg.Game
	moves := g.Possibilities(0)
	if len(moves) == 0 {
		sr := &searcher{s: s, ctx: ctx}
		return sr.terminal(), nil
	}
	nodesTotal.Inc()

	children := make([]Child, len(moves))
	err := s.cfg.Pool.ParallelFor(ctx, len(moves), func(worker, i int) error {
		if !g.SetSituation(worker, root.Layer, root.State) {
			return ErrInvalidState
		}
		changed, undo := g.Move(worker, moves[i])
		sr := &searcher{s: s, ctx: ctx, worker: worker}
		child, err := sr.grow(depth-1, 1, negInf, inf, false)
		g.Undo(worker, moves[i], changed, undo)
		if err != nil {
			return err
		}
		children[i] = Child{Move: moves[i], PlayerChanged: changed, Knot: child.knot, Float: child.float}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var c combine
	for _, ch := range children {
		c.add(ch)
	}
	return &node{float: c.float, knot: c.result(), children: children, histogram: c.histogram}, nil
}
