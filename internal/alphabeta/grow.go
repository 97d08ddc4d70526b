package alphabeta

import (
	"context"
	"fmt"

	"github.com/freeeve/tablebase/internal/game"
)

// cutoffFreeDistance is the number of plies below the query root searched
// without cutoffs, so that their children's knots are exact.
const cutoffFreeDistance = 2

// searcher walks the tree on one worker's situation.
type searcher struct {
	s      *Solver
	ctx    context.Context
	worker int
	// building is non-nil during a build and flags the layers written.
	building []bool
}

func (sr *searcher) grow(depth, dist int, alpha, beta float32, keep bool) (*node, error) {
	if err := sr.s.cfg.Pool.Poll(sr.ctx); err != nil {
		return nil, err
	}
	nodesTotal.Inc()
	g := sr.s.cfg.Game
	w := sr.worker

	if depth <= 0 {
		if sr.building != nil {
			l, st, _ := g.LayerAndStateNumber(w)
			return nil, fmt.Errorf("%w at %d/%d", ErrSearchDepthExhausted, l, st)
		}
		f, v := g.ValueOfSituation(w)
		return &node{float: f, knot: staticKnot(v)}, nil
	}

	if dist > 0 || sr.building != nil {
		n, ok, err := sr.lookup()
		if err != nil || ok {
			return n, err
		}
	}

	moves := g.Possibilities(w)
	if len(moves) == 0 {
		n := sr.terminal()
		return n, sr.persist(n)
	}

	var (
		c        combine
		children []Child
	)
	if keep {
		children = make([]Child, 0, len(moves))
	}
	for _, m := range moves {
		changed, undo := g.Move(w, m)
		var child *node
		var err error
		if changed {
			child, err = sr.grow(depth-1, dist+1, -beta, -alpha, false)
		} else {
			child, err = sr.grow(depth-1, dist+1, alpha, beta, false)
		}
		g.Undo(w, m, changed, undo)
		if err != nil {
			return nil, err
		}

		ch := Child{Move: m, PlayerChanged: changed, Knot: child.knot, Float: child.float}
		c.add(ch)
		if keep {
			children = append(children, ch)
		}
		// siblings near the root keep the full window
		if sr.building != nil || dist < cutoffFreeDistance {
			continue
		}
		f, _ := ch.view()
		if f >= beta {
			cutoffsTotal.Inc()
			break
		}
		alpha = max(alpha, f)
	}

	n := &node{float: c.float, knot: c.result(), children: children, histogram: c.histogram}
	return n, sr.persist(n)
}

// staticKnot is the knot of a state evaluated without search.
func staticKnot(v game.Value) game.Knot {
	switch v {
	case game.ValueWon, game.ValueLost:
		return game.Knot{Value: v, Ply: 0}
	case game.ValueDrawn:
		return game.Knot{Value: v, Ply: game.PlyUncalculated}
	}
	return game.Knot{Value: game.ValueInvalid, Ply: game.PlyInvalid}
}

// terminal evaluates a state without moves.
func (sr *searcher) terminal() *node {
	g := sr.s.cfg.Game
	f, v := g.ValueOfSituation(sr.worker)
	if g.LostIfUnableToMove() && v != game.ValueLost {
		v = game.ValueInvalid
	}
	k := game.Knot{Value: v}
	switch v {
	case game.ValueWon, game.ValueLost:
		k.Ply = 0
	case game.ValueDrawn:
		k.Ply = game.PlyDrawn
	default:
		k = game.Knot{Value: game.ValueInvalid, Ply: game.PlyInvalid}
	}
	return &node{float: f, knot: k}
}

// lookup returns the stored knot of the current situation if its layer is
// complete, or if it is being built and the state is already known.
func (sr *searcher) lookup() (*node, bool, error) {
	db := sr.s.cfg.DB
	if db == nil {
		return nil, false, nil
	}
	l, st, _ := sr.s.cfg.Game.LayerAndStateNumber(sr.worker)
	complete := db.IsLayerComplete(l)
	if !complete && (sr.building == nil || !sr.building[l]) {
		return nil, false, nil
	}
	addr := game.StateAddress{Layer: l, State: st}
	p, err := db.ReadPly(addr)
	if err != nil {
		return nil, false, err
	}
	if p == game.PlyUncalculated {
		return nil, false, nil
	}
	v, err := db.ReadValue(addr)
	if err != nil {
		return nil, false, err
	}
	dbHitsTotal.Inc()
	return &node{float: knotFloat(v, p), knot: game.Knot{Value: v, Ply: p}}, true, nil
}

// persist writes a built state and all its duplicates.
func (sr *searcher) persist(n *node) error {
	if sr.building == nil {
		return nil
	}
	g := sr.s.cfg.Game
	l, _, _ := g.LayerAndStateNumber(sr.worker)
	if !sr.building[l] {
		return nil
	}
	db := sr.s.cfg.DB
	sr.s.writeMu.Lock()
	defer sr.s.writeMu.Unlock()
	for _, a := range g.SymStateNumWithDuplicates(sr.worker) {
		if !sr.building[a.Layer] {
			continue
		}
		p, err := db.ReadPly(a)
		if err != nil {
			return err
		}
		if p != game.PlyUncalculated {
			continue
		}
		if err := db.WriteKnot(a, n.knot); err != nil {
			return err
		}
	}
	return nil
}
