package retro

import (
	"context"
	"fmt"

	"github.com/freeeve/tablebase/internal/game"
)

var pendingKnot = game.Knot{Value: game.ValueDrawn, Ply: game.PlyUncalculated}

type chunk struct {
	layer uint32
	first uint32
	n     uint32
}

func (r *run) chunks() []chunk {
	size := uint32(r.s.cfg.SeedChunk)
	var cs []chunk
	for _, l := range r.layers {
		total := r.g.NumberOfKnotsInLayer(l)
		for first := uint32(0); first < total; first += size {
			cs = append(cs, chunk{layer: l, first: first, n: min(size, total-first)})
		}
	}
	return cs
}

// seed classifies every state of the solved layers on its own: invalid,
// terminal won/lost at ply 0, or pending.
func (r *run) seed(ctx context.Context) error {
	cs := r.chunks()
	return r.s.cfg.Pool.ParallelFor(ctx, len(cs), func(worker, i int) error {
		c := cs[i]
		knots, restored, err := r.loadSeed(c)
		if err != nil {
			return err
		}
		if !restored {
			knots = make([]game.Knot, c.n)
			for j := range knots {
				knots[j] = r.seedState(worker, game.StateAddress{Layer: c.layer, State: c.first + uint32(j)})
			}
			if cp := r.s.cfg.Checkpoints; cp != nil {
				if err := cp.SaveSeed(c.layer, c.first, knots); err != nil {
					return fmt.Errorf("checkpoint seed %d/%d: %w", c.layer, c.first, err)
				}
			}
			seedChunksTotal.WithLabelValues("evaluated").Inc()
		} else {
			seedChunksTotal.WithLabelValues("checkpoint").Inc()
		}

		var pending int64
		for j, k := range knots {
			addr := game.StateAddress{Layer: c.layer, State: c.first + uint32(j)}
			if err := r.db.WriteKnot(addr, k); err != nil {
				return err
			}
			switch {
			case k == pendingKnot:
				pending++
			case k.Value == game.ValueWon || k.Value == game.ValueLost:
				if err := r.queues[worker].Push(int(k.Ply), addr); err != nil {
					return err
				}
			}
		}
		r.pending.Add(pending)
		return nil
	})
}

func (r *run) loadSeed(c chunk) ([]game.Knot, bool, error) {
	cp := r.s.cfg.Checkpoints
	if cp == nil {
		return nil, false, nil
	}
	knots, ok, err := cp.LoadSeed(c.layer, c.first)
	if err != nil {
		return nil, false, fmt.Errorf("load seed %d/%d: %w", c.layer, c.first, err)
	}
	if ok && len(knots) != int(c.n) {
		r.s.log.Warn().Uint32("layer", c.layer).Uint32("first", c.first).Msg("seed checkpoint size mismatch, reseeding")
		return nil, false, nil
	}
	return knots, ok, nil
}

func (r *run) seedState(worker int, addr game.StateAddress) game.Knot {
	if !r.g.SetSituation(worker, addr.Layer, addr.State) {
		return game.Knot{Value: game.ValueInvalid, Ply: game.PlyInvalid}
	}
	// aliases take their canonical knot at the end
	if r.isAlias(worker, addr) {
		return pendingKnot
	}
	_, v := r.g.ValueOfSituation(worker)
	// a player without moves has lost, any other evaluation is impossible
	if r.g.LostIfUnableToMove() && len(r.g.Possibilities(worker)) == 0 && v != game.ValueLost {
		v = game.ValueInvalid
	}
	switch v {
	case game.ValueWon, game.ValueLost:
		return game.Knot{Value: v, Ply: 0}
	case game.ValueInvalid:
		return game.Knot{Value: game.ValueInvalid, Ply: game.PlyInvalid}
	}
	return pendingKnot
}

// enqueueSuccessors queues the resolved states of complete successor layers
// at their stored ply.
func (r *run) enqueueSuccessors(ctx context.Context) error {
	for _, l := range r.closed {
		if r.solving[l] {
			continue
		}
		err := r.s.cfg.Pool.ParallelFor(ctx, int(r.g.NumberOfKnotsInLayer(l)), func(worker, i int) error {
			addr := game.StateAddress{Layer: l, State: uint32(i)}
			k, err := r.db.ReadKnot(addr)
			if err != nil {
				return err
			}
			if k.Value != game.ValueWon && k.Value != game.ValueLost {
				return nil
			}
			return r.queues[worker].Push(int(k.Ply), addr)
		})
		if err != nil {
			return fmt.Errorf("layer %d: %w", l, err)
		}
	}
	return nil
}
