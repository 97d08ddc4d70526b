package retro

import (
	"context"
	"fmt"
	"sync"

	"github.com/freeeve/tablebase/internal/game"
)

// propagate pops resolved states in increasing ply order. All workers
// finish a ply before any starts the next one.
func (r *run) propagate(ctx context.Context) error {
	pool := r.s.cfg.Pool
	barrier := pool.NewBarrier()

	var (
		mu     sync.Mutex
		failed error
	)
	fail := func(err error) {
		mu.Lock()
		if failed == nil {
			failed = err
		}
		mu.Unlock()
	}

	ply := r.nextPly(-1)
	done := ply < 0 || r.pending.Load() == 0
	advance := func() {
		mu.Lock()
		stop := failed != nil
		mu.Unlock()
		if stop || r.pending.Load() == 0 {
			done = true
			return
		}
		if ply = r.nextPly(ply); ply < 0 {
			done = true
		}
	}

	err := pool.Call(ctx, func(worker int) error {
		for !done {
			if err := r.drain(ctx, worker, ply); err != nil {
				fail(err)
			}
			barrier.Wait(advance)
		}
		return nil
	})
	if failed != nil {
		return failed
	}
	return err
}

// nextPly is the lowest ply above after queued by any worker. Only called
// while every worker waits at the barrier.
func (r *run) nextPly(after int) int {
	next := -1
	for _, q := range r.queues {
		if p := q.NextPly(after); p >= 0 && (next < 0 || p < next) {
			next = p
		}
	}
	return next
}

func (r *run) drain(ctx context.Context, worker, ply int) error {
	q := r.queues[worker]
	for {
		if err := r.s.cfg.Pool.Poll(ctx); err != nil {
			return err
		}
		addr, ok, err := q.Pop(ply)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := r.resolvePredecessors(worker, addr, ply); err != nil {
			return err
		}
	}
}

func (r *run) resolvePredecessors(worker int, addr game.StateAddress, ply int) error {
	k, err := r.db.ReadKnot(addr)
	if err != nil {
		return err
	}
	if !r.g.SetSituation(worker, addr.Layer, addr.State) || r.isAlias(worker, addr) {
		return nil
	}
	next := ply + 1
	for _, e := range r.g.Predecessors(worker) {
		if int(e.Addr.Layer) >= len(r.solving) || !r.solving[e.Addr.Layer] {
			continue
		}
		pk, err := r.db.ReadKnot(e.Addr)
		if err != nil {
			return err
		}
		if pk != pendingKnot {
			continue
		}
		v := k.Value
		if e.PlayerChanged {
			v = v.Flip()
		}
		if v == game.ValueWon {
			if err := r.classify(worker, e.Addr, game.ValueWon, next); err != nil {
				return err
			}
			continue
		}
		left, err := r.counts.decrement(e.Addr)
		if err != nil {
			return err
		}
		if left == 0 {
			if err := r.classify(worker, e.Addr, game.ValueLost, next); err != nil {
				return err
			}
		}
	}
	return nil
}

// classify resolves a pending state. Only the first caller wins.
func (r *run) classify(worker int, addr game.StateAddress, v game.Value, ply int) error {
	if ply > int(game.PlyMax) {
		return fmt.Errorf("%w: %s at ply %d", ErrPlyOverflow, addr, ply)
	}
	ok, err := r.db.CompareAndSwapValue(addr, game.ValueDrawn, v)
	if err != nil || !ok {
		return err
	}
	if err := r.db.WritePly(addr, game.PlyInfo(ply)); err != nil {
		return err
	}
	r.pending.Add(-1)
	classifiedTotal.WithLabelValues(v.String()).Inc()
	return r.queues[worker].Push(ply, addr)
}

// finalize turns every state still pending into a draw, or invalid when all
// its moves lead to invalid states, then gives each alias the knot of the
// state it duplicates.
func (r *run) finalize(ctx context.Context) error {
	pool := r.s.cfg.Pool
	for _, aliases := range []bool{false, true} {
		for _, l := range r.layers {
			err := pool.ParallelFor(ctx, int(r.g.NumberOfKnotsInLayer(l)), func(worker, i int) error {
				addr := game.StateAddress{Layer: l, State: uint32(i)}
				k, err := r.db.ReadKnot(addr)
				if err != nil || k != pendingKnot {
					return err
				}
				r.g.SetSituation(worker, l, uint32(i))
				if r.isAlias(worker, addr) != aliases {
					return nil
				}
				if !aliases {
					if r.counts.load(addr) == 0 && len(r.g.Possibilities(worker)) > 0 {
						return r.db.WriteKnot(addr, game.Knot{Value: game.ValueInvalid, Ply: game.PlyInvalid})
					}
					return r.db.WritePly(addr, game.PlyDrawn)
				}
				cl, cs, _ := r.g.LayerAndStateNumber(worker)
				ck, err := r.db.ReadKnot(game.StateAddress{Layer: cl, State: cs})
				if err != nil {
					return err
				}
				return r.db.WriteKnot(addr, ck)
			})
			if err != nil {
				return fmt.Errorf("layer %d: %w", l, err)
			}
		}
	}
	return nil
}
