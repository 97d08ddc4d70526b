package retro

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/freeeve/tablebase/internal/game"
)

const flushEntries = 1 << 12

// counters holds, per solved layer, how many successors of each state have
// not yet been resolved as won for the opponent.
type counters struct {
	index  []int // layer -> slot in layers, -1 outside the solved set
	layers []counterLayer
}

type counterLayer struct {
	mu sync.Mutex
	c  []uint32
}

func newCounters(numLayers uint32, layers []uint32, knots func(uint32) uint32) *counters {
	cs := &counters{index: make([]int, numLayers), layers: make([]counterLayer, len(layers))}
	for i := range cs.index {
		cs.index[i] = -1
	}
	for i, l := range layers {
		cs.index[l] = i
		cs.layers[i].c = make([]uint32, knots(l))
	}
	return cs
}

func (cs *counters) layer(l uint32) *counterLayer {
	return &cs.layers[cs.index[l]]
}

// flush adds one to the counter of every buffered address, locking each
// layer once per run of equal layers.
func (cs *counters) flush(buf []game.StateAddress) {
	for i := 0; i < len(buf); {
		cl := cs.layer(buf[i].Layer)
		cl.mu.Lock()
		l := buf[i].Layer
		for ; i < len(buf) && buf[i].Layer == l; i++ {
			cl.c[buf[i].State]++
		}
		cl.mu.Unlock()
	}
}

// decrement lowers the counter of addr and returns the new count.
func (cs *counters) decrement(addr game.StateAddress) (uint32, error) {
	p := &cs.layer(addr.Layer).c[addr.State]
	for {
		old := atomic.LoadUint32(p)
		if old == 0 {
			return 0, fmt.Errorf("%w at %s", ErrCounterUnderflow, addr)
		}
		if atomic.CompareAndSwapUint32(p, old, old-1) {
			return old - 1, nil
		}
	}
}

func (cs *counters) load(addr game.StateAddress) uint32 {
	return atomic.LoadUint32(&cs.layer(addr.Layer).c[addr.State])
}

// countSuccessors walks the predecessor edges of every valid state in the
// closed set and counts, for each solved predecessor, its moves. Moves into
// invalid states are not counted.
func (r *run) countSuccessors(ctx context.Context) error {
	r.counts = newCounters(r.g.NumberOfLayers(), r.layers, r.g.NumberOfKnotsInLayer)

	sizes := make([]uint32, len(r.layers))
	for i, l := range r.layers {
		sizes[i] = r.g.NumberOfKnotsInLayer(l)
	}
	sig := Signature(r.closed, r.g.NumberOfKnotsInLayer)
	if cp := r.s.cfg.Checkpoints; cp != nil {
		saved, ok, err := cp.LoadCounts(sig, sizes)
		if err != nil {
			return fmt.Errorf("load counts: %w", err)
		}
		if ok {
			for i := range r.counts.layers {
				r.counts.layers[i].c = saved[i]
			}
			r.s.log.Info().Uint64("signature", sig).Msg("successor counts restored from checkpoint")
			return nil
		}
	}

	bufs := make([][]game.StateAddress, r.s.cfg.Pool.NumWorkers())
	for _, l := range r.closed {
		err := r.s.cfg.Pool.ParallelFor(ctx, int(r.g.NumberOfKnotsInLayer(l)), func(worker, i int) error {
			addr := game.StateAddress{Layer: l, State: uint32(i)}
			if !r.g.SetSituation(worker, l, uint32(i)) || r.isAlias(worker, addr) {
				return nil
			}
			k, err := r.db.ReadKnot(addr)
			if err != nil {
				return err
			}
			if k.Value == game.ValueInvalid {
				return nil
			}
			buf := bufs[worker]
			for _, e := range r.g.Predecessors(worker) {
				if int(e.Addr.Layer) < len(r.solving) && r.solving[e.Addr.Layer] {
					buf = append(buf, e.Addr)
				}
			}
			if len(buf) >= flushEntries {
				r.counts.flush(buf)
				buf = buf[:0]
			}
			bufs[worker] = buf
			return nil
		})
		if err != nil {
			return fmt.Errorf("layer %d: %w", l, err)
		}
	}
	for w, buf := range bufs {
		r.counts.flush(buf)
		bufs[w] = nil
	}

	if cp := r.s.cfg.Checkpoints; cp != nil {
		all := make([][]uint32, len(r.counts.layers))
		for i := range r.counts.layers {
			all[i] = r.counts.layers[i].c
		}
		if err := cp.SaveCounts(sig, all); err != nil {
			return fmt.Errorf("checkpoint counts: %w", err)
		}
	}
	return nil
}
