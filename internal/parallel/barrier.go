package parallel

import "sync"

// Barrier is a reusable rendezvous for the n workers of one Call.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	gen     uint64
}

// NewBarrier returns a barrier for n participants.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewBarrier returns a barrier sized for the pool's workers.
func (p *Pool) NewBarrier() *Barrier {
	return NewBarrier(p.NumWorkers())
}

// Wait blocks until all participants arrived. The last one to arrive runs
// action, if non-nil, before anyone is released, so every participant
// observes its effects.
func (b *Barrier) Wait(action func()) {
	b.mu.Lock()
	gen := b.gen
	b.arrived++
	if b.arrived == b.n {
		if action != nil {
			action()
		}
		b.arrived = 0
		b.gen++
		b.mu.Unlock()
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
	b.mu.Unlock()
}
