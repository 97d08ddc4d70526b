// Package parallel is the worker pool shared by the solvers.
//
// A Pool owns a fixed set of long-lived worker goroutines. Work is submitted in
// two shapes: ParallelFor splits an index range into contiguous balanced
// chunks, Call runs one invocation per worker. Workers that need to
// resynchronize use a Barrier. Cancellation is cooperative: workers poll a
// shared flag between iterations.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	// ErrCancelled is returned when Cancel was called or the context ended
	// while work was in flight. It is a status, not a failure.
	ErrCancelled = errors.New("cancelled")
	// ErrBusy is returned when work is submitted from inside a running
	// submission or while the pool is being resized.
	ErrBusy = errors.New("pool busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pool closed")
)

// Status classifies the outcome of a long-running operation.
type Status int

const (
	StatusOK Status = iota
	StatusCancelled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// StatusOf maps an error returned by the pool or a solver to a Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return StatusFailed
	}
}

type task struct {
	run  func(worker int)
	done *sync.WaitGroup
}

// Pool is a fixed-size set of worker goroutines.
type Pool struct {
	log zerolog.Logger

	mu      sync.Mutex // guards workers and closed during resize/close
	workers []chan task
	exited  sync.WaitGroup
	closed  bool

	running   atomic.Bool
	cancelled atomic.Bool
	gate      *gate
}

// New starts a pool with n workers. n <= 0 means runtime.NumCPU().
func New(n int, log zerolog.Logger) *Pool {
	p := &Pool{
		log:  log,
		gate: newGate(),
	}
	p.start(n)
	return p
}

func (p *Pool) start(n int) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	p.workers = make([]chan task, n)
	for i := range p.workers {
		ch := make(chan task)
		p.workers[i] = ch
		p.exited.Add(1)
		go func(worker int) {
			defer p.exited.Done()
			for t := range ch {
				t.run(worker)
				t.done.Done()
			}
		}(i)
	}
	p.log.Debug().Int("workers", n).Msg("pool started")
}

func (p *Pool) stop() {
	for _, ch := range p.workers {
		close(ch)
	}
	p.exited.Wait()
	p.workers = nil
}

// NumWorkers returns the number of workers.
func (p *Pool) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// SetNumWorkers replaces the workers. Only allowed while no work is running.
func (p *Pool) SetNumWorkers(n int) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.running.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.stop()
	p.start(n)
	return nil
}

// Close stops every worker. Running submissions must have returned.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.stop()
}

// Cancel asks running and future work to stop at the next poll.
func (p *Pool) Cancel() {
	p.cancelled.Store(true)
	// paused workers must wake up to observe the flag
	p.gate.open()
}

// Cancelled reports whether Cancel was called since the last ResetCancel.
func (p *Pool) Cancelled() bool {
	return p.cancelled.Load()
}

// ResetCancel clears the cancellation flag.
func (p *Pool) ResetCancel() {
	p.cancelled.Store(false)
}

// Pause holds workers at their next poll until Resume.
func (p *Pool) Pause() {
	p.gate.close()
	p.log.Info().Msg("pool paused")
}

// Resume releases paused workers.
func (p *Pool) Resume() {
	p.gate.open()
	p.log.Info().Msg("pool resumed")
}

// Paused reports whether the pool is paused.
func (p *Pool) Paused() bool {
	return p.gate.closed()
}

// Poll is called by work functions between iterations. It blocks while the
// pool is paused and returns ErrCancelled once cancellation was requested.
func (p *Pool) Poll(ctx context.Context) error {
	p.gate.wait()
	return p.checkCancelled(ctx)
}

func (p *Pool) checkCancelled(ctx context.Context) error {
	if p.cancelled.Load() {
		return ErrCancelled
	}
	if ctx != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	return nil
}

// Call runs fn exactly once on every worker and waits for all of them.
func (p *Pool) Call(ctx context.Context, fn func(worker int) error) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer p.running.Store(false)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	workers := p.workers
	p.mu.Unlock()

	var errs firstError
	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, ch := range workers {
		ch <- task{
			run: func(worker int) {
				errs.set(fn(worker))
			},
			done: &wg,
		}
	}
	wg.Wait()
	if err := errs.get(); err != nil {
		return err
	}
	return p.checkCancelled(ctx)
}

// ParallelFor calls fn for every index in [0, count). Worker w handles the
// contiguous range Partition(count, n, w). A worker stops at its first error;
// the other workers stop at their next iteration.
func (p *Pool) ParallelFor(ctx context.Context, count int, fn func(worker, index int) error) error {
	if count <= 0 {
		return p.checkCancelled(ctx)
	}
	n := p.NumWorkers()
	var failed atomic.Bool
	return p.Call(ctx, func(worker int) error {
		start, end := Partition(count, n, worker)
		for i := start; i < end; i++ {
			if failed.Load() {
				return nil
			}
			if err := p.Poll(ctx); err != nil {
				return err
			}
			if err := fn(worker, i); err != nil {
				failed.Store(true)
				return err
			}
		}
		return nil
	})
}

// Partition returns the half-open range of indexes handled by worker w when
// count items are split over n workers: count/n each, and one extra for the
// first count%n workers.
func Partition(count, n, w int) (start, end int) {
	if n <= 0 || w < 0 || w >= n {
		return 0, 0
	}
	base := count / n
	extra := count % n
	start = w*base + min(w, extra)
	end = start + base
	if w < extra {
		end++
	}
	return start, end
}

// firstError keeps the first non-cancellation error, or a cancellation if
// nothing else failed.
type firstError struct {
	mu  sync.Mutex
	err error
}

func (f *firstError) set(err error) {
	if err == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil || (StatusOf(f.err) == StatusCancelled && StatusOf(err) != StatusCancelled) {
		f.err = err
	}
}

func (f *firstError) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
