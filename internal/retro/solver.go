// Package retro solves layers bottom-up by retrograde analysis.
//
// Terminal states are seeded first. Every valid state then gets a counter of
// the successors that have not yet been shown to be won for the opponent.
// Resolved states are popped from per-worker ply queues in increasing ply
// order: a predecessor that can move into a lost position is won one ply
// later, a predecessor whose counter reaches zero is lost one ply later.
// Whatever stays unresolved is drawn.
package retro

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/freeeve/tablebase/internal/frontier"
	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/parallel"
)

var (
	// ErrCounterUnderflow means a successor counter was decremented below
	// zero: the game's predecessor and move generation disagree.
	ErrCounterUnderflow = errors.New("successor counter underflow")
	// ErrPlyOverflow means a ply count exceeded game.PlyMax.
	ErrPlyOverflow = errors.New("ply count overflow")
	// ErrIncompleteSuccessor is returned when a successor layer outside the
	// solved set has not been completed yet.
	ErrIncompleteSuccessor = errors.New("successor layer incomplete")
)

// Database is the part of the store the solver writes to.
type Database interface {
	ReadKnot(addr game.StateAddress) (game.Knot, error)
	WriteKnot(addr game.StateAddress, k game.Knot) error
	WritePly(addr game.StateAddress, p game.PlyInfo) error
	CompareAndSwapValue(addr game.StateAddress, old, next game.Value) (bool, error)
	IsLayerComplete(layer uint32) bool
}

// Config configures a Solver.
type Config struct {
	Game game.Game
	DB   Database
	// Pool must not have more workers than the game has threads.
	Pool *parallel.Pool
	// Checkpoints, when set, makes seeding and counting resumable.
	Checkpoints *Checkpoints
	// FrontierDir holds the queue scratch files. Empty means os.TempDir().
	FrontierDir string
	// FrontierBlockEntries is the spill block size of the queues.
	FrontierBlockEntries int
	// SeedChunk is the number of states seeded and checkpointed together.
	SeedChunk int
	// PanicOnInconsistency turns consistency errors into panics.
	PanicOnInconsistency bool
	Logger               zerolog.Logger
}

const defaultSeedChunk = 1 << 12

// Solver runs retrograde analysis.
type Solver struct {
	cfg Config
	log zerolog.Logger
}

// New returns a solver.
func New(cfg Config) *Solver {
	if cfg.SeedChunk <= 0 {
		cfg.SeedChunk = defaultSeedChunk
	}
	if cfg.FrontierBlockEntries <= 0 {
		cfg.FrontierBlockEntries = frontier.DefaultBlockEntries
	}
	return &Solver{cfg: cfg, log: cfg.Logger.With().Str("component", "retro").Logger()}
}

// run is the state of one analysis.
type run struct {
	s       *Solver
	g       game.Game
	db      Database
	layers  []uint32
	closed  []uint32
	solving []bool
	counts  *counters
	queues  []*frontier.Set
	pending atomic.Int64
}

// CalcKnotValuesByRetroAnalysis solves layers together. Successor layers not
// in layers must already be complete.
func (s *Solver) CalcKnotValuesByRetroAnalysis(ctx context.Context, layers []uint32) error {
	g := s.cfg.Game
	layers = lo.Uniq(layers)
	slices.Sort(layers)

	r := &run{
		s:       s,
		g:       g,
		db:      s.cfg.DB,
		layers:  layers,
		solving: make([]bool, g.NumberOfLayers()),
	}
	for _, l := range layers {
		if l >= g.NumberOfLayers() {
			return fmt.Errorf("layer %d of %d: out of range", l, g.NumberOfLayers())
		}
		r.solving[l] = true
	}
	r.closed = slices.Clone(layers)
	for _, l := range layers {
		for _, sl := range g.SuccLayers(l) {
			if r.solving[sl] || slices.Contains(r.closed, sl) {
				continue
			}
			if !r.db.IsLayerComplete(sl) {
				return fmt.Errorf("%w: layer %d needed by %d", ErrIncompleteSuccessor, sl, l)
			}
			r.closed = append(r.closed, sl)
		}
	}

	s.log.Info().Uints32("layers", layers).Uints32("closed", r.closed).Msg("retrograde analysis started")
	start := time.Now()

	n := s.cfg.Pool.NumWorkers()
	r.queues = make([]*frontier.Set, n)
	defer r.closeQueues()
	for w := range r.queues {
		q, err := frontier.NewSet(s.cfg.FrontierDir, s.cfg.FrontierBlockEntries)
		if err != nil {
			return fmt.Errorf("frontier: %w", err)
		}
		r.queues[w] = q
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"seed", r.seed},
		{"enqueue", r.enqueueSuccessors},
		{"count", r.countSuccessors},
		{"propagate", r.propagate},
		{"finalize", r.finalize},
	}
	for _, step := range steps {
		t := time.Now()
		if err := step.fn(ctx); err != nil {
			return s.fail(step.name, err)
		}
		phaseSeconds.WithLabelValues(step.name).Observe(time.Since(t).Seconds())
		s.log.Debug().Str("phase", step.name).Dur("took", time.Since(t)).Int64("pending", r.pending.Load()).Msg("phase done")
	}

	if c := s.cfg.Checkpoints; c != nil {
		if err := c.Forget(layers); err != nil {
			s.log.Warn().Err(err).Msg("drop checkpoints")
		}
	}
	s.log.Info().Uints32("layers", layers).Dur("took", time.Since(start)).Msg("retrograde analysis done")
	return nil
}

func (s *Solver) fail(phase string, err error) error {
	switch parallel.StatusOf(err) {
	case parallel.StatusCancelled:
		s.log.Info().Str("phase", phase).Msg("retrograde analysis cancelled")
		return err
	}
	err = fmt.Errorf("retro %s: %w", phase, err)
	if errors.Is(err, ErrCounterUnderflow) || errors.Is(err, ErrPlyOverflow) {
		s.log.Error().Err(err).Msg("inconsistent game")
		if s.cfg.PanicOnInconsistency {
			panic(err)
		}
		return err
	}
	s.log.Error().Err(err).Msg("retrograde analysis failed")
	return err
}

func (r *run) closeQueues() {
	for _, q := range r.queues {
		if q != nil {
			if err := q.Close(); err != nil {
				r.s.log.Warn().Err(err).Msg("close frontier")
			}
		}
	}
}

// isAlias reports whether the worker's situation, positioned on addr, is
// stored under another address.
func (r *run) isAlias(worker int, addr game.StateAddress) bool {
	l, st, _ := r.g.LayerAndStateNumber(worker)
	return l != addr.Layer || st != addr.State
}
