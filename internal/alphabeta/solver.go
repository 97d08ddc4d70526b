// Package alphabeta solves acyclic layers top-down with an alpha-beta
// search, and answers best-move queries.
//
// While building, every searched state is written to the database together
// with its symmetric duplicates, and states already known are not searched
// again. Queries stop at the search depth and fall back to the game's static
// evaluation there.
package alphabeta

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/parallel"
)

var (
	// ErrSearchDepthExhausted means a build reached depth zero: the layers
	// contain a cycle or the game's ply bound is too small.
	ErrSearchDepthExhausted = errors.New("search depth exhausted")
	// ErrNoDatabase is returned by a build without a database.
	ErrNoDatabase = errors.New("no database")
	// ErrInvalidState is returned when the queried state is not a valid
	// situation.
	ErrInvalidState = errors.New("invalid state")
)

var (
	inf    = float32(math.Inf(1))
	negInf = float32(math.Inf(-1))
)

// Database is the part of the store the solver uses.
type Database interface {
	ReadValue(addr game.StateAddress) (game.Value, error)
	ReadPly(addr game.StateAddress) (game.PlyInfo, error)
	WriteKnot(addr game.StateAddress, k game.Knot) error
	IsLayerComplete(layer uint32) bool
}

// Config configures a Solver.
type Config struct {
	Game game.Game
	// DB may be nil for queries; builds need one.
	DB   Database
	Pool *parallel.Pool
	// SearchDepth limits queries. Zero means Game.MaxNumPlies().
	SearchDepth          int
	PanicOnInconsistency bool
	Logger               zerolog.Logger
}

// Solver runs alpha-beta searches.
type Solver struct {
	cfg Config
	log zerolog.Logger

	// mu serializes builds and queries: both use the game's situations.
	mu    sync.Mutex
	depth int

	// writeMu makes writing a state and its duplicates atomic.
	writeMu sync.Mutex
}

// New returns a solver.
func New(cfg Config) *Solver {
	s := &Solver{cfg: cfg, log: cfg.Logger.With().Str("component", "alphabeta").Logger()}
	s.SetSearchDepth(cfg.SearchDepth)
	return s
}

// SetSearchDepth sets the query depth. n <= 0 restores the game's ply bound.
func (s *Solver) SetSearchDepth(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		n = s.cfg.Game.MaxNumPlies()
	}
	s.depth = n
}

// SearchDepth returns the query depth.
func (s *Solver) SearchDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

// Choice is the answer to a best-move query.
type Choice struct {
	// Move is meaningless when HasMove is false.
	Move    game.MoveID
	HasMove bool
	Knot    game.Knot
	Float   float32
	// Children lists every possibility in the game's order.
	Children  []Child
	Histogram [game.NumValues]int
}

// GetBestChoice searches addr and returns its best move. Equally good moves
// are chosen at random.
func (s *Solver) GetBestChoice(ctx context.Context, addr game.StateAddress) (Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.cfg.Game
	if !g.SetSituation(0, addr.Layer, addr.State) {
		return Choice{}, fmt.Errorf("%w: %s", ErrInvalidState, addr)
	}

	var (
		n   *node
		err error
	)
	if s.cfg.DB == nil && s.depth > 2 {
		n, err = s.bulk(ctx, addr, s.depth)
	} else {
		sr := &searcher{s: s, ctx: ctx}
		n, err = sr.grow(s.depth, 0, negInf, inf, true)
	}
	if err != nil {
		return Choice{}, s.fail(err)
	}

	c := Choice{Knot: n.knot, Float: n.float, Children: n.children, Histogram: n.histogram}
	if i := pickBest(n.children); i >= 0 {
		c.Move, c.HasMove = n.children[i].Move, true
	}
	return c, nil
}

// CalcKnotValuesByAlphaBeta searches every state of layers that is not
// known yet and writes the results. Successor layers outside layers are
// searched through but not written.
func (s *Solver) CalcKnotValuesByAlphaBeta(ctx context.Context, layers []uint32) error {
	if s.cfg.DB == nil {
		return ErrNoDatabase
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.cfg.Game
	layers = lo.Uniq(layers)
	slices.Sort(layers)
	building := make([]bool, g.NumberOfLayers())
	for _, l := range layers {
		if l >= g.NumberOfLayers() {
			return fmt.Errorf("layer %d of %d: out of range", l, g.NumberOfLayers())
		}
		building[l] = true
	}

	s.log.Info().Uints32("layers", layers).Int("depth", g.MaxNumPlies()).Msg("alpha-beta build started")
	for _, l := range layers {
		err := s.cfg.Pool.ParallelFor(ctx, int(g.NumberOfKnotsInLayer(l)), func(worker, i int) error {
			return s.buildState(ctx, worker, game.StateAddress{Layer: l, State: uint32(i)}, building)
		})
		if err != nil {
			return s.fail(fmt.Errorf("layer %d: %w", l, err))
		}
		s.log.Debug().Uint32("layer", l).Msg("layer searched")
	}
	s.log.Info().Uints32("layers", layers).Msg("alpha-beta build done")
	return nil
}

func (s *Solver) buildState(ctx context.Context, worker int, addr game.StateAddress, building []bool) error {
	db := s.cfg.DB
	p, err := db.ReadPly(addr)
	if err != nil || p != game.PlyUncalculated {
		return err
	}
	g := s.cfg.Game
	if !g.SetSituation(worker, addr.Layer, addr.State) {
		return s.writeOnce(addr, game.Knot{Value: game.ValueInvalid, Ply: game.PlyInvalid})
	}
	sr := &searcher{s: s, ctx: ctx, worker: worker, building: building}
	n, err := sr.grow(g.MaxNumPlies(), 0, negInf, inf, false)
	if err != nil {
		return err
	}
	// an alias of a state outside the built layers is not written by the
	// search
	return s.writeOnce(addr, n.knot)
}

func (s *Solver) writeOnce(addr game.StateAddress, k game.Knot) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	p, err := s.cfg.DB.ReadPly(addr)
	if err != nil || p != game.PlyUncalculated {
		return err
	}
	return s.cfg.DB.WriteKnot(addr, k)
}

func (s *Solver) fail(err error) error {
	switch {
	case parallel.StatusOf(err) == parallel.StatusCancelled:
		s.log.Info().Msg("alpha-beta search cancelled")
	case errors.Is(err, ErrSearchDepthExhausted):
		s.log.Error().Err(err).Msg("inconsistent game")
		if s.cfg.PanicOnInconsistency {
			panic(err)
		}
	default:
		s.log.Error().Err(err).Msg("alpha-beta search failed")
	}
	return err
}
