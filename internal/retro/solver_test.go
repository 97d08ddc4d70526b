package retro

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/graph"
	"github.com/freeeve/tablebase/internal/parallel"
	"github.com/freeeve/tablebase/internal/store"
)

type fixture struct {
	g    *graph.Graph
	db   *store.Store
	pool *parallel.Pool
	dir  string
}

func newFixture(t *testing.T, name string, workers int) *fixture {
	t.Helper()
	is := is.New(t)
	g, err := graph.Load(filepath.Join("..", "..", "testdata", name), workers)
	is.NoErr(err)
	dir := t.TempDir()
	db, err := store.Open(store.Config{Dir: dir, MaxResidentBytes: -1, Logger: zerolog.Nop()}, g)
	is.NoErr(err)
	pool := parallel.New(workers, zerolog.Nop())
	t.Cleanup(func() {
		pool.Close()
		db.Close()
	})
	return &fixture{g: g, db: db, pool: pool, dir: dir}
}

func (f *fixture) solver(g game.Game, cp *Checkpoints) *Solver {
	return New(Config{
		Game:                 g,
		DB:                   f.db,
		Pool:                 f.pool,
		Checkpoints:          cp,
		FrontierDir:          f.dir,
		FrontierBlockEntries: 2,
		SeedChunk:            3,
		Logger:               zerolog.Nop(),
	})
}

func knot(v game.Value, p game.PlyInfo) game.Knot { return game.Knot{Value: v, Ply: p} }

var (
	drawn   = knot(game.ValueDrawn, game.PlyDrawn)
	invalid = knot(game.ValueInvalid, game.PlyInvalid)
)

func won(p game.PlyInfo) game.Knot  { return knot(game.ValueWon, p) }
func lost(p game.PlyInfo) game.Knot { return knot(game.ValueLost, p) }

func (f *fixture) expect(t *testing.T, layer uint32, want []game.Knot) {
	t.Helper()
	is := is.NewRelaxed(t)
	for s, w := range want {
		k, err := f.db.ReadKnot(game.StateAddress{Layer: layer, State: uint32(s)})
		is.NoErr(err)
		is.Equal(k.String(), w.String()) // knot of the state
	}
}

func TestThreeStates(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "three_state.yaml", 1)
	is.NoErr(f.solver(f.g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0}))
	f.expect(t, 0, []game.Knot{invalid, won(0), lost(1)})
}

func TestCycles(t *testing.T) {
	for _, workers := range []int{1, 3} {
		is := is.New(t)
		f := newFixture(t, "cycle.yaml", workers)
		is.NoErr(f.solver(f.g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0}))
		f.expect(t, 0, []game.Knot{lost(2), won(1), lost(0), drawn, drawn, won(1)})
	}
}

func TestMovesIntoImpossibleStates(t *testing.T) {
	for _, workers := range []int{1, 2} {
		is := is.New(t)
		f := newFixture(t, "unable_to_move.yaml", workers)
		is.NoErr(f.solver(f.g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0}))
		f.expect(t, 0, []game.Knot{lost(2), won(1), invalid, lost(0), invalid, invalid, won(1)})
	}
}

func TestSuccessorLayerMustBeComplete(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "acyclic.yaml", 2)
	err := f.solver(f.g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{1})
	is.True(errors.Is(err, ErrIncompleteSuccessor))
}

func TestLayerOnTopOfCompleteLayer(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "acyclic.yaml", 2)
	s := f.solver(f.g, nil)

	is.NoErr(s.CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0}))
	f.expect(t, 0, []game.Knot{won(0), lost(0), drawn, lost(1), won(1), won(2), invalid})
	is.NoErr(f.db.SetLayerComplete(0))

	is.NoErr(s.CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{1}))
	f.expect(t, 1, []game.Knot{won(2), lost(3), won(1), won(4), lost(2), drawn, won(4), lost(5)})
}

func TestBothLayersTogether(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "acyclic.yaml", 4)
	is.NoErr(f.solver(f.g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{1, 0}))
	f.expect(t, 0, []game.Knot{won(0), lost(0), drawn, lost(1), won(1), won(2), invalid})
	f.expect(t, 1, []game.Knot{won(2), lost(3), won(1), won(4), lost(2), drawn, won(4), lost(5)})
}

func TestCancelled(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "cycle.yaml", 2)
	f.pool.Cancel()
	defer f.pool.ResetCancel()
	err := f.solver(f.g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0})
	is.Equal(parallel.StatusOf(err), parallel.StatusCancelled)
}

func TestFrontierFilesRemoved(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "cycle.yaml", 2)
	is.NoErr(f.solver(f.g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0}))
	matches, err := filepath.Glob(filepath.Join(f.dir, "frontier-*"))
	is.NoErr(err)
	is.Equal(len(matches), 0) // scratch files left behind
}

// hiddenEdges hides the predecessors of one state on the first lookup, so
// the successor counts miss a move that propagation later finds.
type hiddenEdges struct {
	*graph.Graph
	hide  game.StateAddress
	calls int
}

func (h *hiddenEdges) Predecessors(thread int) []game.PredecessorEdge {
	l, s, _ := h.LayerAndStateNumber(thread)
	if (game.StateAddress{Layer: l, State: s}) == h.hide {
		h.calls++
		if h.calls == 1 {
			return nil
		}
	}
	return h.Graph.Predecessors(thread)
}

func TestCounterUnderflow(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "three_state.yaml", 1)
	g := &hiddenEdges{Graph: f.g, hide: game.StateAddress{Layer: 0, State: 1}}
	err := f.solver(g, nil).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0})
	is.True(errors.Is(err, ErrCounterUnderflow))
}

func TestCounterUnderflowPanics(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "three_state.yaml", 1)
	g := &hiddenEdges{Graph: f.g, hide: game.StateAddress{Layer: 0, State: 1}}
	s := f.solver(g, nil)
	s.cfg.PanicOnInconsistency = true
	defer func() {
		r := recover()
		is.True(r != nil)
		err, ok := r.(error)
		is.True(ok)
		is.True(errors.Is(err, ErrCounterUnderflow))
	}()
	_ = s.CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0})
}
