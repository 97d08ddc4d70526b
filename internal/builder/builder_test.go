package builder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/freeeve/tablebase/internal/alphabeta"
	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/graph"
	"github.com/freeeve/tablebase/internal/parallel"
	"github.com/freeeve/tablebase/internal/retro"
	"github.com/freeeve/tablebase/internal/store"
)

const workers = 3

func loadGraph(t *testing.T, name string) *graph.Graph {
	t.Helper()
	g, err := graph.Load(filepath.Join("..", "..", "testdata", name), workers)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func parseGraph(t *testing.T, doc string) *graph.Graph {
	t.Helper()
	g, err := graph.Parse([]byte(doc), workers)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func openStore(t *testing.T, dir string, g game.Layout) *store.Store {
	t.Helper()
	db, err := store.Open(store.Config{Dir: dir, MaxResidentBytes: -1, Logger: zerolog.Nop()}, g)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func newBuilder(t *testing.T, g game.Game, db *store.Store, n int) *Builder {
	pool := parallel.New(n, zerolog.Nop())
	t.Cleanup(pool.Close)
	return New(Config{Game: g, Store: db, Pool: pool, FrontierDir: t.TempDir(), Logger: zerolog.Nop()})
}

// build solves g into a fresh store and returns it open.
func build(t *testing.T, g game.Game) (*store.Store, Report) {
	t.Helper()
	is := is.New(t)
	db := openStore(t, t.TempDir(), g)
	t.Cleanup(func() { db.Close() })
	report, err := newBuilder(t, g, db, workers).Build(context.Background())
	is.NoErr(err)
	is.True(db.Complete())
	return db, report
}

// solvedBy forces one solver for every layer.
type solvedBy struct {
	game.Game
	retro bool
}

func (s solvedBy) ShallRetroAnalysisBeUsed(uint32) bool { return s.retro }

func knots(t *testing.T, db *store.Store) []game.Knot {
	t.Helper()
	var all []game.Knot
	for l := range db.NumberOfLayers() {
		for s := range db.NumberOfKnotsInLayer(l) {
			k, err := db.ReadKnot(game.StateAddress{Layer: l, State: s})
			if err != nil {
				t.Fatal(err)
			}
			all = append(all, k)
		}
	}
	return all
}

func TestSolversAgree(t *testing.T) {
	for _, name := range []string{"three_state.yaml", "acyclic.yaml", "cutoff.yaml", "deep_cutoff.yaml", "unable_to_move.yaml"} {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			g := loadGraph(t, name)
			ab, abReport := build(t, solvedBy{Game: g})
			rs, rsReport := build(t, solvedBy{Game: g, retro: true})
			is.Equal(knots(t, ab), knots(t, rs))
			is.Equal(abReport.Layers[0].Solver, SolverAlphaBeta)
			is.Equal(rsReport.Layers[0].Solver, SolverRetro)
			for _, k := range knots(t, ab) {
				is.NoErr(game.CheckKnot(k))
			}
		})
	}
}

func TestSymmetricDuplicatesMatch(t *testing.T) {
	is := is.New(t)
	db, _ := build(t, loadGraph(t, "acyclic.yaml"))
	a, err := db.ReadKnot(game.StateAddress{Layer: 1, State: 3})
	is.NoErr(err)
	b, err := db.ReadKnot(game.StateAddress{Layer: 1, State: 6})
	is.NoErr(err)
	is.Equal(a, b)
}

func TestMixedSolvers(t *testing.T) {
	is := is.New(t)
	db, report := build(t, loadGraph(t, "mixed.yaml"))

	is.Equal(len(report.Layers), 2)
	is.Equal(report.Layers[0].Layer, uint32(0))
	is.Equal(report.Layers[0].Solver, SolverRetro)
	is.Equal(report.Layers[1].Solver, SolverAlphaBeta)
	is.Equal(report.Layers[0].Stats.Won, uint32(2))
	is.Equal(report.Layers[0].Stats.MaxPlyWon, game.PlyInfo(3))

	want := []game.Knot{
		{Value: game.ValueLost, Ply: 2},
		{Value: game.ValueWon, Ply: 1},
		{Value: game.ValueLost, Ply: 0},
		{Value: game.ValueWon, Ply: 3},
		{Value: game.ValueLost, Ply: 4},
		{Value: game.ValueWon, Ply: 5},
	}
	is.Equal(knots(t, db), want)
}

func TestRebuildWritesNothing(t *testing.T) {
	is := is.New(t)
	g := loadGraph(t, "mixed.yaml")
	dir := t.TempDir()

	db := openStore(t, dir, g)
	_, err := newBuilder(t, g, db, workers).Build(context.Background())
	is.NoErr(err)
	is.True(db.Counters().Writes > 0)
	is.NoErr(db.Close())

	db = openStore(t, dir, g)
	defer db.Close()
	report, err := newBuilder(t, g, db, workers).Build(context.Background())
	is.NoErr(err)
	is.Equal(len(report.Layers), 0)
	is.Equal(db.Counters().Writes, uint64(0))
}

// shallow caps the search so that searching layer 1 fails.
type shallow struct{ game.Game }

func (shallow) MaxNumPlies() int { return 1 }

func TestResumeSkipsCompleteLayers(t *testing.T) {
	is := is.New(t)
	g := loadGraph(t, "mixed.yaml")
	dir := t.TempDir()

	db := openStore(t, dir, g)
	report, err := newBuilder(t, shallow{g}, db, 1).Build(context.Background())
	is.True(errors.Is(err, alphabeta.ErrSearchDepthExhausted))
	is.Equal(len(report.Layers), 1)
	is.True(db.IsLayerComplete(0))
	is.True(!db.IsLayerComplete(1))
	is.NoErr(db.Close())

	db = openStore(t, dir, g)
	defer db.Close()
	report, err = newBuilder(t, g, db, workers).Build(context.Background())
	is.NoErr(err)
	is.Equal(len(report.Layers), 2)
	is.True(report.Layers[0].Skipped)
	is.Equal(report.Layers[1].Layer, uint32(1))
	is.Equal(db.Counters().Writes, uint64(2)) // only layer 1
}

const mutual = `
layers:
  - {states: 2%s}
  - {states: 2%s}
states:
  - {id: 1/0, value: lost}
edges:
  - {from: 0/0, to: 1/0}
  - {from: 1/1, to: 0/0}
  - {from: 0/1, to: 1/1}
`

func TestPartnersAreSolvedTogether(t *testing.T) {
	is := is.New(t)
	g := parseGraph(t, fmt.Sprintf(mutual, ", partners: [1]", ", partners: [0]"))
	is.Equal(Groups(g), [][]uint32{{0, 1}})

	db, report := build(t, g)
	is.Equal(len(report.Layers), 2)
	want := []game.Knot{
		{Value: game.ValueWon, Ply: 1},
		{Value: game.ValueWon, Ply: 3},
		{Value: game.ValueLost, Ply: 0},
		{Value: game.ValueLost, Ply: 2},
	}
	is.Equal(knots(t, db), want)
}

func TestDependencyCycle(t *testing.T) {
	is := is.New(t)
	g := parseGraph(t, fmt.Sprintf(mutual, "", ""))
	is.Equal(Groups(g), [][]uint32{{0}, {1}})

	db := openStore(t, t.TempDir(), g)
	defer db.Close()
	_, err := newBuilder(t, g, db, workers).Build(context.Background())
	is.True(errors.Is(err, ErrDependencyCycle))
}

func TestBuildCancelled(t *testing.T) {
	is := is.New(t)
	g := loadGraph(t, "acyclic.yaml")
	db := openStore(t, t.TempDir(), g)
	defer db.Close()
	b := newBuilder(t, g, db, workers)
	b.cfg.Pool.Cancel()
	_, err := b.Build(context.Background())
	is.Equal(parallel.StatusOf(err), parallel.StatusCancelled)
	is.True(!db.IsLayerComplete(0))
}

func TestBuildWithCheckpoints(t *testing.T) {
	is := is.New(t)
	g := loadGraph(t, "mixed.yaml")
	cp, err := retro.OpenCheckpoints(retro.CheckpointConfig{Dir: t.TempDir()})
	is.NoErr(err)
	defer cp.Close()

	db := openStore(t, t.TempDir(), g)
	defer db.Close()
	pool := parallel.New(workers, zerolog.Nop())
	defer pool.Close()
	b := New(Config{Game: g, Store: db, Pool: pool, Checkpoints: cp, FrontierDir: t.TempDir(), Logger: zerolog.Nop()})
	_, err = b.Build(context.Background())
	is.NoErr(err)
	is.True(db.Complete())
}
