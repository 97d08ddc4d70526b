package retro

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/freeeve/tablebase/internal/game"
)

func openMemCheckpoints(t *testing.T) *Checkpoints {
	t.Helper()
	cp, err := OpenCheckpoints(CheckpointConfig{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cp.Close() })
	return cp
}

func TestSeedCheckpoint(t *testing.T) {
	is := is.New(t)
	cp := openMemCheckpoints(t)

	_, ok, err := cp.LoadSeed(2, 0)
	is.NoErr(err)
	is.True(!ok)

	knots := []game.Knot{won(0), pendingKnot, invalid}
	is.NoErr(cp.SaveSeed(2, 4096, knots))
	got, ok, err := cp.LoadSeed(2, 4096)
	is.NoErr(err)
	is.True(ok)
	is.Equal(got, knots)

	is.NoErr(cp.Forget([]uint32{2}))
	_, ok, err = cp.LoadSeed(2, 4096)
	is.NoErr(err)
	is.True(!ok)
}

func TestCountsCheckpoint(t *testing.T) {
	is := is.New(t)
	cp := openMemCheckpoints(t)

	sizes := func(l uint32) uint32 { return []uint32{3, 2}[l] }
	sig := Signature([]uint32{0, 1}, sizes)
	is.True(sig != Signature([]uint32{1, 0}, sizes))

	counts := [][]uint32{{0, 7, 300}, {1, 2}}
	is.NoErr(cp.SaveCounts(sig, counts))

	got, ok, err := cp.LoadCounts(sig, []uint32{3, 2})
	is.NoErr(err)
	is.True(ok)
	is.Equal(got, counts)

	_, ok, err = cp.LoadCounts(sig, []uint32{3, 3})
	is.NoErr(err)
	is.True(!ok) // sizes differ

	_, ok, err = cp.LoadCounts(sig+1, []uint32{3, 2})
	is.NoErr(err)
	is.True(!ok)
}

func TestSolverUsesSeedCheckpoint(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "cycle.yaml", 2)
	cp := openMemCheckpoints(t)

	// a saved chunk wins over evaluating the game again
	is.NoErr(cp.SaveSeed(0, 0, []game.Knot{invalid, invalid, invalid}))
	is.NoErr(f.solver(f.g, cp).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0}))
	f.expect(t, 0, []game.Knot{invalid, invalid, invalid, drawn, drawn, drawn})

	// finished layers leave no checkpoints behind
	_, ok, err := cp.LoadSeed(0, 0)
	is.NoErr(err)
	is.True(!ok)
}

func TestSolverWithCheckpointsMatches(t *testing.T) {
	is := is.New(t)
	f := newFixture(t, "acyclic.yaml", 3)
	cp := openMemCheckpoints(t)
	is.NoErr(f.solver(f.g, cp).CalcKnotValuesByRetroAnalysis(context.Background(), []uint32{0, 1}))
	f.expect(t, 1, []game.Knot{won(2), lost(3), won(1), won(4), lost(2), drawn, won(4), lost(5)})
}
