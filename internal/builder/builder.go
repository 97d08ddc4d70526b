// Package builder drives the solvers over a whole game: it orders the
// layers so that every layer is solved after the layers it moves into,
// solves partner layers together, and freezes each finished layer.
package builder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/freeeve/tablebase/internal/alphabeta"
	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/parallel"
	"github.com/freeeve/tablebase/internal/retro"
	"github.com/freeeve/tablebase/internal/store"
)

// ErrDependencyCycle means the remaining layers move into each other
// without being declared partners.
var ErrDependencyCycle = errors.New("layers depend on each other")

// Solver names in reports.
const (
	SolverAlphaBeta = "alphabeta"
	SolverRetro     = "retro"
)

// Config configures a Builder.
type Config struct {
	Game  game.Game
	Store *store.Store
	Pool  *parallel.Pool
	// Checkpoints is optional.
	Checkpoints          *retro.Checkpoints
	FrontierDir          string
	SearchDepth          int
	PanicOnInconsistency bool
	Logger               zerolog.Logger
}

// Builder fills a store layer by layer.
type Builder struct {
	cfg   Config
	log   zerolog.Logger
	ab    *alphabeta.Solver
	retro *retro.Solver
}

// LayerResult describes one solved or skipped layer.
type LayerResult struct {
	Layer   uint32
	Solver  string
	Skipped bool
	Stats   store.LayerStats
	Took    time.Duration
}

// Report lists the layers in the order they were handled.
type Report struct {
	Layers []LayerResult
}

// New returns a builder.
func New(cfg Config) *Builder {
	log := cfg.Logger.With().Str("component", "builder").Logger()
	return &Builder{
		cfg: cfg,
		log: log,
		ab: alphabeta.New(alphabeta.Config{
			Game:                 cfg.Game,
			DB:                   cfg.Store,
			Pool:                 cfg.Pool,
			SearchDepth:          cfg.SearchDepth,
			PanicOnInconsistency: cfg.PanicOnInconsistency,
			Logger:               cfg.Logger,
		}),
		retro: retro.New(retro.Config{
			Game:                 cfg.Game,
			DB:                   cfg.Store,
			Pool:                 cfg.Pool,
			Checkpoints:          cfg.Checkpoints,
			FrontierDir:          cfg.FrontierDir,
			PanicOnInconsistency: cfg.PanicOnInconsistency,
			Logger:               cfg.Logger,
		}),
	}
}

// AlphaBeta returns the solver used for queries.
func (b *Builder) AlphaBeta() *alphabeta.Solver { return b.ab }

// Groups partitions the layers into partner groups. Partnership is
// symmetric and transitive. Groups are ordered by their lowest layer.
func Groups(layout game.Layout) [][]uint32 {
	n := layout.NumberOfLayers()
	parent := make([]uint32, n)
	for i := range parent {
		parent[i] = uint32(i)
	}
	var find func(uint32) uint32
	find = func(x uint32) uint32 {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for l := uint32(0); l < n; l++ {
		for _, p := range layout.PartnerLayers(l) {
			if p >= n {
				continue
			}
			a, b := find(l), find(p)
			if a != b {
				parent[max(a, b)] = min(a, b)
			}
		}
	}
	byRoot := lo.GroupBy(lo.Range(int(n)), func(l int) uint32 { return find(uint32(l)) })
	roots := lo.Keys(byRoot)
	slices.Sort(roots)
	return lo.Map(roots, func(r uint32, _ int) []uint32 {
		return lo.Map(byRoot[r], func(l int, _ int) uint32 { return uint32(l) })
	})
}

// Build solves every incomplete layer, then marks the database complete.
// Complete layers are left untouched.
func (b *Builder) Build(ctx context.Context) (Report, error) {
	db := b.cfg.Store
	var report Report
	if db.Complete() {
		b.log.Info().Msg("tablebase already complete")
		return report, nil
	}

	remaining := Groups(b.cfg.Game)
	for len(remaining) > 0 {
		i := slices.IndexFunc(remaining, b.ready)
		if i < 0 {
			return report, fmt.Errorf("%w: %v", ErrDependencyCycle, remaining)
		}
		group := remaining[i]
		remaining = slices.Delete(remaining, i, i+1)

		results, err := b.solveGroup(ctx, group)
		report.Layers = append(report.Layers, results...)
		if err != nil {
			return report, err
		}
	}

	if err := db.MarkComplete(); err != nil {
		return report, err
	}
	b.log.Info().Int("layers", len(report.Layers)).Msg("tablebase complete")
	return report, nil
}

// ready reports whether every layer the group moves into, outside the
// group, is complete.
func (b *Builder) ready(group []uint32) bool {
	return lo.EveryBy(group, func(l uint32) bool {
		return lo.EveryBy(b.cfg.Game.SuccLayers(l), func(s uint32) bool {
			return slices.Contains(group, s) || b.cfg.Store.IsLayerComplete(s)
		})
	})
}

func (b *Builder) solveGroup(ctx context.Context, group []uint32) ([]LayerResult, error) {
	db := b.cfg.Store
	g := b.cfg.Game

	done, todo := lo.FilterReject(group, func(l uint32, _ int) bool { return db.IsLayerComplete(l) })
	results := lo.Map(done, func(l uint32, _ int) LayerResult {
		return LayerResult{Layer: l, Skipped: true}
	})
	if len(todo) == 0 {
		return results, nil
	}

	solver := SolverAlphaBeta
	if lo.SomeBy(todo, g.ShallRetroAnalysisBeUsed) {
		solver = SolverRetro
	}
	b.log.Info().Uints32("layers", todo).Str("solver", solver).Msg("solving layers")
	start := time.Now()

	var err error
	if solver == SolverRetro {
		err = b.retro.CalcKnotValuesByRetroAnalysis(ctx, todo)
	} else {
		err = b.ab.CalcKnotValuesByAlphaBeta(ctx, todo)
	}
	if err != nil {
		return results, err
	}

	for _, l := range todo {
		if err := db.VerifyLayer(l); err != nil {
			return results, err
		}
		if err := db.SetLayerComplete(l); err != nil {
			return results, err
		}
	}
	if err := db.UpdateLayerStats(ctx, todo...); err != nil {
		return results, err
	}
	took := time.Since(start)
	for _, l := range todo {
		if err := db.ShowLayerStats(l); err != nil {
			return results, err
		}
		st, err := db.LayerStats(l)
		if err != nil {
			return results, err
		}
		results = append(results, LayerResult{Layer: l, Solver: solver, Stats: st, Took: took})
	}
	db.Unload()
	return results, nil
}
