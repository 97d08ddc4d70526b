package main

import (
	"errors"
	"fmt"

	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/graph"
	"github.com/freeeve/tablebase/internal/parallel"
	"github.com/freeeve/tablebase/internal/retro"
	"github.com/freeeve/tablebase/internal/store"
)

// session is an opened game, database and worker pool.
type session struct {
	game  *graph.Graph // nil when opened without a game
	db    *store.Store
	pool  *parallel.Pool
	check *retro.Checkpoints
}

func (a *app) loadGame(required bool) (*graph.Graph, error) {
	if a.cfg.GameFile == "" {
		if required {
			return nil, errors.New("no game file: set --game or game_file")
		}
		return nil, nil
	}
	g, err := graph.Load(a.cfg.GameFile, a.cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", a.cfg.GameFile, err)
	}
	a.log.Info().
		Str("file", a.cfg.GameFile).
		Uint32("layers", g.NumberOfLayers()).
		Msg("game loaded")
	return g, nil
}

// open opens the database. Without a game only an existing database can
// be opened.
func (a *app) open(needGame, withCheckpoints bool) (*session, error) {
	g, err := a.loadGame(needGame)
	if err != nil {
		return nil, err
	}
	maxResident, err := a.cfg.MaxResidentBytes()
	if err != nil {
		return nil, err
	}

	var layout game.Layout
	if g != nil {
		layout = g
	}
	db, err := store.Open(store.Config{
		Dir:                  a.cfg.DataDir,
		PreferCompressed:     a.cfg.PreferCompressed,
		FullLayerCacheOnRead: a.cfg.CacheLayersOnRead,
		MaxResidentBytes:     maxResident,
		PanicOnInconsistency: a.cfg.PanicOnInconsistency,
		Logger:               a.log.With().Str("component", "store").Logger(),
	}, layout)
	if err != nil {
		return nil, fmt.Errorf("open tablebase %s: %w", a.cfg.DataDir, err)
	}

	s := &session{game: g, db: db, pool: parallel.New(a.cfg.Threads, a.log)}
	if withCheckpoints && a.cfg.CheckpointDir != "" {
		cpLog := a.log.With().Str("component", "checkpoints").Logger()
		s.check, err = retro.OpenCheckpoints(retro.CheckpointConfig{Dir: a.cfg.CheckpointDir, Logger: &cpLog})
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() error {
	s.pool.Close()
	var err error
	if s.check != nil {
		err = s.check.Close()
	}
	return errors.Join(err, s.db.Close())
}
