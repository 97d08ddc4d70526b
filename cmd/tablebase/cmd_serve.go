package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeeve/tablebase/internal/alphabeta"
	"github.com/freeeve/tablebase/internal/config"
	"github.com/freeeve/tablebase/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tablebase over HTTP",
		Long: `Serves layer summaries, stored knots and best-move queries. Queries
need the game file; without it only stored results are served.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx)
		},
	}
	cmd.Flags().String("addr", config.Defaults().ListenAddr, "listen address")
	_ = a.v.BindPFlag("listen_addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	s, err := a.open(false, false)
	if err != nil {
		return err
	}
	defer s.Close()

	var q httpapi.Querier
	if s.game != nil {
		q = alphabeta.New(alphabeta.Config{
			Game:                 s.game,
			DB:                   s.db,
			Pool:                 s.pool,
			SearchDepth:          a.cfg.SearchDepth,
			PanicOnInconsistency: a.cfg.PanicOnInconsistency,
			Logger:               a.log,
		})
	} else {
		a.log.Warn().Msg("no game file - best-move queries disabled")
	}

	srv := &http.Server{
		Addr:         a.cfg.ListenAddr,
		Handler:      httpapi.NewRouter(a.log.With().Str("component", "http").Logger(), s.db, q),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	a.log.Info().Msg("shutting down")
	s.pool.Cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
