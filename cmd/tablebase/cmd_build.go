package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/freeeve/tablebase/internal/builder"
	"github.com/freeeve/tablebase/internal/parallel"
)

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Solve every layer of the game into the tablebase",
		Long: `Solves the incomplete layers of the game, successor layers first, and
marks the tablebase complete. Layers finished by an earlier run are kept,
so an interrupted build resumes where it stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runBuild(ctx, cmd)
		},
	}
}

func (a *app) runBuild(ctx context.Context, cmd *cobra.Command) error {
	s, err := a.open(true, true)
	if err != nil {
		return err
	}
	defer s.Close()

	b := builder.New(builder.Config{
		Game:                 s.game,
		Store:                s.db,
		Pool:                 s.pool,
		Checkpoints:          s.check,
		FrontierDir:          a.cfg.FrontierDir,
		SearchDepth:          a.cfg.SearchDepth,
		PanicOnInconsistency: a.cfg.PanicOnInconsistency,
		Logger:               a.log,
	})
	report, err := b.Build(ctx)
	printReport(cmd, report)
	if parallel.StatusOf(err) == parallel.StatusCancelled {
		a.log.Info().Msg("build cancelled, complete layers are kept")
	}
	return err
}

func printReport(cmd *cobra.Command, report builder.Report) {
	if len(report.Layers) == 0 {
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tSOLVER\tWON\tLOST\tDRAWN\tINVALID\tTOOK")
	for _, r := range report.Layers {
		if r.Skipped {
			fmt.Fprintf(w, "%d\tskipped\t\t\t\t\t\n", r.Layer)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.Layer, r.Solver, r.Stats.Won, r.Stats.Lost, r.Stats.Drawn, r.Stats.Invalid, r.Took.Round(time.Millisecond))
	}
	w.Flush()
}
