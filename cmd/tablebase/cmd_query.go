package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/freeeve/tablebase/internal/alphabeta"
	"github.com/freeeve/tablebase/internal/game"
)

func newQueryCmd(a *app) *cobra.Command {
	var (
		addr   game.StateAddress
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Show the stored result of a state and its best move",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(true, false)
			if err != nil {
				return err
			}
			defer s.Close()

			stored, err := s.db.ReadKnot(addr)
			if err != nil {
				return err
			}
			solver := alphabeta.New(alphabeta.Config{
				Game:                 s.game,
				DB:                   s.db,
				Pool:                 s.pool,
				SearchDepth:          a.cfg.SearchDepth,
				PanicOnInconsistency: a.cfg.PanicOnInconsistency,
				Logger:               a.log,
			})
			c, err := solver.GetBestChoice(cmd.Context(), addr)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(queryResult{Addr: addr.String(), Stored: stored.String(), Choice: c})
			}
			printChoice(cmd, addr, stored, c)
			return nil
		},
	}
	cmd.Flags().Uint32Var(&addr.Layer, "layer", 0, "layer number")
	cmd.Flags().Uint32Var(&addr.State, "state", 0, "state number within the layer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

type queryResult struct {
	Addr   string           `json:"addr"`
	Stored string           `json:"stored"`
	Choice alphabeta.Choice `json:"choice"`
}

func printChoice(cmd *cobra.Command, addr game.StateAddress, stored game.Knot, c alphabeta.Choice) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state  %s\nstored %s\nsearch %s (%.0f)\n", addr, stored, c.Knot, c.Float)
	if !c.HasMove {
		fmt.Fprintln(out, "no moves")
		return
	}
	fmt.Fprintf(out, "best   move %d\n", c.Move)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MOVE\tPLAYER CHANGED\tCHILD")
	for _, ch := range c.Children {
		fmt.Fprintf(w, "%d\t%t\t%s\n", ch.Move, ch.PlayerChanged, ch.Knot)
	}
	w.Flush()
}
