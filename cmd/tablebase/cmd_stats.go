package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatsCmd(a *app) *cobra.Command {
	var update bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the counts of every layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(false, false)
			if err != nil {
				return err
			}
			defer s.Close()
			db := s.db

			if update {
				if err := db.UpdateLayerStats(cmd.Context()); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dir %s, encoding %s, complete %t\n", db.Dir(), db.Encoding(), db.Complete())
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LAYER\tKNOTS\tCOMPLETE\tWON\tLOST\tDRAWN\tINVALID\tMAX WON\tMAX LOST")
			for l := range db.NumberOfLayers() {
				st, err := db.LayerStats(l)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%d\t%t\t%d\t%d\t%d\t%d\t%s\t%s\n",
					l, db.NumberOfKnotsInLayer(l), db.IsLayerComplete(l),
					st.Won, st.Lost, st.Drawn, st.Invalid, st.MaxPlyWon, st.MaxPlyLost)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "rescan every layer and store the counts")
	return cmd
}
