package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/store"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		layer   uint32
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every knot of a layer as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(false, false)
			if err != nil {
				return err
			}
			defer s.Close()
			if layer >= s.db.NumberOfLayers() {
				return fmt.Errorf("%w: layer %d", store.ErrOutOfRange, layer)
			}

			out := cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if err := exportLayer(out, s.db, layer); err != nil {
				return err
			}
			a.log.Info().Uint32("layer", layer).Str("out", outPath).Msg("layer exported")
			return nil
		},
	}
	cmd.Flags().Uint32Var(&layer, "layer", 0, "layer to export")
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file")
	return cmd
}

// exportLayer writes state,value,ply rows. Uncalculated and sentinel plies
// are written by name.
func exportLayer(out io.Writer, db *store.Store, layer uint32) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"state", "value", "ply"}); err != nil {
		return err
	}
	for st := range db.NumberOfKnotsInLayer(layer) {
		k, err := db.ReadKnot(game.StateAddress{Layer: layer, State: st})
		if err != nil {
			return err
		}
		if err := w.Write([]string{strconv.FormatUint(uint64(st), 10), k.Value.String(), k.Ply.String()}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
