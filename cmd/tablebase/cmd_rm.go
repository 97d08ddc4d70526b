package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

func newRmCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete the tablebase files and the retrograde checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return errors.New("refusing to delete without --force")
			}
			s, err := a.open(false, false)
			if err != nil {
				return err
			}
			s.pool.Close()
			if err := s.db.RemoveFiles(); err != nil {
				return err
			}
			if dir := a.cfg.CheckpointDir; dir != "" {
				if err := os.RemoveAll(dir); err != nil {
					return err
				}
				a.log.Info().Str("dir", dir).Msg("checkpoints removed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "required to confirm the deletion")
	return cmd
}
