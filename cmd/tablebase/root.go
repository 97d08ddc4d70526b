package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/freeeve/tablebase/internal/config"
	"github.com/freeeve/tablebase/internal/logx"
)

// app is the state shared by the subcommands once the root command has
// loaded the configuration.
type app struct {
	v   *viper.Viper
	cfg config.Config
	log zerolog.Logger
}

// flag name -> config key
var persistentFlags = map[string]string{
	"data-dir":               "data_dir",
	"game":                   "game_file",
	"compressed":             "prefer_compressed",
	"threads":                "threads",
	"search-depth":           "search_depth",
	"cache-layers-on-read":   "cache_layers_on_read",
	"max-resident":           "max_resident",
	"frontier-dir":           "frontier_dir",
	"checkpoint-dir":         "checkpoint_dir",
	"log-level":              "log_level",
	"panic-on-inconsistency": "panic_on_inconsistency",
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	var configFile string

	root := &cobra.Command{
		Use:   "tablebase",
		Short: "Build and query layered game tablebases",
		Long: `tablebase solves every state of a layered game, stores the result
of each state in a database directory and answers best-move queries from it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logx.NewLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}

	d := config.Defaults()
	pf := root.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ./"+config.FileName+" if present)")
	pf.String("data-dir", d.DataDir, "tablebase directory")
	pf.String("game", d.GameFile, "game definition file (YAML)")
	pf.Bool("compressed", d.PreferCompressed, "create new databases with the compressed encoding")
	pf.Int("threads", d.Threads, "worker threads")
	pf.Int("search-depth", d.SearchDepth, "alpha-beta depth for queries (0 = game maximum)")
	pf.Bool("cache-layers-on-read", d.CacheLayersOnRead, "load whole layers instead of reading single knots")
	pf.String("max-resident", d.MaxResident, "memory for resident layers, e.g. 512m, 4g, unlimited (default half of RAM)")
	pf.String("frontier-dir", d.FrontierDir, "scratch directory for retrograde queues (default system temp)")
	pf.String("checkpoint-dir", d.CheckpointDir, "retrograde checkpoint directory (empty = no checkpoints)")
	pf.String("log-level", d.LogLevel, "debug, info, warn or error")
	pf.Bool("panic-on-inconsistency", d.PanicOnInconsistency, "panic on consistency errors")
	for name, key := range persistentFlags {
		_ = a.v.BindPFlag(key, pf.Lookup(name))
	}

	root.AddCommand(
		newBuildCmd(a),
		newQueryCmd(a),
		newStatsCmd(a),
		newExportCmd(a),
		newServeCmd(a),
		newRmCmd(a),
	)
	return root
}
