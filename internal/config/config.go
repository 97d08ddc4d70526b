// Package config loads the tablebase settings from tablebase.yaml,
// TABLEBASE_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the optional config file looked up in the working directory.
const FileName = "tablebase.yaml"

// EnvPrefix prefixes every environment variable, e.g. TABLEBASE_DATA_DIR.
const EnvPrefix = "TABLEBASE"

// ErrInvalidSize is returned for a malformed size string.
var ErrInvalidSize = errors.New("invalid size")

// Config holds every setting of the CLI and the server.
type Config struct {
	DataDir              string `mapstructure:"data_dir"`
	GameFile             string `mapstructure:"game_file"`
	PreferCompressed     bool   `mapstructure:"prefer_compressed"`
	Threads              int    `mapstructure:"threads"`
	SearchDepth          int    `mapstructure:"search_depth"`
	CacheLayersOnRead    bool   `mapstructure:"cache_layers_on_read"`
	MaxResident          string `mapstructure:"max_resident"`
	FrontierDir          string `mapstructure:"frontier_dir"`
	CheckpointDir        string `mapstructure:"checkpoint_dir"`
	LogLevel             string `mapstructure:"log_level"`
	ListenAddr           string `mapstructure:"listen_addr"`
	PanicOnInconsistency bool   `mapstructure:"panic_on_inconsistency"`
}

// Defaults returns the settings used when nothing overrides them.
func Defaults() Config {
	return Config{
		DataDir:    "./data/tablebase",
		Threads:    runtime.NumCPU(),
		LogLevel:   "info",
		ListenAddr: ":8007",
	}
}

// New returns a viper instance with the defaults and the environment bound.
// Callers may bind flags before calling Load.
func New() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("game_file", d.GameFile)
	v.SetDefault("prefer_compressed", d.PreferCompressed)
	v.SetDefault("threads", d.Threads)
	v.SetDefault("search_depth", d.SearchDepth)
	v.SetDefault("cache_layers_on_read", d.CacheLayersOnRead)
	v.SetDefault("max_resident", d.MaxResident)
	v.SetDefault("frontier_dir", d.FrontierDir)
	v.SetDefault("checkpoint_dir", d.CheckpointDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("panic_on_inconsistency", d.PanicOnInconsistency)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or tablebase.yaml from the working directory when path
// is empty, and unmarshals the result. A missing default file is not an
// error; a missing explicit file is.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper cannot check by type.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.SearchDepth < 0 {
		return fmt.Errorf("search_depth must not be negative, got %d", c.SearchDepth)
	}
	if _, err := c.MaxResidentBytes(); err != nil {
		return err
	}
	return nil
}

// MaxResidentBytes converts max_resident for store.Config. Empty means
// half of physical memory, "unlimited" means no bound.
func (c Config) MaxResidentBytes() (int64, error) {
	switch strings.ToLower(strings.TrimSpace(c.MaxResident)) {
	case "":
		return 0, nil
	case "unlimited":
		return -1, nil
	}
	n, err := ParseSize(c.MaxResident)
	if err != nil {
		return 0, fmt.Errorf("max_resident: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("max_resident: %w: zero", ErrInvalidSize)
	}
	return n, nil
}

// ParseSize parses a size string like "512m", "4g", "1024" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = 1024
	case strings.HasSuffix(s, "m"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(s, "g"):
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return n * multiplier, nil
}
