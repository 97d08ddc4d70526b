package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"1024", 1024},
		{"4k", 4 << 10},
		{"512m", 512 << 20},
		{" 4G ", 4 << 30},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"m", "12x", "-5m", "1.5g"} {
		_, err := ParseSize(bad)
		require.ErrorIs(t, err, ErrInvalidSize, bad)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	doc := `
data_dir: /var/lib/tablebase
game_file: games/mill.yaml
prefer_compressed: true
threads: 3
search_depth: 12
max_resident: 2g
panic_on_inconsistency: true
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/tablebase", cfg.DataDir)
	require.Equal(t, "games/mill.yaml", cfg.GameFile)
	require.True(t, cfg.PreferCompressed)
	require.Equal(t, 3, cfg.Threads)
	require.Equal(t, 12, cfg.SearchDepth)
	require.True(t, cfg.PanicOnInconsistency)
	require.Equal(t, ":8007", cfg.ListenAddr)

	n, err := cfg.MaxResidentBytes()
	require.NoError(t, err)
	require.Equal(t, int64(2<<30), n)
}

func TestLoadWorkingDirectoryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("log_level: debug\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: 2\nlisten_addr: :9000\n"), 0o644))
	t.Setenv("TABLEBASE_THREADS", "5")
	t.Setenv("TABLEBASE_CHECKPOINT_DIR", "/tmp/cp")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Threads)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, "/tmp/cp", cfg.CheckpointDir)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Threads = 0
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.MaxResident = "lots"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidSize)

	cfg.MaxResident = "0"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidSize)

	cfg.MaxResident = "unlimited"
	n, err := cfg.MaxResidentBytes()
	require.NoError(t, err)
	require.Equal(t, int64(-1), n)
}
