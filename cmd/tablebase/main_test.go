package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const acyclic = "../../testdata/acyclic.yaml"

// run executes the CLI with a fresh command tree and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err)
	return out
}

func TestBuildExportQuery(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tb")
	common := []string{"--data-dir", dir, "--game", acyclic, "--threads", "2", "--log-level", "error"}

	out := mustRun(t, append([]string{"build"}, common...)...)
	require.Contains(t, out, "LAYER")
	require.Contains(t, out, "alphabeta")

	// a second build finds the tablebase complete
	out = mustRun(t, append([]string{"build"}, common...)...)
	require.Empty(t, out)

	out = mustRun(t, "export", "--data-dir", dir, "--layer", "0", "--log-level", "error")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, []string{
		"state,value,ply",
		"0,won,0",
		"1,lost,0",
		"2,drawn,drawn",
		"3,lost,1",
		"4,won,1",
		"5,won,2",
		"6,invalid,invalid",
	}, lines)

	out = mustRun(t, append([]string{"query", "--layer", "1", "--state", "1", "--json"}, common...)...)
	var res struct {
		Stored string `json:"stored"`
		Choice struct {
			Move    uint32
			HasMove bool
		} `json:"choice"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "lost/3", res.Stored)
	require.True(t, res.Choice.HasMove)
	require.Equal(t, uint32(1), res.Choice.Move)

	out = mustRun(t, append([]string{"query", "--layer", "0", "--state", "0"}, common...)...)
	require.Contains(t, out, "no moves")

	out = mustRun(t, "stats", "--data-dir", dir, "--log-level", "error")
	require.Contains(t, out, "complete true")
	require.Contains(t, out, "MAX WON")
}

func TestExportToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tb")
	mustRun(t, "build", "--data-dir", dir, "--game", acyclic, "--threads", "1", "--compressed", "--log-level", "error")

	path := filepath.Join(t.TempDir(), "layer1.csv")
	mustRun(t, "export", "--data-dir", dir, "--layer", "1", "-o", path, "--log-level", "error")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 9)

	_, err = run(t, "export", "--data-dir", dir, "--layer", "5", "--log-level", "error")
	require.Error(t, err)

	out := mustRun(t, "stats", "--data-dir", dir, "--log-level", "error")
	require.Contains(t, out, "encoding zstd")
}

func TestRm(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tb")
	mustRun(t, "build", "--data-dir", dir, "--game", acyclic, "--threads", "1", "--log-level", "error")

	_, err := run(t, "rm", "--data-dir", dir, "--log-level", "error")
	require.Error(t, err)

	mustRun(t, "rm", "--data-dir", dir, "--force", "--log-level", "error")
	_, err = run(t, "stats", "--data-dir", dir, "--log-level", "error")
	require.Error(t, err)
}

func TestBuildNeedsGame(t *testing.T) {
	_, err := run(t, "build", "--data-dir", t.TempDir(), "--log-level", "error")
	require.ErrorContains(t, err, "no game file")
}

func TestBadConfig(t *testing.T) {
	_, err := run(t, "stats", "--max-resident", "lots")
	require.Error(t, err)
}
