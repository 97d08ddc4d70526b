package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/tablebase/internal/builder"
	"github.com/freeeve/tablebase/internal/graph"
	"github.com/freeeve/tablebase/internal/parallel"
	"github.com/freeeve/tablebase/internal/store"
)

// newServer builds the acyclic fixture and serves it.
func newServer(t *testing.T, withQueries bool) *httptest.Server {
	t.Helper()
	g, err := graph.Load(filepath.Join("..", "..", "testdata", "acyclic.yaml"), 2)
	require.NoError(t, err)
	db, err := store.Open(store.Config{Dir: t.TempDir(), MaxResidentBytes: -1, Logger: zerolog.Nop()}, g)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool := parallel.New(2, zerolog.Nop())
	t.Cleanup(pool.Close)
	b := builder.New(builder.Config{Game: g, Store: db, Pool: pool, FrontierDir: t.TempDir(), Logger: zerolog.Nop()})
	_, err = b.Build(context.Background())
	require.NoError(t, err)

	var q Querier
	if withQueries {
		q = b.AlphaBeta()
	}
	srv := httptest.NewServer(NewRouter(zerolog.Nop(), db, q))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv := newServer(t, false)
	resp := get(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Header.Get("X-Request-ID"), 8)
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestIDIsKept(t *testing.T) {
	srv := newServer(t, false)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abcd1234")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "abcd1234", resp.Header.Get("X-Request-ID"))

	req.Header.Set("X-Request-ID", "too-long-to-keep")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NotEqual(t, "too-long-to-keep", resp2.Header.Get("X-Request-ID"))
	require.Len(t, resp2.Header.Get("X-Request-ID"), 8)
}

func TestLayers(t *testing.T) {
	srv := newServer(t, false)
	var resp LayersResponse
	decode(t, get(t, srv, "/v1/layers"), &resp)

	require.True(t, resp.Complete)
	require.Equal(t, "plain", resp.Encoding)
	require.Len(t, resp.Layers, 2)
	require.Equal(t, uint32(7), resp.Layers[0].Knots)
	require.Equal(t, uint32(8), resp.Layers[1].Knots)
	require.True(t, resp.Layers[1].Complete)
	require.NotNil(t, resp.Layers[0].Stats)
}

func TestLayer(t *testing.T) {
	srv := newServer(t, false)
	var s store.LayerSummary
	decode(t, get(t, srv, "/v1/layers/0"), &s)
	require.Equal(t, uint32(0), s.Layer)
	require.NotNil(t, s.Stats)
	require.Equal(t, uint32(3), s.Stats.Won)
	require.Equal(t, uint32(2), s.Stats.Lost)
	require.Equal(t, uint32(1), s.Stats.Drawn)
	require.Equal(t, uint32(1), s.Stats.Invalid)

	require.Equal(t, http.StatusNotFound, get(t, srv, "/v1/layers/9").StatusCode)
	require.Equal(t, http.StatusBadRequest, get(t, srv, "/v1/layers/x").StatusCode)
	require.Equal(t, http.StatusBadRequest, get(t, srv, "/v1/layers/").StatusCode)
}

func TestKnot(t *testing.T) {
	srv := newServer(t, false)
	var k KnotResponse
	decode(t, get(t, srv, "/v1/knot?layer=0&state=3"), &k)
	require.Equal(t, KnotResponse{Layer: 0, State: 3, Value: "lost", Ply: 1, PlyText: "1"}, k)

	decode(t, get(t, srv, "/v1/knot?layer=1&state=5"), &k)
	require.Equal(t, "drawn", k.Value)

	require.Equal(t, http.StatusBadRequest, get(t, srv, "/v1/knot?layer=0").StatusCode)
	require.Equal(t, http.StatusBadRequest, get(t, srv, "/v1/knot?layer=0&state=-1").StatusCode)
	require.Equal(t, http.StatusNotFound, get(t, srv, "/v1/knot?layer=0&state=99").StatusCode)
}

func TestBest(t *testing.T) {
	srv := newServer(t, true)
	var c ChoiceResponse
	decode(t, get(t, srv, "/v1/best?layer=1&state=1"), &c)
	require.Equal(t, "lost", c.Value)
	require.Equal(t, "3", c.PlyText)
	require.NotNil(t, c.Move)
	require.Equal(t, uint32(1), *c.Move)
	require.Len(t, c.Children, 2)
	require.Equal(t, "won", c.Children[0].Value)
	require.Equal(t, "1", c.Children[0].Ply)
	require.Equal(t, map[string]int{"lost": 2}, c.Histogram)

	resp := get(t, srv, "/v1/best?layer=0&state=0")
	var terminal ChoiceResponse
	decode(t, resp, &terminal)
	require.Nil(t, terminal.Move)
	require.Empty(t, terminal.Children)

	require.Equal(t, http.StatusUnprocessableEntity, get(t, srv, "/v1/best?layer=0&state=6").StatusCode)
	require.Equal(t, http.StatusNotFound, get(t, srv, "/v1/best?layer=2&state=0").StatusCode)
}

func TestBestWithoutQuerier(t *testing.T) {
	srv := newServer(t, false)
	require.Equal(t, http.StatusNotImplemented, get(t, srv, "/v1/best?layer=1&state=1").StatusCode)
}

func TestMethods(t *testing.T) {
	srv := newServer(t, false)

	resp, err := http.Post(srv.URL+"/v1/layers", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v1/knot", nil)
	require.NoError(t, err)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNoContent, resp2.StatusCode)
	require.Contains(t, resp2.Header.Get("Access-Control-Allow-Methods"), "GET")
}

func TestMetrics(t *testing.T) {
	srv := newServer(t, false)
	get(t, srv, "/v1/knot?layer=0&state=0")
	resp := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "tablebase_store_writes_total")
}
