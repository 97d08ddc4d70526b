package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/freeeve/tablebase/internal/alphabeta"
	"github.com/freeeve/tablebase/internal/game"
	"github.com/freeeve/tablebase/internal/parallel"
	"github.com/freeeve/tablebase/internal/store"
)

// Database is the read side of the store served over HTTP.
type Database interface {
	Encoding() string
	Complete() bool
	Counters() store.Counters
	NumberOfLayers() uint32
	NumberOfKnotsInLayer(layer uint32) uint32
	IsLayerComplete(layer uint32) bool
	LayerStats(layer uint32) (store.LayerStats, error)
	ReadKnot(addr game.StateAddress) (game.Knot, error)
}

// Querier answers best-move queries.
type Querier interface {
	GetBestChoice(ctx context.Context, addr game.StateAddress) (alphabeta.Choice, error)
}

// Handler serves a tablebase.
type Handler struct {
	db  Database
	q   Querier
	log zerolog.Logger
}

// NewRouter creates the HTTP router. q is optional; without it /v1/best
// answers 501.
func NewRouter(log zerolog.Logger, db Database, q Querier) http.Handler {
	h := &Handler{db: db, q: q, log: log}

	mux := http.NewServeMux()
	mux.Handle("/healthz", http.HandlerFunc(h.health))
	mux.Handle("/readyz", http.HandlerFunc(h.health))
	mux.Handle("/v1/layers", http.HandlerFunc(h.layers))
	mux.Handle("/v1/layers/", http.HandlerFunc(h.layer))
	mux.Handle("/v1/knot", http.HandlerFunc(h.knot))
	mux.Handle("/v1/best", http.HandlerFunc(h.best))
	mux.Handle("/metrics", promhttp.Handler())

	// pprof endpoints
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return CORS(RequestID(AccessLog(log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) summary(layer uint32) (store.LayerSummary, error) {
	s := store.LayerSummary{
		Layer:    layer,
		Knots:    h.db.NumberOfKnotsInLayer(layer),
		Complete: h.db.IsLayerComplete(layer),
	}
	// stats of a layer under construction would force it into memory
	if s.Complete {
		st, err := h.db.LayerStats(layer)
		if err != nil {
			return s, err
		}
		s.Stats = &st
	}
	return s, nil
}

func (h *Handler) layers(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	resp := LayersResponse{
		Encoding: h.db.Encoding(),
		Complete: h.db.Complete(),
		Session:  h.db.Counters(),
		Layers:   make([]store.LayerSummary, 0, h.db.NumberOfLayers()),
	}
	for l := range h.db.NumberOfLayers() {
		s, err := h.summary(l)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		resp.Layers = append(resp.Layers, s)
	}
	writeJSON(w, resp)
}

func (h *Handler) layer(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	parts := splitPath(r.URL.Path)
	if len(parts) != 3 {
		http.Error(w, "missing layer number", http.StatusBadRequest)
		return
	}
	n, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		http.Error(w, "invalid layer number: "+parts[2], http.StatusBadRequest)
		return
	}
	if uint32(n) >= h.db.NumberOfLayers() {
		h.fail(w, r, fmt.Errorf("%w: layer %d", store.ErrOutOfRange, n))
		return
	}
	s, err := h.summary(uint32(n))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, s)
}

func (h *Handler) knot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	addr, err := parseAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	k, err := h.db.ReadKnot(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, toKnotResponse(addr, k))
}

func (h *Handler) best(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if h.q == nil {
		http.Error(w, "queries disabled", http.StatusNotImplemented)
		return
	}
	addr, err := parseAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if addr.Layer >= h.db.NumberOfLayers() || addr.State >= h.db.NumberOfKnotsInLayer(addr.Layer) {
		h.fail(w, r, fmt.Errorf("%w: %s", store.ErrOutOfRange, addr))
		return
	}
	c, err := h.q.GetBestChoice(r.Context(), addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, toChoiceResponse(addr, c))
}

// fail maps solver and store errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrOutOfRange):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, alphabeta.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case parallel.StatusOf(err) == parallel.StatusCancelled:
		http.Error(w, "query cancelled", http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

// parseAddress reads the layer and state query parameters.
func parseAddress(r *http.Request) (game.StateAddress, error) {
	q := r.URL.Query()
	var addr game.StateAddress
	for _, p := range []struct {
		name string
		dst  *uint32
	}{{"layer", &addr.Layer}, {"state", &addr.State}} {
		s := q.Get(p.name)
		if s == "" {
			return addr, fmt.Errorf("missing %s parameter", p.name)
		}
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return addr, fmt.Errorf("invalid %s parameter: %q", p.name, s)
		}
		*p.dst = uint32(n)
	}
	return addr, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
	// Don't call http.Error after setting headers - it causes "superfluous WriteHeader"
}

// splitPath splits a URL path into parts
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
