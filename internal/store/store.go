package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/tablebase/internal/game"
)

var (
	// ErrOutOfRange is returned for an address outside the database.
	ErrOutOfRange = errors.New("state address out of range")
	// ErrLayerComplete is returned for a write to a complete layer.
	ErrLayerComplete = errors.New("write to complete layer")
	// ErrLayoutMismatch is returned when the files were built for other layers.
	ErrLayoutMismatch = errors.New("layout does not match database")
	// ErrUnresolved is returned by VerifyLayer for a knot never calculated.
	ErrUnresolved = errors.New("unresolved knot")
	// ErrClosed is returned for any use of a closed store.
	ErrClosed = errors.New("store closed")
)

// Config configures the Store
type Config struct {
	Dir              string
	PreferCompressed bool
	// FullLayerCacheOnRead materializes whole layers instead of reading
	// single knots from the files.
	FullLayerCacheOnRead bool
	// MaxResidentBytes bounds resident layers. 0 means half of physical
	// memory, negative means unlimited.
	MaxResidentBytes int64
	// PanicOnInconsistency turns consistency errors into panics.
	PanicOnInconsistency bool
	Logger               zerolog.Logger
}

type layerData struct {
	values *ValueCells
	plies  *PlyCells
}

func (d *layerData) bytes() int64 { return d.values.Bytes() + d.plies.Bytes() }

type layer struct {
	data       atomic.Pointer[layerData]
	complete   atomic.Bool
	persisted  atomic.Bool
	statsDirty atomic.Bool
}

// Store is the layered knot database.
//
// Header fields are only mutated while holding both mu and fileMu, so holding
// either one is enough to read them.
type Store struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex // layer materialization, completion and header
	fileMu   sync.Mutex // encoding access
	enc      FileEncoding
	header   *Header
	layers   []layer
	resident *residentSet
	closed   bool

	complete  atomic.Bool
	fullCache atomic.Bool

	stats *StatsCollector
}

// Open opens the database in cfg.Dir. layout is used to create missing
// files and to check existing ones; it may be nil for read-only use of an
// existing database.
func Open(cfg Config, layout game.Layout) (*Store, error) {
	if cfg.MaxResidentBytes == 0 {
		cfg.MaxResidentBytes = defaultResidentBudget()
	} else if cfg.MaxResidentBytes < 0 {
		cfg.MaxResidentBytes = 0
	}

	enc, h, err := openEncoding(cfg.Dir, cfg.PreferCompressed, layout)
	if err != nil {
		return nil, err
	}
	if layout != nil {
		if err := checkLayout(h, layout); err != nil {
			enc.Close()
			return nil, err
		}
	}

	s := &Store{
		cfg:      cfg,
		log:      cfg.Logger,
		enc:      enc,
		header:   h,
		layers:   make([]layer, len(h.Layers)),
		resident: newResidentSet(cfg.MaxResidentBytes),
		stats:    NewStatsCollector(cfg.Dir),
	}
	s.complete.Store(h.Complete)
	s.fullCache.Store(cfg.FullLayerCacheOnRead)
	for i := range h.Layers {
		s.layers[i].complete.Store(h.Layers[i].Complete)
		s.layers[i].persisted.Store(h.Layers[i].Persisted)
	}

	s.log.Info().
		Str("dir", cfg.Dir).
		Str("encoding", enc.Name()).
		Int("layers", len(h.Layers)).
		Bool("complete", h.Complete).
		Msg("tablebase opened")
	return s, nil
}

func checkLayout(h *Header, layout game.Layout) error {
	if uint32(len(h.Layers)) != layout.NumberOfLayers() {
		return fmt.Errorf("%w: %d layers on disk, game has %d", ErrLayoutMismatch, len(h.Layers), layout.NumberOfLayers())
	}
	for i := range h.Layers {
		if n := layout.NumberOfKnotsInLayer(uint32(i)); n != h.Layers[i].NumKnots {
			return fmt.Errorf("%w: layer %d has %d knots on disk, game has %d", ErrLayoutMismatch, i, h.Layers[i].NumKnots, n)
		}
	}
	return nil
}

// Encoding names the file encoding in use.
func (s *Store) Encoding() string { return s.enc.Name() }

// Dir returns the database directory.
func (s *Store) Dir() string { return s.cfg.Dir }

// Counters returns the session counters.
func (s *Store) Counters() Counters { return s.stats.Counters() }

func (s *Store) NumberOfLayers() uint32 { return uint32(len(s.layers)) }

func (s *Store) NumberOfKnotsInLayer(layer uint32) uint32 {
	if layer >= uint32(len(s.layers)) {
		return 0
	}
	return s.header.Layers[layer].NumKnots
}

func (s *Store) SuccLayers(layer uint32) []uint32 {
	if layer >= uint32(len(s.layers)) {
		return nil
	}
	return s.header.Layers[layer].SuccLayers
}

func (s *Store) PartnerLayers(layer uint32) []uint32 {
	if layer >= uint32(len(s.layers)) {
		return nil
	}
	return s.header.Layers[layer].PartnerLayers
}

func (s *Store) check(addr game.StateAddress) error {
	if addr.Layer >= uint32(len(s.layers)) || addr.State >= s.header.Layers[addr.Layer].NumKnots {
		return fmt.Errorf("%w: %s", ErrOutOfRange, addr)
	}
	return nil
}

func (s *Store) checkLayer(layer uint32) error {
	if layer >= uint32(len(s.layers)) {
		return fmt.Errorf("%w: layer %d", ErrOutOfRange, layer)
	}
	return nil
}

// inconsistency logs a consistency error and panics in debug configurations.
func (s *Store) inconsistency(err error) error {
	s.log.Error().Err(err).Msg("tablebase inconsistency")
	if s.cfg.PanicOnInconsistency {
		panic(err)
	}
	return err
}

// SetFullLayerCacheOnRead switches between single-knot file reads and full
// layer materialization for complete layers.
func (s *Store) SetFullLayerCacheOnRead(on bool) {
	s.fullCache.Store(on)
}

// directRead reports whether addr's layer is served straight from the file.
func (s *Store) directRead(l *layer) bool {
	return l.data.Load() == nil &&
		(s.complete.Load() || l.complete.Load()) &&
		l.persisted.Load() &&
		!s.fullCache.Load()
}

// residentData returns the in-memory data of a layer, materializing it.
func (s *Store) residentData(layer uint32) (*layerData, error) {
	if d := s.layers[layer].data.Load(); d != nil {
		return d, nil
	}
	return s.materialize(layer)
}

func (s *Store) materialize(layer uint32) (*layerData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	l := &s.layers[layer]
	if d := l.data.Load(); d != nil {
		return d, nil
	}
	lh := &s.header.Layers[layer]
	d := &layerData{
		values: NewValueCells(lh.NumKnots, game.ValueInvalid),
		plies:  NewPlyCells(lh.NumKnots, game.PlyUncalculated),
	}
	s.evictFor(d.bytes(), layer)

	if lh.Persisted {
		s.fileMu.Lock()
		err := s.enc.ReadLayer(lh, d.values, d.plies)
		s.fileMu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("read layer %d: %w", layer, err)
		}
	}
	s.stats.IncrementLayerLoads(lh.Persisted)
	l.data.Store(d)
	s.resident.add(layer, d.bytes())
	s.log.Debug().Uint32("layer", layer).Bool("from_file", lh.Persisted).Int64("resident_bytes", s.resident.bytes).Msg("layer materialized")
	return d, nil
}

// evictFor drops complete, persisted layers oldest-first until need more
// bytes fit the budget. Called with mu held.
func (s *Store) evictFor(need int64, keep uint32) {
	victims := s.resident.victims(need, func(l uint32) bool {
		return l != keep && s.layers[l].complete.Load() && s.layers[l].persisted.Load()
	})
	for _, v := range victims {
		s.layers[v].data.Store(nil)
		s.resident.remove(v)
		s.stats.IncrementEvictions()
		s.log.Debug().Uint32("layer", v).Msg("layer evicted")
	}
}

// ReadKnot returns the value and ply info of one state. The pair is read
// without a lock, ply first: a resolved ply is only stored after its value
// (see WriteKnot), so a knot whose ply is not PlyUncalculated carries its
// final value.
func (s *Store) ReadKnot(addr game.StateAddress) (game.Knot, error) {
	if err := s.check(addr); err != nil {
		return game.Knot{}, err
	}
	l := &s.layers[addr.Layer]
	if s.directRead(l) {
		s.fileMu.Lock()
		defer s.fileMu.Unlock()
		lh := &s.header.Layers[addr.Layer]
		v, err := s.enc.ReadValue(lh, addr.State)
		if err != nil {
			return game.Knot{}, fmt.Errorf("read value %s: %w", addr, err)
		}
		p, err := s.enc.ReadPly(lh, addr.State)
		if err != nil {
			return game.Knot{}, fmt.Errorf("read ply %s: %w", addr, err)
		}
		s.stats.IncrementReads(true)
		return game.Knot{Value: v, Ply: p}, nil
	}
	d, err := s.residentData(addr.Layer)
	if err != nil {
		return game.Knot{}, err
	}
	s.stats.IncrementReads(false)
	p := d.plies.Load(addr.State)
	return game.Knot{Value: d.values.Load(addr.State), Ply: p}, nil
}

func (s *Store) ReadValue(addr game.StateAddress) (game.Value, error) {
	if err := s.check(addr); err != nil {
		return game.ValueInvalid, err
	}
	l := &s.layers[addr.Layer]
	if s.directRead(l) {
		s.fileMu.Lock()
		defer s.fileMu.Unlock()
		v, err := s.enc.ReadValue(&s.header.Layers[addr.Layer], addr.State)
		if err != nil {
			return game.ValueInvalid, fmt.Errorf("read value %s: %w", addr, err)
		}
		s.stats.IncrementReads(true)
		return v, nil
	}
	d, err := s.residentData(addr.Layer)
	if err != nil {
		return game.ValueInvalid, err
	}
	s.stats.IncrementReads(false)
	return d.values.Load(addr.State), nil
}

func (s *Store) ReadPly(addr game.StateAddress) (game.PlyInfo, error) {
	if err := s.check(addr); err != nil {
		return game.PlyUncalculated, err
	}
	l := &s.layers[addr.Layer]
	if s.directRead(l) {
		s.fileMu.Lock()
		defer s.fileMu.Unlock()
		p, err := s.enc.ReadPly(&s.header.Layers[addr.Layer], addr.State)
		if err != nil {
			return game.PlyUncalculated, fmt.Errorf("read ply %s: %w", addr, err)
		}
		s.stats.IncrementReads(true)
		return p, nil
	}
	d, err := s.residentData(addr.Layer)
	if err != nil {
		return game.PlyUncalculated, err
	}
	s.stats.IncrementReads(false)
	return d.plies.Load(addr.State), nil
}

func (s *Store) writable(addr game.StateAddress) (*layerData, error) {
	if err := s.check(addr); err != nil {
		return nil, err
	}
	l := &s.layers[addr.Layer]
	if l.complete.Load() {
		return nil, s.inconsistency(fmt.Errorf("%w: %s", ErrLayerComplete, addr))
	}
	d, err := s.residentData(addr.Layer)
	if err != nil {
		return nil, err
	}
	l.statsDirty.Store(true)
	s.stats.IncrementWrites()
	return d, nil
}

// WriteKnot stores the value and ply info of one state, the value first.
// Callers resolving a pending state concurrently with readers must keep this
// order when they use WriteValue or CompareAndSwapValue and WritePly
// separately.
func (s *Store) WriteKnot(addr game.StateAddress, k game.Knot) error {
	d, err := s.writable(addr)
	if err != nil {
		return err
	}
	d.values.Store(addr.State, k.Value)
	d.plies.Store(addr.State, k.Ply)
	return nil
}

func (s *Store) WriteValue(addr game.StateAddress, v game.Value) error {
	d, err := s.writable(addr)
	if err != nil {
		return err
	}
	d.values.Store(addr.State, v)
	return nil
}

func (s *Store) WritePly(addr game.StateAddress, p game.PlyInfo) error {
	d, err := s.writable(addr)
	if err != nil {
		return err
	}
	d.plies.Store(addr.State, p)
	return nil
}

// CompareAndSwapValue sets the value of addr to next if it currently is old.
func (s *Store) CompareAndSwapValue(addr game.StateAddress, old, next game.Value) (bool, error) {
	d, err := s.writable(addr)
	if err != nil {
		return false, err
	}
	return d.values.CompareAndSwap(addr.State, old, next), nil
}

// LoadLayer makes a layer resident.
func (s *Store) LoadLayer(layer uint32) error {
	if err := s.checkLayer(layer); err != nil {
		return err
	}
	_, err := s.residentData(layer)
	return err
}

// IsLayerComplete reports whether a layer is frozen.
func (s *Store) IsLayerComplete(layer uint32) bool {
	if layer >= uint32(len(s.layers)) {
		return false
	}
	return s.layers[layer].complete.Load()
}

// Complete reports whether the whole database is complete.
func (s *Store) Complete() bool {
	return s.complete.Load()
}

// SaveLayer writes a resident layer to the files.
func (s *Store) SaveLayer(layer uint32) error {
	if err := s.checkLayer(layer); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLayerLocked(layer)
}

func (s *Store) saveLayerLocked(layer uint32) error {
	if s.closed {
		return ErrClosed
	}
	l := &s.layers[layer]
	if l.complete.Load() && l.persisted.Load() {
		return nil
	}
	d := l.data.Load()
	if d == nil {
		if l.persisted.Load() {
			return nil
		}
		// never touched: persist the fresh fill
		n := s.header.Layers[layer].NumKnots
		d = &layerData{
			values: NewValueCells(n, game.ValueInvalid),
			plies:  NewPlyCells(n, game.PlyUncalculated),
		}
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	lh := &s.header.Layers[layer]
	if err := s.enc.WriteLayer(lh, d.values, d.plies); err != nil {
		return fmt.Errorf("save layer %d: %w", layer, err)
	}
	l.persisted.Store(true)
	if err := s.saveHeaderLocked(); err != nil {
		return err
	}
	s.log.Debug().Uint32("layer", layer).Str("encoding", s.enc.Name()).Msg("layer saved")
	return nil
}

// SetLayerComplete saves a layer, freezes it and flushes the header.
func (s *Store) SetLayerComplete(layer uint32) error {
	if err := s.checkLayer(layer); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &s.layers[layer]
	if l.complete.Load() {
		return nil
	}
	if err := s.saveLayerLocked(layer); err != nil {
		return err
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	s.header.Layers[layer].Complete = true
	l.complete.Store(true)
	if err := s.saveHeaderLocked(); err != nil {
		return err
	}
	s.log.Info().Uint32("layer", layer).Msg("layer complete")
	return nil
}

// MarkComplete sets the database-wide completion flag.
func (s *Store) MarkComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	s.header.Complete = true
	s.complete.Store(true)
	return s.saveHeaderLocked()
}

// Unload drops every resident layer. Metadata stays.
func (s *Store) Unload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.layers {
		s.layers[i].data.Store(nil)
	}
	s.resident.clear()
	s.log.Debug().Msg("layers unloaded")
}

// SaveHeader flushes the header.
func (s *Store) SaveHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	return s.saveHeaderLocked()
}

// saveHeaderLocked is called with mu and fileMu held.
func (s *Store) saveHeaderLocked() error {
	for i := range s.layers {
		if s.layers[i].statsDirty.Load() {
			s.header.Layers[i].StatsValid = false
		}
	}
	if err := s.enc.SaveHeader(s.header); err != nil {
		return fmt.Errorf("save header: %w", err)
	}
	return nil
}

// snapshot returns the knots of a layer without making it resident.
func (s *Store) snapshot(layer uint32) (*layerData, error) {
	if d := s.layers[layer].data.Load(); d != nil {
		return d, nil
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	lh := &s.header.Layers[layer]
	d := &layerData{
		values: NewValueCells(lh.NumKnots, game.ValueInvalid),
		plies:  NewPlyCells(lh.NumKnots, game.PlyUncalculated),
	}
	if lh.Persisted {
		if err := s.enc.ReadLayer(lh, d.values, d.plies); err != nil {
			return nil, fmt.Errorf("read layer %d: %w", layer, err)
		}
	}
	return d, nil
}

// LayerStats returns the counts of a layer, scanning it if the cached counts
// are stale.
func (s *Store) LayerStats(layer uint32) (LayerStats, error) {
	if err := s.checkLayer(layer); err != nil {
		return LayerStats{}, err
	}
	s.mu.Lock()
	lh := s.header.Layers[layer]
	s.mu.Unlock()
	if lh.StatsValid && !s.layers[layer].statsDirty.Load() {
		return lh.Stats, nil
	}
	return s.scanStats(layer)
}

func (s *Store) scanStats(layer uint32) (LayerStats, error) {
	s.layers[layer].statsDirty.Store(false)
	d, err := s.snapshot(layer)
	if err != nil {
		return LayerStats{}, err
	}
	st := computeLayerStats(d.values, d.plies)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	lh := &s.header.Layers[layer]
	lh.Stats = st
	lh.StatsValid = !s.layers[layer].statsDirty.Load()
	return st, nil
}

// UpdateLayerStats rescans the given layers in parallel and persists the
// counts. No layers means all of them.
func (s *Store) UpdateLayerStats(ctx context.Context, layers ...uint32) error {
	if len(layers) == 0 {
		layers = make([]uint32, len(s.layers))
		for i := range layers {
			layers[i] = uint32(i)
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, l := range layers {
		if err := s.checkLayer(l); err != nil {
			return err
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			_, err := s.scanStats(l)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.SaveHeader()
}

// ShowLayerStats logs the counts of a layer.
func (s *Store) ShowLayerStats(layer uint32) error {
	st, err := s.LayerStats(layer)
	if err != nil {
		return err
	}
	s.log.Info().
		Uint32("layer", layer).
		Uint32("knots", s.NumberOfKnotsInLayer(layer)).
		Bool("complete", s.IsLayerComplete(layer)).
		Uint32("won", st.Won).
		Uint32("lost", st.Lost).
		Uint32("drawn", st.Drawn).
		Uint32("invalid", st.Invalid).
		Uint16("max_ply_won", uint16(st.MaxPlyWon)).
		Uint16("max_ply_lost", uint16(st.MaxPlyLost)).
		Msg("layer stats")
	return nil
}

// VerifyLayer checks every knot of a layer against the value/ply rule.
func (s *Store) VerifyLayer(layer uint32) error {
	if err := s.checkLayer(layer); err != nil {
		return err
	}
	d, err := s.snapshot(layer)
	if err != nil {
		return err
	}
	for st := uint32(0); st < d.values.Len(); st++ {
		k := game.Knot{Value: d.values.Load(st), Ply: d.plies.Load(st)}
		addr := game.StateAddress{Layer: layer, State: st}
		if !k.Calculated() {
			return fmt.Errorf("verify %s: %w", addr, ErrUnresolved)
		}
		if err := game.CheckKnot(k); err != nil {
			return fmt.Errorf("verify %s: %w", addr, err)
		}
	}
	return nil
}

// RemoveFiles deletes the database files. The store is closed afterwards.
func (s *Store) RemoveFiles() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	s.closed = true
	for i := range s.layers {
		s.layers[i].data.Store(nil)
	}
	s.resident.clear()
	err := s.enc.Remove()
	if rmErr := os.Remove(s.stats.metadataPath()); rmErr != nil && !os.IsNotExist(rmErr) {
		err = errors.Join(err, rmErr)
	}
	s.log.Info().Str("dir", s.cfg.Dir).Msg("tablebase files removed")
	return err
}

// Close flushes the header and metadata and closes the files. Resident
// layers that were never saved are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.fileMu.Lock()
	defer s.fileMu.Unlock()
	s.closed = true
	err := s.saveHeaderLocked()
	if metaErr := s.stats.SaveMetadata(s.enc.Name(), s.header); metaErr != nil {
		s.log.Warn().Err(metaErr).Msg("save metadata")
	}
	s.resident.clear()
	return errors.Join(err, s.enc.Close())
}
