package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/freeeve/tablebase/internal/game"
)

const metadataFile = "metadata.json"

// Counters are the session counters of a Store.
type Counters struct {
	Reads      uint64 `json:"reads"`
	FileReads  uint64 `json:"file_reads"`
	Writes     uint64 `json:"writes"`
	LayerLoads uint64 `json:"layer_loads"`
	Evictions  uint64 `json:"evictions"`
}

// LayerSummary is one layer in metadata.json.
type LayerSummary struct {
	Layer    uint32      `json:"layer"`
	Knots    uint32      `json:"knots"`
	Complete bool        `json:"complete"`
	Stats    *LayerStats `json:"stats,omitempty"`
}

// Metadata is the human-readable summary written next to the database.
type Metadata struct {
	Encoding string         `json:"encoding"`
	Complete bool           `json:"complete"`
	Session  Counters       `json:"session"`
	Layers   []LayerSummary `json:"layers"`
}

// StatsCollector collects the store's counters.
type StatsCollector struct {
	reads      atomic.Uint64
	fileReads  atomic.Uint64
	writes     atomic.Uint64
	layerLoads atomic.Uint64
	evictions  atomic.Uint64

	dir string
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector(dir string) *StatsCollector {
	return &StatsCollector{dir: dir}
}

func (s *StatsCollector) IncrementReads(fromFile bool) {
	s.reads.Add(1)
	if fromFile {
		s.fileReads.Add(1)
		knotReads.WithLabelValues("file").Inc()
		return
	}
	knotReads.WithLabelValues("memory").Inc()
}

func (s *StatsCollector) IncrementWrites() {
	s.writes.Add(1)
	knotWrites.Inc()
}

func (s *StatsCollector) IncrementLayerLoads(fromFile bool) {
	s.layerLoads.Add(1)
	if fromFile {
		layerLoads.WithLabelValues("file").Inc()
	} else {
		layerLoads.WithLabelValues("fresh").Inc()
	}
}

func (s *StatsCollector) IncrementEvictions() {
	s.evictions.Add(1)
	layerEvictions.Inc()
}

// Counters returns a snapshot of the counters.
func (s *StatsCollector) Counters() Counters {
	return Counters{
		Reads:      s.reads.Load(),
		FileReads:  s.fileReads.Load(),
		Writes:     s.writes.Load(),
		LayerLoads: s.layerLoads.Load(),
		Evictions:  s.evictions.Load(),
	}
}

func (s *StatsCollector) metadataPath() string {
	return filepath.Join(s.dir, metadataFile)
}

// SaveMetadata writes metadata.json.
func (s *StatsCollector) SaveMetadata(encoding string, h *Header) error {
	meta := Metadata{
		Encoding: encoding,
		Complete: h.Complete,
		Session:  s.Counters(),
		Layers:   make([]LayerSummary, len(h.Layers)),
	}
	for i := range h.Layers {
		l := &h.Layers[i]
		meta.Layers[i] = LayerSummary{Layer: uint32(i), Knots: l.NumKnots, Complete: l.Complete}
		if l.StatsValid {
			st := l.Stats
			meta.Layers[i].Stats = &st
		}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file then rename for atomicity
	tempPath := s.metadataPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.metadataPath())
}

// computeLayerStats scans every knot of a layer.
func computeLayerStats(values *ValueCells, plies *PlyCells) LayerStats {
	var st LayerStats
	for s := uint32(0); s < values.Len(); s++ {
		p := plies.Load(s)
		switch values.Load(s) {
		case game.ValueWon:
			st.Won++
			if p.Finite() && p > st.MaxPlyWon {
				st.MaxPlyWon = p
			}
		case game.ValueLost:
			st.Lost++
			if p.Finite() && p > st.MaxPlyLost {
				st.MaxPlyLost = p
			}
		case game.ValueDrawn:
			st.Drawn++
		default:
			st.Invalid++
		}
	}
	return st
}
