package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// knotReads counts knot reads by path ("memory" or "file")
	knotReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebase_store_reads_total",
		Help: "Knot reads by read path",
	}, []string{"path"})

	knotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebase_store_writes_total",
		Help: "Knot writes",
	})

	layerLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebase_store_layer_loads_total",
		Help: "Layer materializations by source (file or fresh)",
	}, []string{"source"})

	layerEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebase_store_layer_evictions_total",
		Help: "Complete layers dropped to stay within the resident budget",
	})

	residentBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tablebase_store_resident_bytes",
		Help: "Bytes held by resident layers",
	})
)
