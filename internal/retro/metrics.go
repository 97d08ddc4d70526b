package retro

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebase_retro_classified_total",
		Help: "States resolved by retrograde propagation, by value.",
	}, []string{"value"})

	seedChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablebase_retro_seed_chunks_total",
		Help: "Seeded state chunks, by source (evaluated, checkpoint).",
	}, []string{"source"})

	phaseSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tablebase_retro_phase_seconds",
		Help:    "Duration of retrograde analysis phases.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"phase"})
)
