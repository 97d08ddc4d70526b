package alphabeta

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nodesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebase_alphabeta_nodes_total",
		Help: "Search nodes expanded by the alpha-beta solver.",
	})

	cutoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebase_alphabeta_cutoffs_total",
		Help: "Siblings pruned by alpha-beta cutoffs.",
	})

	dbHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablebase_alphabeta_db_hits_total",
		Help: "Search nodes answered from the database.",
	})
)
