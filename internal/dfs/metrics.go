package dfs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dfs_transactions_total",
			Help: "Ledger mutations by operation and terminal state",
		},
		[]string{"op", "state"},
	)

	confirmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dfs_transaction_confirm_seconds",
			Help:    "Time from submission to receipt",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 15, 30, 60, 120, 300},
		},
		[]string{"op"},
	)

	staleResponsesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dfs_stale_wallet_responses_total",
			Help: "Wallet responses discarded because their caller had already given up",
		},
	)
)
