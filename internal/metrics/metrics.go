// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operations counts coordinator calls by operation and outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stockcore",
		Name:      "allocation_operations_total",
		Help:      "Allocation engine operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	// CommitSkips counts line items skipped during best-effort commits.
	CommitSkips = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockcore",
		Name:      "commit_skipped_items_total",
		Help:      "Line items skipped during best-effort commitment.",
	})

	// TxConflicts counts transactions aborted by a concurrent writer.
	TxConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stockcore",
		Name:      "transaction_conflicts_total",
		Help:      "Transactions aborted due to concurrent write conflicts.",
	})
)

const (
	OutcomeOK       = "ok"
	OutcomeShortage = "shortage"
	OutcomeError    = "error"
)
