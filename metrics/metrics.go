// Package metrics exposes Prometheus counters for the planner and reminder
// pipeline. Everything registers on the default registry and is served by
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlansCreated counts successful plan creations.
	PlansCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifeplan_plans_created_total",
		Help: "Number of plans created.",
	})

	// PlansRecomputed counts successful plan recomputations.
	PlansRecomputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifeplan_plans_recomputed_total",
		Help: "Number of plan recomputations.",
	})

	// RemindersEnqueued counts outbox rows created by the due-soon scanner.
	RemindersEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifeplan_reminders_enqueued_total",
		Help: "Number of due-soon reminders enqueued into the outbox.",
	})

	// ScanErrors counts per-profile scanner failures.
	ScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lifeplan_reminder_scan_errors_total",
		Help: "Number of per-profile reminder scan failures.",
	})

	// DispatchOutcomes counts dispatcher results per outcome
	// (sent, retried, dead, skipped_quiet_hours).
	DispatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifeplan_outbox_dispatch_outcomes_total",
		Help: "Outbox dispatch outcomes by result.",
	}, []string{"outcome"})
)
