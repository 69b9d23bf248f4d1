// Package metrics registers the harness's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts completed operations by outcome (ok/fail/info).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replicheck_operations_total",
		Help: "Completed operations by outcome",
	}, []string{"outcome"})

	// InvokeDuration observes client invocation latency.
	InvokeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "replicheck_invoke_duration_seconds",
		Help:    "Client invocation latency",
		Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
	})

	// HistorySize tracks the number of operations recorded so far.
	HistorySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replicheck_history_size",
		Help: "Operations recorded in the current history",
	})

	// NemesisEventsTotal counts executed nemesis events by fault and action.
	NemesisEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replicheck_nemesis_events_total",
		Help: "Executed nemesis events by fault and action",
	}, []string{"fault", "action"})

	// NemesisFailuresTotal counts nemesis events that exhausted their retry
	// budget. These never abort the workload.
	NemesisFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replicheck_nemesis_failures_total",
		Help: "Nemesis events that failed after retries",
	})
)
