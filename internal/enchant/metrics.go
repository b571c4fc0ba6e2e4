// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package enchant

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for enchant processing. Register them with RegisterMetrics.
var (
	// outcomesCounter counts settled commits by result code.
	outcomesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_enchant_outcomes_total",
		Help: "Enchant commits by result code",
	}, []string{"result"})

	// rejectionsCounter counts commits that never reached settlement, and
	// settlements aborted by an error, by error code.
	rejectionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anvil_enchant_rejections_total",
		Help: "Enchant commits rejected or aborted, by error code",
	}, []string{"code"})

	commitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anvil_enchant_commit_duration_seconds",
		Help:    "Latency of enchant commits",
		Buckets: prometheus.DefBuckets,
	})

	lockWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anvil_enchant_lock_wait_seconds",
		Help:    "Time spent waiting for an item lease",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
	}, []string{"acquired"})
)

// RegisterMetrics registers the enchant metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(outcomesCounter, rejectionsCounter, commitDuration, lockWait)
}

// ObserveLockWait records an item lease wait. Pass it to
// itemlock.WithWaitObserver.
func ObserveLockWait(wait time.Duration, acquired bool) {
	lockWait.WithLabelValues(strconv.FormatBool(acquired)).Observe(wait.Seconds())
}
