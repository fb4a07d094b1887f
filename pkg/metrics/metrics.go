// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "willmusic"
	subsystem = "notewall"

	// Error counters.
	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	// Slot cycle timing on the display.
	slotCycleTime = promauto.NewSummary(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slot_cycle_duration_milliseconds",
			Help:      "Time taken by one display slot cycle (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
	)

	// Borrow negotiation outcomes.
	borrowsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "borrows_served_total",
			Help:      "Total borrow requests answered with a departing note",
		},
	)

	borrowsDeclined = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "borrows_declined_total",
			Help:      "Total borrow requests the wall could not serve",
		},
	)

	borrowTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "borrow_timeouts_total",
			Help:      "Total borrow requests that timed out waiting for a reply",
		},
	)

	// Wall churn.
	evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "wall_evictions_total",
			Help:      "Total notes evicted from the wall to make room",
		},
	)

	notesPlayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notes_played_total",
			Help:      "Total notes shown on the display by source",
		},
		[]string{"source"},
	)

	notesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notes_submitted_total",
			Help:      "Total notes accepted through the submission API",
		},
	)

	pendingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_queue_depth",
			Help:      "Number of notes currently waiting to be shown",
		},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string, log *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server failed: %s", err)
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// ObserveSlotCycleTime records the duration of one display slot cycle.
func ObserveSlotCycleTime(duration time.Duration) {
	slotCycleTime.Observe(float64(duration.Milliseconds()))
}

// IncBorrowsServed counts a borrow request answered with a note.
func IncBorrowsServed() {
	borrowsServed.Inc()
}

// IncBorrowsDeclined counts a borrow request the wall declined.
func IncBorrowsDeclined() {
	borrowsDeclined.Inc()
}

// IncBorrowTimeouts counts a borrow request that got no reply in time.
func IncBorrowTimeouts() {
	borrowTimeouts.Inc()
}

// IncEvictions counts a wall eviction.
func IncEvictions() {
	evictions.Inc()
}

// IncNotesPlayed counts a note shown on the display, labelled by source.
func IncNotesPlayed(source string) {
	notesPlayed.WithLabelValues(source).Inc()
}

// IncNotesSubmitted counts an accepted submission.
func IncNotesSubmitted() {
	notesSubmitted.Inc()
}

// SetPendingQueueDepth updates the pending queue depth gauge.
func SetPendingQueueDepth(depth int) {
	pendingQueueDepth.Set(float64(depth))
}
