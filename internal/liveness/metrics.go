package liveness

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики сверки живости
// ============================================================

// probeDuration - длительность probe по типу и результату
var probeDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "botdash",
		Subsystem: "liveness",
		Name:      "probe_duration_seconds",
		Help:      "Duration of liveness probes",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5},
	},
	[]string{"probe", "result"},
)

// statusTransitions - смены LiveStatus
var statusTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "liveness",
		Name:      "status_transitions_total",
		Help:      "Total number of LiveStatus transitions",
	},
	[]string{"from", "to"},
)

// inconsistentRoutes - гонки доменов с несколькими свежими кандидатами
var inconsistentRoutes = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "liveness",
		Name:      "inconsistent_routes_total",
		Help:      "Exchange races where more than one candidate reported a fresh heartbeat",
	},
)

// overrideSuppressions - poll-результаты, отброшенные ручным stop
var overrideSuppressions = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "liveness",
		Name:      "override_suppressions_total",
		Help:      "Fresh heartbeats ignored because a manual stop is pending confirmation",
	},
)

// activeEngines - число живых движков в реестре
var activeEngines = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "botdash",
		Subsystem: "liveness",
		Name:      "active_engines",
		Help:      "Number of mounted reconciliation engines",
	},
)

// actionsTotal - ручные действия над ботами
var actionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "liveness",
		Name:      "actions_total",
		Help:      "Remote bot actions by result (ok, noop, error, unauthorized)",
	},
	[]string{"action", "result"},
)

// pushEvents - принятые push-события по типу
var pushEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "botdash",
		Subsystem: "liveness",
		Name:      "push_events_total",
		Help:      "Push events handled by reconciliation engines",
	},
	[]string{"type"},
)

func observeProbe(probe string, start time.Time, err error) {
	probeDuration.WithLabelValues(probe, errorLabel(err)).Observe(time.Since(start).Seconds())
}
