package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeIngested labels events accepted by the correlation engine.
	OutcomeIngested = "ingested"
	// OutcomeRejected labels events failing validation.
	OutcomeRejected = "rejected"
	// OutcomeSuppressed labels events tagged by maintenance or flapping.
	OutcomeSuppressed = "suppressed"
)

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Name:      "events_total",
			Help:      "Normalized events handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	alarmsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "faultline",
			Name:      "alarms_active",
			Help:      "Live alarms in the in-memory state store.",
		},
	)

	groupsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "faultline",
			Name:      "correlation_groups_open",
			Help:      "Correlation groups still accepting members.",
		},
	)

	breachesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Name:      "sla_breaches_total",
			Help:      "SLA breach records created, partitioned by breach type.",
		},
		[]string{"type"},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Name:      "dispatch_total",
			Help:      "Outbound escalation results, partitioned by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	repoRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Name:      "repository_retries_total",
			Help:      "Write-behind repository attempts retried after a failure.",
		},
	)

	ingestSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "faultline",
			Name:      "ingest_seconds",
			Help:      "Per-event correlation latency in seconds.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)
)

// Register attaches faultline collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsTotal,
		alarmsActive,
		groupsOpen,
		breachesTotal,
		dispatchTotal,
		repoRetriesTotal,
		ingestSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEvent records one event outcome and its correlation latency.
func ObserveEvent(outcome string, duration time.Duration) {
	eventsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		ingestSeconds.Observe(duration.Seconds())
	}
}

// AlarmOpened / AlarmClosed maintain the live-alarm gauge.
func AlarmOpened() { alarmsActive.Inc() }

// AlarmClosed decrements the live-alarm gauge.
func AlarmClosed() { alarmsActive.Dec() }

// GroupOpened / GroupClosed maintain the open-group gauge.
func GroupOpened() { groupsOpen.Inc() }

// GroupClosed decrements the open-group gauge.
func GroupClosed() { groupsOpen.Dec() }

// ObserveBreach counts a newly recorded SLA breach.
func ObserveBreach(breachType string) {
	breachesTotal.WithLabelValues(breachType).Inc()
}

// ObserveDispatch counts one outbound request outcome.
func ObserveDispatch(kind, outcome string) {
	dispatchTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRepositoryRetry counts one retried write-behind save.
func ObserveRepositoryRetry() {
	repoRetriesTotal.Inc()
}
