package detection

import "github.com/prometheus/client_golang/prometheus"

var (
	scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankguard",
		Subsystem: "detection",
		Name:      "scans_total",
		Help:      "Total scans by terminal state.",
	}, []string{"state"}) // "DONE", "FAILED"

	scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bankguard",
		Subsystem: "detection",
		Name:      "scan_duration_seconds",
		Help:      "Wall time of a scan from collection to aggregation.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})

	tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankguard",
		Subsystem: "detection",
		Name:      "tasks_total",
		Help:      "Evaluation tasks by outcome.",
	}, []string{"outcome"}) // "clean", "flagged", "failed", "undispatched"

	findingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankguard",
		Subsystem: "detection",
		Name:      "findings_total",
		Help:      "Rule findings by kind, before dedup.",
	}, []string{"kind"})

	poolBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bankguard",
		Subsystem: "detection",
		Name:      "pool_busy_slots",
		Help:      "Worker pool slots currently running a task.",
	})

	consumerMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankguard",
		Subsystem: "detection",
		Name:      "consumer_messages_total",
		Help:      "Kafka intake messages by result.",
	}, []string{"result"}) // "submitted", "invalid", "error"
)

func init() {
	prometheus.MustRegister(
		scansTotal,
		scanDuration,
		tasksTotal,
		findingsTotal,
		poolBusy,
		consumerMessages,
	)
}
