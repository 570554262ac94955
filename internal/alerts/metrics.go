package alerts

import "github.com/prometheus/client_golang/prometheus"

var (
	alertsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankguard",
		Subsystem: "alerts",
		Name:      "created_total",
		Help:      "Total alerts created by rule type.",
	}, []string{"type"})

	alertsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bankguard",
		Subsystem: "alerts",
		Name:      "duplicate_creates_total",
		Help:      "Create calls that found an alert already present for the transaction.",
	})

	alertStatusChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bankguard",
		Subsystem: "alerts",
		Name:      "status_changes_total",
		Help:      "Total status updates by target status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		alertsCreated,
		alertsDuplicate,
		alertStatusChanges,
	)
}
