package telemetry

import "github.com/prometheus/client_golang/prometheus"

var TasksLeasedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "tasks",
		Name:      "leased_total",
		Help:      "Total number of tasks leased by LeaseNextTask.",
	},
)

var TasksCompletedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "tasks",
		Name:      "completed_total",
		Help:      "Total number of tasks completed, labeled by processing_status.",
	},
	[]string{"processing_status"},
)

var TasksErroredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "tasks",
		Name:      "errored_total",
		Help:      "Total number of tasks that reached the terminal ERROR state.",
	},
)

var TasksReturnedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "tasks",
		Name:      "returned_total",
		Help:      "Total number of tasks returned to the queue, labeled by reason.",
	},
	[]string{"reason"},
)

var ProxiesBlockedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "proxies",
		Name:      "blocked_total",
		Help:      "Total number of proxies moved to BLOCKED, labeled by reason.",
	},
	[]string{"reason"},
)

var StuckTasksRecoveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "tasks",
		Name:      "stuck_recovered_total",
		Help:      "Total number of stuck IN_PROGRESS tasks recovered at startup, labeled by outcome.",
	},
	[]string{"outcome"},
)

var ValidationResultsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "validation",
		Name:      "results_total",
		Help:      "Total number of validation results recorded, labeled by stage and outcome.",
	},
	[]string{"stage", "passed"},
)

var CatalogProxyRotationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "catalog",
		Name:      "proxy_rotations_total",
		Help:      "Total number of proxy rotations triggered by PROXY_BLOCKED page-requests.",
	},
)

var HeartbeatsSentTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "worker",
		Name:      "heartbeats_sent_total",
		Help:      "Total number of heartbeats sent by all workers in this process.",
	},
)

var DetailCardsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "avitosentry",
		Subsystem: "detail",
		Name:      "cards_processed_total",
		Help:      "Total number of detail-page enrichment attempts, labeled by outcome.",
	},
	[]string{"outcome"},
)

// All returns every avitosentry metric for registration with a Prometheus
// registry.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		TasksLeasedTotal,
		TasksCompletedTotal,
		TasksErroredTotal,
		TasksReturnedTotal,
		ProxiesBlockedTotal,
		StuckTasksRecoveredTotal,
		ValidationResultsTotal,
		CatalogProxyRotationsTotal,
		HeartbeatsSentTotal,
		DetailCardsProcessedTotal,
	}
}

// NewMetricsRegistry creates a fresh Prometheus registry and registers the
// given collectors.
func NewMetricsRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
