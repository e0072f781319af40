package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailProcessing = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "email_processing_total",
		Help: "Total number of processed emails",
	}, []string{"status", "sender_domain", "recipient_domain"})

	ProcessingTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "email_processing_time_seconds",
		Help:    "Time taken to process emails",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5},
	}, []string{"type"})

	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5},
	}, []string{"path", "method", "status"})

	DatabaseQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "database_queries_total",
		Help: "Total database queries",
	}, []string{"query_type", "success"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "active_connections",
		Help: "Current number of active connections",
	})
	DomainsNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "domains_not_found_total",
		Help: "Total number of domains not found",
	})

	DKIMChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dkim_checks_total",
		Help: "Total number of DKIM verifications attempted",
	})
	DKIMCheckPass = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dkim_check_pass_total",
		Help: "Total number of DKIM verifications that found a valid signature",
	})
	DKIMCheckFail = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dkim_check_fail_total",
		Help: "Total number of DKIM verifications that found no valid signature",
	})
	DKIMCheckDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dkim_check_duration_seconds",
		Help:    "Time taken to verify DKIM signatures",
		Buckets: prometheus.DefBuckets,
	})

	SPFChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spf_checks_total",
		Help: "Total number of SPF checks, by result",
	}, []string{"result"})
	SPFCheckDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spf_check_duration_seconds",
		Help:    "Time taken to evaluate SPF",
		Buckets: prometheus.DefBuckets,
	})

	DMARCChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dmarc_checks_total",
		Help: "Total number of DMARC evaluations, by disposition",
	}, []string{"disposition"})

	RuleEngineHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_engine_hits_total",
		Help: "Total number of rule hits, by rule kind",
	}, []string{"kind"})
	RuleEngineDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rule_engine_duration_seconds",
		Help:    "Time taken to classify one message",
		Buckets: prometheus.DefBuckets,
	})
	RuleEngineErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rule_engine_errors_total",
		Help: "Total number of rules that failed to execute",
	})

	BayesScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bayes_scans_total",
		Help: "Total number of Bayes scans, by neutral/scored outcome",
	}, []string{"outcome"})
	BayesLearnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bayes_learns_total",
		Help: "Total number of Bayes learn/forget operations",
	}, []string{"op"})

	PoolIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "daemon_pool_idle",
		Help: "Current number of idle daemon workers",
	})
	PoolBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "daemon_pool_busy",
		Help: "Current number of busy daemon workers",
	})
	PoolStarting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "daemon_pool_starting",
		Help: "Current number of starting daemon workers",
	})
	PoolOverloaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "daemon_pool_overloaded",
		Help: "1 when the daemon pool is overloaded, 0 otherwise",
	})
	PoolChildrenSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daemon_pool_children_spawned_total",
		Help: "Total number of daemon workers spawned over the pool's lifetime",
	})
	BytesClassified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "daemon_bytes_classified_total",
		Help: "Total bytes of message body classified across all workers",
	})

	AuditWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_writes_total",
		Help: "Total audit record writes, by success/failure",
	}, []string{"result"})
)

func Init() {
	// registration happens via promauto at package init time
}
