package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Row-store call latency per operation and outcome.
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letterdesk_remote_call_duration_seconds",
			Help:    "Row store call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"operation", "outcome"},
	)

	RateLimitRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterdesk_rate_limit_retries_total",
			Help: "Retries issued after a rate-limit response",
		},
		[]string{"operation"},
	)

	RateLimitExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterdesk_rate_limit_exhausted_total",
			Help: "Calls that gave up after the retry budget",
		},
		[]string{"operation"},
	)

	SnapshotCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterdesk_snapshot_cache_total",
			Help: "Snapshot cache lookups by table and result",
		},
		[]string{"table", "result"}, // result: hit, miss
	)

	FetchGateWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letterdesk_fetch_gate_wait_seconds",
			Help:    "Time spent waiting on the cross-process fetch gate",
			Buckets: prometheus.LinearBuckets(0, 0.5, 12),
		},
		[]string{"table"},
	)

	WriteConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterdesk_write_conflicts_total",
			Help: "Conditional row writes rejected because the row changed",
		},
		[]string{"table"},
	)

	Generations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterdesk_generations_total",
			Help: "Letter generations recorded by plan",
		},
		[]string{"plan"},
	)

	JobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "letterdesk_jobs_enqueued_total",
			Help: "Letter jobs appended to the queue",
		},
	)

	RemindersDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterdesk_reminders_dispatched_total",
			Help: "Reminder dispatch attempts by channel and status",
		},
		[]string{"channel", "status"}, // status: sent, failed, skipped
	)

	SlowQueries = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letterdesk_db_slow_query_seconds",
			Help:    "Profile store queries slower than the threshold",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
		[]string{"statement"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letterdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRemoteCall observes one row-store call.
func RecordRemoteCall(operation, outcome string, duration time.Duration) {
	RemoteCallDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}

// IncrementRateLimitRetry counts one backoff retry.
func IncrementRateLimitRetry(operation string) {
	RateLimitRetries.WithLabelValues(operation).Inc()
}

// IncrementRateLimitExhausted counts one exhausted retry budget.
func IncrementRateLimitExhausted(operation string) {
	RateLimitExhausted.WithLabelValues(operation).Inc()
}

// RecordCacheLookup counts a snapshot cache hit or miss.
func RecordCacheLookup(table string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	SnapshotCache.WithLabelValues(table, result).Inc()
}

// RecordGateWait observes time slept on the fetch gate.
func RecordGateWait(table string, d time.Duration) {
	FetchGateWait.WithLabelValues(table).Observe(d.Seconds())
}

// IncrementWriteConflict counts a rejected conditional write.
func IncrementWriteConflict(table string) {
	WriteConflicts.WithLabelValues(table).Inc()
}

// IncrementGeneration counts a recorded generation.
func IncrementGeneration(plan string) {
	Generations.WithLabelValues(plan).Inc()
}

// IncrementJobsEnqueued counts an appended job.
func IncrementJobsEnqueued() {
	JobsEnqueued.Inc()
}

// IncrementReminderDispatch counts a reminder dispatch outcome.
func IncrementReminderDispatch(channel, status string) {
	RemindersDispatched.WithLabelValues(channel, status).Inc()
}

// RecordHTTPRequestDuration observes one HTTP request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementSlowQuery observes a slow profile store query.
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueries.WithLabelValues(statement).Observe(duration.Seconds())
}
