package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsClaimed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_jobs_claimed_total", Help: "Jobs claimed by this agent"})
	JobsSucceeded     = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_jobs_succeeded_total", Help: "Jobs finished with status s"})
	JobsFailed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_jobs_failed_total", Help: "Jobs finished with status f"})
	JobsInternalError = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_jobs_internal_error_total", Help: "Jobs finished with status i"})
	StepsSQL          = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_steps_sql_total", Help: "SQL steps executed"})
	StepsBatch        = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_steps_batch_total", Help: "Batch steps executed"})
	StepFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_step_failures_total", Help: "Steps that did not succeed"})
	PoolAcquires      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_pool_opens_total", Help: "New database sessions opened"})
	PoolReuses        = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_pool_reuses_total", Help: "Pooled sessions handed out again"})
	PoolSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pgagent_pool_sessions", Help: "Sessions currently pooled"})
	ZombiesSwept      = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_zombie_agents_swept_total", Help: "Stale agent rows removed at startup"})
	PrimaryRetries    = prometheus.NewCounter(prometheus.CounterOpts{Name: "pgagent_primary_retries_total", Help: "Primary connection attempts after a failure"})
	WorkersInFlight   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pgagent_workers_inflight", Help: "Job workers currently running"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsClaimed,
			JobsSucceeded,
			JobsFailed,
			JobsInternalError,
			StepsSQL,
			StepsBatch,
			StepFailures,
			PoolAcquires,
			PoolReuses,
			PoolSessionsGauge,
			ZombiesSwept,
			PrimaryRetries,
			WorkersInFlight,
		)
	})
	return promhttp.Handler()
}
