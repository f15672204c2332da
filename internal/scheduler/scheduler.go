package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"postgres-job-agent/internal/agent"
	"postgres-job-agent/internal/config"
	"postgres-job-agent/internal/connection"
	"postgres-job-agent/internal/job"
	"postgres-job-agent/internal/logging"
	"postgres-job-agent/internal/telemetry"
)

// maxAttempts bounds consecutive primary connection failures before the
// agent gives up.
const maxAttempts = 10

// Scheduler owns the outer restart loop and the inner poll loop. One
// instance runs per process.
type Scheduler struct {
	cfg      config.Config
	pool     *connection.Pool
	hostname string

	backendPID atomic.Int64
	workers    sync.WaitGroup
	sem        chan struct{}
}

// New builds a scheduler for the given hostname identity.
func New(cfg config.Config, pool *connection.Pool, hostname string) *Scheduler {
	s := &Scheduler{cfg: cfg, pool: pool, hostname: hostname}
	if cfg.MaxWorkers > 0 {
		s.sem = make(chan struct{}, cfg.MaxWorkers)
	}
	return s
}

// BackendPID returns the agent's identity pid once the primary session is
// up, zero before that.
func (s *Scheduler) BackendPID() int {
	return int(s.backendPID.Load())
}

// Run drives the outer restart loop until the context is cancelled. Schema
// errors are fatal; connection loss is retried up to maxAttempts times.
func (s *Scheduler) Run(ctx context.Context) {
	attempts := 1

	for {
		logging.Debugf("Creating primary connection")
		var loopErr error

		primary, err := s.pool.InitPrimary(ctx, s.cfg.ConnectString)
		if err != nil {
			if errors.Is(err, connection.ErrInvalidConnectionString) {
				logging.Errorf("Primary connection string is not valid: %v", err)
			}
			loopErr = err
		} else {
			pid, err := agent.Startup(ctx, primary, s.hostname)
			switch {
			case errors.Is(err, agent.ErrSchemaMissing), errors.Is(err, agent.ErrSchemaVersionMismatch):
				logging.Errorf("%v", err)
			case err != nil:
				loopErr = err
			default:
				s.backendPID.Store(int64(pid))
				attempts = 1
				loopErr = s.poll(ctx, primary)
			}
		}

		if ctx.Err() != nil {
			// Let in-flight workers finish and return their sessions
			// before the pool is torn down.
			s.workers.Wait()
			s.pool.Sweep(context.WithoutCancel(ctx), true)
			return
		}
		s.pool.Sweep(context.WithoutCancel(ctx), true)

		logging.Startupf("Couldn't create the primary connection (attempt %d): %v", attempts, loopErr)
		telemetry.PrimaryRetries.Inc()
		if attempts++; attempts > maxAttempts {
			logging.Errorf("Stopping agent: Couldn't establish the primary connection with the database server.")
		}
		waitAWhile(ctx, s.cfg.RetryInterval)
	}
}

// poll claims due jobs addressed to this host once per tick and hands each
// to a detached worker. It returns when the primary session breaks or the
// context is cancelled.
func (s *Scheduler) poll(ctx context.Context, primary *connection.Session) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logging.Debugf("Checking for jobs to run")
		foundWork := false

		jobIDs, err := primary.QueryInt64Column(ctx,
			"SELECT J.jobid FROM pgagent.pga_job J "+
				"WHERE jobenabled AND jobagentid IS NULL AND jobnextrun <= now() "+
				"AND (jobhostagent = '' OR jobhostagent = $1) ORDER BY jobnextrun",
			s.hostname)
		if err != nil {
			return fmt.Errorf("failed to query the jobs table: %w", err)
		}

		for _, id := range jobIDs {
			if s.sem != nil {
				select {
				case s.sem <- struct{}{}:
				default:
					// Saturated; leave the rest for other agents or the
					// next tick.
					logging.Debugf("Worker limit reached, deferring job %d", id)
					continue
				}
			}
			foundWork = true
			s.spawnWorker(ctx, id)
		}

		logging.Debugf("Sleeping...")
		if err := waitAWhile(ctx, s.cfg.PollInterval); err != nil {
			return err
		}
		if !foundWork {
			s.pool.Sweep(ctx, false)
		}
	}
}

// spawnWorker runs one job in a detached goroutine. Workers outlive poll
// cancellation: shutdown stops claiming, never a running step.
func (s *Scheduler) spawnWorker(ctx context.Context, jobID int64) {
	logging.Debugf("Creating job worker for job %d", jobID)
	s.workers.Add(1)
	telemetry.WorkersInFlight.Inc()

	workerCtx := context.WithoutCancel(ctx)
	backendPID := s.BackendPID()
	go func() {
		defer func() {
			telemetry.WorkersInFlight.Dec()
			if s.sem != nil {
				<-s.sem
			}
			s.workers.Done()
		}()
		job.Run(workerCtx, s.pool, backendPID, jobID)
	}()
}

// waitAWhile sleeps for the given number of seconds or until cancellation.
func waitAWhile(ctx context.Context, seconds int) error {
	if seconds <= 0 {
		seconds = 1
	}
	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
