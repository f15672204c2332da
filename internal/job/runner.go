package job

import (
	"context"
	"strconv"
	"strings"

	"postgres-job-agent/internal/connection"
	"postgres-job-agent/internal/logging"
	"postgres-job-agent/internal/telemetry"
)

// Job and step log status letters. The alphabet is closed; nothing else is
// ever written.
const (
	StatusRunning       = "r"
	StatusSucceeded     = "s"
	StatusFailed        = "f"
	StatusInternalError = "i"
	StatusAborted       = "d"
)

// Step kinds.
const (
	KindSQL   = "s"
	KindBatch = "b"
)

// Runner executes one claimed job: it opens the job log, walks the enabled
// steps in order, and closes the log before releasing the job.
type Runner struct {
	pool       *connection.Pool
	conn       *connection.Session
	backendPID int
	jobID      int64

	logID   int64
	claimed bool
	status  string
}

// Run drives a job on behalf of the agent identified by backendPID. It
// acquires its own logging session, claims the job, executes it and writes
// the closing log records. Losing the claim race is a silent no-op.
func Run(ctx context.Context, pool *connection.Pool, backendPID int, jobID int64) {
	conn, err := pool.Acquire(ctx, "", pool.BaseDBName())
	if err != nil {
		logging.Warningf("Couldn't allocate a logging connection for job %d: %v", jobID, err)
		return
	}

	r := &Runner{pool: pool, conn: conn, backendPID: backendPID, jobID: jobID}
	if r.open(ctx) {
		r.execute(ctx)
	}
	r.close(ctx)
}

// open performs the conditional claim and inserts the running job log row.
// It reports whether steps should be executed.
func (r *Runner) open(ctx context.Context) bool {
	logging.Debugf("Starting job: %d", r.jobID)

	rows, err := r.conn.ExecParams(ctx,
		"UPDATE pgagent.pga_job SET jobagentid=$1, joblastrun=now() WHERE jobagentid IS NULL AND jobid=$2",
		r.backendPID, r.jobID)
	if err != nil || rows != 1 {
		// Another agent won the race; leave no trace.
		logging.Debugf("Job %d already claimed elsewhere", r.jobID)
		return false
	}
	r.claimed = true
	telemetry.JobsClaimed.Inc()

	logID, err := r.conn.QueryInt64(ctx, "SELECT nextval('pgagent.pga_joblog_jlgid_seq')")
	if err != nil {
		return false
	}
	r.logID = logID

	if _, err := r.conn.ExecParams(ctx,
		"INSERT INTO pgagent.pga_joblog(jlgid, jlgjobid, jlgstatus) VALUES ($1, $2, 'r')",
		r.logID, r.jobID); err != nil {
		return false
	}
	r.status = StatusRunning
	return true
}

// execute walks the enabled steps in (jstname, jstid) order and applies the
// per-step on-error policy. It sets the job's final status.
func (r *Runner) execute(ctx context.Context) {
	steps := r.conn.Execute(ctx,
		"SELECT jstid, jstkind, jstcode, jstconnstr, jstdbname, jstonerror "+
			"FROM pgagent.pga_jobstep WHERE jstenabled AND jstjobid="+strconv.FormatInt(r.jobID, 10)+
			" ORDER BY jstname, jstid")
	if steps == nil {
		r.status = StatusInternalError
		return
	}

	for ; steps.HasData(); steps.MoveNext() {
		stepID, err := strconv.ParseInt(steps.GetStringByName("jstid"), 10, 64)
		if err != nil {
			r.status = StatusInternalError
			return
		}

		jslID, err := r.conn.QueryInt64(ctx, "SELECT nextval('pgagent.pga_jobsteplog_jslid_seq')")
		if err != nil {
			r.status = StatusInternalError
			return
		}
		rows, err := r.conn.ExecParams(ctx,
			"INSERT INTO pgagent.pga_jobsteplog(jslid, jsljlgid, jsljstid, jslstatus) "+
				"SELECT $1, $2, $3, 'r' FROM pgagent.pga_jobstep WHERE jstid=$4",
			jslID, r.logID, stepID, stepID)
		if err != nil || rows != 1 {
			r.status = StatusInternalError
			return
		}

		var (
			rc        int64
			succeeded bool
			output    string
		)
		switch steps.GetStringByName("jstkind") {
		case KindSQL:
			logging.Debugf("Executing SQL step %d (part of job %d)", stepID, r.jobID)
			telemetry.StepsSQL.Inc()
			rc, succeeded, output = r.runSQLStep(ctx,
				steps.GetStringByName("jstconnstr"),
				steps.GetStringByName("jstdbname"),
				steps.GetStringByName("jstcode"))
		case KindBatch:
			logging.Debugf("Executing batch step %d (part of job %d)", stepID, r.jobID)
			telemetry.StepsBatch.Inc()
			rc, succeeded, output = runBatchStep(r.jobID, stepID, steps.GetStringByName("jstcode"))
		default:
			logging.Warningf("Invalid step type '%s' on step %d of job %d", steps.GetStringByName("jstkind"), stepID, r.jobID)
			r.status = StatusInternalError
			return
		}

		stepStatus := stepResultStatus(succeeded, steps.GetStringByName("jstonerror"))
		if !succeeded {
			telemetry.StepFailures.Inc()
		}

		// The jslstatus='r' guard keeps terminal step logs write-once.
		rows, err = r.conn.ExecParams(ctx,
			"UPDATE pgagent.pga_jobsteplog SET jslduration = now() - jslstart, "+
				"jslresult = $1, jslstatus = $2, jsloutput = $3 WHERE jslid = $4 AND jslstatus = 'r'",
			rc, stepStatus, strings.ToValidUTF8(output, "�"), jslID)
		if err != nil || rows != 1 || stepStatus == StatusFailed {
			r.status = StatusFailed
			return
		}
	}

	r.status = StatusSucceeded
}

// stepResultStatus maps a step outcome onto its recorded status letter. Only
// 'f' fails the job; any other on-error letter marks the step and the job
// continues.
func stepResultStatus(succeeded bool, onError string) string {
	if succeeded {
		return StatusSucceeded
	}
	if onError == "" {
		return StatusFailed
	}
	return onError
}

// close finalizes the job log and releases the claim, then returns the
// logging session to the pool.
func (r *Runner) close(ctx context.Context) {
	if r.claimed {
		if r.status == "" || r.status == StatusRunning {
			r.status = StatusInternalError
		}

		batch := ""
		if r.logID != 0 {
			batch = "UPDATE pgagent.pga_joblog SET jlgstatus=" + r.conn.QuoteString(r.status) +
				", jlgduration=now() - jlgstart WHERE jlgid=" + strconv.FormatInt(r.logID, 10) + ";\n"
		}
		batch += "UPDATE pgagent.pga_job SET jobagentid=NULL, jobnextrun=NULL WHERE jobid=" +
			strconv.FormatInt(r.jobID, 10)
		r.conn.ExecuteVoid(ctx, batch)

		switch r.status {
		case StatusSucceeded:
			telemetry.JobsSucceeded.Inc()
		case StatusFailed:
			telemetry.JobsFailed.Inc()
		default:
			telemetry.JobsInternalError.Inc()
		}
	}

	r.pool.Release(ctx, r.conn)
	logging.Debugf("Completed job: %d", r.jobID)
}
