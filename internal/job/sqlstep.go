package job

import (
	"context"

	"postgres-job-agent/internal/logging"
)

// runSQLStep executes the step code against the step's target database. An
// empty connect string means the agent's base connection with the step's
// dbname substituted.
func (r *Runner) runSQLStep(ctx context.Context, connStr, dbname, code string) (int64, bool, string) {
	stepConn, err := r.pool.Acquire(ctx, connStr, dbname)
	if err != nil {
		logging.Warningf("Couldn't get a connection for step of job %d: %v", r.jobID, err)
		return -1, false, "Couldn't get a connection to the database!"
	}
	defer r.pool.Release(ctx, stepConn)

	rc := stepConn.ExecuteVoid(ctx, code)
	if !stepConn.LastCommandOK() {
		return rc, false, stepConn.LastError()
	}
	return rc, true, ""
}
