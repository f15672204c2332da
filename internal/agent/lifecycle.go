package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"postgres-job-agent/internal/connection"
	"postgres-job-agent/internal/logging"
	"postgres-job-agent/internal/telemetry"
)

// SchemaVersionMajor is the pgagent schema major version this agent speaks.
const SchemaVersionMajor = 4

var (
	// ErrSchemaMissing reports that the pgagent schema is absent or too old
	// to carry the version function.
	ErrSchemaMissing = errors.New("pgagent schema missing")
	// ErrSchemaVersionMismatch reports an unsupported schema version.
	ErrSchemaVersionMismatch = errors.New("unsupported pgagent schema version")
	// ErrQueryFailed reports a failed startup query on the primary session.
	ErrQueryFailed = errors.New("startup query failed")
)

// Startup runs the per-incarnation prologue on the primary session: schema
// sanity and version checks, the zombie sweep, and self registration. It
// returns the primary session's backend pid, the agent's identity for the
// whole process lifetime.
func Startup(ctx context.Context, primary *connection.Session, hostname string) (int, error) {
	logging.Debugf("Database sanity check")
	res := primary.Execute(ctx,
		"SELECT count(*) AS count, pg_backend_pid() AS pid FROM pg_class cl "+
			"JOIN pg_namespace ns ON ns.oid=relnamespace "+
			"WHERE relname='pga_job' AND nspname='pgagent'")
	if res == nil {
		return 0, fmt.Errorf("%w: %s", ErrQueryFailed, primary.LastError())
	}
	if res.GetStringByName("count") == "0" {
		return 0, fmt.Errorf("%w: could not find the table 'pgagent.pga_job' - have you run pgagent.sql on this database?", ErrSchemaMissing)
	}
	backendPID, err := strconv.Atoi(res.GetStringByName("pid"))
	if err != nil {
		return 0, fmt.Errorf("%w: bad pg_backend_pid value", ErrQueryFailed)
	}

	if err := checkSchemaVersion(ctx, primary); err != nil {
		return 0, err
	}

	logging.Debugf("Clearing zombies")
	if err := sweepZombies(ctx, primary); err != nil {
		// Another agent will eventually sweep; keep going.
		logging.Warningf("Zombie sweep failed: %v", err)
	}

	if _, err := primary.ExecParams(ctx,
		"INSERT INTO pgagent.pga_jobagent (jagpid, jagstation) SELECT pg_backend_pid(), $1",
		hostname); err != nil {
		return 0, fmt.Errorf("%w: registering agent: %w", ErrQueryFailed, err)
	}

	return backendPID, nil
}

func checkSchemaVersion(ctx context.Context, primary *connection.Session) error {
	hasFunc := primary.ExecuteScalar(ctx,
		"SELECT COUNT(*) FROM pg_proc "+
			"WHERE proname = 'pgagent_schema_version' AND "+
			"pronamespace = (SELECT oid FROM pg_namespace WHERE nspname = 'pgagent') AND "+
			"prorettype = (SELECT oid FROM pg_type WHERE typname = 'int2') AND "+
			"proargtypes = ''")
	if hasFunc != "1" {
		return fmt.Errorf("%w: couldn't find the function 'pgagent_schema_version' - please run pgagent_upgrade.sql", ErrSchemaMissing)
	}

	version := primary.ExecuteScalar(ctx, "SELECT pgagent.pgagent_schema_version()")
	if version != strconv.Itoa(SchemaVersionMajor) {
		return fmt.Errorf("%w: schema version %s found, version %d is required - please run pgagent_upgrade.sql",
			ErrSchemaVersionMismatch, version, SchemaVersionMajor)
	}
	return nil
}

// sweepZombies reclassifies the in-flight work of agents whose backing
// session is gone: their running job and step logs become 'd', their jobs
// are released, and their registration rows are deleted. Everything runs in
// one transaction on the primary session.
func sweepZombies(ctx context.Context, primary *connection.Session) error {
	if primary.ExecuteVoid(ctx, "BEGIN") < 0 {
		return fmt.Errorf("%w: %s", ErrQueryFailed, primary.LastError())
	}

	abort := func() error {
		primary.ExecuteVoid(ctx, "ROLLBACK")
		return fmt.Errorf("%w: %s", ErrQueryFailed, primary.LastError())
	}

	if primary.ExecuteVoid(ctx, "CREATE TEMP TABLE pga_tmp_zombies(jagpid int4)") < 0 {
		return abort()
	}

	// pg_stat_activity renamed procpid to pid in 9.2.
	pidColumn := "procpid"
	if primary.BackendMinimumVersion(9, 2) {
		pidColumn = "pid"
	}
	zombies := primary.ExecuteVoid(ctx,
		"INSERT INTO pga_tmp_zombies (jagpid) "+
			"SELECT jagpid FROM pgagent.pga_jobagent AG "+
			"LEFT JOIN pg_stat_activity PA ON jagpid="+pidColumn+
			" WHERE "+pidColumn+" IS NULL")
	if zombies < 0 {
		return abort()
	}

	if zombies > 0 {
		rc := primary.ExecuteVoid(ctx,
			"UPDATE pgagent.pga_joblog SET jlgstatus='d' WHERE jlgid IN ("+
				"SELECT jlgid FROM pga_tmp_zombies z, pgagent.pga_job j, pgagent.pga_joblog l "+
				"WHERE z.jagpid=j.jobagentid AND j.jobid = l.jlgjobid AND l.jlgstatus='r');\n"+

				"UPDATE pgagent.pga_jobsteplog SET jslstatus='d' WHERE jslid IN ("+
				"SELECT jslid FROM pga_tmp_zombies z, pgagent.pga_job j, pgagent.pga_joblog l, pgagent.pga_jobsteplog s "+
				"WHERE z.jagpid=j.jobagentid AND j.jobid = l.jlgjobid AND l.jlgid = s.jsljlgid AND s.jslstatus='r');\n"+

				"UPDATE pgagent.pga_job SET jobagentid=NULL, jobnextrun=NULL "+
				"WHERE jobagentid IN (SELECT jagpid FROM pga_tmp_zombies);\n"+

				"DELETE FROM pgagent.pga_jobagent "+
				"WHERE jagpid IN (SELECT jagpid FROM pga_tmp_zombies)")
		if rc < 0 {
			return abort()
		}
		telemetry.ZombiesSwept.Add(float64(zombies))
	}

	if primary.ExecuteVoid(ctx, "DROP TABLE pga_tmp_zombies") < 0 {
		return abort()
	}
	if primary.ExecuteVoid(ctx, "COMMIT") < 0 {
		return fmt.Errorf("%w: %s", ErrQueryFailed, primary.LastError())
	}
	return nil
}
