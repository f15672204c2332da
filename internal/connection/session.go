package connection

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"postgres-job-agent/internal/logging"
)

// Session is one database connection owned by the pool. At most one caller
// uses a session at a time; the pool's lock guards the bookkeeping fields.
type Session struct {
	conn    *pgx.Conn
	connStr string
	dbname  string
	inUse   bool

	lastError string
	lastCmdOK bool

	majorVersion int
	minorVersion int
}

// ConnStr returns the canonical connect string the session was opened with.
func (s *Session) ConnStr() string { return s.connStr }

// DBName returns the database the session is connected to.
func (s *Session) DBName() string { return s.dbname }

// LastCommandOK reports whether the most recent Execute* call succeeded.
func (s *Session) LastCommandOK() bool { return s.lastCmdOK }

// LastError returns the last server error text, minus a trailing line end.
func (s *Session) LastError() string {
	e := s.lastError
	switch {
	case strings.HasSuffix(e, "\r\n"):
		return strings.TrimSuffix(e, "\r\n")
	case strings.HasSuffix(e, "\n"):
		return strings.TrimSuffix(e, "\n")
	case strings.HasSuffix(e, "\r"):
		return strings.TrimSuffix(e, "\r")
	}
	return e
}

// Execute runs query as a simple-protocol batch (it may contain several
// statements) and returns a cursor over the final result. On a server error
// the session's last-error text is set and nil is returned.
func (s *Session) Execute(ctx context.Context, query string) *Result {
	results, err := s.conn.PgConn().Exec(ctx, query).ReadAll()
	if err != nil {
		s.lastCmdOK = false
		s.lastError = err.Error()
		logging.Warningf("Query error: %s", s.LastError())
		return nil
	}
	for _, r := range results {
		if r.Err != nil {
			s.lastCmdOK = false
			s.lastError = r.Err.Error()
			logging.Warningf("Query error: %s", s.LastError())
			return nil
		}
	}
	s.lastCmdOK = true
	if len(results) == 0 {
		return &Result{}
	}
	return newResult(results[len(results)-1])
}

// ExecuteVoid runs query and returns the affected-row count of its final
// statement, or -1 on error.
func (s *Session) ExecuteVoid(ctx context.Context, query string) int64 {
	res := s.Execute(ctx, query)
	if res == nil {
		return -1
	}
	return res.RowsAffected()
}

// ExecuteScalar returns the first column of the first row, or "" on error.
func (s *Session) ExecuteScalar(ctx context.Context, query string) string {
	res := s.Execute(ctx, query)
	if res == nil {
		return ""
	}
	return res.GetString(0)
}

// ExecParams runs a single parameterized statement and returns its
// affected-row count. Values travel as bind parameters, never as literals.
func (s *Session) ExecParams(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := s.conn.Exec(ctx, query, args...)
	if err != nil {
		s.lastCmdOK = false
		s.lastError = err.Error()
		return -1, fmt.Errorf("exec: %w", err)
	}
	s.lastCmdOK = true
	return tag.RowsAffected(), nil
}

// QueryInt64 runs a parameterized single-value query returning an integer,
// such as a sequence allocation.
func (s *Session) QueryInt64(ctx context.Context, query string, args ...any) (int64, error) {
	var value int64
	if err := s.conn.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		s.lastCmdOK = false
		s.lastError = err.Error()
		return 0, fmt.Errorf("query scalar: %w", err)
	}
	s.lastCmdOK = true
	return value, nil
}

// QueryInt64Column runs a parameterized query whose single column is an
// integer and returns every row.
func (s *Session) QueryInt64Column(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		s.lastCmdOK = false
		s.lastError = err.Error()
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var values []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			s.lastCmdOK = false
			s.lastError = err.Error()
			return nil, fmt.Errorf("scan: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		s.lastCmdOK = false
		s.lastError = err.Error()
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.lastCmdOK = true
	return values, nil
}

// BackendMinimumVersion reports whether the server is at least major.minor.
// The version comes from the server_version parameter of the session.
func (s *Session) BackendMinimumVersion(major, minor int) bool {
	if s.majorVersion == 0 && s.conn != nil {
		version := s.conn.PgConn().ParameterStatus("server_version")
		parseServerVersion(version, &s.majorVersion, &s.minorVersion)
	}
	return s.majorVersion > major || (s.majorVersion == major && s.minorVersion >= minor)
}

func parseServerVersion(version string, major, minor *int) {
	if i := strings.IndexByte(version, ' '); i >= 0 {
		version = version[:i]
	}
	parts := strings.Split(version, ".")
	if len(parts) > 0 {
		*major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		*minor, _ = strconv.Atoi(parts[1])
	}
}

// QuoteString wraps value as a SQL string literal for the multi-statement
// batches that cannot use bind parameters. Backslashes and apostrophes are
// doubled; servers from 8.1 on get the E'' prefix when a backslash is present.
func (s *Session) QuoteString(value string) string {
	result := strings.ReplaceAll(value, `\`, `\\`)
	result = strings.ReplaceAll(result, "'", "''")

	if s.BackendMinimumVersion(8, 1) && strings.Contains(result, `\`) {
		return "E'" + result + "'"
	}
	return "'" + result + "'"
}

func (s *Session) close(ctx context.Context) {
	if s.conn != nil {
		_ = s.conn.Close(ctx)
		s.conn = nil
	}
}
