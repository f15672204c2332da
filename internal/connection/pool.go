package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"

	"postgres-job-agent/internal/logging"
	"postgres-job-agent/internal/telemetry"
)

var (
	// ErrPrimaryConnectFailed reports an open failure on the primary session.
	ErrPrimaryConnectFailed = errors.New("primary connection failed")
	// ErrAcquireFailed reports an open failure on a worker session.
	ErrAcquireFailed = errors.New("connection acquire failed")
	// ErrInvalidArguments reports an Acquire with neither connect string nor
	// database name.
	ErrInvalidArguments = errors.New("no database or connection string specified")
)

// Pool is the process-wide set of reusable database sessions, keyed by the
// canonical connect string each was opened with. The first session is the
// primary, opened once per scheduler incarnation.
type Pool struct {
	mu       sync.Mutex
	sessions []*Session
	base     ConnInfo
	open     func(ctx context.Context, connStr, dbname string) (*Session, error)
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	p := &Pool{}
	p.open = p.openSession
	return p
}

func (p *Pool) openSession(ctx context.Context, connStr, dbname string) (*Session, error) {
	logging.Debugf("Creating DB connection: %s", connStr)
	telemetry.PoolAcquires.Inc()
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, err
	}
	return &Session{conn: conn, connStr: connStr, dbname: dbname}, nil
}

// InitPrimary parses connStr, opens the primary session and stores the base
// connect info for later Acquire calls. Called once per restart attempt.
func (p *Pool) InitPrimary(ctx context.Context, connStr string) (*Session, error) {
	ci, err := ParseConnectString(connStr)
	if err != nil {
		return nil, err
	}
	ci.debugDump()

	s, err := p.open(ctx, ci.ConnectString(), ci.DBName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrimaryConnectFailed, err)
	}

	p.mu.Lock()
	p.base = ci
	s.inUse = true
	p.sessions = append([]*Session{s}, p.sessions...)
	telemetry.PoolSessionsGauge.Set(float64(len(p.sessions)))
	p.mu.Unlock()
	return s, nil
}

// BaseDBName returns the dbname of the primary connect string.
func (p *Pool) BaseDBName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.base.DBName
}

// Acquire returns a free session for the given connect string, or for the
// stored base options with db substituted when connStr is empty. A matching
// idle session is reused; otherwise a new one is opened and pooled.
func (p *Pool) Acquire(ctx context.Context, connStr, db string) (*Session, error) {
	if connStr == "" && db == "" {
		logging.Warningf("Cannot allocate connection - no database or connection string specified!")
		return nil, ErrInvalidArguments
	}

	target, dbname, err := p.target(connStr, db)
	if err != nil {
		logging.Warningf("Invalid connection string %q: %v", connStr, err)
		return nil, err
	}

	p.mu.Lock()
	for _, s := range p.sessions {
		if !s.inUse && s.connStr == target {
			s.inUse = true
			p.mu.Unlock()
			logging.Debugf("Allocating existing connection to database %s", s.dbname)
			telemetry.PoolReuses.Inc()
			return s, nil
		}
	}
	p.mu.Unlock()

	s, err := p.open(ctx, target, dbname)
	if err != nil {
		logging.Startupf("Failed to create new connection to database '%s': %v", dbname, err)
		return nil, fmt.Errorf("%w: %w", ErrAcquireFailed, err)
	}

	p.mu.Lock()
	s.inUse = true
	p.sessions = append(p.sessions, s)
	telemetry.PoolSessionsGauge.Set(float64(len(p.sessions)))
	p.mu.Unlock()
	logging.Debugf("Allocating new connection to database %s", s.dbname)
	return s, nil
}

// target resolves the canonical connect string and dbname for an Acquire.
func (p *Pool) target(connStr, db string) (string, string, error) {
	if connStr != "" {
		ci, err := ParseConnectString(connStr)
		if err != nil {
			return "", "", err
		}
		if ci.DBName == "" {
			ci.DBName = db
		}
		return ci.ConnectString(), ci.DBName, nil
	}

	p.mu.Lock()
	ci := p.base
	p.mu.Unlock()
	if db != "" {
		ci.DBName = db
	}
	return ci.ConnectString(), ci.DBName, nil
}

// Release discards session state with RESET ALL and returns the session to
// the pool. The session stays marked in-use until the reset completes, so
// the reset itself runs without the pool lock held.
func (p *Pool) Release(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	if s.conn != nil {
		s.ExecuteVoid(ctx, "RESET ALL")
	}

	p.mu.Lock()
	s.lastError = ""
	s.inUse = false
	p.mu.Unlock()
	logging.Debugf("Returning connection to database %s", s.dbname)
}

// Sweep drops idle sessions; with all set it drops every session, primary
// included. Used after each workless poll tick and on scheduler restart.
func (p *Pool) Sweep(ctx context.Context, all bool) {
	if all {
		logging.Debugf("Clearing all connections")
	} else {
		logging.Debugf("Clearing inactive connections")
	}

	p.mu.Lock()
	total := len(p.sessions)
	free := 0
	var keep, drop []*Session
	for i, s := range p.sessions {
		if !s.inUse {
			free++
		}
		// The primary is only dropped on a full sweep.
		if all || (!s.inUse && i > 0) {
			drop = append(drop, s)
		} else {
			keep = append(keep, s)
		}
	}
	p.sessions = keep
	telemetry.PoolSessionsGauge.Set(float64(len(p.sessions)))
	p.mu.Unlock()

	for _, s := range drop {
		s.close(ctx)
	}
	if total == 0 {
		logging.Debugf("No connections found!")
		return
	}
	logging.Debugf("Connection stats: total - %d, free - %d, deleted - %d", total, free, len(drop))
}
