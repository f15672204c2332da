package connection

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// fakeOpen hands out connectionless sessions and counts the opens.
func fakeOpen(opened *int) func(ctx context.Context, connStr, dbname string) (*Session, error) {
	return func(_ context.Context, connStr, dbname string) (*Session, error) {
		*opened++
		return &Session{connStr: connStr, dbname: dbname}, nil
	}
}

func newTestPool(t *testing.T, opened *int) *Pool {
	t.Helper()
	p := NewPool()
	p.open = fakeOpen(opened)
	if _, err := p.InitPrimary(context.Background(), "user=agent host=db1 dbname=pgadmin"); err != nil {
		t.Fatalf("init primary: %v", err)
	}
	return p
}

func TestAcquireEmptyArguments(t *testing.T) {
	p := NewPool()
	p.open = func(context.Context, string, string) (*Session, error) {
		t.Fatal("open must not be called")
		return nil, nil
	}
	if _, err := p.Acquire(context.Background(), "", ""); !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("want ErrInvalidArguments, got %v", err)
	}
	if len(p.sessions) != 0 {
		t.Fatal("pool mutated on invalid acquire")
	}
}

func TestAcquireBuildsTargetFromBase(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)

	s, err := p.Acquire(context.Background(), "", "reports")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if want := "user=agent host=db1 dbname=reports"; s.ConnStr() != want {
		t.Fatalf("target connect string: got %q want %q", s.ConnStr(), want)
	}
	if s.DBName() != "reports" {
		t.Fatalf("dbname: got %q", s.DBName())
	}
}

func TestAcquireExplicitConnStrIgnoresBaseDBName(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)

	s, err := p.Acquire(context.Background(), "user=other host=db2", "")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if want := "user=other host=db2"; s.ConnStr() != want {
		t.Fatalf("explicit connect string: got %q want %q", s.ConnStr(), want)
	}
}

func TestReleaseThenReacquireReturnsSameSession(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)
	ctx := context.Background()

	first, err := p.Acquire(ctx, "", "reports")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	opensBefore := opened
	p.Release(ctx, first)

	second, err := p.Acquire(ctx, "", "reports")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if second != first {
		t.Fatal("expected the released session to be reused")
	}
	if opened != opensBefore {
		t.Fatalf("reacquire opened a new session (%d -> %d)", opensBefore, opened)
	}
}

func TestAcquireSkipsInUseSessions(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)
	ctx := context.Background()

	first, _ := p.Acquire(ctx, "", "reports")
	second, err := p.Acquire(ctx, "", "reports")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if second == first {
		t.Fatal("two concurrent acquires must not share a session")
	}
}

func TestAcquireCanonicalizesEquivalentStrings(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)
	ctx := context.Background()

	s, _ := p.Acquire(ctx, "dbname=reports  user=other host=db2", "")
	p.Release(ctx, s)

	opensBefore := opened
	again, err := p.Acquire(ctx, "host = db2 user=other dbname=reports", "")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if again != s || opened != opensBefore {
		t.Fatal("equivalent connect strings should hit the same pooled session")
	}
}

func TestAcquireOpenFailure(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)
	p.open = func(context.Context, string, string) (*Session, error) {
		return nil, fmt.Errorf("connection refused")
	}

	if _, err := p.Acquire(context.Background(), "", "reports"); !errors.Is(err, ErrAcquireFailed) {
		t.Fatalf("want ErrAcquireFailed, got %v", err)
	}
}

func TestSweepDropsIdleKeepsBusy(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)
	ctx := context.Background()

	busy, _ := p.Acquire(ctx, "", "reports")
	idle, _ := p.Acquire(ctx, "", "stats")
	p.Release(ctx, idle)

	p.Sweep(ctx, false)

	if len(p.sessions) != 2 {
		t.Fatalf("expected primary and busy session to survive, have %d", len(p.sessions))
	}
	for _, s := range p.sessions {
		if s == idle {
			t.Fatal("idle session survived the sweep")
		}
	}
	_ = busy
}

func TestSweepAllDropsPrimary(t *testing.T) {
	var opened int
	p := newTestPool(t, &opened)
	ctx := context.Background()

	busy, _ := p.Acquire(ctx, "", "reports")
	_ = busy
	p.Sweep(ctx, true)

	if len(p.sessions) != 0 {
		t.Fatalf("full sweep left %d sessions", len(p.sessions))
	}
}

func TestInitPrimaryInvalidConnectString(t *testing.T) {
	p := NewPool()
	if _, err := p.InitPrimary(context.Background(), "nonsense=1"); !errors.Is(err, ErrInvalidConnectionString) {
		t.Fatalf("want ErrInvalidConnectionString, got %v", err)
	}
}

func TestInitPrimaryConnectFailure(t *testing.T) {
	p := NewPool()
	p.open = func(context.Context, string, string) (*Session, error) {
		return nil, fmt.Errorf("no route to host")
	}
	if _, err := p.InitPrimary(context.Background(), "user=agent host=db1 dbname=pgadmin"); !errors.Is(err, ErrPrimaryConnectFailed) {
		t.Fatalf("want ErrPrimaryConnectFailed, got %v", err)
	}
}
