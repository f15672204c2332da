package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T, level int) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer

	mu.Lock()
	prevOut, prevLevel, prevNow := out, minLevel, nowFn
	out = &buf
	minLevel = level
	nowFn = func() time.Time {
		return time.Date(2024, time.March, 5, 14, 30, 9, 0, time.UTC)
	}
	mu.Unlock()

	t.Cleanup(func() {
		mu.Lock()
		out, minLevel, nowFn = prevOut, prevLevel, prevNow
		mu.Unlock()
	})
	return &buf
}

func TestFormat(t *testing.T) {
	at := time.Date(2024, time.March, 5, 14, 30, 9, 0, time.UTC)
	got := Format(at, "DEBUG", "Checking for jobs to run")
	want := "Tue Mar 5 14:30:09 2024 DEBUG: Checking for jobs to run\n"
	if got != want {
		t.Fatalf("Format: got %q want %q", got, want)
	}
}

func TestLevelFilter(t *testing.T) {
	buf := captureOutput(t, LevelWarning)

	Debugf("should be filtered")
	Warningf("kept %d", 1)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "WARNING: kept 1") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestDebugLevelPassesEverything(t *testing.T) {
	buf := captureOutput(t, LevelDebug)

	Debugf("one")
	Warningf("two")

	if got := buf.String(); !strings.Contains(got, "DEBUG: one") || !strings.Contains(got, "WARNING: two") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestStartupBypassesFilter(t *testing.T) {
	buf := captureOutput(t, LevelError)

	Warningf("filtered")
	Startupf("connection attempt %d failed", 3)

	got := buf.String()
	if strings.Contains(got, "filtered") {
		t.Fatalf("warning should be filtered at ERROR level: %q", got)
	}
	if !strings.Contains(got, "WARNING: connection attempt 3 failed") {
		t.Fatalf("startup record missing: %q", got)
	}
}

func TestErrorTerminates(t *testing.T) {
	buf := captureOutput(t, LevelError)

	var code = -1
	mu.Lock()
	prevExit := exitFn
	exitFn = func(c int) { code = c }
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		exitFn = prevExit
		mu.Unlock()
	})

	Errorf("fatal: %s", "boom")

	if code != 1 {
		t.Fatalf("exit code: got %d", code)
	}
	if !strings.Contains(buf.String(), "ERROR: fatal: boom") {
		t.Fatalf("error record missing: %q", buf.String())
	}
}

func TestSetupRejectsBadLevel(t *testing.T) {
	if err := Setup(7, ""); err == nil {
		t.Fatal("expected an error for level 7")
	}
}
