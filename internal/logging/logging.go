package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Log levels, ordered by verbosity. The -l flag selects the minimum level
// that is written; ERROR is always written and terminates the process.
const (
	LevelError = iota
	LevelWarning
	LevelDebug
)

const timeLayout = "Mon Jan 2 15:04:05 2006"

var (
	mu       sync.Mutex
	out      io.Writer = os.Stdout
	logPath  string
	minLevel = LevelError
	exitFn   = os.Exit
	nowFn    = time.Now
)

// Setup selects the verbosity filter and, if path is non-empty, the log file.
// Records are appended; the file is created if missing.
func Setup(level int, path string) error {
	mu.Lock()
	defer mu.Unlock()

	if level < LevelError || level > LevelDebug {
		return fmt.Errorf("invalid log level %d", level)
	}
	minLevel = level

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
		logPath = path
	}
	return nil
}

// Format renders one log record line.
func Format(t time.Time, level string, msg string) string {
	return t.Format(timeLayout) + " " + level + ": " + msg + "\n"
}

func write(level string, msg string) {
	fmt.Fprint(out, Format(nowFn(), level, msg))
}

// Debugf logs at DEBUG verbosity.
func Debugf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if minLevel >= LevelDebug {
		write("DEBUG", fmt.Sprintf(format, args...))
	}
}

// Warningf logs at WARNING verbosity.
func Warningf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if minLevel >= LevelWarning {
		write("WARNING", fmt.Sprintf(format, args...))
	}
}

// Startupf logs as WARNING regardless of the verbosity filter. Used for
// connection failures (primary or pooled) that must not kill the agent.
func Startupf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	write("WARNING", fmt.Sprintf(format, args...))
}

// Errorf logs the message and terminates the process with exit code 1.
// The sink lock is released before exiting.
func Errorf(format string, args ...any) {
	mu.Lock()
	write("ERROR", fmt.Sprintf(format, args...))
	if f, ok := out.(*os.File); ok && logPath != "" {
		f.Sync()
	}
	mu.Unlock()
	exitFn(1)
}
