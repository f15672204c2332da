package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"postgres-job-agent/internal/config"
	"postgres-job-agent/internal/connection"
	"postgres-job-agent/internal/health"
	"postgres-job-agent/internal/logging"
	"postgres-job-agent/internal/scheduler"
)

const version = "4.2.2"

func main() {
	cfg := config.Load()

	root := &cobra.Command{
		Use:           "agent [options] <connect-string>",
		Short:         "PostgreSQL scheduling agent",
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  false,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The connect string may arrive unquoted as several arguments.
			cfg.ConnectString = strings.Trim(strings.Join(args, " "), `"`)
			return run(cfg)
		},
	}
	root.SetVersionTemplate("PostgreSQL Scheduling Agent\nVersion: {{.Version}}\n")

	flags := root.Flags()
	flags.BoolVarP(&cfg.Foreground, "foreground", "f", false, "run in the foreground (do not detach from the terminal)")
	flags.IntVarP(&cfg.PollInterval, "poll-interval", "t", cfg.PollInterval, "poll time interval in seconds")
	flags.IntVarP(&cfg.RetryInterval, "retry-interval", "r", cfg.RetryInterval, "retry period after connection abort in seconds (>=10)")
	flags.StringVarP(&cfg.LogFile, "log-file", "s", cfg.LogFile, "log file (messages are logged to STDOUT if not specified)")
	flags.IntVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "logging verbosity (ERROR=0, WARNING=1, DEBUG=2)")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "listen address for /healthz, /status and /metrics (disabled if empty)")
	flags.IntVar(&cfg.MaxWorkers, "max-workers", cfg.MaxWorkers, "maximum concurrent job workers (0 = unbounded)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be greater than zero")
	}
	if cfg.RetryInterval < 10 {
		return fmt.Errorf("retry interval must be at least 10 seconds")
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	if !cfg.Foreground {
		// Process supervision is the init system's business now; the agent
		// runs attached either way.
		logging.Debugf("Running attached; use a service manager to daemonize")
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("resolve hostname: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		logging.Warningf("Shutdown requested, finishing in-flight jobs")
		cancel()
	}()

	pool := connection.NewPool()
	sched := scheduler.New(cfg, pool, hostname)

	if cfg.MetricsAddr != "" {
		router := health.Router(health.Info{
			Version:    version,
			Station:    hostname,
			Started:    time.Now(),
			BackendPID: sched.BackendPID,
		})
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, router); err != nil {
				logging.Warningf("Ops endpoint stopped: %v", err)
			}
		}()
	}

	sched.Run(ctx)
	return nil
}
