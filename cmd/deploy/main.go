// Package main is the entrypoint for the Tangyuling deploy tool.
//
// It redeploys the pre-built backend image on the current host: pull, stop,
// start, wait, health check, and prune. Configuration comes from the
// environment; DOCKER_USERNAME is required.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/tangyuling/deploy/internal/compose"
	"github.com/tangyuling/deploy/internal/config"
	"github.com/tangyuling/deploy/internal/deploy"
	"github.com/tangyuling/deploy/internal/envcheck"
	"github.com/tangyuling/deploy/internal/health"
	"github.com/tangyuling/deploy/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var (
		strictEnv = fs.Bool("strict-env", false, "Fail when the application .env contract is incomplete")
		history   = fs.Int64("history", 0, "Print the last N deploy runs and exit (requires DEPLOY_REDIS_URL)")
		dryRun    = fs.Bool("dry-run", false, "Run preflight checks only; do not touch containers")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	historySet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "history" {
			historySet = true
		}
	})

	// Errors before config load still go to stdout.
	slog.SetDefault(slog.New(slog.NewTextHandler(stdout, nil)))

	if historySet && *history <= 0 {
		slog.Error("-history must be a positive number of runs", "history", *history)
		return 1
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		if errors.Is(err, config.ErrMissingVariable) {
			fmt.Fprintln(stdout, "Set DOCKER_USERNAME to the registry namespace of the image, e.g. export DOCKER_USERNAME=myuser")
		}
		return 1
	}
	if *strictEnv {
		cfg.StrictEnv = true
	}

	// Initialize logger
	logger := initLogger(stdout, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize lock and history store
	backend, err := store.Open(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return 1
	}
	if cfg.HistoryEnabled() {
		logger.Info("connected to Redis", "redis_url", redactURL(cfg.RedisURL))
	}
	defer backend.Close()

	if historySet {
		if !cfg.HistoryEnabled() {
			logger.Error("deploy history requires DEPLOY_REDIS_URL")
			return 1
		}
		return printHistory(ctx, stdout, logger, backend, cfg.Project(), *history)
	}

	// Check the application's environment contract
	if code := checkAppEnv(logger, cfg); code != 0 {
		return code
	}

	runtime := compose.New(compose.ExecRunner{}, compose.Options{
		DockerBinary: cfg.DockerBinary,
		Command:      cfg.ComposeArgs(),
		File:         cfg.ComposeFile,
		Project:      cfg.ComposeProject,
		Env: []string{
			"DOCKER_USERNAME=" + cfg.DockerUsername,
			"IMAGE=" + cfg.Image,
			"IMAGE_TAG=" + cfg.ImageTag,
		},
	})
	probe := health.NewProbe(nil, nil, logger)

	deployer := deploy.New(runtime, probe, deploy.Options{
		Project:      cfg.Project(),
		Image:        cfg.ImageRef(),
		StartupDelay: cfg.StartupDelay,
		HealthURL:    cfg.HealthURL,
		HealthSchedule: health.Schedule{
			Initial:  cfg.HealthDelay,
			Interval: cfg.HealthInterval,
			Attempts: cfg.HealthAttempts,
		},
		LogTail:        cfg.LogTail,
		FailureLogTail: cfg.FailureLogTail,
		LockTTL:        cfg.LockTTL,
		HistoryLimit:   cfg.HistoryLimit,
	}, logger,
		deploy.WithLocker(backend),
		deploy.WithHistory(backend),
		deploy.WithOutput(printSection(stdout)),
	)

	logger.Info("deploy configured",
		"image", cfg.ImageRef(),
		"compose_file", cfg.ComposeFile,
		"health_url", redactURL(cfg.HealthURL),
		"lock", cfg.HistoryEnabled(),
	)

	if *dryRun {
		if err := deployer.Preflight(ctx); err != nil {
			logger.Error("preflight failed", "error", err)
			return 1
		}
		logger.Info("preflight passed; dry run, no containers changed")
		return 0
	}

	result, err := deployer.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, deploy.ErrRuntimeUnavailable):
			logger.Error("container runtime is not running; start Docker and retry")
		case errors.Is(err, deploy.ErrLocked):
			logger.Error("another deploy holds the lock; wait for it to finish", "lock_ttl", cfg.LockTTL)
		case errors.Is(err, deploy.ErrUnhealthy):
			logger.Error("deployment is unhealthy; inspect the logs above and intervene manually",
				"health_url", redactURL(cfg.HealthURL),
			)
		}
		return 1
	}

	logger.Info("deployment complete", "run_id", result.ID, "duration", result.Duration())
	return 0
}

// printHistory prints the most recent runs, newest first.
func printHistory(ctx context.Context, out io.Writer, logger *slog.Logger, backend store.Backend, project string, n int64) int {
	runs, err := backend.RecentRuns(ctx, project, n)
	if err != nil {
		logger.Error("failed to read deploy history", "error", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no deploys recorded")
		return 0
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tSTATUS\tDURATION\tIMAGE\tHOST\tFAILED STEP")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			r.Duration().Round(time.Second),
			r.Image,
			r.Host,
			r.FailedStep,
		)
	}
	if err := w.Flush(); err != nil {
		logger.Error("failed to print deploy history", "error", err)
		return 1
	}
	return 0
}

// checkAppEnv warns about (or, in strict mode, rejects) an incomplete app .env.
func checkAppEnv(logger *slog.Logger, cfg *config.Config) int {
	report, err := envcheck.Check(cfg.EnvFile)
	if err != nil {
		logger.Error("failed to read application env file", "path", cfg.EnvFile, "error", err)
		return 1
	}
	if report.OK() {
		logger.Debug("application environment complete", "source", report.Source)
		return 0
	}

	for _, p := range report.Problems {
		logger.Warn("application environment variable problem",
			"var", p.Var,
			"kind", p.Kind,
			"source", report.Source,
		)
	}
	if cfg.StrictEnv {
		logger.Error("refusing to deploy with incomplete application environment",
			"error", report.Error(),
		)
		return 1
	}
	return 0
}

// printSection prints command output under a heading.
func printSection(w io.Writer) func(title, body string) {
	return func(title, body string) {
		fmt.Fprintf(w, "----- %s -----\n%s", title, body)
		if !strings.HasSuffix(body, "\n") {
			fmt.Fprintln(w)
		}
	}
}

// initLogger builds the process logger and installs it as the slog default.
func initLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel accepts slog level names (debug, info, warn, error) and
// falls back to info.
func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// redactURL drops the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		if username := parsed.User.Username(); username != "" {
			parsed.User = url.User(username)
		} else {
			parsed.User = url.User("redacted")
		}
	}
	return parsed.String()
}

// sanitizeError replaces each secret URL in err's message with its redacted form.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, secret, redactURL(secret))
	}
	return msg
}
