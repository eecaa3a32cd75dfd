// Package deploy orchestrates a redeploy of a pre-built container image.
//
// The sequence is fixed: ping the runtime, pull, tear down, start, wait,
// show status and logs, probe health, then prune on success or dump
// extended logs on failure. Steps never run concurrently.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tangyuling/deploy/internal/health"
	"github.com/tangyuling/deploy/internal/model"
	"github.com/tangyuling/deploy/internal/store"
)

// Sentinel errors for deploy operations.
var (
	ErrRuntimeUnavailable = errors.New("container runtime is not reachable")
	ErrLocked             = errors.New("another deploy is in progress")
	ErrUnhealthy          = health.ErrUnhealthy
)

// Runtime is the container runtime surface a deploy needs.
type Runtime interface {
	Ping(ctx context.Context) error
	Pull(ctx context.Context) error
	Down(ctx context.Context) error
	Up(ctx context.Context) error
	Status(ctx context.Context) (string, error)
	Logs(ctx context.Context, tail int) (string, error)
	PruneImages(ctx context.Context) (string, error)
}

// HealthChecker waits for the deployed service to report healthy.
type HealthChecker interface {
	Wait(ctx context.Context, url string, schedule health.Schedule) (*health.Result, error)
}

// Locker guards against concurrent deploys of the same project.
type Locker interface {
	AcquireLock(ctx context.Context, project string, ttl time.Duration) (*store.Lease, error)
	ReleaseLock(ctx context.Context, lease *store.Lease) error
}

// History records finished runs.
type History interface {
	RecordRun(ctx context.Context, project string, run *model.Run, limit int64) error
}

// Options configure a Deployer.
type Options struct {
	Project        string
	Image          string
	StartupDelay   time.Duration
	HealthURL      string
	HealthSchedule health.Schedule
	LogTail        int
	FailureLogTail int
	LockTTL        time.Duration
	HistoryLimit   int64
}

// Deployer runs the deployment sequence.
type Deployer struct {
	runtime Runtime
	health  HealthChecker
	locker  Locker
	history History
	sleep   health.SleepFunc
	now     func() time.Time
	opts    Options
	logger  *slog.Logger
	out     func(title, body string)
}

// Option customizes a Deployer.
type Option func(*Deployer)

// WithLocker enables the deploy lock.
func WithLocker(l Locker) Option {
	return func(d *Deployer) { d.locker = l }
}

// WithHistory enables run history.
func WithHistory(h History) Option {
	return func(d *Deployer) { d.history = h }
}

// WithSleep replaces the sleep used for the startup delay.
func WithSleep(fn health.SleepFunc) Option {
	return func(d *Deployer) { d.sleep = fn }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deployer) { d.now = now }
}

// WithOutput replaces how command output (ps, logs) is shown to the operator.
func WithOutput(fn func(title, body string)) Option {
	return func(d *Deployer) { d.out = fn }
}

// New creates a Deployer. Without WithLocker/WithHistory the deploy runs
// unlocked and keeps no history.
func New(runtime Runtime, checker HealthChecker, opts Options, logger *slog.Logger, options ...Option) *Deployer {
	noop := store.NewNoop()
	d := &Deployer{
		runtime: runtime,
		health:  checker,
		locker:  noop,
		history: noop,
		sleep:   health.Sleep,
		now:     time.Now,
		opts:    opts,
		logger:  logger.With("component", "deploy"),
	}
	d.out = d.logOutput
	for _, o := range options {
		o(d)
	}
	return d
}

// Run executes the deployment sequence.
// The returned Run is always non-nil and describes every executed step.
func (d *Deployer) Run(ctx context.Context) (*model.Run, error) {
	run := &model.Run{
		ID:        ulid.Make().String(),
		Image:     d.opts.Image,
		Status:    model.RunStatusRunning,
		StartedAt: d.now().UTC(),
	}
	if host, err := os.Hostname(); err == nil {
		run.Host = host
	}

	logger := d.logger.With("run_id", run.ID, "image", run.Image)
	logger.Info("deploy started")

	// Nothing is touched on an unreachable host.
	if err := d.step(ctx, run, model.StepPing, d.runtime.Ping); err != nil {
		err = fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		return d.finish(ctx, logger, run, model.StepPing, err)
	}

	lease, err := d.lock(ctx, run)
	if err != nil {
		return d.finish(ctx, logger, run, model.StepLock, err)
	}
	defer d.unlock(logger, lease)

	failedStep, err := d.rollout(ctx, logger, run)
	return d.finish(ctx, logger, run, failedStep, err)
}

// Preflight checks the runtime is reachable without changing anything.
func (d *Deployer) Preflight(ctx context.Context) error {
	if err := d.runtime.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

// rollout runs every step after the lock. It returns the failed step, if any.
func (d *Deployer) rollout(ctx context.Context, logger *slog.Logger, run *model.Run) (model.Step, error) {
	for _, s := range []struct {
		name model.Step
		fn   func(context.Context) error
	}{
		{model.StepPull, d.runtime.Pull},
		{model.StepDown, d.runtime.Down},
		{model.StepUp, d.runtime.Up},
	} {
		logger.Info("running step", "step", s.name)
		if err := d.step(ctx, run, s.name, s.fn); err != nil {
			return s.name, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	logger.Info("waiting for containers to start", "delay", d.opts.StartupDelay)
	if err := d.step(ctx, run, model.StepWait, func(ctx context.Context) error {
		return d.sleep(ctx, d.opts.StartupDelay)
	}); err != nil {
		return model.StepWait, err
	}

	d.show(ctx, logger, run, model.StepStatus, "container status", d.runtime.Status)
	d.show(ctx, logger, run, model.StepLogs, "recent logs", func(ctx context.Context) (string, error) {
		return d.runtime.Logs(ctx, d.opts.LogTail)
	})

	logger.Info("checking service health",
		"url", d.opts.HealthURL,
		"attempts", d.opts.HealthSchedule.Attempts,
		"window", d.opts.HealthSchedule.Window(),
	)
	healthErr := d.step(ctx, run, model.StepHealth, func(ctx context.Context) error {
		_, err := d.health.Wait(ctx, d.opts.HealthURL, d.opts.HealthSchedule)
		return err
	})
	if healthErr != nil {
		if ctx.Err() != nil {
			return model.StepHealth, healthErr
		}
		logger.Error("health check failed, collecting logs", "error", healthErr)
		d.show(ctx, logger, run, model.StepFailureLogs, "failure logs", func(ctx context.Context) (string, error) {
			return d.runtime.Logs(ctx, d.opts.FailureLogTail)
		})
		if !errors.Is(healthErr, ErrUnhealthy) {
			healthErr = fmt.Errorf("%w: %v", ErrUnhealthy, healthErr)
		}
		return model.StepHealth, healthErr
	}

	// A failed prune does not undo a healthy rollout.
	d.show(ctx, logger, run, model.StepPrune, "image prune", d.runtime.PruneImages)

	return "", nil
}

// step times fn and records its result on run.
func (d *Deployer) step(ctx context.Context, run *model.Run, name model.Step, fn func(context.Context) error) error {
	start := d.now()
	err := fn(ctx)
	run.Record(name, d.now().Sub(start), err)
	return err
}

// show runs an informational command and prints its output. Errors are logged only.
func (d *Deployer) show(ctx context.Context, logger *slog.Logger, run *model.Run, name model.Step, title string, fn func(context.Context) (string, error)) {
	var out string
	err := d.step(ctx, run, name, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		logger.Warn("step failed", "step", name, "error", err)
	}
	if strings.TrimSpace(out) != "" {
		d.out(title, out)
	}
}

func (d *Deployer) lock(ctx context.Context, run *model.Run) (*store.Lease, error) {
	var lease *store.Lease
	err := d.step(ctx, run, model.StepLock, func(ctx context.Context) error {
		var err error
		lease, err = d.locker.AcquireLock(ctx, d.opts.Project, d.opts.LockTTL)
		if err != nil {
			return err
		}
		if lease == nil {
			return ErrLocked
		}
		return nil
	})
	return lease, err
}

func (d *Deployer) unlock(logger *slog.Logger, lease *store.Lease) {
	// Release even if the deploy context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.locker.ReleaseLock(ctx, lease); err != nil {
		logger.Warn("failed to release deploy lock", "error", err)
	}
}

func (d *Deployer) finish(ctx context.Context, logger *slog.Logger, run *model.Run, failedStep model.Step, err error) (*model.Run, error) {
	run.Finish(d.now().UTC(), failedStep, err)

	recordCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if recErr := d.history.RecordRun(recordCtx, d.opts.Project, run, d.opts.HistoryLimit); recErr != nil {
		logger.Warn("failed to record deploy history", "error", recErr)
	}

	if err != nil {
		logger.Error("deploy failed",
			"step", failedStep,
			"duration", run.Duration(),
			"error", err,
		)
		return run, err
	}

	logger.Info("deploy succeeded", "duration", run.Duration())
	return run, nil
}

// logOutput prints command output under a heading.
func (d *Deployer) logOutput(title, body string) {
	fmt.Fprintf(os.Stdout, "----- %s -----\n%s", title, body)
	if !strings.HasSuffix(body, "\n") {
		fmt.Fprintln(os.Stdout)
	}
}
