// Package compose drives the container runtime through its command line.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// CommandError describes a runtime command that exited unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err == nil {
		return buf.Bytes(), nil
	}

	cmdErr := &CommandError{
		Args:     append([]string{name}, args...),
		ExitCode: -1,
		Output:   buf.String(),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	return buf.Bytes(), cmdErr
}

// Options configure a Compose instance.
type Options struct {
	// DockerBinary is used for daemon-level commands (info, image prune).
	DockerBinary string
	// Command is the compose invocation, e.g. ["docker", "compose"].
	Command []string
	// File is passed with -f when set.
	File string
	// Project is passed with -p when set.
	Project string
	// Env is appended to the child process environment so the compose
	// file can interpolate registry and image variables.
	Env []string
}

// Compose wraps compose commands for a single stack.
type Compose struct {
	runner Runner
	opts   Options
}

// New creates a Compose. A nil runner defaults to ExecRunner.
func New(runner Runner, opts Options) *Compose {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.DockerBinary == "" {
		opts.DockerBinary = "docker"
	}
	if len(opts.Command) == 0 {
		opts.Command = []string{opts.DockerBinary, "compose"}
	}
	return &Compose{runner: runner, opts: opts}
}

// Ping verifies the container daemon is reachable.
func (c *Compose) Ping(ctx context.Context) error {
	_, err := c.runner.Run(ctx, c.opts.Env, c.opts.DockerBinary, "info", "--format", "{{.ServerVersion}}")
	return err
}

// Pull fetches the latest images referenced by the compose file.
func (c *Compose) Pull(ctx context.Context) error {
	_, err := c.compose(ctx, "pull")
	return err
}

// Down stops and removes the running containers.
func (c *Compose) Down(ctx context.Context) error {
	_, err := c.compose(ctx, "down")
	return err
}

// Up starts the containers detached.
func (c *Compose) Up(ctx context.Context) error {
	_, err := c.compose(ctx, "up", "-d")
	return err
}

// Status returns the container listing.
func (c *Compose) Status(ctx context.Context) (string, error) {
	out, err := c.compose(ctx, "ps")
	return string(out), err
}

// Logs returns the last tail lines of every service's log.
func (c *Compose) Logs(ctx context.Context, tail int) (string, error) {
	out, err := c.compose(ctx, "logs", "--no-color", "--tail="+strconv.Itoa(tail))
	return string(out), err
}

// PruneImages removes dangling images.
func (c *Compose) PruneImages(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, c.opts.Env, c.opts.DockerBinary, "image", "prune", "-f")
	return string(out), err
}

func (c *Compose) compose(ctx context.Context, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, c.opts.Env, c.opts.Command[0], c.args(args...)...)
}

// args builds the argument list following the compose binary.
func (c *Compose) args(sub ...string) []string {
	out := append([]string{}, c.opts.Command[1:]...)
	if c.opts.File != "" {
		out = append(out, "-f", c.opts.File)
	}
	if c.opts.Project != "" {
		out = append(out, "-p", c.opts.Project)
	}
	return append(out, sub...)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
