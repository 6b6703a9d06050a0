// Package compose shells out to Docker Compose, the external orchestrator
// for the application stack. Every invocation is fail-fast: the first
// non-zero exit aborts the calling pipeline.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Runner executes docker compose commands against one project.
type Runner struct {
	bin     string
	file    string
	project string
	dir     string
	logger  *slog.Logger

	// execCommand is swapped by tests so nothing shells out for real.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewRunner builds a Runner for the given compose file and project name.
func NewRunner(file, project, dir string, logger *slog.Logger) (*Runner, error) {
	if strings.TrimSpace(file) == "" {
		return nil, fmt.Errorf("compose file required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		bin:         "docker",
		file:        file,
		project:     project,
		dir:         dir,
		logger:      logger,
		execCommand: exec.CommandContext,
	}, nil
}

// Up starts the named services detached; with no services it starts the
// whole stack.
func (r *Runner) Up(ctx context.Context, services ...string) error {
	args := append([]string{"up", "-d"}, services...)
	return r.run(ctx, args...)
}

// Down tears the stack down. Volumes are preserved.
func (r *Runner) Down(ctx context.Context) error {
	return r.run(ctx, "down", "--remove-orphans")
}

// Build builds images for the named services (or all).
func (r *Runner) Build(ctx context.Context, services ...string) error {
	args := append([]string{"build"}, services...)
	return r.run(ctx, args...)
}

// Pull fetches upstream images for the named services (or all).
func (r *Runner) Pull(ctx context.Context, services ...string) error {
	args := append([]string{"pull"}, services...)
	return r.run(ctx, args...)
}

// Stop stops the named services without removing them.
func (r *Runner) Stop(ctx context.Context, services ...string) error {
	args := append([]string{"stop"}, services...)
	return r.run(ctx, args...)
}

// Start starts previously created services.
func (r *Runner) Start(ctx context.Context, services ...string) error {
	args := append([]string{"start"}, services...)
	return r.run(ctx, args...)
}

// RunRm runs a one-shot command in a temporary container for service.
func (r *Runner) RunRm(ctx context.Context, service string, cmd ...string) error {
	args := append([]string{"run", "--rm", service}, cmd...)
	return r.run(ctx, args...)
}

// Exec runs a command inside the running container for service.
func (r *Runner) Exec(ctx context.Context, service string, cmd ...string) error {
	args := append([]string{"exec", "-T", service}, cmd...)
	return r.run(ctx, args...)
}

// Ps returns the raw process listing for the project.
func (r *Runner) Ps(ctx context.Context) (string, error) {
	return r.output(ctx, "ps")
}

func (r *Runner) baseArgs() []string {
	args := []string{"compose", "-f", r.file}
	if r.project != "" {
		args = append(args, "-p", r.project)
	}
	return args
}

func (r *Runner) run(ctx context.Context, args ...string) error {
	full := append(r.baseArgs(), args...)
	cmd := r.execCommand(ctx, r.bin, full...)
	cmd.Dir = r.dir
	cmd.Env = os.Environ()

	sink := &lineWriter{logger: r.logger}
	cmd.Stdout = sink
	cmd.Stderr = sink

	r.logger.Info("compose invocation", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		sink.flush()
		return fmt.Errorf("compose %s failed: %w", strings.Join(args, " "), err)
	}
	sink.flush()
	return nil
}

// lineWriter forwards whole lines of subprocess output to the logger.
type lineWriter struct {
	logger *slog.Logger
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line != "" {
			w.logger.Info("compose output", "line", line)
		}
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	line := strings.TrimSpace(string(w.buf))
	w.buf = nil
	if line != "" {
		w.logger.Info("compose output", "line", line)
	}
}

func (r *Runner) output(ctx context.Context, args ...string) (string, error) {
	full := append(r.baseArgs(), args...)
	cmd := r.execCommand(ctx, r.bin, full...)
	cmd.Dir = r.dir
	cmd.Env = os.Environ()
	var buf strings.Builder
	cmd.Stdout = &buf
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compose %s failed: %w", strings.Join(args, " "), err)
	}
	return buf.String(), nil
}
