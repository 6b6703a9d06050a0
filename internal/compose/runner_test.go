package compose

import (
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/reportstack/opsctl/internal/logger"
)

// fakeExec records the argv compose would receive and substitutes a shell
// one-liner so no real orchestrator runs.
func fakeExec(recorded *[][]string, script string) func(ctx context.Context, name string, args ...string) *exec.Cmd {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		argv := append([]string{name}, args...)
		*recorded = append(*recorded, argv)
		return exec.CommandContext(ctx, "sh", "-c", script)
	}
}

func newTestRunner(t *testing.T, recorded *[][]string, script string) *Runner {
	t.Helper()
	r, err := NewRunner("docker-compose.yml", "reportstack", "", logger.Discard())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	r.execCommand = fakeExec(recorded, script)
	return r
}

func TestUpBuildsComposeArgv(t *testing.T) {
	var recorded [][]string
	r := newTestRunner(t, &recorded, "exit 0")

	if err := r.Up(context.Background(), "db", "qdrant"); err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("expected one invocation, got %d", len(recorded))
	}
	got := strings.Join(recorded[0], " ")
	want := "docker compose -f docker-compose.yml -p reportstack up -d db qdrant"
	if got != want {
		t.Fatalf("argv mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestRunPropagatesNonZeroExit(t *testing.T) {
	var recorded [][]string
	r := newTestRunner(t, &recorded, "echo boom; exit 3")

	err := r.Build(context.Background())
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "build") {
		t.Fatalf("error should name the failing compose command, got: %v", err)
	}
}

func TestExecUsesNonInteractiveFlag(t *testing.T) {
	var recorded [][]string
	r := newTestRunner(t, &recorded, "exit 0")

	if err := r.Exec(context.Background(), "backend", "python", "init_db.py"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	got := strings.Join(recorded[0], " ")
	if !strings.Contains(got, "exec -T backend python init_db.py") {
		t.Fatalf("unexpected argv: %q", got)
	}
}

func TestPsReturnsOutput(t *testing.T) {
	var recorded [][]string
	r := newTestRunner(t, &recorded, "echo 'NAME STATUS'")

	out, err := r.Ps(context.Background())
	if err != nil {
		t.Fatalf("ps: %v", err)
	}
	if !strings.Contains(out, "NAME STATUS") {
		t.Fatalf("expected captured stdout, got %q", out)
	}
}

func TestNewRunnerRequiresFile(t *testing.T) {
	if _, err := NewRunner("", "p", "", logger.Discard()); err == nil {
		t.Fatalf("expected error for empty compose file")
	}
}
