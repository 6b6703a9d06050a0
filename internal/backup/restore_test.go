package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeStack struct {
	events []string
}

func (f *fakeStack) Stop(_ context.Context, services ...string) error {
	f.events = append(f.events, "stop "+strings.Join(services, " "))
	return nil
}

func (f *fakeStack) Start(_ context.Context, services ...string) error {
	f.events = append(f.events, "start "+strings.Join(services, " "))
	return nil
}

func TestRestoreReplaysDumpAndStorage(t *testing.T) {
	cfg := testConfig(t)
	svc, runner := newTestService(t, cfg)

	info, err := svc.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// mutate the live storage so the restore has something to undo
	if err := os.WriteFile(filepath.Join(cfg.QdrantStorageDir, "dirty.dat"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write dirty file: %v", err)
	}
	runner.calls = nil

	stack := &fakeStack{}
	err = svc.Restore(context.Background(), stack, info.Name, RestoreOptions{Database: true, VectorStore: true})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	// backend stops first, vector store cycles around the storage swap,
	// backend restarts last
	want := []string{"stop backend", "stop qdrant", "start qdrant", "start backend"}
	if len(stack.events) != len(want) {
		t.Fatalf("unexpected stack events: %v", stack.events)
	}
	for i := range want {
		if stack.events[i] != want[i] {
			t.Fatalf("event %d: got %q want %q (all: %v)", i, stack.events[i], want[i], stack.events)
		}
	}

	// schema reset then dump replay, both through psql
	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 psql invocations, got %v", runner.calls)
	}
	if runner.calls[0][0] != "psql" || !strings.Contains(strings.Join(runner.calls[0], " "), "DROP SCHEMA public CASCADE") {
		t.Fatalf("first call should reset the schema: %v", runner.calls[0])
	}
	replay := strings.Join(runner.calls[1], " ")
	if !strings.Contains(replay, "ON_ERROR_STOP=1") || !strings.Contains(replay, "database_") {
		t.Fatalf("second call should replay the dump with ON_ERROR_STOP: %s", replay)
	}

	// storage was replaced from the backup: dirty file gone, original back
	if _, err := os.Stat(filepath.Join(cfg.QdrantStorageDir, "dirty.dat")); !os.IsNotExist(err) {
		t.Fatalf("restore should have replaced the storage directory")
	}
	if _, err := os.Stat(filepath.Join(cfg.QdrantStorageDir, "collections", "seg.dat")); err != nil {
		t.Fatalf("restored storage missing original data: %v", err)
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)
	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err := svc.Restore(context.Background(), &fakeStack{}, "reportstack_backup_19990101_000000", RestoreOptions{Database: true})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected archive-not-found error, got: %v", err)
	}
}

func TestRestoreRequiresSelection(t *testing.T) {
	cfg := testConfig(t)
	svc, _ := newTestService(t, cfg)
	if err := svc.Restore(context.Background(), &fakeStack{}, "anything", RestoreOptions{}); err == nil {
		t.Fatalf("expected error when nothing is selected")
	}
}
