package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touchArchive(t *testing.T, dir, name string, age time.Duration, now time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("archive"), 0o600); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	mod := now.Add(-age)
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func TestSweepRemovesExpiredArchives(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 7
	cfg.MaxBackups = 50
	svc, _ := newTestService(t, cfg)
	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	fresh := touchArchive(t, cfg.BackupDir, backupPrefix+"20260825_120000.tar.gz", 24*time.Hour, now)
	stale := touchArchive(t, cfg.BackupDir, backupPrefix+"20260801_120000.tar.gz", 25*24*time.Hour, now)
	unrelated := touchArchive(t, cfg.BackupDir, "notes.tar.gz", 90*24*time.Hour, now)

	removed, err := svc.Sweep(now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 archive removed, got %d", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale archive should be gone")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh archive should survive: %v", err)
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatalf("non-backup files must never be swept: %v", err)
	}
}

func TestSweepEnforcesMaxCount(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 365
	cfg.MaxBackups = 2
	svc, _ := newTestService(t, cfg)
	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	newest := touchArchive(t, cfg.BackupDir, backupPrefix+"20260825_000000.tar.gz", 1*24*time.Hour, now)
	middle := touchArchive(t, cfg.BackupDir, backupPrefix+"20260820_000000.tar.gz", 6*24*time.Hour, now)
	oldest := touchArchive(t, cfg.BackupDir, backupPrefix+"20260810_000000.tar.gz", 16*24*time.Hour, now)

	removed, err := svc.Sweep(now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 archive removed, got %d", removed)
	}
	for _, path := range []string{newest, middle} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("newest archives should survive: %v", err)
		}
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Fatalf("oldest archive beyond max count should be gone")
	}
}

func TestSweepDropsRegistryEntriesForRemovedArchives(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 7
	svc, _ := newTestService(t, cfg)
	if err := os.MkdirAll(cfg.BackupDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	stale := touchArchive(t, cfg.BackupDir, backupPrefix+"20260701_000000.tar.gz", 56*24*time.Hour, now)
	entries := []Info{{
		Name:        backupPrefix + "20260701_000000",
		CreatedAt:   now.Add(-56 * 24 * time.Hour),
		ArchivePath: stale,
	}}
	if err := svc.saveRegistry(entries); err != nil {
		t.Fatalf("seed registry: %v", err)
	}

	if _, err := svc.Sweep(now); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	remaining, err := svc.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("registry should be empty after sweep, got %+v", remaining)
	}
}

func TestSweepNoopWithoutPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetentionDays = 0
	cfg.MaxBackups = 0
	svc, _ := newTestService(t, cfg)
	if removed, err := svc.Sweep(time.Now()); err != nil || removed != 0 {
		t.Fatalf("expected noop sweep, got %d, %v", removed, err)
	}
}
