package main

import (
	"strings"
	"testing"
)

func TestCommandBackupRequiresSubcommand(t *testing.T) {
	err := commandBackup(nil)
	if err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("expected usage error, got: %v", err)
	}
}

func TestCommandBackupRejectsUnknownSubcommand(t *testing.T) {
	err := commandBackup([]string{"explode"})
	if err == nil || !strings.Contains(err.Error(), "unknown backup command") {
		t.Fatalf("expected unknown subcommand error, got: %v", err)
	}
}

func TestCommandCertsRejectsUnknownSubcommand(t *testing.T) {
	err := commandCerts([]string{"revoke"})
	if err == nil || !strings.Contains(err.Error(), "unknown certs command") {
		t.Fatalf("expected unknown subcommand error, got: %v", err)
	}
}

func TestBackupDeleteRequiresName(t *testing.T) {
	err := backupDelete(nil)
	if err == nil || !strings.Contains(err.Error(), "--name is required") {
		t.Fatalf("expected missing name error, got: %v", err)
	}
}

func TestBackupRestoreRequiresName(t *testing.T) {
	err := backupRestore([]string{"--yes"})
	if err == nil || !strings.Contains(err.Error(), "--name is required") {
		t.Fatalf("expected missing name error, got: %v", err)
	}
}

func TestBackupRestoreReportsMissingArchive(t *testing.T) {
	t.Setenv("BACKUP_DIR", t.TempDir())
	t.Setenv("POSTGRES_PASSWORD", "pw")

	err := backupRestore([]string{"--yes", "--name", "reportstack_backup_20990101_000000"})
	if err == nil || !strings.Contains(err.Error(), "backup archive not found") {
		t.Fatalf("expected missing archive error, got: %v", err)
	}
}
