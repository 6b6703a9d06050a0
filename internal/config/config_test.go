package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := writeEnvFile(t, "DOMAIN=reports.example.com\nPOSTGRES_PORT=5433\nBACKUP_RETENTION_DAYS=7\n")
	t.Setenv("DOMAIN", "")
	os.Unsetenv("DOMAIN")
	t.Setenv("POSTGRES_PORT", "")
	os.Unsetenv("POSTGRES_PORT")
	t.Setenv("BACKUP_RETENTION_DAYS", "")
	os.Unsetenv("BACKUP_RETENTION_DAYS")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Domain != "reports.example.com" {
		t.Fatalf("expected domain from env file, got %q", cfg.Domain)
	}
	if cfg.PostgresPort != 5433 {
		t.Fatalf("expected port 5433, got %d", cfg.PostgresPort)
	}
	if cfg.RetentionDays != 7 {
		t.Fatalf("expected retention 7, got %d", cfg.RetentionDays)
	}
}

func TestLoadProcessEnvWinsOverFile(t *testing.T) {
	path := writeEnvFile(t, "POSTGRES_DB=fromfile\n")
	t.Setenv("POSTGRES_DB", "fromenv")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PostgresDB != "fromenv" {
		t.Fatalf("process env should win, got %q", cfg.PostgresDB)
	}
}

func TestLoadMissingFileIsNotFatal(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing env file should not fail load: %v", err)
	}
}

func TestValidateDeployListsEveryMissingKey(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate(ScopeDeploy)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	for _, key := range []string{"DOMAIN", "ACME_EMAIL", "SECRET_KEY", "LLM_API_KEY", "POSTGRES_PASSWORD"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error should name %s, got: %v", key, err)
		}
	}
}

func TestValidateDeployRejectsPlaceholderSecret(t *testing.T) {
	cfg := Config{
		Domain:           "reports.example.com",
		AcmeEmail:        "ops@example.com",
		SecretKey:        "your-secret-key-CHANGE-THIS-IN-PRODUCTION",
		LLMAPIKey:        "key",
		PostgresPassword: "pw",
	}
	if err := cfg.Validate(ScopeDeploy); err == nil {
		t.Fatalf("placeholder secret must be rejected")
	}
}

func TestValidateBackupScope(t *testing.T) {
	cfg := Config{
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "d",
		BackupDir:        "/tmp/backups",
	}
	if err := cfg.Validate(ScopeBackup); err != nil {
		t.Fatalf("expected backup scope to pass: %v", err)
	}

	cfg.BackupDir = ""
	if err := cfg.Validate(ScopeBackup); err == nil || !strings.Contains(err.Error(), "BACKUP_DIR") {
		t.Fatalf("expected BACKUP_DIR to be reported, got: %v", err)
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := Config{
		PostgresUser:     "rs",
		PostgresPassword: "pw",
		PostgresHost:     "db",
		PostgresPort:     5432,
		PostgresDB:       "reports",
	}
	want := "postgres://rs:pw@db:5432/reports"
	if got := cfg.DatabaseURL(); got != want {
		t.Fatalf("database url mismatch: got %q want %q", got, want)
	}
}
