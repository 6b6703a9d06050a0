// Package config builds the immutable runtime configuration for opsctl.
// Values come from a dotenv file overlaid with the process environment and
// are read exactly once at startup. Any subcommand that mutates state must
// call Validate with its scope before touching the stack.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Placeholder secret shipped in .env.example; deploys must never run with it.
const insecureSecretMarker = "CHANGE-THIS"

// Config is the full configuration surface for every opsctl subcommand.
type Config struct {
	Environment string

	// Public endpoint and ACME registration.
	Domain    string
	AcmeEmail string

	// Relational database.
	PostgresHost     string
	PostgresPort     int
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	// Vector store.
	QdrantHost       string
	QdrantPort       int
	QdrantStorageDir string

	// Cache.
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string

	// Application secrets passed through to the backend.
	SecretKey string
	LLMAPIKey string

	// Orchestration.
	ComposeFile    string
	ComposeProject string
	EnvFile        string

	BackendService  string
	FrontendService string
	DatabaseService string
	VectorService   string
	CacheService    string
	ProxyService    string
	HealthURL       string
	BackendInitCmd  string

	// Backups.
	BackupEnabled    bool
	BackupDir        string
	RetentionDays    int
	MaxBackups       int
	RemoteBackupPath string
	DumpTimeout      time.Duration

	// Certificates.
	CertDir       string
	CertStaging   bool
	CertbotSvc    string
	RenewalWindow time.Duration

	// Readiness polling.
	ReadyAttempts int
	ReadyInterval time.Duration
}

// Load reads envFile (when it exists) into the process environment without
// overriding variables already set, then snapshots everything into a Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
			}
		}
	}

	cfg := Config{
		Environment: GetString("APP_ENV", "development"),

		Domain:    strings.TrimSpace(GetString("DOMAIN", "")),
		AcmeEmail: strings.TrimSpace(GetString("ACME_EMAIL", "")),

		PostgresHost:     GetString("POSTGRES_HOST", "postgres"),
		PostgresPort:     GetInt("POSTGRES_PORT", 5432),
		PostgresDB:       GetString("POSTGRES_DB", "reportstack"),
		PostgresUser:     GetString("POSTGRES_USER", "reportstack"),
		PostgresPassword: GetString("POSTGRES_PASSWORD", ""),

		QdrantHost:       GetString("QDRANT_HOST", "qdrant"),
		QdrantPort:       GetInt("QDRANT_PORT", 6333),
		QdrantStorageDir: GetString("QDRANT_STORAGE_DIR", "/var/lib/reportstack/qdrant"),

		RedisHost:     GetString("REDIS_HOST", "redis"),
		RedisPort:     GetInt("REDIS_PORT", 6379),
		RedisDB:       GetInt("REDIS_DB", 0),
		RedisPassword: GetString("REDIS_PASSWORD", ""),

		SecretKey: GetString("SECRET_KEY", ""),
		LLMAPIKey: GetString("LLM_API_KEY", GetString("GEMINI_API_KEY", "")),

		ComposeFile:    GetString("COMPOSE_FILE", "docker-compose.yml"),
		ComposeProject: GetString("COMPOSE_PROJECT", "reportstack"),
		EnvFile:        envFile,

		BackendService:  GetString("BACKEND_SERVICE", "backend"),
		FrontendService: GetString("FRONTEND_SERVICE", "frontend"),
		DatabaseService: GetString("DATABASE_SERVICE", "db"),
		VectorService:   GetString("VECTOR_SERVICE", "qdrant"),
		CacheService:    GetString("CACHE_SERVICE", "redis"),
		ProxyService:    GetString("PROXY_SERVICE", "nginx"),
		HealthURL:       GetString("BACKEND_HEALTH_URL", "http://localhost:8000/health"),
		BackendInitCmd:  GetString("BACKEND_INIT_CMD", "python init_db.py"),

		BackupEnabled:    GetBool("BACKUP_ENABLED", true),
		BackupDir:        GetString("BACKUP_DIR", "/var/backups/reportstack"),
		RetentionDays:    GetInt("BACKUP_RETENTION_DAYS", 30),
		MaxBackups:       GetInt("MAX_BACKUPS", 50),
		RemoteBackupPath: GetString("REMOTE_BACKUP_PATH", ""),
		DumpTimeout:      GetSeconds("PG_DUMP_TIMEOUT_SECONDS", 5*time.Minute),

		CertDir:       GetString("CERT_DIR", "/etc/letsencrypt"),
		CertStaging:   GetBool("CERTBOT_STAGING", false),
		CertbotSvc:    GetString("CERTBOT_SERVICE", "certbot"),
		RenewalWindow: GetSeconds("CERT_RENEWAL_WINDOW_SECONDS", 30*24*time.Hour),

		ReadyAttempts: GetInt("READY_ATTEMPTS", 30),
		ReadyInterval: GetSeconds("READY_INTERVAL_SECONDS", 2*time.Second),
	}
	return cfg, nil
}

// Scope narrows Validate to the keys a subcommand actually needs.
type Scope int

const (
	ScopeBackup Scope = iota
	ScopeBootstrap
	ScopeDeploy
	ScopeCerts
)

// Validate reports every missing or unusable key for the given scope in a
// single error so the operator can fix the file in one pass. It must be
// called before any build, teardown, dump, or certificate action.
func (c Config) Validate(scope Scope) error {
	var missing []string
	require := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}

	switch scope {
	case ScopeBackup:
		require("POSTGRES_USER", c.PostgresUser)
		require("POSTGRES_PASSWORD", c.PostgresPassword)
		require("POSTGRES_DB", c.PostgresDB)
		require("BACKUP_DIR", c.BackupDir)
	case ScopeBootstrap:
		require("POSTGRES_USER", c.PostgresUser)
		require("POSTGRES_PASSWORD", c.PostgresPassword)
		require("POSTGRES_DB", c.PostgresDB)
	case ScopeDeploy:
		require("DOMAIN", c.Domain)
		require("ACME_EMAIL", c.AcmeEmail)
		require("SECRET_KEY", c.SecretKey)
		require("LLM_API_KEY", c.LLMAPIKey)
		require("POSTGRES_PASSWORD", c.PostgresPassword)
	case ScopeCerts:
		require("DOMAIN", c.Domain)
		require("ACME_EMAIL", c.AcmeEmail)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if scope == ScopeDeploy && strings.Contains(c.SecretKey, insecureSecretMarker) {
		return fmt.Errorf("SECRET_KEY still holds the example placeholder; generate one with openssl rand -hex 32")
	}
	return nil
}

// DatabaseURL renders the pgx connection string for the relational store.
func (c Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.PostgresUser, c.PostgresPassword,
		net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		c.PostgresDB)
}

// RedisAddr renders the host:port pair for the cache.
func (c Config) RedisAddr() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// QdrantReadyURL is the vector store's readiness endpoint.
func (c Config) QdrantReadyURL() string {
	return fmt.Sprintf("http://%s/readyz", net.JoinHostPort(c.QdrantHost, strconv.Itoa(c.QdrantPort)))
}
