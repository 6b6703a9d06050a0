// Package backup creates, lists, prunes, and restores timestamped archives
// of the application's relational data, vector-store storage, configuration,
// and certificate material.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/reportstack/opsctl/internal/config"
)

const (
	backupPrefix  = "reportstack_backup_"
	timestampForm = "20060102_150405"
	metadataFile  = "backup_metadata.json"
)

// CommandRunner executes an external command with extra environment entries
// and returns its combined output. Tests substitute a fake so nothing
// shells out.
type CommandRunner func(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, extraEnv []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), extraEnv...)
	return cmd.CombinedOutput()
}

// Service creates and manages backups.
type Service struct {
	cfg    config.Config
	logger *slog.Logger
	run    CommandRunner
	now    func() time.Time
}

// New returns a backup service using real command execution and wall time.
func New(cfg config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, logger: logger, run: execRunner, now: time.Now}
}

// Create produces a full backup: database dump, vector-store storage copy,
// configuration copy, certificate material, metadata, compressed into a
// single timestamped tar.gz in the backup directory. The registry is
// updated and the retention sweep runs afterwards.
func (s *Service) Create(ctx context.Context) (Info, error) {
	if !s.cfg.BackupEnabled {
		return Info{}, fmt.Errorf("backups are disabled (BACKUP_ENABLED=false)")
	}
	if err := s.cfg.Validate(config.ScopeBackup); err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(s.cfg.BackupDir, 0o750); err != nil {
		return Info{}, fmt.Errorf("create backup dir: %w", err)
	}

	started := s.now()
	ts := started.Format(timestampForm)
	name := backupPrefix + ts
	runID := uuid.NewString()
	staging := filepath.Join(s.cfg.BackupDir, name)
	log := s.logger.With("backup", name, "run_id", runID)

	if err := os.MkdirAll(staging, 0o750); err != nil {
		return Info{}, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	log.Info("backup started")

	dbBytes, err := s.dumpDatabase(ctx, staging, ts, log)
	if err != nil {
		return Info{}, err
	}
	if err := s.stageVectorStorage(staging, log); err != nil {
		return Info{}, err
	}
	if err := s.stageConfiguration(staging, log); err != nil {
		return Info{}, err
	}
	if err := s.stageCertificates(staging, log); err != nil {
		return Info{}, err
	}

	info := Info{
		Name:          name,
		RunID:         runID,
		CreatedAt:     started,
		DatabaseBytes: dbBytes,
	}
	meta, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encode backup metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, metadataFile), meta, 0o600); err != nil {
		return Info{}, fmt.Errorf("write backup metadata: %w", err)
	}

	archivePath := filepath.Join(s.cfg.BackupDir, name+".tar.gz")
	if err := compressDir(staging, archivePath, name); err != nil {
		return Info{}, err
	}
	stat, err := os.Stat(archivePath)
	if err != nil {
		return Info{}, fmt.Errorf("stat archive: %w", err)
	}
	info.ArchivePath = archivePath
	info.SizeBytes = stat.Size()

	entries, err := s.loadRegistry()
	if err != nil {
		return Info{}, err
	}
	if err := s.saveRegistry(append(entries, info)); err != nil {
		return Info{}, err
	}

	removed, err := s.Sweep(s.now())
	if err != nil {
		log.Warn("retention sweep failed", "error", err)
	} else if removed > 0 {
		log.Info("retention sweep removed old backups", "count", removed)
	}

	if s.cfg.RemoteBackupPath != "" {
		if err := copyFile(archivePath, filepath.Join(s.cfg.RemoteBackupPath, filepath.Base(archivePath))); err != nil {
			log.Warn("remote backup copy failed", "path", s.cfg.RemoteBackupPath, "error", err)
		} else {
			log.Info("backup copied to remote path", "path", s.cfg.RemoteBackupPath)
		}
	}

	log.Info("backup completed", "archive", archivePath, "size_bytes", info.SizeBytes)
	return info, nil
}

func (s *Service) dumpDatabase(ctx context.Context, staging, ts string, log *slog.Logger) (int64, error) {
	dumpPath := filepath.Join(staging, "database_"+ts+".sql")
	log.Info("dumping database", "db", s.cfg.PostgresDB)

	dumpCtx, cancel := context.WithTimeout(ctx, s.cfg.DumpTimeout)
	defer cancel()

	args := []string{
		"-h", s.cfg.PostgresHost,
		"-p", strconv.Itoa(s.cfg.PostgresPort),
		"-U", s.cfg.PostgresUser,
		"-d", s.cfg.PostgresDB,
		"-F", "p",
		"-f", dumpPath,
		"--no-owner",
		"--no-acl",
	}
	out, err := s.run(dumpCtx, []string{"PGPASSWORD=" + s.cfg.PostgresPassword}, "pg_dump", args...)
	if err != nil {
		if dumpCtx.Err() != nil {
			return 0, fmt.Errorf("pg_dump timed out after %s", s.cfg.DumpTimeout)
		}
		return 0, fmt.Errorf("pg_dump failed: %w: %s", err, string(out))
	}
	stat, err := os.Stat(dumpPath)
	if err != nil {
		return 0, fmt.Errorf("pg_dump produced no file: %w", err)
	}
	log.Info("database dumped", "size_bytes", stat.Size())
	return stat.Size(), nil
}

func (s *Service) stageVectorStorage(staging string, log *slog.Logger) error {
	src := s.cfg.QdrantStorageDir
	if src == "" {
		return nil
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("vector storage directory absent, skipping", "dir", src)
			return nil
		}
		return fmt.Errorf("stat vector storage: %w", err)
	}
	log.Info("staging vector storage", "dir", src)
	if err := copyTree(src, filepath.Join(staging, "qdrant_storage")); err != nil {
		return fmt.Errorf("stage vector storage: %w", err)
	}
	return nil
}

func (s *Service) stageConfiguration(staging string, log *slog.Logger) error {
	dst := filepath.Join(staging, "config")
	count := 0
	for _, path := range []string{s.cfg.EnvFile, s.cfg.ComposeFile} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := copyFile(path, filepath.Join(dst, filepath.Base(path))); err != nil {
			return fmt.Errorf("stage config file %s: %w", path, err)
		}
		count++
	}
	log.Info("configuration staged", "files", count)
	return nil
}

func (s *Service) stageCertificates(staging string, log *slog.Logger) error {
	src := s.cfg.CertDir
	if src == "" {
		return nil
	}
	if _, err := os.Stat(src); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("certificate directory absent, skipping", "dir", src)
			return nil
		}
		return fmt.Errorf("stat certificate dir: %w", err)
	}
	if err := copyTree(src, filepath.Join(staging, "certs")); err != nil {
		return fmt.Errorf("stage certificates: %w", err)
	}
	log.Info("certificate material staged", "dir", src)
	return nil
}
