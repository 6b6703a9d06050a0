package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/reportstack/opsctl/internal/config"
)

// StackController stops and starts services around a restore so nothing
// writes to the stores while they are being replaced.
type StackController interface {
	Stop(ctx context.Context, services ...string) error
	Start(ctx context.Context, services ...string) error
}

// RestoreOptions selects which parts of the backup to restore.
type RestoreOptions struct {
	Database    bool
	VectorStore bool
}

const restoreTimeout = 10 * time.Minute

// Restore replays a named backup. The backend is stopped for the duration;
// the vector store is additionally stopped while its storage directory is
// replaced. Restore is destructive and callers must gate it behind explicit
// operator confirmation.
func (s *Service) Restore(ctx context.Context, stack StackController, name string, opts RestoreOptions) error {
	if !opts.Database && !opts.VectorStore {
		return fmt.Errorf("nothing selected to restore")
	}
	if err := s.cfg.Validate(config.ScopeBackup); err != nil {
		return err
	}

	archivePath := filepath.Join(s.cfg.BackupDir, name+".tar.gz")
	if info, err := s.Find(name); err == nil {
		archivePath = info.ArchivePath
	}
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("backup archive not found: %s", archivePath)
	}

	tempDir := filepath.Join(s.cfg.BackupDir, "restore_temp")
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return fmt.Errorf("create restore temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	s.logger.Info("restore started", "backup", name, "archive", archivePath)
	if err := extractArchive(archivePath, tempDir); err != nil {
		return err
	}
	extracted := filepath.Join(tempDir, name)
	if _, err := os.Stat(extracted); err != nil {
		return fmt.Errorf("extracted backup directory not found: %s", extracted)
	}

	if err := stack.Stop(ctx, s.cfg.BackendService); err != nil {
		return fmt.Errorf("stop backend before restore: %w", err)
	}
	defer func() {
		if err := stack.Start(context.WithoutCancel(ctx), s.cfg.BackendService); err != nil {
			s.logger.Error("restart backend after restore failed", "error", err)
		}
	}()

	if opts.Database {
		if err := s.restoreDatabase(ctx, extracted); err != nil {
			return err
		}
	}
	if opts.VectorStore {
		if err := s.restoreVectorStorage(ctx, stack, extracted); err != nil {
			return err
		}
	}

	s.logger.Info("restore completed", "backup", name)
	return nil
}

func (s *Service) restoreDatabase(ctx context.Context, extracted string) error {
	matches, err := filepath.Glob(filepath.Join(extracted, "database_*.sql"))
	if err != nil || len(matches) == 0 {
		return fmt.Errorf("database dump not found in backup")
	}
	dump := matches[0]
	env := []string{"PGPASSWORD=" + s.cfg.PostgresPassword}
	base := []string{
		"-h", s.cfg.PostgresHost,
		"-p", strconv.Itoa(s.cfg.PostgresPort),
		"-U", s.cfg.PostgresUser,
		"-d", s.cfg.PostgresDB,
	}

	prepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	prepArgs := append(append([]string{}, base...), "-c", "DROP SCHEMA public CASCADE; CREATE SCHEMA public;")
	if out, err := s.run(prepCtx, env, "psql", prepArgs...); err != nil {
		s.logger.Warn("could not reset schema before restore", "error", err, "output", string(out))
	}

	s.logger.Info("restoring database", "dump", filepath.Base(dump))
	restoreCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()
	args := append(append([]string{}, base...), "-f", dump, "-v", "ON_ERROR_STOP=1")
	if out, err := s.run(restoreCtx, env, "psql", args...); err != nil {
		if restoreCtx.Err() != nil {
			return fmt.Errorf("database restore timed out after %s", restoreTimeout)
		}
		return fmt.Errorf("psql restore failed: %w: %s", err, string(out))
	}
	s.logger.Info("database restored")
	return nil
}

func (s *Service) restoreVectorStorage(ctx context.Context, stack StackController, extracted string) error {
	staged := filepath.Join(extracted, "qdrant_storage")
	if _, err := os.Stat(staged); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("backup holds no vector storage, skipping")
			return nil
		}
		return fmt.Errorf("stat staged vector storage: %w", err)
	}
	if err := stack.Stop(ctx, s.cfg.VectorService); err != nil {
		return fmt.Errorf("stop vector store before restore: %w", err)
	}
	if err := os.RemoveAll(s.cfg.QdrantStorageDir); err != nil {
		return fmt.Errorf("clear vector storage dir: %w", err)
	}
	if err := copyTree(staged, s.cfg.QdrantStorageDir); err != nil {
		return fmt.Errorf("restore vector storage: %w", err)
	}
	if err := stack.Start(ctx, s.cfg.VectorService); err != nil {
		return fmt.Errorf("restart vector store after restore: %w", err)
	}
	s.logger.Info("vector storage restored", "dir", s.cfg.QdrantStorageDir)
	return nil
}
