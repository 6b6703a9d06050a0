package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Sweep deletes backup archives older than the retention threshold (by file
// modification time) and any beyond the maximum count, newest kept. It
// returns the number of archives removed. Registry entries whose archives
// are gone are dropped as well.
func (s *Service) Sweep(now time.Time) (int, error) {
	if s.cfg.RetentionDays <= 0 && s.cfg.MaxBackups <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.cfg.BackupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read backup dir: %w", err)
	}

	type archive struct {
		path    string
		modTime time.Time
	}
	var archives []archive
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, ".tar.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, archive{
			path:    filepath.Join(s.cfg.BackupDir, name),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].modTime.After(archives[j].modTime)
	})

	var cutoff time.Time
	if s.cfg.RetentionDays > 0 {
		cutoff = now.AddDate(0, 0, -s.cfg.RetentionDays)
	}

	removed := 0
	removedPaths := map[string]bool{}
	for i, a := range archives {
		tooOld := s.cfg.RetentionDays > 0 && a.modTime.Before(cutoff)
		overCount := s.cfg.MaxBackups > 0 && i >= s.cfg.MaxBackups
		if !tooOld && !overCount {
			continue
		}
		if err := os.Remove(a.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("remove old archive %s: %w", a.path, err)
		}
		s.logger.Info("removed old backup", "archive", a.path, "mod_time", a.modTime)
		removedPaths[a.path] = true
		removed++
	}

	if removed > 0 {
		registry, err := s.loadRegistry()
		if err != nil {
			return removed, err
		}
		kept := registry[:0]
		for _, entry := range registry {
			if !removedPaths[entry.ArchivePath] {
				kept = append(kept, entry)
			}
		}
		if err := s.saveRegistry(kept); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
