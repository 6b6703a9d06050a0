package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const registryFile = "backup_registry.json"

// Info describes one completed backup in the registry.
type Info struct {
	Name          string    `json:"backup_name"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	ArchivePath   string    `json:"archive_path"`
	SizeBytes     int64     `json:"size_bytes"`
	DatabaseBytes int64     `json:"database_bytes"`
}

// ErrNotFound is returned when a named backup is absent from the registry.
var ErrNotFound = errors.New("backup not found")

func (s *Service) registryPath() string {
	return filepath.Join(s.cfg.BackupDir, registryFile)
}

func (s *Service) loadRegistry() ([]Info, error) {
	data, err := os.ReadFile(s.registryPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup registry: %w", err)
	}
	var entries []Info
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse backup registry: %w", err)
	}
	return entries, nil
}

func (s *Service) saveRegistry(entries []Info) error {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup registry: %w", err)
	}
	if err := os.WriteFile(s.registryPath(), data, 0o600); err != nil {
		return fmt.Errorf("write backup registry: %w", err)
	}
	return nil
}

// List returns all registered backups, newest first.
func (s *Service) List() ([]Info, error) {
	entries, err := s.loadRegistry()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Find returns the registry entry for a named backup.
func (s *Service) Find(name string) (Info, error) {
	entries, err := s.loadRegistry()
	if err != nil {
		return Info{}, err
	}
	for _, entry := range entries {
		if entry.Name == name {
			return entry, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Delete removes a backup archive and its registry entry.
func (s *Service) Delete(name string) error {
	entries, err := s.loadRegistry()
	if err != nil {
		return err
	}
	kept := entries[:0]
	found := false
	for _, entry := range entries {
		if entry.Name != name {
			kept = append(kept, entry)
			continue
		}
		found = true
		if err := os.Remove(entry.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove archive %s: %w", entry.ArchivePath, err)
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.saveRegistry(kept)
}
