package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is how many timestamped config backups survive cleanup.
	MaxBackups = 3

	// BackupSuffix separates a backup's name from the live config file.
	BackupSuffix = ".bak"
)

// backupName builds the timestamped backup path for a config file:
// config.yaml -> config.yaml.bak.20240131-154500
func backupName(configPath string, at time.Time) string {
	return fmt.Sprintf("%s%s.%s", configPath, BackupSuffix, at.Format("20060102-150405"))
}

// BackupUserConfig snapshots the user config file before a write rewrites
// it, returning the backup path. No user config means nothing to back up:
// empty string, nil error. Older backups beyond MaxBackups are pruned
// best-effort.
func BackupUserConfig() (string, error) {
	if !UserConfigExists() {
		return "", nil
	}
	configPath := GetUserConfigPath()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := backupName(configPath, time.Now())
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	// Pruning is best-effort: a failed cleanup never invalidates the
	// backup that just landed.
	_ = cleanupOldBackups(configPath)

	return backupPath, nil
}

// ListUserConfigBackups returns the user config's backup files, newest
// first.
func ListUserConfigBackups() ([]string, error) {
	configPath := GetUserConfigPath()
	configDir := filepath.Dir(configPath)

	entries, err := os.ReadDir(configDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(configPath) + BackupSuffix + "."
	type backup struct {
		path    string
		modTime time.Time
	}
	var backups []backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(configDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	paths := make([]string, 0, len(backups))
	for _, b := range backups {
		paths = append(paths, b.path)
	}
	return paths, nil
}

// cleanupOldBackups removes backups beyond MaxBackups, keeping the newest.
func cleanupOldBackups(string) error {
	backups, err := ListUserConfigBackups()
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, stale := range backups[MaxBackups:] {
		// Best effort: keep removing the rest even if one fails.
		_ = os.Remove(stale)
	}
	return nil
}

// RestoreUserConfig replaces the user config with a backup's contents.
// The current config, if any, is itself backed up first so a restore is
// never destructive.
func RestoreUserConfig(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}

	if UserConfigExists() {
		if _, err := BackupUserConfig(); err != nil {
			return fmt.Errorf("failed to backup current config before restore: %w", err)
		}
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if err := os.MkdirAll(GetUserConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write restored config: %w", err)
	}
	return nil
}
