package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/corvase/sinfarwatch/internal/appinfo"
)

// defaultDataDir returns the data directory used when none is
// configured: ~/.config/sinfarwatch or the platform equivalent.
func defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(base, appinfo.DirName), nil
}

// EnsureDataDir creates the configured data directory if needed.
func EnsureDataDir(cfg *Config) error {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("create data dir %q: %w", cfg.Storage.DataDir, err)
	}
	return nil
}
