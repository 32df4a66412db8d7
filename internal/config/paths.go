package config

import (
	"os"
	"path/filepath"
)

// DefaultConfigPath returns the conventional location of the daemon's TOML
// config file, honoring $WORMHOLE_CONFIG before falling back to
// ~/.config/wormhole/config.toml.
func DefaultConfigPath() (string, error) {
	if p := os.Getenv("WORMHOLE_CONFIG"); p != "" {
		return p, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		homeDir, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", homeErr
		}
		dir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(dir, "wormhole", "config.toml"), nil
}

// DefaultDataDir returns the conventional location for daemon-owned state
// that does outlive a single process (the audit database).
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".wormhole"), nil
}

// EnsureDataDir creates dir (and any parents) if it does not already exist.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
