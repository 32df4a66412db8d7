package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is the daemon's runtime configuration: defaults, overlaid by the
// TOML file, overlaid in turn by environment variables.
type Config struct {
	Daemon struct {
		Port          int    `toml:"port"`
		ControlSocket string `toml:"control_socket"`
	} `toml:"daemon"`
	Discovery struct {
		Enabled     bool   `toml:"enabled"`
		ServiceName string `toml:"service_name"`
	} `toml:"discovery"`
	Session struct {
		RingCapacity       int `toml:"ring_capacity"`
		QueueHighWaterMark int `toml:"queue_high_water_mark"`
	} `toml:"session"`
	Audit struct {
		DBPath  string `toml:"db_path"`
		Enabled bool   `toml:"enabled"`
	} `toml:"audit"`
}

// ControlSocketPath is a convenience accessor: most callers only care about the
// path, not which config section it lives under.
func (c *Config) ControlSocketPath() string { return c.Daemon.ControlSocket }

// Defaults returns the configuration a daemon runs with when no file and no
// environment overrides are present.
func Defaults() *Config {
	c := &Config{}
	c.Daemon.Port = 7117
	c.Daemon.ControlSocket = "/tmp/wormhole.sock"
	c.Discovery.Enabled = true
	c.Discovery.ServiceName = ""
	c.Session.RingCapacity = 1000
	c.Session.QueueHighWaterMark = 4096
	c.Audit.DBPath = defaultDBPath()
	c.Audit.Enabled = true
	return c
}

// defaultDBPath resolves to ~/.wormhole/audit.db; if the home directory
// can't be resolved the audit log simply falls back to in-memory (audit.Open
// treats an empty path that way), which never blocks daemon startup.
func defaultDBPath() string {
	dir, err := DefaultDataDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "audit.db")
}

// Load reads path (a TOML file) on top of Defaults, then applies environment
// variable overrides. A missing file is not an error — it just means the
// defaults (possibly env-overridden) are used as-is.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// No config file; defaults stand.
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays WORMHOLE_* environment variables, which always win over
// both the file and the built-in defaults.
func (c *Config) applyEnv() error {
	if v := os.Getenv("WORMHOLE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: WORMHOLE_PORT: %w", err)
		}
		c.Daemon.Port = port
	}
	if v := os.Getenv("WORMHOLE_DISCOVERY_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: WORMHOLE_DISCOVERY_ENABLED: %w", err)
		}
		c.Discovery.Enabled = enabled
	}
	if v := os.Getenv("WORMHOLE_CONTROL_SOCKET"); v != "" {
		c.Daemon.ControlSocket = v
	}
	if v := os.Getenv("WORMHOLE_DB_PATH"); v != "" {
		c.Audit.DBPath = v
	}
	return nil
}
