package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Daemon.Port != 7117 {
		t.Errorf("expected default port 7117, got %d", cfg.Daemon.Port)
	}
	if !cfg.Discovery.Enabled {
		t.Errorf("expected discovery enabled by default")
	}
	if !cfg.Audit.Enabled {
		t.Errorf("expected audit enabled by default")
	}
	if cfg.Session.RingCapacity != 1000 {
		t.Errorf("expected default ring capacity 1000, got %d", cfg.Session.RingCapacity)
	}
	if cfg.Session.QueueHighWaterMark != 4096 {
		t.Errorf("expected default queue high-water mark 4096, got %d", cfg.Session.QueueHighWaterMark)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[daemon]
port = 9000
control_socket = "/tmp/custom.sock"

[discovery]
enabled = false
service_name = "my-laptop"

[session]
ring_capacity = 500
queue_high_water_mark = 2048

[audit]
db_path = "/var/lib/wormhole/audit.db"
enabled = false
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Daemon.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Daemon.Port)
	}
	if cfg.Daemon.ControlSocket != "/tmp/custom.sock" {
		t.Errorf("unexpected control socket %q", cfg.Daemon.ControlSocket)
	}
	if cfg.Discovery.Enabled {
		t.Errorf("expected discovery disabled")
	}
	if cfg.Discovery.ServiceName != "my-laptop" {
		t.Errorf("unexpected service name %q", cfg.Discovery.ServiceName)
	}
	if cfg.Session.RingCapacity != 500 {
		t.Errorf("unexpected ring capacity %d", cfg.Session.RingCapacity)
	}
	if cfg.Session.QueueHighWaterMark != 2048 {
		t.Errorf("unexpected queue high-water mark %d", cfg.Session.QueueHighWaterMark)
	}
	if cfg.Audit.DBPath != "/var/lib/wormhole/audit.db" {
		t.Errorf("unexpected db path %q", cfg.Audit.DBPath)
	}
	if cfg.Audit.Enabled {
		t.Errorf("expected audit disabled")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[daemon]\nport = 9000\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("WORMHOLE_PORT", "1234")
	t.Setenv("WORMHOLE_DISCOVERY_ENABLED", "false")
	t.Setenv("WORMHOLE_CONTROL_SOCKET", "/tmp/override.sock")
	t.Setenv("WORMHOLE_DB_PATH", "/tmp/override.db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Daemon.Port != 1234 {
		t.Errorf("expected env port 1234, got %d", cfg.Daemon.Port)
	}
	if cfg.Discovery.Enabled {
		t.Errorf("expected env to disable discovery")
	}
	if cfg.Daemon.ControlSocket != "/tmp/override.sock" {
		t.Errorf("unexpected control socket %q", cfg.Daemon.ControlSocket)
	}
	if cfg.Audit.DBPath != "/tmp/override.db" {
		t.Errorf("unexpected db path %q", cfg.Audit.DBPath)
	}
}

func TestEnvInvalidPortReturnsError(t *testing.T) {
	t.Setenv("WORMHOLE_PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for invalid WORMHOLE_PORT")
	}
}
