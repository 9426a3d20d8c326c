package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feedvault.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
session:
  identifier: laptop
storage:
  driver: sqlite
  path: /var/lib/feedvault/archive.db
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 15s
logging:
  level: debug
  format: console
metrics:
  enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.Identifier != "laptop" {
		t.Errorf("session = %q", cfg.Session.Identifier)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/var/lib/feedvault/archive.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 60*time.Second {
		t.Errorf("write timeout = %v, want the default", cfg.Server.WriteTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "fs" || cfg.Storage.Path != "archive" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Session.Identifier != "" {
		t.Errorf("session = %q, want empty (generated at startup)", cfg.Session.Identifier)
	}
}

func TestSqliteDriverDefaultsToDatabasePath(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  driver: sqlite\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "feedvault.db" {
		t.Errorf("path = %q", cfg.Storage.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FEEDVAULT_SESSION_ID", "phone")
	t.Setenv("FEEDVAULT_STORAGE_DRIVER", "memory")
	t.Setenv("FEEDVAULT_SERVER_PORT", "7070")
	t.Setenv("FEEDVAULT_LOG_LEVEL", "warn")
	t.Setenv("FEEDVAULT_METRICS_ENABLED", "yes")

	cfg, err := Load(writeConfig(t, `
session:
  identifier: laptop
storage:
  driver: fs
server:
  port: 9090
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.Identifier != "phone" {
		t.Errorf("session = %q, env must override the file", cfg.Session.Identifier)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Storage.Driver)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics must be enabled via env")
	}
}

func TestExpandsEnvInFile(t *testing.T) {
	t.Setenv("ARCHIVE_DIR", "/srv/archive")
	cfg, err := Load(writeConfig(t, "storage:\n  path: ${ARCHIVE_DIR}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Path != "/srv/archive" {
		t.Errorf("path = %q", cfg.Storage.Path)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEEDVAULT_STORAGE_DRIVER", "memory")
	t.Setenv("FEEDVAULT_LOG_FORMAT", "console")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Logging.Format != "console" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadWithFallback(t *testing.T) {
	path := writeConfig(t, "session:\n  identifier: from-file\n")
	cfg, err := LoadWithFallback(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Session.Identifier != "from-file" {
		t.Errorf("session = %q", cfg.Session.Identifier)
	}

	cfg, err = LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "fs" {
		t.Errorf("fallback driver = %q", cfg.Storage.Driver)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad driver", "storage:\n  driver: postgres\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"bad port", "server:\n  port: 70000\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, c.content)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("a missing file must error")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "storage: [not a map\n")); err == nil {
		t.Error("malformed YAML must error")
	}
}
