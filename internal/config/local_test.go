package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDrillDir(t *testing.T) {
	dir, err := DrillDir()
	if err != nil {
		t.Fatalf("DrillDir() error = %v", err)
	}
	if filepath.Base(dir) != ".drill" {
		t.Errorf("DrillDir() = %q, want ending with .drill", dir)
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("DrillDir() = %q, want absolute path", dir)
	}
}

func TestEnsureDrillDir(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	dir, err := EnsureDrillDir()
	if err != nil {
		t.Fatalf("EnsureDrillDir() error = %v", err)
	}

	expectedDir := filepath.Join(tmpHome, ".drill")
	if dir != expectedDir {
		t.Errorf("EnsureDrillDir() = %q, want %q", dir, expectedDir)
	}

	for _, subdir := range []string{"logs", "topics"} {
		if _, err := os.Stat(filepath.Join(dir, subdir)); os.IsNotExist(err) {
			t.Errorf("EnsureDrillDir() should create %s", subdir)
		}
	}
}

func TestDefaultLocalConfig(t *testing.T) {
	cfg := DefaultLocalConfig()

	if cfg.Daemon.Port != 7433 {
		t.Errorf("Daemon.Port = %d, want 7433", cfg.Daemon.Port)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q, want 127.0.0.1", cfg.Daemon.Bind)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Grading.Claims != "store" {
		t.Errorf("Grading.Claims = %q, want store", cfg.Grading.Claims)
	}
	if cfg.Queue.Enabled {
		t.Error("Queue should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadLocalConfigFrom_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := LoadLocalConfigFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}
	if cfg.Daemon.Port != DefaultLocalConfig().Daemon.Port {
		t.Errorf("Daemon.Port = %d, want default", cfg.Daemon.Port)
	}
}

func TestLoadLocalConfigFrom_WithFiles(t *testing.T) {
	dir := t.TempDir()

	config := `
daemon:
  port: 9000
  log_level: debug
storage:
  driver: postgres
  dsn: postgres://localhost/drill
generation:
  filter_purpose: true
grading:
  claims: redis
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	secrets := "token_secret: 0123456789abcdef0123\nredis_password: hunter2\n"
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte(secrets), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLocalConfigFrom(dir)
	if err != nil {
		t.Fatalf("LoadLocalConfigFrom() error = %v", err)
	}

	if cfg.Daemon.Port != 9000 || cfg.Daemon.LogLevel != "debug" {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	// Unset keys keep their defaults
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q, want default", cfg.Daemon.Bind)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN == "" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if !cfg.Generation.FilterPurpose {
		t.Error("Generation.FilterPurpose should be true")
	}
	if cfg.Grading.Claims != "redis" {
		t.Errorf("Grading.Claims = %q", cfg.Grading.Claims)
	}
	if cfg.Tokens.Secret != "0123456789abcdef0123" || cfg.Redis.Password != "hunter2" {
		t.Errorf("secrets not applied: tokens=%q redis=%q", cfg.Tokens.Secret, cfg.Redis.Password)
	}
}

func TestLoadLocalConfigFrom_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("daemon: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLocalConfigFrom(dir); err == nil {
		t.Error("LoadLocalConfigFrom() should fail on invalid YAML")
	}

	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), []byte("token_secret: [x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLocalConfigFrom(dir); err == nil {
		t.Error("LoadLocalConfigFrom() should fail on invalid secrets")
	}
}

func TestSaveLocalConfig(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfg := DefaultLocalConfig()
	cfg.Daemon.Port = 8123
	cfg.Tokens.Secret = "must-not-be-written"
	if err := SaveLocalConfig(cfg); err != nil {
		t.Fatalf("SaveLocalConfig() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpHome, ".drill", "config.yaml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved config is not YAML: %v", err)
	}
	if strings.Contains(string(data), "must-not-be-written") {
		t.Error("secrets must not be written to config.yaml")
	}

	loaded, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if loaded.Daemon.Port != 8123 {
		t.Errorf("Daemon.Port = %d, want 8123", loaded.Daemon.Port)
	}
}

func TestSaveSecrets(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := SaveSecrets(SecretsConfig{TokenSecret: "s3cr3t-s3cr3t-s3cr3t"}); err != nil {
		t.Fatalf("SaveSecrets() error = %v", err)
	}

	path := filepath.Join(tmpHome, ".drill", "secrets.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat secrets: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("secrets mode = %v, want 0600", info.Mode().Perm())
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		t.Fatalf("LoadLocalConfig() error = %v", err)
	}
	if cfg.Tokens.Secret != "s3cr3t-s3cr3t-s3cr3t" {
		t.Errorf("Tokens.Secret = %q", cfg.Tokens.Secret)
	}
}

func TestLocalConfig_Paths(t *testing.T) {
	cfg := DefaultLocalConfig()
	if got := cfg.DatabasePath("/home/u/.drill"); got != "/home/u/.drill/drill.db" {
		t.Errorf("DatabasePath() = %q", got)
	}
	if got := cfg.TopicsPath("/home/u/.drill"); got != "/home/u/.drill/topics" {
		t.Errorf("TopicsPath() = %q", got)
	}

	cfg.Storage.Path = "/var/lib/drill.db"
	cfg.Generation.TopicsPath = "/etc/drill/topics"
	if got := cfg.DatabasePath("/home/u/.drill"); got != "/var/lib/drill.db" {
		t.Errorf("DatabasePath() = %q", got)
	}
	if got := cfg.TopicsPath("/home/u/.drill"); got != "/etc/drill/topics" {
		t.Errorf("TopicsPath() = %q", got)
	}
}
