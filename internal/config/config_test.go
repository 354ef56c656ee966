package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-dev/prefsync/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Backend != DefaultBackend {
		t.Errorf("Backend = %q, want %q", cfg.Backend, DefaultBackend)
	}
	if cfg.File.Dir != DefaultFileDir {
		t.Errorf("File.Dir = %q, want %q", cfg.File.Dir, DefaultFileDir)
	}
	if cfg.Relay.Listen != DefaultRelayListen {
		t.Errorf("Relay.Listen = %q, want %q", cfg.Relay.Listen, DefaultRelayListen)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if got := errors.CodeOf(err); got != "E121" {
		t.Errorf("code = %q, want E121 (err %v)", got, err)
	}

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if got := errors.CodeOf(err); got != "E121" {
		t.Errorf("code = %q, want E121", got)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prefsync.json", `{
  "backend": "sqlite",
  "sqlite": {"path": "state.db", "pollInterval": "100ms"},
  "log": {"level": "debug"}
}`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Backend)
	}
	if cfg.SQLite.Path != "state.db" {
		t.Errorf("SQLite.Path = %q", cfg.SQLite.Path)
	}
	if d, _ := cfg.SQLitePollInterval(); d != 100*time.Millisecond {
		t.Errorf("poll interval = %v, want 100ms", d)
	}
	if d, _ := cfg.SQLiteRetention(); d != time.Hour {
		t.Errorf("retention = %v, want default 1h", d)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), dir)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prefsync.yaml", `
backend: s3
s3:
  bucket: prefs
  prefix: team/
  pathStyle: true
relay:
  url: ws://localhost:7070/ws
metrics:
  enabled: true
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend != BackendS3 || cfg.S3.Bucket != "prefs" || cfg.S3.Prefix != "team/" || !cfg.S3.PathStyle {
		t.Errorf("S3 config not loaded: backend=%q %+v", cfg.Backend, cfg.S3)
	}
	if cfg.Relay.URL != "ws://localhost:7070/ws" {
		t.Errorf("Relay.URL = %q", cfg.Relay.URL)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Namespace != DefaultMetricsNamespace {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadS3CredentialsJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prefsync.json", `{
  "backend": "s3",
  "s3": {"bucket": "prefs", "accessKeyId": "AK", "secretAccessKey": "SK"}
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.S3.AccessKeyID != "AK" {
		t.Errorf("S3.AccessKeyID = %q, want AK", cfg.S3.AccessKeyID)
	}
	if cfg.S3.SecretAccessKey != "SK" {
		t.Errorf("S3.SecretAccessKey = %q, want SK", cfg.S3.SecretAccessKey)
	}
}

func TestLoadPrefersJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "prefsync.json", `{"backend": "memory"}`)
	writeFile(t, dir, "prefsync.yaml", `backend: sqlite`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q, want memory", cfg.Backend)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"prefsync.json", `{"backend": `},
		{"bad.yaml", "backend: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name, tt.content)
			_, err := LoadFile(path)
			if got := errors.CodeOf(err); got != "E120" {
				t.Errorf("code = %q, want E120 (err %v)", got, err)
			}
		})
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prefsync.yaml", `
backend: file
file:
  dir: from-file
log:
  level: warn
`)
	t.Setenv("PREFSYNC_BACKEND", "sqlite")
	t.Setenv("PREFSYNC_SQLITE_PATH", "/tmp/env.db")
	t.Setenv("PREFSYNC_RELAY_URL", "ws://relay:7070/ws")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want env value sqlite", cfg.Backend)
	}
	if cfg.SQLite.Path != "/tmp/env.db" {
		t.Errorf("SQLite.Path = %q", cfg.SQLite.Path)
	}
	if cfg.File.Dir != "from-file" {
		t.Errorf("File.Dir = %q, unset env must keep file value", cfg.File.Dir)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Relay.URL != "ws://relay:7070/ws" {
		t.Errorf("Relay.URL = %q", cfg.Relay.URL)
	}
}

func TestResolveWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PREFSYNC_BACKEND", "memory")

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.Path() != "" {
		t.Errorf("Path() = %q, want empty", cfg.Path())
	}
}

func TestReadDoesNotValidate(t *testing.T) {
	path := writeFile(t, t.TempDir(), "prefsync.yaml", "backend: redis\n")

	_, err := Resolve(path)
	if got := errors.CodeOf(err); got != "E123" {
		t.Errorf("Resolve code = %q, want E123", got)
	}

	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	cfg.Backend = BackendMemory
	if err := cfg.Validate(); err != nil {
		t.Errorf("overridden config should validate: %v", err)
	}
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("PREFSYNC_METRICS_ENABLED", "sometimes")
	cfg := New()
	if got := errors.CodeOf(cfg.ApplyEnv()); got != "E122" {
		t.Errorf("code = %q, want E122", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		code   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend = "redis" }, "E123"},
		{"s3 without bucket", func(c *Config) { c.Backend = BackendS3 }, "E122"},
		{"s3 with bucket", func(c *Config) { c.Backend = BackendS3; c.S3.Bucket = "b" }, ""},
		{"bad poll interval", func(c *Config) { c.SQLite.PollInterval = "soon" }, "E122"},
		{"negative retention", func(c *Config) { c.SQLite.Retention = "-1h" }, "E122"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "E122"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "E122"},
		{"relay url without scheme", func(c *Config) { c.Relay.URL = "/ws" }, "E122"},
		{"relay url", func(c *Config) { c.Relay.URL = "ws://localhost:7070/ws" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.modify(cfg)
			if got := errors.CodeOf(cfg.Validate()); got != tt.code {
				t.Errorf("code = %q, want %q", got, tt.code)
			}
		})
	}
}
