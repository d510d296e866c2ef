package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intake.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8484 || cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Errorf("batch size = %d, want 50", cfg.Sync.BatchSize)
	}
	if cfg.Scan.Depth() != 10 {
		t.Errorf("scan depth = %d, want 10", cfg.Scan.Depth())
	}
	if cfg.Vision.Model != "llava" {
		t.Errorf("model = %q", cfg.Vision.Model)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  base_path: intake/
scan:
  paths: ["/photos", "/docs"]
  max_depth: 3
  include_documents: false
vision:
  model: llava:13b
  timeout: 45s
sync:
  batch_size: 25
watch:
  enabled: true
  debounce: 500ms
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Server.BasePath != "/intake" {
		t.Errorf("base path = %q, want /intake", cfg.Server.BasePath)
	}
	if len(cfg.Scan.Paths) != 2 || cfg.Scan.Paths[1] != "/docs" {
		t.Errorf("paths = %v", cfg.Scan.Paths)
	}
	if cfg.Scan.Depth() != 3 {
		t.Errorf("depth = %d", cfg.Scan.Depth())
	}
	if cfg.Scan.IncludeDocuments {
		t.Error("documents should be disabled")
	}
	if !cfg.Scan.IncludeImages {
		t.Error("images should keep the default")
	}
	if cfg.Vision.Timeout != 45*time.Second {
		t.Errorf("vision timeout = %v", cfg.Vision.Timeout)
	}
	if cfg.Sync.BatchSize != 25 {
		t.Errorf("batch size = %d", cfg.Sync.BatchSize)
	}
	if !cfg.Watch.Enabled || cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("watch = %+v", cfg.Watch)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\nsync:\n  batch_size: 25\n")

	t.Setenv("INTAKE_PORT", "9100")
	t.Setenv("INTAKE_BATCH_SIZE", "10")
	t.Setenv("INTAKE_API_KEY", "secret")
	t.Setenv("INTAKE_SCAN_PATHS", "/a"+string(os.PathListSeparator)+" /b ")
	t.Setenv("INTAKE_SCAN_MAX_DEPTH", "2")
	t.Setenv("INTAKE_WATCH_DEBOUNCE", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env value 9100", cfg.Server.Port)
	}
	if cfg.Sync.BatchSize != 10 {
		t.Errorf("batch size = %d, want 10", cfg.Sync.BatchSize)
	}
	if cfg.Sync.APIKey != "secret" {
		t.Errorf("api key not applied")
	}
	if len(cfg.Scan.Paths) != 2 || cfg.Scan.Paths[1] != "/b" {
		t.Errorf("paths = %q", cfg.Scan.Paths)
	}
	if cfg.Scan.Depth() != 2 {
		t.Errorf("depth = %d", cfg.Scan.Depth())
	}
	if cfg.Watch.Debounce != 5*time.Second {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("INTAKE_BATCH_SIZE", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric batch size")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"zero batch", "sync:\n  batch_size: 0\n"},
		{"negative depth", "scan:\n  max_depth: -1\n"},
		{"bad vision url", "vision:\n  url: ftp://host\n"},
		{"auto sync without key", "watch:\n  auto_sync: true\n"},
		{"bad log level", "logging:\n  level: chatty\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [unclosed\n")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("INTAKE_CONFIG_PATH", "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv("INTAKE_CONFIG_PATH", "/etc/intake.yaml")
	if got := Path(); got != "/etc/intake.yaml" {
		t.Errorf("Path() = %q", got)
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Bind: "127.0.0.1", Port: 8484}
	if got := s.Addr(); got != "127.0.0.1:8484" {
		t.Errorf("Addr() = %q", got)
	}
}
