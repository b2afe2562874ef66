package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	content := `addr: ":9090"
jwt_secret: test-secret
execution_timeout_sec: 5
max_code_bytes: 2048
`
	if err := os.WriteFile(filepath.Join(dir, "codr.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != "codr.yaml" {
		t.Errorf("expected codr.yaml, got %s", filename)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Addr)
	}
	if cfg.JWTSecret != "test-secret" {
		t.Errorf("expected test-secret, got %q", cfg.JWTSecret)
	}
	if cfg.ExecutionTimeoutSec != 5 {
		t.Errorf("expected 5, got %d", cfg.ExecutionTimeoutSec)
	}
	if cfg.MaxCodeBytes != 2048 {
		t.Errorf("expected 2048, got %d", cfg.MaxCodeBytes)
	}
	// Unset fields pick up defaults.
	if cfg.CompilationTimeoutSec != 10 {
		t.Errorf("expected default compile timeout 10, got %d", cfg.CompilationTimeoutSec)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	content := `addr = ":7070"
jwt_secret = "s"
sandbox_binary = "/usr/bin/firejail"
sandbox_profile = "/etc/codr/sandbox.profile"
`
	if err := os.WriteFile(filepath.Join(dir, "codr.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, filename, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filename != "codr.toml" {
		t.Errorf("expected codr.toml, got %s", filename)
	}
	if cfg.SandboxBinary != "/usr/bin/firejail" {
		t.Errorf("expected firejail path, got %q", cfg.SandboxBinary)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	content := `{"addr": ":6060", "job_ttl_sec": 600, "token_ttl_sec": 60}`
	if err := os.WriteFile(filepath.Join(dir, "codr.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.JobTTLSec != 600 || cfg.TokenTTLSec != 60 {
		t.Errorf("expected TTLs 600/60, got %d/%d", cfg.JobTTLSec, cfg.TokenTTLSec)
	}
}

func TestLoadMissing(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Load(dir); err != ErrNoConfig {
		t.Errorf("expected ErrNoConfig, got %v", err)
	}
}

func TestLoadUnknownYAMLField(t *testing.T) {
	dir := t.TempDir()
	content := "addr: \":1\"\nno_such_field: true\n"
	if err := os.WriteFile(filepath.Join(dir, "codr.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(dir); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero execution timeout", func(c *Config) { c.ExecutionTimeoutSec = -1 }, true},
		{"token ttl exceeds job ttl", func(c *Config) { c.TokenTTLSec = c.JobTTLSec + 1 }, true},
		{"profile without binary", func(c *Config) { c.SandboxProfile = "p" }, true},
		{"profile with binary", func(c *Config) { c.SandboxBinary = "b"; c.SandboxProfile = "p" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Addr)
	}
	if cfg.ExecutionTimeoutSec != 7 {
		t.Errorf("expected 7, got %d", cfg.ExecutionTimeoutSec)
	}
	if cfg.PTYChunkBytes != 4096 {
		t.Errorf("expected 4096, got %d", cfg.PTYChunkBytes)
	}
}
