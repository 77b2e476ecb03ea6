package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
source:
  driver: postgres
  host: localhost
  port: 5433
  user: bcreg
  password: secret
  database: bc_registries
  schema: bc_registries
  max_connections: 8

stage:
  name: staging
  snapshot: true
  batch_size: 250
  verify: sha256

processing:
  batch_size: 50
  max_corps: 1000
  corp_types: [BC, ULC]

checkpoint:
  path: /var/lib/regstage/state.db
  system_type: BC_REG_TEST

output:
  path: corps.jsonl

logging:
  level: debug
  format: text
  output: stdout
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Verify source config
	if cfg.Source.Host != "localhost" {
		t.Errorf("expected source host 'localhost', got %s", cfg.Source.Host)
	}
	if cfg.Source.Port != 5433 {
		t.Errorf("expected source port 5433, got %d", cfg.Source.Port)
	}
	if cfg.Source.MaxConnections != 8 {
		t.Errorf("expected source max_connections 8, got %d", cfg.Source.MaxConnections)
	}
	// Unset keys keep their defaults
	if cfg.Source.MaxIdleConnections != 2 {
		t.Errorf("expected default max_idle_connections 2, got %d", cfg.Source.MaxIdleConnections)
	}

	// Verify stage config
	if cfg.Stage.Name != "staging" || !cfg.Stage.Snapshot || cfg.Stage.BatchSize != 250 || cfg.Stage.Verify != "sha256" {
		t.Errorf("unexpected stage config: %+v", cfg.Stage)
	}

	// Verify processing config
	if cfg.Processing.BatchSize != 50 {
		t.Errorf("expected batch_size 50, got %d", cfg.Processing.BatchSize)
	}
	if cfg.Processing.MaxCorps != 1000 {
		t.Errorf("expected max_corps 1000, got %d", cfg.Processing.MaxCorps)
	}
	if len(cfg.Processing.CorpTypes) != 2 || cfg.Processing.CorpTypes[1] != "ULC" {
		t.Errorf("expected corp_types [BC ULC], got %v", cfg.Processing.CorpTypes)
	}

	// Verify checkpoint, output and logging config
	if cfg.Checkpoint.SystemType != "BC_REG_TEST" {
		t.Errorf("expected system_type 'BC_REG_TEST', got %s", cfg.Checkpoint.SystemType)
	}
	if cfg.Output.Path != "corps.jsonl" {
		t.Errorf("expected output 'corps.jsonl', got %s", cfg.Output.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to validate, got: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/regstage.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(configPath, []byte("source: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnvVarSubstitution(t *testing.T) {
	t.Setenv("REGSTAGE_TEST_PASSWORD", "s3cret")
	t.Setenv("REGSTAGE_TEST_HOST", "db.internal")
	t.Setenv("REGSTAGE_TEST_DIR", "/data")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "env.yaml")

	configContent := `
source:
  host: ${REGSTAGE_TEST_HOST}
  user: bcreg
  password: ${REGSTAGE_TEST_PASSWORD}
  database: bc_registries
checkpoint:
  path: $REGSTAGE_TEST_DIR/state.db
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Source.Password != "s3cret" {
		t.Errorf("expected password 's3cret', got %s", cfg.Source.Password)
	}
	if cfg.Source.Host != "db.internal" {
		t.Errorf("expected host 'db.internal', got %s", cfg.Source.Host)
	}
	if cfg.Checkpoint.Path != "/data/state.db" {
		t.Errorf("expected checkpoint path '/data/state.db', got %s", cfg.Checkpoint.Path)
	}
}

func TestExpandEnvVar(t *testing.T) {
	t.Setenv("REGSTAGE_SET", "value")

	tests := []struct {
		input    string
		expected string
	}{
		{"${REGSTAGE_SET}", "value"},
		{"$REGSTAGE_SET", "value"},
		{"prefix-${REGSTAGE_SET}-suffix", "prefix-value-suffix"},
		{"${REGSTAGE_UNSET_VAR}", "${REGSTAGE_UNSET_VAR}"},
		{"${REGSTAGE_UNSET_VAR:-fallback}", "fallback"},
		{"${REGSTAGE_SET:-fallback}", "value"},
		{"${REGSTAGE_UNSET_VAR:-}", ""},
		{"plain", "plain"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := expandEnvVar(tt.input); got != tt.expected {
			t.Errorf("expandEnvVar(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFromViper(t *testing.T) {
	v := viper.New()
	v.Set("source.driver", "sqlite3")
	v.Set("source.database", "registry.db")
	v.Set("processing.batch_size", 10)

	cfg, err := LoadFromViper(v)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Source.Driver != "sqlite3" {
		t.Errorf("expected driver 'sqlite3', got %s", cfg.Source.Driver)
	}
	if cfg.Processing.BatchSize != 10 {
		t.Errorf("expected batch_size 10, got %d", cfg.Processing.BatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected sqlite3 config without host to validate, got: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REGSTAGE_SOURCE_PASSWORD", "from-env")
	t.Setenv("REGSTAGE_PROCESSING_MAX_CORPS", "25")

	configPath := filepath.Join(t.TempDir(), "override.yaml")
	configContent := `
source:
  host: localhost
  user: bcreg
  password: from-file
  database: bc_registries
processing:
  max_corps: 5
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Source.Password != "from-env" {
		t.Errorf("expected password from environment, got %s", cfg.Source.Password)
	}
	if cfg.Processing.MaxCorps != 25 {
		t.Errorf("expected max_corps 25 from environment, got %d", cfg.Processing.MaxCorps)
	}
	if cfg.Source.User != "bcreg" {
		t.Errorf("expected user from file, got %s", cfg.Source.User)
	}
}
