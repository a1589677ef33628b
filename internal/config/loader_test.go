package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoader_LoadFile(t *testing.T) {
	content := `
store:
  driver: sqlite
  dsn: file:${TASKCTL_TEST_DB}
log:
  level: debug
  format: json
telemetry:
  enabled: true
retry:
  max_attempts: 5
  initial_interval: 200ms
`
	t.Setenv("TASKCTL_TEST_DB", "tasks.db")
	path := filepath.Join(t.TempDir(), "taskctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Store.Driver != DriverSQLite || cfg.Store.DSN != "file:tasks.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != FormatJSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = false, want true")
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialInterval != 200*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Store.Schema != "public" {
		t.Errorf("Schema = %q, want the default", cfg.Store.Schema)
	}
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Store.Driver != DriverFile || cfg.Store.Dir != ".taskctl" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Log.SlogLevel().String() != "INFO" {
		t.Errorf("SlogLevel() = %s, want INFO", cfg.Log.SlogLevel())
	}
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		path    string
		want    error
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.yaml"), want: ErrConfigNotFound},
		{name: "directory", path: dir, want: ErrInvalidFormat},
		{name: "malformed", content: "store: [", want: ErrInvalidFormat},
		{name: "unknown driver", content: "store:\n  driver: mongo\n", want: ErrValidationFailed},
		{name: "sqlite without dsn", content: "store:\n  driver: sqlite\n", want: ErrValidationFailed},
		{name: "bad level", content: "log:\n  level: loud\n", want: ErrValidationFailed},
		{name: "no attempts", content: "retry:\n  max_attempts: 0\n", want: ErrValidationFailed},
		{name: "required env", content: "store:\n  dsn: ${TASKCTL_UNSET_VAR:?dsn needed}\n", want: ErrMissingEnvVar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if path == "" {
				path = filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "-")+".yaml")
				if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}
			_, err := NewLoader().LoadFile(path)
			if !errors.Is(err, tt.want) {
				t.Errorf("LoadFile() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoader_WithoutValidation(t *testing.T) {
	cfg, err := NewLoader(WithValidation(false)).Load(strings.NewReader("store:\n  driver: mongo\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store.Driver != "mongo" {
		t.Errorf("Driver = %q", cfg.Store.Driver)
	}
}

func TestEnvExpander(t *testing.T) {
	t.Setenv("TASKCTL_SET", "value")

	tests := []struct {
		name    string
		input   string
		strict  bool
		want    string
		wantErr bool
	}{
		{name: "set", input: "${TASKCTL_SET}", want: "value"},
		{name: "unset", input: "a${TASKCTL_UNSET}b", want: "ab"},
		{name: "unset strict", input: "${TASKCTL_UNSET}", strict: true, wantErr: true},
		{name: "default", input: "${TASKCTL_UNSET:-fallback}", want: "fallback"},
		{name: "default ignored", input: "${TASKCTL_SET:-fallback}", want: "value"},
		{name: "required", input: "${TASKCTL_UNSET:?needed}", wantErr: true},
		{name: "plain dollar", input: "$TASKCTL_SET", want: "$TASKCTL_SET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&envExpander{strict: tt.strict}).Expand(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingEnvVar) {
					t.Errorf("Expand() error = %v, want ErrMissingEnvVar", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Expand() = %q, want %q", got, tt.want)
			}
		})
	}
}
