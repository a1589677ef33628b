package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	es "github.com/terraskye/eventsourced"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func fileConfig(t *testing.T, extra string) string {
	t.Helper()
	return writeConfig(t, fmt.Sprintf("store:\n  driver: file\n  dir: %s\n%s", t.TempDir(), extra))
}

func run(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)
	err := app.ExecuteWithArgs(context.Background(), append([]string{"--config", configPath}, args...))
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	out, stderr, err := run(t, configPath, args...)
	if err != nil {
		t.Fatalf("%v failed: %v\nstderr: %s", args, err, stderr)
	}
	return out
}

func TestApp_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if err := New().WithOutput(&stdout, &stderr).ExecuteWithArgs(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "taskctl version "+es.InstrumentationVersion) {
		t.Errorf("unexpected version output: %s", stdout.String())
	}
}

func TestApp_TaskLifecycle(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			var configPath string
			if driver == "file" {
				configPath = fileConfig(t, "")
			} else {
				dsn := "file:" + filepath.Join(t.TempDir(), "tasks.db")
				configPath = writeConfig(t, fmt.Sprintf("store:\n  driver: sqlite\n  dsn: %s\n", dsn))
			}

			if out := mustRun(t, configPath, "create", "--id", "t-1", "A"); strings.TrimSpace(out) != "t-1" {
				t.Errorf("create printed %q", out)
			}
			mustRun(t, configPath, "describe", "t-1", "B")
			mustRun(t, configPath, "describe", "t-1", "C")
			mustRun(t, configPath, "add-subtask", "t-1", "s-1", "notes")
			mustRun(t, configPath, "add-subtask", "t-1", "s-2", "tag")
			out := mustRun(t, configPath, "complete-subtask", "t-1", "s-1")
			if !strings.Contains(out, "t-1 at version 5") {
				t.Errorf("complete-subtask printed %q", out)
			}

			show := mustRun(t, configPath, "show", "t-1")
			for _, want := range []string{
				"task t-1 (version 5)",
				"description: C",
				"subtasks (1 open):",
				"[x] s-1 notes",
				"[ ] s-2 tag",
			} {
				if !strings.Contains(show, want) {
					t.Errorf("show output missing %q, got:\n%s", want, show)
				}
			}

			history := mustRun(t, configPath, "history", "t-1")
			lines := strings.Split(strings.TrimSpace(history), "\n")
			if len(lines) != 6 {
				t.Fatalf("expected 6 events, got %d:\n%s", len(lines), history)
			}
			if !strings.HasPrefix(lines[0], "0\t") || !strings.Contains(lines[0], "TaskCreated") {
				t.Errorf("unexpected first event %q", lines[0])
			}
			if !strings.Contains(lines[2], `"description":"C"`) {
				t.Errorf("unexpected third event %q", lines[2])
			}
		})
	}
}

func TestApp_Errors(t *testing.T) {
	configPath := fileConfig(t, "")

	if _, _, err := run(t, configPath, "show", "missing"); !errors.Is(err, es.ErrUnknownAggregateType) {
		t.Errorf("expected ErrUnknownAggregateType, got %v", err)
	}

	mustRun(t, configPath, "create", "--id", "t-1", "A")
	if _, _, err := run(t, configPath, "show", "missing"); !errors.Is(err, es.ErrUnknownAggregateID) {
		t.Errorf("expected ErrUnknownAggregateID, got %v", err)
	}
	if _, _, err := run(t, configPath, "complete-subtask", "t-1", "s-9"); err == nil {
		t.Error("expected completing an unknown subtask to fail")
	}
	if _, _, err := run(t, configPath, "create", "--id", "t-1", "again"); !errors.Is(err, es.ErrConcurrency) {
		t.Errorf("expected creating t-1 twice to conflict, got %v", err)
	}
	if _, _, err := run(t, configPath, "describe", "t-1"); err == nil {
		t.Error("expected missing arguments to fail")
	}
}

func TestApp_InvalidConfig(t *testing.T) {
	configPath := writeConfig(t, "store:\n  driver: mongo\n")
	if _, _, err := run(t, configPath, "show", "t-1"); err == nil || !strings.Contains(err.Error(), "mongo") {
		t.Errorf("expected validation error naming the driver, got %v", err)
	}
}

func TestApp_LogrusFormat(t *testing.T) {
	configPath := fileConfig(t, "log:\n  format: logrus\n  level: info\n")

	_, stderr, err := run(t, configPath, "create", "--id", "t-1", "A")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.Contains(stderr, "AppendStream: 1 events (version none -> 0)") {
		t.Errorf("expected logrus store log, got:\n%s", stderr)
	}
}

func TestApp_JSONLogs(t *testing.T) {
	configPath := fileConfig(t, "log:\n  format: json\n  level: debug\n")

	_, stderr, err := run(t, configPath, "create", "--id", "t-1", "A")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.Contains(stderr, `"msg":"event store operation succeeded"`) {
		t.Errorf("expected JSON store log, got:\n%s", stderr)
	}
}

func TestApp_Telemetry(t *testing.T) {
	configPath := fileConfig(t, "telemetry:\n  enabled: true\n")

	_, stderr, err := run(t, configPath, "create", "--id", "t-1", "A")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.Contains(stderr, "EventStore.AppendStream") {
		t.Errorf("expected exported span, got:\n%s", stderr)
	}

	history := mustRun(t, configPath, "history", "t-1")
	if !strings.Contains(history, "TaskCreated") {
		t.Errorf("unexpected history %q", history)
	}
}
