package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestPrettyHandlerFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	logger.Info("job claimed",
		String(FieldComponent, "worker"),
		String(FieldJobID, "job-1"),
		String("mode", "single"),
		String("note", "two words"),
	)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, " INFO worker: job claimed") {
		t.Errorf("component prefix missing: %q", line)
	}
	if !strings.Contains(line, "job_id=job-1") {
		t.Errorf("attribute missing: %q", line)
	}
	if !strings.Contains(line, `note="two words"`) {
		t.Errorf("expected quoting for spaced value: %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Errorf("component must render as prefix, not attribute: %q", line)
	}
}

func TestPrettyHandlerHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	logger := slog.New(newPrettyHandler(&buf, levelVar, false))

	logger.Info("suppressed")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("info line leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestJSONHandlerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	levelVar := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, levelVar, false))

	logger.Info("hello", String(FieldCameraID, "cam-a"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode json line: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("missing key %q in %v", key, entry)
		}
	}
	if entry["level"] != "info" {
		t.Errorf("expected lowercase level, got %v", entry["level"])
	}
	if entry[FieldCameraID] != "cam-a" {
		t.Errorf("attribute lost: %v", entry)
	}
}

func TestNewWritesToConfiguredLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "corral.log")

	logger, err := New(Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("daemon started", String(FieldComponent, "daemon"))

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "daemon: daemon started") {
		t.Errorf("log file missing formatted line: %q", line)
	}
}
