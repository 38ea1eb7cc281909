package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestNewWritesTextToFallback(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(Options{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = closer.Close() }()

	logger.Info("hidden")
	logger.Warn("path locked", "file", "calls/acme.md")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, "file=calls/acme.md") {
		t.Errorf("missing warn record: %s", out)
	}
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cg.log")
	logger, closer, err := New(Options{Level: "debug", File: path, MaxSizeMB: 1}, os.Stderr)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("index run finished", "run", 3, "status", "success")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("log file empty")
	}
	var rec map[string]any
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatalf("record is not JSON: %v", err)
	}
	if rec["msg"] != "index run finished" || rec["status"] != "success" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, _, err := New(Options{Level: "chatty"}, os.Stderr); err == nil {
		t.Fatal("expected error")
	}
}
