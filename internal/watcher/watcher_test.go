package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string, opts Options) <-chan []string {
	t.Helper()
	ch := make(chan []string, 8)
	w, err := New(dir, func(paths []string) { ch <- paths }, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
	})
	return ch
}

func waitFor(t *testing.T, ch <-chan []string) []string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change")
		return nil
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherEvents(t *testing.T) {
	dir := t.TempDir()
	ch := startWatcher(t, dir, Options{Debounce: 50 * time.Millisecond})

	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "b.json"), "{}")
	writeFile(t, filepath.Join(dir, "a.yaml"), "file: {}")

	got := waitFor(t, ch)
	want := []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "b.json")}
	if !slices.Equal(got, want) {
		t.Errorf("changed = %v, want %v", got, want)
	}
}

func TestWatcherPolling(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.json")
	writeFile(t, existing, "{}")

	ch := startWatcher(t, dir, Options{
		Debounce:     20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
		ForcePolling: true,
	})

	fresh := filepath.Join(dir, "new.jsonl")
	writeFile(t, fresh, "{}\n")
	got := waitFor(t, ch)
	if !slices.Equal(got, []string{fresh}) {
		t.Errorf("changed = %v, want only %s", got, fresh)
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	ch := startWatcher(t, dir, Options{
		Debounce:     300 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		ForcePolling: true,
	})

	path := filepath.Join(dir, "batch.json")
	for i := range 5 {
		writeFile(t, path, "{}"+string(rune('a'+i)))
		time.Sleep(30 * time.Millisecond)
	}

	got := waitFor(t, ch)
	if !slices.Equal(got, []string{path}) {
		t.Errorf("changed = %v", got)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second flush: %v", extra)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestNewRejectsMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing"), func([]string) {}, Options{}); err == nil {
		t.Fatal("expected error for missing inbox")
	}
}

func TestIsBatchFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"batch.json", true},
		{"batch.JSONL", true},
		{"inbox/batch.yml", true},
		{"batch.yaml", true},
		{".batch.json.swp", false},
		{".hidden.json", false},
		{"notes.md", false},
		{"batch", false},
	}
	for _, tt := range tests {
		if got := IsBatchFile(tt.name); got != tt.want {
			t.Errorf("IsBatchFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPendingListsBatchFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.json"), "{}")
	writeFile(t, filepath.Join(dir, "a.yml"), "")
	writeFile(t, filepath.Join(dir, "readme.txt"), "")
	if err := os.Mkdir(filepath.Join(dir, "sub.json"), 0o750); err != nil {
		t.Fatal(err)
	}

	w, err := New(dir, func([]string) {}, Options{ForcePolling: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = w.Close() }()

	want := []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.json")}
	if got := w.Pending(); !slices.Equal(got, want) {
		t.Errorf("Pending() = %v, want %v", got, want)
	}
}
