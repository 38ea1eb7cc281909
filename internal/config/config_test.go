package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupWorkspace(t *testing.T, yaml string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if yaml != "" {
		if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	sub := filepath.Join(root, "calls", "2024")
	if err := os.MkdirAll(sub, 0o750); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return dir
}

func TestInitializeDefaults(t *testing.T) {
	dir := setupWorkspace(t, "")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := GetInt("index.workers"); got != 4 {
		t.Errorf("index.workers = %d, want 4", got)
	}
	if got := GetDuration("index.lock-timeout"); got != 30*time.Second {
		t.Errorf("index.lock-timeout = %v", got)
	}
	if got := GetString("log.level"); got != "warn" {
		t.Errorf("log.level = %q", got)
	}
	want := filepath.Join(dir, DBFileName)
	if got, _ := filepath.EvalSymlinks(filepath.Dir(DBPath())); got != mustEval(t, dir) {
		t.Errorf("DBPath() = %q, want %q", DBPath(), want)
	}
	if GetValueSource("index.workers") != SourceDefault {
		t.Errorf("source = %s, want default", GetValueSource("index.workers"))
	}
}

func TestInitializeConfigFileAndEnv(t *testing.T) {
	setupWorkspace(t, "index:\n  workers: 8\nlog:\n  level: debug\n")
	t.Setenv("CG_LOG_LEVEL", "error")
	t.Setenv("CG_LOCK_DIR", "/tmp/cg-locks")

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if ConfigFileUsed() == "" {
		t.Error("config file not read")
	}
	if got := GetInt("index.workers"); got != 8 {
		t.Errorf("index.workers = %d, want 8 from file", got)
	}
	if got := GetString("log.level"); got != "error" {
		t.Errorf("log.level = %q, want env override", got)
	}
	if GetValueSource("index.workers") != SourceConfigFile {
		t.Errorf("index.workers source = %s", GetValueSource("index.workers"))
	}
	if GetValueSource("log.level") != SourceEnvVar {
		t.Errorf("log.level source = %s", GetValueSource("log.level"))
	}
	if got := LockDir("/data/graph.db"); got != "/tmp/cg-locks" {
		t.Errorf("LockDir = %q", got)
	}
}

func TestDBPathOverride(t *testing.T) {
	setupWorkspace(t, "")
	t.Setenv("CG_DB", "/srv/graph.db")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := DBPath(); got != "/srv/graph.db" {
		t.Errorf("DBPath() = %q", got)
	}
	if got := LockDir(DBPath()); got != "/srv/locks" {
		t.Errorf("LockDir = %q", got)
	}
}

func TestGetActorPrefersFlagThenConfig(t *testing.T) {
	setupWorkspace(t, "actor: ops-bot\n")
	if err := Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := GetActor("alice"); got != "alice" {
		t.Errorf("GetActor(flag) = %q", got)
	}
	if got := GetActor(""); got != "ops-bot" {
		t.Errorf("GetActor() = %q, want ops-bot", got)
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey("index.lock-timeout"); got != "CG_INDEX_LOCK_TIMEOUT" {
		t.Errorf("EnvKey = %q", got)
	}
}

func mustEval(t *testing.T, p string) string {
	t.Helper()
	got, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatal(err)
	}
	return got
}
