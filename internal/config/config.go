// Package config loads cg settings from config.yaml, CG_* environment
// variables and defaults.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DirName is the per-workspace directory holding the database, lock files
// and config.yaml.
const DirName = ".ctxgraph"

// DBFileName is the database file inside DirName.
const DBFileName = "graph.db"

const envPrefix = "CG"

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Precedence: workspace .ctxgraph/config.yaml > ~/.config/cg/config.yaml
	configFileSet := false
	if dir := FindWorkspaceDir(); dir != "" {
		configPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			configFileSet = true
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "cg", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// CG_LOG_LEVEL maps to log.level, CG_LOCK_DIR to lock-dir.
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "")
	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	v.SetDefault("lock-dir", "")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)

	v.SetDefault("index.workers", 4)
	v.SetDefault("index.lock-timeout", "30s")

	v.SetDefault("freshness.horizon", "24h")

	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("watch.poll-interval", "5s")
	v.SetDefault("watch.force-polling", false)

	v.SetDefault("suggest.max-distance", 2)
}

// ConfigFileUsed returns the config file that was read, or "".
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// FindWorkspaceDir walks up from the working directory looking for a
// .ctxgraph directory. It returns "" when there is none.
func FindWorkspaceDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, DirName)
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate
		}
		if dir == filepath.Dir(dir) {
			return ""
		}
	}
}

// DBPath returns the configured database path, or the database inside the
// nearest .ctxgraph directory, or "" when neither exists.
func DBPath() string {
	if p := GetString("db"); p != "" {
		return p
	}
	if dir := FindWorkspaceDir(); dir != "" {
		return filepath.Join(dir, DBFileName)
	}
	return ""
}

// LockDir returns where per-path lock files live: lock-dir when set,
// otherwise a locks directory next to the database.
func LockDir(dbPath string) string {
	if d := GetString("lock-dir"); d != "" {
		return d
	}
	return filepath.Join(filepath.Dir(dbPath), "locks")
}

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// EnvKey returns the environment variable that sets key.
func EnvKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}

// GetValueSource returns the source of a configuration value.
// Priority (highest to lowest): env var > config file > default.
// Flags are handled by the caller since viper doesn't know about cobra flags.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	if os.Getenv(EnvKey(key)) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// Setting is one resolved configuration value.
type Setting struct {
	Key    string       `json:"key"`
	Value  any          `json:"value"`
	Source ConfigSource `json:"source"`
}

// Settings lists every known key with its value and source, sorted by key.
func Settings() []Setting {
	if v == nil {
		return nil
	}
	keys := v.AllKeys()
	slices.Sort(keys)
	out := make([]Setting, 0, len(keys))
	for _, k := range keys {
		out = append(out, Setting{Key: k, Value: v.Get(k), Source: GetValueSource(k)})
	}
	return out
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// GetActor resolves who is running operator commands.
// Priority chain:
//  1. flagValue (from --actor)
//  2. CG_ACTOR env var / config.yaml actor
//  3. git config user.name
//  4. $USER
func GetActor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if actor := GetString("actor"); actor != "" {
		return actor
	}
	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}
