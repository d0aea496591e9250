package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

const (
	// EnvConfigPath overrides the config file location. Relative paths are
	// resolved against the home directory.
	EnvConfigPath = "TIMEW_SYNC_CONFIG"
	// EnvTimewDB is Timewarrior's own database location variable.
	EnvTimewDB = "TIMEWARRIORDB"
	// EnvPrefix prefixes per-key overrides, e.g. TIMEWSYNC_HOSTNAME.
	EnvPrefix = "TIMEWSYNC"

	AppDirName     = ".timewarrior-sync"
	ConfigFileName = "config.toml"
	DotEnvFileName = ".env"
	LogFileName    = "timewsync.log"
	HistoryDBName  = "history.db"
)

// Env is the process state configuration resolution depends on. It is
// passed explicitly so resolution can be tested without touching the real
// environment.
type Env struct {
	Home string
	Vars map[string]string
}

// EnvFromOS captures the current process environment.
func EnvFromOS() (Env, error) {
	home, err := homedir.Dir()
	if err != nil {
		return Env{}, fmt.Errorf("home directory: %w", err)
	}

	vars := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return Env{Home: home, Vars: vars}, nil
}

func (e Env) Get(key string) string {
	return e.Vars[key]
}

// Expand resolves a leading "~" and makes relative paths relative to home.
func (e Env) Expand(path string) string {
	switch {
	case path == "":
		return ""
	case path == "~":
		return e.Home
	case strings.HasPrefix(path, "~/"):
		return filepath.Join(e.Home, path[2:])
	case filepath.IsAbs(path):
		return filepath.Clean(path)
	default:
		return filepath.Join(e.Home, path)
	}
}

// AppDir is where timewsync keeps its own state.
func (e Env) AppDir() string {
	return filepath.Join(e.Home, AppDirName)
}

func (e Env) LogFilePath() string {
	return filepath.Join(e.AppDir(), "logs", LogFileName)
}

func (e Env) HistoryPath() string {
	return filepath.Join(e.AppDir(), HistoryDBName)
}

func (e Env) DotEnvPath() string {
	return filepath.Join(e.AppDir(), DotEnvFileName)
}

// ResolveConfigPath returns the config file location: TIMEW_SYNC_CONFIG when
// set, otherwise ~/.timewarrior-sync/config.toml.
func ResolveConfigPath(env Env) string {
	if p := env.Get(EnvConfigPath); p != "" {
		return env.Expand(p)
	}
	return filepath.Join(env.AppDir(), ConfigFileName)
}

// DefaultDataDir is the Timewarrior data directory: $TIMEWARRIORDB/data,
// falling back to ~/.timewarrior/data.
func DefaultDataDir(env Env) string {
	if db := env.Get(EnvTimewDB); db != "" {
		return filepath.Join(env.Expand(db), "data")
	}
	return filepath.Join(env.Home, ".timewarrior", "data")
}

// DefaultStagingDir sits next to the data directory so that promotion is a
// same-filesystem rename.
func DefaultStagingDir(dataDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(dataDir)), ".timewsync-staging")
}
