// Package config holds the timewsync configuration: FTP credentials, the
// remote directory and the local paths. A Config is built once, validated as
// a whole and then handed to the engine.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/timewsync/timewsync/internal/artifact"
	"github.com/timewsync/timewsync/internal/remote"
)

const (
	DefaultPort            = 21
	DefaultRemoteDir       = "timewarrior"
	DefaultTimeout         = remote.DefaultTimeout
	DefaultConnectAttempts = remote.DefaultMaxAttempts
	DefaultRetryBackoff    = remote.DefaultBackoff
	DefaultModTimeSlack    = 2 * time.Second
)

var (
	ErrNotConfigured  = errors.New("not configured")
	ErrConfigNotFound = errors.New("config file not found")
)

// Example is printed when no usable config exists.
const Example = `hostname = "myftp.server.com"
port = 21
username = "t"
password = "t"
remote_dir = "timewarrior"
`

type Config struct {
	Path string `mapstructure:"-"`

	Hostname  string `mapstructure:"hostname"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	RemoteDir string `mapstructure:"remote_dir"`
	TLS       bool   `mapstructure:"tls"`

	// DisableEPSV makes data connections use PASV only, for servers or
	// NATs that mishandle EPSV.
	DisableEPSV bool `mapstructure:"disable_epsv"`

	DataDir    string   `mapstructure:"data_dir"`
	StagingDir string   `mapstructure:"staging_dir"`
	Include    []string `mapstructure:"include"`

	Timeout         time.Duration `mapstructure:"timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	CompareModTime  bool          `mapstructure:"compare_mtime"`
}

// keys lists every key a config file or TIMEWSYNC_* variable may set.
var keys = []string{
	"hostname", "port", "username", "password", "remote_dir", "tls", "disable_epsv",
	"data_dir", "staging_dir", "include",
	"timeout", "connect_attempts", "retry_backoff", "compare_mtime",
}

// ValidationError lists every problem found in a Config.
type ValidationError struct {
	Path     string
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	where := "config"
	if e.Path != "" {
		where = e.Path
	}
	return fmt.Sprintf("invalid %s: %s", where, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Validate checks the whole config and reports every problem at once.
// Missing credentials wrap ErrNotConfigured.
func (c *Config) Validate() error {
	var problems []error
	missing := func(field string) {
		problems = append(problems, fmt.Errorf("%s: %w", field, ErrNotConfigured))
	}
	invalid := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	switch {
	case c.Hostname == "":
		missing("hostname")
	case strings.Contains(c.Hostname, "://") || strings.ContainsAny(c.Hostname, "/ "):
		invalid("hostname: %q must be a bare host name", c.Hostname)
	}

	switch {
	case c.Port == 0:
		missing("port")
	case c.Port < 1 || c.Port > 65535:
		invalid("port: %d out of range 1-65535", c.Port)
	}

	if c.Username == "" {
		missing("username")
	}
	if c.Password == "" {
		missing("password")
	}

	if strings.TrimSpace(c.RemoteDir) == "" {
		invalid("remote_dir: must not be empty")
	}

	switch {
	case c.DataDir == "":
		invalid("data_dir: must not be empty")
	case !filepath.IsAbs(c.DataDir):
		invalid("data_dir: %q must be absolute", c.DataDir)
	}
	if c.StagingDir != "" && c.DataDir != "" && filepath.Clean(c.StagingDir) == filepath.Clean(c.DataDir) {
		invalid("staging_dir: must differ from data_dir")
	}

	for _, p := range c.Include {
		if !doublestar.ValidatePattern(p) {
			invalid("include: invalid pattern %q", p)
		}
	}

	if c.Timeout <= 0 {
		invalid("timeout: must be positive")
	}
	if c.ConnectAttempts < 1 {
		invalid("connect_attempts: must be at least 1")
	}
	if c.RetryBackoff < 0 {
		invalid("retry_backoff: must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{Path: c.Path, Problems: problems}
	}
	return nil
}

// Credentials returns the connection parameters for the remote server.
func (c *Config) Credentials() remote.Credentials {
	return remote.Credentials{
		Host:     c.Hostname,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
	}
}

// Includes returns the include patterns, defaulting to artifact.DefaultIncludes.
func (c *Config) Includes() []string {
	if len(c.Include) == 0 {
		return slices.Clone(artifact.DefaultIncludes)
	}
	return slices.Clone(c.Include)
}

func setDefaults(v *viper.Viper, env Env) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("remote_dir", DefaultRemoteDir)
	v.SetDefault("data_dir", DefaultDataDir(env))
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("connect_attempts", DefaultConnectAttempts)
	v.SetDefault("retry_backoff", DefaultRetryBackoff)
	v.SetDefault("compare_mtime", false)
	v.SetDefault("tls", false)
	v.SetDefault("disable_epsv", false)
}

// envOverrides collects TIMEWSYNC_<KEY> variables.
func envOverrides(env Env) map[string]any {
	out := make(map[string]any)
	for _, key := range keys {
		if val, ok := env.Vars[EnvPrefix+"_"+strings.ToUpper(key)]; ok && val != "" {
			out[key] = val
		}
	}
	return out
}

type LoadOption func(*viper.Viper) error

// WithFlags binds command line flags to config keys. A flag only overrides
// the file and the environment when it was set explicitly.
func WithFlags(flags *pflag.FlagSet, keyToFlag map[string]string) LoadOption {
	return func(v *viper.Viper) error {
		for key, name := range keyToFlag {
			f := flags.Lookup(name)
			if f == nil {
				return fmt.Errorf("unknown flag %q for key %s", name, key)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		return nil
	}
}

// Load reads the config at path, applies TIMEWSYNC_* overrides from env,
// bound flags and defaults, and validates the result. The returned Config is
// non-nil whenever the file could be parsed, even if it failed validation.
func Load(fsys afero.Fs, path string, env Env, opts ...LoadOption) (*Config, error) {
	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v, env)
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("config read %s: %w", path, err)
	}

	if overrides := envOverrides(env); len(overrides) > 0 {
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("apply environment overrides: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode %s: %w", path, err)
	}
	cfg.Path = path
	cfg.DataDir = env.Expand(cfg.DataDir)
	if cfg.StagingDir == "" {
		cfg.StagingDir = DefaultStagingDir(cfg.DataDir)
	} else {
		cfg.StagingDir = env.Expand(cfg.StagingDir)
	}

	return &cfg, cfg.Validate()
}

// Save writes the config to c.Path with owner-only permissions. Optional
// fields are only written when set.
func (c *Config) Save(fsys afero.Fs) error {
	if c.Path == "" {
		return errors.New("config path is empty")
	}

	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigType("toml")

	v.Set("hostname", c.Hostname)
	v.Set("port", c.Port)
	v.Set("username", c.Username)
	v.Set("password", c.Password)
	v.Set("remote_dir", c.RemoteDir)
	if c.TLS {
		v.Set("tls", true)
	}
	if c.DisableEPSV {
		v.Set("disable_epsv", true)
	}
	if c.DataDir != "" {
		v.Set("data_dir", c.DataDir)
	}
	if c.StagingDir != "" {
		v.Set("staging_dir", c.StagingDir)
	}
	if len(c.Include) > 0 {
		v.Set("include", c.Include)
	}
	if c.Timeout > 0 && c.Timeout != DefaultTimeout {
		v.Set("timeout", c.Timeout.String())
	}
	if c.ConnectAttempts > 0 && c.ConnectAttempts != DefaultConnectAttempts {
		v.Set("connect_attempts", c.ConnectAttempts)
	}
	if c.RetryBackoff > 0 && c.RetryBackoff != DefaultRetryBackoff {
		v.Set("retry_backoff", c.RetryBackoff.String())
	}
	if c.CompareModTime {
		v.Set("compare_mtime", true)
	}

	if err := fsys.MkdirAll(filepath.Dir(c.Path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := v.WriteConfigAs(c.Path); err != nil {
		return fmt.Errorf("write config %s: %w", c.Path, err)
	}
	// the file holds a password
	if err := fsys.Chmod(c.Path, 0o600); err != nil {
		return fmt.Errorf("restrict config permissions: %w", err)
	}
	return nil
}

// Exists reports whether a config file is present at path.
func Exists(fsys afero.Fs, path string) bool {
	ok, err := afero.Exists(fsys, path)
	return err == nil && ok
}
