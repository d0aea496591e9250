package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/artifact"
	"github.com/timewsync/timewsync/internal/catalog"
	"github.com/timewsync/timewsync/internal/config"
	"github.com/timewsync/timewsync/internal/history"
	"github.com/timewsync/timewsync/internal/logging"
	"github.com/timewsync/timewsync/internal/remote"
	"github.com/timewsync/timewsync/internal/sync"
	"github.com/timewsync/timewsync/internal/transfer"
	"github.com/timewsync/timewsync/internal/version"
	"github.com/timewsync/timewsync/internal/workspace"
)

const timewBinary = "timew"

var errTimewMissing = errors.New("timewarrior is not installed (timew not found in PATH); install it from https://timewarrior.net/")

// app carries the process dependencies of the CLI. Tests replace them.
type app struct {
	stdout      io.Writer
	stderr      io.Writer
	fs          afero.Fs
	env         config.Env
	envErr      error
	dialer      remote.Dialer
	lookPath    func(string) (string, error)
	interactive func() bool
	// promptConfig asks the user for a new config, see init_cmd.go
	promptConfig func(path string) (*initAnswers, error)
	logToFile    bool

	logger *logging.Logger
}

func newApp() *app {
	env, err := config.EnvFromOS()
	return &app{
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		fs:       afero.NewOsFs(),
		env:      env,
		envErr:   err,
		lookPath: exec.LookPath,
		interactive: func() bool {
			return isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd())
		},
		promptConfig: runInitForm,
		logToFile:    true,
	}
}

// exitError carries a process exit code. A nil err means the reason was
// already reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

const (
	exitOK       = 0
	exitFailure  = 1
	exitConflict = 2
)

func (a *app) execute(ctx context.Context, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		a.logger.Close()
	}
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			printError(root.ErrOrStderr(), ee.err)
		}
		return ee.code
	}
	printError(root.ErrOrStderr(), err)
	return exitFailure
}

// setup runs before every command: it loads the optional .env file into the
// environment snapshot and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	if a.envErr != nil {
		return a.envErr
	}
	if err := a.loadDotEnv(); err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	opts := logging.Options{
		Console: cmd.ErrOrStderr(),
		Verbose: verbose,
		Quiet:   quiet,
	}
	if a.logToFile {
		opts.File = a.env.LogFilePath()
	}
	logger, err := logging.New(opts)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger.Logger)
	slog.Debug("start", "client", version.UserAgent(), "command", cmd.CommandPath())
	return nil
}

// loadDotEnv merges ~/.timewarrior-sync/.env into the environment snapshot.
// Variables already present in the process environment win.
func (a *app) loadDotEnv() error {
	vars, err := godotenv.Read(a.env.DotEnvPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", a.env.DotEnvPath(), err)
	}
	if a.env.Vars == nil {
		a.env.Vars = make(map[string]string, len(vars))
	}
	for k, v := range vars {
		if _, ok := a.env.Vars[k]; !ok {
			a.env.Vars[k] = v
		}
	}
	return nil
}

// resolveConfigPath returns the --config flag when given, otherwise the path
// derived from the environment.
func (a *app) resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return a.env.Expand(f.Value.String())
	}
	return config.ResolveConfigPath(a.env)
}

// loadConfig reads and validates the config. A missing config starts the
// interactive setup on a terminal; otherwise the example is printed.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := a.resolveConfigPath(cmd)
	flags := config.WithFlags(cmd.Flags(), map[string]string{
		"remote_dir":    "remote-dir",
		"data_dir":      "data-dir",
		"compare_mtime": "compare-mtime",
	})

	cfg, err := config.Load(a.fs, path, a.env, flags)
	if errors.Is(err, config.ErrConfigNotFound) {
		if !a.interactive() {
			fmt.Fprintf(cmd.ErrOrStderr(), "No config found at %s. Create one like this:\n\n%s\n", path, config.Example)
			return nil, &exitError{code: exitFailure}
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s no config at %s, let's create one.\n", cyan.Render("timewsync:"), path)
		created, cerr := a.createConfig(cmd, path)
		if cerr != nil {
			return nil, cerr
		}
		cfg, err = config.Load(a.fs, created.Path, a.env, flags)
	}
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\nExample config:\n\n%s\n", err, config.Example)
			return nil, &exitError{code: exitFailure}
		}
		return nil, err
	}

	slog.Debug("config loaded", "path", cfg.Path, "host", cfg.Hostname, "remote_dir", cfg.RemoteDir, "data_dir", cfg.DataDir)
	return cfg, nil
}

func (a *app) checkTimew(cmd *cobra.Command) error {
	if skip, _ := cmd.Flags().GetBool("skip-timew-check"); skip {
		return nil
	}
	if _, err := a.lookPath(timewBinary); err != nil {
		return errTimewMissing
	}
	return nil
}

// engine wires one sync engine from cfg. The returned cleanup closes the
// history journal.
func (a *app) engine(cfg *config.Config) (*sync.SyncEngine, func(), error) {
	filter, err := artifact.LoadFilter(cfg.Includes(), filepath.Join(cfg.DataDir, artifact.IgnoreFileName))
	if err != nil {
		return nil, nil, err
	}

	ws, err := workspace.NewWorkspace(a.fs, cfg.DataDir, cfg.StagingDir, filter)
	if err != nil {
		return nil, nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, nil, err
	}

	dialer := a.dialer
	if dialer == nil {
		d := &remote.FTPDialer{DialTimeout: cfg.Timeout, DisableEPSV: cfg.DisableEPSV}
		if cfg.TLS {
			d.TLSConfig = &tls.Config{ServerName: cfg.Hostname, MinVersion: tls.VersionTLS12}
		}
		dialer = d
	}
	mgr := remote.NewManager(cfg.Credentials(), dialer,
		remote.WithMaxAttempts(cfg.ConnectAttempts),
		remote.WithBackoff(cfg.RetryBackoff),
		remote.WithTimeout(cfg.Timeout),
	)

	opts := []sync.Option{
		sync.WithPlanOptions(sync.PlanOptions{
			CompareModTime:   cfg.CompareModTime,
			ModTimeTolerance: config.DefaultModTimeSlack,
		}),
	}

	cleanup := func() {}
	journal, err := history.Open(a.env.HistoryPath())
	if err != nil {
		slog.Warn("run history disabled", "error", err)
	} else {
		opts = append(opts, sync.WithRecorder(journal))
		cleanup = func() {
			if err := journal.Close(); err != nil {
				slog.Warn("close history", "error", err)
			}
		}
	}

	engine := sync.NewSyncEngine(cfg.RemoteDir, mgr, ws,
		catalog.NewReader(filter),
		transfer.NewExecutor(ws, cfg.RemoteDir, transfer.WithHashVerification(true)),
		opts...,
	)
	return engine, cleanup, nil
}
