package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/config"
)

// initAnswers are the values collected by the setup form.
type initAnswers struct {
	Path      string
	Hostname  string
	Port      string
	Username  string
	Password  string
	RemoteDir string
}

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.resolveConfigPath(cmd)
			force, _ := cmd.Flags().GetBool("force")
			if config.Exists(a.fs, path) && !force {
				return fmt.Errorf("config %s already exists, use --force to replace it", path)
			}
			if !a.interactive() {
				return errors.New("init needs an interactive terminal")
			}
			cfg, err := a.createConfig(cmd, path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green.Render("Saved"), cfg.Path)
			return err
		},
	}
	cmd.Flags().BoolP("force", "f", false, "overwrite an existing config")
	return cmd
}

// createConfig prompts for a config, validates it as a whole and saves it.
func (a *app) createConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	ans, err := a.promptConfig(path)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	cfg, err := ans.config(a.env)
	if err != nil {
		return nil, err
	}
	if err := cfg.Save(a.fs); err != nil {
		return nil, err
	}
	slog.Info("config created", "path", cfg.Path)
	return cfg, nil
}

// config turns the answers into a Config, checked with the defaults the
// loader would apply. Only the answered fields are kept for saving.
func (ans *initAnswers) config(env config.Env) (*config.Config, error) {
	port, err := strconv.Atoi(strings.TrimSpace(ans.Port))
	if err != nil {
		return nil, fmt.Errorf("port: %q is not a number", ans.Port)
	}

	cfg := &config.Config{
		Path:      env.Expand(strings.TrimSpace(ans.Path)),
		Hostname:  strings.TrimSpace(ans.Hostname),
		Port:      port,
		Username:  ans.Username,
		Password:  ans.Password,
		RemoteDir: strings.TrimSpace(ans.RemoteDir),
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = config.DefaultRemoteDir
	}

	check := *cfg
	check.DataDir = config.DefaultDataDir(env)
	check.Timeout = config.DefaultTimeout
	check.ConnectAttempts = config.DefaultConnectAttempts
	if err := check.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return errors.New("port must be a number between 1 and 65535")
	}
	return nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func runInitForm(path string) (*initAnswers, error) {
	ans := &initAnswers{
		Path:      path,
		Port:      strconv.Itoa(config.DefaultPort),
		RemoteDir: config.DefaultRemoteDir,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Config file").
				Description("Where to save the configuration").
				Value(&ans.Path).
				Validate(required("config file")),
			huh.NewInput().
				Title("Hostname").
				Description("FTP server, e.g. myftp.server.com").
				Value(&ans.Hostname).
				Validate(required("hostname")),
			huh.NewInput().
				Title("Port").
				Value(&ans.Port).
				Validate(validatePort),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&ans.Username).
				Validate(required("username")),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&ans.Password).
				Validate(required("password")),
			huh.NewInput().
				Title("Remote directory").
				Description("Directory on the server holding the data files").
				Value(&ans.RemoteDir),
		),
	)

	if err := form.Run(); err != nil {
		return nil, err
	}
	return ans, nil
}
