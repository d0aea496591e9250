package main

import (
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/sync"
)

func newSyncCmd(a *app, mode sync.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMode(cmd, mode)
		},
	}
}

func (a *app) runMode(cmd *cobra.Command, mode sync.Mode) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := a.checkTimew(cmd); err != nil {
		return err
	}

	engine, cleanup, err := a.engine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := engine.Run(cmd.Context(), mode)
	return a.finishRun(cmd, report, err)
}

// finishRun prints the report and maps it to an exit status.
func (a *app) finishRun(cmd *cobra.Command, report *sync.Report, runErr error) error {
	if report != nil {
		if err := writeReport(cmd, report); err != nil {
			return err
		}
	}
	if code := exitCode(report, runErr); code != exitOK {
		return &exitError{code: code, err: runErr}
	}
	return nil
}

// exitCode is 1 when the run aborted or any action failed, 2 when the only
// problem is unresolved conflicts.
func exitCode(report *sync.Report, runErr error) int {
	switch {
	case runErr != nil || report == nil:
		return exitFailure
	case !report.Succeeded():
		return exitFailure
	case report.Summary.Conflicts > 0:
		return exitConflict
	}
	return exitOK
}
