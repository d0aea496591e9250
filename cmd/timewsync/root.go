package main

import (
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/sync"
	"github.com/timewsync/timewsync/internal/version"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "timewsync",
		Short: "Synchronize Timewarrior data with an FTP server",
		Long: `timewsync reconciles the local Timewarrior data directory with a directory
on an FTP server. Files that exist on one side only are copied over, files
that differ on both sides are reported as conflicts and never overwritten.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			return validateOutput(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMode(cmd, sync.ModeSync)
		},
	}

	pf := root.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", "", "config file (default $TIMEW_SYNC_CONFIG or ~/.timewarrior-sync/config.toml)")
	pf.StringP("output", "o", outputText, "report format: text, json or yaml")
	pf.BoolP("verbose", "v", false, "enable debug logging")
	pf.BoolP("quiet", "q", false, "only log warnings and errors")
	pf.String("remote-dir", "", "remote directory, overrides the config")
	pf.String("data-dir", "", "local Timewarrior data directory, overrides the config")
	pf.Bool("compare-mtime", false, "treat differing modification times as conflicts")
	pf.Bool("skip-timew-check", false, "do not require timew on PATH")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(
		newSyncCmd(a, sync.ModeSync, "Upload and download in one run"),
		newSyncCmd(a, sync.ModeUpload, "Upload local artifacts missing on the server"),
		newSyncCmd(a, sync.ModeDownload, "Download remote artifacts missing locally"),
		newPlanCmd(a),
		newResolveCmd(a),
		newInitCmd(a),
		newHistoryCmd(a),
		newConfigPathCmd(a),
		newVersionCmd(),
	)
	return root
}
