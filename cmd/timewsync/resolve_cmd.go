package main

import (
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/sync"
)

func newResolveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve --keep local|remote ID...",
		Short: "Settle conflicts by keeping one side",
		Long: `resolve transfers the kept side of each named conflict over the other:
--keep local uploads the local file, --keep remote downloads the server copy.
Identifiers that are not in conflict are left alone.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keepFlag, _ := cmd.Flags().GetString("keep")
			keep, err := sync.ParseKeep(keepFlag)
			if err != nil {
				return err
			}

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

			report, err := engine.Resolve(cmd.Context(), keep, args)
			return a.finishRun(cmd, report, err)
		},
	}
	cmd.Flags().String("keep", "", "side to keep: local or remote")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}
