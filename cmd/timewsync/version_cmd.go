package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print timewsync version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.AppName, version.Detailed())
			return err
		},
	}
}
