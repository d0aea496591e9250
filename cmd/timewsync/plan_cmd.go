package main

import (
	"github.com/spf13/cobra"
	"github.com/timewsync/timewsync/internal/sync"
)

// planView is the serialized form of a dry run.
type planView struct {
	RemoteDir    string            `json:"remote_dir" yaml:"remote_dir"`
	LocalCount   int               `json:"local_count" yaml:"local_count"`
	RemoteCount  int               `json:"remote_count" yaml:"remote_count"`
	RemoteAbsent bool              `json:"remote_absent,omitempty" yaml:"remote_absent,omitempty"`
	// SizeOnly counts unchanged artifacts that were compared by size alone.
	SizeOnly     int               `json:"size_only,omitempty" yaml:"size_only,omitempty"`
	Actions      []sync.SyncAction `json:"actions" yaml:"actions"`
}

func newPlanView(remoteDir string, plan *sync.SyncPlan, snap *sync.Snapshot) *planView {
	view := &planView{
		RemoteDir:    remoteDir,
		LocalCount:   len(snap.Local),
		RemoteCount:  len(snap.Remote.Artifacts),
		RemoteAbsent: snap.RemoteAbsent,
		Actions:      plan.Actions(),
	}
	for _, a := range view.Actions {
		if a.Op == sync.OpNoOp && a.Detail == sync.DetailSizes {
			view.SizeOnly++
		}
	}
	return view
}

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would do without transferring anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			engine, cleanup, err := a.engine(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			plan, snap, err := engine.Preview(cmd.Context())
			if err != nil {
				return err
			}

			return writePlan(cmd, newPlanView(cfg.RemoteDir, plan, snap))
		},
	}
}
