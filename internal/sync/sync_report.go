package sync

import (
	"time"

	"github.com/google/uuid"
)

// Report is the full accounting of one run, handed to the CLI and the
// history journal.
type Report struct {
	RunID          string         `json:"run_id" yaml:"run_id"`
	Mode           Mode           `json:"mode" yaml:"mode"`
	RemoteDir      string         `json:"remote_dir" yaml:"remote_dir"`
	StartedAt      time.Time      `json:"started_at" yaml:"started_at"`
	Duration       time.Duration  `json:"duration" yaml:"duration"`
	LocalCount     int            `json:"local_count" yaml:"local_count"`
	RemoteCount    int            `json:"remote_count" yaml:"remote_count"`
	RemoteAbsent   bool           `json:"remote_absent,omitempty" yaml:"remote_absent,omitempty"`
	ListingSkipped int            `json:"listing_skipped,omitempty" yaml:"listing_skipped,omitempty"`
	Conflicts      []SyncAction   `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Results        []ActionResult `json:"results" yaml:"results"`
	Summary        Summary        `json:"summary" yaml:"summary"`
	Warnings       []string       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Error          string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReport(mode Mode, remoteDir string) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Mode:      mode,
		RemoteDir: remoteDir,
		StartedAt: time.Now(),
	}
}

func (r *Report) setSnapshot(snap *Snapshot) {
	r.LocalCount = len(snap.Local)
	r.RemoteCount = len(snap.Remote.Artifacts)
	r.RemoteAbsent = snap.RemoteAbsent
	r.ListingSkipped = snap.Remote.Skipped
	if snap.Remote.Skipped > 0 {
		r.Warnings = append(r.Warnings, "remote listing had malformed entries")
	}
	if snap.Remote.ManifestSkipped > 0 {
		r.Warnings = append(r.Warnings, "remote checksum manifest had malformed lines")
	}
}

func (r *Report) setResult(result *SyncResult) {
	r.Results = result.Results()
	r.Summary = result.Summary()
}

func (r *Report) finish(err error) {
	r.Duration = time.Since(r.StartedAt)
	if err != nil {
		r.Error = err.Error()
	}
}

// Succeeded reports whether the run completed without any failure.
func (r *Report) Succeeded() bool {
	return r.Error == "" && r.Summary.Failed == 0
}
