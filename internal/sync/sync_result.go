package sync

import (
	"slices"
	"time"
)

type Status uint8

var statusNames = []string{
	"succeeded",
	"failed",
	"skipped",
}

const (
	StatusSucceeded Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Skip reasons.
const (
	ReasonUpToDate      = "up to date"
	ReasonConflict      = "conflict"
	ReasonSessionLost   = "session lost"
	ReasonCancelled     = "cancelled"
	ReasonNotInConflict = "not in conflict"
	ReasonUnknownID     = "unknown artifact"
)

func reasonExcluded(m Mode) string {
	return "excluded by mode " + string(m)
}

// ActionResult is the outcome of one plan action.
type ActionResult struct {
	ID       string        `json:"id" yaml:"id"`
	Op       OpType        `json:"op" yaml:"op"`
	Status   Status        `json:"status" yaml:"status"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Bytes    int64         `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Attempts int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	fingerprint string
}

// SyncResult accumulates one ActionResult per executed plan action. Callers
// only get copies.
type SyncResult struct {
	mode    Mode
	results []ActionResult
}

func newSyncResult(mode Mode, capacity int) *SyncResult {
	return &SyncResult{mode: mode, results: make([]ActionResult, 0, capacity)}
}

func (r *SyncResult) add(res ActionResult) {
	r.results = append(r.results, res)
}

func (r *SyncResult) Mode() Mode {
	return r.mode
}

// Results returns the per-action outcomes in execution order.
func (r *SyncResult) Results() []ActionResult {
	return slices.Clone(r.results)
}

func (r *SyncResult) Get(id string) (ActionResult, bool) {
	for _, res := range r.results {
		if res.ID == id {
			return res, true
		}
	}
	return ActionResult{}, false
}

func (r *SyncResult) Count(status Status) int {
	n := 0
	for _, res := range r.results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failed reports whether any action failed.
func (r *SyncResult) Failed() bool {
	return r.Count(StatusFailed) > 0
}

// Summary totals a result set.
type Summary struct {
	Uploaded   int   `json:"uploaded" yaml:"uploaded"`
	Downloaded int   `json:"downloaded" yaml:"downloaded"`
	Failed     int   `json:"failed" yaml:"failed"`
	Skipped    int   `json:"skipped" yaml:"skipped"`
	Conflicts  int   `json:"conflicts" yaml:"conflicts"`
	UpToDate   int   `json:"up_to_date" yaml:"up_to_date"`
	Bytes      int64 `json:"bytes" yaml:"bytes"`
}

func (r *SyncResult) Summary() Summary {
	var s Summary
	for _, res := range r.results {
		switch res.Status {
		case StatusSucceeded:
			if res.Op == OpUpload {
				s.Uploaded++
			} else {
				s.Downloaded++
			}
			s.Bytes += res.Bytes
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
			switch res.Reason {
			case ReasonConflict:
				s.Conflicts++
			case ReasonUpToDate:
				s.UpToDate++
			}
		}
	}
	return s
}
