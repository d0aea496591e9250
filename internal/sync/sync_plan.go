package sync

import (
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/timewsync/timewsync/internal/artifact"
)

// Comparison details recorded on actions.
const (
	DetailLocalOnly       = "only local"
	DetailRemoteOnly      = "only remote"
	DetailFingerprints    = "fingerprints match"
	DetailFingerprintDiff = "fingerprints differ"
	DetailSizes           = "sizes match"
	DetailSizesAndTimes   = "sizes and modification times match"
	DetailSizeDiff        = "sizes differ"
	DetailSizeUnknown     = "remote size unknown"
	DetailModTimeDiff     = "modification times differ"
)

type PlanOptions struct {
	// CompareModTime also flags a conflict when the modification times of
	// both sides differ by more than ModTimeTolerance. Only used when a
	// fingerprint is missing.
	CompareModTime   bool
	ModTimeTolerance time.Duration
}

// SyncPlan is the ordered, immutable list of actions for one run.
type SyncPlan struct {
	actions []SyncAction
}

// ComputePlan reconciles the local and remote sets. Every identifier of
// either side ends up in exactly one action. Transfers come first in
// ascending identifier order, then conflicts, then no-ops.
func ComputePlan(local []*artifact.Local, remote []*artifact.Remote, opts PlanOptions) *SyncPlan {
	localState := make(map[string]*artifact.Local, len(local))
	for _, l := range local {
		localState[l.ID] = l
	}
	remoteState := make(map[string]*artifact.Remote, len(remote))
	for _, r := range remote {
		remoteState[r.ID] = r
	}

	allIDs := mapset.NewThreadUnsafeSetWithSize[string](len(localState) + len(remoteState))
	for id := range localState {
		allIDs.Add(id)
	}
	for id := range remoteState {
		allIDs.Add(id)
	}

	var transfers, conflicts, noops []SyncAction
	for _, id := range allIDs.ToSlice() {
		l, localExists := localState[id]
		r, remoteExists := remoteState[id]

		var action SyncAction
		switch {
		case localExists && !remoteExists:
			action = SyncAction{Op: OpUpload, ID: id, Local: l, Detail: DetailLocalOnly}
		case remoteExists && !localExists:
			action = SyncAction{Op: OpDownload, ID: id, Remote: r, Detail: DetailRemoteOnly}
		default:
			op, detail := compare(l, r, opts)
			action = SyncAction{Op: op, ID: id, Local: l, Remote: r, Detail: detail}
		}
		action = action.clone()

		switch action.Op {
		case OpConflict:
			conflicts = append(conflicts, action)
		case OpNoOp:
			noops = append(noops, action)
		default:
			transfers = append(transfers, action)
		}
	}

	byID := func(a, b SyncAction) int { return strings.Compare(a.ID, b.ID) }
	slices.SortFunc(transfers, byID)
	slices.SortFunc(conflicts, byID)
	slices.SortFunc(noops, byID)

	actions := make([]SyncAction, 0, len(transfers)+len(conflicts)+len(noops))
	actions = append(actions, transfers...)
	actions = append(actions, conflicts...)
	actions = append(actions, noops...)
	return &SyncPlan{actions: actions}
}

// compare decides between NoOp and Conflict for an identifier present on
// both sides. Neither side ever wins automatically.
func compare(l *artifact.Local, r *artifact.Remote, opts PlanOptions) (OpType, string) {
	if l.Fingerprint != "" && r.HasFingerprint() {
		if l.Fingerprint == r.Fingerprint {
			return OpNoOp, DetailFingerprints
		}
		return OpConflict, DetailFingerprintDiff
	}

	// no fingerprint on one side: fall back to metadata
	if !r.HasSize() {
		return OpConflict, DetailSizeUnknown
	}
	if l.Size != r.Size {
		return OpConflict, DetailSizeDiff
	}
	if opts.CompareModTime && r.HasModTime() && !l.ModTime.IsZero() {
		diff := l.ModTime.Sub(r.ModTime)
		if diff < 0 {
			diff = -diff
		}
		if diff > opts.ModTimeTolerance {
			return OpConflict, DetailModTimeDiff
		}
		return OpNoOp, DetailSizesAndTimes
	}
	return OpNoOp, DetailSizes
}

// Actions returns a copy of the plan's actions in execution order.
func (p *SyncPlan) Actions() []SyncAction {
	out := make([]SyncAction, len(p.actions))
	for i, a := range p.actions {
		out[i] = a.clone()
	}
	return out
}

func (p *SyncPlan) Len() int {
	return len(p.actions)
}

// Count returns the number of actions of the given op.
func (p *SyncPlan) Count(op OpType) int {
	n := 0
	for _, a := range p.actions {
		if a.Op == op {
			n++
		}
	}
	return n
}

// Get returns the action for id.
func (p *SyncPlan) Get(id string) (SyncAction, bool) {
	for _, a := range p.actions {
		if a.ID == id {
			return a.clone(), true
		}
	}
	return SyncAction{}, false
}

// Conflicts returns the conflict actions in identifier order.
func (p *SyncPlan) Conflicts() []SyncAction {
	var out []SyncAction
	for _, a := range p.actions {
		if a.Op == OpConflict {
			out = append(out, a.clone())
		}
	}
	return out
}
