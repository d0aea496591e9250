// Package sync reconciles the local Timewarrior data directory with a remote
// directory: it computes a plan from both snapshots and executes it over a
// single remote session.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/timewsync/timewsync/internal/artifact"
	"github.com/timewsync/timewsync/internal/catalog"
	"github.com/timewsync/timewsync/internal/remote"
	"github.com/timewsync/timewsync/internal/transfer"
)

// StaleTempAge is how old a remote temp file must be before a run removes
// it. Younger ones may belong to another client's upload in flight.
const StaleTempAge = time.Hour

var (
	ErrSessionLost = errors.New("session lost")
	ErrNothingToDo = errors.New("no identifiers given")
)

// Connector owns the remote session of a run.
type Connector interface {
	Connect(ctx context.Context) (*remote.Session, error)
	Reconnect(ctx context.Context) (*remote.Session, error)
	Teardown(ctx context.Context)
}

// LocalStore is the local side of a sync.
type LocalStore interface {
	Lock() error
	Unlock() error
	Scan(ctx context.Context) ([]*artifact.Local, error)
}

type Catalog interface {
	List(ctx context.Context, sess *remote.Session, dir string) (*catalog.Listing, error)
}

type Transferer interface {
	Upload(ctx context.Context, sess *remote.Session, local *artifact.Local) transfer.Outcome
	Download(ctx context.Context, sess *remote.Session, r *artifact.Remote) transfer.Outcome
	PutManifest(ctx context.Context, sess *remote.Session, m artifact.Manifest) error
	RemoveTemps(ctx context.Context, sess *remote.Session, names []string) (int, error)
}

// Recorder keeps finished reports. It is never read back for planning.
type Recorder interface {
	Record(ctx context.Context, report *Report) error
}

type Option func(*SyncEngine)

func WithPlanOptions(opts PlanOptions) Option {
	return func(se *SyncEngine) {
		se.planOpts = opts
	}
}

func WithRecorder(r Recorder) Option {
	return func(se *SyncEngine) {
		se.recorder = r
	}
}

type SyncEngine struct {
	remoteDir string
	conn      Connector
	local     LocalStore
	catalog   Catalog
	xfer      Transferer
	recorder  Recorder
	planOpts  PlanOptions
}

func NewSyncEngine(remoteDir string, conn Connector, local LocalStore, cat Catalog, xfer Transferer, opts ...Option) *SyncEngine {
	se := &SyncEngine{
		remoteDir: remoteDir,
		conn:      conn,
		local:     local,
		catalog:   cat,
		xfer:      xfer,
	}
	for _, opt := range opts {
		opt(se)
	}
	return se
}

// Snapshot is the state both sides were in when a plan was computed.
type Snapshot struct {
	Local        []*artifact.Local
	Remote       *catalog.Listing
	RemoteAbsent bool
}

// Preview connects, computes the plan and disconnects without executing
// anything.
func (se *SyncEngine) Preview(ctx context.Context) (*SyncPlan, *Snapshot, error) {
	sess, err := se.conn.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer se.conn.Teardown(ctx)

	r := &run{se: se, sess: sess}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ComputePlan(snap.Local, snap.Remote.Artifacts, se.planOpts), snap, nil
}

// Run performs a full run in the given mode. The returned report is never
// nil and accounts for every action that was planned.
func (se *SyncEngine) Run(ctx context.Context, mode Mode) (*Report, error) {
	return se.run(ctx, mode, nil)
}

// Resolve settles the named conflicts by transferring the kept side over the
// other. Identifiers that are not currently in conflict are skipped.
func (se *SyncEngine) Resolve(ctx context.Context, keep Keep, ids []string) (*Report, error) {
	if len(ids) == 0 {
		return nil, ErrNothingToDo
	}
	return se.run(ctx, ModeResolve, func(plan *SyncPlan) (*SyncPlan, []ActionResult) {
		return resolvePlan(plan, keep, ids)
	})
}

// Execute runs plan on sess. Reconnects go through the engine's Connector.
func (se *SyncEngine) Execute(ctx context.Context, sess *remote.Session, plan *SyncPlan, mode Mode) (*SyncResult, error) {
	r := &run{se: se, sess: sess}
	return r.execute(ctx, plan, mode)
}

type adjustFunc func(*SyncPlan) (*SyncPlan, []ActionResult)

func (se *SyncEngine) run(ctx context.Context, mode Mode, adjust adjustFunc) (*Report, error) {
	report := newReport(mode, se.remoteDir)
	err := se.runInto(ctx, report, mode, adjust)
	report.finish(err)

	slog.Info("sync finished", "run", report.RunID, "mode", mode, "took", report.Duration,
		"uploaded", report.Summary.Uploaded,
		"downloaded", report.Summary.Downloaded,
		"conflicts", report.Summary.Conflicts,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
	)

	if se.recorder != nil {
		if rerr := se.recorder.Record(context.WithoutCancel(ctx), report); rerr != nil {
			slog.Warn("history record failed", "run", report.RunID, "error", rerr)
		}
	}
	return report, err
}

func (se *SyncEngine) runInto(ctx context.Context, report *Report, mode Mode, adjust adjustFunc) error {
	if err := se.local.Lock(); err != nil {
		return err
	}
	defer func() {
		if err := se.local.Unlock(); err != nil {
			slog.Warn("workspace unlock failed", "error", err)
		}
	}()

	sess, err := se.conn.Connect(ctx)
	if err != nil {
		return err
	}
	defer se.conn.Teardown(ctx)

	r := &run{se: se, sess: sess}
	snap, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	report.setSnapshot(snap)

	plan := ComputePlan(snap.Local, snap.Remote.Artifacts, se.planOpts)
	var skipped []ActionResult
	if adjust != nil {
		plan, skipped = adjust(plan)
	} else {
		report.Conflicts = plan.Conflicts()
	}
	slog.Debug("sync plan", "actions", plan.Len(),
		"uploads", plan.Count(OpUpload),
		"downloads", plan.Count(OpDownload),
		"conflicts", plan.Count(OpConflict),
		"unchanged", plan.Count(OpNoOp),
	)

	result, execErr := r.execute(ctx, plan, mode)
	for _, res := range skipped {
		result.add(res)
	}
	report.setResult(result)

	if warning := r.updateManifest(ctx, snap, result); warning != "" {
		report.Warnings = append(report.Warnings, warning)
	}
	r.removeStaleTemps(ctx, snap)
	return execErr
}

// run holds the session of one execution; it changes on reconnect.
type run struct {
	se   *SyncEngine
	sess *remote.Session
}

func (r *run) reconnect(ctx context.Context) error {
	sess, err := r.se.conn.Reconnect(ctx)
	if err != nil {
		return err
	}
	r.sess = sess
	return nil
}

// snapshot reads both sides. When the listing loses the session, the
// session is restored and both sides are read again, since either may have
// moved on meanwhile. Unchanged local files keep their cached fingerprints.
func (r *run) snapshot(ctx context.Context) (*Snapshot, error) {
	snap, err := r.read(ctx)
	if err != nil && remote.IsSessionError(err) && ctx.Err() == nil {
		slog.Warn("remote list failed, reconnecting", "error", err)
		if rerr := r.reconnect(ctx); rerr != nil {
			return nil, fmt.Errorf("%w: %w", ErrSessionLost, rerr)
		}
		snap, err = r.read(ctx)
	}
	return snap, err
}

func (r *run) read(ctx context.Context) (*Snapshot, error) {
	local, err := r.se.local.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan local: %w", err)
	}

	listing, err := r.se.catalog.List(ctx, r.sess, r.se.remoteDir)
	snap := &Snapshot{Local: local}
	switch {
	case catalog.IsDirectoryAbsent(err):
		slog.Info("remote directory absent, treating as empty", "dir", r.se.remoteDir)
		snap.RemoteAbsent = true
		snap.Remote = &catalog.Listing{Dir: r.se.remoteDir, Manifest: artifact.Manifest{}}
	case err != nil:
		return nil, fmt.Errorf("list remote: %w", err)
	default:
		snap.Remote = listing
	}
	return snap, nil
}

func (r *run) execute(ctx context.Context, plan *SyncPlan, mode Mode) (*SyncResult, error) {
	actions := plan.actions
	result := newSyncResult(mode, len(actions))

	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			skipAll(result, actions[i:], ReasonCancelled)
			slog.Warn("sync cancelled", "remaining", len(actions)-i)
			return result, fmt.Errorf("sync cancelled: %w", err)
		}

		switch {
		case a.Op == OpNoOp:
			result.add(ActionResult{ID: a.ID, Op: a.Op, Status: StatusSkipped, Reason: ReasonUpToDate})
			continue
		case a.Op == OpConflict:
			slog.Warn("sync", "op", a.Op, "id", a.ID, "detail", a.Detail)
			result.add(ActionResult{ID: a.ID, Op: a.Op, Status: StatusSkipped, Reason: ReasonConflict})
			continue
		case !mode.allows(a.Op):
			result.add(ActionResult{ID: a.ID, Op: a.Op, Status: StatusSkipped, Reason: reasonExcluded(mode)})
			continue
		}

		res, err := r.transfer(ctx, a)
		result.add(res)
		if err != nil {
			skipAll(result, actions[i+1:], ReasonSessionLost)
			return result, err
		}
	}
	return result, nil
}

// transfer executes one upload or download. A lost session is reconnected
// and the action retried once; an error is returned only when the session
// cannot be restored.
func (r *run) transfer(ctx context.Context, a SyncAction) (ActionResult, error) {
	// the in-flight transfer completes even if the run is cancelled
	xctx := context.WithoutCancel(ctx)

	out := r.do(xctx, a)
	attempts := 1
	if !out.OK() && out.SessionLost && ctx.Err() == nil {
		slog.Warn("sync session lost, reconnecting", "op", a.Op, "id", a.ID, "error", out.Err)
		if err := r.reconnect(ctx); err != nil {
			res := failedResult(a, out, attempts)
			return res, fmt.Errorf("%w: %w", ErrSessionLost, err)
		}
		out = r.do(xctx, a)
		attempts++
	}

	if !out.OK() {
		slog.Error("sync", "op", a.Op, "id", a.ID, "reason", out.Reason, "error", out.Err)
		return failedResult(a, out, attempts), nil
	}
	return ActionResult{
		ID:          a.ID,
		Op:          a.Op,
		Status:      StatusSucceeded,
		Bytes:       out.Bytes,
		Attempts:    attempts,
		Duration:    out.Duration,
		fingerprint: out.Fingerprint,
	}, nil
}

func (r *run) do(ctx context.Context, a SyncAction) transfer.Outcome {
	if a.Op == OpUpload {
		return r.se.xfer.Upload(ctx, r.sess, a.Local)
	}
	return r.se.xfer.Download(ctx, r.sess, a.Remote)
}

// updateManifest rewrites the remote checksum manifest when this run changed
// what it should contain. It returns a warning instead of failing the run.
func (r *run) updateManifest(ctx context.Context, snap *Snapshot, result *SyncResult) string {
	next := nextManifest(snap, result)
	if next.Equal(snap.Remote.Manifest) {
		return ""
	}
	if r.sess.Lost() {
		return "checksum manifest not updated: session lost"
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := r.se.xfer.PutManifest(mctx, r.sess, next); err != nil {
		slog.Warn("checksum manifest update failed", "error", err)
		return fmt.Sprintf("checksum manifest not updated: %v", err)
	}
	slog.Debug("checksum manifest updated", "entries", len(next))
	return ""
}

// removeStaleTemps deletes remote temp files older than StaleTempAge. Failures
// are only logged: the files are ignored by the catalog anyway.
func (r *run) removeStaleTemps(ctx context.Context, snap *Snapshot) {
	if ctx.Err() != nil || r.sess.Lost() {
		return
	}

	cutoff := time.Now().Add(-StaleTempAge)
	var stale []string
	for _, t := range snap.Remote.Temps {
		if t.HasModTime() && t.ModTime.Before(cutoff) {
			stale = append(stale, t.ID)
		}
	}
	if len(stale) == 0 {
		return
	}

	n, err := r.se.xfer.RemoveTemps(ctx, r.sess, stale)
	if err != nil {
		slog.Warn("remote temp cleanup failed", "removed", n, "stale", len(stale), "error", err)
		return
	}
	slog.Info("removed stale remote temp files", "count", n)
}

// nextManifest records the content of every artifact that was transferred
// and drops entries for artifacts that no longer exist remotely.
func nextManifest(snap *Snapshot, result *SyncResult) artifact.Manifest {
	next := snap.Remote.Manifest.Clone()

	present := make(map[string]struct{}, len(snap.Remote.Artifacts))
	for _, a := range snap.Remote.Artifacts {
		present[a.ID] = struct{}{}
	}
	for _, res := range result.results {
		if res.Status != StatusSucceeded || res.fingerprint == "" {
			continue
		}
		next[res.ID] = artifact.ManifestEntry{Fingerprint: res.fingerprint, Size: res.Bytes}
		present[res.ID] = struct{}{}
	}
	for id := range next {
		if _, ok := present[id]; !ok {
			delete(next, id)
		}
	}
	return next
}

func resolvePlan(plan *SyncPlan, keep Keep, ids []string) (*SyncPlan, []ActionResult) {
	var actions []SyncAction
	var skipped []ActionResult
	seen := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		a, ok := plan.Get(id)
		switch {
		case !ok:
			skipped = append(skipped, ActionResult{ID: id, Op: OpNoOp, Status: StatusSkipped, Reason: ReasonUnknownID})
		case a.Op != OpConflict:
			skipped = append(skipped, ActionResult{ID: id, Op: a.Op, Status: StatusSkipped, Reason: ReasonNotInConflict})
		default:
			a.Op = keep.op()
			a.Detail = "resolved keeping " + string(keep)
			actions = append(actions, a)
		}
	}

	slices.SortFunc(actions, func(a, b SyncAction) int { return strings.Compare(a.ID, b.ID) })
	return &SyncPlan{actions: actions}, skipped
}

func failedResult(a SyncAction, out transfer.Outcome, attempts int) ActionResult {
	return ActionResult{
		ID:       a.ID,
		Op:       a.Op,
		Status:   StatusFailed,
		Reason:   out.Reason,
		Bytes:    out.Bytes,
		Attempts: attempts,
		Duration: out.Duration,
	}
}

func skipAll(result *SyncResult, actions []SyncAction, reason string) {
	for _, a := range actions {
		result.add(ActionResult{ID: a.ID, Op: a.Op, Status: StatusSkipped, Reason: reason})
	}
}
