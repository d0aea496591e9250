// Package transfer moves single artifacts between the workspace and the
// remote directory. Every transfer lands under a temporary name and is only
// renamed onto the canonical name once its bytes have been verified.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timewsync/timewsync/internal/artifact"
	"github.com/timewsync/timewsync/internal/remote"
	"github.com/timewsync/timewsync/internal/workspace"
)

type Option func(*Executor)

// WithHashVerification toggles the server-side fingerprint check after an
// upload. It only has an effect when the transport implements remote.Hasher.
func WithHashVerification(enabled bool) Option {
	return func(e *Executor) {
		e.verifyHash = enabled
	}
}

type Executor struct {
	ws         *workspace.Workspace
	remoteDir  string
	verifyHash bool
	token      func() string

	mu       sync.Mutex
	dirReady string // session id for which remoteDir is known to exist
}

func NewExecutor(ws *workspace.Workspace, remoteDir string, opts ...Option) *Executor {
	e := &Executor{
		ws:         ws,
		remoteDir:  path.Clean(remoteDir),
		verifyHash: true,
		token:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RemotePath returns the canonical remote path of an artifact.
func (e *Executor) RemotePath(id string) string {
	return path.Join(e.remoteDir, id)
}

// Upload streams a local artifact to the remote directory.
func (e *Executor) Upload(ctx context.Context, sess *remote.Session, local *artifact.Local) Outcome {
	start := time.Now()
	out := Outcome{ID: local.ID, Direction: DirUpload}

	if err := e.ensureRemoteDir(ctx, sess); err != nil {
		return out.fail(err, false)
	}

	f, err := e.ws.Open(local.ID)
	if err != nil {
		return out.fail(fmt.Errorf("open %s: %w", local.ID, err), true)
	}
	defer f.Close()

	n, err := e.putVerified(ctx, sess, local.ID, f, func(sent int64, sum string) error {
		if sent != local.Size || sum != local.Fingerprint {
			return fmt.Errorf("%w: sent %d bytes, scanned %d", ErrSourceChanged, sent, local.Size)
		}
		return nil
	})
	out.Bytes = n
	out.Duration = time.Since(start)
	if err != nil {
		return out.fail(err, false)
	}

	out.Fingerprint = local.Fingerprint
	slog.Info("sync", "op", DirUpload, "id", local.ID, "size", n, "took", out.Duration)
	return out
}

// Download streams a remote artifact through the staging directory into the
// data directory.
func (e *Executor) Download(ctx context.Context, sess *remote.Session, r *artifact.Remote) Outcome {
	start := time.Now()
	out := Outcome{ID: r.ID, Direction: DirDownload}

	staged, err := e.ws.CreateStaging(r.ID)
	if err != nil {
		return out.fail(fmt.Errorf("create staging file: %w", err), true)
	}
	stagedPath := staged.Name()

	success := false
	defer func() {
		if !success {
			staged.Close()
			e.ws.Discard(stagedPath)
		}
	}()

	h := artifact.NewHasher()
	n, err := sess.Get(ctx, e.RemotePath(r.ID), io.MultiWriter(staged, h))
	out.Bytes = n
	if err != nil {
		out.Duration = time.Since(start)
		return out.fail(fmt.Errorf("get %s: %w", r.ID, err), false)
	}

	sum := artifact.SumHex(h)
	if r.HasSize() && n != r.Size {
		return out.fail(fmt.Errorf("%w: received %d bytes, listed %d", ErrIntegrityMismatch, n, r.Size), false)
	}
	if r.HasFingerprint() && sum != r.Fingerprint {
		return out.fail(fmt.Errorf("%w: fingerprint %s, expected %s", ErrIntegrityMismatch, sum, r.Fingerprint), false)
	}

	if err := staged.Sync(); err != nil {
		return out.fail(fmt.Errorf("sync staging file: %w", err), true)
	}
	if err := staged.Close(); err != nil {
		return out.fail(fmt.Errorf("close staging file: %w", err), true)
	}
	if err := e.ws.Promote(stagedPath, r.ID, r.ModTime); err != nil {
		return out.fail(err, true)
	}
	success = true

	out.Fingerprint = sum
	out.Duration = time.Since(start)
	slog.Info("sync", "op", DirDownload, "id", r.ID, "size", n, "took", out.Duration)
	return out
}

// PutManifest replaces the remote checksum manifest through the same
// temporary name and rename path as uploads.
func (e *Executor) PutManifest(ctx context.Context, sess *remote.Session, m artifact.Manifest) error {
	if err := e.ensureRemoteDir(ctx, sess); err != nil {
		return err
	}

	var buf strings.Builder
	if _, err := m.WriteTo(&buf); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err := e.putVerified(ctx, sess, artifact.ManifestName, strings.NewReader(buf.String()), nil)
	return err
}

// RemoveTemps deletes leftover temporary files from the remote directory and
// returns how many were removed. Files already gone are not an error.
func (e *Executor) RemoveTemps(ctx context.Context, sess *remote.Session, names []string) (int, error) {
	removed := 0
	for _, name := range names {
		if !artifact.IsTempName(name) {
			return removed, fmt.Errorf("refusing to remove %s: not a temporary name", name)
		}
		p := path.Join(e.remoteDir, name)
		if err := sess.Delete(ctx, p); err != nil {
			if errors.Is(err, remote.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("remove %s: %w", p, err)
		}
		slog.Debug("removed remote temp file", "path", p)
		removed++
	}
	return removed, nil
}

// putVerified uploads body to a temporary name, runs check on the bytes that
// were sent, verifies the stored size (and fingerprint when available) and
// renames the temporary file onto name. The temporary file is removed on
// every failure that leaves the session usable.
func (e *Executor) putVerified(ctx context.Context, sess *remote.Session, name string, body io.Reader, check func(sent int64, sum string) error) (int64, error) {
	tmp := path.Join(e.remoteDir, artifact.TempName(name, e.token()))
	final := e.RemotePath(name)

	h := artifact.NewHasher()
	var sent counter
	tee := io.TeeReader(body, io.MultiWriter(h, &sent))

	committed := false
	defer func() {
		if !committed && !sess.Lost() {
			if err := sess.Delete(ctx, tmp); err != nil && !errors.Is(err, remote.ErrNotFound) {
				slog.Warn("remote temp cleanup failed", "path", tmp, "error", err)
			}
		}
	}()

	if err := sess.Put(ctx, tmp, tee); err != nil {
		return int64(sent), fmt.Errorf("put %s: %w", name, err)
	}
	if check != nil {
		if err := check(int64(sent), artifact.SumHex(h)); err != nil {
			return int64(sent), err
		}
	}

	size, err := sess.Size(ctx, tmp)
	if err != nil {
		return int64(sent), fmt.Errorf("size %s: %w", name, err)
	}
	if size != int64(sent) {
		return int64(sent), fmt.Errorf("%w: server stored %d bytes, sent %d", ErrIntegrityMismatch, size, sent)
	}

	if e.verifyHash && sess.SupportsHash() {
		sum, err := sess.Hash(ctx, tmp)
		switch {
		case errors.Is(err, remote.ErrUnsupported):
		case err != nil:
			return int64(sent), fmt.Errorf("hash %s: %w", name, err)
		case sum != artifact.SumHex(h):
			return int64(sent), fmt.Errorf("%w: server fingerprint %s, sent %s", ErrIntegrityMismatch, sum, artifact.SumHex(h))
		}
	}

	if err := e.promoteRemote(ctx, sess, tmp, final); err != nil {
		return int64(sent), err
	}
	committed = true
	return int64(sent), nil
}

// promoteRemote renames tmp onto final. Some servers refuse to rename onto an
// existing file; in that case the old file is deleted and the rename retried.
func (e *Executor) promoteRemote(ctx context.Context, sess *remote.Session, tmp, final string) error {
	err := sess.Rename(ctx, tmp, final)
	if err == nil {
		return nil
	}
	if remote.IsSessionError(err) {
		return fmt.Errorf("rename %s: %w", final, err)
	}

	slog.Debug("remote rename refused, replacing", "path", final, "error", err)
	if err := sess.Delete(ctx, final); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return fmt.Errorf("replace %s: %w", final, err)
	}
	if err := sess.Rename(ctx, tmp, final); err != nil {
		return fmt.Errorf("rename %s: %w", final, err)
	}
	return nil
}

// ensureRemoteDir creates the remote directory and its parents once per
// session.
func (e *Executor) ensureRemoteDir(ctx context.Context, sess *remote.Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dirReady == sess.ID() {
		return nil
	}

	dir := ""
	if strings.HasPrefix(e.remoteDir, "/") {
		dir = "/"
	}
	for _, part := range strings.Split(strings.Trim(e.remoteDir, "/"), "/") {
		if part == "" || part == "." {
			continue
		}
		dir = path.Join(dir, part)
		if err := sess.MakeDir(ctx, dir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	e.dirReady = sess.ID()
	return nil
}

type counter int64

func (c *counter) Write(p []byte) (int, error) {
	*c += counter(len(p))
	return len(p), nil
}
