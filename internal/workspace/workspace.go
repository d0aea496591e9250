package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
	"github.com/timewsync/timewsync/internal/artifact"
	"golang.org/x/sync/errgroup"
)

const (
	lockFile     = "timewsync.lock"
	hashWorkers  = 4
	stagingPerms = 0o700
	dataPerms    = 0o755

	// Timewarrior keeps one file per month, this covers decades of data
	fingerprintCacheSize = 1024
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// Workspace is the local side of a sync: the Timewarrior data directory that
// holds the artifacts and a staging directory on the same filesystem where
// downloads land before they are promoted.
type Workspace struct {
	DataDir    string
	StagingDir string

	fs     afero.Fs
	filter *artifact.Filter
	flock  *flock.Flock

	// fingerprints of previous scans, reused while size and mtime match
	lastState *lru.Cache[string, *artifact.Local]
}

func NewWorkspace(fs afero.Fs, dataDir, stagingDir string, filter *artifact.Filter) (*Workspace, error) {
	if dataDir == "" || stagingDir == "" {
		return nil, fmt.Errorf("data and staging directories are required")
	}
	if filepath.Clean(dataDir) == filepath.Clean(stagingDir) {
		return nil, fmt.Errorf("staging directory must differ from data directory %s", dataDir)
	}
	if filter == nil {
		f, err := artifact.NewFilter(nil)
		if err != nil {
			return nil, err
		}
		filter = f
	}

	cache, err := lru.New[string, *artifact.Local](fingerprintCacheSize)
	if err != nil {
		return nil, err
	}

	return &Workspace{
		DataDir:    filepath.Clean(dataDir),
		StagingDir: filepath.Clean(stagingDir),
		fs:         fs,
		filter:     filter,
		flock:      flock.New(filepath.Join(stagingDir, lockFile)),
		lastState:  cache,
	}, nil
}

// Setup creates the data and staging directories.
func (w *Workspace) Setup() error {
	if err := w.fs.MkdirAll(w.DataDir, dataPerms); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.DataDir, err)
	}
	if err := w.fs.MkdirAll(w.StagingDir, stagingPerms); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.StagingDir, err)
	}

	slog.Debug("workspace", "data", w.DataDir, "staging", w.StagingDir)
	return nil
}

// Lock takes an exclusive lock so that two runs never touch the same data
// directory at once, then clears transfer files left behind by an
// interrupted run. The lock lives on the real filesystem.
func (w *Workspace) Lock() error {
	if err := os.MkdirAll(w.StagingDir, stagingPerms); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.StagingDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	w.clearStaging()
	return nil
}

// clearStaging removes stale temp files. Only the lock holder may call it:
// another run's staging files are in flight.
func (w *Workspace) clearStaging() {
	entries, err := afero.ReadDir(w.fs, w.StagingDir)
	if err != nil {
		slog.Warn("failed to read staging directory", "path", w.StagingDir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !artifact.IsTempName(e.Name()) {
			continue
		}
		stale := filepath.Join(w.StagingDir, e.Name())
		if err := w.fs.Remove(stale); err != nil {
			slog.Warn("failed to remove stale staging file", "path", stale, "error", err)
			continue
		}
		slog.Debug("removed stale staging file", "path", stale)
	}
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Path returns the canonical path of an artifact.
func (w *Workspace) Path(id string) string {
	return filepath.Join(w.DataDir, id)
}

// Open opens an artifact for reading.
func (w *Workspace) Open(id string) (afero.File, error) {
	if err := artifact.ValidateID(id); err != nil {
		return nil, err
	}
	return w.fs.Open(w.Path(id))
}

// Scan returns the artifacts currently in the data directory sorted by id.
// Files are hashed concurrently; subdirectories and filtered names are skipped.
func (w *Workspace) Scan(ctx context.Context) ([]*artifact.Local, error) {
	entries, err := afero.ReadDir(w.fs, w.DataDir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}

	var candidates []os.FileInfo
	for _, e := range entries {
		name := e.Name()
		if !e.Mode().IsRegular() {
			continue
		}
		if !w.filter.Match(name) {
			continue
		}
		if err := artifact.ValidateID(name); err != nil {
			slog.Warn("skipping local file", "name", name, "error", err)
			continue
		}
		candidates = append(candidates, e)
	}

	results := make([]*artifact.Local, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hashWorkers)

	for i, info := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local, err := w.describe(info)
			if err != nil {
				return err
			}
			results[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(results, func(a, b *artifact.Local) int {
		return strings.Compare(a.ID, b.ID)
	})
	return results, nil
}

func (w *Workspace) describe(info os.FileInfo) (*artifact.Local, error) {
	id := info.Name()

	last, ok := w.lastState.Get(id)
	if ok && last.Size == info.Size() && last.ModTime.Equal(info.ModTime()) {
		return last, nil
	}

	f, err := w.fs.Open(w.Path(id))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	defer f.Close()

	sum, n, err := artifact.Fingerprint(f)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", id, err)
	}

	local := &artifact.Local{
		ID:          id,
		Path:        w.Path(id),
		Size:        n,
		Fingerprint: sum,
		ModTime:     info.ModTime(),
	}

	w.lastState.Add(id, local)
	return local, nil
}

// CreateStaging creates a temporary file in the staging directory for id.
func (w *Workspace) CreateStaging(id string) (afero.File, error) {
	if err := artifact.ValidateID(id); err != nil {
		return nil, err
	}
	if err := w.fs.MkdirAll(w.StagingDir, stagingPerms); err != nil {
		return nil, fmt.Errorf("failed to ensure staging directory: %w", err)
	}
	return afero.TempFile(w.fs, w.StagingDir, "."+id+".*"+artifact.TempSuffix)
}

// Promote atomically moves a staged file onto the artifact's canonical path
// and stamps it with modTime when known.
func (w *Workspace) Promote(stagedPath, id string, modTime time.Time) error {
	target := w.Path(id)
	if err := w.fs.Rename(stagedPath, target); err != nil {
		return fmt.Errorf("failed to promote %s to %s: %w", stagedPath, target, err)
	}
	if !modTime.IsZero() {
		if err := w.fs.Chtimes(target, modTime, modTime); err != nil {
			slog.Warn("failed to set modification time", "path", target, "error", err)
		}
	}

	w.lastState.Remove(id)
	return nil
}

// Discard removes a staged file. Missing files are not an error.
func (w *Workspace) Discard(stagedPath string) {
	if err := w.fs.Remove(stagedPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove staging file", "path", stagedPath, "error", err)
	}
}
