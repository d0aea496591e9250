// Package catalog reads the remote sync directory into a snapshot of
// remote artifacts.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/timewsync/timewsync/internal/artifact"
	"github.com/timewsync/timewsync/internal/remote"
)

// Listing is a point-in-time view of the remote directory.
type Listing struct {
	Dir       string
	Artifacts []*artifact.Remote // sorted by ID
	// Skipped counts malformed entries.
	Skipped int
	// Ignored counts well-formed entries that are not artifacts:
	// directories, hidden files, transfer temp files, filtered names.
	Ignored int
	// Temps are transfer temp files, possibly left by an interrupted run.
	// They are counted in Ignored too.
	Temps []*artifact.Remote
	// Manifest is the remote checksum manifest, empty when there is none.
	Manifest        artifact.Manifest
	ManifestSkipped int
	HasManifest     bool
}

// Get returns the artifact with the given id.
func (l *Listing) Get(id string) (*artifact.Remote, bool) {
	i, ok := slices.BinarySearchFunc(l.Artifacts, id, func(a *artifact.Remote, id string) int {
		return strings.Compare(a.ID, id)
	})
	if !ok {
		return nil, false
	}
	return l.Artifacts[i], true
}

type Reader struct {
	filter *artifact.Filter
}

func NewReader(filter *artifact.Filter) *Reader {
	if filter == nil {
		filter, _ = artifact.NewFilter(nil)
	}
	return &Reader{filter: filter}
}

// List reads dir on the session. An empty directory yields an empty listing.
// A missing directory yields a *ListError of kind DirectoryAbsent, a listing
// with entries of which none could be understood one of kind
// UnparsableListing.
func (r *Reader) List(ctx context.Context, sess *remote.Session, dir string) (*Listing, error) {
	entries, err := sess.List(ctx, dir)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, &ListError{Kind: DirectoryAbsent, Dir: dir, Err: err}
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	listing := r.parse(dir, entries)
	if len(entries) > 0 && len(listing.Artifacts) == 0 && listing.Ignored == 0 && !listing.HasManifest {
		return nil, &ListError{Kind: UnparsableListing, Dir: dir, Entries: len(entries)}
	}
	if listing.Skipped > 0 {
		slog.Warn("catalog skipped malformed entries", "dir", dir, "skipped", listing.Skipped, "entries", len(entries))
	}

	if listing.HasManifest {
		r.attachManifest(ctx, sess, listing)
	}

	slog.Debug("catalog", "dir", dir, "artifacts", len(listing.Artifacts), "ignored", listing.Ignored, "skipped", listing.Skipped)
	return listing, nil
}

func (r *Reader) parse(dir string, entries []remote.Entry) *Listing {
	listing := &Listing{Dir: dir, Manifest: make(artifact.Manifest)}
	seen := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		switch classify(e) {
		case entrySelf:
			continue
		case entryMalformed:
			slog.Debug("catalog malformed entry", "name", e.Name, "type", e.Type, "size", e.Size)
			listing.Skipped++
			continue
		case entryIgnored:
			listing.Ignored++
			continue
		case entryTemp:
			listing.Ignored++
			listing.Temps = append(listing.Temps, &artifact.Remote{ID: e.Name, Size: e.Size, ModTime: e.ModTime})
			continue
		case entryManifest:
			listing.HasManifest = true
			continue
		}

		if !r.filter.Match(e.Name) {
			listing.Ignored++
			continue
		}
		if _, dup := seen[e.Name]; dup {
			listing.Skipped++
			continue
		}
		seen[e.Name] = struct{}{}

		listing.Artifacts = append(listing.Artifacts, &artifact.Remote{
			ID:      e.Name,
			Size:    e.Size,
			ModTime: e.ModTime,
		})
	}

	slices.SortFunc(listing.Artifacts, func(a, b *artifact.Remote) int {
		return strings.Compare(a.ID, b.ID)
	})
	return listing
}

// attachManifest downloads the checksum manifest and copies fingerprints onto
// artifacts whose listed size matches the recorded one. Any failure leaves the
// listing without fingerprints.
func (r *Reader) attachManifest(ctx context.Context, sess *remote.Session, listing *Listing) {
	var buf bytes.Buffer
	if _, err := sess.Get(ctx, path.Join(listing.Dir, artifact.ManifestName), &buf); err != nil {
		slog.Warn("catalog manifest unreadable, comparing by size", "dir", listing.Dir, "error", err)
		return
	}

	manifest, skipped, err := artifact.ParseManifest(&buf)
	if err != nil {
		slog.Warn("catalog manifest unreadable, comparing by size", "dir", listing.Dir, "error", err)
		return
	}
	listing.Manifest = manifest
	listing.ManifestSkipped = skipped
	if skipped > 0 {
		slog.Warn("catalog manifest skipped malformed lines", "skipped", skipped)
	}

	for _, a := range listing.Artifacts {
		entry, ok := manifest[a.ID]
		if !ok {
			continue
		}
		if !a.HasSize() || entry.Size != a.Size {
			slog.Debug("catalog manifest stale", "id", a.ID, "listed", a.Size, "recorded", entry.Size)
			continue
		}
		a.Fingerprint = entry.Fingerprint
	}
}

type entryClass uint8

const (
	entryCandidate entryClass = iota
	entrySelf
	entryIgnored
	entryTemp
	entryManifest
	entryMalformed
)

func classify(e remote.Entry) entryClass {
	if e.Name == "." || e.Name == ".." {
		return entrySelf
	}
	if artifact.ValidateID(e.Name) != nil {
		return entryMalformed
	}

	switch e.Type {
	case remote.EntryDir, remote.EntryLink:
		return entryIgnored
	case remote.EntryFile:
	default:
		return entryMalformed
	}

	if e.Size < artifact.UnknownSize {
		return entryMalformed
	}
	if e.Name == artifact.ManifestName {
		return entryManifest
	}
	if artifact.IsTempName(e.Name) {
		return entryTemp
	}
	if artifact.IsHidden(e.Name) {
		return entryIgnored
	}
	return entryCandidate
}
