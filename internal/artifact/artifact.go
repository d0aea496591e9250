// Package artifact describes the units of Timewarrior data that get synchronized
// and the helpers shared by the local and remote sides: identifiers,
// fingerprints, include/ignore filters and the remote checksum manifest.
package artifact

import (
	"time"
)

// UnknownSize is reported for remote artifacts whose listing carried no size.
const UnknownSize int64 = -1

// Local is one data file inside the local Timewarrior data directory.
type Local struct {
	ID          string    `json:"id" yaml:"id"`
	Path        string    `json:"path" yaml:"path"`
	Size        int64     `json:"size" yaml:"size"`
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	ModTime     time.Time `json:"mod_time" yaml:"mod_time"`
}

// Remote is a data file as observed in a remote directory listing. It is a
// snapshot and may be stale by the time it is used.
type Remote struct {
	ID          string    `json:"id" yaml:"id"`
	Size        int64     `json:"size" yaml:"size"`
	Fingerprint string    `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	ModTime     time.Time `json:"mod_time,omitempty" yaml:"mod_time,omitempty"`
}

func (r *Remote) HasSize() bool {
	return r.Size >= 0
}

func (r *Remote) HasFingerprint() bool {
	return r.Fingerprint != ""
}

func (r *Remote) HasModTime() bool {
	return !r.ModTime.IsZero()
}
