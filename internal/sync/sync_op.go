package sync

import (
	"fmt"

	"github.com/timewsync/timewsync/internal/artifact"
)

type OpType uint8

var opTypeNames = []string{
	"upload",
	"download",
	"conflict",
	"noop",
}

const (
	OpUpload OpType = iota
	OpDownload
	OpConflict
	OpNoOp
)

func (op OpType) String() string {
	if int(op) < len(opTypeNames) {
		return opTypeNames[op]
	}
	return "unknown"
}

func (op OpType) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// IsTransfer reports whether the op moves bytes.
func (op OpType) IsTransfer() bool {
	return op == OpUpload || op == OpDownload
}

// SyncAction is one entry of a SyncPlan. Local is nil for downloads and
// Remote is nil for uploads.
type SyncAction struct {
	Op     OpType           `json:"op" yaml:"op"`
	ID     string           `json:"id" yaml:"id"`
	Local  *artifact.Local  `json:"local,omitempty" yaml:"local,omitempty"`
	Remote *artifact.Remote `json:"remote,omitempty" yaml:"remote,omitempty"`
	// Detail explains how the op was decided, e.g. "sizes differ".
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

func (a SyncAction) clone() SyncAction {
	if a.Local != nil {
		l := *a.Local
		a.Local = &l
	}
	if a.Remote != nil {
		r := *a.Remote
		a.Remote = &r
	}
	return a
}

// Mode selects which transfers a run may execute.
type Mode string

const (
	ModeSync     Mode = "sync"
	ModeUpload   Mode = "upload"
	ModeDownload Mode = "download"
	// ModeResolve executes only the conflicts named by the caller.
	ModeResolve Mode = "resolve"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSync, ModeUpload, ModeDownload:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want sync, upload or download)", s)
	}
}

func (m Mode) allows(op OpType) bool {
	switch m {
	case ModeSync, ModeResolve:
		return op.IsTransfer()
	case ModeUpload:
		return op == OpUpload
	case ModeDownload:
		return op == OpDownload
	default:
		return false
	}
}

// Keep names the side that wins when resolving a conflict.
type Keep string

const (
	KeepLocal  Keep = "local"
	KeepRemote Keep = "remote"
)

func ParseKeep(s string) (Keep, error) {
	switch k := Keep(s); k {
	case KeepLocal, KeepRemote:
		return k, nil
	default:
		return "", fmt.Errorf("unknown side %q (want local or remote)", s)
	}
}

func (k Keep) op() OpType {
	if k == KeepLocal {
		return OpUpload
	}
	return OpDownload
}
