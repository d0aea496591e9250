package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/timewsync/timewsync/internal/remote"
)

type Direction string

const (
	DirUpload   Direction = "upload"
	DirDownload Direction = "download"
)

// Failure reasons reported in Outcome.Reason.
const (
	ReasonIntegrity     = "integrity mismatch"
	ReasonTimeout       = "timeout"
	ReasonConnection    = "connection lost"
	ReasonNotFound      = "not found on server"
	ReasonSourceChanged = "source changed during transfer"
	ReasonLocalIO       = "local i/o error"
	ReasonRemote        = "remote error"
)

var (
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	ErrSourceChanged     = errors.New("source changed during transfer")
)

// Outcome is the result of a single upload or download.
type Outcome struct {
	ID          string
	Direction   Direction
	Bytes       int64
	Fingerprint string
	Duration    time.Duration
	Err         error
	Reason      string
	// SessionLost is set when the session can no longer be used and the
	// transfer may succeed on a fresh one.
	SessionLost bool
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

func (o Outcome) fail(err error, localIO bool) Outcome {
	o.Err = err
	o.SessionLost = remote.IsSessionError(err)
	switch {
	case errors.Is(err, ErrIntegrityMismatch):
		o.Reason = ReasonIntegrity
	case errors.Is(err, ErrSourceChanged):
		o.Reason = ReasonSourceChanged
	case errors.Is(err, remote.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		o.Reason = ReasonTimeout
	case errors.Is(err, remote.ErrConnectionLost):
		o.Reason = ReasonConnection
	case errors.Is(err, remote.ErrNotFound):
		o.Reason = ReasonNotFound
	case localIO:
		o.Reason = ReasonLocalIO
	default:
		o.Reason = ReasonRemote
	}
	return o
}
