// Package remote owns the connection to the FTP server: the transport
// abstraction, the session handle passed to the catalog reader and the
// transfer executor, and the manager that connects, reconnects and tears
// the session down.
package remote

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound       = errors.New("remote path not found")
	ErrAuthRejected   = errors.New("authentication rejected")
	ErrConnectionLost = errors.New("connection lost")
	ErrTimeout        = errors.New("remote operation timed out")
	ErrProtocol       = errors.New("protocol error")
	ErrUnsupported    = errors.New("operation not supported by transport")
)

type EntryType uint8

const (
	EntryFile EntryType = iota
	EntryDir
	EntryLink
	EntryOther
)

var entryTypeNames = []string{"file", "dir", "link", "other"}

func (t EntryType) String() string {
	if int(t) < len(entryTypeNames) {
		return entryTypeNames[t]
	}
	return "unknown"
}

// Entry is one line of a directory listing as reported by the transport.
// Size is -1 when the server did not report one.
type Entry struct {
	Name    string
	Type    EntryType
	Size    int64
	ModTime time.Time
}

// Transport is a single authenticated-or-not connection to a file server.
// Implementations are not safe for concurrent use; Session serializes calls.
// Errors should wrap the sentinels above so callers can classify them.
type Transport interface {
	Login(ctx context.Context, user, password string) error
	List(ctx context.Context, dir string) ([]Entry, error)
	MakeDir(ctx context.Context, dir string) error
	Put(ctx context.Context, path string, r io.Reader) error
	Get(ctx context.Context, path string, w io.Writer) (int64, error)
	Size(ctx context.Context, path string) (int64, error)
	Rename(ctx context.Context, from, to string) error
	Delete(ctx context.Context, path string) error
	Logout(ctx context.Context) error
	Close() error
}

// Hasher is implemented by transports whose server can compute a SHA-256
// of a remote file.
type Hasher interface {
	Hash(ctx context.Context, path string) (string, error)
}

// Dialer opens an unauthenticated transport to addr.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Transport, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Transport, error) {
	return f(ctx, addr)
}
