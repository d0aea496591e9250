package remote

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated connection handed out by the Manager. All
// operations are serialized and bounded by the operation timeout. Once a
// call fails with a connection-level error the session is marked lost and
// must be replaced through Manager.Reconnect.
type Session struct {
	id        string
	transport Transport
	timeout   time.Duration
	startedAt time.Time

	mu   sync.Mutex
	lost atomic.Bool
}

func newSession(t Transport, timeout time.Duration) *Session {
	return &Session{
		id:        uuid.NewString(),
		transport: t,
		timeout:   timeout,
		startedAt: time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Lost reports whether the session saw a connection-level failure.
func (s *Session) Lost() bool {
	return s.lost.Load()
}

func (s *Session) SupportsHash() bool {
	_, ok := s.transport.(Hasher)
	return ok
}

func (s *Session) List(ctx context.Context, dir string) ([]Entry, error) {
	var entries []Entry
	err := s.do(ctx, "list", func(ctx context.Context) error {
		var err error
		entries, err = s.transport.List(ctx, dir)
		return err
	})
	return entries, err
}

func (s *Session) MakeDir(ctx context.Context, dir string) error {
	return s.do(ctx, "mkdir", func(ctx context.Context) error {
		return s.transport.MakeDir(ctx, dir)
	})
}

func (s *Session) Put(ctx context.Context, path string, r io.Reader) error {
	return s.do(ctx, "put", func(ctx context.Context) error {
		return s.transport.Put(ctx, path, r)
	})
}

func (s *Session) Get(ctx context.Context, path string, w io.Writer) (int64, error) {
	var n int64
	err := s.do(ctx, "get", func(ctx context.Context) error {
		var err error
		n, err = s.transport.Get(ctx, path, w)
		return err
	})
	return n, err
}

func (s *Session) Size(ctx context.Context, path string) (int64, error) {
	var size int64
	err := s.do(ctx, "size", func(ctx context.Context) error {
		var err error
		size, err = s.transport.Size(ctx, path)
		return err
	})
	return size, err
}

func (s *Session) Rename(ctx context.Context, from, to string) error {
	return s.do(ctx, "rename", func(ctx context.Context) error {
		return s.transport.Rename(ctx, from, to)
	})
}

func (s *Session) Delete(ctx context.Context, path string) error {
	return s.do(ctx, "delete", func(ctx context.Context) error {
		return s.transport.Delete(ctx, path)
	})
}

// Hash returns the server-side fingerprint of path, or ErrUnsupported.
func (s *Session) Hash(ctx context.Context, path string) (string, error) {
	h, ok := s.transport.(Hasher)
	if !ok {
		return "", ErrUnsupported
	}
	var sum string
	err := s.do(ctx, "hash", func(ctx context.Context) error {
		var err error
		sum, err = h.Hash(ctx, path)
		return err
	})
	return sum, err
}

func (s *Session) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lost.Load() {
		return fmt.Errorf("%s: %w", op, ErrConnectionLost)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if IsSessionError(err) {
		s.lost.Store(true)
	}
	return err
}

func (s *Session) logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// attempted even on a lost session; the error is only logged
	defer s.transport.Close()
	return s.transport.Logout(ctx)
}
