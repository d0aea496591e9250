package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
	DefaultTimeout     = 30 * time.Second
	logoutTimeout      = 5 * time.Second
)

// Credentials identify the account on the remote server.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type ManagerOption func(*Manager)

// WithMaxAttempts bounds the connect handshake retries on network errors.
func WithMaxAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay; attempt n waits n*d before retrying.
func WithBackoff(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.backoff = d
		}
	}
}

// WithTimeout bounds the handshake and every session operation.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// Manager owns the single session of a run.
type Manager struct {
	creds       Credentials
	dialer      Dialer
	clock       clockwork.Clock
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	mu      sync.Mutex
	session *Session
}

func NewManager(creds Credentials, dialer Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		creds:       creds,
		dialer:      dialer,
		clock:       clockwork.NewRealClock(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect returns the current session, establishing one if needed.
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil && !m.session.Lost() {
		return m.session, nil
	}
	if m.session != nil {
		m.teardownLocked(ctx)
	}
	return m.connectLocked(ctx)
}

// Reconnect drops the current session and establishes a new one.
func (m *Manager) Reconnect(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("remote reconnect", "addr", m.creds.Addr())
	m.teardownLocked(ctx)
	return m.connectLocked(ctx)
}

// Teardown logs out and releases the session. It never fails: logout is
// best-effort and only logged. Safe to call without a session.
func (m *Manager) Teardown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(ctx)
}


func (m *Manager) connectLocked(ctx context.Context) (*Session, error) {
	addr := m.creds.Addr()

	for attempt := 1; ; attempt++ {
		t, err := m.handshake(ctx)
		if err == nil {
			m.session = newSession(t, m.timeout)
			slog.Info("remote connected", "addr", addr, "user", m.creds.Username, "session", m.session.ID(), "attempt", attempt)
			return m.session, nil
		}

		kind := classifyConnect(err)
		if ctx.Err() != nil {
			kind = NetworkUnreachable
			err = errors.Join(err, ctx.Err())
		}

		// only transient network failures are worth another handshake
		if kind != NetworkUnreachable || attempt >= m.maxAttempts || ctx.Err() != nil {
			return nil, &ConnectError{Kind: kind, Addr: addr, Attempts: attempt, Err: err}
		}

		wait := time.Duration(attempt) * m.backoff
		slog.Warn("remote connect failed, retrying", "addr", addr, "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, &ConnectError{Kind: NetworkUnreachable, Addr: addr, Attempts: attempt, Err: errors.Join(err, ctx.Err())}
		case <-m.clock.After(wait):
		}
	}
}

func (m *Manager) handshake(ctx context.Context) (Transport, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	t, err := m.dialer.Dial(ctx, m.creds.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if err := t.Login(ctx, m.creds.Username, m.creds.Password); err != nil {
		t.Close()
		return nil, fmt.Errorf("login: %w", err)
	}
	return t, nil
}

func (m *Manager) teardownLocked(ctx context.Context) {
	if m.session == nil {
		return
	}
	s := m.session
	m.session = nil

	// logout still runs when the run itself was cancelled
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	if err := s.logout(lctx); err != nil {
		slog.Warn("remote logout failed", "session", s.ID(), "error", err)
		return
	}
	slog.Debug("remote logout", "session", s.ID(), "duration", time.Since(s.startedAt))
}
