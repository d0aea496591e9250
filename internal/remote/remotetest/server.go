// Package remotetest provides an in-memory file server that satisfies
// remote.Dialer and remote.Transport for tests.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timewsync/timewsync/internal/artifact"
	"github.com/timewsync/timewsync/internal/remote"
)

type file struct {
	data    []byte
	modTime time.Time
}

// Server is an in-memory FTP-like server. Hooks let tests inject failures;
// they are called without the server lock held.
type Server struct {
	User     string
	Password string

	// SupportHash makes dialed transports implement remote.Hasher.
	SupportHash bool
	// FailDials makes the next n dials fail with remote.ErrConnectionLost.
	FailDials int
	// ProtocolErrorOnDial makes every dial fail with remote.ErrProtocol.
	ProtocolErrorOnDial bool
	// RefuseRenameOverwrite makes renames onto an existing file fail, as
	// some FTP servers do.
	RefuseRenameOverwrite bool

	// OnPut may replace the stored bytes or fail the upload.
	OnPut func(path string, data []byte) ([]byte, error)
	// OnGet may fail a download before any byte is written.
	OnGet func(path string) error
	// OnList may replace the listing of a directory.
	OnList func(dir string, entries []remote.Entry) ([]remote.Entry, error)

	mu      sync.Mutex
	files   map[string]*file
	dirs    map[string]bool
	dials   int
	logins  int
	logouts int
	now     func() time.Time
}

func NewServer(user, password string) *Server {
	return &Server{
		User:     user,
		Password: password,
		files:    make(map[string]*file),
		dirs:     map[string]bool{"/": true},
		now:      time.Now,
	}
}

// Dialer returns a remote.Dialer connected to this server.
func (s *Server) Dialer() remote.Dialer {
	return remote.DialerFunc(func(ctx context.Context, addr string) (remote.Transport, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, remote.ErrTimeout)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.dials++

		if s.ProtocolErrorOnDial {
			return nil, fmt.Errorf("dial %s: unexpected greeting: %w", addr, remote.ErrProtocol)
		}
		if s.FailDials > 0 {
			s.FailDials--
			return nil, fmt.Errorf("dial %s: connection refused: %w", addr, remote.ErrConnectionLost)
		}

		c := &Conn{s: s}
		if s.SupportHash {
			return &HashingConn{Conn: c}, nil
		}
		return c, nil
	})
}

// MkdirAll creates dir and its parents.
func (s *Server) MkdirAll(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mkdirAllLocked(dir)
}

func (s *Server) mkdirAllLocked(dir string) {
	dir = path.Clean("/" + dir)
	for d := dir; ; d = path.Dir(d) {
		s.dirs[d] = true
		if d == "/" {
			return
		}
	}
}

// WriteFile stores a file, creating its parent directories.
func (s *Server) WriteFile(p string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = path.Clean("/" + p)
	s.mkdirAllLocked(path.Dir(p))
	s.files[p] = &file{data: append([]byte{}, data...), modTime: modTime}
}

func (s *Server) ReadFile(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[path.Clean("/"+p)]
	if !ok {
		return nil, false
	}
	return append([]byte{}, f.data...), true
}

// Files returns the sorted paths of every stored file.
func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *Server) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}

// Conn is one client connection to a Server.
type Conn struct {
	s        *Server
	loggedIn bool
	closed   bool
}

func (c *Conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return remote.ErrTimeout
	}
	if c.closed {
		return remote.ErrConnectionLost
	}
	if !c.loggedIn {
		return fmt.Errorf("not logged in: %w", remote.ErrProtocol)
	}
	return nil
}

// Drop simulates the server closing the connection.
func (c *Conn) Drop() {
	c.closed = true
}

func (c *Conn) Login(ctx context.Context, user, password string) error {
	if err := ctx.Err(); err != nil {
		return remote.ErrTimeout
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if user != c.s.User || password != c.s.Password {
		return fmt.Errorf("530 login incorrect: %w", remote.ErrAuthRejected)
	}
	c.loggedIn = true
	c.s.logins++
	return nil
}

func (c *Conn) List(ctx context.Context, dir string) ([]remote.Entry, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}

	c.s.mu.Lock()
	dir = path.Clean("/" + dir)
	if !c.s.dirs[dir] {
		c.s.mu.Unlock()
		return nil, fmt.Errorf("550 %s: %w", dir, remote.ErrNotFound)
	}

	var entries []remote.Entry
	for p, f := range c.s.files {
		if path.Dir(p) == dir {
			entries = append(entries, remote.Entry{Name: path.Base(p), Type: remote.EntryFile, Size: int64(len(f.data)), ModTime: f.modTime})
		}
	}
	for d := range c.s.dirs {
		if d != dir && path.Dir(d) == dir {
			entries = append(entries, remote.Entry{Name: path.Base(d), Type: remote.EntryDir, Size: 0})
		}
	}
	hook := c.s.OnList
	c.s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	if hook != nil {
		return hook(dir, entries)
	}
	return entries, nil
}

func (c *Conn) MakeDir(ctx context.Context, dir string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	dir = path.Clean("/" + dir)
	if !c.s.dirs[path.Dir(dir)] {
		return fmt.Errorf("550 %s: %w", path.Dir(dir), remote.ErrNotFound)
	}
	c.s.dirs[dir] = true
	return nil
}

func (c *Conn) Put(ctx context.Context, p string, r io.Reader) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	c.s.mu.Lock()
	hook := c.s.OnPut
	c.s.mu.Unlock()
	if hook != nil {
		if data, err = hook(p, data); err != nil {
			if remote.IsSessionError(err) {
				c.closed = true
			}
			return err
		}
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p = path.Clean("/" + p)
	if !c.s.dirs[path.Dir(p)] {
		return fmt.Errorf("553 %s: %w", p, remote.ErrNotFound)
	}
	c.s.files[p] = &file{data: data, modTime: c.s.now()}
	return nil
}

func (c *Conn) Get(ctx context.Context, p string, w io.Writer) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}

	c.s.mu.Lock()
	hook := c.s.OnGet
	c.s.mu.Unlock()
	if hook != nil {
		if err := hook(p); err != nil {
			if remote.IsSessionError(err) {
				c.closed = true
			}
			return 0, err
		}
	}

	c.s.mu.Lock()
	f, ok := c.s.files[path.Clean("/"+p)]
	var data []byte
	if ok {
		data = append([]byte{}, f.data...)
	}
	c.s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("550 %s: %w", p, remote.ErrNotFound)
	}
	return io.Copy(w, bytes.NewReader(data))
}

func (c *Conn) Size(ctx context.Context, p string) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	f, ok := c.s.files[path.Clean("/"+p)]
	if !ok {
		return 0, fmt.Errorf("550 %s: %w", p, remote.ErrNotFound)
	}
	return int64(len(f.data)), nil
}

func (c *Conn) Rename(ctx context.Context, from, to string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	from, to = path.Clean("/"+from), path.Clean("/"+to)
	f, ok := c.s.files[from]
	if !ok {
		return fmt.Errorf("550 %s: %w", from, remote.ErrNotFound)
	}
	if _, exists := c.s.files[to]; exists && c.s.RefuseRenameOverwrite {
		return fmt.Errorf("553 %s exists: %w", to, remote.ErrProtocol)
	}
	delete(c.s.files, from)
	c.s.files[to] = f
	return nil
}

func (c *Conn) Delete(ctx context.Context, p string) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	p = path.Clean("/" + p)
	if _, ok := c.s.files[p]; !ok {
		return fmt.Errorf("550 %s: %w", p, remote.ErrNotFound)
	}
	delete(c.s.files, p)
	return nil
}

func (c *Conn) Logout(ctx context.Context) error {
	if c.closed {
		return remote.ErrConnectionLost
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.logouts++
	c.loggedIn = false
	return nil
}

func (c *Conn) Close() error {
	c.closed = true
	return nil
}

// HashingConn is a Conn whose server answers checksum requests.
type HashingConn struct {
	*Conn
}

func (c *HashingConn) Hash(ctx context.Context, p string) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	c.s.mu.Lock()
	f, ok := c.s.files[path.Clean("/"+p)]
	var data []byte
	if ok {
		data = append([]byte{}, f.data...)
	}
	c.s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("550 %s: %w", p, remote.ErrNotFound)
	}
	sum, _, err := artifact.Fingerprint(bytes.NewReader(data))
	return sum, err
}

// HasPrefix reports whether any stored file path starts with prefix.
func (s *Server) HasPrefix(prefix string) bool {
	for _, p := range s.Files() {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
