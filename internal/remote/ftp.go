package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jlaffaye/ftp"
)

const defaultDialTimeout = 15 * time.Second

// FTPDialer connects to FTP servers with github.com/jlaffaye/ftp. Every
// network connection (control and data) goes through a tracked dialer so
// operations can be bounded by a context: the context deadline becomes the
// connection deadline and cancellation expires it immediately.
type FTPDialer struct {
	// TLSConfig enables explicit FTPS (AUTH TLS) when set.
	TLSConfig   *tls.Config
	// DisableEPSV sticks to PASV for data connections.
	DisableEPSV bool
	DialTimeout time.Duration
}

func (d *FTPDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	dialTimeout := d.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	t := &ftpTransport{conns: newConnSet(dialTimeout)}
	opts := []ftp.DialOption{ftp.DialWithDialFunc(t.conns.dial)}
	if d.TLSConfig != nil {
		opts = append(opts, ftp.DialWithExplicitTLS(d.TLSConfig))
	}
	if d.DisableEPSV {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}

	err := t.run(ctx, "dial", func() error {
		c, err := ftp.Dial(addr, opts...)
		if err != nil {
			return err
		}
		t.conn = c
		return nil
	})
	if err != nil {
		t.conns.closeAll()
		return nil, err
	}
	return t, nil
}

type ftpTransport struct {
	conn  *ftp.ServerConn
	conns *connSet
}

func (t *ftpTransport) Login(ctx context.Context, user, password string) error {
	return t.run(ctx, "login", func() error {
		return t.conn.Login(user, password)
	})
}

// List reads dir with LIST (or MLSD) and cross-checks the result against
// NLST. jlaffaye/ftp drops LIST lines it cannot parse, so every name NLST
// reports without a parsed entry comes back as an EntryOther entry.
func (t *ftpTransport) List(ctx context.Context, dir string) ([]Entry, error) {
	var entries []Entry
	err := t.run(ctx, "list "+dir, func() error {
		parsed, err := t.conn.List(dir)
		if err != nil {
			return err
		}
		entries = make([]Entry, 0, len(parsed))
		seen := make(map[string]struct{}, len(parsed))
		for _, e := range parsed {
			seen[e.Name] = struct{}{}
			entries = append(entries, Entry{
				Name:    e.Name,
				Type:    ftpEntryType(e.Type),
				Size:    int64(e.Size),
				ModTime: e.Time,
			})
		}

		names, err := t.conn.NameList(dir)
		if err != nil {
			// some servers answer NLST on an empty directory with 450/550
			if isReplyCode(err) {
				return nil
			}
			return err
		}
		for _, name := range names {
			name = path.Base(strings.TrimSpace(name))
			if name == "." || name == ".." || name == "/" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			entries = append(entries, Entry{Name: name, Type: EntryOther, Size: -1})
		}
		return nil
	})
	return entries, err
}

// MakeDir creates dir; an already existing directory is not an error.
func (t *ftpTransport) MakeDir(ctx context.Context, dir string) error {
	return t.run(ctx, "mkdir "+dir, func() error {
		err := t.conn.MakeDir(dir)
		if err == nil || !isReplyCode(err, ftp.StatusFileUnavailable, 521) {
			return err
		}

		// 550/521 is also the answer for "exists": check by entering it
		cwd, cwdErr := t.conn.CurrentDir()
		if cwdErr != nil {
			return err
		}
		if t.conn.ChangeDir(dir) != nil {
			return err
		}
		return t.conn.ChangeDir(cwd)
	})
}

func (t *ftpTransport) Put(ctx context.Context, path string, r io.Reader) error {
	return t.run(ctx, "put "+path, func() error {
		return t.conn.Stor(path, r)
	})
}

func (t *ftpTransport) Get(ctx context.Context, path string, w io.Writer) (int64, error) {
	var n int64
	err := t.run(ctx, "get "+path, func() error {
		resp, err := t.conn.Retr(path)
		if err != nil {
			return err
		}
		n, err = io.Copy(w, resp)
		// Close reads the transfer-complete reply and must always run
		if cerr := resp.Close(); err == nil {
			err = cerr
		}
		return err
	})
	return n, err
}

func (t *ftpTransport) Size(ctx context.Context, path string) (int64, error) {
	var size int64
	err := t.run(ctx, "size "+path, func() error {
		var err error
		size, err = t.conn.FileSize(path)
		return err
	})
	return size, err
}

func (t *ftpTransport) Rename(ctx context.Context, from, to string) error {
	return t.run(ctx, "rename "+from, func() error {
		return t.conn.Rename(from, to)
	})
}

func (t *ftpTransport) Delete(ctx context.Context, path string) error {
	return t.run(ctx, "delete "+path, func() error {
		return t.conn.Delete(path)
	})
}

func (t *ftpTransport) Logout(ctx context.Context) error {
	return t.run(ctx, "logout", func() error {
		return t.conn.Quit()
	})
}

func (t *ftpTransport) Close() error {
	return t.conns.closeAll()
}

// run executes fn with the connection deadlines bound to ctx and maps the
// error onto the package sentinels.
func (t *ftpTransport) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}

	deadline, _ := ctx.Deadline()
	t.conns.setDeadline(deadline)
	stop := context.AfterFunc(ctx, t.conns.expire)

	err := fn()

	stop()
	t.conns.setDeadline(time.Time{})

	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, classifyFTPError(ctx, err), err)
}

func classifyFTPError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrTimeout
	}

	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case ftp.StatusNotLoggedIn, ftp.StatusUserOK, ftp.StatusLoginNeedAccount:
			return ErrAuthRejected
		case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored:
			return ErrNotFound
		case ftp.StatusNotAvailable:
			return ErrConnectionLost
		default:
			return ErrProtocol
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return ErrConnectionLost
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnectionLost
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrConnectionLost
	}
	return ErrProtocol
}

// isReplyCode reports whether err is an FTP reply with one of codes, or any
// reply when no code is given.
func isReplyCode(err error, codes ...int) bool {
	var tpErr *textproto.Error
	if !errors.As(err, &tpErr) {
		return false
	}
	if len(codes) == 0 {
		return true
	}
	for _, c := range codes {
		if tpErr.Code == c {
			return true
		}
	}
	return false
}

func ftpEntryType(t ftp.EntryType) EntryType {
	switch t {
	case ftp.EntryTypeFile:
		return EntryFile
	case ftp.EntryTypeFolder:
		return EntryDir
	case ftp.EntryTypeLink:
		return EntryLink
	default:
		return EntryOther
	}
}

// connSet tracks the open connections of one transport so that a context
// deadline or cancellation can be pushed down to blocking reads and writes.
type connSet struct {
	dialTimeout time.Duration

	mu       sync.Mutex
	conns    map[*trackedConn]struct{}
	deadline time.Time
}

func newConnSet(dialTimeout time.Duration) *connSet {
	return &connSet{
		dialTimeout: dialTimeout,
		conns:       make(map[*trackedConn]struct{}),
	}
}

func (s *connSet) dial(network, address string) (net.Conn, error) {
	s.mu.Lock()
	d := net.Dialer{Timeout: s.dialTimeout, Deadline: s.deadline}
	s.mu.Unlock()

	conn, err := d.Dial(network, address)
	if err != nil {
		return nil, err
	}

	tc := &trackedConn{Conn: conn, set: s}
	s.mu.Lock()
	s.conns[tc] = struct{}{}
	deadline := s.deadline
	s.mu.Unlock()

	if err := tc.SetDeadline(deadline); err != nil {
		tc.Close()
		return nil, err
	}
	return tc, nil
}

func (s *connSet) setDeadline(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = t
	for c := range s.conns {
		_ = c.SetDeadline(t)
	}
}

// expire unblocks every pending read and write.
func (s *connSet) expire() {
	s.setDeadline(time.Unix(1, 0))
}

func (s *connSet) remove(c *trackedConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *connSet) closeAll() error {
	s.mu.Lock()
	conns := make([]*trackedConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type trackedConn struct {
	net.Conn
	set *connSet
}

func (c *trackedConn) Close() error {
	c.set.remove(c)
	return c.Conn.Close()
}
