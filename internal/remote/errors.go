package remote

import (
	"errors"
	"fmt"
)

type ConnectErrorKind uint8

const (
	NetworkUnreachable ConnectErrorKind = iota
	AuthenticationRejected
	ProtocolError
)

var connectErrorKindNames = []string{
	"network unreachable",
	"authentication rejected",
	"protocol error",
}

func (k ConnectErrorKind) String() string {
	if int(k) < len(connectErrorKindNames) {
		return connectErrorKindNames[k]
	}
	return "unknown"
}

// ConnectError is returned when a session cannot be established.
type ConnectError struct {
	Kind     ConnectErrorKind
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("connect %s: %s after %d attempts: %v", e.Addr, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsConnectError reports whether err is a ConnectError of the given kind.
func IsConnectError(err error, kind ConnectErrorKind) bool {
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == kind
}

// classifyConnect maps a dial or login failure to a ConnectErrorKind.
func classifyConnect(err error) ConnectErrorKind {
	switch {
	case errors.Is(err, ErrAuthRejected):
		return AuthenticationRejected
	case errors.Is(err, ErrProtocol):
		return ProtocolError
	default:
		return NetworkUnreachable
	}
}

// IsSessionError reports whether err means the underlying connection can no
// longer be used. Timeouts count: the server may still be mid-transfer.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrTimeout)
}
