// Package transport defines the upstream frame source used by the ingestion
// session and the error taxonomy its implementations report.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

// Conn yields one frame per call. The transport guarantees framing.
type Conn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a new upstream connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (Conn, error)

func (f DialFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// ErrorKind classifies a transport failure.
type ErrorKind int

const (
	ConnectReset ErrorKind = iota
	Timeout
	ConnectFailed
	Closed
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectReset:
		return "connect_reset"
	case Timeout:
		return "timeout"
	case ConnectFailed:
		return "connect_failed"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrConnectReset  = errors.New("transport: connection reset")
	ErrTimeout       = errors.New("transport: timeout")
	ErrConnectFailed = errors.New("transport: connect failed")
	ErrClosed        = errors.New("transport: closed")
)

// Error wraps an underlying failure with its classification.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnectReset:
		return e.Kind == ConnectReset
	case ErrTimeout:
		return e.Kind == Timeout
	case ErrConnectFailed:
		return e.Kind == ConnectFailed
	case ErrClosed:
		return e.Kind == Closed
	}
	return false
}

// Classify wraps err as a transport Error, detecting timeouts.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	kind := ConnectReset
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = Timeout
	case errors.As(err, &ne) && ne.Timeout():
		kind = Timeout
	case errors.Is(err, net.ErrClosed):
		kind = Closed
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err, defaulting to ConnectReset.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ConnectReset
}
