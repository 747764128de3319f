package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Code classifies a transport failure by the operation that produced it.
type Code int

const (
	CodeIO Code = iota
	CodeBind
	CodeListen
	CodeAccept
	CodeConnect
)

func (c Code) String() string {
	switch c {
	case CodeBind:
		return "bind"
	case CodeListen:
		return "listen"
	case CodeAccept:
		return "accept"
	case CodeConnect:
		return "connect"
	default:
		return "io"
	}
}

// Error is returned by every transport operation that fails.
type Error struct {
	Code Code
	Op   string
	Addr string
	// Reason is one of the Err* reason sentinels, or nil when unclassified.
	Reason error
	Err    error
}

func (e *Error) Error() string {
	msg := e.Code.String() + " error"
	if e.Op != "" && e.Op != e.Code.String() {
		msg += " (" + e.Op + ")"
	}
	if e.Addr != "" {
		msg += " " + e.Addr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the code sentinels (ErrBind, ErrIO, ...) and the reason sentinels.
func (e *Error) Is(target error) bool {
	if c, ok := target.(codeSentinel); ok {
		return c.code == e.Code
	}
	return e.Reason != nil && e.Reason == target
}

type codeSentinel struct{ code Code }

func (c codeSentinel) Error() string { return c.code.String() + " error" }

// Code sentinels, for errors.Is.
var (
	ErrBind    error = codeSentinel{CodeBind}
	ErrListen  error = codeSentinel{CodeListen}
	ErrAccept  error = codeSentinel{CodeAccept}
	ErrConnect error = codeSentinel{CodeConnect}
	ErrIO      error = codeSentinel{CodeIO}
)

// Reason sentinels, for errors.Is.
var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrAddrInUse        = errors.New("address already in use")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConnRefused      = errors.New("connection refused")
	ErrUnreachable      = errors.New("network unreachable")
	ErrTimedOut         = errors.New("timed out")
	ErrConnReset        = errors.New("connection reset")
)

// ErrListenerConsumed is returned by a second Listen on the same Listener.
var ErrListenerConsumed = errors.New("listener already listening")

// ErrAcceptorClosed is returned by Accept once the acceptor has been closed.
// It also matches net.ErrClosed. It is never reported as an AcceptError, so
// accept loops can tell shutdown apart from a transient failure.
var ErrAcceptorClosed error = acceptorClosed{}

type acceptorClosed struct{}

func (acceptorClosed) Error() string        { return "acceptor closed" }
func (acceptorClosed) Is(target error) bool { return target == net.ErrClosed }

// NewError builds an *Error, classifying err into a reason sentinel. A nil err
// yields nil.
func NewError(code Code, op, addr string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) && te.Code == code {
		return err
	}
	return &Error{Code: code, Op: op, Addr: addr, Reason: classify(err), Err: err}
}

// IOError wraps a read/write/flush failure. io.EOF is passed through untouched
// so readers keep the io.Reader contract.
func IOError(op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return NewError(CodeIO, op, "", err)
}

func classify(err error) error {
	var addrErr *net.AddrError
	var parseErr *net.ParseError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &addrErr), errors.As(err, &parseErr), errors.As(err, &dnsErr):
		return ErrInvalidAddress
	case errors.Is(err, syscall.EADDRINUSE):
		return ErrAddrInUse
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM), errors.Is(err, os.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return ErrUnreachable
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrClosedPipe):
		return ErrConnReset
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimedOut
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimedOut
	}
	if errors.Is(err, ErrInvalidAddress) {
		return ErrInvalidAddress
	}
	return nil
}

// invalidAddress reports a malformed host/port pair.
func invalidAddress(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidAddress}, args...)...)
}

// IsIOError reports whether err is a read, write or flush failure. io.EOF is
// not one.
func IsIOError(err error) bool { return errors.Is(err, ErrIO) }

// IsAcceptError reports whether err is a transient accept failure. A closed
// acceptor is not one.
func IsAcceptError(err error) bool { return errors.Is(err, ErrAccept) }
