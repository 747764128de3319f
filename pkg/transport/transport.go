package transport

import (
	"context"
	"io"
	"net"
)

// Kind identifies the transport implementation.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindMem
	KindPipe
	KindQUIC
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindMem:
		return "mem"
	case KindPipe:
		return "pipe"
	case KindQUIC:
		return "quic"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) Kind {
	switch s {
	case "tcp":
		return KindTCP
	case "mem":
		return KindMem
	case "pipe", "unix", "winpipe":
		return KindPipe
	case "quic":
		return KindQUIC
	default:
		return KindUnknown
	}
}

// Cloner is implemented by handles that can be duplicated. The clone refers to
// the same underlying resource as the original.
type Cloner[T any] interface {
	Clone() T
}

// Stream is a duplex byte channel over one connection.
//
// Handles are duplicable and safe for concurrent use. Clones share the
// connection: bytes written through any handle go to the same peer, and the
// connection is closed when the last handle is closed.
type Stream interface {
	io.Reader
	// Write writes all of p or returns an error.
	io.Writer
	// Flush forces buffered bytes out to the connection.
	Flush() error
	// PeerName returns the address of the remote endpoint.
	PeerName() (net.Addr, error)
	// CloneStream duplicates the handle into erased form. Every concrete
	// stream implements it so that an Erased box can be duplicated.
	CloneStream() Stream
	// Close releases this handle.
	Close() error
}

// Acceptor yields the streams of an active listening endpoint.
//
// Concrete acceptors also implement Cloner; all clones share the listening
// resource. Accept blocks until a connection arrives. Once Close has been
// called on any handle, every pending and future Accept returns an error
// matching ErrAcceptorClosed. Close is idempotent and leaves accepted streams
// untouched.
type Acceptor[S Stream] interface {
	Accept() (S, error)
	Close() error
	Addr() net.Addr
}

// Listener is a bound endpoint that is not accepting connections yet.
//
// Listen consumes the listener: it may be called once, later calls fail with
// ErrListenerConsumed. Close releases the reservation of a listener that was
// never turned into an Acceptor.
type Listener[S Stream, A Acceptor[S]] interface {
	SocketName() (net.Addr, error)
	Listen() (A, error)
	Close() error
}

// Transport binds listeners and connects client streams for one Kind.
type Transport[S Stream, A Acceptor[S], L Listener[S, A]] interface {
	Kind() Kind
	// Bind reserves host:port. It does not start listening.
	Bind(ctx context.Context, host string, port uint16) (L, error)
	// Connect opens a client stream to host:port.
	Connect(ctx context.Context, host string, port uint16) (S, error)
}
