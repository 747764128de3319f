// Package netconn implements the shared, buffered connection handle used by
// the net.Conn backed transports (tcp, mem, pipe).
package netconn

import (
	"bufio"
	"errors"
	"net"
	"sync"

	"github.com/krallin/hyper-02/pkg/transport"
)

// DefaultBufferSize is the write buffer size of a connection.
const DefaultBufferSize = 4096

type conn struct {
	c  net.Conn
	mu sync.Mutex
	bw *bufio.Writer
}

// Close flushes what is still buffered and closes the connection.
func (c *conn) Close() error {
	c.mu.Lock()
	ferr := c.bw.Flush()
	c.mu.Unlock()
	if err := c.c.Close(); err != nil {
		return err
	}
	if ferr != nil && !errors.Is(ferr, net.ErrClosed) {
		return ferr
	}
	return nil
}

// Handle is one reference to a connection. Handles are safe for concurrent
// use; writes from all handles go through one buffer under one lock.
type Handle struct {
	ref *transport.Ref[*conn]
}

// New wraps c in a first handle.
func New(c net.Conn) *Handle {
	return &Handle{ref: transport.NewRef(&conn{c: c, bw: bufio.NewWriterSize(c, DefaultBufferSize)})}
}

// Clone returns a second handle on the same connection.
func (h *Handle) Clone() *Handle { return &Handle{ref: h.ref.Clone()} }

// Conn exposes the connection, for deadlines and socket options.
func (h *Handle) Conn() net.Conn { return h.ref.Value().c }

// Refs reports how many handles share the connection.
func (h *Handle) Refs() int64 { return h.ref.Refs() }

func (h *Handle) Read(p []byte) (int, error) {
	if h.ref.Released() {
		return 0, transport.IOError("read", net.ErrClosed)
	}
	n, err := h.ref.Value().c.Read(p)
	return n, transport.IOError("read", err)
}

func (h *Handle) Write(p []byte) (int, error) {
	if h.ref.Released() {
		return 0, transport.IOError("write", net.ErrClosed)
	}
	c := h.ref.Value()
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.bw.Write(p)
	return n, transport.IOError("write", err)
}

func (h *Handle) Flush() error {
	if h.ref.Released() {
		return transport.IOError("flush", net.ErrClosed)
	}
	c := h.ref.Value()
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.IOError("flush", c.bw.Flush())
}

// PeerName returns the remote address of the connection.
func (h *Handle) PeerName() (net.Addr, error) {
	if h.ref.Released() {
		return nil, transport.IOError("peer_name", net.ErrClosed)
	}
	a := h.ref.Value().c.RemoteAddr()
	if a == nil {
		return nil, transport.IOError("peer_name", net.ErrClosed)
	}
	return a, nil
}

// LocalName returns the local address of the connection.
func (h *Handle) LocalName() net.Addr { return h.ref.Value().c.LocalAddr() }

// Close releases the handle; the connection closes with the last handle.
func (h *Handle) Close() error { return h.ref.Release() }

// Acceptor is the shared state of a listening socket and its clones.
type Acceptor struct {
	ln      net.Listener
	closed  chan struct{}
	once    sync.Once
	err     error
	onClose func()
}

// NewAcceptor wraps ln. onClose, if set, runs once after ln is closed.
func NewAcceptor(ln net.Listener, onClose func()) *Acceptor {
	return &Acceptor{ln: ln, closed: make(chan struct{}), onClose: onClose}
}

func (a *Acceptor) isClosed() bool {
	select {
	case <-a.closed:
		return true
	default:
		return false
	}
}

// Accept waits for the next connection. It returns ErrAcceptorClosed once
// Close has been called.
func (a *Acceptor) Accept() (*Handle, error) {
	if a.isClosed() {
		return nil, transport.ErrAcceptorClosed
	}
	c, err := a.ln.Accept()
	if err != nil {
		if a.isClosed() || errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrAcceptorClosed
		}
		return nil, transport.NewError(transport.CodeAccept, "accept", a.ln.Addr().String(), err)
	}
	return New(c), nil
}

// Close closes the listening socket once.
func (a *Acceptor) Close() error {
	a.once.Do(func() {
		close(a.closed)
		a.err = a.ln.Close()
		if a.onClose != nil {
			a.onClose()
		}
	})
	return a.err
}

func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }
