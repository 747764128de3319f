// Package pipe is a local transport: Unix domain sockets, or named pipes on
// Windows. The host is the socket path or pipe name; there are no ports.
package pipe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/internal/netconn"
)

// Transport binds and connects local sockets.
type Transport struct{}

var (
	_ transport.Transport[*Stream, *Acceptor, *Listener] = (*Transport)(nil)
	_ transport.Cloner[*Stream]                          = (*Stream)(nil)
	_ transport.Cloner[*Acceptor]                        = (*Acceptor)(nil)
)

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindPipe }

// Network returns the erased view of t.
func (t *Transport) Network() transport.Network {
	return transport.Erase[*Stream, *Acceptor, *Listener](t)
}

func checkPath(path string, port uint16) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: empty socket path", transport.ErrInvalidAddress)
	}
	if port != 0 {
		return fmt.Errorf("%w: port %d on a local socket", transport.ErrInvalidAddress, port)
	}
	return nil
}

// Bind reserves the socket path. port must be 0.
func (t *Transport) Bind(ctx context.Context, path string, port uint16) (*Listener, error) {
	if err := checkPath(path, port); err != nil {
		return nil, transport.NewError(transport.CodeBind, "bind", path, err)
	}
	if !reserve(path) {
		return nil, transport.NewError(transport.CodeBind, "bind", path, transport.ErrAddrInUse)
	}
	r, err := bind(ctx, path)
	if err != nil {
		release(path)
		return nil, transport.NewError(transport.CodeBind, "bind", path, err)
	}
	return &Listener{path: path, r: r}, nil
}

// held lists the paths bound by a Listener of this process. A held path is
// never treated as stale, even before its Listener listens.
var held = struct {
	sync.Mutex
	paths map[string]struct{}
}{paths: make(map[string]struct{})}

func reserve(path string) bool {
	held.Lock()
	defer held.Unlock()
	if _, ok := held.paths[path]; ok {
		return false
	}
	held.paths[path] = struct{}{}
	return true
}

func release(path string) {
	held.Lock()
	delete(held.paths, path)
	held.Unlock()
}

// Connect opens a stream to the socket at path. port must be 0.
func (t *Transport) Connect(ctx context.Context, path string, port uint16) (*Stream, error) {
	if err := checkPath(path, port); err != nil {
		return nil, transport.NewError(transport.CodeConnect, "connect", path, err)
	}
	c, err := dial(ctx, path)
	if err != nil {
		return nil, transport.NewError(transport.CodeConnect, "connect", path, err)
	}
	return &Stream{h: netconn.New(c)}, nil
}

// reservation is a bound local socket waiting to listen. Platform specific.
type reservation interface {
	name() (net.Addr, error)
	listen() (net.Listener, error)
	Close() error
}

// Listener is a bound local socket.
type Listener struct {
	mu       sync.Mutex
	path     string
	r        reservation
	ln       net.Listener
	consumed bool
}

func (l *Listener) SocketName() (net.Addr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr(), nil
	}
	a, err := l.r.name()
	if err != nil {
		return nil, transport.NewError(transport.CodeIO, "socket_name", l.path, err)
	}
	return a, nil
}

func (l *Listener) Listen() (*Acceptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil, transport.NewError(transport.CodeListen, "listen", l.path, transport.ErrListenerConsumed)
	}
	ln, err := l.r.listen()
	if err != nil {
		return nil, transport.NewError(transport.CodeListen, "listen", l.path, err)
	}
	l.consumed = true
	l.ln = ln
	return &Acceptor{a: netconn.NewAcceptor(ln, func() {
		cleanup(l.path)
		release(l.path)
	})}, nil
}

// Close gives up a reservation that was never listened on.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil
	}
	l.consumed = true
	err := l.r.Close()
	cleanup(l.path)
	release(l.path)
	return err
}

// Acceptor accepts local connections. Clones share the socket.
type Acceptor struct {
	a *netconn.Acceptor
}

func (a *Acceptor) Accept() (*Stream, error) {
	h, err := a.a.Accept()
	if err != nil {
		return nil, err
	}
	return &Stream{h: h}, nil
}

func (a *Acceptor) Close() error   { return a.a.Close() }
func (a *Acceptor) Addr() net.Addr { return a.a.Addr() }

func (a *Acceptor) Clone() *Acceptor { return &Acceptor{a: a.a} }

// Stream is a local connection handle.
type Stream struct {
	h *netconn.Handle
}

func (s *Stream) Read(p []byte) (int, error)  { return s.h.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *Stream) Flush() error                { return s.h.Flush() }
func (s *Stream) Close() error                { return s.h.Close() }

func (s *Stream) PeerName() (net.Addr, error) { return s.h.PeerName() }

func (s *Stream) Clone() *Stream { return &Stream{h: s.h.Clone()} }

func (s *Stream) CloneStream() transport.Stream { return s.Clone() }
