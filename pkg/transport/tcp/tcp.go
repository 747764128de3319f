// Package tcp is the default transport: Listener, Acceptor and Stream over
// plain TCP sockets, with no logic beyond error classification.
package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/internal/netconn"
)

// Options tune socket setup. The zero value is usable.
type Options struct {
	// Backlog is the listen queue length; 0 picks the platform default.
	Backlog int
	// ReuseAddr sets SO_REUSEADDR on the reservation (Linux), allowing a
	// rebind over TIME_WAIT connections. Reservations that both set it are
	// not exclusive until one of them listens.
	ReuseAddr bool
	// ReusePort sets SO_REUSEPORT on bound sockets where supported.
	ReusePort bool
	// Network restricts the address family: "tcp", "tcp4" or "tcp6".
	Network string
}

// Transport binds and connects TCP endpoints.
type Transport struct {
	opts   Options
	dialer net.Dialer
}

var (
	_ transport.Transport[*Stream, *Acceptor, *Listener] = (*Transport)(nil)
	_ transport.Cloner[*Stream]                          = (*Stream)(nil)
	_ transport.Cloner[*Acceptor]                        = (*Acceptor)(nil)
)

func New() *Transport { return NewWithOptions(Options{}) }

func NewWithOptions(opts Options) *Transport {
	if opts.Network == "" {
		opts.Network = "tcp"
	}
	return &Transport{opts: opts}
}

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

// Network returns the erased view of t.
func (t *Transport) Network() transport.Network {
	return transport.Erase[*Stream, *Acceptor, *Listener](t)
}

// Bind reserves host:port. Port 0 picks an ephemeral port, see
// Listener.SocketName.
func (t *Transport) Bind(ctx context.Context, host string, port uint16) (*Listener, error) {
	addr := transport.HostPort(host, port)
	taddr, err := transport.ResolveTCP(t.opts.Network, host, port)
	if err != nil {
		return nil, transport.NewError(transport.CodeBind, "resolve", addr, err)
	}
	r, err := bind(ctx, t.opts, taddr)
	if err != nil {
		return nil, transport.NewError(transport.CodeBind, "bind", addr, err)
	}
	return &Listener{addr: addr, r: r, backlog: t.opts.Backlog}, nil
}

// Connect dials host:port.
func (t *Transport) Connect(ctx context.Context, host string, port uint16) (*Stream, error) {
	addr := transport.HostPort(host, port)
	c, err := t.dialer.DialContext(ctx, t.opts.Network, addr)
	if err != nil {
		return nil, transport.NewError(transport.CodeConnect, "connect", addr, err)
	}
	return newStream(c.(*net.TCPConn)), nil
}

// reservation is a bound socket waiting to listen. Platform specific.
type reservation interface {
	name() (net.Addr, error)
	listen(backlog int) (*net.TCPListener, error)
	Close() error
}

// Listener is a bound TCP socket.
type Listener struct {
	mu       sync.Mutex
	addr     string
	backlog  int
	r        reservation
	ln       *net.TCPListener
	consumed bool
}

// SocketName returns the bound address, with the real port when 0 was
// requested.
func (l *Listener) SocketName() (net.Addr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr(), nil
	}
	a, err := l.r.name()
	if err != nil {
		return nil, transport.NewError(transport.CodeIO, "socket_name", l.addr, err)
	}
	return a, nil
}

// Listen starts accepting connections. The listener is consumed.
func (l *Listener) Listen() (*Acceptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil, transport.NewError(transport.CodeListen, "listen", l.addr, transport.ErrListenerConsumed)
	}
	ln, err := l.r.listen(l.backlog)
	if err != nil {
		return nil, transport.NewError(transport.CodeListen, "listen", l.addr, err)
	}
	l.consumed = true
	l.ln = ln
	return &Acceptor{st: &acceptorState{ln: ln}}, nil
}

// Close gives up a reservation that was never listened on.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil
	}
	l.consumed = true
	return l.r.Close()
}

type acceptorState struct {
	ln     *net.TCPListener
	closed atomic.Bool
	once   sync.Once
	err    error
}

// Acceptor accepts TCP connections. Clones share the listening socket.
type Acceptor struct {
	st *acceptorState
}

func (a *Acceptor) Accept() (*Stream, error) {
	if a.st.closed.Load() {
		return nil, transport.ErrAcceptorClosed
	}
	c, err := a.st.ln.AcceptTCP()
	if err != nil {
		if a.st.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrAcceptorClosed
		}
		return nil, transport.NewError(transport.CodeAccept, "accept", a.st.ln.Addr().String(), err)
	}
	return newStream(c), nil
}

// Close stops accepting on every clone. Accepted streams stay open.
func (a *Acceptor) Close() error {
	a.st.once.Do(func() {
		a.st.closed.Store(true)
		a.st.err = a.st.ln.Close()
	})
	return a.st.err
}

func (a *Acceptor) Addr() net.Addr { return a.st.ln.Addr() }

func (a *Acceptor) Clone() *Acceptor { return &Acceptor{st: a.st} }

// Stream is a TCP connection handle.
type Stream struct {
	h *netconn.Handle
}

func newStream(c *net.TCPConn) *Stream { return &Stream{h: netconn.New(c)} }

func (s *Stream) Read(p []byte) (int, error)  { return s.h.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *Stream) Flush() error                { return s.h.Flush() }
func (s *Stream) Close() error                { return s.h.Close() }

func (s *Stream) PeerName() (net.Addr, error) { return s.h.PeerName() }

// LocalName returns the local address of the connection.
func (s *Stream) LocalName() net.Addr { return s.h.LocalName() }

// Conn exposes the socket for deadlines and options.
func (s *Stream) Conn() *net.TCPConn { return s.h.Conn().(*net.TCPConn) }

func (s *Stream) Clone() *Stream { return &Stream{h: s.h.Clone()} }

func (s *Stream) CloneStream() transport.Stream { return s.Clone() }
