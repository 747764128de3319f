// Package mem is an in-process transport. Endpoints live in a Transport value
// and connections are buffered in-memory pipes, which makes it the transport
// of choice for tests.
package mem

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/internal/netconn"
)

const (
	// Backlog is the number of connections queued for Accept.
	Backlog = 128

	ephemeralLow  = 49152
	ephemeralHigh = 65535
)

// Addr is the address of a mem endpoint.
type Addr struct {
	Host string
	Port uint16
}

func (a Addr) Network() string { return "mem" }
func (a Addr) String() string  { return transport.HostPort(a.Host, a.Port) }

// Transport is an isolated in-memory network.
type Transport struct {
	mu         sync.Mutex
	endpoints  map[string]*endpoint
	nextPort   uint16
	clientPort uint16
}

var (
	_ transport.Transport[*Stream, *Acceptor, *Listener] = (*Transport)(nil)
	_ transport.Cloner[*Stream]                          = (*Stream)(nil)
	_ transport.Cloner[*Acceptor]                        = (*Acceptor)(nil)
)

func New() *Transport {
	return &Transport{endpoints: make(map[string]*endpoint), nextPort: ephemeralLow, clientPort: ephemeralLow}
}

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

// Network returns the erased view of t.
func (t *Transport) Network() transport.Network {
	return transport.Erase[*Stream, *Acceptor, *Listener](t)
}

type endpoint struct {
	addr    Addr
	backlog chan *pipeConn
	closed  chan struct{}
	once    sync.Once
}

func (e *endpoint) listening() bool { return e.backlog != nil }

func validHost(host string) error {
	if host == "" || strings.ContainsAny(host, " \t\r\n") {
		return fmt.Errorf("%w: host %q", transport.ErrInvalidAddress, host)
	}
	return nil
}

// Bind reserves host:port. Port 0 picks a free port from the ephemeral range.
func (t *Transport) Bind(_ context.Context, host string, port uint16) (*Listener, error) {
	addr := transport.HostPort(host, port)
	if err := validHost(host); err != nil {
		return nil, transport.NewError(transport.CodeBind, "bind", addr, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if port == 0 {
		p, ok := t.freePortLocked(host)
		if !ok {
			return nil, transport.NewError(transport.CodeBind, "bind", addr, transport.ErrAddrInUse)
		}
		port = p
	}
	a := Addr{Host: host, Port: port}
	if _, ok := t.endpoints[a.String()]; ok {
		return nil, transport.NewError(transport.CodeBind, "bind", a.String(), transport.ErrAddrInUse)
	}
	ep := &endpoint{addr: a, closed: make(chan struct{})}
	t.endpoints[a.String()] = ep
	return &Listener{t: t, ep: ep}, nil
}

func (t *Transport) freePortLocked(host string) (uint16, bool) {
	for i := 0; i <= ephemeralHigh-ephemeralLow; i++ {
		p := t.nextPort
		if t.nextPort == ephemeralHigh {
			t.nextPort = ephemeralLow
		} else {
			t.nextPort++
		}
		if _, used := t.endpoints[Addr{Host: host, Port: p}.String()]; !used {
			return p, true
		}
	}
	return 0, false
}

func (t *Transport) release(ep *endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endpoints[ep.addr.String()] == ep {
		delete(t.endpoints, ep.addr.String())
	}
}

// Connect opens a stream to a listening endpoint. It blocks while the
// endpoint's backlog is full.
func (t *Transport) Connect(ctx context.Context, host string, port uint16) (*Stream, error) {
	addr := transport.HostPort(host, port)
	if err := validHost(host); err != nil {
		return nil, transport.NewError(transport.CodeConnect, "connect", addr, err)
	}
	t.mu.Lock()
	ep := t.endpoints[addr]
	if ep == nil || !ep.listening() {
		t.mu.Unlock()
		return nil, transport.NewError(transport.CodeConnect, "connect", addr, transport.ErrConnRefused)
	}
	local := Addr{Host: host, Port: t.clientPort}
	if t.clientPort == ephemeralHigh {
		t.clientPort = ephemeralLow
	} else {
		t.clientPort++
	}
	t.mu.Unlock()

	client, server := newPipe(local, ep.addr)
	select {
	case ep.backlog <- server:
		// Close may have drained the backlog before this send landed.
		select {
		case <-ep.closed:
			_ = server.Close()
			_ = client.Close()
			return nil, transport.NewError(transport.CodeConnect, "connect", addr, transport.ErrConnRefused)
		default:
		}
		return &Stream{h: netconn.New(client)}, nil
	case <-ep.closed:
		return nil, transport.NewError(transport.CodeConnect, "connect", addr, transport.ErrConnRefused)
	case <-ctx.Done():
		return nil, transport.NewError(transport.CodeConnect, "connect", addr, ctx.Err())
	}
}

// Listener is a reserved mem endpoint.
type Listener struct {
	mu       sync.Mutex
	t        *Transport
	ep       *endpoint
	consumed bool
}

func (l *Listener) SocketName() (net.Addr, error) { return l.ep.addr, nil }

func (l *Listener) Listen() (*Acceptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil, transport.NewError(transport.CodeListen, "listen", l.ep.addr.String(), transport.ErrListenerConsumed)
	}
	l.consumed = true
	l.t.mu.Lock()
	l.ep.backlog = make(chan *pipeConn, Backlog)
	l.t.mu.Unlock()
	return &Acceptor{t: l.t, ep: l.ep}, nil
}

// Close gives up a reservation that was never listened on.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil
	}
	l.consumed = true
	l.t.release(l.ep)
	return nil
}

// Acceptor hands out the server side of connections. Clones share the
// endpoint.
type Acceptor struct {
	t  *Transport
	ep *endpoint
}

func (a *Acceptor) Accept() (*Stream, error) {
	select {
	case <-a.ep.closed:
		return nil, transport.ErrAcceptorClosed
	default:
	}
	select {
	case c := <-a.ep.backlog:
		return &Stream{h: netconn.New(c)}, nil
	case <-a.ep.closed:
		return nil, transport.ErrAcceptorClosed
	}
}

// Close stops accepting on every clone and refuses queued connections.
func (a *Acceptor) Close() error {
	a.ep.once.Do(func() {
		close(a.ep.closed)
		a.t.release(a.ep)
		for {
			select {
			case c := <-a.ep.backlog:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return nil
}

func (a *Acceptor) Addr() net.Addr { return a.ep.addr }

func (a *Acceptor) Clone() *Acceptor { return &Acceptor{t: a.t, ep: a.ep} }

// Stream is one end of an in-memory connection.
type Stream struct {
	h *netconn.Handle
}

func (s *Stream) Read(p []byte) (int, error)  { return s.h.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *Stream) Flush() error                { return s.h.Flush() }
func (s *Stream) Close() error                { return s.h.Close() }

func (s *Stream) PeerName() (net.Addr, error) { return s.h.PeerName() }

// LocalName returns the local address of the stream.
func (s *Stream) LocalName() net.Addr { return s.h.LocalName() }

func (s *Stream) Clone() *Stream { return &Stream{h: s.h.Clone()} }

func (s *Stream) CloneStream() transport.Stream { return s.Clone() }
