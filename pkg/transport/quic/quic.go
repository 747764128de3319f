// Package quic carries Streams over QUIC: each connection holds one
// bidirectional QUIC stream. Bind opens the UDP socket, Listen starts the
// QUIC listener on it.
package quic

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/internal/netconn"
)

// ALPN is the application protocol negotiated by default.
const ALPN = "hypernet"

// preamble is written by the dialer when it opens the stream: a QUIC peer
// only learns about a stream once a frame is sent on it.
const preamble byte = 0x01

// Linger bounds how long a closed stream's connection waits for the peer.
var Linger = 3 * time.Second

// StreamTimeout bounds how long Accept waits for a new connection to open its
// stream and send the preamble.
var StreamTimeout = 10 * time.Second

// Options configure TLS and QUIC. Nil fields get defaults: a self-signed
// server certificate and a client that skips verification.
type Options struct {
	ServerTLS *tls.Config
	ClientTLS *tls.Config
	Config    *quicgo.Config
}

// Transport binds and connects QUIC endpoints.
type Transport struct {
	opts Options

	certOnce sync.Once
	server   *tls.Config
	certErr  error
}

var (
	_ transport.Transport[*Stream, *Acceptor, *Listener] = (*Transport)(nil)
	_ transport.Cloner[*Stream]                          = (*Stream)(nil)
	_ transport.Cloner[*Acceptor]                        = (*Acceptor)(nil)
)

func New() *Transport { return NewWithOptions(Options{}) }

func NewWithOptions(opts Options) *Transport {
	if opts.Config == nil {
		opts.Config = &quicgo.Config{}
	}
	if opts.ClientTLS == nil {
		opts.ClientTLS = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPN},
			MinVersion:         tls.VersionTLS13,
		}
	}
	return &Transport{opts: opts}
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

// Network returns the erased view of t.
func (t *Transport) Network() transport.Network {
	return transport.Erase[*Stream, *Acceptor, *Listener](t)
}

func (t *Transport) serverTLS() (*tls.Config, error) {
	t.certOnce.Do(func() {
		if t.opts.ServerTLS != nil {
			t.server = t.opts.ServerTLS
			return
		}
		cert, err := selfSignedCert()
		if err != nil {
			t.certErr = err
			return
		}
		t.server = &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{ALPN},
			MinVersion:   tls.VersionTLS13,
		}
	})
	return t.server, t.certErr
}

// Bind opens the UDP socket for host:port.
func (t *Transport) Bind(_ context.Context, host string, port uint16) (*Listener, error) {
	addr := transport.HostPort(host, port)
	uaddr, err := transport.ResolveUDP(host, port)
	if err != nil {
		return nil, transport.NewError(transport.CodeBind, "resolve", addr, err)
	}
	pc, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return nil, transport.NewError(transport.CodeBind, "bind", addr, err)
	}
	s := &socket{pc: pc, qt: &quicgo.Transport{Conn: pc}}
	return &Listener{t: t, addr: addr, sock: transport.NewRef(s)}, nil
}

// Connect dials host:port and opens the connection's stream.
func (t *Transport) Connect(ctx context.Context, host string, port uint16) (*Stream, error) {
	addr := transport.HostPort(host, port)
	conn, err := quicgo.DialAddr(ctx, addr, t.opts.ClientTLS, t.opts.Config)
	if err != nil {
		return nil, transport.NewError(transport.CodeConnect, "connect", addr, err)
	}
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, transport.NewError(transport.CodeConnect, "open stream", addr, err)
	}
	if _, err := st.Write([]byte{preamble}); err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, transport.NewError(transport.CodeConnect, "preamble", addr, err)
	}
	return &Stream{h: netconn.New(&streamConn{Stream: st, conn: conn})}, nil
}

// socket is the UDP socket shared by a listener and the connections it
// accepted.
type socket struct {
	pc       *net.UDPConn
	qt       *quicgo.Transport
	listened bool
}

func (s *socket) Close() error {
	var err error
	if s.listened {
		err = s.qt.Close()
	}
	if cerr := s.pc.Close(); err == nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}

// Listener is a bound UDP socket.
type Listener struct {
	mu       sync.Mutex
	t        *Transport
	addr     string
	sock     *transport.Ref[*socket]
	consumed bool
}

func (l *Listener) SocketName() (net.Addr, error) {
	return l.sock.Value().pc.LocalAddr(), nil
}

func (l *Listener) Listen() (*Acceptor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil, transport.NewError(transport.CodeListen, "listen", l.addr, transport.ErrListenerConsumed)
	}
	conf, err := l.t.serverTLS()
	if err != nil {
		return nil, transport.NewError(transport.CodeListen, "tls", l.addr, err)
	}
	ln, err := l.sock.Value().qt.Listen(conf, l.t.opts.Config)
	if err != nil {
		return nil, transport.NewError(transport.CodeListen, "listen", l.addr, err)
	}
	l.consumed = true
	l.sock.Value().listened = true
	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{st: &acceptorState{ln: ln, sock: l.sock, ctx: ctx, cancel: cancel}}, nil
}

// Close gives up a socket that was never listened on.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumed {
		return nil
	}
	l.consumed = true
	return l.sock.Release()
}

type acceptorState struct {
	ln     *quicgo.Listener
	sock   *transport.Ref[*socket]
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

func (st *acceptorState) closed() bool { return st.ctx.Err() != nil }

// Acceptor accepts QUIC connections. Clones share the listener.
type Acceptor struct {
	st *acceptorState
}

func (a *Acceptor) Accept() (*Stream, error) {
	if a.st.closed() {
		return nil, transport.ErrAcceptorClosed
	}
	addr := a.st.ln.Addr().String()
	conn, err := a.st.ln.Accept(a.st.ctx)
	if err != nil {
		if a.st.closed() {
			return nil, transport.ErrAcceptorClosed
		}
		return nil, transport.NewError(transport.CodeAccept, "accept", addr, err)
	}
	ctx, cancel := context.WithTimeout(a.st.ctx, StreamTimeout)
	st, err := conn.AcceptStream(ctx)
	cancel()
	if err == nil {
		var b [1]byte
		_ = st.SetReadDeadline(time.Now().Add(StreamTimeout))
		_, err = io.ReadFull(st, b[:])
		_ = st.SetReadDeadline(time.Time{})
		if err == nil && b[0] != preamble {
			err = errors.New("quic: unexpected stream preamble")
		}
	}
	if err != nil {
		_ = conn.CloseWithError(1, "no stream")
		if a.st.closed() {
			return nil, transport.ErrAcceptorClosed
		}
		return nil, transport.NewError(transport.CodeAccept, "accept stream", addr, err)
	}
	// Accepted connections keep the UDP socket alive past the acceptor.
	sock := a.st.sock.Clone()
	if sock.Released() {
		_ = conn.CloseWithError(0, "")
		return nil, transport.ErrAcceptorClosed
	}
	return &Stream{h: netconn.New(&streamConn{Stream: st, conn: conn, sock: sock})}, nil
}

// Close stops accepting on every clone. Accepted streams stay open.
func (a *Acceptor) Close() error {
	a.st.once.Do(func() {
		a.st.cancel()
		a.st.err = a.st.ln.Close()
		if err := a.st.sock.Release(); a.st.err == nil {
			a.st.err = err
		}
	})
	return a.st.err
}

func (a *Acceptor) Addr() net.Addr { return a.st.ln.Addr() }

func (a *Acceptor) Clone() *Acceptor { return &Acceptor{st: a.st} }

// streamConn presents a QUIC stream and its connection as a net.Conn.
type streamConn struct {
	quicgo.Stream
	conn quicgo.Connection
	sock *transport.Ref[*socket]
}

func (c *streamConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *streamConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close sends FIN and stops reading. The connection itself is closed once the
// peer closes its side, or after Linger, so that data still in flight is
// delivered.
func (c *streamConn) Close() error {
	err := c.Stream.Close()
	c.Stream.CancelRead(0)
	go func() {
		select {
		case <-c.conn.Context().Done():
		case <-time.After(Linger):
		}
		_ = c.conn.CloseWithError(0, "")
		if c.sock != nil {
			_ = c.sock.Release()
		}
	}()
	return err
}

// Stream is a QUIC stream handle.
type Stream struct {
	h *netconn.Handle
}

func (s *Stream) Read(p []byte) (int, error)  { return s.h.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.h.Write(p) }
func (s *Stream) Flush() error                { return s.h.Flush() }
func (s *Stream) Close() error                { return s.h.Close() }

func (s *Stream) PeerName() (net.Addr, error) { return s.h.PeerName() }

// LocalName returns the local address of the connection.
func (s *Stream) LocalName() net.Addr { return s.h.LocalName() }

func (s *Stream) Clone() *Stream { return &Stream{h: s.h.Clone()} }

func (s *Stream) CloneStream() transport.Stream { return s.Clone() }

// selfSignedCert generates a short-lived certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
