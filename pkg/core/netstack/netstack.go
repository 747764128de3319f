// Package netstack turns transport configuration into a running network: it
// picks the transport by kind and binds or dials the configured address.
package netstack

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/krallin/hyper-02/pkg/config"
	"github.com/krallin/hyper-02/pkg/transport"
	"github.com/krallin/hyper-02/pkg/transport/mem"
	"github.com/krallin/hyper-02/pkg/transport/pipe"
	tquic "github.com/krallin/hyper-02/pkg/transport/quic"
	ttcp "github.com/krallin/hyper-02/pkg/transport/tcp"
)

// ErrUnknownKind is returned for a kind no transport implements.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// memNet is the process-wide in-memory network, so that mem servers and
// clients configured separately meet.
var memNet = mem.New()

// Open builds the erased network for c.
func Open(c config.TransportConfig) (transport.Network, error) {
	switch c.TransportKind() {
	case transport.KindTCP:
		return ttcp.NewWithOptions(ttcp.Options{
			Backlog:   c.Backlog,
			ReuseAddr: c.ReuseAddr,
			ReusePort: c.ReusePort,
			Network:   c.Network,
		}).Network(), nil
	case transport.KindMem:
		return memNet.Network(), nil
	case transport.KindPipe:
		return pipe.New().Network(), nil
	case transport.KindQUIC:
		return tquic.New().Network(), nil
	default:
		return nil, ErrUnknownKind(c.Kind)
	}
}

// Listen binds c and starts accepting. The returned address is the bound
// socket name, with any requested port 0 resolved.
func Listen(ctx context.Context, c config.TransportConfig) (transport.ErasedAcceptor, net.Addr, error) {
	nw, err := Open(c)
	if err != nil {
		return nil, nil, err
	}
	l, err := nw.Bind(ctx, c.Host, c.Port)
	if err != nil {
		return nil, nil, err
	}
	addr, err := l.SocketName()
	if err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	a, err := l.Listen()
	if err != nil {
		_ = l.Close()
		return nil, nil, err
	}
	zap.L().Info("listening", zap.String("kind", nw.Kind().String()), zap.Stringer("addr", addr))
	return a, addr, nil
}

// Dial connects to c once. Retrying is left to the caller.
func Dial(ctx context.Context, c config.TransportConfig) (*transport.Erased, error) {
	nw, err := Open(c)
	if err != nil {
		return nil, err
	}
	s, err := nw.Connect(ctx, c.Host, c.Port)
	if err != nil {
		zap.L().Debug("dial failed", zap.String("kind", nw.Kind().String()), zap.String("addr", transport.HostPort(c.Host, c.Port)), zap.Error(err))
		return nil, err
	}
	return s, nil
}
