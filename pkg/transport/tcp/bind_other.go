//go:build !linux

package tcp

import (
	"context"
	"net"
)

// listenerReservation binds and listens in one step: outside Linux the
// reservation already accepts connections into the kernel queue.
type listenerReservation struct {
	ln *net.TCPListener
}

func bind(ctx context.Context, opts Options, addr *net.TCPAddr) (reservation, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, opts.Network, addr.String())
	if err != nil {
		return nil, err
	}
	return &listenerReservation{ln: ln.(*net.TCPListener)}, nil
}

func (r *listenerReservation) name() (net.Addr, error) { return r.ln.Addr(), nil }

func (r *listenerReservation) listen(int) (*net.TCPListener, error) { return r.ln, nil }

func (r *listenerReservation) Close() error { return r.ln.Close() }
