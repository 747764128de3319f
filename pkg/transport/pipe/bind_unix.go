//go:build unix && !linux

package pipe

import (
	"context"
	"net"
)

// listenerReservation binds and listens in one step.
type listenerReservation struct {
	ln net.Listener
}

func bind(ctx context.Context, path string) (reservation, error) {
	if err := removeStale(path); err != nil {
		return nil, err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	return &listenerReservation{ln: ln}, nil
}

func (r *listenerReservation) name() (net.Addr, error)       { return r.ln.Addr(), nil }
func (r *listenerReservation) listen() (net.Listener, error) { return r.ln, nil }
func (r *listenerReservation) Close() error                  { return r.ln.Close() }
