//go:build windows

package pipe

import (
	"context"
	"net"

	winio "github.com/Microsoft/go-winio"
)

// pipeReservation creates the named pipe at bind time; Windows has no bound
// but idle state for pipes.
type pipeReservation struct {
	ln net.Listener
}

func bind(_ context.Context, path string) (reservation, error) {
	ln, err := winio.ListenPipe(path, &winio.PipeConfig{InputBufferSize: 64 * 1024, OutputBufferSize: 64 * 1024})
	if err != nil {
		return nil, err
	}
	return &pipeReservation{ln: ln}, nil
}

func (r *pipeReservation) name() (net.Addr, error)       { return r.ln.Addr(), nil }
func (r *pipeReservation) listen() (net.Listener, error) { return r.ln, nil }
func (r *pipeReservation) Close() error                  { return r.ln.Close() }

func dial(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}

func cleanup(string) {}
