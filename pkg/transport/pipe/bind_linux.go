//go:build linux

package pipe

import (
	"context"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// fdReservation is a unix socket that went through bind(2) but not listen(2).
type fdReservation struct {
	fd   int
	path string
}

func bind(_ context.Context, path string) (reservation, error) {
	if err := removeStale(path); err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	return &fdReservation{fd: fd, path: path}, nil
}

func (r *fdReservation) name() (net.Addr, error) {
	if r.fd < 0 {
		return nil, net.ErrClosed
	}
	return &net.UnixAddr{Name: r.path, Net: "unix"}, nil
}

func (r *fdReservation) listen() (net.Listener, error) {
	if r.fd < 0 {
		return nil, net.ErrClosed
	}
	if err := unix.Listen(r.fd, unix.SOMAXCONN); err != nil {
		return nil, os.NewSyscallError("listen", err)
	}
	f := os.NewFile(uintptr(r.fd), r.path)
	ln, err := net.FileListener(f)
	_ = f.Close()
	r.fd = -1
	return ln, err
}

func (r *fdReservation) Close() error {
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}
