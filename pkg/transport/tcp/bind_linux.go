//go:build linux

package tcp

import (
	"context"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// fdReservation is a socket that went through bind(2) but not listen(2).
type fdReservation struct {
	fd int
}

func bind(_ context.Context, opts Options, addr *net.TCPAddr) (reservation, error) {
	family, sa, err := sockaddr(opts.Network, addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	// Two reservations with SO_REUSEADDR may share a port until one listens,
	// so it stays off unless asked for.
	if opts.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			_ = unix.Close(fd)
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}
	if opts.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}
	if family == unix.AF_INET6 && opts.Network == "tcp6" {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1); err != nil {
			_ = unix.Close(fd)
			return nil, os.NewSyscallError("setsockopt", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	return &fdReservation{fd: fd}, nil
}

func sockaddr(network string, addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil && network != "tcp6" {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa, nil
	}
	if network == "tcp4" {
		return 0, nil, &net.AddrError{Err: "not an IPv4 address", Addr: addr.String()}
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa, nil
}

func (r *fdReservation) name() (net.Addr, error) {
	if r.fd < 0 {
		return nil, net.ErrClosed
	}
	sa, err := unix.Getsockname(r.fd)
	if err != nil {
		return nil, os.NewSyscallError("getsockname", err)
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		a := &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				a.Zone = ifi.Name
			}
		}
		return a, nil
	default:
		return nil, &net.AddrError{Err: "unexpected socket family"}
	}
}

func (r *fdReservation) listen(backlog int) (*net.TCPListener, error) {
	if r.fd < 0 {
		return nil, net.ErrClosed
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(r.fd, backlog); err != nil {
		return nil, os.NewSyscallError("listen", err)
	}
	// FileListener dups the descriptor; the original is closed right after.
	f := os.NewFile(uintptr(r.fd), "tcp")
	ln, err := net.FileListener(f)
	_ = f.Close()
	r.fd = -1
	if err != nil {
		return nil, err
	}
	return ln.(*net.TCPListener), nil
}

func (r *fdReservation) Close() error {
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	return err
}
