//go:build unix

package pipe

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

func dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

// removeStale deletes a socket file nobody listens on anymore. A live socket
// is reported as EADDRINUSE.
func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return nil
	}
	c, err := net.Dial("unix", path)
	if err == nil {
		_ = c.Close()
		return os.NewSyscallError("bind", syscall.EADDRINUSE)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func cleanup(path string) { _ = os.Remove(path) }
