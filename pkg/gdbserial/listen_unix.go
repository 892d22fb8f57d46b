//go:build linux || darwin || freebsd

package gdbserial

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenPort creates a stream socket bound to port on all IPv4 interfaces
// with a backlog of one pending connection.
func listenPort(port int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &TransportError{"socket", err}
	}
	unix.CloseOnExec(fd)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &TransportError{"setsockopt", err}
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, &TransportError{"bind", err}
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, &TransportError{"listen", err}
	}

	// net.FileListener duplicates the descriptor.
	f := os.NewFile(uintptr(fd), fmt.Sprintf("rspd-listener:%d", port))
	defer f.Close()
	l, err := net.FileListener(f)
	if err != nil {
		return nil, &TransportError{"listen", err}
	}
	return l, nil
}
