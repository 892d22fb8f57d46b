//go:build !linux && !darwin && !freebsd

package gdbserial

import (
	"fmt"
	"net"
)

// listenPort binds port on all IPv4 interfaces. The backlog is the
// operating system default.
func listenPort(port int) (net.Listener, error) {
	l, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, &TransportError{"listen", err}
	}
	return l, nil
}
