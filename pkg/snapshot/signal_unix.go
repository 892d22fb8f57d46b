//go:build linux || darwin || freebsd

package snapshot

import "golang.org/x/sys/unix"

// signalNum returns the number of the signal called name on the host, or 0.
func signalNum(name string) uint8 {
	return uint8(unix.SignalNum(name))
}
