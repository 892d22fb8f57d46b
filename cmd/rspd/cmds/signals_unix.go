//go:build linux || darwin || freebsd

package cmds

import (
	"os"

	"golang.org/x/sys/unix"
)

// stopSignals are the signals that stop the server.
var stopSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}
