//go:build !linux && !darwin && !freebsd

package cmds

import "os"

// stopSignals are the signals that stop the server.
var stopSignals = []os.Signal{os.Interrupt}
