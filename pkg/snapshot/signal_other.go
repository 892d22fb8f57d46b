//go:build !linux && !darwin && !freebsd

package snapshot

var signals = map[string]uint8{
	"SIGHUP":  1,
	"SIGINT":  2,
	"SIGQUIT": 3,
	"SIGILL":  4,
	"SIGTRAP": 5,
	"SIGABRT": 6,
	"SIGFPE":  8,
	"SIGKILL": 9,
	"SIGSEGV": 11,
	"SIGPIPE": 13,
	"SIGALRM": 14,
	"SIGTERM": 15,
}

// signalNum returns the number of the signal called name, or 0.
func signalNum(name string) uint8 {
	return signals[name]
}
