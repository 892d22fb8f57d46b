//go:build !386 && !amd64

package gdbserial

// Other hosts debug x86-64 targets unless configured otherwise.
const defaultArchName = "amd64"
