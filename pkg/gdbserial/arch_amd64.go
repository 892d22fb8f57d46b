//go:build amd64

package gdbserial

const defaultArchName = "amd64"
