//go:build 386

package gdbserial

const defaultArchName = "386"
