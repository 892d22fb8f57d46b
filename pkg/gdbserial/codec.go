package gdbserial

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrNoDigits is returned by the hex parsers when the input does not start
// with a hexadecimal digit. It is distinct from a successfully parsed zero.
var ErrNoDigits = errors.New("no hex digits")

var hexdigit = []byte{'0', '1', '2', '3', '4', '5', '6', '7', '8', '9', 'a', 'b', 'c', 'd', 'e', 'f'}

// checksum returns the sum of the bytes of payload modulo 256.
func checksum(payload []byte) (sum uint8) {
	for _, b := range payload {
		sum += b
	}
	return sum
}

// checksumok checks that checksumBuf (two lowercase hex digits) is the
// checksum of payload.
func checksumok(payload, checksumBuf []byte) bool {
	if len(checksumBuf) != 2 {
		return false
	}
	var tgt uint8
	for _, c := range checksumBuf {
		switch {
		case c >= '0' && c <= '9':
			tgt = tgt<<4 | (c - '0')
		case c >= 'a' && c <= 'f':
			tgt = tgt<<4 | (c - 'a' + 10)
		default:
			return false
		}
	}
	return checksum(payload) == tgt
}

// hexify encodes src as two lowercase hex digits per byte. The encoding
// must fit in capacity with at least one byte to spare, otherwise the
// result is empty.
func hexify(capacity int, src []byte) []byte {
	if 2*len(src) >= capacity {
		return nil
	}
	out := make([]byte, 0, 2*len(src))
	return appendHex(out, src)
}

func appendHex(out, src []byte) []byte {
	for _, b := range src {
		out = append(out, hexdigit[b>>4], hexdigit[b&0xf])
	}
	return out
}

func unhexdigit(c byte) (uint64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return uint64(c - '0'), true
	case c >= 'a' && c <= 'f':
		return uint64(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return uint64(c-'A') + 10, true
	}
	return 0, false
}

// parseBEHex parses the longest prefix of s made of hex digits, most
// significant digit first. It returns the value and the number of bytes
// consumed. A prefix with no digits returns ErrNoDigits, a value that does
// not fit in bitSize bits returns a range error.
func parseBEHex(s []byte, bitSize int) (uint64, int, error) {
	var v uint64
	n := 0
	for ; n < len(s); n++ {
		d, ok := unhexdigit(s[n])
		if !ok {
			break
		}
		if v>>(uint(bitSize)-4) != 0 {
			return 0, n, fmt.Errorf("hex value %q: %w", s[:n+1], strconv.ErrRange)
		}
		v = v<<4 | d
	}
	if n == 0 {
		return 0, 0, ErrNoDigits
	}
	return v, n, nil
}

// parseBEHexU32 is parseBEHex for 32 bit values.
func parseBEHexU32(s []byte) (uint32, int, error) {
	v, n, err := parseBEHex(s, 32)
	return uint32(v), n, err
}

// commandMatches returns true if input starts with name and either ends
// right after it or continues with one of the bytes in delims. This keeps
// a short command name from matching a longer command that shares its
// prefix.
func commandMatches(input []byte, name string, delims string) bool {
	if len(input) < len(name) || string(input[:len(name)]) != name {
		return false
	}
	if len(input) == len(name) {
		return true
	}
	next := input[len(name)]
	for i := 0; i < len(delims); i++ {
		if delims[i] == next {
			return true
		}
	}
	return false
}
