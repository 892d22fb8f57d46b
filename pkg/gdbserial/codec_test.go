package gdbserial

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"testing/quick"
)

func TestChecksum(t *testing.T) {
	f := func(p []byte) bool {
		var sum int
		for _, b := range p {
			sum += int(b)
		}
		return checksum(p) == uint8(sum%256)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}

	if got := checksum([]byte("qSupported")); got != 0x37 {
		t.Fatalf("checksum(qSupported) = %#x, want 0x37", got)
	}
	if got := checksum(nil); got != 0 {
		t.Fatalf("checksum of empty payload = %#x", got)
	}
}

func TestChecksumokRejectsCorruption(t *testing.T) {
	f := func(p []byte, bit uint16) bool {
		cs := []byte(fmt.Sprintf("%02x", checksum(p)))
		if !checksumok(p, cs) {
			return false
		}
		if len(p) > 0 {
			corrupt := append([]byte(nil), p...)
			i := int(bit) % (len(p) * 8)
			corrupt[i/8] ^= 1 << (i % 8)
			if checksumok(corrupt, cs) {
				return false
			}
		}
		// a single bit flip in the checksum field either changes its value
		// or makes it an invalid hex digit
		corruptcs := append([]byte(nil), cs...)
		i := int(bit) % 16
		corruptcs[i/8] ^= 1 << (i % 8)
		return !checksumok(p, corruptcs)
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}

	for _, cs := range []string{"", "3", "377", "zz"} {
		if checksumok([]byte("qSupported"), []byte(cs)) {
			t.Errorf("checksum field %q accepted", cs)
		}
	}
	if !checksumok([]byte("qSupported"), []byte("37")) {
		t.Errorf("valid checksum rejected")
	}
}

func TestHexify(t *testing.T) {
	f := func(b []byte) bool {
		capacity := 2*len(b) + 1
		out := hexify(capacity, b)
		dec, err := hex.DecodeString(string(out))
		return err == nil && bytes.Equal(dec, b) && bytes.Equal(out, []byte(hex.EncodeToString(b)))
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}

	if got := string(hexify(MaxPacketSize, []byte{0xde, 0xad, 0xbe, 0xef})); got != "deadbeef" {
		t.Fatalf("got %q", got)
	}
	if got := hexify(8, []byte{1, 2, 3, 4}); len(got) != 0 {
		t.Fatalf("output without a spare byte should be empty, got %q", got)
	}
	if got := hexify(MaxPacketSize, make([]byte, MaxPacketSize/2)); got != nil {
		t.Fatalf("oversized output should be empty, got %d bytes", len(got))
	}
}

func TestParseBEHex(t *testing.T) {
	tests := []struct {
		in      string
		bitSize int
		v       uint64
		n       int
		err     error
	}{
		{"12", 32, 0x12, 2, nil},
		{"0", 32, 0, 1, nil},
		{"00", 32, 0, 2, nil},
		{"DEADbeef", 32, 0xdeadbeef, 8, nil},
		{"1000,4", 64, 0x1000, 4, nil},
		{"ffffffff:1", 32, 0xffffffff, 8, nil},
		{"", 32, 0, 0, ErrNoDigits},
		{",4", 64, 0, 0, ErrNoDigits},
		{"x", 32, 0, 0, ErrNoDigits},
		{"100000000", 32, 0, 8, strconv.ErrRange},
		{"ffffffffffffffff", 64, 0xffffffffffffffff, 16, nil},
		{"10000000000000000", 64, 0, 16, strconv.ErrRange},
	}
	for _, tc := range tests {
		v, n, err := parseBEHex([]byte(tc.in), tc.bitSize)
		if !errors.Is(err, tc.err) {
			t.Errorf("parseBEHex(%q): got error %v, want %v", tc.in, err, tc.err)
			continue
		}
		if tc.err != nil {
			continue
		}
		if v != tc.v || n != tc.n {
			t.Errorf("parseBEHex(%q) = %#x, %d; want %#x, %d", tc.in, v, n, tc.v, tc.n)
		}
	}
}

func TestCommandMatches(t *testing.T) {
	tests := []struct {
		input, name, delims string
		match               bool
	}{
		{"gSupported", "g", ";:", false},
		{"g", "g", "", true},
		{"g", "g", ";", true},
		{"g;x", "g", ";", true},
		{"vCont:c:12", "vCont", ":;?", true},
		{"vCont?", "vCont", ":;?", true},
		{"vContX", "vCont", ":;?", false},
		{"vCon", "vCont", ":;?", false},
		{"vcont:c", "vCont", ":;?", false},
		{"qSupported:multiprocess+", "qSupported", ":;?", true},
		{"qSupportedX", "qSupported", ":;?", false},
	}
	for _, tc := range tests {
		if got := commandMatches([]byte(tc.input), tc.name, tc.delims); got != tc.match {
			t.Errorf("commandMatches(%q, %q, %q) = %v", tc.input, tc.name, tc.delims, got)
		}
	}
}
