package gdbserial

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/rspd/rspd/pkg/logflags"
)

func pipeConn(t *testing.T) (*gdbConn, net.Conn) {
	t.Helper()
	srv, client := net.Pipe()
	t.Cleanup(func() {
		srv.Close()
		client.Close()
	})
	conn := &gdbConn{
		conn:  srv,
		rdr:   bufio.NewReader(srv),
		inbuf: make([]byte, 0, initialInputBufferSize),
		log:   logflags.GdbWireLogger(),
	}
	return conn, client
}

func frame(payload string) string {
	return fmt.Sprintf("$%s#%02x", payload, checksum([]byte(payload)))
}

// readAck returns the next byte the server sends on client.
func readAck(client net.Conn) <-chan byte {
	ch := make(chan byte, 1)
	go func() {
		var b [1]byte
		if _, err := io.ReadFull(client, b[:]); err != nil {
			close(ch)
			return
		}
		ch <- b[0]
	}()
	return ch
}

func TestRecvPacket(t *testing.T) {
	conn, client := pipeConn(t)
	go client.Write([]byte(frame("m1000,4")))

	buf, err := conn.recvPacket(MaxPacketSize)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "$m1000,4#8e" {
		t.Fatalf("got %q", buf)
	}

	ack := readAck(client)
	payload, err := conn.checkFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "m1000,4" {
		t.Fatalf("payload %q", payload)
	}
	if b := <-ack; b != '+' {
		t.Fatalf("expected '+', got %q", b)
	}
}

func TestRecvPacketOverflow(t *testing.T) {
	conn, client := pipeConn(t)
	const capacity = 16
	go client.Write(bytes.Repeat([]byte{'x'}, capacity))
	ack := readAck(client)

	_, err := conn.recvPacket(capacity)
	var ferr *FramingError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected framing error, got %v", err)
	}
	if b := <-ack; b != '-' {
		t.Fatalf("expected '-', got %q", b)
	}
}

func TestRecvPacketFitsCapacity(t *testing.T) {
	// the terminator may be the last byte that fits
	conn, client := pipeConn(t)
	pkt := frame("abcdefghijk")
	go client.Write([]byte(pkt))

	buf, err := conn.recvPacket(len(pkt) - 2)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != pkt {
		t.Fatalf("got %q", buf)
	}
}

func TestRecvPacketTruncated(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	srv, err := l.Accept()
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()

	conn := &gdbConn{conn: srv, rdr: bufio.NewReader(srv), log: logflags.GdbWireLogger()}
	client.Write([]byte("$g#6"))
	client.(*net.TCPConn).CloseWrite()

	_, err = conn.recvPacket(MaxPacketSize)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	var b [1]byte
	if _, err := io.ReadFull(client, b[:]); err != nil || b[0] != '-' {
		t.Fatalf("expected '-', got %q (%v)", b[0], err)
	}
}

func TestCheckFrameRejects(t *testing.T) {
	for _, bad := range []string{"$g#00", "$g#6A", "g#67", "#67"} {
		conn, client := pipeConn(t)
		go client.Write([]byte(bad))

		buf, err := conn.recvPacket(MaxPacketSize)
		if err != nil {
			t.Fatalf("%s: %v", bad, err)
		}
		ack := readAck(client)
		_, err = conn.checkFrame(buf)
		var ferr *FramingError
		if !errors.As(err, &ferr) {
			t.Fatalf("%s: expected framing error, got %v", bad, err)
		}
		if b := <-ack; b != '-' {
			t.Fatalf("%s: expected '-', got %q", bad, b)
		}
	}
}

func TestSendPacketRetransmits(t *testing.T) {
	conn, client := pipeConn(t)
	want := frame("OK")

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, len(want))
		for _, ack := range []byte{'-', 'x', '+'} {
			if _, err := io.ReadFull(client, buf); err != nil {
				done <- err
				return
			}
			if string(buf) != want {
				done <- fmt.Errorf("got %q, want %q", buf, want)
				return
			}
			client.Write([]byte{ack})
		}
		done <- nil
	}()

	if err := conn.sendPacket([]byte("OK")); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestSendPacketMaxAttempts(t *testing.T) {
	conn, client := pipeConn(t)
	conn.maxTransmitAttempts = 2
	want := frame("S05")

	go func() {
		buf := make([]byte, len(want))
		for {
			if _, err := io.ReadFull(client, buf); err != nil {
				return
			}
			client.Write([]byte{'-'})
		}
	}()

	err := conn.sendPacket([]byte("S05"))
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestSendPacketNotConnected(t *testing.T) {
	conn := &gdbConn{log: logflags.GdbWireLogger()}
	if err := conn.sendPacket([]byte("OK")); err != ErrNotConnected {
		t.Fatalf("got %v", err)
	}
	if _, err := conn.recvPacket(MaxPacketSize); err != ErrNotConnected {
		t.Fatalf("got %v", err)
	}
}

func TestHandshake(t *testing.T) {
	srv, client := net.Pipe()
	defer client.Close()
	conn := &gdbConn{log: logflags.GdbWireLogger()}
	go client.Write([]byte("garbage+"))
	if err := conn.attach(srv); err != nil {
		t.Fatal(err)
	}
	if conn.peer == nil {
		t.Fatal("peer address not recorded")
	}
	if err := conn.attach(srv); err == nil {
		t.Fatal("second client accepted")
	}
	conn.close()
}

func TestHandshakeClosed(t *testing.T) {
	srv, client := net.Pipe()
	conn := &gdbConn{log: logflags.GdbWireLogger()}
	go func() {
		client.Write([]byte("x"))
		client.Close()
	}()
	err := conn.attach(srv)
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "handshake" {
		t.Fatalf("expected handshake transport error, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	conn.close()
}

func TestHandshakeTimeout(t *testing.T) {
	srv, client := net.Pipe()
	defer client.Close()
	conn := &gdbConn{handshakeTimeout: 20 * time.Millisecond, log: logflags.GdbWireLogger()}
	err := conn.attach(srv)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	conn.close()
}

func TestCloseInterruptsAccept(t *testing.T) {
	conn := &gdbConn{log: logflags.GdbWireLogger()}
	if err := conn.listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- conn.accept() }()
	time.Sleep(10 * time.Millisecond)
	if err := conn.close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		var terr *TransportError
		if !errors.As(err, &terr) {
			t.Fatalf("expected transport error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("accept not interrupted")
	}
}

func TestAcceptBeforeStart(t *testing.T) {
	conn := &gdbConn{log: logflags.GdbWireLogger()}
	var terr *TransportError
	if err := conn.accept(); !errors.As(err, &terr) {
		t.Fatalf("got %v", err)
	}
}

func TestFailedHandshakeReleasesClient(t *testing.T) {
	s := NewServer(Config{HandshakeTimeout: 50 * time.Millisecond})
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	silent, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer silent.Close()
	if err := s.Accept(); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected handshake timeout, got %v", err)
	}
	if s.PeerAddr() != nil {
		t.Fatalf("peer %v still recorded", s.PeerAddr())
	}

	// the client that never started the session can not send commands
	silent.Write([]byte(frame("?")))
	if _, err := s.GetCommand(); err != ErrNotConnected {
		t.Fatalf("expected %v, got %v", ErrNotConnected, err)
	}
	silent.SetReadDeadline(time.Now().Add(5 * time.Second))
	var b [1]byte
	// EOF or a reset, depending on whether the server saw the packet
	if _, err := silent.Read(b[:]); err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected the server to close the connection, got %v", err)
	}

	client, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	client.Write([]byte("+"))
	if err := s.Accept(); err != nil {
		t.Fatalf("second client refused: %v", err)
	}
}

func TestAttachAfterClose(t *testing.T) {
	srv, client := net.Pipe()
	defer client.Close()
	conn := &gdbConn{log: logflags.GdbWireLogger()}
	if err := conn.close(); err != nil {
		t.Fatal(err)
	}
	err := conn.attach(srv)
	var terr *TransportError
	if !errors.As(err, &terr) || !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected closed transport error, got %v", err)
	}
	if conn.conn != nil {
		t.Fatal("connection adopted after close")
	}
	var b [1]byte
	if _, err := client.Read(b[:]); err != io.EOF {
		t.Fatalf("expected refused connection to be closed, got %v", err)
	}
}

func TestFramingErrorKeepsFrame(t *testing.T) {
	conn, client := pipeConn(t)
	go func() {
		client.Write([]byte("$g#00"))
		io.ReadFull(client, make([]byte, 1))
		client.Write([]byte("$m0,1#ff"))
		io.ReadFull(client, make([]byte, 1))
	}()

	buf, err := conn.recvPacket(MaxPacketSize)
	if err != nil {
		t.Fatal(err)
	}
	_, first := conn.checkFrame(buf)
	var ferr *FramingError
	if !errors.As(first, &ferr) {
		t.Fatalf("expected framing error, got %v", first)
	}

	buf, err = conn.recvPacket(MaxPacketSize)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.checkFrame(buf); err == nil {
		t.Fatal("bad checksum accepted")
	}
	if string(ferr.Frame) != "$g#00" {
		t.Fatalf("frame of the first error overwritten: %q", ferr.Frame)
	}
}
