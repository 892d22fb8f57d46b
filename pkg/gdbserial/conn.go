package gdbserial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rspd/rspd/pkg/logflags"
)

const (
	// MaxPacketSize is the largest packet, framing included, that the server
	// receives. Replies are bounded by the same size.
	MaxPacketSize = 0x4000
	// MaxReadLength is the longest memory read whose hex encoding fits in
	// a reply.
	MaxReadLength = (MaxPacketSize - 1) / 2

	gdbWireMaxLen = 120

	initialInputBufferSize = 2048
)

// gdbConn holds the sockets of a session: the listening socket and at most
// one accepted client connection.
type gdbConn struct {
	mu       sync.Mutex // protects listener, conn and closed against a concurrent close
	listener net.Listener
	conn     net.Conn
	closed   bool
	rdr      *bufio.Reader
	peer     net.Addr

	inbuf []byte

	maxTransmitAttempts int           // zero means retransmit until acknowledged
	handshakeTimeout    time.Duration // zero means wait forever

	log logflags.Logger
}

// listen binds the listening socket to addr.
func (conn *gdbConn) listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return &TransportError{"listen", err}
	}
	conn.setListener(l)
	return nil
}

// start binds the listening socket to port on all interfaces.
func (conn *gdbConn) start(port int) error {
	l, err := listenPort(port)
	if err != nil {
		return err
	}
	conn.setListener(l)
	return nil
}

func (conn *gdbConn) setListener(l net.Listener) {
	conn.mu.Lock()
	conn.listener = l
	conn.mu.Unlock()
	conn.log.Debugf("listening on %s", l.Addr())
}

func (conn *gdbConn) addr() net.Addr {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.listener == nil {
		return nil
	}
	return conn.listener.Addr()
}

// accept waits for a client and for its handshake.
func (conn *gdbConn) accept() error {
	conn.mu.Lock()
	l, busy := conn.listener, conn.conn != nil
	conn.mu.Unlock()
	if l == nil {
		return &TransportError{"accept", errors.New("server not started")}
	}
	if busy {
		return &TransportError{"accept", errors.New("a client is already connected")}
	}
	c, err := l.Accept()
	if err != nil {
		return &TransportError{"accept", err}
	}
	return conn.attach(c)
}

// attach adopts c as the client connection and performs the handshake.
// If the handshake fails c is closed and the server can accept again.
func (conn *gdbConn) attach(c net.Conn) error {
	conn.mu.Lock()
	switch {
	case conn.closed:
		conn.mu.Unlock()
		c.Close()
		return &TransportError{"accept", net.ErrClosed}
	case conn.conn != nil:
		conn.mu.Unlock()
		c.Close()
		return &TransportError{"accept", errors.New("a client is already connected")}
	}
	conn.conn = c
	conn.mu.Unlock()

	conn.rdr = bufio.NewReader(c)
	conn.peer = c.RemoteAddr()
	if conn.inbuf == nil {
		conn.inbuf = make([]byte, 0, initialInputBufferSize)
	}
	conn.log.Debugf("client connected from %s", conn.peer)
	if err := conn.handshake(); err != nil {
		conn.detach(c)
		return err
	}
	return nil
}

// detach closes c and forgets it if it is still the client connection.
func (conn *gdbConn) detach(c net.Conn) {
	c.Close()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.conn != c {
		return
	}
	conn.conn = nil
	conn.rdr = nil
	conn.peer = nil
	conn.log.Debugf("dropped client that did not complete the handshake")
}

// handshake waits for the '+' the client sends to start the session.
// Any other byte is discarded. A read error is permanent on a stream, so
// it ends the wait instead of retrying.
func (conn *gdbConn) handshake() error {
	if conn.handshakeTimeout > 0 {
		conn.conn.SetReadDeadline(time.Now().Add(conn.handshakeTimeout))
		defer conn.conn.SetReadDeadline(time.Time{})
	}
	for {
		b, err := conn.rdr.ReadByte()
		if err != nil {
			return &TransportError{"handshake", err}
		}
		if logflags.GdbWire() {
			conn.log.Debugf("-> %s", string(b))
		}
		if b == '+' {
			return nil
		}
	}
}

// sendPacket frames payload and sends it until the client acknowledges it.
func (conn *gdbConn) sendPacket(payload []byte) error {
	if conn.conn == nil {
		return ErrNotConnected
	}

	pkt := make([]byte, 0, len(payload)+4)
	pkt = append(pkt, '$')
	pkt = append(pkt, payload...)
	pkt = append(pkt, '#')
	sum := checksum(payload)
	pkt = append(pkt, hexdigit[sum>>4], hexdigit[sum&0xf])

	attempt := 0
	for {
		conn.logWire("<- ", pkt)
		n, err := conn.conn.Write(pkt)
		if err != nil {
			return &TransportError{"send", err}
		}
		if n != len(pkt) {
			return &TransportError{"send", io.ErrShortWrite}
		}

		if conn.readack() {
			return nil
		}
		attempt++
		if conn.maxTransmitAttempts > 0 && attempt >= conn.maxTransmitAttempts {
			return &TransportError{"send", ErrTooManyAttempts}
		}
	}
}

// recvPacket reads one frame, from its first byte up to and including the
// two checksum digits after the '#' marker. If the marker does not appear
// within capacity bytes, or the connection fails, a negative
// acknowledgment is sent and an error returned.
// The returned slice is only valid until the next call.
func (conn *gdbConn) recvPacket(capacity int) ([]byte, error) {
	if conn.conn == nil {
		return nil, ErrNotConnected
	}
	buf := conn.inbuf[:0]
	for len(buf) < capacity {
		b, err := conn.rdr.ReadByte()
		if err != nil {
			conn.sendack('-')
			return nil, &TransportError{"receive", err}
		}
		buf = append(buf, b)
		if b != '#' {
			continue
		}
		var cs [2]byte
		if _, err := io.ReadFull(conn.rdr, cs[:]); err != nil {
			conn.sendack('-')
			return nil, &TransportError{"receive checksum", err}
		}
		buf = append(buf, cs[:]...)
		conn.inbuf = buf
		conn.logWire("-> ", buf)
		return buf, nil
	}
	conn.inbuf = buf
	conn.sendack('-')
	return nil, &FramingError{Reason: fmt.Sprintf("no packet terminator within %d bytes", capacity), Frame: append([]byte(nil), buf...)}
}

// checkFrame verifies the marker and checksum of a frame returned by
// recvPacket and acknowledges it. It returns the payload.
func (conn *gdbConn) checkFrame(frame []byte) ([]byte, error) {
	if len(frame) < 4 || frame[0] != '$' {
		conn.sendack('-')
		return nil, &FramingError{Reason: "missing packet marker", Frame: append([]byte(nil), frame...)}
	}
	payload := frame[1 : len(frame)-3]
	if !checksumok(payload, frame[len(frame)-2:]) {
		conn.sendack('-')
		return nil, &FramingError{Reason: fmt.Sprintf("checksum mismatch, expected %02x", checksum(payload)), Frame: append([]byte(nil), frame...)}
	}
	conn.sendack('+')
	return payload, nil
}

// readack reads one byte from the client, returns true if the byte is '+'.
func (conn *gdbConn) readack() bool {
	b, err := conn.rdr.ReadByte()
	if err != nil {
		conn.log.Debugf("reading ack: %v", err)
		return false
	}
	if logflags.GdbWire() {
		conn.log.Debugf("-> %s", string(b))
	}
	return b == '+'
}

// sendack sends an ack character, c must be either '+' or '-'.
func (conn *gdbConn) sendack(c byte) {
	if c != '+' && c != '-' {
		panic(fmt.Errorf("sendack(%c)", c))
	}
	conn.conn.Write([]byte{c})
	if logflags.GdbWire() {
		conn.log.Debugf("<- %s", string(c))
	}
}

func (conn *gdbConn) logWire(dir string, pkt []byte) {
	if !logflags.GdbWire() {
		return
	}
	if len(pkt) > gdbWireMaxLen {
		conn.log.Debugf("%s%s...", dir, string(pkt[:gdbWireMaxLen]))
	} else {
		conn.log.Debugf("%s%s", dir, string(pkt))
	}
}

// close closes the client connection and the listening socket. Both are
// closed even if the first close fails. Connections accepted afterwards are
// refused.
func (conn *gdbConn) close() error {
	conn.mu.Lock()
	conn.closed = true
	c, l := conn.conn, conn.listener
	conn.mu.Unlock()

	var errs []error
	if c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, &TransportError{"close connection", err})
		}
	}
	if l != nil {
		if err := l.Close(); err != nil {
			errs = append(errs, &TransportError{"close listener", err})
		}
	}
	return errors.Join(errs...)
}
