// Package gdbserial implements the server side of the GDB Remote Serial
// Protocol over TCP.
//
// A Server accepts a single debugger client, decodes its packets into
// Commands and encodes the results produced by an Executor into replies.
// The protocol is described at:
//
//	https://sourceware.org/gdb/onlinedocs/gdb/Remote-Protocol.html
//
// Only the commands needed to inspect a stopped debuggee are supported:
// vCont, g, m, ? and the qSupported query. Every other packet receives
// the empty reply, which tells the client the packet is not supported.
package gdbserial

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rspd/rspd/pkg/logflags"
)

// DefaultMaxThreadIDs is the number of thread ids a vCont packet may carry
// when Config.MaxThreadIDs is not set.
const DefaultMaxThreadIDs = 64

// Config contains the configuration of a Server.
type Config struct {
	// Arch is the register layout of the debuggee, nil selects the host
	// architecture.
	Arch *Arch
	// MaxThreadIDs bounds the thread ids of a vCont packet.
	MaxThreadIDs int
	// MaxTransmitAttempts bounds the number of times a reply is sent
	// without being acknowledged. Zero retransmits forever.
	MaxTransmitAttempts int
	// HandshakeTimeout bounds the wait for the client's first '+'. Zero
	// waits forever.
	HandshakeTimeout time.Duration
}

// Server is a Remote Serial Protocol server for a single client.
// GetCommand, PutReply and PutError must be called from one goroutine,
// Stop may be called from any goroutine.
type Server struct {
	conn         gdbConn
	arch         *Arch
	maxThreadIDs int
	stopped      atomic.Bool

	log logflags.Logger
}

// NewServer returns a server configured with cfg. It does not open any
// socket, see Start, Listen and AcceptConn.
func NewServer(cfg Config) *Server {
	s := &Server{
		arch:         cfg.Arch,
		maxThreadIDs: cfg.MaxThreadIDs,
		log:          logflags.ServerLogger(),
	}
	if s.arch == nil {
		s.arch = DefaultArch()
	}
	if s.maxThreadIDs <= 0 {
		s.maxThreadIDs = DefaultMaxThreadIDs
	}
	s.conn.maxTransmitAttempts = cfg.MaxTransmitAttempts
	s.conn.handshakeTimeout = cfg.HandshakeTimeout
	s.conn.log = logflags.GdbWireLogger()
	return s
}

// Arch returns the register layout used to encode register reads.
func (s *Server) Arch() *Arch {
	return s.arch
}

// Start listens on port on every interface with a backlog of one
// connection.
func (s *Server) Start(port int) error {
	return s.conn.start(port)
}

// Listen listens on the TCP address addr, for example "127.0.0.1:0".
func (s *Server) Listen(addr string) error {
	return s.conn.listen(addr)
}

// Addr returns the address the server listens on or nil.
func (s *Server) Addr() net.Addr {
	return s.conn.addr()
}

// PeerAddr returns the address of the connected client or nil.
func (s *Server) PeerAddr() net.Addr {
	return s.conn.peer
}

// Accept waits for a client to connect and to start the session.
func (s *Server) Accept() error {
	if err := s.conn.accept(); err != nil {
		return err
	}
	s.log.Infof("accepted connection from %s", s.conn.peer)
	return nil
}

// AcceptConn starts a session on an already connected stream.
func (s *Server) AcceptConn(c net.Conn) error {
	if err := s.conn.attach(c); err != nil {
		return err
	}
	s.log.Infof("accepted connection from %s", s.conn.peer)
	return nil
}

// GetCommand receives the next packet and decodes it.
//
// Queries are answered before GetCommand returns and the returned command
// reports Handled. A packet that fails the checksum is rejected with a
// *FramingError, a packet that does not contain a supported command is
// answered with the empty reply and returns a *GrammarError. In both cases
// the caller should call GetCommand again.
func (s *Server) GetCommand() (*Command, error) {
	frame, err := s.conn.recvPacket(MaxPacketSize)
	if err != nil {
		return nil, err
	}
	payload, err := s.conn.checkFrame(frame)
	if err != nil {
		return nil, err
	}

	cmd, err := s.parse(payload)
	if err != nil {
		if serr := s.conn.sendPacket([]byte{}); serr != nil {
			return nil, serr
		}
		return nil, err
	}

	if cmd.Kind == CmdServerInternal {
		reply, _, err := queryHandler{}.encode(s, cmd, nil)
		if err != nil {
			return nil, &EncodingError{Kind: cmd.Kind, Err: err}
		}
		if err := s.conn.sendPacket(reply); err != nil {
			return nil, err
		}
		cmd.handled = true
	}
	return cmd, nil
}

// PutReply encodes res as the reply to cmd and sends it. Commands that
// were already answered and commands without a reply send nothing.
// If the reply can not be encoded an *EncodingError is returned and
// nothing is sent.
func (s *Server) PutReply(cmd *Command, res *Result) error {
	if cmd.handled {
		return nil
	}
	h, ok := commandHandlers[cmd.Kind]
	if !ok || cmd.Kind == CmdServerInternal {
		return nil
	}
	reply, send, err := h.encode(s, cmd, res)
	if err != nil {
		return &EncodingError{Kind: cmd.Kind, Err: err}
	}
	if !send {
		return nil
	}
	return s.conn.sendPacket(reply)
}

// PutError reports err to the client as an Exx reply. The code of a
// *TargetError is used if err contains one, otherwise the code is 01.
func (s *Server) PutError(err error) error {
	return s.conn.sendPacket(encodeError(err))
}

// Stop closes the client connection and the listening socket. Blocked
// calls on other goroutines return a *TransportError.
func (s *Server) Stop() error {
	s.stopped.Store(true)
	return s.conn.close()
}

// Serve runs the command loop of an accepted session, executing every
// command with exec. It returns nil when the client disconnects or the
// server is stopped and the *TransportError that ended the session
// otherwise.
func (s *Server) Serve(exec Executor) error {
	for {
		cmd, err := s.GetCommand()
		if err != nil {
			var ferr *FramingError
			var gerr *GrammarError
			switch {
			case errors.As(err, &ferr):
				if logflags.Server() {
					s.log.Debugf("dropped packet from %s: %v", s.conn.peer, err)
				}
				continue
			case errors.As(err, &gerr):
				if !IsUnsupported(err) {
					s.log.Warnf("%v", err)
				} else {
					s.log.Debugf("%v", err)
				}
				continue
			}
			return s.sessionEnd(err)
		}
		if cmd.Handled() {
			continue
		}

		res, err := exec.Execute(cmd)
		if err != nil {
			s.log.WithError(err).Debugf("%s failed", cmd.Kind)
			if err := s.PutError(err); err != nil {
				return s.sessionEnd(err)
			}
			continue
		}
		if err := s.PutReply(cmd, res); err != nil {
			var eerr *EncodingError
			if !errors.As(err, &eerr) {
				return s.sessionEnd(err)
			}
			s.log.Errorf("%v", err)
			if err := s.PutError(err); err != nil {
				return s.sessionEnd(err)
			}
		}
	}
}

// sessionEnd filters the errors caused by a client disconnecting or by a
// call to Stop.
func (s *Server) sessionEnd(err error) error {
	if s.stopped.Load() {
		return nil
	}
	if errors.Is(err, io.EOF) {
		s.log.Infof("client %s disconnected", s.conn.peer)
		return nil
	}
	return err
}
