package gdbserial

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a packet is exchanged before a
	// client was accepted.
	ErrNotConnected = errors.New("no client connected")
	// ErrTooManyAttempts is returned when the peer did not acknowledge a
	// packet within the configured number of transmissions.
	ErrTooManyAttempts = errors.New("too many transmit attempts")
	// ErrTooManyThreadIDs is returned when a continue command names more
	// thread ids than the server accepts.
	ErrTooManyThreadIDs = errors.New("too many thread ids")
	// ErrPayloadTooLarge is returned when an encoded reply would not fit in
	// a packet.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum packet size")
	// ErrNoEncoding is returned when a result has no wire representation.
	ErrNoEncoding = errors.New("no encoding for result")
	// ErrMissingResult is returned when the collaborator did not supply the
	// data an encoder needs.
	ErrMissingResult = errors.New("missing result data")
)

// TransportError is a failure of the underlying socket: creating, binding,
// accepting, reading, writing or closing it.
type TransportError struct {
	Op  string
	Err error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", err.Op, err.Err)
}

func (err *TransportError) Unwrap() error { return err.Err }

// FramingError is returned for a packet that could not be delimited or
// whose checksum is wrong. A negative acknowledgment has been sent and the
// client is expected to retransmit.
type FramingError struct {
	Reason string
	Frame  []byte
}

func (err *FramingError) Error() string {
	frame := string(err.Frame)
	if len(frame) > 20 {
		frame = frame[:20] + "..."
	}
	return fmt.Sprintf("framing error: %s (%q)", err.Reason, frame)
}

// GrammarError is returned for a packet that does not contain a supported
// command or whose arguments are malformed. An empty reply has already
// been sent to the client.
type GrammarError struct {
	Packet string
	Reason string
	Err    error
}

func (err *GrammarError) Error() string {
	cmd := err.Packet
	if len(cmd) > 20 {
		cmd = cmd[:20] + "..."
	}
	if err.Reason == "" {
		return fmt.Sprintf("unsupported packet %s", cmd)
	}
	if err.Err != nil {
		return fmt.Sprintf("malformed packet %s: %s: %v", cmd, err.Reason, err.Err)
	}
	return fmt.Sprintf("malformed packet %s: %s", cmd, err.Reason)
}

func (err *GrammarError) Unwrap() error { return err.Err }

// IsUnsupported returns true if err reports a command the server does not
// implement.
func IsUnsupported(err error) bool {
	var gerr *GrammarError
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Reason == ""
}

// EncodingError is returned when the reply to a command could not be
// encoded. Nothing was sent to the client.
type EncodingError struct {
	Kind CommandKind
	Err  error
}

func (err *EncodingError) Error() string {
	return fmt.Sprintf("could not encode reply to %s: %v", err.Kind, err.Err)
}

func (err *EncodingError) Unwrap() error { return err.Err }

// TargetError is returned by an Executor when the debuggee could not
// satisfy a command. Code is sent to the client as an Exx reply.
type TargetError struct {
	Code uint8
	Err  error
}

func (err *TargetError) Error() string {
	return fmt.Sprintf("target error %02x: %v", err.Code, err.Err)
}

func (err *TargetError) Unwrap() error { return err.Err }
