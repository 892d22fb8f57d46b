package gdbserial

import (
	"bytes"
	"fmt"
)

// Command prefixes.
const (
	prefixMulti    = 'v'
	prefixQuery    = 'q'
	prefixQuerySet = 'Q'
)

// parse classifies payload and decodes its arguments.
// The Remote Serial Protocol is described at:
//
//	https://sourceware.org/gdb/onlinedocs/gdb/Packets.html
func (s *Server) parse(payload []byte) (*Command, error) {
	if len(payload) == 0 {
		return nil, &GrammarError{}
	}
	kind := CmdUnsupported
	switch payload[0] {
	case prefixMulti:
		kind, _ = lookupMultiLetter(payload)
	case prefixQuery, prefixQuerySet:
		kind = CmdServerInternal
	case 'g':
		kind = CmdRegRead
	case 'm':
		kind = CmdMemRead
	case '?':
		kind = CmdQueryStopReason
	}
	h, ok := commandHandlers[kind]
	if !ok {
		return nil, &GrammarError{Packet: string(payload)}
	}
	return h.parse(s, payload)
}

func malformed(payload []byte, reason string, err error) error {
	return &GrammarError{Packet: string(payload), Reason: reason, Err: err}
}

type continueHandler struct{}

// parse decodes vCont:<action>(:<thread-id>)*
func (continueHandler) parse(s *Server, payload []byte) (*Command, error) {
	cur := payload[len("vCont"):]
	if len(cur) == 0 || cur[0] != ':' {
		return nil, malformed(payload, "expected ':' after vCont", nil)
	}
	cur = cur[1:]

	end := bytes.IndexByte(cur, ':')
	if end < 0 {
		end = len(cur)
	}
	action := cur[:end]
	if !validContinueAction(action) {
		return nil, malformed(payload, fmt.Sprintf("invalid action %q", action), nil)
	}
	cur = cur[end:]

	args := &ContinueArgs{Action: string(action)}
	for len(cur) > 0 && cur[0] == ':' {
		cur = cur[1:]
		tid, n, err := parseBEHexU32(cur)
		if err != nil {
			return nil, malformed(payload, "bad thread id", err)
		}
		if len(args.ThreadIDs) >= s.maxThreadIDs {
			return nil, malformed(payload, fmt.Sprintf("more than %d thread ids", s.maxThreadIDs), ErrTooManyThreadIDs)
		}
		args.ThreadIDs = append(args.ThreadIDs, tid)
		cur = cur[n:]
	}
	if len(cur) != 0 {
		return nil, malformed(payload, fmt.Sprintf("unexpected %q after thread ids", cur), nil)
	}
	return &Command{Kind: CmdContinue, Packet: string(payload), Continue: args}, nil
}

// validContinueAction accepts the vCont actions c, s, t, Csig and Ssig.
func validContinueAction(action []byte) bool {
	if len(action) == 0 {
		return false
	}
	switch action[0] {
	case 'c', 's', 't':
		return len(action) == 1
	case 'C', 'S':
		if len(action) != 3 {
			return false
		}
		_, n, err := parseBEHex(action[1:], 8)
		return err == nil && n == 2
	}
	return false
}

type memReadHandler struct{}

// parse decodes m<addr>,<length>
func (memReadHandler) parse(s *Server, payload []byte) (*Command, error) {
	cur := payload[1:]
	addr, n, err := parseBEHex(cur, 64)
	if err != nil {
		return nil, malformed(payload, "bad address", err)
	}
	cur = cur[n:]
	if len(cur) == 0 || cur[0] != ',' {
		return nil, malformed(payload, "expected ',' after address", nil)
	}
	cur = cur[1:]
	length, n, err := parseBEHex(cur, 64)
	if err != nil {
		return nil, malformed(payload, "bad length", err)
	}
	if n != len(cur) {
		return nil, malformed(payload, fmt.Sprintf("unexpected %q after length", cur[n:]), nil)
	}
	return &Command{Kind: CmdMemRead, Packet: string(payload), MemRead: &MemReadArgs{Addr: addr, Length: length}}, nil
}

type regReadHandler struct{}

func (regReadHandler) parse(s *Server, payload []byte) (*Command, error) {
	return &Command{Kind: CmdRegRead, Packet: string(payload)}, nil
}

type stopReasonHandler struct{}

func (stopReasonHandler) parse(s *Server, payload []byte) (*Command, error) {
	return &Command{Kind: CmdQueryStopReason, Packet: string(payload)}, nil
}
