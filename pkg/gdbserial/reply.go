package gdbserial

import (
	"errors"
	"fmt"
)

// encodeStop returns the stop reply packet for stop.
func encodeStop(stop *StopInfo) ([]byte, error) {
	switch stop.Reason {
	case StopSignal:
		return []byte(fmt.Sprintf("S%02x", stop.Signal)), nil
	case StopExited:
		return []byte(fmt.Sprintf("W%02x", stop.Status)), nil
	case StopTerminated:
		return []byte(fmt.Sprintf("X%02x", stop.Signal)), nil
	}
	return nil, ErrNoEncoding
}

// encodeError returns the Exx reply for err.
func encodeError(err error) []byte {
	code := uint8(1)
	var terr *TargetError
	if errors.As(err, &terr) && terr.Code != 0 {
		code = terr.Code
	}
	return []byte(fmt.Sprintf("E%02x", code))
}

func (stopReasonHandler) encode(s *Server, cmd *Command, res *Result) ([]byte, bool, error) {
	if res == nil || res.Stop == nil {
		return nil, false, ErrMissingResult
	}
	reply, err := encodeStop(res.Stop)
	if err != nil {
		return nil, false, err
	}
	return reply, true, nil
}

// encode sends a stop reply if the continue ended with a stop event.
func (continueHandler) encode(s *Server, cmd *Command, res *Result) ([]byte, bool, error) {
	if res == nil || res.Stop == nil {
		return nil, false, nil
	}
	reply, err := encodeStop(res.Stop)
	if err != nil {
		return nil, false, err
	}
	return reply, true, nil
}

func (regReadHandler) encode(s *Server, cmd *Command, res *Result) ([]byte, bool, error) {
	if res == nil || res.Registers == nil {
		return nil, false, ErrMissingResult
	}
	fields := res.Registers.fields(s.arch)
	reply := make([]byte, 0, 2*s.arch.PtrSize*len(fields))
	for _, v := range fields {
		reply = s.arch.appendRegister(reply, v)
	}
	return reply, true, nil
}

func (memReadHandler) encode(s *Server, cmd *Command, res *Result) ([]byte, bool, error) {
	if res == nil {
		return nil, false, ErrMissingResult
	}
	reply := hexify(MaxPacketSize, res.Memory)
	if reply == nil {
		return nil, false, ErrPayloadTooLarge
	}
	return reply, true, nil
}
