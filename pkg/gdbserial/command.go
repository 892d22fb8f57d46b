package gdbserial

// CommandKind identifies what the client requested.
type CommandKind uint8

const (
	CmdUnsupported CommandKind = iota
	CmdContinue
	CmdRegRead
	CmdMemRead
	CmdQueryStopReason
	CmdServerInternal
)

func (k CommandKind) String() string {
	switch k {
	case CmdContinue:
		return "continue"
	case CmdRegRead:
		return "register read"
	case CmdMemRead:
		return "memory read"
	case CmdQueryStopReason:
		return "stop reason query"
	case CmdServerInternal:
		return "server query"
	default:
		return "unsupported"
	}
}

// Command is a decoded client request.
type Command struct {
	Kind CommandKind
	// Packet is the payload the command was decoded from.
	Packet string

	Continue *ContinueArgs // set for CmdContinue
	MemRead  *MemReadArgs  // set for CmdMemRead

	// handled is true when the reply was already sent while the packet was
	// being decoded (server queries).
	handled bool
}

// Handled returns true if the server already answered this command and no
// call to PutReply is needed.
func (cmd *Command) Handled() bool {
	return cmd.handled
}

// ContinueArgs are the arguments of a vCont command.
type ContinueArgs struct {
	// Action is the vCont action, for example "c" or "S05".
	Action string
	// ThreadIDs lists the threads the action applies to, in the order the
	// client sent them. An empty list means all threads.
	ThreadIDs []uint32
}

// MemReadArgs are the arguments of an 'm' command.
type MemReadArgs struct {
	Addr   uint64
	Length uint64
}

// StopReason describes why the debuggee stopped.
type StopReason uint8

const (
	StopUnknown StopReason = iota
	StopSignal             // the debuggee received a signal
	StopExited             // the debuggee exited normally
	StopTerminated         // the debuggee was terminated by a signal
)

func (r StopReason) String() string {
	switch r {
	case StopSignal:
		return "signal"
	case StopExited:
		return "exited"
	case StopTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// StopInfo is the last stop event of the debuggee.
type StopInfo struct {
	Reason StopReason
	Signal uint8 // for StopSignal and StopTerminated
	Status uint8 // exit status, for StopExited
}

// Result is filled by the Executor between parsing a command and encoding
// its reply. Only the field relevant to the command kind is read.
type Result struct {
	Registers *Registers // CmdRegRead
	Memory    []byte     // CmdMemRead
	Stop      *StopInfo  // CmdQueryStopReason, optionally CmdContinue
}

// Executor is the debuggee-control engine. Execute is called once for
// every command that was not already answered by the server.
// Errors of type *TargetError are reported to the client with their code.
type Executor interface {
	Execute(cmd *Command) (*Result, error)
}
