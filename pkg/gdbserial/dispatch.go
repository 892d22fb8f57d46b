package gdbserial

// commandHandler decodes the arguments of one kind of command and encodes
// its reply.
type commandHandler interface {
	// parse decodes payload, which is already known to name the command.
	parse(s *Server, payload []byte) (*Command, error)
	// encode returns the reply payload for cmd. If send is false the
	// command has no reply.
	encode(s *Server, cmd *Command, res *Result) (reply []byte, send bool, err error)
}

// commandEntry associates a multi-letter command name with its kind.
type commandEntry struct {
	kind CommandKind
	name string
}

// multiLetterDelims are the bytes that may follow the name of a
// multi-letter command.
const multiLetterDelims = ":;?"

// multiLetterCommands lists the commands selected by name after the 'v'
// prefix.
var multiLetterCommands = []commandEntry{
	{CmdContinue, "vCont"},
}

var commandHandlers = map[CommandKind]commandHandler{
	CmdContinue:        continueHandler{},
	CmdRegRead:         regReadHandler{},
	CmdMemRead:         memReadHandler{},
	CmdQueryStopReason: stopReasonHandler{},
	CmdServerInternal:  queryHandler{},
}

// lookupMultiLetter returns the kind of the multi-letter command payload
// starts with.
func lookupMultiLetter(payload []byte) (CommandKind, bool) {
	for _, entry := range multiLetterCommands {
		if commandMatches(payload, entry.name, multiLetterDelims) {
			return entry.kind, true
		}
	}
	return CmdUnsupported, false
}
