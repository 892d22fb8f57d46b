package gdbserial

// qSupportedReply lists the features advertised to the client.
const qSupportedReply = "PacketSize=3fff;multiprocess+;vContSupported+"

// queryDelims are the bytes that may follow the name of a query.
const queryDelims = ":;?"

// queryHandler answers the general query packets (q and Q). Queries are
// answered by the server itself, the Executor never sees them.
type queryHandler struct{}

func (queryHandler) parse(s *Server, payload []byte) (*Command, error) {
	return &Command{Kind: CmdServerInternal, Packet: string(payload)}, nil
}

func (queryHandler) encode(s *Server, cmd *Command, res *Result) ([]byte, bool, error) {
	if commandMatches([]byte(cmd.Packet), "qSupported", queryDelims) {
		return []byte(qSupportedReply), true, nil
	}
	// An empty reply tells the client the query is not supported.
	return []byte{}, true, nil
}
