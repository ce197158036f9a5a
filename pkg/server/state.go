package server

// State is the lifecycle phase of a Server.
type State int32

const (
	// StateInit is the state before the socket exists.
	StateInit State = iota

	// StateSocketCreated means the socket is bound but not listening.
	// Detaching happens in this state.
	StateSocketCreated

	// StateListening means the socket accepts connections into its backlog.
	StateListening

	// StateServing means the accept loop is running.
	StateServing

	// StateShuttingDown means no new connections are accepted and the
	// remaining workers are being drained.
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSocketCreated:
		return "SOCKET_CREATED"
	case StateListening:
		return "LISTENING"
	case StateServing:
		return "SERVING"
	case StateShuttingDown:
		return "SHUTTING_DOWN"
	default:
		return "UNKNOWN"
	}
}
