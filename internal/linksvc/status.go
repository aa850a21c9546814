package linksvc

// StatusKind identifies a link lifecycle signal.
type StatusKind uint8

const (
	StatusConnected StatusKind = iota
	StatusRemoteEntered
	StatusRemoteExited
	StatusSessionLost
	StatusNoServerFound
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnected:
		return "connected"
	case StatusRemoteEntered:
		return "remote_entered"
	case StatusRemoteExited:
		return "remote_exited"
	case StatusSessionLost:
		return "session_lost"
	case StatusNoServerFound:
		return "no_server_found"
	}
	return "unknown"
}

// Status is a link lifecycle signal surfaced to the application.
type Status struct {
	Kind   StatusKind
	Peer   string
	Reason string
}

// StatusFunc receives lifecycle signals. It is called from service
// goroutines and must not block.
type StatusFunc func(Status)
