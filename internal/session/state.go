package session

// State is the lifecycle tag of a Session.
type State int32

const (
	Pending State = iota
	Handshaking
	Relaying
	Closed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Handshaking:
		return "Handshaking"
	case Relaying:
		return "Relaying"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
