package relay

// Kind tags an Event. The set is closed: two data kinds and two close kinds.
type Kind uint8

const (
	ClientData Kind = iota + 1
	ServerData
	ClientClose
	ServerClose
)

func (k Kind) String() string {
	switch k {
	case ClientData:
		return "ClientData"
	case ServerData:
		return "ServerData"
	case ClientClose:
		return "ClientClose"
	case ServerClose:
		return "ServerClose"
	default:
		return "Unknown"
	}
}

// IsClose reports whether k ends the relay.
func (k Kind) IsClose() bool {
	return k == ClientClose || k == ServerClose
}

// Event is what a reader publishes to the consumer loop.
// Data is only set for the data kinds and is owned by the consumer.
type Event struct {
	Kind Kind
	Data []byte
}
