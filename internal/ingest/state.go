package ingest

import "encoding/json"

// State is the upstream connection lifecycle as seen by viewers.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session was shut down on purpose.
func (s State) Terminal() bool {
	return s == Closing || s == Closed
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
