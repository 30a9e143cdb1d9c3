package session

import "fmt"

// State is the lifecycle state of an UploadSession.
type State int

const (
	// StateOpen accepts chunks.
	StateOpen State = iota
	// StateCompleting is held while the manifest is being committed.
	StateCompleting
	// StateClosed means the object was committed.
	StateClosed
	// StateAborted means the transfer was discarded.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateCompleting:
		return "COMPLETING"
	case StateClosed:
		return "CLOSED"
	case StateAborted:
		return "ABORTED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Ended reports whether s is terminal.
func (s State) Ended() bool {
	return s == StateClosed || s == StateAborted
}
