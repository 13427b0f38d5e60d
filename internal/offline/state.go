package offline

import "errors"

// State is a position in the worker lifecycle
type State int32

const (
	StateUnregistered State = iota
	StateInstalling
	StateWaiting
	StateActivating
	StateActive
	StateRedundant
)

var stateNames = [...]string{
	StateUnregistered: "UNREGISTERED",
	StateInstalling:   "INSTALLING",
	StateWaiting:      "WAITING",
	StateActivating:   "ACTIVATING",
	StateActive:       "ACTIVE",
	StateRedundant:    "REDUNDANT",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText lets State appear by name in JSON status documents
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrBadState is returned when an event arrives in a state that cannot
	// handle it
	ErrBadState = errors.New("offline: invalid lifecycle state")
	// ErrNoFallback is returned when the network failed and nothing cached
	// can stand in for the response
	ErrNoFallback = errors.New("offline: network failed and no cached fallback")
	// ErrUnknownNotification is returned for clicks on notifications that
	// are not active
	ErrUnknownNotification = errors.New("offline: unknown notification")
	// ErrUnknownMessage is returned for message types the worker ignores
	ErrUnknownMessage = errors.New("offline: unknown message type")
)

// transitions lists the legal moves of the lifecycle. Any state may be
// retired.
var transitions = map[State][]State{
	StateUnregistered: {StateInstalling},
	StateInstalling:   {StateWaiting, StateUnregistered},
	StateWaiting:      {StateActivating},
	StateActivating:   {StateActive},
}

func canMove(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
