package session

// State is the bot lifecycle state.
type State int

const (
	StateInit State = iota
	StateNavigating
	StateWaitingRoom
	StateJoinedEmpty
	StateRecording
	StateAloneGrace
	StateStopping
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateInit:        "INIT",
	StateNavigating:  "NAVIGATING",
	StateWaitingRoom: "WAITING_ROOM",
	StateJoinedEmpty: "JOINED_EMPTY",
	StateRecording:   "RECORDING",
	StateAloneGrace:  "ALONE_GRACE",
	StateStopping:    "STOPPING",
	StateDone:        "DONE",
	StateFailed:      "FAILED",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
