package pipeline

// State is a step of the run state machine
type State int

// Run states, in the order a successful run passes through them
const (
	StateIdle State = iota
	StateLoading
	StateDiscovering
	StateSelecting
	StateFetching
	StateClassifying
	StateCheckpointing
	StateFinalizing
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:          "idle",
	StateLoading:       "loading",
	StateDiscovering:   "discovering",
	StateSelecting:     "selecting",
	StateFetching:      "fetching",
	StateClassifying:   "classifying",
	StateCheckpointing: "checkpointing",
	StateFinalizing:    "finalizing",
	StateDone:          "done",
	StateFailed:        "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
