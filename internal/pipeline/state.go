package pipeline

// State is a step of a pipeline run.
type State int

const (
	StateIdle State = iota
	StateDownloading
	StateProcessing
	StateParsing
	StateStoring
	StateDeduping
	StateNotifying
	StateDone
	StateError
)

var stateNames = [...]string{
	StateIdle:        "idle",
	StateDownloading: "downloading",
	StateProcessing:  "processing",
	StateParsing:     "parsing",
	StateStoring:     "storing",
	StateDeduping:    "deduping",
	StateNotifying:   "notifying",
	StateDone:        "done",
	StateError:       "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}
