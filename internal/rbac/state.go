package rbac

// State is the outcome of an access check.
type State int

// Access gate states.
const (
	StateInitial State = iota
	StateChecking
	StateAllowed
	StateDenied
	StateUnauthenticated
)

var stateNames = map[State]string{
	StateInitial:         "initial",
	StateChecking:        "checking",
	StateAllowed:         "allowed",
	StateDenied:          "denied",
	StateUnauthenticated: "unauthenticated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Settled reports whether s ends an evaluation.
func (s State) Settled() bool {
	return s == StateAllowed || s == StateDenied || s == StateUnauthenticated
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
