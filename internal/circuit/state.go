package circuit

import "fmt"

// State is the control automaton state. Exactly one is active per tick.
type State uint8

const (
	Idle State = iota
	Fetch
	Compute
	WaitDivide
	Decide
)

var stateNames = [...]string{
	Idle:       "idle",
	Fetch:      "fetch",
	Compute:    "compute",
	WaitDivide: "wait_divide",
	Decide:     "decide",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText renders the state by name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("circuit: unknown state %q", b)
}
