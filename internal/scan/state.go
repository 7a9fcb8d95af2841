package scan

// State is the lifecycle state of a scan. queued -> processing -> completed|failed.
// A queued scan may also fail directly when it cannot be started.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateQueued:     {StateProcessing, StateFailed},
	StateProcessing: {StateCompleted, StateFailed},
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sources returns every state from which to is reachable in one step.
func Sources(to State) []State {
	var out []State
	for from, targets := range transitions {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}
