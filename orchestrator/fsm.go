// Package orchestrator drives a run through its rounds of
// generate, filter, approve, execute and check until enough unique rows are
// collected or the round limit is reached.
//
// The loop is an explicit state machine. Next is a pure function of the
// current state and the signals gathered while in it; Controller performs
// the I/O for each state and feeds the results back into Next.
//
//	PLANNING   -> FILTERING   candidates were generated
//	PLANNING   -> CHECKING    no candidates (the round still counts)
//	FILTERING  -> APPROVING
//	APPROVING  -> EXECUTING   plan approved
//	APPROVING  -> FILTERING   refilter requested
//	APPROVING  -> PLANNING    regenerate requested (not a new round)
//	EXECUTING  -> CHECKING
//	CHECKING   -> DONE        count >= min items, or the last round finished
//	CHECKING   -> PLANNING    otherwise
package orchestrator

// State is a phase of a run.
type State int

const (
	StatePlanning State = iota
	StateFiltering
	StateApproving
	StateExecuting
	StateChecking
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "PLANNING"
	case StateFiltering:
		return "FILTERING"
	case StateApproving:
		return "APPROVING"
	case StateExecuting:
		return "EXECUTING"
	case StateChecking:
		return "CHECKING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Signals carries what the current state observed. Only the fields read by
// that state matter.
type Signals struct {
	// Candidates is the number of candidates generated (PLANNING).
	Candidates int

	// Refilter and Regenerate come from the review (APPROVING).
	Refilter   bool
	Regenerate bool

	// Count, MinItems, Round and MaxRounds decide termination (CHECKING).
	// Round is the number of completed rounds, 1-based.
	Count     int
	MinItems  int
	Round     int
	MaxRounds int
}

// Next returns the state following s.
func Next(s State, sig Signals) State {
	switch s {
	case StatePlanning:
		if sig.Candidates == 0 {
			return StateChecking
		}
		return StateFiltering
	case StateFiltering:
		return StateApproving
	case StateApproving:
		switch {
		case sig.Regenerate:
			return StatePlanning
		case sig.Refilter:
			return StateFiltering
		default:
			return StateExecuting
		}
	case StateExecuting:
		return StateChecking
	case StateChecking:
		if sig.Count >= sig.MinItems || sig.Round >= sig.MaxRounds {
			return StateDone
		}
		return StatePlanning
	default:
		return StateDone
	}
}
