// Package pipeline orchestrates the ingestion run as an explicit state
// machine: extraction, normalization, deduplication and load execute in
// sequence, each with its own retry policy, and a failure in any stage
// moves the run to the failed state without discarding raw artifacts.
package pipeline

// State is a pipeline run state.
type State string

// Pipeline run states. A run moves forward through the stage states in
// order and terminates in StateDone or StateFailed.
const (
	StateExtracting    State = "extracting"
	StateNormalizing   State = "normalizing"
	StateDeduplicating State = "deduplicating"
	StateLoading       State = "loading"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// transitions is the set of legal forward edges. StateFailed is reachable
// from every non-terminal state and is therefore not listed per-state.
var transitions = map[State]State{
	StateExtracting:    StateNormalizing,
	StateNormalizing:   StateDeduplicating,
	StateDeduplicating: StateLoading,
	StateLoading:       StateDone,
}

// Next returns the state following s on the success path, or StateFailed
// if s is terminal.
func (s State) Next() State {
	if next, ok := transitions[s]; ok {
		return next
	}
	return StateFailed
}

// Terminal reports whether s ends the run.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Stage names the unit of work behind each non-terminal state. Stages key
// retry policies and metric labels.
type Stage string

const (
	StageExtract Stage = "extract"
	StageNormal  Stage = "normalize"
	StageDedup   Stage = "dedup"
	StageLoad    Stage = "load"
)
