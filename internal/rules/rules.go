// Package rules defines the local rule system driving agent cells: a cell in
// some state receives a signal and a rule table decides the action to take and
// the state to transition into. Rules are data, not code; swapping a table
// changes cell behavior without touching the scheduler.
package rules

// State is an agent cell's behavioral state.
type State string

const (
	StateIdle       State = "idle"
	StateWorking    State = "working"
	StateWaiting    State = "waiting"
	StateCritiquing State = "critiquing"
	StateBlocked    State = "blocked"
)

// AllStates lists every cell state, in a stable order.
var AllStates = []State{StateIdle, StateWorking, StateWaiting, StateCritiquing, StateBlocked}

// Signal is what a cell perceives from its own inbox and its neighborhood.
type Signal string

const (
	SignalNewItem              Signal = "new_item"
	SignalQueueFull            Signal = "queue_full"
	SignalQueueEmpty           Signal = "queue_empty"
	SignalCritiqueNeeded       Signal = "critique_needed"
	SignalIterationDone        Signal = "iteration_done"
	SignalBatchComplete        Signal = "batch_complete"
	SignalNeighborIdle         Signal = "neighbor_idle"
	SignalDeadlineNear         Signal = "deadline_near"
	SignalInsufficientCoverage Signal = "insufficient_coverage"
	SignalStale                Signal = "stale"
)

// AllSignals lists every signal, in a stable order.
var AllSignals = []Signal{
	SignalNewItem, SignalQueueFull, SignalQueueEmpty, SignalCritiqueNeeded,
	SignalIterationDone, SignalBatchComplete, SignalNeighborIdle,
	SignalDeadlineNear, SignalInsufficientCoverage, SignalStale,
}

// Action is what a cell does when a rule fires.
type Action string

const (
	ActionProcess     Action = "process"
	ActionEmit        Action = "emit"
	ActionCritique    Action = "critique"
	ActionWait        Action = "wait"
	ActionPull        Action = "pull"
	ActionSplitBatch  Action = "split_batch"
	ActionEscalate    Action = "escalate"
	ActionSkip        Action = "skip"
	ActionPatch       Action = "patch"
	ActionChallenge   Action = "challenge"
	ActionGapAnalysis Action = "gap_analysis"
)

// AllActions lists every action, in a stable order.
var AllActions = []Action{
	ActionProcess, ActionEmit, ActionCritique, ActionWait, ActionPull,
	ActionSplitBatch, ActionEscalate, ActionSkip, ActionPatch,
	ActionChallenge, ActionGapAnalysis,
}

// Rule is a single (state, signal) -> (action, next state) entry.
// Note is a free-form annotation for humans; nothing branches on it.
type Rule struct {
	State  State  `json:"state"      yaml:"state"`
	Signal Signal `json:"signal"     yaml:"signal"`
	Action Action `json:"action"     yaml:"action"`
	Next   State  `json:"next_state" yaml:"next_state"`
	Note   string `json:"note,omitempty" yaml:"note,omitempty"`
}

// Table is a named, ordered rule set for one agent role.
type Table struct {
	Name        string `json:"name"        yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Rules       []Rule `json:"rules"       yaml:"rules"`
}

// Add appends a rule entry.
func (t *Table) Add(state State, signal Signal, action Action, next State) {
	t.Rules = append(t.Rules, Rule{State: state, Signal: signal, Action: action, Next: next})
}

// AddNote appends a rule entry with an annotation.
func (t *Table) AddNote(state State, signal Signal, action Action, next State, note string) {
	t.Rules = append(t.Rules, Rule{State: state, Signal: signal, Action: action, Next: next, Note: note})
}

// Lookup returns the first rule matching (state, signal), or nil. Duplicate
// (state, signal) pairs are a configuration defect; the first entry wins.
func (t *Table) Lookup(state State, signal Signal) *Rule {
	for i := range t.Rules {
		r := &t.Rules[i]
		if r.State == state && r.Signal == signal {
			return r
		}
	}
	return nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	cp := &Table{Name: t.Name, Description: t.Description}
	cp.Rules = make([]Rule, len(t.Rules))
	copy(cp.Rules, t.Rules)
	return cp
}
