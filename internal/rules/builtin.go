package rules

// Role names used across the grid.
const (
	RoleMaster    = "master"
	RoleSub       = "sub"
	RoleCritique  = "critique"
	RoleResearch  = "research"
	RoleExecution = "execution"
)

// MasterTable builds the rule set for a domain master cell: decompose briefs,
// validate incoming artifacts, veto.
func MasterTable() *Table {
	t := &Table{Name: "master", Description: "Domain master: decompose briefs, validate, veto"}
	t.AddNote(StateIdle, SignalNewItem, ActionProcess, StateWorking, "decompose brief into work fragments")
	t.Add(StateWorking, SignalBatchComplete, ActionEmit, StateIdle)
	t.AddNote(StateWorking, SignalCritiqueNeeded, ActionCritique, StateCritiquing, "validate incoming artifact")
	t.Add(StateCritiquing, SignalIterationDone, ActionEmit, StateIdle)
	t.Add(StateCritiquing, SignalBatchComplete, ActionEmit, StateIdle)
	t.Add(StateIdle, SignalQueueEmpty, ActionWait, StateIdle)
	t.Add(StateIdle, SignalNeighborIdle, ActionWait, StateIdle)
	t.AddNote(StateWorking, SignalDeadlineNear, ActionEmit, StateIdle, "ship best available")
	t.AddNote(StateIdle, SignalStale, ActionGapAnalysis, StateWorking, "re-examine brief for missed angles")
	return t
}

// SubTable builds the rule set for a domain sub-agent cell. Strictness >= 0.85
// makes the cell critique neighbor output proactively instead of pulling work.
func SubTable(strictness float64) *Table {
	t := &Table{Name: "sub", Description: "Domain sub-agent"}
	t.Add(StateIdle, SignalNewItem, ActionProcess, StateWorking)
	t.Add(StateWorking, SignalBatchComplete, ActionEmit, StateIdle)
	if strictness >= 0.85 {
		t.AddNote(StateIdle, SignalNeighborIdle, ActionCritique, StateCritiquing, "proactively review neighbor output")
		t.Add(StateWorking, SignalCritiqueNeeded, ActionCritique, StateCritiquing)
	} else {
		t.Add(StateWorking, SignalCritiqueNeeded, ActionCritique, StateCritiquing)
		t.AddNote(StateIdle, SignalNeighborIdle, ActionPull, StateIdle, "pull work from neighbor if available")
	}
	t.Add(StateCritiquing, SignalIterationDone, ActionEmit, StateIdle)
	t.Add(StateCritiquing, SignalBatchComplete, ActionEmit, StateIdle)
	t.Add(StateIdle, SignalQueueEmpty, ActionWait, StateIdle)
	t.AddNote(StateWorking, SignalNeighborIdle, ActionSplitBatch, StateWorking, "share work with idle neighbor")
	t.Add(StateWorking, SignalDeadlineNear, ActionEmit, StateIdle)
	t.AddNote(StateBlocked, SignalNewItem, ActionProcess, StateWorking, "unblock on new input")
	t.AddNote(StateIdle, SignalStale, ActionGapAnalysis, StateWorking, "look for gaps in domain coverage")
	return t
}

// CritiqueTable builds the rule set for a critique cell.
func CritiqueTable() *Table {
	t := &Table{Name: "critique", Description: "Evaluate quality, coherence, and alignment with the brief"}
	t.Add(StateIdle, SignalNewItem, ActionCritique, StateCritiquing)
	t.Add(StateCritiquing, SignalBatchComplete, ActionEmit, StateIdle)
	t.AddNote(StateCritiquing, SignalDeadlineNear, ActionEmit, StateIdle, "good enough")
	t.Add(StateIdle, SignalQueueEmpty, ActionWait, StateIdle)
	t.AddNote(StateIdle, SignalStale, ActionChallenge, StateCritiquing, "challenge neighbors when idle too long")
	return t
}

// ResearchTable builds the rule set for a research cell.
func ResearchTable() *Table {
	t := &Table{Name: "research", Description: "Gather references and context for active work"}
	t.Add(StateIdle, SignalNewItem, ActionProcess, StateWorking)
	t.Add(StateWorking, SignalBatchComplete, ActionEmit, StateIdle)
	t.Add(StateWorking, SignalQueueFull, ActionEmit, StateWaiting)
	t.Add(StateWaiting, SignalNeighborIdle, ActionEmit, StateIdle)
	t.Add(StateIdle, SignalQueueEmpty, ActionWait, StateIdle)
	t.AddNote(StateWorking, SignalDeadlineNear, ActionEmit, StateIdle, "ship what you have")
	t.AddNote(StateIdle, SignalStale, ActionGapAnalysis, StateWorking, "find gaps while neighbors are active")
	return t
}

// ExecutionTable builds the rule set for execution cells (coder, tester, runner).
func ExecutionTable() *Table {
	t := &Table{Name: "execution", Description: "Build and test artifacts from specifications"}
	t.Add(StateIdle, SignalNewItem, ActionProcess, StateWorking)
	t.Add(StateWorking, SignalBatchComplete, ActionEmit, StateIdle)
	t.AddNote(StateWorking, SignalCritiqueNeeded, ActionEscalate, StateWaiting, "send to critique neighbor")
	t.AddNote(StateWaiting, SignalIterationDone, ActionProcess, StateWorking, "revise from critique feedback")
	t.Add(StateIdle, SignalQueueEmpty, ActionPull, StateIdle)
	t.Add(StateWorking, SignalNeighborIdle, ActionSplitBatch, StateWorking)
	t.Add(StateWorking, SignalDeadlineNear, ActionEmit, StateIdle)
	t.AddNote(StateIdle, SignalStale, ActionPull, StateIdle, "pull work from busy neighbors")
	return t
}

// ForRole returns the built-in rule table for a role. Unknown roles get the
// sub-agent table, matching how partially configured grids are seeded.
func ForRole(role string, strictness float64) *Table {
	switch role {
	case RoleMaster:
		return MasterTable()
	case RoleCritique:
		return CritiqueTable()
	case RoleResearch:
		return ResearchTable()
	case RoleExecution:
		return ExecutionTable()
	default:
		return SubTable(strictness)
	}
}
