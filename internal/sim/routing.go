package sim

import (
	"fmt"

	"github.com/metalagman/gridca/internal/lattice"
	"github.com/metalagman/gridca/internal/rules"
)

// AgentTypeConsultant marks sub cells that review execution artifacts for
// their domain.
const AgentTypeConsultant = "consultant"

// propagateOutput schedules delivery of a cell's fresh output: to adjacent
// neighbors passing the kind allow-list, then via long-range broadcast to
// roles that adjacency alone cannot reach, and finally through the rework loop
// when a critique fails.
func (s *Scheduler) propagateOutput(cell *lattice.Cell, content lattice.Payload, kind string, tickNum int) {
	base := lattice.Fragment{
		ID:          fmt.Sprintf("t%d-%s-%s", tickNum, cell.Pos, kind),
		Kind:        kind,
		Content:     content,
		Source:      cell.Pos,
		HasSource:   true,
		CostOfDelay: 1.0,
		JobSize:     1.0,
		Tags: map[string]string{
			lattice.TagFromDomain: cell.Domain,
			lattice.TagFromAgent:  cell.AgentType,
		},
	}

	scheduled := make(map[lattice.Pos]bool)
	for _, npos := range s.grid.NeighborPositions(cell.Pos) {
		neighbor := s.grid.Get(npos)
		if neighbor == nil || npos == cell.Pos {
			continue
		}
		if !shouldReceive(neighbor, kind, cell) {
			continue
		}
		s.grid.SchedulePropagation(npos, base.WithID(fmt.Sprintf("%s->%s", base.ID, npos)))
		scheduled[npos] = true
	}

	// Knowledge produced anywhere must reach execution cells even when they
	// are distant on the grid.
	if broadcastToExecution(kind, cell.Role) {
		for _, target := range s.grid.CellsByRole(rules.RoleExecution) {
			if scheduled[target.Pos] || target.Pos == cell.Pos {
				continue
			}
			f := base.WithID(fmt.Sprintf("%s->exec-%s", base.ID, target.Pos))
			f.Tags[lattice.TagBroadcast] = "true"
			s.grid.SchedulePropagation(target.Pos, f)
		}
	}

	// Execution artifacts fan out to domain consultants for review.
	if (kind == lattice.KindArtifact || kind == lattice.KindCode) && cell.Role == rules.RoleExecution {
		for _, target := range s.grid.CellsByRole(rules.RoleSub) {
			if target.AgentType != AgentTypeConsultant {
				continue
			}
			if scheduled[target.Pos] || target.Pos == cell.Pos {
				continue
			}
			f := base.WithID(fmt.Sprintf("%s->consult-%s", base.ID, target.Pos))
			f.Tags[lattice.TagReviewRequested] = "true"
			s.grid.SchedulePropagation(target.Pos, f)
		}
	}

	if kind == lattice.KindCritique {
		verdict := payloadVerdict(content)
		score, hasScore := payloadScore(content)
		if verdict == "fail" || verdict == "iterate" || (hasScore && score < s.cfg.QualityBar) {
			s.propagateRework(cell, content, tickNum)
		}
	}
}

// shouldReceive is the neighbor-delivery allow-list: which fragment kinds each
// role accepts from an adjacent producer.
func shouldReceive(neighbor *lattice.Cell, kind string, source *lattice.Cell) bool {
	switch neighbor.Role {
	case rules.RoleMaster:
		switch kind {
		case lattice.KindCritique, lattice.KindArtifact, lattice.KindCode, lattice.KindRework, lattice.KindChallenge:
			return true
		}
	case rules.RoleCritique:
		switch kind {
		case lattice.KindArtifact, lattice.KindLayout, lattice.KindConcept, lattice.KindCode, lattice.KindWorkSpec, lattice.KindOutput:
			return true
		}
	case rules.RoleSub:
		switch kind {
		case lattice.KindWorkSpec, lattice.KindResearch, lattice.KindBriefChunk, lattice.KindChallenge:
			return true
		}
		if neighbor.AgentType == AgentTypeConsultant && (kind == lattice.KindArtifact || kind == lattice.KindCode) {
			return true
		}
	case rules.RoleResearch:
		switch kind {
		case lattice.KindBriefChunk, lattice.KindWorkSpec, lattice.KindChallenge:
			return true
		}
	case rules.RoleExecution:
		switch kind {
		case lattice.KindConcept, lattice.KindLayout, lattice.KindWorkSpec, lattice.KindCritique,
			lattice.KindRework, lattice.KindEnrichment, lattice.KindResearch, lattice.KindChallenge:
			return true
		}
	}
	// Same-domain cells share knowledge kinds freely.
	if neighbor.Domain == source.Domain {
		switch kind {
		case lattice.KindConcept, lattice.KindLayout, lattice.KindResearch, lattice.KindEnrichment:
			return true
		}
	}
	return false
}

func broadcastToExecution(kind, role string) bool {
	switch kind {
	case lattice.KindWorkSpec, lattice.KindEnrichment, lattice.KindResearch, lattice.KindConcept:
	default:
		return false
	}
	switch role {
	case rules.RoleMaster, rules.RoleResearch, rules.RoleSub:
		return true
	}
	return false
}

// propagateRework routes failed-critique feedback back toward producing
// neighbors as a fresh fragment with iteration economics applied.
func (s *Scheduler) propagateRework(cell *lattice.Cell, critique lattice.Payload, tickNum int) {
	var targets []lattice.Pos
	for _, npos := range s.grid.NeighborPositions(cell.Pos) {
		neighbor := s.grid.Get(npos)
		if neighbor != nil && (neighbor.Role == rules.RoleMaster || neighbor.Role == rules.RoleExecution) {
			targets = append(targets, npos)
		}
	}
	if len(targets) == 0 {
		return
	}

	feedback, _ := critique["feedback"].(string)
	base := lattice.Fragment{
		ID:   fmt.Sprintf("rework-t%d-%s", tickNum, cell.Pos),
		Kind: lattice.KindRework,
		Content: lattice.Payload{
			"critique_from": fmt.Sprintf("%s/%s", cell.Domain, cell.AgentType),
			"score":         critique["score"],
			"verdict":       critique["verdict"],
			"feedback":      feedback,
		},
		Source:      cell.Pos,
		HasSource:   true,
		CostOfDelay: 1.2,
		JobSize:     0.7,
		Iteration:   1,
		Tags: map[string]string{
			lattice.TagFromDomain: cell.Domain,
			lattice.TagRework:     "true",
		},
	}
	for _, target := range targets {
		s.grid.SchedulePropagation(target, base.WithID(fmt.Sprintf("%s->%s", base.ID, target)))
	}
}

// splitToNeighbor sheds the lowest-priority inbox item to the first idle
// neighbor with capacity.
func (s *Scheduler) splitToNeighbor(cell *lattice.Cell) {
	if cell.InboxLen() <= 1 {
		return
	}
	for _, neighbor := range s.grid.Neighbors(cell.Pos) {
		if neighbor.State == rules.StateIdle && !neighbor.AtCapacity() {
			if item := cell.PopLowest(); item != nil {
				s.grid.SchedulePropagation(neighbor.Pos, *item)
			}
			return
		}
	}
}

// pullFromNeighbor takes the lowest-priority item from the most loaded
// neighbor holding more than one fragment.
func (s *Scheduler) pullFromNeighbor(cell *lattice.Cell) {
	var donor *lattice.Cell
	for _, neighbor := range s.grid.Neighbors(cell.Pos) {
		if neighbor.InboxLen() <= 1 {
			continue
		}
		if donor == nil || neighbor.InboxLen() > donor.InboxLen() {
			donor = neighbor
		}
	}
	if donor == nil {
		return
	}
	if item := donor.PopLowest(); item != nil {
		if !cell.Receive(*item) {
			// No capacity after all; hand it back rather than lose it.
			donor.Receive(*item)
		}
	}
}

// escalateToNeighbor forwards the top work item to the first critique or
// master neighbor with capacity, with iteration economics applied.
func (s *Scheduler) escalateToNeighbor(cell *lattice.Cell, tickNum int) {
	if !cell.HasWork() {
		return
	}
	var target *lattice.Cell
	for _, neighbor := range s.grid.Neighbors(cell.Pos) {
		if (neighbor.Role == rules.RoleCritique || neighbor.Role == rules.RoleMaster) && !neighbor.AtCapacity() {
			target = neighbor
			break
		}
	}
	if target == nil {
		return
	}
	work := cell.Pop()
	escalated := work.Derive(fmt.Sprintf("%s-escalate-t%d", work.ID, tickNum), "", cell.Pos)
	if escalated.Tags == nil {
		escalated.Tags = make(map[string]string)
	}
	escalated.Tags[lattice.TagEscalatedFrom] = fmt.Sprintf("%s/%s", cell.Domain, cell.AgentType)
	s.grid.SchedulePropagation(target.Pos, escalated)
}
