package lattice

// Well-known fragment kinds. Kind is a free-form tag; these are the ones the
// routing policy recognizes.
const (
	KindBriefChunk = "brief_chunk"
	KindWorkSpec   = "work_spec"
	KindResearch   = "research"
	KindConcept    = "concept"
	KindLayout     = "layout"
	KindCritique   = "critique"
	KindCode       = "code"
	KindArtifact   = "artifact"
	KindApproved   = "approved"
	KindRework     = "rework"
	KindEnrichment = "enrichment"
	KindChallenge  = "challenge"
	KindOutput     = "output"
)

// Well-known fragment tag keys.
const (
	TagFromDomain      = "from_domain"
	TagFromAgent       = "from_agent"
	TagBroadcast       = "broadcast"
	TagRework          = "rework"
	TagReviewRequested = "review_requested"
	TagEscalatedFrom   = "escalated_from"
)

func reviewableKind(kind string) bool {
	switch kind {
	case KindLayout, KindConcept, KindCode, KindArtifact:
		return true
	}
	return false
}

func feedbackKind(kind string) bool {
	switch kind {
	case KindCritique, KindEnrichment, KindRework:
		return true
	}
	return false
}
