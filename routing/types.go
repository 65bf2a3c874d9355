// Package routing implements the RoutingScorer (spec §4.6): the densest
// subsystem, selecting one human agent from the directory for a Request
// flagged for human handling, or enqueueing it if none qualifies.
package routing

import (
	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
)

// Input is everything the scorer needs about the Request being routed
// (spec §4.6.1), derived by the pipeline from context_bundle.for_routing
// and the upstream assessments before RoutingScorer.Select is called.
type Input struct {
	RequestID        string
	RequiredSkills   []string
	Complexity       string        // low | medium | high
	Priority         core.Priority // low | medium | high | critical
	FrustrationLevel core.FrustrationLevel
	NonEnglish       bool
	RequiredLanguage string
	VIP              bool
	CustomerTimezone string
}

// Decision is the outcome of a routing pass.
type Decision struct {
	AssignedAgentID string
	Strategy        string // "assigned" | "wellbeing_protection" | "queued" | "failed"
	MatchScore      float64
	Confidence      float64
	FallbackRank    []string
	DegradedRouting bool
	RoutingTimeout  bool
}

// scored pairs an agent snapshot with its composite score and category
// breakdown, used internally by selection and the queue's peek_for_agent.
type scored struct {
	agent      directory.AgentSnapshot
	composite  float64
	skillMatch float64
	availability float64
}
