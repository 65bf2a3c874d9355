package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/queue"
	"github.com/itsneelabh/hitl-orchestrator/request"
	"github.com/itsneelabh/hitl-orchestrator/routing"
)

// RoutingStage is the sixth pipeline stage: the adapter between a
// Request and the RoutingScorer (package routing), deriving the
// scorer's Input from the upstream stage outputs (spec §4.6.1) and
// folding the resulting Decision back into req.RoutingDecision.
type RoutingStage struct {
	scorer *routing.Scorer
	logger core.Logger
}

// NewRoutingStage builds a RoutingStage over an already-constructed scorer.
func NewRoutingStage(scorer *routing.Scorer, logger core.Logger) *RoutingStage {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RoutingStage{scorer: scorer, logger: logger}
}

// Run sets req.RoutingDecision. The caller must hold Acquire("routing_scorer").
// A timeout (spec §5, default 2s) enqueues the request with the
// routing_timeout flag rather than blocking the pipeline indefinitely.
func (rs *RoutingStage) Run(ctx context.Context, req *request.Request, now time.Time) {
	in := deriveInput(req)
	entry := deriveEntry(req, in, now)

	type outcome struct {
		decision routing.Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		decision, err := rs.scorer.Select(in, entry, now)
		done <- outcome{decision, err}
	}()

	deadlineCtx, cancel := context.WithTimeout(ctx, core.DeadlineRoutingScoring)
	defer cancel()

	var decision routing.Decision
	select {
	case o := <-done:
		decision = o.decision
		if o.err != nil {
			rs.logger.Warn("routing pass failed", map[string]interface{}{"request_id": req.RequestID, "error": o.err.Error()})
		}
	case <-deadlineCtx.Done():
		rs.logger.Warn("routing pass timed out, enqueueing", map[string]interface{}{"request_id": req.RequestID})
		if _, enqueueErr := rs.scorer.Enqueue(entry, false, true); enqueueErr != nil {
			rs.logger.Warn("timeout enqueue failed", map[string]interface{}{"request_id": req.RequestID, "error": enqueueErr.Error()})
		}
		decision = routing.Decision{Strategy: "queued", RoutingTimeout: true}
	}

	req.RoutingDecision = &request.RoutingDecision{
		AssignedAgentID: decision.AssignedAgentID,
		Strategy:        decision.Strategy,
		RequiredSkills:  in.RequiredSkills,
		Priority:        string(in.Priority),
		Complexity:      in.Complexity,
		MatchScore:      decision.MatchScore,
		Confidence:      decision.Confidence,
		FallbackRank:    decision.FallbackRank,
		DegradedRouting: decision.DegradedRouting,
		RoutingTimeout:  decision.RoutingTimeout,
	}
}

func deriveInput(req *request.Request) routing.Input {
	complexity := complexityFor(req)
	frustrationLevel := core.FrustrationLevel("LOW")
	if req.FrustrationAssessment != nil {
		frustrationLevel = core.FrustrationLevel(req.FrustrationAssessment.Level)
	}

	var requiredSkills []string
	if req.ContextBundle != nil && req.ContextBundle.Summaries.ForRouting != "" {
		requiredSkills = strings.Split(req.ContextBundle.Summaries.ForRouting, ",")
	}
	if req.AutomationResult != nil && req.AutomationResult.TaskID != "" {
		requiredSkills = append(requiredSkills, req.AutomationResult.TaskID)
	}

	return routing.Input{
		RequestID:        req.RequestID,
		RequiredSkills:   requiredSkills,
		Complexity:       complexity,
		Priority:         priorityFor(frustrationLevel, complexity),
		FrustrationLevel: frustrationLevel,
	}
}

func complexityFor(req *request.Request) string {
	if req.QualityAssessment != nil && req.QualityAssessment.Verdict == string(core.QualityHumanIntervention) {
		if req.QualityAssessment.Score < 4 {
			return "high"
		}
	}
	if req.ContextBundle != nil && len(req.ContextBundle.Sources) > 3 {
		return "high"
	}
	return "medium"
}

// priorityFor derives priority from frustration level and complexity
// (spec §4.6.1): CRITICAL frustration always escalates to critical
// priority; otherwise high-complexity-plus-frustrated requests get
// bumped a tier, and everything else maps directly off frustration.
func priorityFor(level core.FrustrationLevel, complexity string) core.Priority {
	switch level {
	case core.FrustrationCritical:
		return core.PriorityCritical
	case core.FrustrationHigh:
		if complexity == "high" {
			return core.PriorityCritical
		}
		return core.PriorityHigh
	case core.FrustrationModerate:
		if complexity == "high" {
			return core.PriorityHigh
		}
		return core.PriorityMedium
	default:
		return core.PriorityLow
	}
}

func deriveEntry(req *request.Request, in routing.Input, now time.Time) queue.Entry {
	return queue.Entry{
		RequestID:        req.RequestID,
		Priority:         in.Priority,
		Complexity:       in.Complexity,
		RequiredSkills:   in.RequiredSkills,
		FrustrationLevel: in.FrustrationLevel,
		EnqueuedAt:       now,
		Status:           core.QueueStateQueued,
	}
}
