package routing

import (
	"errors"
	"sort"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
	"github.com/itsneelabh/hitl-orchestrator/queue"
)

// Scorer is the RoutingScorer (spec §4.6): it selects one human agent
// for a Request flagged for human handling, or enqueues the Request.
type Scorer struct {
	directory directory.Directory
	queue     queue.Queue
	resolver  *WeightTableResolver
	cfg       core.ThresholdsConfig
	fallbackK int
	logger    core.Logger
}

// NewScorer builds a Scorer. fallbackK is the number of runner-up agent
// IDs recorded as fallback_rank (spec §4.6.5 step 5, default 3).
func NewScorer(dir directory.Directory, q queue.Queue, resolver *WeightTableResolver, cfg core.ThresholdsConfig, fallbackK int, logger core.Logger) *Scorer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if fallbackK <= 0 {
		fallbackK = 3
	}
	return &Scorer{directory: dir, queue: q, resolver: resolver, cfg: cfg, fallbackK: fallbackK, logger: logger}
}

// Select runs one routing pass for in, returning a Decision. entry is
// the QueueEntry to enqueue when no agent is assigned.
func (s *Scorer) Select(in Input, entry queue.Entry, now time.Time) (Decision, error) {
	snapshot, err := s.directory.SnapshotAll()
	if err != nil {
		s.logger.Warn("directory snapshot unavailable, enqueueing degraded", map[string]interface{}{
			"request_id": in.RequestID, "error": err.Error(),
		})
		return s.enqueue(entry, true, false, in)
	}

	weights := s.resolver.Resolve(in.RequestID, in.Priority)

	decision, err := s.selectWithReselect(snapshot, in, weights, entry, now, s.cfg.RReselect)
	if err == nil {
		return decision, nil
	}

	if in.Priority == core.PriorityCritical {
		if _, qErr := s.queue.Len(); qErr != nil {
			return Decision{Strategy: "failed"}, core.NewOrchestratorError("routing.Select", "routing", core.ErrQueueUnavailable)
		}
	}
	return s.enqueue(entry, false, false, in)
}

func (s *Scorer) selectWithReselect(snapshot []directory.AgentSnapshot, in Input, weights core.CategoryWeights, entry queue.Entry, now time.Time, attemptsLeft int) (Decision, error) {
	eligibleAgents := filterEligible(snapshot, in, s.cfg, now)
	if len(eligibleAgents) == 0 {
		return Decision{}, core.ErrAgentNotFound
	}
	wellbeingProtected := anyExcludedByWellbeing(snapshot, in, s.cfg, now)

	ranked := rank(eligibleAgents, in, weights, now)
	for i := range ranked {
		candidate := ranked[i]
		token, err := s.directory.ClaimForAssignment(candidate.agent.AgentID)
		if err != nil {
			if errors.Is(err, core.ErrClaimRejected) {
				continue // lost the race for this agent, try the next-ranked one
			}
			return Decision{}, err
		}

		if commitErr := s.directory.CommitAssignment(token, in.RequestID); commitErr != nil {
			_ = s.directory.ReleaseAssignment(token)
			continue
		}

		return s.decisionFor(ranked, i, wellbeingProtected), nil
	}

	if attemptsLeft <= 0 {
		return Decision{}, core.ErrContentionExhausted
	}
	fresh, err := s.directory.SnapshotAll()
	if err != nil {
		return Decision{}, err
	}
	return s.selectWithReselect(fresh, in, weights, entry, now, attemptsLeft-1)
}

func rank(agents []directory.AgentSnapshot, in Input, weights core.CategoryWeights, now time.Time) []scored {
	ranked := make([]scored, 0, len(agents))
	for _, agent := range agents {
		ranked = append(ranked, composite(agent, in, weights, now))
	}
	sort.Slice(ranked, func(i, j int) bool { return less(ranked[j], ranked[i]) })
	return ranked
}

// less reports whether a sorts before b under spec §4.6.5 step 4's
// tie-break: higher skill_match, then higher availability, then lower
// current_workload, then lexicographic agent_id.
func less(a, b scored) bool {
	if a.composite != b.composite {
		return a.composite < b.composite
	}
	if a.skillMatch != b.skillMatch {
		return a.skillMatch < b.skillMatch
	}
	if a.availability != b.availability {
		return a.availability < b.availability
	}
	if a.agent.CurrentWorkload != b.agent.CurrentWorkload {
		return a.agent.CurrentWorkload > b.agent.CurrentWorkload
	}
	return a.agent.AgentID > b.agent.AgentID
}

func (s *Scorer) decisionFor(ranked []scored, winnerIdx int, wellbeingProtected bool) Decision {
	winner := ranked[winnerIdx]
	confidence := 1.0
	if winnerIdx+1 < len(ranked) {
		confidence = winner.composite - ranked[winnerIdx+1].composite + 0.5
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0 {
		confidence = 0
	}

	fallback := make([]string, 0, s.fallbackK)
	for i := winnerIdx + 1; i < len(ranked) && len(fallback) < s.fallbackK; i++ {
		fallback = append(fallback, ranked[i].agent.AgentID)
	}

	strategy := "assigned"
	if wellbeingProtected {
		// spec §8 Scenario S4: the wellbeing hard filter removed a
		// stronger-skill agent from ranked, so this assignment is a
		// protective substitution rather than a plain best-match pick.
		strategy = "wellbeing_protection"
	}

	return Decision{
		AssignedAgentID: winner.agent.AgentID,
		Strategy:        strategy,
		MatchScore:      winner.composite,
		Confidence:      confidence,
		FallbackRank:    fallback,
	}
}

func (s *Scorer) enqueue(entry queue.Entry, degraded, timeout bool, in Input) (Decision, error) {
	return s.Enqueue(entry, degraded, timeout)
}

// Enqueue inserts entry into the queue directly, bypassing scoring —
// used for the degraded-directory, contention-exhausted, and
// routing-timeout paths of spec §4.6.7, and by the routing stage's
// timeout handler.
func (s *Scorer) Enqueue(entry queue.Entry, degraded, timeout bool) (Decision, error) {
	if _, err := s.queue.Enqueue(entry); err != nil {
		if errors.Is(err, core.ErrQueueFull) {
			return Decision{Strategy: "queued", DegradedRouting: degraded, RoutingTimeout: timeout}, err
		}
		if entry.Priority == core.PriorityCritical {
			return Decision{Strategy: "failed"}, core.NewOrchestratorError("routing.enqueue", "routing", core.ErrQueueUnavailable)
		}
		return Decision{}, err
	}
	return Decision{Strategy: "queued", DegradedRouting: degraded, RoutingTimeout: timeout}, nil
}
