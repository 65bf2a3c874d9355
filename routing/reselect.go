package routing

import (
	"time"

	"github.com/itsneelabh/hitl-orchestrator/directory"
	"github.com/itsneelabh/hitl-orchestrator/queue"
)

// MatchQueuedEntry builds the matches callback queue.Queue.PeekForAgent
// needs: the same §4.6 scoring restricted to one already-queued entry,
// used when an agent becomes available and the queue looks for its
// best-matching waiting request instead of waiting for a fresh
// Request to route.
func (s *Scorer) MatchQueuedEntry(agent directory.AgentSnapshot, now time.Time) func(queue.Entry) (float64, bool) {
	return func(entry queue.Entry) (float64, bool) {
		in := Input{
			RequestID:        entry.RequestID,
			RequiredSkills:   entry.RequiredSkills,
			Complexity:       entry.Complexity,
			Priority:         entry.Priority,
			FrustrationLevel: entry.FrustrationLevel,
		}
		if !eligible(agent, in, s.cfg, now) {
			return 0, false
		}
		weights := s.resolver.Resolve(entry.RequestID, entry.Priority)
		result := composite(agent, in, weights, now)
		return result.composite, true
	}
}

// AssignQueued claims agent for the queue entry peek_for_agent already
// selected and commits the assignment, or returns ErrClaimRejected if
// lost to a concurrent routing pass — the caller should fall back to
// peeking again with a fresh agent snapshot.
func (s *Scorer) AssignQueued(agent directory.AgentSnapshot, entryID, requestID string) error {
	token, err := s.directory.ClaimForAssignment(agent.AgentID)
	if err != nil {
		return err
	}
	if err := s.directory.CommitAssignment(token, requestID); err != nil {
		_ = s.directory.ReleaseAssignment(token)
		return err
	}
	if err := s.queue.Assign(entryID, agent.AgentID); err != nil {
		return err
	}
	return nil
}
