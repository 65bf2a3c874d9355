// Package queue implements the priority request queue of spec §4.7: a
// single ordered structure keyed by (priority_rank DESC, enqueued_at
// ASC), back-pressure on overflow, and Little's-law wait estimation.
//
// Grounded on the teacher's orchestration/redis_task_queue.go for the
// retry-with-backoff and circuit-breaker-wrapped call idiom, though the
// storage structure itself differs: the teacher's queue is a plain FIFO
// list (LPUSH/BRPOP) while this queue needs priority ordering, so the
// Redis-backed variant uses a sorted set instead.
package queue

import (
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// Entry is a QueueEntry (spec §3 QueueEntry).
type Entry struct {
	EntryID               string             `json:"entry_id"`
	RequestID             string             `json:"request_id"`
	Priority              core.Priority      `json:"priority"`
	Complexity            string             `json:"complexity"`
	RequiredSkills        []string           `json:"required_skills,omitempty"`
	FrustrationLevel      core.FrustrationLevel `json:"frustration_level"`
	EnqueuedAt            time.Time          `json:"enqueued_at"`
	MaxWaitSeconds        int                `json:"max_wait_seconds"`
	Position              int                `json:"position"`
	EstimatedAssignmentAt time.Time          `json:"estimated_assignment_at"`
	AssignedAgentID       string             `json:"assigned_agent_id,omitempty"`
	Status                core.QueueEntryState `json:"status"`
}

// ThroughputSample is one historical service-time observation, bucketed
// by priority, feeding the Little's-law wait estimator.
type ThroughputSample struct {
	Priority        core.Priority
	ServiceDuration time.Duration
}

// Queue is the request-queue contract (spec §4.7.1).
type Queue interface {
	Enqueue(entry Entry) (Entry, error)
	Cancel(entryID string) error
	ReassessPositions() error
	PeekForAgent(matches func(Entry) (score float64, ok bool)) (*Entry, error)
	Assign(entryID, agentID string) error
	Transition(entryID string, state core.QueueEntryState) error
	Len() (int, error)
	LenByPriority() (map[core.Priority]int, error)
	RecordServiceTime(priority core.Priority, d time.Duration)
}
