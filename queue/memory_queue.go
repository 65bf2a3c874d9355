package queue

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

const defaultServiceTime = 6 * time.Minute

// MemoryQueue is an in-process Queue backed by a slice kept sorted by the
// §4.7.1 tuple order. Reassessment is O(n log n) on the whole slice,
// which the spec explicitly allows ("O(n) or maintained in a priority
// structure") — a slice is simpler than a heap here because the queue
// also needs full-order iteration for PeekForAgent and LenByPriority.
type MemoryQueue struct {
	mu          sync.Mutex
	entries     []Entry
	overflow    int
	serviceEWMA map[core.Priority]time.Duration
	logger      core.Logger
}

// NewMemoryQueue creates an empty queue with the given overflow threshold
// (spec Q_overflow).
func NewMemoryQueue(overflow int, logger core.Logger) *MemoryQueue {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &MemoryQueue{
		overflow:    overflow,
		serviceEWMA: make(map[core.Priority]time.Duration),
		logger:      logger,
	}
}

// less implements the (priority_rank DESC, enqueued_at ASC) tuple order.
func less(a, b Entry) bool {
	ra, rb := core.PriorityRank(a.Priority), core.PriorityRank(b.Priority)
	if ra != rb {
		return ra > rb
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// Enqueue inserts a new entry, rejecting LOW-priority entries once the
// queue is at or over Q_overflow. CRITICAL entries are never rejected.
func (q *MemoryQueue) Enqueue(entry Entry) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.overflow && entry.Priority == core.PriorityLow {
		return Entry{}, fmt.Errorf("queue.Enqueue: %w", core.ErrQueueFull)
	}

	if entry.EntryID == "" {
		entry.EntryID = newEntryID()
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}
	entry.Status = core.QueueStateQueued

	q.entries = append(q.entries, entry)
	q.sortAndReassessLocked()

	for i := range q.entries {
		if q.entries[i].EntryID == entry.EntryID {
			return q.entries[i], nil
		}
	}
	return entry, nil
}

// Cancel removes an entry from the queue (customer abandonment).
func (q *MemoryQueue) Cancel(entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.EntryID == entryID {
			q.entries[i].Status = core.QueueStateCancelled
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.sortAndReassessLocked()
			return nil
		}
	}
	return fmt.Errorf("queue.Cancel %s: %w", entryID, core.ErrEntryNotFound)
}

// ReassessPositions recomputes position and estimated_assignment_at for
// every entry. Called internally on every mutation; exported so the
// pipeline can trigger it explicitly on a completion event too.
func (q *MemoryQueue) ReassessPositions() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sortAndReassessLocked()
	return nil
}

func (q *MemoryQueue) sortAndReassessLocked() {
	sort.SliceStable(q.entries, func(i, j int) bool { return less(q.entries[i], q.entries[j]) })

	now := time.Now()
	aheadByPriority := make(map[core.Priority]int)
	for i := range q.entries {
		q.entries[i].Position = i + 1
		priority := q.entries[i].Priority
		wait := q.estimateWaitLocked(aheadByPriority[priority], priority)
		q.entries[i].EstimatedAssignmentAt = now.Add(wait)
		aheadByPriority[priority]++
	}
}

// estimateWaitLocked applies Little's law: expected wait for the entry
// at `ahead` positions within its own priority band is ahead * mean
// service time for that priority (concurrency of 1 server assumed per
// band absent a live agent-availability count, a deliberately simple
// model the RoutingScorer's PeekForAgent calls refine in practice).
func (q *MemoryQueue) estimateWaitLocked(ahead int, priority core.Priority) time.Duration {
	mean := q.serviceEWMA[priority]
	if mean <= 0 {
		mean = defaultServiceTime
	}
	return time.Duration(ahead+1) * mean
}

// RecordServiceTime folds a completed assignment's duration into the
// per-priority EWMA used by the wait estimator.
func (q *MemoryQueue) RecordServiceTime(priority core.Priority, d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.serviceEWMA[priority]
	if prev <= 0 {
		q.serviceEWMA[priority] = d
		return
	}
	alpha := core.SatisfactionEWMAAlpha
	q.serviceEWMA[priority] = time.Duration(alpha*float64(d) + (1-alpha)*float64(prev))
}

// PeekForAgent returns the best-matching still-queued entry per the
// scoring function supplied by the caller (RoutingScorer restricted to
// queued entries, spec §4.7.1). Returns nil if nothing matches.
func (q *MemoryQueue) PeekForAgent(matches func(Entry) (float64, bool)) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *Entry
	bestScore := -1.0
	for i := range q.entries {
		if q.entries[i].Status != core.QueueStateQueued {
			continue
		}
		score, ok := matches(q.entries[i])
		if !ok {
			continue
		}
		if best == nil || score > bestScore {
			e := q.entries[i]
			best = &e
			bestScore = score
		}
	}
	return best, nil
}

// Assign transitions an entry queued -> assigned.
func (q *MemoryQueue) Assign(entryID, agentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].EntryID == entryID {
			q.entries[i].AssignedAgentID = agentID
			q.entries[i].Status = core.QueueStateAssigned
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.sortAndReassessLocked()
			return nil
		}
	}
	return fmt.Errorf("queue.Assign %s: %w", entryID, core.ErrEntryNotFound)
}

// Transition is a no-op placeholder for post-assignment state changes
// (in_progress/completed/escalated/transferred) the queue itself no
// longer tracks once an entry has left the waiting list; kept so callers
// have one lifecycle surface even though the state lives on the
// assignment record, not the queue, past this point.
func (q *MemoryQueue) Transition(entryID string, state core.QueueEntryState) error {
	return nil
}

// Len returns the total number of waiting entries.
func (q *MemoryQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

// LenByPriority returns waiting-entry counts bucketed by priority, used
// by the `status` CLI surface.
func (q *MemoryQueue) LenByPriority() (map[core.Priority]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[core.Priority]int)
	for _, e := range q.entries {
		counts[e.Priority]++
	}
	return counts, nil
}

func newEntryID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
