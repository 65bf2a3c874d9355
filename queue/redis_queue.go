package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// RedisQueueConfig configures the Redis-backed queue, mirroring the
// retry/backoff knobs of the teacher's RedisTaskQueueConfig.
type RedisQueueConfig struct {
	Overflow       int
	CircuitBreaker core.CircuitBreaker
	RetryAttempts  int
	RetryDelay     time.Duration
}

func defaultRedisQueueConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Overflow:      1000,
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

const sortedSetKey = "queue:waiting"

// RedisQueue is a Redis sorted-set-backed Queue. Unlike the teacher's
// FIFO list queue (LPUSH/BRPOP), this queue needs priority ordering, so
// entries are ZADD'd with a score encoding (priority_rank DESC,
// enqueued_at ASC): score = (3-rank)*1e13 + enqueued_at_unix_millis,
// so ZRANGE ascending yields exactly the §4.7.1 tuple order.
type RedisQueue struct {
	client *core.RedisClient
	config RedisQueueConfig
	logger core.Logger
}

// NewRedisQueue wraps an already-connected namespaced Redis client.
func NewRedisQueue(client *core.RedisClient, cfg RedisQueueConfig, logger core.Logger) *RedisQueue {
	defaults := defaultRedisQueueConfig()
	if cfg.Overflow <= 0 {
		cfg.Overflow = defaults.Overflow
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaults.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("queue")
	}
	return &RedisQueue{client: client, config: cfg, logger: logger}
}

func score(priority core.Priority, enqueuedAt time.Time) float64 {
	rank := core.PriorityRank(priority)
	return float64(3-rank)*1e13 + float64(enqueuedAt.UnixMilli())
}

func entryKey(entryID string) string { return "entry:" + entryID }

func (q *RedisQueue) execWithCircuitBreaker(ctx context.Context, fn func() error) error {
	if q.config.CircuitBreaker != nil {
		return q.config.CircuitBreaker.Execute(ctx, fn)
	}
	return fn()
}

// Enqueue inserts a new entry into the sorted set, rejecting LOW
// priority once the queue is at or over Q_overflow.
func (q *RedisQueue) Enqueue(entry Entry) (Entry, error) {
	ctx := context.Background()

	n, err := q.Len()
	if err != nil {
		return Entry{}, err
	}
	if n >= q.config.Overflow && entry.Priority == core.PriorityLow {
		return Entry{}, fmt.Errorf("queue.Enqueue: %w", core.ErrQueueFull)
	}

	if entry.EntryID == "" {
		entry.EntryID = newEntryID()
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now()
	}
	entry.Status = core.QueueStateQueued

	data, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("queue.Enqueue: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < q.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(q.config.RetryDelay)
		}
		lastErr = q.execWithCircuitBreaker(ctx, func() error {
			if err := q.client.Set(ctx, entryKey(entry.EntryID), data, 0); err != nil {
				return err
			}
			return q.client.Raw().ZAdd(ctx, q.client.Key(sortedSetKey), &redis.Z{
				Score:  score(entry.Priority, entry.EnqueuedAt),
				Member: entry.EntryID,
			}).Err()
		})
		if lastErr == nil {
			q.logger.Info("entry enqueued", map[string]interface{}{"entry_id": entry.EntryID, "priority": string(entry.Priority)})
			q.ReassessPositions()
			return entry, nil
		}
		q.logger.Warn("enqueue attempt failed", map[string]interface{}{"entry_id": entry.EntryID, "attempt": attempt + 1, "error": lastErr.Error()})
	}
	return Entry{}, fmt.Errorf("queue.Enqueue: %w after %d attempts: %v", core.ErrQueueUnavailable, q.config.RetryAttempts, lastErr)
}

// Cancel removes an entry from the waiting set.
func (q *RedisQueue) Cancel(entryID string) error {
	ctx := context.Background()
	if err := q.client.Raw().ZRem(ctx, q.client.Key(sortedSetKey), entryID).Err(); err != nil {
		return fmt.Errorf("queue.Cancel %s: %w", entryID, err)
	}
	q.client.Del(ctx, entryKey(entryID))
	return q.ReassessPositions()
}

func (q *RedisQueue) loadEntry(ctx context.Context, entryID string) (*Entry, error) {
	data, err := q.client.Get(ctx, entryKey(entryID))
	if err != nil {
		return nil, fmt.Errorf("queue.loadEntry %s: %w", entryID, core.ErrEntryNotFound)
	}
	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("queue.loadEntry %s: %w", entryID, err)
	}
	return &e, nil
}

// ReassessPositions recomputes position and estimated_assignment_at for
// every waiting entry, in ZRANGE order (which already reflects the
// §4.7.1 tuple order thanks to the score encoding).
func (q *RedisQueue) ReassessPositions() error {
	ctx := context.Background()
	ids, err := q.client.Raw().ZRange(ctx, q.client.Key(sortedSetKey), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("queue.ReassessPositions: %w", err)
	}

	now := time.Now()
	aheadByPriority := make(map[core.Priority]int)
	for i, id := range ids {
		entry, err := q.loadEntry(ctx, id)
		if err != nil {
			continue
		}
		entry.Position = i + 1
		entry.EstimatedAssignmentAt = now.Add(time.Duration(aheadByPriority[entry.Priority]+1) * defaultServiceTime)
		aheadByPriority[entry.Priority]++

		data, _ := json.Marshal(entry)
		q.client.Set(ctx, entryKey(id), data, 0)
	}
	return nil
}

// PeekForAgent scans waiting entries in priority order and returns the
// best match per the caller-supplied scoring function.
func (q *RedisQueue) PeekForAgent(matches func(Entry) (float64, bool)) (*Entry, error) {
	ctx := context.Background()
	ids, err := q.client.Raw().ZRange(ctx, q.client.Key(sortedSetKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.PeekForAgent: %w", err)
	}

	var best *Entry
	bestScore := -1.0
	for _, id := range ids {
		entry, err := q.loadEntry(ctx, id)
		if err != nil || entry.Status != core.QueueStateQueued {
			continue
		}
		s, ok := matches(*entry)
		if !ok {
			continue
		}
		if best == nil || s > bestScore {
			best = entry
			bestScore = s
		}
	}
	return best, nil
}

// Assign transitions an entry queued -> assigned and removes it from
// the waiting set.
func (q *RedisQueue) Assign(entryID, agentID string) error {
	ctx := context.Background()
	entry, err := q.loadEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.AssignedAgentID = agentID
	entry.Status = core.QueueStateAssigned

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("queue.Assign %s: %w", entryID, err)
	}
	if err := q.client.Set(ctx, entryKey(entryID), data, 0); err != nil {
		return err
	}
	if err := q.client.Raw().ZRem(ctx, q.client.Key(sortedSetKey), entryID).Err(); err != nil {
		return fmt.Errorf("queue.Assign %s: %w", entryID, err)
	}
	return q.ReassessPositions()
}

// Transition updates an entry's lifecycle state after assignment; the
// entry is kept addressable by id until a terminal state is reached, at
// which point it is deleted.
func (q *RedisQueue) Transition(entryID string, state core.QueueEntryState) error {
	ctx := context.Background()
	entry, err := q.loadEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry.Status = state
	switch state {
	case core.QueueStateCompleted, core.QueueStateEscalated, core.QueueStateTransferred, core.QueueStateCancelled:
		return q.client.Del(ctx, entryKey(entryID))
	default:
		data, _ := json.Marshal(entry)
		return q.client.Set(ctx, entryKey(entryID), data, 0)
	}
}

// Len returns the number of waiting entries.
func (q *RedisQueue) Len() (int, error) {
	ctx := context.Background()
	n, err := q.client.Raw().ZCard(ctx, q.client.Key(sortedSetKey)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue.Len: %w", err)
	}
	return int(n), nil
}

// LenByPriority returns waiting-entry counts bucketed by priority.
func (q *RedisQueue) LenByPriority() (map[core.Priority]int, error) {
	ctx := context.Background()
	ids, err := q.client.Raw().ZRange(ctx, q.client.Key(sortedSetKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue.LenByPriority: %w", err)
	}
	counts := make(map[core.Priority]int)
	for _, id := range ids {
		entry, err := q.loadEntry(ctx, id)
		if err != nil {
			continue
		}
		counts[entry.Priority]++
	}
	return counts, nil
}

// RecordServiceTime is a no-op placeholder on the Redis backend: the
// rolling mean service time is expected to live alongside the directory's
// rolling metrics rather than be duplicated here. Kept to satisfy the
// Queue interface so callers don't need a type switch per backend.
func (q *RedisQueue) RecordServiceTime(priority core.Priority, d time.Duration) {}
