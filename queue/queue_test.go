package queue

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

func newMemoryQueueForTest(t *testing.T, overflow int) Queue {
	t.Helper()
	return NewMemoryQueue(overflow, nil)
}

func newRedisQueueForTest(t *testing.T, overflow int) Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  "redis://" + mr.Addr() + "/0",
		DB:        core.RedisDBQueue,
		Namespace: "hitl-test",
	})
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, RedisQueueConfig{Overflow: overflow}, nil)
}

func forEachQueueBackend(t *testing.T, overflow int, fn func(t *testing.T, q Queue)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryQueueForTest(t, overflow)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisQueueForTest(t, overflow)) })
}

func TestEnqueueOrdersByPriorityThenTime(t *testing.T) {
	forEachQueueBackend(t, 100, func(t *testing.T, q Queue) {
		base := time.Now()
		low, err := q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityLow, EnqueuedAt: base})
		if err != nil {
			t.Fatalf("Enqueue(low) error: %v", err)
		}
		high, err := q.Enqueue(Entry{RequestID: "r2", Priority: core.PriorityHigh, EnqueuedAt: base.Add(time.Second)})
		if err != nil {
			t.Fatalf("Enqueue(high) error: %v", err)
		}

		best, err := q.PeekForAgent(func(e Entry) (float64, bool) { return 1, true })
		if err != nil {
			t.Fatalf("PeekForAgent() error: %v", err)
		}
		if best == nil || best.EntryID != high.EntryID {
			t.Fatalf("expected high priority entry first despite later enqueue time, got %+v (low=%v)", best, low.EntryID)
		}
	})
}

func TestEnqueueStableOrderWithinSamePriority(t *testing.T) {
	forEachQueueBackend(t, 100, func(t *testing.T, q Queue) {
		base := time.Now()
		first, _ := q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityMedium, EnqueuedAt: base})
		second, _ := q.Enqueue(Entry{RequestID: "r2", Priority: core.PriorityMedium, EnqueuedAt: base.Add(time.Second)})

		best, err := q.PeekForAgent(func(e Entry) (float64, bool) { return 1, true })
		if err != nil {
			t.Fatalf("PeekForAgent() error: %v", err)
		}
		if best == nil || best.EntryID != first.EntryID {
			t.Fatalf("expected earlier-enqueued entry first within same priority, got %+v (second=%v)", best, second.EntryID)
		}
	})
}

func TestEnqueueRejectsLowPriorityOverOverflow(t *testing.T) {
	forEachQueueBackend(t, 1, func(t *testing.T, q Queue) {
		if _, err := q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityLow}); err != nil {
			t.Fatalf("first Enqueue() error: %v", err)
		}
		if _, err := q.Enqueue(Entry{RequestID: "r2", Priority: core.PriorityLow}); err == nil {
			t.Fatal("expected second LOW priority entry to be rejected over Q_overflow")
		}
	})
}

func TestEnqueueNeverRejectsCritical(t *testing.T) {
	forEachQueueBackend(t, 1, func(t *testing.T, q Queue) {
		q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityLow})
		if _, err := q.Enqueue(Entry{RequestID: "r2", Priority: core.PriorityCritical}); err != nil {
			t.Fatalf("expected CRITICAL entry never to be rejected, got: %v", err)
		}
	})
}

func TestCancelRemovesEntry(t *testing.T) {
	forEachQueueBackend(t, 100, func(t *testing.T, q Queue) {
		entry, _ := q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityMedium})
		if err := q.Cancel(entry.EntryID); err != nil {
			t.Fatalf("Cancel() error: %v", err)
		}
		n, err := q.Len()
		if err != nil {
			t.Fatalf("Len() error: %v", err)
		}
		if n != 0 {
			t.Errorf("Len() = %d, want 0 after cancel", n)
		}
	})
}

func TestAssignRemovesFromWaitingSet(t *testing.T) {
	forEachQueueBackend(t, 100, func(t *testing.T, q Queue) {
		entry, _ := q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityMedium})
		if err := q.Assign(entry.EntryID, "agent-1"); err != nil {
			t.Fatalf("Assign() error: %v", err)
		}
		n, _ := q.Len()
		if n != 0 {
			t.Errorf("Len() = %d, want 0 after assignment", n)
		}
	})
}

func TestReassessPositionsAssignsSequentialPositions(t *testing.T) {
	forEachQueueBackend(t, 100, func(t *testing.T, q Queue) {
		base := time.Now()
		q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityCritical, EnqueuedAt: base})
		q.Enqueue(Entry{RequestID: "r2", Priority: core.PriorityHigh, EnqueuedAt: base.Add(time.Second)})
		q.Enqueue(Entry{RequestID: "r3", Priority: core.PriorityLow, EnqueuedAt: base.Add(2 * time.Second)})

		counts, err := q.LenByPriority()
		if err != nil {
			t.Fatalf("LenByPriority() error: %v", err)
		}
		if counts[core.PriorityCritical] != 1 || counts[core.PriorityHigh] != 1 || counts[core.PriorityLow] != 1 {
			t.Errorf("LenByPriority() = %+v, want one of each", counts)
		}
	})
}

func TestLenByPriority(t *testing.T) {
	forEachQueueBackend(t, 100, func(t *testing.T, q Queue) {
		q.Enqueue(Entry{RequestID: "r1", Priority: core.PriorityHigh})
		q.Enqueue(Entry{RequestID: "r2", Priority: core.PriorityHigh})
		q.Enqueue(Entry{RequestID: "r3", Priority: core.PriorityLow})

		counts, err := q.LenByPriority()
		if err != nil {
			t.Fatalf("LenByPriority() error: %v", err)
		}
		if counts[core.PriorityHigh] != 2 {
			t.Errorf("counts[high] = %d, want 2", counts[core.PriorityHigh])
		}
	})
}
