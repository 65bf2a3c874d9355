package directory

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

func newMemoryForTest(t *testing.T) Directory {
	t.Helper()
	return NewMemoryDirectory(nil)
}

func newRedisForTest(t *testing.T) Directory {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  "redis://" + mr.Addr() + "/0",
		DB:        core.RedisDBDirectory,
		Namespace: "hitl-test",
	})
	if err != nil {
		t.Fatalf("NewRedisClient() error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewRedisDirectory(client, nil)
}

func testAgent(id string) *HumanAgent {
	return &HumanAgent{
		AgentID:            id,
		Name:               "Agent " + id,
		SkillTier:          SkillTierSenior,
		Skills:             map[string]Proficiency{"billing": ProficiencyAdvanced},
		MaxConcurrentCases: 2,
	}
}

// forEachBackend runs fn against both directory implementations so the
// contract is exercised identically regardless of backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, dir Directory)) {
	t.Run("memory", func(t *testing.T) { fn(t, newMemoryForTest(t)) })
	t.Run("redis", func(t *testing.T) { fn(t, newRedisForTest(t)) })
}

func TestRegisterAndSnapshotAll(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		if err := dir.Register(testAgent("a1")); err != nil {
			t.Fatalf("Register() error: %v", err)
		}
		snaps, err := dir.SnapshotAll()
		if err != nil {
			t.Fatalf("SnapshotAll() error: %v", err)
		}
		if len(snaps) != 1 || snaps[0].AgentID != "a1" {
			t.Fatalf("SnapshotAll() = %+v, want one record for a1", snaps)
		}
		if snaps[0].Status != core.AgentStatusAvailable {
			t.Errorf("Status = %q, want available", snaps[0].Status)
		}
	})
}

func TestClaimCommitIncrementsWorkload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		dir.Register(testAgent("a1"))

		token, err := dir.ClaimForAssignment("a1")
		if err != nil {
			t.Fatalf("ClaimForAssignment() error: %v", err)
		}
		if err := dir.CommitAssignment(token, "req-1"); err != nil {
			t.Fatalf("CommitAssignment() error: %v", err)
		}

		snaps, _ := dir.SnapshotAll()
		if snaps[0].CurrentWorkload != 1 {
			t.Errorf("CurrentWorkload = %d, want 1", snaps[0].CurrentWorkload)
		}
		if snaps[0].Status != core.AgentStatusBusy {
			t.Errorf("Status = %q, want busy", snaps[0].Status)
		}
	})
}

func TestDoubleClaimIsRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		dir.Register(testAgent("a1"))

		if _, err := dir.ClaimForAssignment("a1"); err != nil {
			t.Fatalf("first claim error: %v", err)
		}
		if _, err := dir.ClaimForAssignment("a1"); err == nil {
			t.Fatal("expected second concurrent claim on the same agent to be rejected")
		}
	})
}

func TestReleaseAssignmentFreesAgentForReclaim(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		dir.Register(testAgent("a1"))

		token, err := dir.ClaimForAssignment("a1")
		if err != nil {
			t.Fatalf("ClaimForAssignment() error: %v", err)
		}
		if err := dir.ReleaseAssignment(token); err != nil {
			t.Fatalf("ReleaseAssignment() error: %v", err)
		}
		if _, err := dir.ClaimForAssignment("a1"); err != nil {
			t.Fatalf("expected re-claim to succeed after release, got: %v", err)
		}
	})
}

func TestClaimRejectedAtCapacity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		agent := testAgent("a1")
		agent.MaxConcurrentCases = 1
		dir.Register(agent)

		token, err := dir.ClaimForAssignment("a1")
		if err != nil {
			t.Fatalf("ClaimForAssignment() error: %v", err)
		}
		if err := dir.CommitAssignment(token, "req-1"); err != nil {
			t.Fatalf("CommitAssignment() error: %v", err)
		}

		if _, err := dir.ClaimForAssignment("a1"); err == nil {
			t.Fatal("expected claim at capacity to be rejected")
		}
	})
}

func TestUpdateOnCompletionTracksDifficultStreak(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		dir.Register(testAgent("a1"))
		token, _ := dir.ClaimForAssignment("a1")
		dir.CommitAssignment(token, "req-1")

		rating := 8.0
		if err := dir.UpdateOnCompletion("a1", CompletionOutcome{Resolved: true, Difficult: true, SatisfactionRating: &rating}); err != nil {
			t.Fatalf("UpdateOnCompletion() error: %v", err)
		}
		snaps, _ := dir.SnapshotAll()
		if snaps[0].CurrentWorkload != 0 {
			t.Errorf("CurrentWorkload = %d, want 0 after completion", snaps[0].CurrentWorkload)
		}
		if snaps[0].ConsecutiveDifficultCases != 1 {
			t.Errorf("ConsecutiveDifficultCases = %d, want 1", snaps[0].ConsecutiveDifficultCases)
		}
		if snaps[0].RollingMetrics.CustomerSatisfactionAvg != rating {
			t.Errorf("CustomerSatisfactionAvg = %v, want %v (first sample seeds the EWMA)", snaps[0].RollingMetrics.CustomerSatisfactionAvg, rating)
		}

		if err := dir.UpdateOnCompletion("a1", CompletionOutcome{Resolved: true, Difficult: false}); err != nil {
			t.Fatalf("UpdateOnCompletion() error: %v", err)
		}
		snaps, _ = dir.SnapshotAll()
		if snaps[0].ConsecutiveDifficultCases != 0 {
			t.Errorf("ConsecutiveDifficultCases = %d, want reset to 0", snaps[0].ConsecutiveDifficultCases)
		}
	})
}

func TestSetStatusRecordsBreakTime(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		dir.Register(testAgent("a1"))
		if err := dir.SetStatus("a1", core.AgentStatusBreak, "scheduled"); err != nil {
			t.Fatalf("SetStatus() error: %v", err)
		}
		snaps, _ := dir.SnapshotAll()
		if snaps[0].Status != core.AgentStatusBreak {
			t.Errorf("Status = %q, want break", snaps[0].Status)
		}
		if snaps[0].LastBreakAt.IsZero() {
			t.Error("expected LastBreakAt to be set")
		}
	})
}

func TestRecalculateStressForcesBreakOverThreshold(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		agent := testAgent("a1")
		agent.MaxConcurrentCases = 1
		dir.Register(agent)
		token, _ := dir.ClaimForAssignment("a1")
		dir.CommitAssignment(token, "req-1")
		// Three consecutive difficult completions push ConsecutiveDifficultCases
		// high enough that the stress formula crosses a low threshold.
		for i := 0; i < 3; i++ {
			dir.UpdateOnCompletion("a1", CompletionOutcome{Difficult: true})
			token, _ = dir.ClaimForAssignment("a1")
			dir.CommitAssignment(token, "req-1")
		}

		cfg := StressConfig{Window: time.Hour, StressBreakThreshold: 0.1, BreakMinDuration: time.Minute}
		if err := dir.RecalculateStress(cfg); err != nil {
			t.Fatalf("RecalculateStress() error: %v", err)
		}

		snaps, _ := dir.SnapshotAll()
		if snaps[0].Status != core.AgentStatusBreak {
			t.Errorf("Status = %q, want break after stress tick exceeded threshold", snaps[0].Status)
		}
		if snaps[0].StressScore <= cfg.StressBreakThreshold {
			t.Errorf("StressScore = %v, want > %v", snaps[0].StressScore, cfg.StressBreakThreshold)
		}
	})
}

func TestClaimForAssignmentRejectsUnknownAgent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, dir Directory) {
		if _, err := dir.ClaimForAssignment("ghost"); err == nil {
			t.Fatal("expected error claiming an unregistered agent")
		}
	})
}
