package routing

import (
	"testing"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
	"github.com/itsneelabh/hitl-orchestrator/queue"
)

func TestScorerSelectAssignsBestRankedAgent(t *testing.T) {
	dir := directory.NewMemoryDirectory(nil)
	if err := dir.Register(&directory.HumanAgent{
		AgentID: "junior-1", SkillTier: directory.SkillTierJunior, MaxConcurrentCases: 5,
	}); err != nil {
		t.Fatalf("Register(junior-1) error = %v", err)
	}
	if err := dir.Register(&directory.HumanAgent{
		AgentID: "expert-1", SkillTier: directory.SkillTierExpert, MaxConcurrentCases: 5,
		Skills:          map[string]directory.Proficiency{"billing": directory.ProficiencyExpert},
		Specializations: []string{"billing"},
	}); err != nil {
		t.Fatalf("Register(expert-1) error = %v", err)
	}
	for _, agentID := range []string{"junior-1", "expert-1"} {
		if err := dir.SetStatus(agentID, core.AgentStatusAvailable, "shift_start"); err != nil {
			t.Fatalf("SetStatus(%s) error = %v", agentID, err)
		}
	}
	q := queue.NewMemoryQueue(400, nil)
	resolver := NewWeightTableResolver(testWeightsConfig())
	scorer := NewScorer(dir, q, resolver, testThresholds(), 3, nil)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Input{RequestID: "req-1", Priority: core.PriorityHigh, RequiredSkills: []string{"billing"}}
	entry := queue.Entry{RequestID: "req-1", Priority: core.PriorityHigh, EnqueuedAt: now}

	decision, err := scorer.Select(in, entry, now)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if decision.Strategy != "assigned" {
		t.Fatalf("Strategy = %q, want assigned", decision.Strategy)
	}
	if decision.AssignedAgentID != "expert-1" {
		t.Errorf("AssignedAgentID = %q, want expert-1 (higher composite score)", decision.AssignedAgentID)
	}
}

func TestScorerSelectUsesWellbeingProtectionStrategy(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	dir := directory.NewMemoryDirectory(nil)
	if err := dir.Register(&directory.HumanAgent{
		AgentID: "expert-1", SkillTier: directory.SkillTierExpert, MaxConcurrentCases: 5,
		Skills:                    map[string]directory.Proficiency{"billing": directory.ProficiencyExpert},
		Specializations:           []string{"billing"},
		FrustrationTolerance:      directory.ToleranceMedium,
		ConsecutiveDifficultCases: 3,
		LastDifficultCaseAt:       now.Add(-30 * time.Minute),
	}); err != nil {
		t.Fatalf("Register(expert-1) error = %v", err)
	}
	if err := dir.Register(&directory.HumanAgent{
		AgentID: "junior-1", SkillTier: directory.SkillTierJunior, MaxConcurrentCases: 5,
		FrustrationTolerance: directory.ToleranceHigh,
	}); err != nil {
		t.Fatalf("Register(junior-1) error = %v", err)
	}
	for _, agentID := range []string{"expert-1", "junior-1"} {
		if err := dir.SetStatus(agentID, core.AgentStatusAvailable, "shift_start"); err != nil {
			t.Fatalf("SetStatus(%s) error = %v", agentID, err)
		}
	}

	q := queue.NewMemoryQueue(400, nil)
	resolver := NewWeightTableResolver(testWeightsConfig())
	scorer := NewScorer(dir, q, resolver, testThresholds(), 3, nil)

	in := Input{
		RequestID: "req-s4", Priority: core.PriorityHigh, RequiredSkills: []string{"billing"},
		FrustrationLevel: core.FrustrationHigh,
	}
	entry := queue.Entry{RequestID: "req-s4", Priority: core.PriorityHigh, EnqueuedAt: now}

	decision, err := scorer.Select(in, entry, now)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if decision.Strategy != "wellbeing_protection" {
		t.Fatalf("Strategy = %q, want wellbeing_protection", decision.Strategy)
	}
	if decision.AssignedAgentID != "junior-1" {
		t.Errorf("AssignedAgentID = %q, want junior-1 (expert-1 is hard-filtered by the wellbeing cooldown)", decision.AssignedAgentID)
	}
}

func TestScorerSelectSkipsAgentLosingClaimRace(t *testing.T) {
	dir := directory.NewMemoryDirectory(nil)
	if err := dir.Register(&directory.HumanAgent{
		AgentID: "expert-1", SkillTier: directory.SkillTierExpert, MaxConcurrentCases: 5,
		Skills:          map[string]directory.Proficiency{"billing": directory.ProficiencyExpert},
		Specializations: []string{"billing"},
	}); err != nil {
		t.Fatalf("Register(expert-1) error = %v", err)
	}
	if err := dir.Register(&directory.HumanAgent{
		AgentID: "junior-1", SkillTier: directory.SkillTierJunior, MaxConcurrentCases: 5,
	}); err != nil {
		t.Fatalf("Register(junior-1) error = %v", err)
	}
	for _, agentID := range []string{"expert-1", "junior-1"} {
		if err := dir.SetStatus(agentID, core.AgentStatusAvailable, "shift_start"); err != nil {
			t.Fatalf("SetStatus(%s) error = %v", agentID, err)
		}
	}

	// Simulate a concurrent scoring pass already holding expert-1's claim,
	// the top-ranked candidate for this request.
	token, err := dir.ClaimForAssignment("expert-1")
	if err != nil {
		t.Fatalf("ClaimForAssignment() error = %v", err)
	}
	defer dir.ReleaseAssignment(token)

	q := queue.NewMemoryQueue(400, nil)
	resolver := NewWeightTableResolver(testWeightsConfig())
	scorer := NewScorer(dir, q, resolver, testThresholds(), 3, nil)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Input{RequestID: "req-2", Priority: core.PriorityHigh, RequiredSkills: []string{"billing"}}
	entry := queue.Entry{RequestID: "req-2", Priority: core.PriorityHigh, EnqueuedAt: now}

	decision, err := scorer.Select(in, entry, now)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if decision.AssignedAgentID != "junior-1" {
		t.Errorf("AssignedAgentID = %q, want junior-1 (expert-1's claim was already held)", decision.AssignedAgentID)
	}
}

func TestScorerSelectEnqueuesWhenNoAgentEligible(t *testing.T) {
	dir := directory.NewMemoryDirectory(nil)
	q := queue.NewMemoryQueue(400, nil)
	resolver := NewWeightTableResolver(testWeightsConfig())
	scorer := NewScorer(dir, q, resolver, testThresholds(), 3, nil)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Input{RequestID: "req-3", Priority: core.PriorityMedium}
	entry := queue.Entry{RequestID: "req-3", Priority: core.PriorityMedium, EnqueuedAt: now}

	decision, err := scorer.Select(in, entry, now)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if decision.Strategy != "queued" {
		t.Errorf("Strategy = %q, want queued", decision.Strategy)
	}
	length, err := q.Len()
	if err != nil {
		t.Fatalf("Len() error = %v", err)
	}
	if length != 1 {
		t.Errorf("queue length = %d, want 1", length)
	}
}

func TestScorerSelectFailsCriticalWhenQueueUnavailableAndNoAgent(t *testing.T) {
	dir := directory.NewMemoryDirectory(nil)
	resolver := NewWeightTableResolver(testWeightsConfig())
	scorer := NewScorer(dir, brokenQueue{}, resolver, testThresholds(), 3, nil)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	in := Input{RequestID: "req-4", Priority: core.PriorityCritical}
	entry := queue.Entry{RequestID: "req-4", Priority: core.PriorityCritical, EnqueuedAt: now}

	_, err := scorer.Select(in, entry, now)
	if err == nil {
		t.Fatal("Select() error = nil, want an error when a CRITICAL request has no agent and the queue is unavailable")
	}
}

// brokenQueue simulates a Queue backend that is down: every call fails.
type brokenQueue struct{}

func (brokenQueue) Enqueue(entry queue.Entry) (queue.Entry, error)  { return queue.Entry{}, errUnavailable }
func (brokenQueue) Cancel(entryID string) error                     { return errUnavailable }
func (brokenQueue) ReassessPositions() error                        { return errUnavailable }
func (brokenQueue) PeekForAgent(func(queue.Entry) (float64, bool)) (*queue.Entry, error) {
	return nil, errUnavailable
}
func (brokenQueue) Assign(entryID, agentID string) error                  { return errUnavailable }
func (brokenQueue) Transition(entryID string, state core.QueueEntryState) error { return errUnavailable }
func (brokenQueue) Len() (int, error)                                      { return 0, errUnavailable }
func (brokenQueue) LenByPriority() (map[core.Priority]int, error) {
	return nil, errUnavailable
}
func (brokenQueue) RecordServiceTime(priority core.Priority, d time.Duration) {}

var errUnavailable = core.ErrQueueUnavailable
