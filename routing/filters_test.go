package routing

import (
	"testing"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
)

func testThresholds() core.ThresholdsConfig {
	return core.ThresholdsConfig{CooldownHours: 1, MaxConsecutive: 3}
}

func TestEligibleRejectsOfflineAgent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agent := directory.AgentSnapshot{Status: core.AgentStatusOffline}

	if eligible(agent, Input{}, testThresholds(), now) {
		t.Error("eligible() = true, want false for an offline agent")
	}
}

func TestEligibleRejectsAgentAtCapacity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agent := directory.AgentSnapshot{Status: core.AgentStatusAvailable, MaxConcurrentCases: 3, CurrentWorkload: 3}

	if eligible(agent, Input{}, testThresholds(), now) {
		t.Error("eligible() = true, want false for an at-capacity agent")
	}
}

func TestEligibleRejectsLowToleranceAgentUnderSevereFrustration(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agent := directory.AgentSnapshot{Status: core.AgentStatusAvailable, FrustrationTolerance: directory.ToleranceLow}
	in := Input{FrustrationLevel: core.FrustrationCritical}

	if eligible(agent, in, testThresholds(), now) {
		t.Error("eligible() = true, want false for a low-tolerance agent facing a critical-frustration request")
	}
}

func TestEligibleRejectsAgentInCooldownWithConsecutiveDifficultCases(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agent := directory.AgentSnapshot{
		Status: core.AgentStatusAvailable, FrustrationTolerance: directory.ToleranceMedium,
		ConsecutiveDifficultCases: 3,
		LastDifficultCaseAt:       now.Add(-10 * time.Minute),
	}
	in := Input{FrustrationLevel: core.FrustrationHigh}

	if eligible(agent, in, testThresholds(), now) {
		t.Error("eligible() = true, want false for a cooling-down agent with 3+ consecutive difficult cases")
	}
}

func TestEligibleRejectsAgentMissingRequiredLanguage(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agent := directory.AgentSnapshot{
		Status:    core.AgentStatusAvailable,
		Languages: map[string]directory.Proficiency{"english": directory.ProficiencyExpert},
	}
	in := Input{NonEnglish: true, RequiredLanguage: "spanish"}

	if eligible(agent, in, testThresholds(), now) {
		t.Error("eligible() = true, want false for an agent lacking the required language")
	}
}

func TestEligibleAcceptsAvailableUnburdenedAgent(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	agent := directory.AgentSnapshot{Status: core.AgentStatusAvailable, MaxConcurrentCases: 5}

	if !eligible(agent, Input{}, testThresholds(), now) {
		t.Error("eligible() = false, want true for an available, unburdened agent with no special requirements")
	}
}

func TestFilterEligibleKeepsOnlyPassingAgents(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	snapshot := []directory.AgentSnapshot{
		{AgentID: "a1", Status: core.AgentStatusAvailable, MaxConcurrentCases: 5},
		{AgentID: "a2", Status: core.AgentStatusOffline},
	}

	kept := filterEligible(snapshot, Input{}, testThresholds(), now)

	if len(kept) != 1 || kept[0].AgentID != "a1" {
		t.Errorf("filterEligible() = %v, want only a1", kept)
	}
}
