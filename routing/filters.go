package routing

import (
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
)

// eligible applies the hard filters of spec §4.6.4, run before scoring.
func eligible(agent directory.AgentSnapshot, in Input, cfg core.ThresholdsConfig, now time.Time) bool {
	if agent.Status == core.AgentStatusOffline {
		return false
	}
	if agent.CurrentWorkload >= agent.MaxConcurrentCases {
		return false
	}
	if excludedByWellbeing(agent, in, cfg, now) {
		return false
	}

	if in.NonEnglish && in.RequiredLanguage != "" {
		prof, ok := agent.Languages[in.RequiredLanguage]
		if !ok || !atLeastConversational(prof) {
			return false
		}
	}

	return true
}

// excludedByWellbeing is the spec §4.6.4 wellbeing hard filter in
// isolation (spec §8 Scenario S4): under HIGH/CRITICAL frustration, an
// agent with low frustration tolerance, or one who has just come off a
// cooldown-breaching streak of difficult cases, is removed from
// consideration regardless of skill match.
func excludedByWellbeing(agent directory.AgentSnapshot, in Input, cfg core.ThresholdsConfig, now time.Time) bool {
	if in.FrustrationLevel != core.FrustrationHigh && in.FrustrationLevel != core.FrustrationCritical {
		return false
	}
	if agent.FrustrationTolerance == directory.ToleranceLow {
		return true
	}
	cooldown := time.Duration(cfg.CooldownHours * float64(time.Hour))
	return !agent.LastDifficultCaseAt.IsZero() &&
		now.Sub(agent.LastDifficultCaseAt) < cooldown &&
		agent.ConsecutiveDifficultCases >= cfg.MaxConsecutive
}

func atLeastConversational(p directory.Proficiency) bool {
	switch p {
	case directory.ProficiencyIntermediate, directory.ProficiencyAdvanced, directory.ProficiencyExpert:
		return true
	default:
		return false
	}
}

// filterEligible returns the subset of snapshot passing the hard filters.
func filterEligible(snapshot []directory.AgentSnapshot, in Input, cfg core.ThresholdsConfig, now time.Time) []directory.AgentSnapshot {
	kept := make([]directory.AgentSnapshot, 0, len(snapshot))
	for _, agent := range snapshot {
		if eligible(agent, in, cfg, now) {
			kept = append(kept, agent)
		}
	}
	return kept
}

// anyExcludedByWellbeing reports whether the wellbeing hard filter
// (rather than offline status, capacity, or language mismatch) removed
// at least one agent from snapshot, so selection.go can label the
// resulting assignment "wellbeing_protection" per spec §8 Scenario S4.
func anyExcludedByWellbeing(snapshot []directory.AgentSnapshot, in Input, cfg core.ThresholdsConfig, now time.Time) bool {
	for _, agent := range snapshot {
		if excludedByWellbeing(agent, in, cfg, now) {
			return true
		}
	}
	return false
}
