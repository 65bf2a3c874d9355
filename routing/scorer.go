package routing

import (
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
)

// skillMatchScore implements spec §4.6.3's skill_match sub-score,
// normalized to [0,1] by dividing by the theoretical maximum for the
// given requirements.
func skillMatchScore(agent directory.AgentSnapshot, requiredSkills []string) float64 {
	if len(requiredSkills) == 0 {
		return 0.5
	}

	var earned, max float64
	for _, skill := range requiredSkills {
		max += 15 + 10 // exact-domain match + expert proficiency bonus, the ceiling per skill
		if prof, ok := agent.Skills[skill]; ok {
			earned += 15 // exact-domain match
			earned += proficiencyBonus(prof)
		}
	}

	earned += float64(yearsFromTier(agent.SkillTier)) * 0.5
	max += 10 * 0.5 // ceiling assumes an expert-tier 10+ years agent

	if subset(requiredSkills, agent.Specializations) {
		earned += 12
	}
	max += 12

	if agent.SkillTier == directory.SkillTierExpert {
		earned += 5 // certification-equivalent bonus for top-tier agents
	}
	max += 5

	if max == 0 {
		return 0
	}
	return clamp01(earned / max)
}

func proficiencyBonus(p directory.Proficiency) float64 {
	switch p {
	case directory.ProficiencyExpert:
		return 10
	case directory.ProficiencyAdvanced:
		return 7
	case directory.ProficiencyIntermediate:
		return 4
	case directory.ProficiencyBasic:
		return 1
	default:
		return 0
	}
}

func yearsFromTier(tier directory.SkillTier) int {
	switch tier {
	case directory.SkillTierExpert:
		return 10
	case directory.SkillTierSenior:
		return 6
	case directory.SkillTierIntermediate:
		return 3
	default:
		return 1
	}
}

func subset(required, have []string) bool {
	if len(required) == 0 {
		return false
	}
	haveSet := make(map[string]bool, len(have))
	for _, s := range have {
		haveSet[s] = true
	}
	for _, r := range required {
		if !haveSet[r] {
			return false
		}
	}
	return true
}

// availabilityScore implements spec §4.6.3's availability sub-score.
func availabilityScore(agent directory.AgentSnapshot, now time.Time) float64 {
	raw := statusScore(agent)
	raw -= 2 * float64(agent.CurrentWorkload)
	if agent.MaxConcurrentCases > 0 && agent.CurrentWorkload >= agent.MaxConcurrentCases {
		raw -= 15
	}

	minutesSinceAssignment := 0.0
	if !agent.StatusSince.IsZero() {
		minutesSinceAssignment = now.Sub(agent.StatusSince).Minutes()
		if minutesSinceAssignment > 60 {
			minutesSinceAssignment = 60
		}
	}
	raw += 0.1 * minutesSinceAssignment

	return clamp01((raw + 50) / 90) // rescale the roughly [-50,40] raw range into [0,1]
}

func statusScore(agent directory.AgentSnapshot) float64 {
	if agent.Status != core.AgentStatusAvailable && agent.Status != core.AgentStatusBusy {
		return -50
	}
	if agent.Status == core.AgentStatusAvailable {
		return 20
	}
	if agent.MaxConcurrentCases == 0 {
		return -5
	}
	load := float64(agent.CurrentWorkload) / float64(agent.MaxConcurrentCases)
	switch {
	case load < 0.5:
		return 10
	case load < 0.8:
		return 5
	default:
		return -5
	}
}

// performanceHistoryScore implements spec §4.6.3's performance_history
// sub-score against a baseline resolution time.
func performanceHistoryScore(m directory.RollingMetrics, baselineMinutes float64) float64 {
	satisfaction := 0.4 * m.CustomerSatisfactionAvg * 2.5
	resolutionDelta := (baselineMinutes - m.AvgResolutionMinutes) / baselineMinutes
	resolution := 0.3 * resolutionDelta * 10
	escalation := 0.2 * (-50 * m.EscalationRate)
	firstContact := 0.1 * (20 * m.FirstContactResolutionRate)
	raw := satisfaction + resolution + escalation + firstContact
	return clamp01((raw + 20) / 40)
}

// wellbeingScore implements spec §4.6.3's wellbeing sub-score.
func wellbeingScore(agent directory.AgentSnapshot, now time.Time) float64 {
	score := 1.0

	switch {
	case agent.ConsecutiveDifficultCases == 1:
		score -= 0.2 / 10
	case agent.ConsecutiveDifficultCases == 2:
		score -= 0.5 / 10
	case agent.ConsecutiveDifficultCases == 3:
		score -= 1.0 / 10
	case agent.ConsecutiveDifficultCases >= 4:
		score -= 2.0 / 10
	}

	if !agent.LastDifficultCaseAt.IsZero() {
		since := now.Sub(agent.LastDifficultCaseAt)
		switch {
		case since < time.Hour:
			score -= 0.5 / 10
		case since < 2*time.Hour:
			score -= 0.2 / 10
		case since < 4*time.Hour:
			// no adjustment
		default:
			score += 0.3 / 10
		}
	}

	score -= agent.StressScore * 1.0 / 10

	if !agent.LastBreakAt.IsZero() && now.Sub(agent.LastBreakAt) < 30*time.Minute {
		score += 0.1
	}

	return clamp01(score)
}

// customerFactorsScore implements spec §4.6.3's customer_factors sub-score.
func customerFactorsScore(agent directory.AgentSnapshot, in Input) float64 {
	score := 0.5
	if in.VIP && agent.SkillTier == directory.SkillTierExpert {
		score += 0.3
	}
	if in.RequiredLanguage != "" {
		if prof, ok := agent.Languages[in.RequiredLanguage]; ok && atLeastConversational(prof) {
			score += 0.2
		}
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const defaultBaselineResolutionMinutes = 20.0

// composite combines the five category sub-scores with the weight row
// for the request's priority (spec §4.6.2).
func composite(agent directory.AgentSnapshot, in Input, weights core.CategoryWeights, now time.Time) scored {
	sm := skillMatchScore(agent, in.RequiredSkills)
	av := availabilityScore(agent, now)
	ph := performanceHistoryScore(agent.RollingMetrics, defaultBaselineResolutionMinutes)
	wb := wellbeingScore(agent, now)
	cf := customerFactorsScore(agent, in)

	total := sm*weights.SkillMatch + av*weights.Availability + ph*weights.PerformanceHistory +
		wb*weights.Wellbeing + cf*weights.CustomerFactors

	return scored{agent: agent, composite: total, skillMatch: sm, availability: av}
}
