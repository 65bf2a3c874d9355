package directory

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// record is the mutable entry the in-memory directory stores per agent,
// wrapping HumanAgent with the exclusive-claim bookkeeping needed by
// ClaimForAssignment/CommitAssignment/ReleaseAssignment.
type record struct {
	agent     HumanAgent
	claimedBy string
}

// MemoryDirectory is an in-process Directory, suitable for tests and
// single-instance deployments (mirrors core.InMemoryStore's locking style).
type MemoryDirectory struct {
	mu     sync.Mutex
	agents map[string]*record
	claims map[string]string // claim token -> agent id
	logger core.Logger
	clock  func() time.Time
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory(logger core.Logger) *MemoryDirectory {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &MemoryDirectory{
		agents: make(map[string]*record),
		claims: make(map[string]string),
		logger: logger,
		clock:  time.Now,
	}
}

func (d *MemoryDirectory) now() time.Time { return d.clock() }

// Register adds or replaces an agent's identity and resets its real-time
// state to available/idle.
func (d *MemoryDirectory) Register(agent *HumanAgent) error {
	if agent == nil || agent.AgentID == "" {
		return fmt.Errorf("directory.Register: %w: agent_id required", core.ErrValidation)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	clone := *agent
	if clone.Status == "" {
		clone.Status = core.AgentStatusAvailable
	}
	clone.StatusSince = d.now()
	d.agents[agent.AgentID] = &record{agent: clone}

	d.logger.Info("agent registered", map[string]interface{}{
		"agent_id":   agent.AgentID,
		"skill_tier": string(agent.SkillTier),
	})
	return nil
}

// SnapshotAll returns a value-copy view of every known agent.
func (d *MemoryDirectory) SnapshotAll() ([]AgentSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshots := make([]AgentSnapshot, 0, len(d.agents))
	for _, r := range d.agents {
		snapshots = append(snapshots, r.agent)
	}
	return snapshots, nil
}

// ClaimForAssignment atomically reserves an agent for an in-flight
// assignment attempt. The claim must be committed or released; an
// unreleased claim permanently blocks the agent, so callers must always
// pair this with a commit or release (typically via defer on failure).
func (d *MemoryDirectory) ClaimForAssignment(agentID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.agents[agentID]
	if !ok {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, core.ErrAgentNotFound)
	}
	if r.claimedBy != "" {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, core.ErrClaimRejected)
	}
	if r.agent.Status != core.AgentStatusAvailable && r.agent.Status != core.AgentStatusBusy {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, core.ErrAgentOffline)
	}
	if r.agent.CurrentWorkload >= r.agent.MaxConcurrentCases {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, core.ErrAgentAtCapacity)
	}

	token := newClaimToken()
	r.claimedBy = token
	d.claims[token] = agentID
	return token, nil
}

// CommitAssignment finalizes a claim: increments workload and consumes
// the token. The invariant current_workload ≤ max_concurrent_cases is
// re-checked here since time may have passed since the claim.
func (d *MemoryDirectory) CommitAssignment(claimToken, requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agentID, ok := d.claims[claimToken]
	if !ok {
		return fmt.Errorf("directory.CommitAssignment: %w", core.ErrClaimRejected)
	}
	r := d.agents[agentID]
	if r == nil || r.claimedBy != claimToken {
		return fmt.Errorf("directory.CommitAssignment %s: %w", agentID, core.ErrClaimRejected)
	}
	if r.agent.CurrentWorkload >= r.agent.MaxConcurrentCases {
		delete(d.claims, claimToken)
		r.claimedBy = ""
		return fmt.Errorf("directory.CommitAssignment %s: %w", agentID, core.ErrAgentAtCapacity)
	}

	r.agent.CurrentWorkload++
	r.agent.Status = core.AgentStatusBusy
	r.agent.StatusSince = d.now()
	r.claimedBy = ""
	delete(d.claims, claimToken)

	d.logger.Info("assignment committed", map[string]interface{}{
		"agent_id":   agentID,
		"request_id": requestID,
		"workload":   r.agent.CurrentWorkload,
	})
	return nil
}

// ReleaseAssignment aborts a claim without mutating workload, freeing the
// agent for the next scoring pass.
func (d *MemoryDirectory) ReleaseAssignment(claimToken string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	agentID, ok := d.claims[claimToken]
	if !ok {
		return nil
	}
	if r := d.agents[agentID]; r != nil && r.claimedBy == claimToken {
		r.claimedBy = ""
	}
	delete(d.claims, claimToken)
	return nil
}

// UpdateOnCompletion folds a finished assignment's outcome into the
// rolling metrics (EWMA, alpha = core.SatisfactionEWMAAlpha) and the
// consecutive-difficult-cases streak used by the wellbeing filter.
func (d *MemoryDirectory) UpdateOnCompletion(agentID string, outcome CompletionOutcome) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("directory.UpdateOnCompletion %s: %w", agentID, core.ErrAgentNotFound)
	}

	if r.agent.CurrentWorkload > 0 {
		r.agent.CurrentWorkload--
	}

	alpha := core.SatisfactionEWMAAlpha
	if outcome.SatisfactionRating != nil {
		r.agent.RollingMetrics.CustomerSatisfactionAvg = ewma(r.agent.RollingMetrics.CustomerSatisfactionAvg, *outcome.SatisfactionRating, alpha)
	}
	if outcome.ResolutionMinutes != nil {
		r.agent.RollingMetrics.AvgResolutionMinutes = ewma(r.agent.RollingMetrics.AvgResolutionMinutes, *outcome.ResolutionMinutes, alpha)
	}
	escalationSample := 0.0
	if outcome.Escalated {
		escalationSample = 1.0
	}
	r.agent.RollingMetrics.EscalationRate = ewma(r.agent.RollingMetrics.EscalationRate, escalationSample, alpha)

	fcrSample := 0.0
	if outcome.Resolved && !outcome.Escalated {
		fcrSample = 1.0
	}
	r.agent.RollingMetrics.FirstContactResolutionRate = ewma(r.agent.RollingMetrics.FirstContactResolutionRate, fcrSample, alpha)

	if outcome.Difficult {
		r.agent.ConsecutiveDifficultCases++
		r.agent.LastDifficultCaseAt = d.now()
	} else {
		r.agent.ConsecutiveDifficultCases = 0
	}

	return nil
}

// SetStatus updates an agent's real-time availability state.
func (d *MemoryDirectory) SetStatus(agentID string, status core.AgentStatus, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.agents[agentID]
	if !ok {
		return fmt.Errorf("directory.SetStatus %s: %w", agentID, core.ErrAgentNotFound)
	}
	r.agent.Status = status
	r.agent.StatusSince = d.now()
	if status == core.AgentStatusBreak {
		r.agent.LastBreakAt = d.now()
	}

	d.logger.Info("agent status changed", map[string]interface{}{
		"agent_id": agentID,
		"status":   string(status),
		"reason":   reason,
	})
	return nil
}

// RecalculateStress implements the §4.6.3 background stress tick: it
// derives each agent's stress_score from workload intensity, consecutive
// difficult cases, and break recency, forcing agents over the threshold
// onto break for at least cfg.BreakMinDuration.
func (d *MemoryDirectory) RecalculateStress(cfg StressConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for _, r := range d.agents {
		workloadIntensity := 0.0
		if r.agent.MaxConcurrentCases > 0 {
			workloadIntensity = float64(r.agent.CurrentWorkload) / float64(r.agent.MaxConcurrentCases)
		}
		difficultyFactor := clamp01(float64(r.agent.ConsecutiveDifficultCases) / 4.0)

		breakRecencyRelief := 0.0
		if !r.agent.LastBreakAt.IsZero() {
			sinceBreak := now.Sub(r.agent.LastBreakAt)
			if sinceBreak < cfg.Window {
				breakRecencyRelief = 1.0 - (float64(sinceBreak) / float64(cfg.Window))
			}
		}

		stress := clamp01(0.45*workloadIntensity + 0.40*difficultyFactor - 0.25*breakRecencyRelief)
		r.agent.StressScore = stress

		if stress > cfg.StressBreakThreshold && r.agent.Status != core.AgentStatusBreak {
			r.agent.Status = core.AgentStatusBreak
			r.agent.StatusSince = now
			r.agent.LastBreakAt = now
			d.logger.Warn("agent forced onto break by stress tick", map[string]interface{}{
				"agent_id":     r.agent.AgentID,
				"stress_score": stress,
			})
		} else if r.agent.Status == core.AgentStatusBreak && now.Sub(r.agent.StatusSince) >= cfg.BreakMinDuration && stress <= cfg.StressBreakThreshold {
			r.agent.Status = core.AgentStatusAvailable
			r.agent.StatusSince = now
		}
	}
	return nil
}

func ewma(prev, sample, alpha float64) float64 {
	if prev == 0 {
		return sample
	}
	return alpha*sample + (1-alpha)*prev
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

func newClaimToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
