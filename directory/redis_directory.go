package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// claimTTL bounds how long a claim can survive an orphaned caller (e.g. a
// crashed scoring goroutine) before the lock self-expires, mirroring the
// teacher's registration TTL pattern in core/redis_registry.go.
const claimTTL = 30 * time.Second

// RedisDirectory is a Redis-backed Directory for multi-instance
// deployments, using DB core.RedisDBDirectory. Agent records are stored
// as JSON blobs; exclusive claims use SETNX as the atomic primitive.
type RedisDirectory struct {
	client *core.RedisClient
	logger core.Logger
}

// NewRedisDirectory wraps an already-connected namespaced Redis client.
func NewRedisDirectory(client *core.RedisClient, logger core.Logger) *RedisDirectory {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RedisDirectory{client: client, logger: logger}
}

func agentKey(agentID string) string      { return "agent:" + agentID }
func claimLockKey(agentID string) string  { return "claim_lock:" + agentID }
func claimTokenKey(token string) string   { return "claim_token:" + token }

func (d *RedisDirectory) loadAgent(ctx context.Context, agentID string) (*HumanAgent, error) {
	data, err := d.client.Get(ctx, agentKey(agentID))
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("directory.loadAgent %s: %w", agentID, core.ErrAgentNotFound)
		}
		return nil, fmt.Errorf("directory.loadAgent %s: %w", agentID, err)
	}
	var agent HumanAgent
	if err := json.Unmarshal([]byte(data), &agent); err != nil {
		return nil, fmt.Errorf("directory.loadAgent %s: corrupt record: %w", agentID, err)
	}
	return &agent, nil
}

func (d *RedisDirectory) saveAgent(ctx context.Context, agent *HumanAgent) error {
	data, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("directory.saveAgent %s: %w", agent.AgentID, err)
	}
	return d.client.Set(ctx, agentKey(agent.AgentID), data, 0)
}

// Register stores an agent's identity and resets real-time state.
func (d *RedisDirectory) Register(agent *HumanAgent) error {
	if agent == nil || agent.AgentID == "" {
		return fmt.Errorf("directory.Register: %w: agent_id required", core.ErrValidation)
	}
	ctx := context.Background()
	clone := *agent
	if clone.Status == "" {
		clone.Status = core.AgentStatusAvailable
	}
	clone.StatusSince = time.Now()
	return d.saveAgent(ctx, &clone)
}

// SnapshotAll scans every agent key under this directory's namespace.
func (d *RedisDirectory) SnapshotAll() ([]AgentSnapshot, error) {
	ctx := context.Background()
	pattern := d.client.Key(agentKey("*"))
	keys, err := d.client.Raw().Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("directory.SnapshotAll: %w: %v", core.ErrDirectorySnapshotError, err)
	}

	snapshots := make([]AgentSnapshot, 0, len(keys))
	for _, key := range keys {
		data, err := d.client.Raw().Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var agent HumanAgent
		if err := json.Unmarshal([]byte(data), &agent); err != nil {
			continue
		}
		snapshots = append(snapshots, agent)
	}
	return snapshots, nil
}

// ClaimForAssignment sets a SETNX lock keyed by agent id, the atomic
// primitive Redis offers for mutual exclusion without a Lua script.
func (d *RedisDirectory) ClaimForAssignment(agentID string) (string, error) {
	ctx := context.Background()

	agent, err := d.loadAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	if agent.Status != core.AgentStatusAvailable && agent.Status != core.AgentStatusBusy {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, core.ErrAgentOffline)
	}
	if agent.CurrentWorkload >= agent.MaxConcurrentCases {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, core.ErrAgentAtCapacity)
	}

	token := newClaimToken()
	ok, err := d.client.Raw().SetNX(ctx, d.client.Key(claimLockKey(agentID)), token, claimTTL).Result()
	if err != nil {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, err)
	}
	if !ok {
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, core.ErrClaimRejected)
	}

	if err := d.client.Set(ctx, claimTokenKey(token), agentID, claimTTL); err != nil {
		d.client.Del(ctx, claimLockKey(agentID))
		return "", fmt.Errorf("directory.ClaimForAssignment %s: %w", agentID, err)
	}
	return token, nil
}

func (d *RedisDirectory) resolveClaim(ctx context.Context, claimToken string) (string, error) {
	agentID, err := d.client.Get(ctx, claimTokenKey(claimToken))
	if err != nil {
		if err == redis.Nil {
			return "", fmt.Errorf("directory.resolveClaim: %w", core.ErrClaimRejected)
		}
		return "", err
	}
	held, err := d.client.Get(ctx, claimLockKey(agentID))
	if err != nil || held != claimToken {
		return "", fmt.Errorf("directory.resolveClaim %s: %w", agentID, core.ErrClaimRejected)
	}
	return agentID, nil
}

// CommitAssignment finalizes a claim: increments workload and releases
// the claim lock.
func (d *RedisDirectory) CommitAssignment(claimToken, requestID string) error {
	ctx := context.Background()
	agentID, err := d.resolveClaim(ctx, claimToken)
	if err != nil {
		return fmt.Errorf("directory.CommitAssignment: %w", err)
	}

	agent, err := d.loadAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.CurrentWorkload >= agent.MaxConcurrentCases {
		d.client.Del(ctx, claimLockKey(agentID), claimTokenKey(claimToken))
		return fmt.Errorf("directory.CommitAssignment %s: %w", agentID, core.ErrAgentAtCapacity)
	}

	agent.CurrentWorkload++
	agent.Status = core.AgentStatusBusy
	agent.StatusSince = time.Now()
	if err := d.saveAgent(ctx, agent); err != nil {
		return err
	}

	d.client.Del(ctx, claimLockKey(agentID), claimTokenKey(claimToken))
	d.logger.Info("assignment committed", map[string]interface{}{
		"agent_id":   agentID,
		"request_id": requestID,
		"workload":   agent.CurrentWorkload,
	})
	return nil
}

// ReleaseAssignment aborts a claim without mutating workload.
func (d *RedisDirectory) ReleaseAssignment(claimToken string) error {
	ctx := context.Background()
	agentID, err := d.client.Get(ctx, claimTokenKey(claimToken))
	if err != nil {
		return nil
	}
	d.client.Del(ctx, claimLockKey(agentID), claimTokenKey(claimToken))
	return nil
}

// UpdateOnCompletion folds a finished assignment's outcome into the
// agent's rolling metrics and difficult-case streak.
func (d *RedisDirectory) UpdateOnCompletion(agentID string, outcome CompletionOutcome) error {
	ctx := context.Background()
	agent, err := d.loadAgent(ctx, agentID)
	if err != nil {
		return err
	}

	if agent.CurrentWorkload > 0 {
		agent.CurrentWorkload--
	}

	alpha := core.SatisfactionEWMAAlpha
	if outcome.SatisfactionRating != nil {
		agent.RollingMetrics.CustomerSatisfactionAvg = ewma(agent.RollingMetrics.CustomerSatisfactionAvg, *outcome.SatisfactionRating, alpha)
	}
	if outcome.ResolutionMinutes != nil {
		agent.RollingMetrics.AvgResolutionMinutes = ewma(agent.RollingMetrics.AvgResolutionMinutes, *outcome.ResolutionMinutes, alpha)
	}
	escalationSample := 0.0
	if outcome.Escalated {
		escalationSample = 1.0
	}
	agent.RollingMetrics.EscalationRate = ewma(agent.RollingMetrics.EscalationRate, escalationSample, alpha)

	fcrSample := 0.0
	if outcome.Resolved && !outcome.Escalated {
		fcrSample = 1.0
	}
	agent.RollingMetrics.FirstContactResolutionRate = ewma(agent.RollingMetrics.FirstContactResolutionRate, fcrSample, alpha)

	if outcome.Difficult {
		agent.ConsecutiveDifficultCases++
		agent.LastDifficultCaseAt = time.Now()
	} else {
		agent.ConsecutiveDifficultCases = 0
	}

	return d.saveAgent(ctx, agent)
}

// SetStatus updates an agent's real-time availability state.
func (d *RedisDirectory) SetStatus(agentID string, status core.AgentStatus, reason string) error {
	ctx := context.Background()
	agent, err := d.loadAgent(ctx, agentID)
	if err != nil {
		return err
	}
	agent.Status = status
	agent.StatusSince = time.Now()
	if status == core.AgentStatusBreak {
		agent.LastBreakAt = time.Now()
	}
	if err := d.saveAgent(ctx, agent); err != nil {
		return err
	}
	d.logger.Info("agent status changed", map[string]interface{}{
		"agent_id": agentID,
		"status":   string(status),
		"reason":   reason,
	})
	return nil
}

// RecalculateStress scans every agent and reapplies the §4.6.3 stress
// formula, saving each record back individually (best-effort, not
// transactional — acceptable for a periodic background tick).
func (d *RedisDirectory) RecalculateStress(cfg StressConfig) error {
	ctx := context.Background()
	snapshots, err := d.SnapshotAll()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, agent := range snapshots {
		workloadIntensity := 0.0
		if agent.MaxConcurrentCases > 0 {
			workloadIntensity = float64(agent.CurrentWorkload) / float64(agent.MaxConcurrentCases)
		}
		difficultyFactor := clamp01(float64(agent.ConsecutiveDifficultCases) / 4.0)

		breakRecencyRelief := 0.0
		if !agent.LastBreakAt.IsZero() {
			sinceBreak := now.Sub(agent.LastBreakAt)
			if sinceBreak < cfg.Window {
				breakRecencyRelief = 1.0 - (float64(sinceBreak) / float64(cfg.Window))
			}
		}

		stress := clamp01(0.45*workloadIntensity + 0.40*difficultyFactor - 0.25*breakRecencyRelief)
		agent.StressScore = stress

		if stress > cfg.StressBreakThreshold && agent.Status != core.AgentStatusBreak {
			agent.Status = core.AgentStatusBreak
			agent.StatusSince = now
			agent.LastBreakAt = now
		} else if agent.Status == core.AgentStatusBreak && now.Sub(agent.StatusSince) >= cfg.BreakMinDuration && stress <= cfg.StressBreakThreshold {
			agent.Status = core.AgentStatusAvailable
			agent.StatusSince = now
		}

		a := agent
		if err := d.saveAgent(ctx, &a); err != nil {
			d.logger.Error("stress tick failed to save agent", map[string]interface{}{"agent_id": a.AgentID, "error": err.Error()})
		}
	}
	return nil
}
