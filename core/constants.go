package core

import "time"

// Priority buckets and their queue ordering rank (spec §4.7.1).
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// PriorityRank returns the tuple-ordering rank used by the queue:
// (priority_rank DESC, enqueued_at ASC).
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// FrustrationLevel is the bucketed output of the FrustrationAnalyzer.
type FrustrationLevel string

const (
	FrustrationLow      FrustrationLevel = "LOW"
	FrustrationModerate FrustrationLevel = "MODERATE"
	FrustrationHigh     FrustrationLevel = "HIGH"
	FrustrationCritical FrustrationLevel = "CRITICAL"
)

// QualityVerdict is the output of QualityGate.
type QualityVerdict string

const (
	QualityAdequate         QualityVerdict = "ADEQUATE"
	QualityNeedsAdjustment  QualityVerdict = "NEEDS_ADJUSTMENT"
	QualityHumanIntervention QualityVerdict = "HUMAN_INTERVENTION"
)

// WorkflowStatus is the caller-visible lifecycle status of a Request.
type WorkflowStatus string

const (
	WorkflowDelivered          WorkflowStatus = "delivered"
	WorkflowQueued             WorkflowStatus = "queued"
	WorkflowAssigned           WorkflowStatus = "assigned"
	WorkflowFailed             WorkflowStatus = "failed"
	WorkflowRejectedBackpressure WorkflowStatus = "rejected_backpressure"
	WorkflowCancelled          WorkflowStatus = "cancelled"
)

// QueueEntryState tracks the assignment lifecycle of spec §4.7.2.
type QueueEntryState string

const (
	QueueStateQueued      QueueEntryState = "queued"
	QueueStateAssigned    QueueEntryState = "assigned"
	QueueStateInProgress  QueueEntryState = "in_progress"
	QueueStateCompleted   QueueEntryState = "completed"
	QueueStateEscalated   QueueEntryState = "escalated"
	QueueStateTransferred QueueEntryState = "transferred"
	QueueStateCancelled   QueueEntryState = "cancelled"
)

// AgentStatus is a human agent's real-time availability state.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusBreak     AgentStatus = "break"
	AgentStatusMeeting   AgentStatus = "meeting"
	AgentStatusTraining  AgentStatus = "training"
	AgentStatusOffline   AgentStatus = "offline"
)

// Per-stage deadlines, per spec §5.
const (
	DeadlineStage           = 30 * time.Second
	DeadlineQualityRewrite  = 15 * time.Second
	DeadlineFrustration     = 10 * time.Second
	DeadlineRoutingScoring  = 2 * time.Second
	DeadlineSingleLLMCall   = 20 * time.Second
)

// EWMA smoothing factor for agent performance metrics (spec §4.7.2).
const SatisfactionEWMAAlpha = 0.2

// Environment variables recognized as overrides over the YAML config.
const (
	EnvName      = "HITL_NAME"
	EnvAddress   = "HITL_ADDRESS"
	EnvPort      = "HITL_PORT"
	EnvLogLevel  = "HITL_LOG_LEVEL"
	EnvLogFormat = "HITL_LOG_FORMAT"
	EnvLogOutput = "HITL_LOG_OUTPUT"
	EnvDebug     = "HITL_DEBUG"
	EnvRedisURL  = "HITL_REDIS_URL"
	EnvAWSRegion = "HITL_AWS_REGION"
)

// Redis key prefix for all HITL-owned keys, namespacing this service's
// data within a shared Redis deployment.
const DefaultRedisKeyPrefix = "hitl:"
