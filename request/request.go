// Package request defines Request, the per-submission state object
// driven sequentially through the pipeline stages (spec §3). A Request
// is moved between stages by value transfer (Acquire/Release around a
// single owning goroutine), never shared as a mutable bag — the design
// the teacher's workflow engine approximates with WorkflowExecution
// but without an enforced single-writer guard, which this package adds.
package request

import (
	"fmt"
	"sync"
	"time"
)

// Role identifies the speaker of a transcript message.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleChatbot       Role = "chatbot"
	RoleQualityRewrite Role = "quality_rewrite"
	RoleHuman         Role = "human"
	RoleSystem        Role = "system"
)

// Message is one entry of the append-only transcript.
type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AutomationOutcome is the result classification of the Automation stage.
type AutomationOutcome string

const (
	AutomationCompleted  AutomationOutcome = "completed"
	AutomationPartial    AutomationOutcome = "partial"
	AutomationUnresolved AutomationOutcome = "unresolved"
)

// AutomationResult is the optional output of the Automation stage.
type AutomationResult struct {
	TaskID  string            `json:"task_id"`
	Outcome AutomationOutcome `json:"outcome"`
	Payload map[string]string `json:"payload,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// ChatbotOutput is the optional output of the Chatbot stage.
type ChatbotOutput struct {
	Text          string  `json:"text"`
	SurfaceAffect string  `json:"surface_affect,omitempty"`
	Confidence    float64 `json:"confidence"`
	TokensUsed    int     `json:"tokens_used"`
}

// QualityDimensions are the five rubric sub-scores QualityGate assigns.
type QualityDimensions struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	Service      float64 `json:"service"`
	Contextual   float64 `json:"contextual"`
}

// QualityAssessment is the optional output of the QualityGate stage.
type QualityAssessment struct {
	Score      float64           `json:"score"`
	Verdict    string            `json:"verdict"` // ADEQUATE | NEEDS_ADJUSTMENT | HUMAN_INTERVENTION
	Dimensions QualityDimensions `json:"dimensions"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// FrustrationAssessment is the optional output of the FrustrationAnalyzer stage.
type FrustrationAssessment struct {
	Level      string   `json:"level"` // LOW | MODERATE | HIGH | CRITICAL
	Score      float64  `json:"score"`
	Trend      string   `json:"trend"` // stable | rising | falling | unknown
	Indicators []string `json:"indicators,omitempty"`
}

// ContextSummaries holds the per-consumer summaries the ContextManager
// stage tailors from the same retrieved sources.
type ContextSummaries struct {
	ForAI      string `json:"for_ai,omitempty"`
	ForHuman   string `json:"for_human,omitempty"`
	ForRouting string `json:"for_routing,omitempty"`
	ForQuality string `json:"for_quality,omitempty"`
}

// ContextBundle is the optional output of the ContextManager stage.
type ContextBundle struct {
	Sources   []string         `json:"sources,omitempty"`
	Relevance []float64        `json:"relevance,omitempty"`
	Summaries ContextSummaries `json:"summaries"`
}

// RoutingDecision is the optional output of the RoutingScorer stage.
type RoutingDecision struct {
	AssignedAgentID string   `json:"assigned_agent_id,omitempty"`
	Strategy        string   `json:"strategy,omitempty"`
	RequiredSkills  []string `json:"required_skills,omitempty"`
	Priority        string   `json:"priority"`
	Complexity      string   `json:"complexity"`
	MatchScore      float64  `json:"match_score"`
	Confidence      float64  `json:"confidence"`
	FallbackRank    []string `json:"fallback_rank,omitempty"`

	// Degraded and timeout flags, modeled as explicit fields rather than
	// log lines only (SPEC_FULL.md "Supplemented features").
	DegradedRouting bool `json:"degraded_routing,omitempty"`
	RoutingTimeout  bool `json:"routing_timeout,omitempty"`
}

// Telemetry tracks monotonically non-decreasing usage across the pipeline.
type Telemetry struct {
	StageDurations map[string]time.Duration `json:"stage_durations"`
	TokensTotal    int                      `json:"tokens_total"`
	CostTotal      float64                  `json:"cost_total"`
	Retries        map[string]int           `json:"retries"`
}

// WorkflowStatus is the caller-visible lifecycle status of a Request.
type WorkflowStatus string

const (
	StatusInProgress WorkflowStatus = "in_progress"
	StatusDelivered  WorkflowStatus = "delivered"
	StatusQueued     WorkflowStatus = "queued"
	StatusAssigned   WorkflowStatus = "assigned"
	StatusAbandoned  WorkflowStatus = "abandoned"
	StatusFailed     WorkflowStatus = "failed"
)

// terminalStatuses are the workflow_status values after which no further
// stage mutation is permitted (spec §3 invariant).
var terminalStatuses = map[WorkflowStatus]bool{
	StatusDelivered: true,
	StatusAssigned:  true,
	StatusAbandoned: true,
	StatusFailed:    true,
}

// Request is the per-submission state object. Exactly one stage may
// hold an *unlocked* Request at a time; Acquire/Release enforce this at
// runtime so a programmer error (two goroutines mutating the same
// Request concurrently) fails loudly instead of corrupting state.
type Request struct {
	RequestID string    `json:"request_id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	QueryText string    `json:"query_text"`

	Messages []Message `json:"messages"`

	AutomationResult      *AutomationResult      `json:"automation_result,omitempty"`
	ChatbotOutput          *ChatbotOutput          `json:"chatbot_output,omitempty"`
	QualityAssessment      *QualityAssessment      `json:"quality_assessment,omitempty"`
	FrustrationAssessment  *FrustrationAssessment  `json:"frustration_assessment,omitempty"`
	ContextBundle          *ContextBundle          `json:"context_bundle,omitempty"`
	RoutingDecision        *RoutingDecision        `json:"routing_decision,omitempty"`

	FinalResponse  string         `json:"final_response,omitempty"`
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	Telemetry      Telemetry      `json:"telemetry"`

	mu     sync.Mutex
	owner  string
}

// New creates a Request in the in_progress state, ready for the first stage.
func New(requestID, userID, sessionID, queryText string, now time.Time) *Request {
	return &Request{
		RequestID:      requestID,
		UserID:         userID,
		SessionID:      sessionID,
		CreatedAt:      now,
		QueryText:      queryText,
		WorkflowStatus: StatusInProgress,
		Messages: []Message{
			{Role: RoleCustomer, Text: queryText, Timestamp: now},
		},
		Telemetry: Telemetry{
			StageDurations: make(map[string]time.Duration),
			Retries:        make(map[string]int),
		},
	}
}

// Acquire claims exclusive ownership of the Request for stage. It
// returns an error if the Request is already terminal (no further
// mutation permitted) or already owned by a different stage, which
// would indicate two stages racing on the same Request — a programmer
// error per spec §8 testable property 5 ("exactly one stage writes R
// at any instant").
func (r *Request) Acquire(stage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if terminalStatuses[r.WorkflowStatus] {
		return fmt.Errorf("request %s is terminal (%s): %s cannot acquire", r.RequestID, r.WorkflowStatus, stage)
	}
	if r.owner != "" {
		return fmt.Errorf("request %s already owned by %q: %s cannot acquire", r.RequestID, r.owner, stage)
	}
	r.owner = stage
	return nil
}

// Release relinquishes ownership claimed by the matching Acquire call.
func (r *Request) Release(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owner == stage {
		r.owner = ""
	}
}

// AppendMessage appends to the transcript. Caller must hold ownership
// (have called Acquire) for the stage recording the message.
func (r *Request) AppendMessage(role Role, text string, now time.Time) {
	r.Messages = append(r.Messages, Message{Role: role, Text: text, Timestamp: now})
}

// AddUsage folds a stage's token/cost/duration/retry counters into the
// Request's running telemetry, keeping the monotonic-non-decreasing
// invariant (spec §8 testable property 1) by construction — it only adds.
func (r *Request) AddUsage(stage string, duration time.Duration, tokens int, cost float64, retries int) {
	r.Telemetry.StageDurations[stage] += duration
	r.Telemetry.TokensTotal += tokens
	r.Telemetry.CostTotal += cost
	if retries > 0 {
		r.Telemetry.Retries[stage] += retries
	}
}

// Terminate sets the final workflow_status and, where applicable, the
// final_response. It enforces the invariant that HUMAN_INTERVENTION or
// CRITICAL frustration must carry a RoutingDecision before termination
// as delivered or assigned; every other status (queued, failed,
// abandoned) is accepted without one.
func (r *Request) Terminate(status WorkflowStatus, finalResponse string) error {
	if status == StatusDelivered || status == StatusAssigned {
		needsRouting := (r.QualityAssessment != nil && r.QualityAssessment.Verdict == "HUMAN_INTERVENTION") ||
			(r.FrustrationAssessment != nil && r.FrustrationAssessment.Level == "CRITICAL")
		if needsRouting && r.RoutingDecision == nil {
			return fmt.Errorf("request %s: cannot terminate as %s without a routing_decision (invariant violation)", r.RequestID, status)
		}
	}
	r.WorkflowStatus = status
	if finalResponse != "" {
		r.FinalResponse = finalResponse
	}
	return nil
}

// IsTerminal reports whether the Request has reached a terminal workflow_status.
func (r *Request) IsTerminal() bool {
	return terminalStatuses[r.WorkflowStatus]
}

// NeedsHumanRouting reports whether the accumulated assessments require
// the RoutingScorer to run (HUMAN_INTERVENTION verdict or CRITICAL
// frustration), per the §2 short-circuit rule.
func (r *Request) NeedsHumanRouting() bool {
	if r.QualityAssessment != nil && r.QualityAssessment.Verdict == "HUMAN_INTERVENTION" {
		return true
	}
	if r.FrustrationAssessment != nil && r.FrustrationAssessment.Level == "CRITICAL" {
		return true
	}
	return false
}
