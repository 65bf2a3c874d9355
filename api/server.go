// Package api provides the inbound HTTP surface of the HITL support
// orchestrator (spec §6.1): submit, status query, cancel, and
// human_complete, plus the status/drain/reload-config control surface
// of spec §6.6. Grounded on the teacher's orchestration/hitl_api.go and
// orchestration/task_api.go handler style: stdlib net/http, a small
// writeJSON/writeError pair, structured context-aware logging, and
// telemetry span events/counters around every handler.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
	"github.com/itsneelabh/hitl-orchestrator/pipeline"
	"github.com/itsneelabh/hitl-orchestrator/queue"
	"github.com/itsneelabh/hitl-orchestrator/request"
	"github.com/itsneelabh/hitl-orchestrator/telemetry"
)

// difficultCaseSatisfactionFloor classifies a human_complete outcome as
// "difficult" (feeding the wellbeing cooldown filter, routing/filters.go)
// whenever it was escalated or the customer rated it below this floor.
const difficultCaseSatisfactionFloor = 0.4

// Server wires the inbound API and control surface over an already
// constructed Pipeline, RequestStore, Directory, Queue, and ConfigStore.
// It holds no business logic of its own beyond request/response
// shaping and dispatch, the same separation the teacher's HITLHandler
// keeps from InterruptController/CheckpointStore.
type Server struct {
	pipeline    *pipeline.Pipeline
	store       *RequestStore
	dir         directory.Directory
	q           queue.Queue
	configStore *core.ConfigStore
	logger      core.Logger
	draining    atomic.Bool
}

// NewServer builds a Server. configStore may be nil, in which case
// reload-config always fails with 503 "no config store configured".
func NewServer(p *pipeline.Pipeline, store *RequestStore, dir directory.Directory, q queue.Queue, configStore *core.ConfigStore, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("api")
	}
	return &Server{pipeline: p, store: store, dir: dir, q: q, configStore: configStore, logger: logger}
}

// RegisterRoutes registers every handler on mux. Callers typically wrap
// the result with telemetry.TracingMiddleware and core.LoggingMiddleware
// before starting http.Serve (see cmd/hitl-orchestrator/main.go).
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/requests", s.HandleSubmit)
	mux.HandleFunc("/v1/requests/", s.handleRequestSubresource)
	mux.HandleFunc("/v1/control/status", s.HandleControlStatus)
	mux.HandleFunc("/v1/control/drain", s.HandleControlDrain)
	mux.HandleFunc("/v1/control/reload-config", s.HandleControlReloadConfig)
	mux.HandleFunc("/v1/control/telemetry-health", telemetry.HealthHandler)
}

// -----------------------------------------------------------------------------
// Inbound API (spec §6.1)
// -----------------------------------------------------------------------------

// HandleSubmit implements submit(user_id, session_id, query_text,
// optional additional_context) -> Request handle. It never blocks on
// pipeline completion: the pipeline runs in a background goroutine and
// the caller polls the returned request_id via handleRequestSubresource.
func (s *Server) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}
	if s.draining.Load() {
		s.writeError(w, http.StatusServiceUnavailable, "orchestrator is draining, not accepting new submissions")
		return
	}

	var body SubmitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if body.UserID == "" || body.SessionID == "" || body.QueryText == "" {
		s.writeError(w, http.StatusBadRequest, "user_id, session_id, and query_text are required")
		return
	}

	requestID := uuid.NewString()
	now := time.Now()
	req := request.New(requestID, body.UserID, body.SessionID, body.QueryText, now)
	if len(body.AdditionalContext) > 0 {
		req.AppendMessage(request.RoleSystem, formatAdditionalContext(body.AdditionalContext), now)
	}
	s.store.Put(req)

	telemetry.AddSpanEvent(ctx, "api.submit.received", attribute.String("request_id", requestID))
	s.logger.InfoWithContext(ctx, "request submitted", map[string]interface{}{
		"operation":  "api_submit",
		"request_id": requestID,
		"user_id":    body.UserID,
	})

	go s.runPipeline(req)

	telemetry.Counter("hitl_orchestrator.api.submit", "module", "api")
	s.writeJSON(w, http.StatusAccepted, SubmitResponse{RequestID: requestID, Status: string(req.WorkflowStatus)})
}

// runPipeline drives req through the pipeline on its own goroutine.
// Background processing uses a fresh context rather than the
// now-closed HTTP request context, since the customer's response is
// not tied to the lifetime of the submit call.
func (s *Server) runPipeline(req *request.Request) {
	ctx := context.Background()
	if err := s.pipeline.Process(ctx, req); err != nil {
		s.logger.ErrorWithContext(ctx, "pipeline processing failed", map[string]interface{}{
			"operation":  "api_pipeline_run",
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		_ = req.Terminate(request.StatusFailed, "")
		telemetry.Counter("hitl_orchestrator.api.pipeline_failed", "module", "api")
	}
}

// handleRequestSubresource dispatches GET/POST /v1/requests/{id}[/cancel|/human_complete],
// mirroring the teacher's prefix-matched path parsing in HandleResume/HandleGetCheckpoint.
func (s *Server) handleRequestSubresource(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusBadRequest, "request_id is required in path")
		return
	}

	requestID := parts[0]
	switch {
	case len(parts) == 1:
		s.handleStatus(w, r, requestID)
	case len(parts) == 2 && parts[1] == "cancel":
		s.handleCancel(w, r, requestID)
	case len(parts) == 2 && parts[1] == "human_complete":
		s.handleHumanComplete(w, r, requestID)
	default:
		s.writeError(w, http.StatusNotFound, "unknown request sub-resource")
	}
}

// handleStatus answers the handle query of spec §6.1: {status,
// final_response?, assigned_agent_id?, queue_position?,
// estimated_assignment_at?}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use GET")
		return
	}
	req, ok := s.store.Get(requestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("request %s not found", requestID))
		return
	}

	resp := StatusResponse{
		RequestID:     req.RequestID,
		Status:        string(req.WorkflowStatus),
		FinalResponse: req.FinalResponse,
	}
	if req.RoutingDecision != nil {
		resp.AssignedAgentID = req.RoutingDecision.AssignedAgentID
	}
	if entry, err := lookupQueueEntry(s.q, requestID); err == nil && entry != nil {
		position := entry.Position
		eta := entry.EstimatedAssignmentAt
		resp.QueuePosition = &position
		resp.EstimatedAssignmentAt = &eta
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleCancel implements cancel(request_id). Cancellation is idempotent
// (spec §7 "abandoned") — calling it twice, or after the request has
// already reached a terminal status, simply reports the current status.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, requestID string) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}
	req, ok := s.store.Get(requestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("request %s not found", requestID))
		return
	}

	if req.IsTerminal() {
		s.writeJSON(w, http.StatusOK, StatusResponse{RequestID: requestID, Status: string(req.WorkflowStatus)})
		return
	}

	if err := req.Acquire("cancel"); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	defer req.Release("cancel")

	if entry, err := lookupQueueEntry(s.q, requestID); err == nil && entry != nil {
		if cancelErr := s.q.Cancel(entry.EntryID); cancelErr != nil {
			s.logger.WarnWithContext(ctx, "cancel: failed to remove queue entry", map[string]interface{}{
				"operation":  "api_cancel",
				"request_id": requestID,
				"entry_id":   entry.EntryID,
				"error":      cancelErr.Error(),
			})
		}
	}

	if err := req.Terminate(request.StatusAbandoned, ""); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	telemetry.Counter("hitl_orchestrator.api.cancel", "module", "api")
	s.writeJSON(w, http.StatusOK, StatusResponse{RequestID: requestID, Status: string(req.WorkflowStatus)})
}

// handleHumanComplete implements human_complete(request_id,
// satisfaction_rating, escalated_flag): folds the outcome into the
// assigned agent's rolling metrics via the directory.
func (s *Server) handleHumanComplete(w http.ResponseWriter, r *http.Request, requestID string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}
	req, ok := s.store.Get(requestID)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("request %s not found", requestID))
		return
	}
	if req.RoutingDecision == nil || req.RoutingDecision.AssignedAgentID == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("request %s was never assigned to a human agent", requestID))
		return
	}

	var body HumanCompleteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}

	outcome := directory.CompletionOutcome{
		Resolved:           !body.EscalatedFlag,
		Escalated:          body.EscalatedFlag,
		Difficult:          body.EscalatedFlag || (body.SatisfactionRating != nil && *body.SatisfactionRating < difficultCaseSatisfactionFloor),
		SatisfactionRating: body.SatisfactionRating,
	}
	if err := s.dir.UpdateOnCompletion(req.RoutingDecision.AssignedAgentID, outcome); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to update agent on completion: %s", err.Error()))
		return
	}

	// A request the pipeline assigned is already terminal; human_complete
	// records the human-side outcome without re-opening that status. A
	// request still in a non-terminal status (such as queued) is closed
	// here as delivered.
	if !req.IsTerminal() {
		_ = req.Terminate(request.StatusDelivered, "")
	}

	telemetry.Counter("hitl_orchestrator.api.human_complete", "module", "api",
		"escalated", fmt.Sprintf("%t", body.EscalatedFlag))
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// lookupQueueEntry finds the still-queued Entry for requestID, if any,
// using the read-only match predicate PeekForAgent already exposes
// rather than widening the Queue interface with a dedicated lookup.
func lookupQueueEntry(q queue.Queue, requestID string) (*queue.Entry, error) {
	return q.PeekForAgent(func(e queue.Entry) (float64, bool) {
		return 1, e.RequestID == requestID
	})
}

func formatAdditionalContext(ctx map[string]string) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("additional_context:")
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, ctx[k])
	}
	return b.String()
}

// -----------------------------------------------------------------------------
// Control surface (spec §6.6)
// -----------------------------------------------------------------------------

// ControlStatusResponse is the `status` control-surface operation's body:
// counts of in-flight requests, queue length per priority, and agent states.
type ControlStatusResponse struct {
	InFlightRequests  int                      `json:"in_flight_requests"`
	QueueByPriority   map[core.Priority]int    `json:"queue_by_priority"`
	AgentStatusCounts map[core.AgentStatus]int `json:"agent_status_counts"`
	Draining          bool                     `json:"draining"`
}

// HandleControlStatus implements the `status` control operation.
func (s *Server) HandleControlStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use GET")
		return
	}

	resp := ControlStatusResponse{
		InFlightRequests:  s.store.CountInFlight(),
		QueueByPriority:   map[core.Priority]int{},
		AgentStatusCounts: map[core.AgentStatus]int{},
		Draining:          s.draining.Load(),
	}

	if byPriority, err := s.q.LenByPriority(); err == nil {
		resp.QueueByPriority = byPriority
	} else {
		s.logger.Warn("control status: queue length unavailable", map[string]interface{}{"error": err.Error()})
	}

	if snapshot, err := s.dir.SnapshotAll(); err == nil {
		for _, agent := range snapshot {
			resp.AgentStatusCounts[agent.Status]++
		}
	} else {
		s.logger.Warn("control status: directory snapshot unavailable", map[string]interface{}{"error": err.Error()})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// ControlDrainResponse reports the effect of a `drain` control operation.
type ControlDrainResponse struct {
	Draining         bool `json:"draining"`
	InFlightRequests int  `json:"in_flight_requests"`
}

// HandleControlDrain implements `drain`: stop accepting new submits,
// finish in-flight. The CLI polls HandleControlStatus afterward until
// in_flight_requests reaches zero (or times out) to decide its exit code.
func (s *Server) HandleControlDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}
	s.draining.Store(true)
	s.logger.Info("drain requested, no longer accepting new submissions", nil)
	telemetry.Counter("hitl_orchestrator.api.drain_requested", "module", "api")

	s.writeJSON(w, http.StatusOK, ControlDrainResponse{
		Draining:         true,
		InFlightRequests: s.store.CountInFlight(),
	})
}

// ControlReloadConfigResponse reports the result of a `reload-config`
// control operation.
type ControlReloadConfigResponse struct {
	Reloaded bool   `json:"reloaded"`
	Name     string `json:"name,omitempty"`
}

// HandleControlReloadConfig implements `reload-config`: re-read and
// validate the on-disk config file and swap it into the ConfigStore
// (components built at startup keep their own copies). A validation
// failure leaves the previous configuration serving and is reported as
// 422, which the CLI maps to exit code 2 (spec §6.6).
func (s *Server) HandleControlReloadConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}
	if s.configStore == nil {
		s.writeError(w, http.StatusServiceUnavailable, "reload-config: no config store configured")
		return
	}
	if err := s.configStore.Reload(); err != nil {
		s.logger.Warn("reload-config failed validation", map[string]interface{}{"error": err.Error()})
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	telemetry.Counter("hitl_orchestrator.api.reload_config", "module", "api")
	s.writeJSON(w, http.StatusOK, ControlReloadConfigResponse{Reloaded: true, Name: s.configStore.Current().Name})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{Error: message, Code: http.StatusText(status)})
}
