package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/directory"
	"github.com/itsneelabh/hitl-orchestrator/llm"
	"github.com/itsneelabh/hitl-orchestrator/pipeline"
	"github.com/itsneelabh/hitl-orchestrator/queue"
	"github.com/itsneelabh/hitl-orchestrator/request"
	"github.com/itsneelabh/hitl-orchestrator/routing"
)

var testClock = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// longRewriteText is long enough to push a re-scored quality check into
// ADEQUATE so the test pipeline below delivers directly without
// escalating to human routing, the same shape pipeline_test.go relies on.
func longRewriteText() string {
	return strings.Repeat("We understand your concern and have resolved it carefully. ", 8)
}

func testCatalogConfig() core.CatalogConfig {
	return core.CatalogConfig{
		Tasks: []core.CatalogTask{
			{
				ID:               "track_order",
				TriggerKeywords:  []string{"track", "order", "shipment"},
				RequiredFields:   []string{"order_id"},
				SuccessRate:      0.8,
				ResponseTemplate: "Your order {order_id} is on its way.",
			},
		},
	}
}

func newTestServer(t *testing.T, gen llm.Generator) (*Server, *directory.MemoryDirectory, *queue.MemoryQueue) {
	t.Helper()
	cfg := core.DefaultConfig()
	catalog := pipeline.NewCatalog(testCatalogConfig())
	automation := pipeline.NewAutomation(catalog, nil)
	lexicon := pipeline.NewLexicon(cfg.Lexicon)
	chatbot := pipeline.NewChatbot(gen, lexicon, cfg.Collaborator, nil)
	quality := pipeline.NewQualityGate(gen, cfg.Quality, cfg.Thresholds, nil)
	frustration := pipeline.NewFrustrationAnalyzer(lexicon, nil, nil, pipeline.DefaultFrustrationWeights(), nil)
	contextMgr := pipeline.NewContextManager(nil, nil, 5, 10, 0.1, nil)

	dir := directory.NewMemoryDirectory(nil)
	q := queue.NewMemoryQueue(400, nil)
	resolver := routing.NewWeightTableResolver(cfg.Weights)
	scorer := routing.NewScorer(dir, q, resolver, cfg.Thresholds, 3, nil)
	routingStage := pipeline.NewRoutingStage(scorer, nil)

	p := pipeline.New(automation, chatbot, quality, frustration, contextMgr, routingStage, nil)
	store := NewRequestStore(nil)
	srv := NewServer(p, store, dir, q, nil, nil)
	return srv, dir, q
}

func TestHandleSubmitReturnsAcceptedAndAssignsRequestID(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	body, _ := json.Marshal(SubmitRequestBody{UserID: "user-1", SessionID: "sess-1", QueryText: "I want to track order ABCDE12345"})
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.HandleSubmit(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	var resp SubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("RequestID is empty, want a generated id")
	}
}

func TestHandleSubmitRejectsMissingFields(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	body, _ := json.Marshal(SubmitRequestBody{UserID: "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.HandleSubmit(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleSubmitRejectsWhileDraining(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))
	srv.draining.Store(true)

	body, _ := json.Marshal(SubmitRequestBody{UserID: "user-1", SessionID: "sess-1", QueryText: "track my order"})
	req := httptest.NewRequest(http.MethodPost, "/v1/requests", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.HandleSubmit(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleRequestSubresourceStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/does-not-exist", nil)
	w := httptest.NewRecorder()

	srv.handleRequestSubresource(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleCancelIsIdempotentOnTerminalRequest(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	req := request.New("req-term-1", "user-1", "sess-1", "track my order", testClock)
	if err := req.Terminate(request.StatusDelivered, "already delivered"); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	srv.store.Put(req)

	cancelReq := httptest.NewRequest(http.MethodPost, "/v1/requests/"+req.RequestID+"/cancel", nil)
	cancelW := httptest.NewRecorder()
	srv.handleCancel(cancelW, cancelReq, req.RequestID)

	if cancelW.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", cancelW.Code, http.StatusOK, cancelW.Body.String())
	}
	var resp StatusResponse
	if err := json.Unmarshal(cancelW.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(request.StatusDelivered) {
		t.Errorf("Status = %q, want %q (idempotent cancel leaves an already-terminal status alone)", resp.Status, request.StatusDelivered)
	}
}

func TestHandleCancelTerminatesInFlightRequest(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	req := request.New("req-term-2", "user-1", "sess-1", "track my order", testClock)
	srv.store.Put(req)

	cancelReq := httptest.NewRequest(http.MethodPost, "/v1/requests/"+req.RequestID+"/cancel", nil)
	cancelW := httptest.NewRecorder()
	srv.handleCancel(cancelW, cancelReq, req.RequestID)

	if cancelW.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", cancelW.Code, http.StatusOK, cancelW.Body.String())
	}
	if req.WorkflowStatus != request.StatusAbandoned {
		t.Errorf("WorkflowStatus = %v, want abandoned", req.WorkflowStatus)
	}
}

func TestHandleHumanCompleteRejectsUnassignedRequest(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	req := request.New("req-hc-1", "user-1", "sess-1", "track my order", testClock)
	srv.store.Put(req)

	hcReq := httptest.NewRequest(http.MethodPost, "/v1/requests/"+req.RequestID+"/human_complete", bytes.NewReader([]byte(`{"escalated_flag":false}`)))
	hcW := httptest.NewRecorder()
	srv.handleHumanComplete(hcW, hcReq, req.RequestID)

	if hcW.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d (never routed to a human agent); body = %s", hcW.Code, http.StatusBadRequest, hcW.Body.String())
	}
}

func TestHandleHumanCompleteUpdatesDirectoryOnAssignedRequest(t *testing.T) {
	srv, dir, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))
	if err := dir.Register(&directory.HumanAgent{AgentID: "agent-1", SkillTier: directory.SkillTierJunior, MaxConcurrentCases: 5}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	req := request.New("req-hc-2", "user-1", "sess-1", "track my order", testClock)
	req.RoutingDecision = &request.RoutingDecision{AssignedAgentID: "agent-1", Strategy: "assigned"}
	srv.store.Put(req)

	rating := 0.9
	body, _ := json.Marshal(HumanCompleteBody{SatisfactionRating: &rating, EscalatedFlag: false})
	hcReq := httptest.NewRequest(http.MethodPost, "/v1/requests/"+req.RequestID+"/human_complete", bytes.NewReader(body))
	hcW := httptest.NewRecorder()
	srv.handleHumanComplete(hcW, hcReq, req.RequestID)

	if hcW.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", hcW.Code, http.StatusOK, hcW.Body.String())
	}
}

func TestHandleControlStatusReportsDraining(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))
	srv.draining.Store(true)

	req := httptest.NewRequest(http.MethodGet, "/v1/control/status", nil)
	w := httptest.NewRecorder()
	srv.HandleControlStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp ControlStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Draining {
		t.Error("Draining = false, want true")
	}
}

func TestHandleControlDrainSetsFlag(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	req := httptest.NewRequest(http.MethodPost, "/v1/control/drain", nil)
	w := httptest.NewRecorder()
	srv.HandleControlDrain(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !srv.draining.Load() {
		t.Error("draining flag not set after HandleControlDrain")
	}
}

func TestHandleControlReloadConfigWithoutStoreFails(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	req := httptest.NewRequest(http.MethodPost, "/v1/control/reload-config", nil)
	w := httptest.NewRecorder()
	srv.HandleControlReloadConfig(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleSubmitRejectsWrongMethod(t *testing.T) {
	srv, _, _ := newTestServer(t, llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()}))

	req := httptest.NewRequest(http.MethodGet, "/v1/requests", nil)
	w := httptest.NewRecorder()
	srv.HandleSubmit(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
