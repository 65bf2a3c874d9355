package pipeline

import (
	"context"
	"testing"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/llm"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

func testQualityConfig() core.QualityConfig {
	return core.QualityConfig{
		AccuracyWeight: 0.3, CompletenessWeight: 0.2, ClarityWeight: 0.2,
		ServiceWeight: 0.15, ContextualWeight: 0.15,
	}
}

func testThresholds() core.ThresholdsConfig {
	return core.ThresholdsConfig{TAdequate: 8.0, TAdjust: 5.0, NAdjust: 2}
}

func TestQualityGateRunHumanInterventionOnEmptyResponse(t *testing.T) {
	gate := NewQualityGate(llm.NewMockGenerator(llm.GenerateResult{}), testQualityConfig(), testThresholds(), nil)
	req := request.New("req-1", "u1", "s1", "hello", testClock)

	gate.Run(context.Background(), req, testClock)

	if req.QualityAssessment.Verdict != string(core.QualityHumanIntervention) {
		t.Errorf("Verdict = %v, want HUMAN_INTERVENTION", req.QualityAssessment.Verdict)
	}
	if req.QualityAssessment.Reasoning != "no_response" {
		t.Errorf("Reasoning = %q, want no_response", req.QualityAssessment.Reasoning)
	}
}

func TestQualityGateRunAdequateForLongResponse(t *testing.T) {
	gate := NewQualityGate(llm.NewMockGenerator(llm.GenerateResult{}), testQualityConfig(), testThresholds(), nil)
	req := request.New("req-2", "u1", "s1", "help me", testClock)
	longText := ""
	for i := 0; i < 80; i++ {
		longText += "thanks for reaching out, here is a detailed explanation. "
	}
	req.ChatbotOutput = &request.ChatbotOutput{Text: longText, Confidence: 0.9}

	gate.Run(context.Background(), req, testClock)

	if req.QualityAssessment.Verdict != string(core.QualityAdequate) {
		t.Errorf("Verdict = %v, want ADEQUATE (score %v)", req.QualityAssessment.Verdict, req.QualityAssessment.Score)
	}
}

func TestQualityGateRunRewritesWhenInMiddleBand(t *testing.T) {
	gen := llm.NewMockGenerator(llm.GenerateResult{Text: longRewriteText()})
	gate := NewQualityGate(gen, testQualityConfig(), testThresholds(), nil)
	req := request.New("req-3", "u1", "s1", "help me", testClock)
	req.ChatbotOutput = &request.ChatbotOutput{Text: "ok", Confidence: 0.5}

	gate.Run(context.Background(), req, testClock)

	if len(gen.Calls) == 0 {
		t.Fatal("expected a rewrite call to the generator")
	}
}

func longRewriteText() string {
	text := ""
	for i := 0; i < 80; i++ {
		text += "thanks for reaching out, here is a detailed and complete explanation. "
	}
	return text
}
