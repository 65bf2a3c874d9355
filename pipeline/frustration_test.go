package pipeline

import (
	"context"
	"testing"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

func TestFrustrationAnalyzerRunLowForCalmText(t *testing.T) {
	analyzer := NewFrustrationAnalyzer(NewLexicon(testLexiconConfig()), nil, nil, DefaultFrustrationWeights(), nil)
	req := request.New("req-1", "u1", "s1", "Could you help me check my balance please", testClock)

	analyzer.Run(context.Background(), req)

	if req.FrustrationAssessment.Level != string(core.FrustrationLow) {
		t.Errorf("Level = %v, want LOW", req.FrustrationAssessment.Level)
	}
}

func TestFrustrationAnalyzerRunCriticalForcesHumanIntervention(t *testing.T) {
	analyzer := NewFrustrationAnalyzer(NewLexicon(testLexiconConfig()), nil, nil, DefaultFrustrationWeights(), nil)
	req := request.New("req-2", "u1", "s1", "THIS IS RIDICULOUS I WANT TO SPEAK TO A MANAGER NOW!! UNACCEPTABLE!!", testClock)
	req.QualityAssessment = &request.QualityAssessment{Verdict: string(core.QualityAdequate)}

	analyzer.Run(context.Background(), req)

	if req.FrustrationAssessment.Level != string(core.FrustrationCritical) {
		t.Fatalf("Level = %v, want CRITICAL (score %v)", req.FrustrationAssessment.Level, req.FrustrationAssessment.Score)
	}
	if req.QualityAssessment.Verdict != string(core.QualityHumanIntervention) {
		t.Errorf("QualityAssessment.Verdict = %v, want forced to HUMAN_INTERVENTION", req.QualityAssessment.Verdict)
	}
}
