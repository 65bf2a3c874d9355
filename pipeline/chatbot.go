package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/llm"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

// Chatbot is the second pipeline stage (spec §4.2): it either surfaces
// the Automation stage's templated payload directly, or calls the LLM
// collaborator to generate a response.
type Chatbot struct {
	generator llm.Generator
	lexicon   *Lexicon
	cfg       core.CollaboratorConfig
	logger    core.Logger
}

// NewChatbot builds a Chatbot stage.
func NewChatbot(generator llm.Generator, lexicon *Lexicon, cfg core.CollaboratorConfig, logger core.Logger) *Chatbot {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Chatbot{generator: generator, lexicon: lexicon, cfg: cfg, logger: logger}
}

const systemInstructions = "You are a courteous customer support assistant. Respond helpfully and concisely."

// Run produces req.ChatbotOutput and appends the response to the
// transcript. The caller must hold Acquire("chatbot").
func (c *Chatbot) Run(ctx context.Context, req *request.Request, now time.Time) {
	affect := c.surfaceAffect(req.QueryText)

	if req.AutomationResult != nil && req.AutomationResult.Outcome == request.AutomationCompleted {
		text := req.AutomationResult.Payload["rendered_text"]
		req.ChatbotOutput = &request.ChatbotOutput{
			Text:          text,
			SurfaceAffect: affect,
			Confidence:    1.0,
			TokensUsed:    0,
		}
		req.AppendMessage(request.RoleChatbot, text, now)
		return
	}

	prompt := fmt.Sprintf("Customer message: %s", req.QueryText)
	deadline := c.cfg.SingleCallDeadline
	if deadline <= 0 {
		deadline = core.DeadlineSingleLLMCall
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := c.generator.Generate(callCtx, prompt, systemInstructions, llm.GenerateOptions{
		MaxTokens: c.cfg.MaxTokens,
		Nonce:     req.RequestID + ":chatbot",
		Deadline:  deadline,
	})
	if err != nil {
		c.logger.Warn("chatbot generation failed", map[string]interface{}{
			"request_id": req.RequestID,
			"error":      err.Error(),
		})
		req.ChatbotOutput = nil
		if errors.Is(err, context.DeadlineExceeded) {
			return
		}
		return
	}

	confidence := result.ModelConfidence
	conf := heuristicConfidence(result.Text)
	if confidence != nil {
		conf = *confidence
	}

	req.ChatbotOutput = &request.ChatbotOutput{
		Text:          result.Text,
		SurfaceAffect: affect,
		Confidence:    conf,
		TokensUsed:    result.TokensUsed,
	}
	req.AddUsage("chatbot", 0, result.TokensUsed, 0, 0)
	req.AppendMessage(request.RoleChatbot, result.Text, now)
}

func (c *Chatbot) surfaceAffect(queryText string) string {
	lex, _ := c.lexicon.LexicalScore(queryText)
	beh, _ := c.lexicon.BehavioralScore(queryText)
	signals := make([]string, 0, 3)
	if lex > 3 {
		signals = append(signals, "frustration_signals")
	}
	if beh > 3 {
		signals = append(signals, "urgency_signals")
	}
	if strings.Contains(strings.ToLower(queryText), "please") || strings.Contains(strings.ToLower(queryText), "thank") {
		signals = append(signals, "politeness_signals")
	}
	return strings.Join(signals, ",")
}

var refusalMarkers = []string{"i cannot", "i can't", "i'm unable", "as an ai"}

func heuristicConfidence(text string) float64 {
	lower := strings.ToLower(text)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return 0.3
		}
	}
	length := len(strings.Fields(text))
	switch {
	case length == 0:
		return 0
	case length < 5:
		return 0.5
	case length < 20:
		return 0.75
	default:
		return 0.9
	}
}
