package pipeline

import (
	"context"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

// Pipeline sequences the six stages of spec §4 over a single Request,
// enforcing the Acquire/Release single-writer discipline at each step
// (spec §8 testable property 5) and the short-circuit rules of §4.3/§4.4.
type Pipeline struct {
	Automation  *Automation
	Chatbot     *Chatbot
	Quality     *QualityGate
	Frustration *FrustrationAnalyzer
	Context     *ContextManager
	Routing     *RoutingStage
	logger      core.Logger
}

// New builds a Pipeline from its six constructed stages.
func New(automation *Automation, chatbot *Chatbot, quality *QualityGate, frustration *FrustrationAnalyzer, context *ContextManager, routing *RoutingStage, logger core.Logger) *Pipeline {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Pipeline{
		Automation: automation, Chatbot: chatbot, Quality: quality,
		Frustration: frustration, Context: context, Routing: routing,
		logger: logger,
	}
}

// Process drives req through every stage in order, timing each one into
// req.Telemetry.StageDurations, and terminates req with the final
// caller-visible status once routing (or direct delivery) completes.
func (p *Pipeline) Process(ctx context.Context, req *request.Request) error {
	if err := p.runStage(req, "automation", func() { p.Automation.Run(req) }); err != nil {
		return err
	}

	if err := p.runStage(req, "chatbot", func() { p.Chatbot.Run(ctx, req, p.clock()) }); err != nil {
		return err
	}

	if err := p.runStage(req, "quality_gate", func() { p.Quality.Run(ctx, req, p.clock()) }); err != nil {
		return err
	}

	if err := p.runStage(req, "frustration_analyzer", func() { p.Frustration.Run(ctx, req) }); err != nil {
		return err
	}

	if err := p.runStage(req, "context_manager", func() { p.Context.Run(ctx, req) }); err != nil {
		return err
	}

	if req.NeedsHumanRouting() {
		if err := p.runStage(req, "routing_scorer", func() { p.Routing.Run(ctx, req, p.clock()) }); err != nil {
			return err
		}
		return p.terminateAfterRouting(req)
	}

	return p.terminateDelivered(req)
}

func (p *Pipeline) clock() time.Time { return time.Now() }

func (p *Pipeline) runStage(req *request.Request, stage string, run func()) error {
	if err := req.Acquire(stage); err != nil {
		return err
	}
	defer req.Release(stage)

	start := time.Now()
	run()
	req.AddUsage(stage, time.Since(start), 0, 0, 0)
	return nil
}

func (p *Pipeline) terminateDelivered(req *request.Request) error {
	text := ""
	if req.ChatbotOutput != nil {
		text = req.ChatbotOutput.Text
	}
	return req.Terminate(request.StatusDelivered, text)
}

func (p *Pipeline) terminateAfterRouting(req *request.Request) error {
	if req.RoutingDecision == nil {
		return req.Terminate(request.StatusFailed, "")
	}
	switch req.RoutingDecision.Strategy {
	case "assigned":
		return req.Terminate(request.StatusAssigned, "")
	case "queued":
		return req.Terminate(request.StatusQueued, "")
	default:
		return req.Terminate(request.StatusFailed, "")
	}
}
