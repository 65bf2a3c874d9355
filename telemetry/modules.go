package telemetry

// This file declares the metric schema for each orchestrator module. It
// lives in the telemetry package to avoid an import cycle with api,
// pipeline, routing, and queue.

func init() {
	DeclareMetrics("api", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "hitl_orchestrator.api.submit",
				Type:   "counter",
				Help:   "Requests accepted on POST /v1/requests",
				Labels: []string{"module"},
			},
			{
				Name:   "hitl_orchestrator.api.pipeline_failed",
				Type:   "counter",
				Help:   "Requests whose pipeline run returned an error",
				Labels: []string{"module"},
			},
			{
				Name:   "hitl_orchestrator.api.cancel",
				Type:   "counter",
				Help:   "Requests cancelled via POST /v1/requests/{id}/cancel",
				Labels: []string{"module"},
			},
			{
				Name:   "hitl_orchestrator.api.human_complete",
				Type:   "counter",
				Help:   "Human agents marking a request resolved",
				Labels: []string{"module", "escalated"},
			},
			{
				Name:   "hitl_orchestrator.api.drain_requested",
				Type:   "counter",
				Help:   "Operator-triggered drain requests",
				Labels: []string{"module"},
			},
			{
				Name:   "hitl_orchestrator.api.reload_config",
				Type:   "counter",
				Help:   "Config hot-reload requests",
				Labels: []string{"module"},
			},
		},
	})

	DeclareMetrics("pipeline", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:    "hitl_orchestrator.pipeline.stage.duration_ms",
				Type:    "histogram",
				Help:    "Per-stage pipeline latency",
				Labels:  []string{"stage"},
				Unit:    "ms",
				Buckets: []float64{5, 25, 100, 500, 2000, 5000, 10000},
			},
			{
				Name:   "hitl_orchestrator.pipeline.automation.resolved",
				Type:   "counter",
				Help:   "Requests resolved fully by the automation stage",
				Labels: []string{"category"},
			},
			{
				Name:   "hitl_orchestrator.pipeline.quality.escalations",
				Type:   "counter",
				Help:   "Chatbot drafts the quality gate escalated to a human",
				Labels: []string{"reason"},
			},
			{
				Name:   "hitl_orchestrator.pipeline.frustration.level",
				Type:   "counter",
				Help:   "Requests classified per frustration level",
				Labels: []string{"level"},
			},
		},
	})

	DeclareMetrics("routing", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "hitl_orchestrator.routing.decisions",
				Type:   "counter",
				Help:   "Routing decisions by strategy",
				Labels: []string{"strategy"},
			},
			{
				Name:   "hitl_orchestrator.routing.reselect_attempts",
				Type:   "counter",
				Help:   "Reselection passes triggered by claim contention",
				Labels: []string{},
			},
			{
				Name:    "hitl_orchestrator.routing.queue.wait_seconds",
				Type:    "histogram",
				Help:    "Time a queued request waited before assignment",
				Labels:  []string{"priority"},
				Unit:    "s",
				Buckets: []float64{1, 5, 30, 60, 300, 900},
			},
		},
	})

	DeclareMetrics("contextstore", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "hitl_orchestrator.contextstore.lookups",
				Type:   "counter",
				Help:   "Context-store lookups by kind and backend",
				Labels: []string{"kind", "backend", "result"},
			},
			{
				Name:   "hitl_orchestrator.contextstore.circuit_state",
				Type:   "gauge",
				Help:   "Context-store circuit breaker state (0=closed, 1=half-open, 2=open)",
				Labels: []string{"name"},
			},
		},
	})

	DeclareMetrics("llm", ModuleConfig{
		Metrics: []MetricDefinition{
			{
				Name:   "hitl_orchestrator.llm.generate",
				Type:   "counter",
				Help:   "Collaborator generation calls",
				Labels: []string{"result"},
			},
			{
				Name:   "hitl_orchestrator.llm.tokens_used",
				Type:   "counter",
				Help:   "Tokens consumed by generation calls",
				Labels: []string{},
			},
		},
	})
}
