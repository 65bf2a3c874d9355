package pipeline

import (
	"strings"

	"github.com/itsneelabh/hitl-orchestrator/core"
	"github.com/itsneelabh/hitl-orchestrator/request"
)

// Automation is the first pipeline stage (spec §4.1). It never sets
// final_response; it only classifies whether the query can be resolved
// from the static task catalog.
type Automation struct {
	catalog *Catalog
	logger  core.Logger
}

// NewAutomation builds an Automation stage over catalog.
func NewAutomation(catalog *Catalog, logger core.Logger) *Automation {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Automation{catalog: catalog, logger: logger}
}

// Run matches req.QueryText against the task catalog and sets
// req.AutomationResult. The caller must hold Acquire("automation").
func (a *Automation) Run(req *request.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("automation stage panic recovered", map[string]interface{}{
				"request_id": req.RequestID,
				"panic":      rec,
			})
			req.AutomationResult = &request.AutomationResult{
				Outcome: request.AutomationUnresolved,
				Reason:  "automation_error",
			}
		}
	}()

	task, ok := a.catalog.Match(req.QueryText)
	if !ok {
		req.AutomationResult = &request.AutomationResult{
			Outcome: request.AutomationUnresolved,
			Reason:  "no_matching_task",
		}
		return
	}

	if task.EscalationReason != "" {
		req.AutomationResult = &request.AutomationResult{
			TaskID:  task.ID,
			Outcome: request.AutomationUnresolved,
			Reason:  task.EscalationReason,
		}
		return
	}

	fields, missing := ExtractFields(task, req.QueryText)
	if len(missing) > 0 {
		req.AutomationResult = &request.AutomationResult{
			TaskID:  task.ID,
			Outcome: request.AutomationUnresolved,
			Reason:  "missing_fields(" + strings.Join(missing, ",") + ")",
		}
		return
	}

	req.AutomationResult = &request.AutomationResult{
		TaskID:  task.ID,
		Outcome: request.AutomationCompleted,
		Payload: renderTemplate(task.ResponseTemplate, fields),
	}
}

func renderTemplate(template string, fields map[string]string) map[string]string {
	text := template
	for name, value := range fields {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	payload := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["rendered_text"] = text
	return payload
}
