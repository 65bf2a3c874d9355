// Package pipeline wires the six pipeline stages of spec §4 (Automation,
// Chatbot, QualityGate, FrustrationAnalyzer, ContextManager, RoutingScorer)
// into the sequential, single-writer flow described in spec §2 and §5,
// acting on a request.Request via the directory, queue, llm, and
// contextstore collaborator interfaces.
package pipeline

import (
	"regexp"
	"strings"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// TMatch is the minimum normalized keyword-overlap score for a catalog
// task to be considered a candidate match (spec §4.1 step 1).
const TMatch = 0.5

// taskFieldExtractors maps a required_fields name to the regex used to
// pull it out of the raw utterance. Only the fields the default catalog
// references are registered; an unregistered field is always "missing".
var taskFieldExtractors = map[string]*regexp.Regexp{
	"order_id":      regexp.MustCompile(`(?i)\border[\s#:-]*([a-z0-9]*[0-9][a-z0-9]*)\b`),
	"email":         regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	"tracking_number": regexp.MustCompile(`(?i)\btracking[\s#:-]*([a-z0-9]{8,})\b`),
	"account_id":    regexp.MustCompile(`(?i)\baccount[\s#:-]*([a-z0-9]{4,})\b`),
}

// Catalog wraps the Automation task catalog (spec §4.1) loaded from
// core.CatalogConfig, normalizing keywords once at construction so
// matching a query is a cheap set-overlap computation.
type Catalog struct {
	tasks []catalogTask
}

type catalogTask struct {
	core.CatalogTask
	keywordSet map[string]bool
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

func normalize(text string) []string {
	folded := strings.ToLower(text)
	stripped := nonWord.ReplaceAllString(folded, " ")
	return strings.Fields(stripped)
}

// NewCatalog builds a Catalog from configuration.
func NewCatalog(cfg core.CatalogConfig) *Catalog {
	tasks := make([]catalogTask, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		set := make(map[string]bool, len(t.TriggerKeywords))
		for _, kw := range t.TriggerKeywords {
			set[strings.ToLower(kw)] = true
		}
		tasks = append(tasks, catalogTask{CatalogTask: t, keywordSet: set})
	}
	return &Catalog{tasks: tasks}
}

// matchResult is a scored candidate task.
type matchResult struct {
	task  core.CatalogTask
	score float64
}

// Match finds the highest-scoring task whose keyword overlap with
// queryText clears TMatch, breaking ties by success_rate then task_id
// (spec §4.1 step 1). Returns ok=false if no task clears the threshold.
func (c *Catalog) Match(queryText string) (core.CatalogTask, bool) {
	tokens := normalize(queryText)
	if len(tokens) == 0 {
		return core.CatalogTask{}, false
	}

	var best *matchResult
	for _, t := range c.tasks {
		if len(t.keywordSet) == 0 {
			continue
		}
		hits := 0
		for _, tok := range tokens {
			if t.keywordSet[tok] {
				hits++
			}
		}
		score := float64(hits) / float64(len(t.keywordSet))
		if score < TMatch {
			continue
		}
		candidate := matchResult{task: t.CatalogTask, score: score}
		if best == nil || better(candidate, *best) {
			best = &candidate
		}
	}
	if best == nil {
		return core.CatalogTask{}, false
	}
	return best.task, true
}

func better(a, b matchResult) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.task.SuccessRate != b.task.SuccessRate {
		return a.task.SuccessRate > b.task.SuccessRate
	}
	return a.task.ID < b.task.ID
}

// ExtractFields runs the registered field extractors for task's
// required_fields over the utterance, returning the extracted values
// and the list of fields that could not be extracted.
func ExtractFields(task core.CatalogTask, utterance string) (fields map[string]string, missing []string) {
	fields = make(map[string]string, len(task.RequiredFields))
	for _, name := range task.RequiredFields {
		re, ok := taskFieldExtractors[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		match := re.FindString(utterance)
		if match == "" {
			missing = append(missing, name)
			continue
		}
		fields[name] = match
	}
	return fields, missing
}
