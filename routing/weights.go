package routing

import (
	"hash/fnv"
	"sort"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// WeightTableResolver picks the per-priority category weight table for a
// scoring pass, supporting operator-defined A/B experiment variants that
// swap the entire table. Assignment is deterministic in request_id: when
// any named variant exists, every request whose FNV-1a hash is odd gets
// the alphabetically first variant's table and the rest stay on the
// default, a stable ~50% split without per-request state. The split is
// fixed at one half, and variants after the first are never used.
type WeightTableResolver struct {
	cfg core.WeightsConfig
}

// NewWeightTableResolver builds a resolver over the current weight config.
func NewWeightTableResolver(cfg core.WeightsConfig) *WeightTableResolver {
	return &WeightTableResolver{cfg: cfg}
}

// Resolve returns the CategoryWeights row for priority, substituting a
// named variant's row when requestID hashes into that variant's slice.
func (r *WeightTableResolver) Resolve(requestID string, priority core.Priority) core.CategoryWeights {
	table := r.priorityTable(requestID)
	switch priority {
	case core.PriorityCritical:
		return table.Critical
	case core.PriorityHigh:
		return table.High
	case core.PriorityMedium:
		return table.Medium
	default:
		return table.Low
	}
}

func (r *WeightTableResolver) priorityTable(requestID string) core.PriorityWeights {
	if len(r.cfg.Variants) == 0 {
		return core.PriorityWeights{Low: r.cfg.Low, Medium: r.cfg.Medium, High: r.cfg.High, Critical: r.cfg.Critical}
	}
	h := fnv.New32a()
	h.Write([]byte(requestID))
	if h.Sum32()%2 == 1 {
		names := make([]string, 0, len(r.cfg.Variants))
		for name := range r.cfg.Variants {
			names = append(names, name)
		}
		sort.Strings(names)
		return r.cfg.Variants[names[0]]
	}
	return core.PriorityWeights{Low: r.cfg.Low, Medium: r.cfg.Medium, High: r.cfg.High, Critical: r.cfg.Critical}
}
