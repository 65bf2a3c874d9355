package directory

import (
	"context"
	"time"

	"github.com/itsneelabh/hitl-orchestrator/core"
)

// StartStressTicker runs RecalculateStress on a period (spec §4.6.3
// default P_stress = 60s) until ctx is cancelled. Grounded on the
// teacher's RedisRegistry.StartHeartbeat background-maintenance loop.
func StartStressTicker(ctx context.Context, dir Directory, cfg StressConfig, period time.Duration, logger core.Logger) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if period <= 0 {
		period = 60 * time.Second
	}

	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := dir.RecalculateStress(cfg); err != nil {
					logger.Error("stress recalculation tick failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
}
