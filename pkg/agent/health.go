package agent

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
)

// Version is the agent build version, set at build time.
var Version = "dev"

// HealthInformation builds the health document returned to the orchestrator
// and the admin API.
func (a *Agent) HealthInformation(traceID string) map[string]any {
	return map[string]any{
		"platform":       "SNA",
		"version":        Version,
		"go_version":     runtime.Version(),
		"uptime_seconds": int(time.Since(a.startTime).Seconds()),
		"trace_id":       traceID,
		"parameters":     a.cfg.All(),
	}
}

// RunReachabilityTest pings the orchestrator and returns the outcome.
func (a *Agent) RunReachabilityTest() map[string]any {
	traceID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := a.orchestrator.Ping(ctx, traceID)
	if err != nil {
		log.WithComponent("agent").Error().Err(err).Str("trace_id", traceID).
			Msg("Reachability test failed")
		return map[string]any{
			"trace_id": traceID,
			"error":    err.Error(),
		}
	}
	return map[string]any{
		"trace_id": traceID,
		"response": response,
	}
}

// FetchMetrics scrapes the compute pool metrics, used by the admin API.
func (a *Agent) FetchMetrics() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.metrics.Fetch(ctx)
}
