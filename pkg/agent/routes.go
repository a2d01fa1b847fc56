package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/montecarlodata/snowflake-agent/pkg/config"
	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
	"github.com/montecarlodata/snowflake-agent/pkg/serde"
	"github.com/montecarlodata/snowflake-agent/pkg/storage"
	"github.com/montecarlodata/snowflake-agent/pkg/warehouse"
)

// Inbound operation paths. Snowflake operations run inline on the event
// goroutine (they only enqueue work), everything else is scheduled on the
// ops runner.
const (
	pathSnowflakePrefix = "/api/v1/agent/execute/snowflake"
	pathStoragePrefix   = "/api/v1/agent/execute/storage"
	pathHealth          = "/api/v1/test/health"
	pathLogs            = "/api/v1/snowflake/logs"
	pathMetrics         = "/api/v1/snowflake/metrics"
	pathPushMetrics     = "push_metrics"
	pathUpgrade         = "/api/v1/upgrade"
)

type routeRule struct {
	path    string
	prefix  bool
	label   string
	inline  bool
	handler func(a *Agent, ctx context.Context, task opTask)
}

// routeTable is evaluated in order, first match wins.
var routeTable = []routeRule{
	{path: pathSnowflakePrefix, prefix: true, label: "snowflake", inline: true},
	{path: pathStoragePrefix, prefix: true, label: "storage", handler: (*Agent).handleStorage},
	{path: pathHealth, label: "health", handler: (*Agent).handleHealth},
	{path: pathLogs, label: "logs", handler: (*Agent).handleLogs},
	{path: pathMetrics, label: "metrics", handler: (*Agent).handleMetrics},
	{path: pathPushMetrics, label: "push_metrics", handler: (*Agent).handlePushMetricsTask},
	{path: pathUpgrade, label: "upgrade", handler: (*Agent).handleUpgrade},
}

func (r routeRule) matches(path string) bool {
	if r.prefix {
		return strings.HasPrefix(path, r.path)
	}
	return path == r.path
}

func (a *Agent) route(operationID, path string, event map[string]any) {
	for _, rule := range routeTable {
		if !rule.matches(path) {
			continue
		}
		metrics.OperationsTotal.WithLabelValues(rule.label).Inc()
		if rule.inline {
			a.handleSnowflake(operationID, event)
			return
		}
		handler := rule.handler
		a.opsRunner.Schedule(opTask{
			operationID: operationID,
			event:       event,
			handler: func(ctx context.Context, task opTask) {
				handler(a, ctx, task)
			},
		})
		return
	}

	metrics.OperationsTotal.WithLabelValues("unknown").Inc()
	log.WithOperationID(operationID).Error().Str("path", path).Msg("No handler for operation")
	a.publishError(operationID, nil, fmt.Errorf("no handler for path: %s", path))
}

// handleSnowflake runs on the event goroutine: it only enqueues work, the
// query itself executes on the queries runner.
func (a *Agent) handleSnowflake(operationID string, event map[string]any) {
	operation, _ := event["operation"].(map[string]any)
	operationType, _ := operation["type"].(string)
	switch operationType {
	case "snowflake_query":
		attrs := warehouse.NewOperationAttributes(operationID, operation)
		sql, _ := operation["query"].(string)
		timeout := 0
		if seconds, ok := operation["timeout"].(float64); ok {
			timeout = int(seconds)
		}
		a.queriesRunner.Schedule(warehouse.Query{
			OperationID:    operationID,
			SQL:            sql,
			TimeoutSeconds: timeout,
			Attrs:          attrs,
		})
	case "snowflake_connection_test":
		a.resultsPublisher.Schedule(publishTask{
			operationID: operationID,
			result: map[string]any{
				serde.AttrResult:  map[string]any{"ok": true},
				serde.AttrTraceID: operationID,
			},
		})
	default:
		log.WithOperationID(operationID).Error().Str("type", operationType).
			Msg("Invalid snowflake operation")
		a.publishError(operationID, nil, fmt.Errorf("Invalid operation type: %s", operationType))
	}
}

func (a *Agent) handleStorage(ctx context.Context, task opTask) {
	attrs := operationAttrs(task)
	value, err := a.storage.ExecuteOperation(ctx, task.event)
	if err != nil {
		a.logStorageError(task, err)
		a.publishError(task.operationID, attrs, err)
		return
	}
	a.resultsPublisher.Schedule(publishTask{
		operationID: task.operationID,
		result:      map[string]any{serde.AttrResult: value},
		attrs:       attrs,
	})
}

func (a *Agent) handleHealth(ctx context.Context, task opTask) {
	attrs := operationAttrs(task)
	a.resultsPublisher.Schedule(publishTask{
		operationID: task.operationID,
		result:      map[string]any{serde.AttrResult: a.HealthInformation(attrs.TraceID)},
		attrs:       attrs,
	})
}

func (a *Agent) handleLogs(ctx context.Context, task opTask) {
	attrs := operationAttrs(task)
	limit := pushLogsLimit
	if operation, ok := task.event["operation"].(map[string]any); ok {
		if value, ok := operation["limit"].(float64); ok && value > 0 {
			limit = int(value)
		}
	}
	entries, err := a.logs.GetLogs(ctx, limit)
	if err != nil {
		log.WithOperationID(task.operationID).Error().Err(err).Msg("Failed to fetch logs")
		a.publishError(task.operationID, attrs, err)
		return
	}
	payload := make([]any, len(entries))
	for i, entry := range entries {
		payload[i] = map[string]any{
			"timestamp": entry.Timestamp,
			"message":   entry.Message,
		}
	}
	a.resultsPublisher.Schedule(publishTask{
		operationID: task.operationID,
		result:      map[string]any{serde.AttrResult: map[string]any{"logs": payload}},
		attrs:       attrs,
	})
}

func (a *Agent) handleMetrics(ctx context.Context, task opTask) {
	attrs := operationAttrs(task)
	lines, err := a.metrics.Fetch(ctx)
	if err != nil {
		log.WithOperationID(task.operationID).Error().Err(err).Msg("Failed to fetch metrics")
		a.publishError(task.operationID, attrs, err)
		return
	}
	a.resultsPublisher.Schedule(publishTask{
		operationID: task.operationID,
		result:      map[string]any{serde.AttrResult: map[string]any{"metrics": lines}},
		attrs:       attrs,
	})
}

// handlePushMetrics pushes metrics straight to the orchestrator, no result
// envelope is published. Used both for heartbeat-synthesized events and for
// routed push_metrics operations.
func (a *Agent) handlePushMetrics(ctx context.Context, task opTask) {
	lines, err := a.metrics.Fetch(ctx)
	if err != nil {
		log.WithComponent("agent").Error().Err(err).Msg("Failed to fetch metrics")
		return
	}
	if err := a.orchestrator.PushMetrics(ctx, lines); err != nil {
		log.WithComponent("agent").Error().Err(err).Msg("Failed to push metrics")
	}
}

func (a *Agent) handlePushMetricsTask(ctx context.Context, task opTask) {
	a.handlePushMetrics(ctx, task)
}

// handleUpgrade merges the pushed parameters into configuration and restarts
// the service. The restart statement waits five seconds, leaving time for
// the published result to go out first.
func (a *Agent) handleUpgrade(ctx context.Context, task opTask) {
	attrs := operationAttrs(task)
	logger := log.WithOperationID(task.operationID)

	if !a.cfg.Bool(config.KeyIsRemoteUpgradable, false) {
		logger.Warn().Msg("Rejected upgrade request, remote upgrades are disabled")
		a.publishError(task.operationID, attrs, fmt.Errorf("remote upgrades are disabled"))
		return
	}

	operation, _ := task.event["operation"].(map[string]any)
	parameters, _ := operation["parameters"].(map[string]any)
	values := make(map[string]string, len(parameters))
	for key, value := range parameters {
		values[key] = fmt.Sprintf("%v", value)
	}
	if err := a.cfg.SetValues(values); err != nil {
		logger.Error().Err(err).Msg("Failed to apply upgrade parameters")
		a.publishError(task.operationID, attrs, err)
		return
	}
	logger.Info().Int("parameters", len(values)).Msg("Upgrade parameters applied, restarting service")

	if err := a.executor.RestartService(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to schedule service restart")
		a.publishError(task.operationID, attrs, err)
		return
	}
	a.resultsPublisher.Schedule(publishTask{
		operationID: task.operationID,
		result: map[string]any{
			serde.AttrResult:  map[string]any{"updated": true},
			serde.AttrTraceID: attrs.TraceID,
		},
		attrs: attrs,
	})
}

// logStorageError logs a storage failure unless it is a not-found on an
// idempotency marker, those are expected and would flood the logs.
func (a *Agent) logStorageError(task opTask, err error) {
	operation, _ := task.event["operation"].(map[string]any)
	key, _ := operation["key"].(string)
	if strings.HasPrefix(key, "idempotent/") && storage.IsNotFound(err) {
		return
	}
	log.WithOperationID(task.operationID).Error().Err(err).Str("key", key).
		Msg("Storage operation failed")
}

func operationAttrs(task opTask) *warehouse.OperationAttributes {
	operation, _ := task.event["operation"].(map[string]any)
	attrs := warehouse.NewOperationAttributes(task.operationID, operation)
	return &attrs
}
