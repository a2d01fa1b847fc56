// Package agent wires the event stream, the worker pools and the warehouse
// together. It routes inbound operations, executes them and publishes the
// results back to the orchestrator.
package agent

import (
	"context"
	"errors"
	"time"

	"github.com/montecarlodata/snowflake-agent/pkg/async"
	"github.com/montecarlodata/snowflake-agent/pkg/config"
	"github.com/montecarlodata/snowflake-agent/pkg/events"
	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/logs"
	"github.com/montecarlodata/snowflake-agent/pkg/serde"
	"github.com/montecarlodata/snowflake-agent/pkg/storage"
	"github.com/montecarlodata/snowflake-agent/pkg/timer"
	"github.com/montecarlodata/snowflake-agent/pkg/warehouse"
)

const pushLogsLimit = 1000

// QueryExecutor runs queries in the warehouse, warehouse.Executor in
// production.
type QueryExecutor interface {
	RunQuery(ctx context.Context, query warehouse.Query) (map[string]any, error)
	ResultForQuery(ctx context.Context, queryID string) (map[string]any, error)
	RestartService(ctx context.Context) error
}

// Orchestrator is the backend client, orchestrator.Client in production.
type Orchestrator interface {
	PushResults(ctx context.Context, operationID string, result map[string]any) error
	SendAck(ctx context.Context, operationID string) error
	DownloadOperation(ctx context.Context, operationID string) (map[string]any, error)
	Ping(ctx context.Context, traceID string) (map[string]any, error)
	PushMetrics(ctx context.Context, lines []string) error
	PushLogs(ctx context.Context, entries []map[string]any) error
}

// EventsClient produces inbound events, events.Client in production.
type EventsClient interface {
	Start(onEvent events.EventHandler)
	Stop()
}

// AckScheduler emits delayed ACKs for in-flight operations, events.AckSender
// in production.
type AckScheduler interface {
	Start(handler func(operationID string))
	Stop()
	ScheduleAck(operationID string)
	OperationCompleted(operationID string)
}

// StorageService executes storage operations, storage.Service in production.
type StorageService interface {
	ExecuteOperation(ctx context.Context, event map[string]any) (any, error)
}

// LogsService fetches service logs, logs.Service in production.
type LogsService interface {
	GetLogs(ctx context.Context, limit int) ([]logs.Entry, error)
}

// MetricsScraper collects metric lines from the compute pool,
// metrics.Scraper in production.
type MetricsScraper interface {
	Fetch(ctx context.Context) ([]string, error)
}

// ResultFinalizer prepares result envelopes for publishing,
// results.Processor in production.
type ResultFinalizer interface {
	Process(ctx context.Context, result map[string]any, attrs warehouse.OperationAttributes) (map[string]any, error)
}

// Deps are the agent's collaborators, injected by the composition root.
type Deps struct {
	Config       *config.Store
	Events       EventsClient
	AckSender    AckScheduler
	Executor     QueryExecutor
	Orchestrator Orchestrator
	Storage      StorageService
	Logs         LogsService
	Metrics      MetricsScraper
	Results      ResultFinalizer
}

// publishTask is one unit of work for the results publisher. Either QueryID
// is set and the result is fetched from the warehouse, or Result carries the
// envelope inline.
type publishTask struct {
	operationID string
	queryID     string
	result      map[string]any
	attrs       *warehouse.OperationAttributes
}

// opTask is an operation scheduled on the ops runner with its resolved
// handler.
type opTask struct {
	operationID string
	event       map[string]any
	handler     func(ctx context.Context, task opTask)
}

// Agent is the operation router. It holds one of each collaborator and three
// worker pools: queries, generic operations and result publishing.
type Agent struct {
	cfg          *config.Store
	events       EventsClient
	ackSender    AckScheduler
	executor     QueryExecutor
	orchestrator Orchestrator
	storage      StorageService
	logs         LogsService
	metrics      MetricsScraper
	results      ResultFinalizer

	queriesRunner    *async.Processor[warehouse.Query]
	opsRunner        *async.Processor[opTask]
	resultsPublisher *async.Processor[publishTask]
	logsTimer        *timer.Timer

	startTime time.Time
}

// New creates the agent and its worker pools. Pool sizes come from
// configuration, one worker each by default.
func New(deps Deps) *Agent {
	a := &Agent{
		cfg:          deps.Config,
		events:       deps.Events,
		ackSender:    deps.AckSender,
		executor:     deps.Executor,
		orchestrator: deps.Orchestrator,
		storage:      deps.Storage,
		logs:         deps.Logs,
		metrics:      deps.Metrics,
		results:      deps.Results,
	}
	a.queriesRunner = async.New("queries-runner", a.runQuery,
		deps.Config.Int(config.KeyQueriesRunnerThreadCount, 1))
	a.opsRunner = async.New("ops-runner", a.runOperation,
		deps.Config.Int(config.KeyOpsRunnerThreadCount, 1))
	a.resultsPublisher = async.New("results-publisher", a.publishResults,
		deps.Config.Int(config.KeyPublisherThreadCount, 1))
	return a
}

// Start brings the agent up: worker pools first, then the ACK sender, then
// the event stream, so every arriving operation finds its workers running.
func (a *Agent) Start() {
	a.startTime = time.Now()
	a.queriesRunner.Start()
	a.opsRunner.Start()
	a.resultsPublisher.Start()
	a.ackSender.Start(a.sendAck)
	a.events.Start(a.onEvent)

	if interval := a.cfg.Int(config.KeyPushLogsIntervalSeconds, 0); interval > 0 {
		a.logsTimer = timer.New("logs-sender", time.Duration(interval)*time.Second)
		if err := a.logsTimer.Start(a.pushLogs); err != nil {
			log.WithComponent("agent").Error().Err(err).Msg("Failed to start logs timer")
			a.logsTimer = nil
		}
	}
	log.WithComponent("agent").Info().Msg("Agent started")
}

// Stop shuts the agent down in reverse dependency order. In-flight handlers
// finish, queued work is dropped.
func (a *Agent) Stop() {
	if a.logsTimer != nil {
		a.logsTimer.Stop()
	}
	a.events.Stop()
	a.ackSender.Stop()
	a.resultsPublisher.Stop()
	a.opsRunner.Stop()
	a.queriesRunner.Stop()
	log.WithComponent("agent").Info().Msg("Agent stopped")
}

// onEvent is invoked by the events client for every operation frame.
func (a *Agent) onEvent(event events.Event) {
	operationID, _ := event["operation_id"].(string)
	path, _ := event["path"].(string)
	if operationID != "" && path != "" {
		a.ackSender.ScheduleAck(operationID)
		if operation, ok := event["operation"].(map[string]any); ok {
			if exceeded, _ := operation[serde.AttrSizeExceeded].(bool); exceeded {
				log.WithOperationID(operationID).Info().Msg("Downloading operation from orchestrator")
				downloaded, err := a.orchestrator.DownloadOperation(context.Background(), operationID)
				if err != nil {
					log.WithOperationID(operationID).Error().Err(err).Msg("Failed to download operation")
					a.publishError(operationID, nil, err)
					return
				}
				event["operation"] = downloaded
			}
		}
		a.route(operationID, path, event)
		return
	}
	if eventType, _ := event["type"].(string); eventType == events.EventTypePushMetrics {
		a.opsRunner.Schedule(opTask{event: event, handler: a.handlePushMetrics})
	}
}

// QueryCompleted is invoked through the admin API when the warehouse reports
// an async query finished.
func (a *Agent) QueryCompleted(opJSON, queryID string) {
	attrs, err := warehouse.DecodeOperationAttributes(opJSON)
	if err != nil {
		log.WithComponent("agent").Error().Err(err).Msg("Invalid query_completed callback")
		return
	}
	a.resultsPublisher.Schedule(publishTask{
		operationID: attrs.OperationID,
		queryID:     queryID,
		attrs:       &attrs,
	})
}

// QueryFailed is invoked through the admin API when the warehouse reports an
// async query failed.
func (a *Agent) QueryFailed(opJSON string, code int, msg, state string) {
	attrs, err := warehouse.DecodeOperationAttributes(opJSON)
	if err != nil {
		log.WithComponent("agent").Error().Err(err).Msg("Invalid query_failed callback")
		return
	}
	a.resultsPublisher.Schedule(publishTask{
		operationID: attrs.OperationID,
		result:      warehouse.ResultForQueryFailed(attrs.OperationID, code, msg, state),
		attrs:       &attrs,
	})
}

// runQuery is the queries runner handler.
func (a *Agent) runQuery(query warehouse.Query) {
	logger := log.WithOperationID(query.OperationID)
	logger.Info().Str("query", query.SQL).Msg("Running operation")

	result, err := a.executor.RunQuery(context.Background(), query)
	if err != nil {
		logger.Error().Err(err).Str("query", query.SQL).Msg("Query failed")
		a.resultsPublisher.Schedule(publishTask{
			operationID: query.OperationID,
			result:      warehouse.ResultForError(err),
			attrs:       &query.Attrs,
		})
		return
	}
	// a nil result means the query runs asynchronously, the outcome arrives
	// through the query_completed/query_failed callbacks
	if result != nil {
		a.resultsPublisher.Schedule(publishTask{
			operationID: query.OperationID,
			result:      result,
			attrs:       &query.Attrs,
		})
	}
}

// runOperation is the ops runner handler.
func (a *Agent) runOperation(task opTask) {
	task.handler(context.Background(), task)
}

// publishResults is the results publisher handler. Completing the ACK first
// guarantees no ACK fires for an operation whose result is on its way out.
func (a *Agent) publishResults(task publishTask) {
	ctx := context.Background()
	a.ackSender.OperationCompleted(task.operationID)

	result := task.result
	if task.queryID != "" {
		fetched, err := a.executor.ResultForQuery(ctx, task.queryID)
		if err != nil {
			log.WithOperationID(task.operationID).Error().Err(err).
				Str("query_id", task.queryID).Msg("Failed to fetch query results")
			return
		}
		result = fetched
	}
	if result == nil {
		return
	}

	if task.attrs != nil {
		if _, ok := result[serde.AttrTraceID]; !ok {
			result[serde.AttrTraceID] = task.attrs.TraceID
		}
		finalized, err := a.results.Process(ctx, result, *task.attrs)
		if err != nil {
			log.WithOperationID(task.operationID).Error().Err(err).Msg("Failed to process result")
			return
		}
		result = finalized
	}

	if err := a.orchestrator.PushResults(ctx, task.operationID, result); err != nil {
		log.WithOperationID(task.operationID).Error().Err(err).Msg("Failed to push results")
	}
}

// publishError schedules an error envelope for an operation.
func (a *Agent) publishError(operationID string, attrs *warehouse.OperationAttributes, err error) {
	envelope := map[string]any{serde.AttrError: err.Error()}
	var storageErr *storage.Error
	if errors.As(err, &storageErr) {
		envelope[serde.AttrErrorType] = string(storageErr.Kind)
	}
	a.resultsPublisher.Schedule(publishTask{
		operationID: operationID,
		result:      envelope,
		attrs:       attrs,
	})
}

func (a *Agent) sendAck(operationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.orchestrator.SendAck(ctx, operationID); err != nil {
		log.WithOperationID(operationID).Error().Err(err).Msg("Failed to send ACK")
	}
}

// pushLogs is the periodic log push handler.
func (a *Agent) pushLogs() error {
	ctx := context.Background()
	entries, err := a.logs.GetLogs(ctx, pushLogsLimit)
	if err != nil {
		return err
	}
	payload := make([]map[string]any, len(entries))
	for i, entry := range entries {
		payload[i] = map[string]any{
			"timestamp": entry.Timestamp,
			"message":   entry.Message,
		}
	}
	return a.orchestrator.PushLogs(ctx, payload)
}
