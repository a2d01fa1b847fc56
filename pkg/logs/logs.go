// Package logs fetches the service logs the platform exposes through the
// SERVICE_LOGS procedure.
package logs

import (
	"context"
	"strings"
	"time"
)

const queryServiceLogs = "CALL APP_PUBLIC.SERVICE_LOGS(?)"

// QueryRunner executes a statement in the warehouse and returns all rows,
// warehouse.Executor in production.
type QueryRunner interface {
	FetchAll(ctx context.Context, query string, args ...any) ([][]any, []string, error)
}

// Entry is a single decoded log line.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// Service retrieves the container's service logs.
type Service struct {
	runner QueryRunner
	local  bool
}

// NewService creates the logs service. In local mode there is no platform
// log procedure, a dummy record is returned instead.
func NewService(runner QueryRunner, local bool) *Service {
	return &Service{runner: runner, local: local}
}

// GetLogs returns up to limit decoded log entries.
func (s *Service) GetLogs(ctx context.Context, limit int) ([]Entry, error) {
	if s.local {
		return []Entry{
			{
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				Message:   "This is a dummy log message.",
			},
		}, nil
	}
	rows, _, err := s.runner.FetchAll(ctx, queryServiceLogs, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 1 {
			continue
		}
		line, ok := row[0].(string)
		if !ok {
			continue
		}
		entries = append(entries, parseLine(line))
	}
	return entries, nil
}

// parseLine splits "[<ts>] <msg>" lines into their parts, anything else is
// returned whole with an empty timestamp.
func parseLine(line string) Entry {
	if strings.HasPrefix(line, "[") {
		if ts, msg, found := strings.Cut(line[1:], "] "); found {
			return Entry{Timestamp: ts, Message: msg}
		}
	}
	return Entry{Message: line}
}
