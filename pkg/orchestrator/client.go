// Package orchestrator implements the HTTP client for the orchestrator
// backend: result pushes, ACKs, operation downloads and metric/log pushes.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/montecarlodata/snowflake-agent/pkg/creds"
	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
	"github.com/montecarlodata/snowflake-agent/pkg/serde"
)

const (
	pushResultsTimeout = 60 * time.Second
	defaultTimeout     = 30 * time.Second

	retryTries         = 3
	retryInitialDelay  = 1 * time.Second
	retryBackoffFactor = 2
)

// Credentials resolves the login headers attached to every request,
// creds.Provider in production.
type Credentials interface {
	LoginHeaders() map[string]string
}

var _ Credentials = (*creds.Provider)(nil)

// Client talks to the orchestrator backend. Requests are retried up to three
// times with exponential backoff, client errors are not retried.
type Client struct {
	baseURL string
	agentID string
	creds   Credentials

	client        *http.Client
	resultsClient *http.Client
}

// NewClient creates an orchestrator client for the given backend URL
func NewClient(baseURL, agentID string, credentials Credentials) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		agentID:       agentID,
		creds:         credentials,
		client:        &http.Client{Timeout: defaultTimeout},
		resultsClient: &http.Client{Timeout: pushResultsTimeout},
	}
}

// PushResults uploads a result envelope for an operation. Delivery is best
// effort, a failure after retries is logged and the result dropped, the
// orchestrator re-dispatches operations it never got a result for.
func (c *Client) PushResults(ctx context.Context, operationID string, result map[string]any) error {
	body, err := serde.Marshal(map[string]any{
		"agent_id": c.agentID,
		"result":   result,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	path := fmt.Sprintf("/api/v1/agent/operations/%s/result", operationID)
	_, err = c.do(ctx, c.resultsClient, http.MethodPut, path, body)
	if err != nil {
		metrics.PublishErrorsTotal.Inc()
		return fmt.Errorf("failed to push results for operation %s: %w", operationID, err)
	}
	metrics.ResultsPublishedTotal.Inc()
	log.WithOperationID(operationID).Info().Msg("Pushed results to orchestrator")
	return nil
}

// SendAck notifies the orchestrator that an operation is still in flight.
func (c *Client) SendAck(ctx context.Context, operationID string) error {
	path := fmt.Sprintf("/api/v1/agent/operations/%s/ack", operationID)
	_, err := c.do(ctx, c.client, http.MethodPost, path, nil)
	if err != nil {
		return fmt.Errorf("failed to send ACK for operation %s: %w", operationID, err)
	}
	return nil
}

// ExecuteOperation sends a generic request and returns the parsed JSON body.
// An empty 2xx body yields an error placeholder so the caller always gets a
// JSON object back.
func (c *Client) ExecuteOperation(ctx context.Context, path, method string, body map[string]any) (map[string]any, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = serde.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize request: %w", err)
		}
	}
	responseBody, err := c.do(ctx, c.client, method, path, encoded)
	if err != nil {
		return nil, err
	}
	if len(responseBody) == 0 {
		return map[string]any{"error": "empty response"}, nil
	}
	var parsed map[string]any
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return parsed, nil
}

// DownloadOperation fetches the full operation body for events flagged as
// size exceeded.
func (c *Client) DownloadOperation(ctx context.Context, operationID string) (map[string]any, error) {
	path := fmt.Sprintf("/api/v1/agent/operations/%s/request", operationID)
	return c.ExecuteOperation(ctx, path, http.MethodGet, nil)
}

// Ping checks reachability of the orchestrator.
func (c *Client) Ping(ctx context.Context, traceID string) (map[string]any, error) {
	path := fmt.Sprintf("/api/v1/test/ping?trace_id=%s", traceID)
	return c.ExecuteOperation(ctx, path, http.MethodGet, nil)
}

// PushMetrics uploads prometheus metric lines scraped from the compute pool.
func (c *Client) PushMetrics(ctx context.Context, lines []string) error {
	_, err := c.ExecuteOperation(ctx, "/api/v1/agent/metrics", http.MethodPost, map[string]any{
		"format":  "prometheus",
		"metrics": lines,
	})
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// PushLogs uploads service log entries.
func (c *Client) PushLogs(ctx context.Context, entries []map[string]any) error {
	_, err := c.ExecuteOperation(ctx, "/api/v1/agent/logs", http.MethodPost, map[string]any{
		"logs": entries,
	})
	if err != nil {
		return fmt.Errorf("failed to push logs: %w", err)
	}
	return nil
}

// do runs one request with the retry policy, returning the response body.
// Responses in the 4xx range fail immediately, everything else transient is
// retried.
func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body []byte) ([]byte, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(retryInitialDelay),
		backoff.WithMultiplier(retryBackoffFactor),
		backoff.WithMaxElapsedTime(0),
	), retryTries-1), ctx)

	var responseBody []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for name, value := range c.creds.LoginHeaders() {
			req.Header.Set(name, value)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		responseBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			err := fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
			if resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return responseBody, nil
}
