package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCreds map[string]string

func (c staticCreds) LoginHeaders() map[string]string { return c }

func TestPushResults(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("x-mcd-token")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{"x-mcd-token": "secret"})
	err := client.PushResults(context.Background(), "op-1", map[string]any{"ok": true})
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/agent/operations/op-1/result", gotPath)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "secret", gotAuth)
	assert.Equal(t, map[string]any{
		"agent_id": "agent-1",
		"result":   map[string]any{"ok": true},
	}, gotBody)
}

func TestSendAck(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{})
	require.NoError(t, client.SendAck(context.Background(), "op-2"))
	assert.Equal(t, "/api/v1/agent/operations/op-2/ack", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod)
}

func TestExecuteOperationEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{})
	result, err := client.ExecuteOperation(context.Background(), "/api/v1/agent/operations/op-1/request", http.MethodGet, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"error": "empty response"}, result)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{})
	err := client.SendAck(context.Background(), "op-1")
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{})
	require.NoError(t, client.SendAck(context.Background(), "op-1"))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/test/ping", r.URL.Path)
		assert.Equal(t, "trace-1", r.URL.Query().Get("trace_id"))
		w.Write([]byte(`{"pong": true, "trace_id": "trace-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{})
	result, err := client.Ping(context.Background(), "trace-1")
	require.NoError(t, err)
	assert.Equal(t, true, result["pong"])
}

func TestPushMetrics(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/agent/metrics", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{})
	require.NoError(t, client.PushMetrics(context.Background(), []string{"metric_a 1", "metric_b 2"}))
	assert.Equal(t, "prometheus", gotBody["format"])
	assert.Equal(t, []any{"metric_a 1", "metric_b 2"}, gotBody["metrics"])
}

func TestPushLogs(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/agent/logs", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "agent-1", staticCreds{})
	entries := []map[string]any{{"timestamp": "t", "message": "m"}}
	require.NoError(t, client.PushLogs(context.Background(), entries))
	assert.Equal(t, []any{map[string]any{"timestamp": "t", "message": "m"}}, gotBody["logs"])
}
