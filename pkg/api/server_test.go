package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	completed [][2]string
	failed    []failedCall
	metrics   []string
}

type failedCall struct {
	opJSON string
	code   int
	msg    string
	state  string
}

func (s *fakeService) QueryCompleted(opJSON, queryID string) {
	s.completed = append(s.completed, [2]string{opJSON, queryID})
}

func (s *fakeService) QueryFailed(opJSON string, code int, msg, state string) {
	s.failed = append(s.failed, failedCall{opJSON, code, msg, state})
}

func (s *fakeService) HealthInformation(traceID string) map[string]any {
	return map[string]any{"platform": "SNA", "trace_id": traceID}
}

func (s *fakeService) RunReachabilityTest() map[string]any {
	return map[string]any{"pong": true}
}

func (s *fakeService) FetchMetrics() ([]string, error) {
	return s.metrics, nil
}

func serve(t *testing.T, service Service, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	server := NewServer("127.0.0.1:0", service)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var parsed map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &parsed))
	return parsed
}

func TestHealthcheck(t *testing.T) {
	recorder := serve(t, &fakeService{}, http.MethodGet, "/api/v1/test/healthcheck", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "OK", recorder.Body.String())
}

func TestHealthRaw(t *testing.T) {
	recorder := serve(t, &fakeService{}, http.MethodGet, "/api/v1/test/health?trace_id=t-1", "")
	body := decode(t, recorder)
	assert.Equal(t, "SNA", body["platform"])
	assert.Equal(t, "t-1", body["trace_id"])
}

func TestHealthCallbackShape(t *testing.T) {
	recorder := serve(t, &fakeService{}, http.MethodPost, "/api/v1/test/health", "")
	body := decode(t, recorder)

	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	row := data[0].([]any)
	require.Len(t, row, 2)
	assert.Equal(t, float64(0), row[0])

	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(row[1].(string)), &health))
	assert.Equal(t, "SNA", health["platform"])
}

func TestReachability(t *testing.T) {
	recorder := serve(t, &fakeService{}, http.MethodPost, "/api/v1/test/reachability", "")
	assert.Equal(t, map[string]any{"pong": true}, decode(t, recorder))
}

func TestScrapeMetrics(t *testing.T) {
	service := &fakeService{metrics: []string{"metric_a 1"}}
	recorder := serve(t, service, http.MethodPost, "/api/v1/test/metrics", "")
	assert.Equal(t, map[string]any{"metrics": []any{"metric_a 1"}}, decode(t, recorder))
}

func TestQueryCompleted(t *testing.T) {
	service := &fakeService{}
	recorder := serve(t, service, http.MethodPost, "/api/v1/agent/execute/snowflake/query_completed",
		`{"data": [[0, "{\"operation_id\": \"op-1\"}", "qid-1"]]}`)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, map[string]any{"data": []any{[]any{float64(0), "ok"}}}, decode(t, recorder))
	require.Len(t, service.completed, 1)
	assert.Equal(t, `{"operation_id": "op-1"}`, service.completed[0][0])
	assert.Equal(t, "qid-1", service.completed[0][1])
}

func TestQueryCompletedEmptyData(t *testing.T) {
	service := &fakeService{}
	recorder := serve(t, service, http.MethodPost, "/api/v1/agent/execute/snowflake/query_completed",
		`{"data": []}`)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, map[string]any{}, decode(t, recorder))
	assert.Empty(t, service.completed)
}

func TestQueryCompletedShortRow(t *testing.T) {
	recorder := serve(t, &fakeService{}, http.MethodPost, "/api/v1/agent/execute/snowflake/query_completed",
		`{"data": [[0, "op"]]}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestQueryFailed(t *testing.T) {
	tests := []struct {
		name string
		body string
		want failedCall
	}{
		{
			name: "numeric code",
			body: `{"data": [[0, "op-json", 630, "timed out", "57014"]]}`,
			want: failedCall{"op-json", 630, "timed out", "57014"},
		},
		{
			name: "string code",
			body: `{"data": [[0, "op-json", "2043", "missing", "02000"]]}`,
			want: failedCall{"op-json", 2043, "missing", "02000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeService{}
			recorder := serve(t, service, http.MethodPost, "/api/v1/agent/execute/snowflake/query_failed", tt.body)
			assert.Equal(t, http.StatusOK, recorder.Code)
			require.Len(t, service.failed, 1)
			assert.Equal(t, tt.want, service.failed[0])
		})
	}
}

func TestQueryFailedInvalidBody(t *testing.T) {
	recorder := serve(t, &fakeService{}, http.MethodPost, "/api/v1/agent/execute/snowflake/query_failed", "not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestIntValue(t *testing.T) {
	assert.Equal(t, 630, intValue(float64(630)))
	assert.Equal(t, 630, intValue("630"))
	assert.Equal(t, 0, intValue("not a number"))
	assert.Equal(t, 0, intValue(nil))
}
