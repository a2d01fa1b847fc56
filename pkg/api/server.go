// Package api serves the agent's HTTP surface: health endpoints for the UI
// and the stored-procedure callbacks the warehouse invokes when async
// queries finish.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
)

// Service is the agent surface the API exposes, agent.Agent in production.
type Service interface {
	QueryCompleted(opJSON, queryID string)
	QueryFailed(opJSON string, code int, msg, state string)
	HealthInformation(traceID string) map[string]any
	RunReachabilityTest() map[string]any
	FetchMetrics() ([]string, error)
}

// Server is the admin HTTP server.
type Server struct {
	service Service
	server  *http.Server
}

// NewServer creates the admin server listening on addr
func NewServer(addr string, service Service) *Server {
	s := &Server{service: service}

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(requestLogger)

	router.Get("/api/v1/test/healthcheck", s.healthcheck)
	router.Get("/api/v1/test/health", s.healthRaw)
	router.Post("/api/v1/test/health", s.health)
	router.Post("/api/v1/test/reachability", s.reachability)
	router.Post("/api/v1/test/metrics", s.scrapeMetrics)
	router.Post("/api/v1/agent/execute/snowflake/query_completed", s.queryCompleted)
	router.Post("/api/v1/agent/execute/snowflake/query_failed", s.queryFailed)
	router.Handle("/metrics", metrics.Handler())

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

// Start begins serving, it blocks until the server stops.
func (s *Server) Start() error {
	log.WithComponent("api").Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthcheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) healthRaw(w http.ResponseWriter, r *http.Request) {
	traceID := r.URL.Query().Get("trace_id")
	writeJSON(w, s.service.HealthInformation(traceID))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	health, err := json.Marshal(s.service.HealthInformation(""))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"data": []any{[]any{0, string(health)}},
	})
}

func (s *Server) reachability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.RunReachabilityTest())
}

func (s *Server) scrapeMetrics(w http.ResponseWriter, r *http.Request) {
	lines, err := s.service.FetchMetrics()
	if err != nil {
		writeJSON(w, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"metrics": lines})
}

// queryCompleted handles the stored-procedure callback shape
// {data: [[row, op_json, query_id]]}.
func (s *Server) queryCompleted(w http.ResponseWriter, r *http.Request) {
	row, err := callbackRow(r, 3)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if row == nil {
		writeJSON(w, map[string]any{})
		return
	}
	opJSON, _ := row[1].(string)
	queryID, _ := row[2].(string)
	s.service.QueryCompleted(opJSON, queryID)
	writeCallbackOK(w)
}

// queryFailed handles {data: [[row, op_json, code, msg, state]]}.
func (s *Server) queryFailed(w http.ResponseWriter, r *http.Request) {
	row, err := callbackRow(r, 5)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if row == nil {
		writeJSON(w, map[string]any{})
		return
	}
	opJSON, _ := row[1].(string)
	code := intValue(row[2])
	msg, _ := row[3].(string)
	state, _ := row[4].(string)
	s.service.QueryFailed(opJSON, code, msg, state)
	writeCallbackOK(w)
}

// callbackRow decodes the warehouse callback body and returns the first data
// row, nil when the data array is empty. Row index 0 is the row number and is
// discarded by the callers.
func callbackRow(r *http.Request, minLen int) ([]any, error) {
	var body struct {
		Data [][]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid callback body: %w", err)
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	row := body.Data[0]
	if len(row) < minLen {
		return nil, fmt.Errorf("invalid callback row, expected %d values, got %d", minLen, len(row))
	}
	return row, nil
}

// intValue coerces the numeric callback values, the warehouse serializes
// them inconsistently as numbers or strings.
func intValue(value any) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case string:
		var parsed int
		_, _ = fmt.Sscanf(v, "%d", &parsed)
		return parsed
	default:
		return 0
	}
}

func writeCallbackOK(w http.ResponseWriter) {
	writeJSON(w, map[string]any{
		"data": []any{[]any{0, "ok"}},
	})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponent("api").Error().Err(err).Msg("Failed to write response")
	}
}

// requestLogger logs every request with its status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		log.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
