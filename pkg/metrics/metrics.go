package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Event stream metrics
	EventsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_events_received_total",
			Help: "Total number of events received on the stream",
		},
	)

	StreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_stream_reconnects_total",
			Help: "Total number of stream reconnect attempts",
		},
	)

	HeartbeatTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_heartbeat_timeouts_total",
			Help: "Total number of missed-heartbeat receiver restarts",
		},
	)

	// Operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_operations_total",
			Help: "Total number of operations received by route",
		},
		[]string{"route"},
	)

	AcksSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_acks_sent_total",
			Help: "Total number of ACKs sent for in-flight operations",
		},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_queries_total",
			Help: "Total number of warehouse queries by execution mode",
		},
		[]string{"mode"},
	)

	// Result publishing metrics
	ResultsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_results_published_total",
			Help: "Total number of results pushed to the orchestrator",
		},
	)

	PublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_publish_errors_total",
			Help: "Total number of failed result pushes",
		},
	)

	ResultsSpilledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_results_spilled_total",
			Help: "Total number of large results spilled to storage",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsReceivedTotal,
		StreamReconnectsTotal,
		HeartbeatTimeoutsTotal,
		OperationsTotal,
		AcksSentTotal,
		QueriesTotal,
		ResultsPublishedTotal,
		PublishErrorsTotal,
		ResultsSpilledTotal,
	)
}

// Handler returns the HTTP handler serving the prometheus registry
func Handler() http.Handler {
	return promhttp.Handler()
}
