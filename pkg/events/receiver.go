package events

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	backoffv1 "gopkg.in/cenkalti/backoff.v1"

	"github.com/montecarlodata/snowflake-agent/pkg/creds"
	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
)

// Event is a decoded frame from the orchestrator stream.
type Event = map[string]any

// EventHandler consumes decoded events.
type EventHandler func(event Event)

// Receiver produces events received from the orchestrator. The production
// implementation consumes a server-sent-event stream, tests inject fakes.
type Receiver interface {
	Start(onEvent EventHandler, onConnect, onDisconnect func())
	Stop()
	Restart()
}

// Reconnect backoff for the stream: base 2s, factor 2, capped at 4 minutes,
// unbounded retries.
const (
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = 240 * time.Second
)

// SSEReceiver maintains the single live inbound stream.
//
// Every Start mints a generation token and spawns a worker carrying it. The
// worker connects, consumes frames and reconnects with exponential backoff
// when the stream fails. Restart cancels the current generation and starts a
// new one: the old worker observes the token mismatch and self-terminates at
// its next frame boundary, so a slow drain can overlap a fresh connection
// without emitting stale events.
type SSEReceiver struct {
	baseURL string
	creds   *creds.Provider

	mu           sync.Mutex
	generation   string
	cancel       context.CancelFunc
	onEvent      EventHandler
	onConnect    func()
	onDisconnect func()
}

// NewSSEReceiver creates a receiver consuming baseURL/stream
func NewSSEReceiver(baseURL string, credentials *creds.Provider) *SSEReceiver {
	return &SSEReceiver{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   credentials,
	}
}

// Start records the handlers and spawns the first worker generation
func (r *SSEReceiver) Start(onEvent EventHandler, onConnect, onDisconnect func()) {
	r.mu.Lock()
	r.onEvent = onEvent
	r.onConnect = onConnect
	r.onDisconnect = onDisconnect
	r.mu.Unlock()
	r.startGeneration()
}

// Stop terminates the current generation
func (r *SSEReceiver) Stop() {
	r.mu.Lock()
	r.generation = ""
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
}

// Restart stops the current generation and starts a new one
func (r *SSEReceiver) Restart() {
	r.Stop()
	r.startGeneration()
}

func (r *SSEReceiver) startGeneration() {
	r.mu.Lock()
	generation := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	r.generation = generation
	r.cancel = cancel
	r.mu.Unlock()

	go r.run(ctx, generation)
}

func (r *SSEReceiver) isCurrent(generation string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation == generation
}

func (r *SSEReceiver) run(ctx context.Context, generation string) {
	logger := log.WithComponent("sse-receiver")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectBaseDelay
	bo.Multiplier = 2
	bo.MaxInterval = reconnectMaxDelay
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()

	for r.isCurrent(generation) {
		r.connectAndConsume(ctx, generation, bo)
		if !r.isCurrent(generation) {
			break
		}

		delay := bo.NextBackOff()
		logger.Warn().Dur("retry_in", delay).Msg("Stream connection failed, reconnecting")
		metrics.StreamReconnectsTotal.Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	logger.Info().Msg("SSE client stopped")
}

// connectAndConsume runs a single connection attempt. The backoff is reset
// once a connection is established so a long-lived stream that later drops
// starts again from the base delay.
func (r *SSEReceiver) connectAndConsume(ctx context.Context, generation string, bo *backoff.ExponentialBackOff) {
	logger := log.WithComponent("sse-receiver")

	headers := r.creds.LoginHeaders()
	logger.Info().Str("token_id", headers[creds.HeaderID]).Msg("Connecting SSE client")

	client := sse.NewClient(r.baseURL + "/stream")
	client.Headers = map[string]string{"Accept": "text/event-stream"}
	for name, value := range headers {
		client.Headers[name] = value
	}
	// no client timeout: the stream is expected to stay open
	client.Connection = &http.Client{}
	// reconnects are managed by the receiver loop, one attempt per call
	client.ReconnectStrategy = &backoffv1.StopBackOff{}
	client.OnConnect(func(*sse.Client) {
		bo.Reset()
		r.connected()
	})

	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if !r.isCurrent(generation) {
			return
		}
		if len(msg.Data) == 0 {
			return
		}
		r.dispatch(msg.Data)
	})
	if err != nil && r.isCurrent(generation) {
		logger.Warn().Err(err).Msg("Stream error")
	}
	r.disconnected()
}

func (r *SSEReceiver) dispatch(data []byte) {
	logger := log.WithComponent("sse-receiver")

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Error().Err(err).Str("data", string(data)).Msg("Failed to parse event")
		return
	}
	metrics.EventsReceivedTotal.Inc()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Any("panic", rec).Str("data", string(data)).Msg("Failed to process event")
		}
	}()
	r.mu.Lock()
	handler := r.onEvent
	r.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

func (r *SSEReceiver) connected() {
	r.mu.Lock()
	handler := r.onConnect
	r.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (r *SSEReceiver) disconnected() {
	r.mu.Lock()
	handler := r.onDisconnect
	r.mu.Unlock()
	if handler != nil {
		handler()
	}
}
