package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReceiver lets tests drive events without a live stream.
type fakeReceiver struct {
	mu       sync.Mutex
	onEvent  EventHandler
	restarts int
	stopped  bool
}

func (r *fakeReceiver) Start(onEvent EventHandler, onConnect, onDisconnect func()) {
	r.mu.Lock()
	r.onEvent = onEvent
	r.mu.Unlock()
	if onConnect != nil {
		onConnect()
	}
}

func (r *fakeReceiver) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *fakeReceiver) Restart() {
	r.mu.Lock()
	r.restarts++
	r.mu.Unlock()
}

func (r *fakeReceiver) emit(event Event) {
	r.mu.Lock()
	handler := r.onEvent
	r.mu.Unlock()
	handler(event)
}

func (r *fakeReceiver) restartCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

func collector() (*[]Event, EventHandler, *sync.Mutex) {
	var mu sync.Mutex
	var received []Event
	return &received, func(event Event) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	}, &mu
}

func TestClientForwardsOperationEvents(t *testing.T) {
	receiver := &fakeReceiver{}
	client := NewClient(receiver, time.Minute)
	received, handler, mu := collector()
	client.Start(handler)
	defer client.Stop()

	event := Event{"operation_id": "op-1", "path": "/api/v1/test/health"}
	receiver.emit(event)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *received, 1)
	assert.Equal(t, event, (*received)[0])
}

func TestClientConsumesControlFrames(t *testing.T) {
	receiver := &fakeReceiver{}
	client := NewClient(receiver, time.Minute)
	received, handler, mu := collector()
	client.Start(handler)
	defer client.Stop()

	receiver.emit(Event{"type": "welcome", "agent_id": "agent-1"})
	receiver.emit(Event{"type": "heartbeat", "ts": "2026-01-01T00:00:00Z"})

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, *received)
}

func TestClientSynthesizesPushMetricsEvent(t *testing.T) {
	receiver := &fakeReceiver{}
	client := NewClient(receiver, time.Minute)
	received, handler, mu := collector()
	client.Start(handler)
	defer client.Stop()

	receiver.emit(Event{"type": "heartbeat", "push_metrics": true})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *received, 1)
	assert.Equal(t, Event{"type": EventTypePushMetrics}, (*received)[0])
}

func TestClientRestartsReceiverOnMissedHeartbeat(t *testing.T) {
	receiver := &fakeReceiver{}
	client := NewClient(receiver, 50*time.Millisecond)
	_, handler, _ := collector()
	client.Start(handler)
	defer client.Stop()

	assert.Eventually(t, func() bool {
		return receiver.restartCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
