package events

import (
	"container/heap"
	"sync"
	"time"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
)

const (
	// DefaultAckInterval is how long an operation may stay in flight before an
	// ACK is sent for it.
	DefaultAckInterval = 45 * time.Second

	ackCheckInterval = 10 * time.Second
)

type pendingAck struct {
	scheduledTime time.Time
	operationID   string
	completed     bool
	index         int
}

type ackHeap []*pendingAck

func (h ackHeap) Len() int            { return len(h) }
func (h ackHeap) Less(i, j int) bool  { return h[i].scheduledTime.Before(h[j].scheduledTime) }
func (h ackHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *ackHeap) Push(x any)         { op := x.(*pendingAck); op.index = len(*h); *h = append(*h, op) }
func (h *ackHeap) Pop() any           { old := *h; n := len(old); op := old[n-1]; old[n-1] = nil; *h = old[:n-1]; return op }

// AckSender emits an ACK for operations still in flight after the configured
// interval, so the orchestrator knows the agent received them and does not
// re-dispatch. Completed operations never produce an ACK. A background loop
// wakes every 10 seconds and drains the due entries.
type AckSender struct {
	interval      time.Duration
	checkInterval time.Duration
	handler       func(operationID string)

	mu      sync.Mutex
	queue   ackHeap
	pending map[string]*pendingAck
	stopCh  chan struct{}
	running bool
}

// NewAckSender creates an ACK sender firing after the given interval
func NewAckSender(interval time.Duration) *AckSender {
	if interval <= 0 {
		interval = DefaultAckInterval
	}
	s := &AckSender{
		interval:      interval,
		checkInterval: ackCheckInterval,
		pending:       make(map[string]*pendingAck),
	}
	return s
}

// Start launches the background loop, handler is invoked for each due ACK
func (s *AckSender) Start(handler func(operationID string)) {
	s.mu.Lock()
	s.handler = handler
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()
	go s.run(stopCh)
	log.WithComponent("ack-sender").Info().Dur("interval", s.interval).Msg("started")
}

// Stop terminates the background loop, pending entries are dropped
func (s *AckSender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	log.WithComponent("ack-sender").Info().Msg("stopped")
}

// ScheduleAck arms the ACK timer for an operation
func (s *AckSender) ScheduleAck(operationID string) {
	op := &pendingAck{
		scheduledTime: time.Now().Add(s.interval),
		operationID:   operationID,
	}
	s.mu.Lock()
	heap.Push(&s.queue, op)
	s.pending[operationID] = op
	s.mu.Unlock()
}

// OperationCompleted cancels the pending ACK for an operation, the queued
// entry stays behind as a tombstone until its scheduled time passes
func (s *AckSender) OperationCompleted(operationID string) {
	s.mu.Lock()
	if op, ok := s.pending[operationID]; ok {
		delete(s.pending, operationID)
		op.completed = true
	}
	s.mu.Unlock()
}

func (s *AckSender) run(stopCh chan struct{}) {
	for {
		select {
		case <-time.After(s.checkInterval):
		case <-stopCh:
			return
		}
		s.drain()
	}
}

func (s *AckSender) drain() {
	now := time.Now()
	var due []*pendingAck

	s.mu.Lock()
	for len(s.queue) > 0 && !s.queue[0].scheduledTime.After(now) {
		op := heap.Pop(&s.queue).(*pendingAck)
		if _, ok := s.pending[op.operationID]; ok {
			delete(s.pending, op.operationID)
			due = append(due, op)
		}
	}
	s.mu.Unlock()

	for _, op := range due {
		if op.completed {
			continue
		}
		s.send(op.operationID)
	}
}

func (s *AckSender) send(operationID string) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("ack-sender").Error().Any("panic", r).
				Str("operation_id", operationID).Msg("ACK handler panicked")
		}
	}()
	log.WithComponent("ack-sender").Info().Str("operation_id", operationID).
		Msg("Sending ACK for operation")
	s.handler(operationID)
	metrics.AcksSentTotal.Inc()
}
