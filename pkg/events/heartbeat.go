package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
	"github.com/montecarlodata/snowflake-agent/pkg/metrics"
)

// DefaultInactivityTimeout is how long the agent waits without a heartbeat
// before restarting the stream. The orchestrator sends heartbeats roughly
// every minute.
const DefaultInactivityTimeout = 120 * time.Second

// HeartbeatChecker watches for heartbeats on the event stream and invokes the
// missing handler when none arrives within the inactivity timeout.
//
// Every Start mints a new generation token and the loop carries it: a loop
// whose token no longer matches the current one self-terminates at its next
// wake. A plain running flag is not enough here, a stopped loop could wake up
// late and fire after a restart already produced a healthy stream.
type HeartbeatChecker struct {
	timeout time.Duration
	handler func()

	mu            sync.Mutex
	generation    string
	stopCh        chan struct{}
	lastHeartbeat time.Time
}

// NewHeartbeatChecker creates a checker invoking handler when the stream goes
// quiet for longer than timeout
func NewHeartbeatChecker(timeout time.Duration, handler func()) *HeartbeatChecker {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return &HeartbeatChecker{
		timeout: timeout,
		handler: handler,
	}
}

// Start begins a new watcher generation
func (hc *HeartbeatChecker) Start() {
	hc.mu.Lock()
	if hc.stopCh != nil {
		close(hc.stopCh)
	}
	generation := uuid.NewString()
	hc.generation = generation
	hc.stopCh = make(chan struct{})
	hc.lastHeartbeat = time.Now()
	stopCh := hc.stopCh
	hc.mu.Unlock()

	go hc.run(generation, stopCh)
}

// Stop terminates the current generation
func (hc *HeartbeatChecker) Stop() {
	hc.mu.Lock()
	hc.generation = ""
	if hc.stopCh != nil {
		close(hc.stopCh)
		hc.stopCh = nil
	}
	hc.mu.Unlock()
}

// HeartbeatReceived records that a heartbeat arrived
func (hc *HeartbeatChecker) HeartbeatReceived() {
	hc.mu.Lock()
	hc.lastHeartbeat = time.Now()
	hc.mu.Unlock()
}

func (hc *HeartbeatChecker) run(generation string, stopCh chan struct{}) {
	logger := log.WithComponent("heartbeat")
	logger.Info().Msg("Heartbeat monitor started")
	for {
		select {
		case <-time.After(hc.timeout / 2):
		case <-stopCh:
			logger.Info().Msg("Heartbeat monitor stopped")
			return
		}

		hc.mu.Lock()
		current := hc.generation == generation
		elapsed := time.Since(hc.lastHeartbeat)
		hc.mu.Unlock()

		if !current {
			logger.Info().Msg("Heartbeat monitor stopped")
			return
		}
		if elapsed > hc.timeout {
			logger.Error().Dur("elapsed", elapsed).Msg("Heartbeat timeout")
			metrics.HeartbeatTimeoutsTotal.Inc()
			hc.handler()
		}
	}
}
