// Package events maintains the inbound event stream from the orchestrator:
// the SSE connection, the heartbeat watchdog and the delayed ACK sender.
package events

import (
	"time"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
)

// Frame types handled by the client itself, everything else is forwarded to
// the operation handler.
const (
	eventTypeWelcome     = "welcome"
	eventTypeHeartbeat   = "heartbeat"
	EventTypePushMetrics = "push_metrics"
)

// Client ties the stream receiver to the heartbeat watchdog. Control frames
// (welcome, heartbeat) are consumed here, operation frames are forwarded to
// the handler passed to Start. A heartbeat carrying push_metrics=true is
// turned into a synthetic push_metrics operation so metrics publishing rides
// the regular operation path.
type Client struct {
	receiver  Receiver
	heartbeat *HeartbeatChecker
	onEvent   EventHandler
}

// NewClient creates an events client over the given receiver
func NewClient(receiver Receiver, inactivityTimeout time.Duration) *Client {
	c := &Client{receiver: receiver}
	c.heartbeat = NewHeartbeatChecker(inactivityTimeout, c.heartbeatMissing)
	return c
}

// Start connects the stream and begins heartbeat monitoring
func (c *Client) Start(onEvent EventHandler) {
	c.onEvent = onEvent
	c.receiver.Start(c.handleEvent, c.connected, c.disconnected)
}

// Stop disconnects the stream and stops the watchdog
func (c *Client) Stop() {
	c.heartbeat.Stop()
	c.receiver.Stop()
}

func (c *Client) connected() {
	log.WithComponent("events").Info().Msg("Connected to event stream")
	c.heartbeat.Start()
}

func (c *Client) disconnected() {
	log.WithComponent("events").Info().Msg("Disconnected from event stream")
	c.heartbeat.Stop()
}

func (c *Client) heartbeatMissing() {
	log.WithComponent("events").Warn().Msg("No heartbeat received, restarting receiver")
	c.receiver.Restart()
}

func (c *Client) handleEvent(event Event) {
	eventType, _ := event["type"].(string)
	switch eventType {
	case eventTypeWelcome:
		agentID, _ := event["agent_id"].(string)
		log.WithComponent("events").Info().Str("agent_id", agentID).Msg("Received welcome message")
	case eventTypeHeartbeat:
		c.heartbeat.HeartbeatReceived()
		if push, _ := event["push_metrics"].(bool); push {
			c.onEvent(Event{"type": EventTypePushMetrics})
		}
	default:
		c.onEvent(event)
	}
}
