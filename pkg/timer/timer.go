// Package timer runs a named handler on a fixed interval.
package timer

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/montecarlodata/snowflake-agent/pkg/log"
)

// Timer invokes a handler periodically, used for the log push.
type Timer struct {
	name      string
	interval  time.Duration
	scheduler gocron.Scheduler
}

// New creates a timer firing every interval
func New(name string, interval time.Duration) *Timer {
	return &Timer{name: name, interval: interval}
}

// Start begins invoking handler every interval. Handler errors are logged,
// the schedule keeps running.
func (t *Timer) Start(handler func() error) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(t.interval),
		gocron.NewTask(func() {
			if err := handler(); err != nil {
				log.WithComponent(t.name).Error().Err(err).Msg("Timer handler failed")
			}
		}),
	)
	if err != nil {
		return err
	}
	t.scheduler = scheduler
	scheduler.Start()
	log.WithComponent(t.name).Info().Dur("interval", t.interval).Msg("Timer started")
	return nil
}

// Stop shuts the schedule down, a running handler finishes first.
func (t *Timer) Stop() {
	if t.scheduler == nil {
		return
	}
	if err := t.scheduler.Shutdown(); err != nil {
		log.WithComponent(t.name).Warn().Err(err).Msg("Failed to stop timer")
	}
	t.scheduler = nil
	log.WithComponent(t.name).Info().Msg("Timer stopped")
}
