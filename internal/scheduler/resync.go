package scheduler

import (
	"context"
	"time"

	"github.com/unitroute/unitroute/internal/logger"
)

// Trigger requests a full re-enumeration of units. Implemented by the
// bus connector.
type Trigger interface {
	Resync()
}

// Resyncer periodically asks the connector to re-enumerate all units.
// Signals can be dropped while the bus is flapping; re-enumeration plus
// idempotent writes downstream guarantees eventual consistency without
// replaying anything.
type Resyncer struct {
	trigger  Trigger
	log      logger.Logger
	interval time.Duration
	stopCh   chan struct{}
}

func NewResyncer(trigger Trigger, log logger.Logger, interval time.Duration) *Resyncer {
	return &Resyncer{
		trigger:  trigger,
		log:      log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic resync process. A non-positive interval
// disables it.
func (r *Resyncer) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.log.Info("periodic resync disabled")
		return
	}

	ticker := time.NewTicker(r.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.log.Debug("periodic resync")
				r.trigger.Resync()
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the resyncer.
func (r *Resyncer) Stop() {
	close(r.stopCh)
}
