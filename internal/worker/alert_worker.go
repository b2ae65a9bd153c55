package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// AlertDispatcher sends pending payment-log alerts.
type AlertDispatcher interface {
	DispatchPending(ctx context.Context) (int, error)
}

// AlertWorker forwards error log entries on a fixed interval.
type AlertWorker struct {
	alerts   AlertDispatcher
	interval time.Duration
}

// NewAlertWorker constructs an AlertWorker.
func NewAlertWorker(alerts AlertDispatcher, interval time.Duration) *AlertWorker {
	return &AlertWorker{
		alerts:   alerts,
		interval: interval,
	}
}

// Start begins the dispatch loop and listens for context cancellation.
func (w *AlertWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting alert worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Alert worker stopped")
			return
		}
	}
}

func (w *AlertWorker) run(ctx context.Context) {
	n, err := w.alerts.DispatchPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to dispatch payment alerts")
		return
	}
	if n > 0 {
		log.Info().Int("sent", n).Msg("Payment alerts dispatched")
	}
}
