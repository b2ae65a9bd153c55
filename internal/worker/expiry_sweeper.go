package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pokjoy/qfeng5/internal/service"
)

// OrderSweeper expires overdue pending orders.
type OrderSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// CredentialPurger drops bookkeeping for credentials past their expiry.
type CredentialPurger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Enabled         bool      `json:"enabled"`
	ExpiredOrders   int64     `json:"expiredOrders"`
	PurgedTokens    int64     `json:"purgedTokens"`
	DurationMs      int64     `json:"durationMs"`
	OrderError      string    `json:"orderError,omitempty"`
	CredentialError string    `json:"credentialError,omitempty"`
	RanAt           time.Time `json:"ranAt"`
}

// OK reports whether every step of the sweep succeeded.
func (r SweepResult) OK() bool {
	return r.OrderError == "" && r.CredentialError == ""
}

// ExpirySweeper expires pending orders whose deadline has passed and purges
// stale credential bookkeeping on a fixed interval.
type ExpirySweeper struct {
	orders   OrderSweeper
	purger   CredentialPurger
	config   *service.ConfigService
	interval time.Duration
	now      func() time.Time

	// serialises ticker runs with on-demand runs
	mu sync.Mutex
}

// NewExpirySweeper constructs an ExpirySweeper. purger may be nil.
func NewExpirySweeper(orders OrderSweeper, purger CredentialPurger, config *service.ConfigService, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		orders:   orders,
		purger:   purger,
		config:   config,
		interval: interval,
		now:      time.Now,
	}
}

// Start begins the sweep loop and listens for context cancellation.
func (w *ExpirySweeper) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting expiry sweeper")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			log.Info().Msg("Expiry sweeper stopped")
			return
		}
	}
}

// RunOnce performs one sweep. The automatic-cleanup switch in
// system_configs turns it into a no-op; a failing step is reported in the
// result and does not stop the other step.
func (w *ExpirySweeper) RunOnce(ctx context.Context) SweepResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := w.now()
	res := SweepResult{RanAt: start.UTC()}

	enabled, err := w.config.Bool(ctx, service.KeyCleanupEnabled, true)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read cleanup switch, sweeping anyway")
		enabled = true
	}
	if !enabled {
		log.Debug().Msg("Automatic cleanup disabled")
		return res
	}
	res.Enabled = true

	n, err := w.orders.SweepExpired(ctx, start)
	if err != nil {
		res.OrderError = err.Error()
	}
	res.ExpiredOrders = n

	if w.purger != nil {
		p, err := w.purger.Purge(ctx, start)
		if err != nil {
			res.CredentialError = err.Error()
		}
		res.PurgedTokens = p
	}

	res.DurationMs = w.now().Sub(start).Milliseconds()

	ev := log.Info()
	if !res.OK() {
		ev = log.Error().Str("order_error", res.OrderError).Str("credential_error", res.CredentialError)
	}
	ev.Int64("expired_orders", res.ExpiredOrders).
		Int64("purged_tokens", res.PurgedTokens).
		Int64("duration_ms", res.DurationMs).
		Msg("Expiry sweep finished")
	return res
}
