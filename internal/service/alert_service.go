package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pokjoy/qfeng5/internal/config"
	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
)

const alertEvent = "payment_log.error"

// AlertService forwards error entries of the payment log to operators.
// Without a webhook the entries are written to the error log instead.
type AlertService struct {
	orders     OrderStore
	httpClient *http.Client
	webhookURL string
	secret     string
	batchSize  int
}

// NewAlertService constructs an AlertService with a default HTTP client.
func NewAlertService(orders OrderStore, cfg config.AlertConfig) *AlertService {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &AlertService{
		orders: orders,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		webhookURL: cfg.WebhookURL,
		secret:     cfg.Secret,
		batchSize:  batch,
	}
}

type alertPayload struct {
	Event     string                  `json:"event"`
	Entry     *models.PaymentLogEntry `json:"entry"`
	Timestamp string                  `json:"timestamp"`
}

// DispatchPending sends one batch of pending alerts and flags the delivered
// ones. Entries whose delivery fails stay pending but are queued behind
// entries that have not been tried yet.
func (s *AlertService) DispatchPending(ctx context.Context) (int, error) {
	entries, err := s.orders.PendingAlerts(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range entries {
		e := &entries[i]
		if err := s.Send(ctx, e); err != nil {
			log.Warn().Err(err).Int64("log_id", e.ID).Str("order_id", e.OrderID).Int("attempts", e.AlertAttempts+1).Msg("Failed to deliver alert")
			if err := s.orders.MarkAlertFailed(ctx, e.ID); err != nil {
				log.Error().Err(err).Int64("log_id", e.ID).Msg("Failed to record alert attempt")
			}
			continue
		}
		if err := s.orders.MarkAlertSent(ctx, e.ID); err != nil {
			log.Error().Err(err).Int64("log_id", e.ID).Msg("Failed to mark alert sent")
			continue
		}
		sent++
	}
	return sent, nil
}

// Send delivers one alert.
func (s *AlertService) Send(ctx context.Context, e *models.PaymentLogEntry) error {
	if s.webhookURL == "" {
		log.Error().
			Int64("log_id", e.ID).
			Str("order_id", e.OrderID).
			Str("module", e.Module).
			Str("action", e.Action).
			Str("message", e.Message).
			Msg("Payment alert")
		return nil
	}

	payload, err := json.Marshal(alertPayload{Event: alertEvent, Entry: e, Timestamp: utils.NowISO()})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Event", alertEvent)
	req.Header.Set("X-Alert-Timestamp", time.Now().Format(time.RFC3339))
	if s.secret != "" {
		req.Header.Set("X-Callback-Signature", "sha256="+utils.GenerateSignature(payload, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("alert webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
