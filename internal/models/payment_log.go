package models

import "time"

// LogStatus classifies a payment log entry.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
	LogInfo    LogStatus = "info"
)

// Log modules and actions written by the order lifecycle.
const (
	LogModuleDonation = "donation"
	LogModulePayment  = "payment"
	LogModuleSweeper  = "cleanup"

	ActionCreateOrder   = "create_order"
	ActionStatusUpdate  = "status_update"
	ActionOrderExpired  = "order_expired"
	ActionPaymentProbe  = "payment_probe"
	ActionCallback      = "payment_callback"
	ActionCredentialErr = "credential_issue"
)

// PaymentLogEntry is an append-only audit record. Only the alert
// bookkeeping columns change after insert.
type PaymentLogEntry struct {
	ID            int64      `db:"id" json:"id"`
	OrderID       string     `db:"order_id" json:"orderId"`
	Module        string     `db:"module" json:"module"`
	Action        string     `db:"action" json:"action"`
	Status        LogStatus  `db:"status" json:"status"`
	Message       string     `db:"message" json:"message"`
	AlertSent     bool       `db:"alert_sent" json:"alertSent"`
	AlertAttempts int        `db:"alert_attempts" json:"alertAttempts"`
	LastAlertAt   *time.Time `db:"last_alert_at" json:"lastAlertAt,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}
