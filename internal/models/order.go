package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a donation order.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderExpired OrderStatus = "expired"
	OrderFailed  OrderStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderExpired || s == OrderFailed
}

// Order is a donation order. Only pending orders may change status.
type Order struct {
	ID              int64           `db:"id" json:"-"`
	OrderID         string          `db:"order_id" json:"orderId"`
	Slug            string          `db:"slug" json:"slug"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Currency        string          `db:"currency" json:"currency"`
	Status          OrderStatus     `db:"status" json:"status"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expiresAt"`
	IsExpired       bool            `db:"is_expired" json:"isExpired"`
	UserIP          *string         `db:"user_ip" json:"-"`
	PaymentProvider *string         `db:"payment_provider" json:"paymentProvider,omitempty"`
	PaymentMethod   *string         `db:"payment_method" json:"paymentMethod,omitempty"`
	TransactionID   *string         `db:"transaction_id" json:"transactionId,omitempty"`
	PaidAt          *time.Time      `db:"paid_at" json:"paidAt,omitempty"`
	FailedReason    *string         `db:"failed_reason" json:"failedReason,omitempty"`
	Metadata        OrderMetadata   `db:"metadata" json:"metadata"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// OrderMetadata is request context captured when the order was created.
type OrderMetadata struct {
	UserAgent string `json:"userAgent,omitempty"`
	Referer   string `json:"referer,omitempty"`
	Subject   string `json:"subject,omitempty"`
	TestMode  bool   `json:"testMode,omitempty"`
}

// Value implements driver.Valuer for database storage
func (m OrderMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *OrderMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan OrderMetadata")
	}
	return json.Unmarshal(raw, m)
}

// StatusUpdate carries the optional settlement details written together with
// a status transition.
type StatusUpdate struct {
	PaymentProvider string
	PaymentMethod   string
	TransactionID   string
	FailedReason    string
	At              time.Time
}

// DonationStats summarises paid orders for one slug.
type DonationStats struct {
	Slug       string          `json:"slug"`
	PaidCount  int64           `json:"paidCount"`
	Pending    int64           `json:"pendingCount"`
	Expired    int64           `json:"expiredCount"`
	Failed     int64           `json:"failedCount"`
	ByCurrency []CurrencyStats `json:"byCurrency"`
}

// CurrencyStats aggregates paid orders in one currency. Amounts in different
// currencies are never summed together.
type CurrencyStats struct {
	Currency string          `db:"currency" json:"currency"`
	Count    int64           `db:"count" json:"count"`
	Total    decimal.Decimal `db:"total" json:"total"`
	Average  decimal.Decimal `db:"average" json:"average"`
}
