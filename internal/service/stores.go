package service

import (
	"context"
	"net/url"
	"time"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/pkg/orderid"
	"github.com/pokjoy/qfeng5/pkg/payment"
)

// OrderStore persists donation orders and their audit log.
// *repository.OrderRepository is the production implementation.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus, upd models.StatusUpdate) (*models.Order, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context, slug string) (*models.DonationStats, error)
	AddLog(ctx context.Context, entry *models.PaymentLogEntry) error
	LogsByOrderID(ctx context.Context, orderID string) ([]models.PaymentLogEntry, error)
	PendingAlerts(ctx context.Context, limit int) ([]models.PaymentLogEntry, error)
	MarkAlertSent(ctx context.Context, id int64) error
	MarkAlertFailed(ctx context.Context, id int64) error
}

// ConfigStore persists system_configs rows.
type ConfigStore interface {
	Get(ctx context.Context, key string) (*models.SystemConfig, error)
	List(ctx context.Context, category string) ([]models.SystemConfig, error)
	Upsert(ctx context.Context, c *models.SystemConfig) error
}

// CredentialRegistry keeps bookkeeping for issued credentials.
// *cache.CredentialRegistry is the production implementation.
type CredentialRegistry interface {
	Record(ctx context.Context, cred *models.IssuedCredential) error
	Touch(ctx context.Context, jti string, at time.Time) error
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Purge(ctx context.Context, now time.Time) (int64, error)
}

// PaymentGateway is the external payment page. *payment.Client implements it.
type PaymentGateway interface {
	Probe(ctx context.Context) payment.Status
	ProbeWith(ctx context.Context, opts payment.ProbeOptions) payment.Status
	PaymentURL(req payment.Request) (string, error)
	ParseCallback(params url.Values) (*payment.Callback, error)
}

// IDGenerator produces order identifiers.
type IDGenerator interface {
	Generate(t orderid.BusinessType) (string, error)
}
