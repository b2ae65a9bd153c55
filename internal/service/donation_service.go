package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
	"github.com/pokjoy/qfeng5/pkg/orderid"
	"github.com/pokjoy/qfeng5/pkg/payment"
)

// Donation limits and defaults.
var (
	MinDonation = decimal.RequireFromString("0.5")
	MaxDonation = decimal.RequireFromString("9999")

	DefaultCurrencies  = []string{"CNY", "USD"}
	DefaultOrderExpiry = 30 * time.Minute
)

const paymentProvider = "external"

// CreateDonationRequest is a visitor's donation intent.
type CreateDonationRequest struct {
	Slug      string
	Amount    decimal.Decimal
	Currency  string
	UserIP    string
	UserAgent string
	Referer   string
}

// CreateDonationResult points the visitor at the payment page.
type CreateDonationResult struct {
	OrderID    string    `json:"orderId"`
	PaymentURL string    `json:"paymentUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ConfirmResult is the outcome of a settlement notice. Credential is set
// only when the order is paid.
type ConfirmResult struct {
	OrderID    string             `json:"orderId"`
	Status     models.OrderStatus `json:"status"`
	Slug       string             `json:"slug"`
	Credential *Issued            `json:"-"`
	RedirectTo string             `json:"redirectTo,omitempty"`
}

// StatusResult is a read-only view of an order.
type StatusResult struct {
	OrderID    string             `json:"orderId"`
	Status     models.OrderStatus `json:"status"`
	Slug       string             `json:"slug"`
	Amount     decimal.Decimal    `json:"amount"`
	Currency   string             `json:"currency"`
	ExpiresAt  time.Time          `json:"expiresAt"`
	IsExpired  bool               `json:"isExpired"`
	RedirectTo string             `json:"redirectTo,omitempty"`
}

// DonationService runs the donation path: order creation, settlement and
// status checks.
type DonationService struct {
	orders  OrderStore
	config  *ConfigService
	unlock  *UnlockService
	gateway PaymentGateway
	ids     IDGenerator
	baseURL string
	now     func() time.Time
}

// NewDonationService creates a new DonationService.
func NewDonationService(orders OrderStore, config *ConfigService, unlock *UnlockService, gateway PaymentGateway, ids IDGenerator, baseURL string) *DonationService {
	return &DonationService{
		orders:  orders,
		config:  config,
		unlock:  unlock,
		gateway: gateway,
		ids:     ids,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// ValidateAmount enforces the donation bounds and cent precision.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThan(MinDonation) || amount.GreaterThan(MaxDonation) {
		return utils.Invalid(utils.ErrInvalidAmount, fmt.Sprintf("amount must be between %s and %s", MinDonation, MaxDonation))
	}
	if !amount.Equal(amount.Round(2)) {
		return utils.Invalid(utils.ErrInvalidAmount, "amount has more than two decimal places")
	}
	return nil
}

// CreateDonation validates the request, checks the payment page is up and
// opens a pending order.
func (s *DonationService) CreateDonation(ctx context.Context, req CreateDonationRequest) (*CreateDonationResult, error) {
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := s.unlock.requireSlug(req.Slug); err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	supported, err := s.config.Strings(ctx, KeySupportedCurrency, DefaultCurrencies)
	if err != nil {
		return nil, err
	}
	if !containsFold(supported, currency) {
		return nil, utils.Invalid(utils.ErrUnsupportedCurrency, "unsupported currency "+req.Currency)
	}

	enabled, err := s.config.Bool(ctx, KeyPaymentEnabled, true)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, utils.ErrPaymentDisabled
	}
	testMode, err := s.config.Bool(ctx, KeyPaymentTestMode, false)
	if err != nil {
		return nil, err
	}

	orderID, err := s.ids.Generate(orderid.Donation)
	if err != nil {
		return nil, fmt.Errorf("generate order id: %w", err)
	}

	if st := s.gateway.Probe(ctx); !st.Available {
		log.Error().Str("order_id", orderID).Str("error", st.Error).Int("attempts", st.Attempts).Msg("Payment service unavailable")
		s.addLog(ctx, orderID, models.LogModulePayment, models.ActionPaymentProbe, models.LogError,
			fmt.Sprintf("payment service unavailable after %d attempts: %s", st.Attempts, st.Error))
		return nil, utils.ErrServiceUnavailable
	}

	expiry, err := s.config.Duration(ctx, KeyOrderExpiry, time.Minute, DefaultOrderExpiry)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	subject := "解锁内容：" + req.Slug
	order := &models.Order{
		OrderID:   orderID,
		Slug:      req.Slug,
		Amount:    req.Amount.Round(2),
		Currency:  currency,
		Status:    models.OrderPending,
		ExpiresAt: now.Add(expiry),
		Metadata: models.OrderMetadata{
			UserAgent: req.UserAgent,
			Referer:   req.Referer,
			Subject:   subject,
			TestMode:  testMode,
		},
	}
	if req.UserIP != "" {
		ip := req.UserIP
		order.UserIP = &ip
	}

	if err := s.orders.Create(ctx, order); err != nil {
		if !errors.Is(err, utils.ErrDuplicateOrderID) {
			return nil, err
		}
		log.Warn().Str("order_id", order.OrderID).Msg("Order id collision, regenerating")
		if order.OrderID, err = s.ids.Generate(orderid.Donation); err != nil {
			return nil, fmt.Errorf("generate order id: %w", err)
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return nil, err
		}
	}

	payURL, err := s.gateway.PaymentURL(payment.Request{
		OrderID:   order.OrderID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Subject:   subject,
		ReturnURL: s.baseURL + "/donation/callback",
		CancelURL: s.baseURL + UnlockPath(req.Slug),
	})
	if err != nil {
		s.addLog(ctx, order.OrderID, models.LogModulePayment, models.ActionCreateOrder, models.LogError, err.Error())
		return nil, fmt.Errorf("build payment url: %w", err)
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("slug", order.Slug).
		Str("amount", order.Amount.StringFixed(2)).
		Str("currency", order.Currency).
		Msg("Donation order created")

	return &CreateDonationResult{
		OrderID:    order.OrderID,
		PaymentURL: payURL,
		ExpiresAt:  order.ExpiresAt,
	}, nil
}

// ConfirmDonation applies a signed settlement notice from the payment page.
// A repeated success notice does not transition again. It re-mints a
// credential bounded by the original payment time, and none at all once
// that window has lapsed.
func (s *DonationService) ConfirmDonation(ctx context.Context, params url.Values) (*ConfirmResult, error) {
	cb, err := s.gateway.ParseCallback(params)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		log.Warn().Str("order_id", params.Get("order_id")).Msg("Rejected payment callback with bad signature")
		return nil, utils.ErrInvalidSignature
	case err != nil:
		return nil, utils.Invalid(utils.ErrInvalidInput, err.Error())
	}

	if !orderid.Validate(cb.OrderID) {
		return nil, utils.ErrOrderNotFound
	}
	order, err := s.orders.GetByOrderID(ctx, cb.OrderID)
	if err != nil {
		return nil, err
	}

	if cb.Amount != "" || cb.Currency != "" {
		if msg := mismatch(order, cb); msg != "" {
			s.addLog(ctx, order.OrderID, models.LogModulePayment, models.ActionCallback, models.LogError, msg)
			return nil, utils.Invalid(utils.ErrInvalidInput, msg)
		}
	}

	upd := models.StatusUpdate{
		PaymentProvider: paymentProvider,
		PaymentMethod:   cb.PaymentMethod,
		TransactionID:   cb.TransactionID,
		At:              s.now().UTC(),
	}

	switch cb.Status {
	case payment.CallbackSuccess:
		order, err = s.orders.UpdateStatus(ctx, order.OrderID, models.OrderPaid, upd)
	case payment.CallbackFailed, payment.CallbackCancelled:
		upd.FailedReason = cb.Message
		if upd.FailedReason == "" {
			upd.FailedReason = string(cb.Status)
		}
		order, err = s.orders.UpdateStatus(ctx, order.OrderID, models.OrderFailed, upd)
	default:
		s.addLog(ctx, order.OrderID, models.LogModulePayment, models.ActionCallback, models.LogInfo, "payment still pending")
	}
	if err != nil && !errors.Is(err, utils.ErrInvalidTransition) {
		return nil, err
	}
	if errors.Is(err, utils.ErrInvalidTransition) {
		log.Info().Str("order_id", order.OrderID).Str("status", string(order.Status)).Str("callback", string(cb.Status)).Msg("Callback did not change order status")
	}

	res := &ConfirmResult{OrderID: order.OrderID, Status: order.Status, Slug: order.Slug}
	if order.Status != models.OrderPaid {
		return res, nil
	}

	paidAt := order.UpdatedAt
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}
	issued, err := s.unlock.IssueDonation(ctx, order.Slug, paidAt)
	if errors.Is(err, utils.ErrCredentialLapsed) {
		log.Info().Str("order_id", order.OrderID).Time("paid_at", paidAt).Msg("Donation access window has lapsed, no credential issued")
		s.addLog(ctx, order.OrderID, models.LogModuleDonation, models.ActionCallback, models.LogInfo, "access window lapsed")
		return res, nil
	}
	if err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("Failed to issue donation credential")
		s.addLog(ctx, order.OrderID, models.LogModuleDonation, models.ActionCredentialErr, models.LogError, err.Error())
		return nil, err
	}
	res.Credential = issued
	res.RedirectTo = WorkPath(order.Slug)
	return res, nil
}

// CheckStatus reports an order without changing it.
func (s *DonationService) CheckStatus(ctx context.Context, id string) (*StatusResult, error) {
	if !orderid.Validate(id) {
		return nil, utils.ErrOrderNotFound
	}
	order, err := s.orders.GetByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &StatusResult{
		OrderID:   order.OrderID,
		Status:    order.Status,
		Slug:      order.Slug,
		Amount:    order.Amount,
		Currency:  order.Currency,
		ExpiresAt: order.ExpiresAt,
		IsExpired: order.IsExpired || (order.Status == models.OrderPending && !s.now().Before(order.ExpiresAt)),
	}
	if order.Status == models.OrderPaid {
		res.RedirectTo = WorkPath(order.Slug)
	}
	return res, nil
}

// Stats summarises donations for slug.
func (s *DonationService) Stats(ctx context.Context, slug string) (*models.DonationStats, error) {
	if err := s.unlock.requireSlug(slug); err != nil {
		return nil, err
	}
	return s.orders.Stats(ctx, slug)
}

// Logs returns the audit trail of one order.
func (s *DonationService) Logs(ctx context.Context, id string) ([]models.PaymentLogEntry, error) {
	if !orderid.Validate(id) {
		return nil, utils.ErrOrderNotFound
	}
	return s.orders.LogsByOrderID(ctx, id)
}

// ProbePayment runs an operator-requested probe of the payment page.
func (s *DonationService) ProbePayment(ctx context.Context, opts payment.ProbeOptions) payment.Status {
	st := s.gateway.ProbeWith(ctx, opts)
	log.Info().Bool("available", st.Available).Int64("response_time_ms", st.ResponseTime).Str("endpoint", st.Endpoint).Msg("Payment probe")
	return st
}

func (s *DonationService) addLog(ctx context.Context, orderID, module, action string, status models.LogStatus, msg string) {
	entry := &models.PaymentLogEntry{
		OrderID: orderID,
		Module:  module,
		Action:  action,
		Status:  status,
		Message: msg,
	}
	if err := s.orders.AddLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("order_id", orderID).Str("action", action).Msg("Failed to write payment log")
	}
}

func mismatch(o *models.Order, cb *payment.Callback) string {
	if cb.Currency != "" && !strings.EqualFold(cb.Currency, o.Currency) {
		return fmt.Sprintf("callback currency %s does not match order currency %s", cb.Currency, o.Currency)
	}
	if cb.Amount != "" {
		amt, err := decimal.NewFromString(cb.Amount)
		if err != nil {
			return fmt.Sprintf("callback amount %q is not a number", cb.Amount)
		}
		if !amt.Equal(o.Amount) {
			return fmt.Sprintf("callback amount %s does not match order amount %s", amt.StringFixed(2), o.Amount.StringFixed(2))
		}
	}
	return ""
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
