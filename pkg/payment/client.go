// Package payment talks to the external payment page: it checks that the
// service is reachable, builds signed redirect URLs and verifies the signed
// parameters the page sends back.
package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const userAgent = "Qfeng5-Payment-Probe/1.0"

var (
	// ErrInvalidSignature is returned when callback parameters fail verification.
	ErrInvalidSignature = errors.New("payment callback signature mismatch")
	// ErrMalformedCallback is returned when required callback parameters are missing.
	ErrMalformedCallback = errors.New("payment callback is missing order_id or status")
)

// Config configures a Client.
type Config struct {
	GatewayURL    string
	ProbeEndpoint string
	APIKey        string
	// Secret signs outgoing URLs and verifies callbacks. An empty secret
	// leaves URLs unsigned and rejects every callback.
	Secret        string
	Timeout       time.Duration
	RetryAttempts int
	RetryPause    time.Duration
}

// Client is a minimal HTTP client for the payment page.
type Client struct {
	httpClient *http.Client
	cfg        Config
	now        func() time.Time
}

// NewClient constructs a Client, filling in the defaults of 10s timeout,
// 2 attempts and a 1s pause between attempts.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	if cfg.RetryPause < 0 {
		cfg.RetryPause = 0
	}
	return &Client{
		httpClient: &http.Client{},
		cfg:        cfg,
		now:        time.Now,
	}
}

// Status is the outcome of a probe.
type Status struct {
	Available    bool   `json:"available"`
	ResponseTime int64  `json:"responseTimeMs"`
	StatusCode   int    `json:"statusCode,omitempty"`
	Attempts     int    `json:"attempts"`
	Error        string `json:"error,omitempty"`
	Endpoint     string `json:"endpoint"`
	Timestamp    string `json:"timestamp"`
}

// ProbeOptions overrides the configured probe parameters for one call.
type ProbeOptions struct {
	Endpoint      string        `json:"endpoint"`
	Timeout       time.Duration `json:"-"`
	RetryAttempts int           `json:"retryAttempts"`
}

// Probe checks the configured health endpoint.
func (c *Client) Probe(ctx context.Context) Status {
	return c.ProbeWith(ctx, ProbeOptions{})
}

// ProbeWith checks a health endpoint with per-call overrides. Each attempt
// has its own timeout; a non-2xx answer or a transport error counts as a
// failed attempt.
func (c *Client) ProbeWith(ctx context.Context, opts ProbeOptions) Status {
	endpoint := c.cfg.ProbeEndpoint
	if opts.Endpoint != "" {
		endpoint = opts.Endpoint
	}
	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	attempts := c.cfg.RetryAttempts
	if opts.RetryAttempts > 0 {
		attempts = opts.RetryAttempts
	}

	start := c.now()
	st := Status{Endpoint: endpoint}
	for attempt := 1; attempt <= attempts; attempt++ {
		st.Attempts = attempt
		code, err := c.probeOnce(ctx, endpoint, timeout)
		st.StatusCode = code
		if err == nil {
			st.Available = true
			st.Error = ""
			break
		}
		st.Error = err.Error()
		log.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Str("endpoint", endpoint).Msg("payment probe failed")

		if attempt < attempts {
			if err := pause(ctx, c.cfg.RetryPause); err != nil {
				st.Error = err.Error()
				break
			}
		}
	}

	st.ResponseTime = c.now().Sub(start).Milliseconds()
	st.Timestamp = c.now().UTC().Format(time.RFC3339)
	return st
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) probeOnce(ctx context.Context, endpoint string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Request describes a payment page redirect.
type Request struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Subject   string
	ReturnURL string
	CancelURL string
}

// PaymentURL returns the gateway URL for req with its parameters signed.
func (c *Client) PaymentURL(req Request) (string, error) {
	u, err := url.Parse(c.cfg.GatewayURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}

	q := u.Query()
	q.Set("order_id", req.OrderID)
	q.Set("amount", req.Amount.StringFixed(2))
	q.Set("currency", req.Currency)
	q.Set("subject", req.Subject)
	q.Set("return_url", req.ReturnURL)
	q.Set("cancel_url", req.CancelURL)
	q.Set("timestamp", strconv.FormatInt(c.now().Unix(), 10))
	if c.cfg.Secret != "" {
		q.Set(SignatureParam, SignParams(q, c.cfg.Secret))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CallbackStatus is the settlement outcome reported by the payment page.
type CallbackStatus string

const (
	CallbackSuccess   CallbackStatus = "success"
	CallbackFailed    CallbackStatus = "failed"
	CallbackCancelled CallbackStatus = "cancelled"
	CallbackPending   CallbackStatus = "pending"
)

// Callback is a verified settlement notice.
type Callback struct {
	OrderID       string         `json:"orderId"`
	Status        CallbackStatus `json:"status"`
	Amount        string         `json:"amount,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	PaymentMethod string         `json:"paymentMethod,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// ParseCallback verifies the signature over params and decodes them.
func (c *Client) ParseCallback(params url.Values) (*Callback, error) {
	if c.cfg.Secret == "" || !VerifyParams(params, c.cfg.Secret) {
		return nil, ErrInvalidSignature
	}

	cb := &Callback{
		OrderID:       params.Get("order_id"),
		Status:        CallbackStatus(params.Get("status")),
		Amount:        params.Get("amount"),
		Currency:      params.Get("currency"),
		PaymentMethod: params.Get("payment_method"),
		TransactionID: params.Get("transaction_id"),
		Timestamp:     params.Get("timestamp"),
		Message:       params.Get("message"),
	}
	if cb.OrderID == "" || cb.Status == "" {
		return nil, ErrMalformedCallback
	}
	switch cb.Status {
	case CallbackSuccess, CallbackFailed, CallbackCancelled, CallbackPending:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedCallback, cb.Status)
	}
	return cb, nil
}

// SignCallback signs params the way the payment page does. It is used by
// test tooling and by operators replaying a settlement.
func (c *Client) SignCallback(params url.Values) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	out.Set(SignatureParam, SignParams(out, c.cfg.Secret))
	return out
}
