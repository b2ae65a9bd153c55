package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pokjoy/qfeng5/internal/credential"
	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
	"github.com/pokjoy/qfeng5/pkg/orderid"
	"github.com/pokjoy/qfeng5/pkg/payment"
)

const testSecret = "unit-test-secret"

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeOrderStore mirrors the conditional-update semantics of the SQL store.
type fakeOrderStore struct {
	mu          sync.Mutex
	orders      map[string]*models.Order
	logs        []models.PaymentLogEntry
	transitions int
	createErrs  []error
	err         error
	alertTicks  int
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: map[string]*models.Order{}}
}

func (f *fakeOrderStore) Create(ctx context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := f.orders[o.OrderID]; ok {
		return utils.ErrDuplicateOrderID
	}
	o.CreatedAt = baseTime
	o.UpdatedAt = baseTime
	cp := *o
	f.orders[o.OrderID] = &cp
	f.appendLog(o.OrderID, models.LogModuleDonation, models.ActionCreateOrder, models.LogSuccess)
	return nil
}

func (f *fakeOrderStore) GetByOrderID(ctx context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	o, ok := f.orders[id]
	if !ok {
		return nil, utils.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) UpdateStatus(ctx context.Context, id string, to models.OrderStatus, upd models.StatusUpdate) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, utils.ErrOrderNotFound
	}
	if o.Status != models.OrderPending {
		cp := *o
		return &cp, utils.ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = upd.At
	if to == models.OrderPaid {
		at := upd.At
		o.PaidAt = &at
	}
	f.transitions++
	f.appendLog(id, models.LogModuleDonation, models.ActionStatusUpdate, models.LogSuccess)
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for id, o := range f.orders {
		if o.Status == models.OrderPending && o.ExpiresAt.Before(now) && !o.IsExpired {
			o.Status = models.OrderExpired
			o.IsExpired = true
			f.appendLog(id, models.LogModuleSweeper, models.ActionOrderExpired, models.LogInfo)
			n++
		}
	}
	return n, nil
}

func (f *fakeOrderStore) Stats(ctx context.Context, slug string) (*models.DonationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := &models.DonationStats{Slug: slug}
	for _, o := range f.orders {
		if o.Slug != slug {
			continue
		}
		switch o.Status {
		case models.OrderPaid:
			st.PaidCount++
		case models.OrderPending:
			st.Pending++
		case models.OrderExpired:
			st.Expired++
		case models.OrderFailed:
			st.Failed++
		}
	}
	return st, nil
}

func (f *fakeOrderStore) AddLog(ctx context.Context, e *models.PaymentLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.logs) + 1)
	e.CreatedAt = baseTime
	f.logs = append(f.logs, *e)
	return nil
}

func (f *fakeOrderStore) LogsByOrderID(ctx context.Context, id string) ([]models.PaymentLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentLogEntry
	for _, l := range f.logs {
		if l.OrderID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) PendingAlerts(ctx context.Context, limit int) ([]models.PaymentLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PaymentLogEntry
	for _, l := range f.logs {
		if l.Status == models.LogError && !l.AlertSent {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastAlertAt, out[j].LastAlertAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil || b == nil:
			return a == nil
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeOrderStore) MarkAlertFailed(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.logs {
		if f.logs[i].ID == id {
			f.alertTicks++
			at := baseTime.Add(time.Duration(f.alertTicks) * time.Second)
			f.logs[i].AlertAttempts++
			f.logs[i].LastAlertAt = &at
			return nil
		}
	}
	return errors.New("log entry not found")
}

func (f *fakeOrderStore) MarkAlertSent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.logs {
		if f.logs[i].ID == id {
			f.logs[i].AlertSent = true
			return nil
		}
	}
	return errors.New("log entry not found")
}

func (f *fakeOrderStore) appendLog(id, module, action string, status models.LogStatus) {
	f.logs = append(f.logs, models.PaymentLogEntry{
		ID: int64(len(f.logs) + 1), OrderID: id, Module: module, Action: action, Status: status, CreatedAt: baseTime,
	})
}

func (f *fakeOrderStore) logsWith(action string, status models.LogStatus) []models.PaymentLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentLogEntry
	for _, l := range f.logs {
		if l.Action == action && l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

// fakeConfigStore is an in-memory system_configs table.
type fakeConfigStore struct {
	mu   sync.Mutex
	rows map[string]models.SystemConfig
	err  error
}

func newFakeConfigStore(rows ...models.SystemConfig) *fakeConfigStore {
	f := &fakeConfigStore{rows: map[string]models.SystemConfig{}}
	for _, r := range rows {
		f.rows[r.Key] = r
	}
	return f
}

func (f *fakeConfigStore) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.rows[key]
	if !ok {
		return nil, utils.ErrConfigNotFound
	}
	return &r, nil
}

func (f *fakeConfigStore) List(ctx context.Context, category string) ([]models.SystemConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.SystemConfig{}
	for _, r := range f.rows {
		if category == "" || r.Category == category {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *fakeConfigStore) Upsert(ctx context.Context, c *models.SystemConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if old, ok := f.rows[c.Key]; ok {
		if c.Category == "" {
			c.Category = old.Category
		}
		if c.Description == "" {
			c.Description = old.Description
		}
	}
	if c.Category == "" {
		c.Category = "general"
	}
	c.UpdatedAt = baseTime
	f.rows[c.Key] = *c
	return nil
}

func cfgRow(key string, t models.ConfigType, value string) models.SystemConfig {
	return models.SystemConfig{Key: key, Type: t, Value: value, Category: "test"}
}

// fakeRegistry records calls and can be made to fail.
type fakeRegistry struct {
	mu      sync.Mutex
	issued  map[string]*models.IssuedCredential
	revoked map[string]bool
	touched map[string]int
	err     error
	purged  int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		issued:  map[string]*models.IssuedCredential{},
		revoked: map[string]bool{},
		touched: map[string]int{},
	}
}

func (r *fakeRegistry) Record(ctx context.Context, c *models.IssuedCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.issued[c.JTI] = c
	return nil
}

func (r *fakeRegistry) Touch(ctx context.Context, jti string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.touched[jti]++
	return nil
}

func (r *fakeRegistry) Revoke(ctx context.Context, jti string, exp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.revoked[jti] = true
	return nil
}

func (r *fakeRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	return r.revoked[jti], nil
}

func (r *fakeRegistry) Purge(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	for jti, c := range r.issued {
		if !c.ExpiresAt.After(now) {
			delete(r.issued, jti)
			n++
		}
	}
	r.purged += n
	return n, nil
}

// fakeGateway signs and verifies with a real client but never hits the network.
type fakeGateway struct {
	*payment.Client
	mu     sync.Mutex
	status payment.Status
	probes int
}

func newFakeGateway(available bool) *fakeGateway {
	return &fakeGateway{
		Client: payment.NewClient(payment.Config{GatewayURL: "https://pay.example.com/checkout", Secret: testSecret}),
		status: payment.Status{Available: available, Attempts: 1, Endpoint: "fake"},
	}
}

func (g *fakeGateway) Probe(ctx context.Context) payment.Status {
	return g.ProbeWith(ctx, payment.ProbeOptions{})
}

func (g *fakeGateway) ProbeWith(ctx context.Context, opts payment.ProbeOptions) payment.Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probes++
	st := g.status
	if !st.Available {
		st.Attempts = 2
		st.Error = "HTTP 503: down"
	}
	if opts.Endpoint != "" {
		st.Endpoint = opts.Endpoint
	}
	return st
}

// seqIDs replays fixed ids before falling back to real ones.
type seqIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *seqIDs) Generate(t orderid.BusinessType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) > 0 {
		id := s.ids[0]
		s.ids = s.ids[1:]
		return id, nil
	}
	return orderid.Generate(t)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	orders   *fakeOrderStore
	configs  *fakeConfigStore
	registry *fakeRegistry
	gateway  *fakeGateway
	clock    *clock
	config   *ConfigService
	unlock   *UnlockService
	donation *DonationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   newFakeOrderStore(),
		configs:  newFakeConfigStore(),
		registry: newFakeRegistry(),
		gateway:  newFakeGateway(true),
		clock:    &clock{now: baseTime},
	}
	codec, err := credential.NewCodecWithClock(testSecret, f.clock.Now)
	require.NoError(t, err)

	f.config = NewConfigService(f.configs)
	catalog := NewCatalog([]string{"internup", "snowoverflow", "about"}, []string{"internup", "snowoverflow"})
	f.unlock = NewUnlockService(codec, f.registry, f.config, catalog, []string{"letmein", "open-sesame"}, AdPolicy{MinSeconds: 30, MaxClips: 2})
	f.unlock.now = f.clock.Now
	f.donation = NewDonationService(f.orders, f.config, f.unlock, f.gateway, &seqIDs{}, "https://site.example.com/")
	f.donation.now = f.clock.Now
	return f
}
