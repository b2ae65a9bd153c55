package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/service"
	"github.com/pokjoy/qfeng5/internal/utils"
)

var sweepTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type memConfig struct {
	rows map[string]models.SystemConfig
	err  error
}

func (m *memConfig) Get(ctx context.Context, key string) (*models.SystemConfig, error) {
	if m.err != nil {
		return nil, m.err
	}
	r, ok := m.rows[key]
	if !ok {
		return nil, utils.ErrConfigNotFound
	}
	return &r, nil
}

func (m *memConfig) List(ctx context.Context, category string) ([]models.SystemConfig, error) {
	return nil, nil
}

func (m *memConfig) Upsert(ctx context.Context, c *models.SystemConfig) error {
	m.rows[c.Key] = *c
	return nil
}

type pendingOrder struct {
	expiresAt time.Time
	status    models.OrderStatus
	isExpired bool
}

// memOrders applies the same predicate as the SQL sweep.
type memOrders struct {
	mu     sync.Mutex
	orders map[string]*pendingOrder
	err    error
}

func (m *memOrders) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	var n int64
	for _, o := range m.orders {
		if o.status == models.OrderPending && o.expiresAt.Before(now) && !o.isExpired {
			o.status = models.OrderExpired
			o.isExpired = true
			n++
		}
	}
	return n, nil
}

type mockPurger struct {
	mock.Mock
}

func (m *mockPurger) Purge(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) DispatchPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func newSweeper(orders OrderSweeper, purger CredentialPurger, cfg *memConfig) *ExpirySweeper {
	w := NewExpirySweeper(orders, purger, service.NewConfigService(cfg), time.Minute)
	w.now = func() time.Time { return sweepTime }
	return w
}

func TestSweepExpiresOverdueOrders(t *testing.T) {
	orders := &memOrders{orders: map[string]*pendingOrder{
		"overdue": {expiresAt: sweepTime.Add(-time.Second), status: models.OrderPending},
		"fresh":   {expiresAt: sweepTime.Add(time.Minute), status: models.OrderPending},
		"paid":    {expiresAt: sweepTime.Add(-time.Hour), status: models.OrderPaid},
	}}
	purger := &mockPurger{}
	purger.On("Purge", mock.Anything, sweepTime).Return(int64(3), nil).Once()
	purger.On("Purge", mock.Anything, sweepTime).Return(int64(0), nil).Once()

	w := newSweeper(orders, purger, &memConfig{rows: map[string]models.SystemConfig{}})

	first := w.RunOnce(context.Background())
	assert.True(t, first.Enabled)
	assert.True(t, first.OK())
	assert.EqualValues(t, 1, first.ExpiredOrders)
	assert.EqualValues(t, 3, first.PurgedTokens)

	second := w.RunOnce(context.Background())
	assert.Zero(t, second.ExpiredOrders)
	assert.Zero(t, second.PurgedTokens)

	assert.Equal(t, models.OrderExpired, orders.orders["overdue"].status)
	assert.True(t, orders.orders["overdue"].isExpired)
	assert.Equal(t, models.OrderPending, orders.orders["fresh"].status)
	assert.Equal(t, models.OrderPaid, orders.orders["paid"].status)
	purger.AssertExpectations(t)
}

func TestSweepDisabledIsNoop(t *testing.T) {
	orders := &memOrders{orders: map[string]*pendingOrder{
		"overdue": {expiresAt: sweepTime.Add(-time.Second), status: models.OrderPending},
	}}
	purger := &mockPurger{}
	cfg := &memConfig{rows: map[string]models.SystemConfig{
		service.KeyCleanupEnabled: {Key: service.KeyCleanupEnabled, Type: models.ConfigBoolean, Value: "false"},
	}}

	res := newSweeper(orders, purger, cfg).RunOnce(context.Background())
	assert.False(t, res.Enabled)
	assert.True(t, res.OK())
	assert.Equal(t, models.OrderPending, orders.orders["overdue"].status)
	purger.AssertNotCalled(t, "Purge", mock.Anything, mock.Anything)
}

func TestSweepContinuesPastFailures(t *testing.T) {
	orders := &memOrders{err: utils.ErrStoreUnavailable}
	purger := &mockPurger{}
	purger.On("Purge", mock.Anything, sweepTime).Return(int64(2), nil)

	res := newSweeper(orders, purger, &memConfig{err: utils.ErrStoreUnavailable}).RunOnce(context.Background())
	assert.True(t, res.Enabled, "unreadable switch defaults to sweeping")
	assert.False(t, res.OK())
	assert.Contains(t, res.OrderError, "STORE_UNAVAILABLE")
	assert.EqualValues(t, 2, res.PurgedTokens)
}

func TestSweepWithoutPurger(t *testing.T) {
	orders := &memOrders{orders: map[string]*pendingOrder{}}
	res := newSweeper(orders, nil, &memConfig{rows: map[string]models.SystemConfig{}}).RunOnce(context.Background())
	assert.True(t, res.OK())
	assert.Zero(t, res.PurgedTokens)
}

func TestSweeperStartStopsOnCancel(t *testing.T) {
	orders := &memOrders{orders: map[string]*pendingOrder{
		"overdue": {expiresAt: sweepTime.Add(-time.Second), status: models.OrderPending},
	}}
	w := NewExpirySweeper(orders, nil, service.NewConfigService(&memConfig{rows: map[string]models.SystemConfig{}}), 10*time.Millisecond)
	w.now = func() time.Time { return sweepTime }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		orders.mu.Lock()
		defer orders.mu.Unlock()
		return orders.orders["overdue"].isExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestAlertWorkerRun(t *testing.T) {
	d := &mockDispatcher{}
	d.On("DispatchPending", mock.Anything).Return(2, nil).Once()
	d.On("DispatchPending", mock.Anything).Return(0, errors.New("db down")).Once()

	w := NewAlertWorker(d, time.Minute)
	w.run(context.Background())
	w.run(context.Background())

	d.AssertNumberOfCalls(t, "DispatchPending", 2)
}

func TestAlertWorkerStartStopsOnCancel(t *testing.T) {
	d := &mockDispatcher{}
	d.On("DispatchPending", mock.Anything).Return(0, nil)

	w := NewAlertWorker(d, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w.Start(ctx)
	assert.GreaterOrEqual(t, len(d.Calls), 1)
}
