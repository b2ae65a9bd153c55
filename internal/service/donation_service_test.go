package service

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
	"github.com/pokjoy/qfeng5/pkg/payment"
)

func donationReq(amount string) CreateDonationRequest {
	return CreateDonationRequest{
		Slug:     "internup",
		Amount:   decimal.RequireFromString(amount),
		Currency: "CNY",
		UserIP:   "203.0.113.9",
	}
}

func (f *fixture) settle(t *testing.T, orderID, status string, extra url.Values) (*ConfirmResult, error) {
	t.Helper()
	params := url.Values{"order_id": {orderID}, "status": {status}}
	for k, v := range extra {
		params[k] = v
	}
	return f.donation.ConfirmDonation(context.Background(), f.gateway.SignCallback(params))
}

func TestValidateAmountBounds(t *testing.T) {
	for _, ok := range []string{"0.5", "0.50", "1", "19.9", "9999", "9999.00"} {
		assert.NoError(t, ValidateAmount(decimal.RequireFromString(ok)), ok)
	}
	for _, bad := range []string{"0.49", "0", "-1", "9999.01", "10000", "1.005"} {
		err := ValidateAmount(decimal.RequireFromString(bad))
		assert.ErrorIs(t, err, utils.ErrInvalidAmount, bad)
		assert.ErrorIs(t, err, utils.ErrInvalidInput, bad)
	}
}

func TestCreateDonation(t *testing.T) {
	f := newFixture(t)

	res, err := f.donation.CreateDonation(context.Background(), donationReq("19.9"))
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(30*time.Minute), res.ExpiresAt)

	order := f.orders.orders[res.OrderID]
	require.NotNil(t, order)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, "19.9", order.Amount.String())
	assert.Equal(t, "203.0.113.9", *order.UserIP)
	assert.Equal(t, "解锁内容：internup", order.Metadata.Subject)

	u, err := url.Parse(res.PaymentURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, res.OrderID, q.Get("order_id"))
	assert.Equal(t, "19.90", q.Get("amount"))
	assert.Equal(t, "https://site.example.com/donation/callback", q.Get("return_url"))
	assert.Equal(t, "https://site.example.com/unlock?next=/work/internup", q.Get("cancel_url"))
	assert.NotEmpty(t, q.Get("signature"))
}

func TestCreateDonationRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("amount", func(t *testing.T) {
		f := newFixture(t)
		for _, a := range []string{"0.49", "9999.01"} {
			_, err := f.donation.CreateDonation(ctx, donationReq(a))
			assert.ErrorIs(t, err, utils.ErrInvalidAmount)
		}
		assert.Empty(t, f.orders.orders)
		assert.Zero(t, f.gateway.probes)
	})

	t.Run("slug", func(t *testing.T) {
		f := newFixture(t)
		req := donationReq("5")
		req.Slug = "nope"
		_, err := f.donation.CreateDonation(ctx, req)
		assert.ErrorIs(t, err, utils.ErrUnknownSlug)
	})

	t.Run("currency", func(t *testing.T) {
		f := newFixture(t)
		req := donationReq("5")
		req.Currency = "JPY"
		_, err := f.donation.CreateDonation(ctx, req)
		assert.ErrorIs(t, err, utils.ErrUnsupportedCurrency)

		req.Currency = "usd"
		_, err = f.donation.CreateDonation(ctx, req)
		assert.NoError(t, err)
	})

	t.Run("payment disabled", func(t *testing.T) {
		f := newFixture(t)
		f.configs.rows[KeyPaymentEnabled] = cfgRow(KeyPaymentEnabled, models.ConfigBoolean, "false")
		_, err := f.donation.CreateDonation(ctx, donationReq("5"))
		assert.ErrorIs(t, err, utils.ErrPaymentDisabled)
		assert.Zero(t, f.gateway.probes)
	})

	t.Run("corrupt expiry", func(t *testing.T) {
		f := newFixture(t)
		f.configs.rows[KeyOrderExpiry] = cfgRow(KeyOrderExpiry, models.ConfigNumber, "soon")
		_, err := f.donation.CreateDonation(ctx, donationReq("5"))
		assert.ErrorIs(t, err, utils.ErrConfigCorrupt)
		assert.Empty(t, f.orders.orders)
	})
}

func TestCreateDonationPaymentUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gateway.status.Available = false

	_, err := f.donation.CreateDonation(context.Background(), donationReq("5"))
	assert.ErrorIs(t, err, utils.ErrServiceUnavailable)
	assert.Empty(t, f.orders.orders)

	errs := f.orders.logsWith(models.ActionPaymentProbe, models.LogError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "after 2 attempts")
}

func TestCreateDonationRegeneratesDuplicateID(t *testing.T) {
	f := newFixture(t)
	ids := &seqIDs{ids: []string{"first", "second"}}
	f.donation.ids = ids
	f.orders.createErrs = []error{utils.ErrDuplicateOrderID}

	res, err := f.donation.CreateDonation(context.Background(), donationReq("5"))
	require.NoError(t, err)
	assert.Equal(t, "second", res.OrderID)
}

func TestCreateDonationGivesUpAfterSecondDuplicate(t *testing.T) {
	f := newFixture(t)
	f.orders.createErrs = []error{utils.ErrDuplicateOrderID, utils.ErrDuplicateOrderID}

	_, err := f.donation.CreateDonation(context.Background(), donationReq("5"))
	assert.ErrorIs(t, err, utils.ErrDuplicateOrderID)
}

func TestDonationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.donation.CreateDonation(ctx, donationReq("19.9"))
	require.NoError(t, err)

	st, err := f.donation.CheckStatus(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, st.Status)
	assert.Empty(t, st.RedirectTo)

	confirm, err := f.settle(t, res.OrderID, "success", url.Values{
		"amount": {"19.90"}, "currency": {"CNY"}, "payment_method": {"alipay"}, "transaction_id": {"tx-9"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, confirm.Status)
	require.NotNil(t, confirm.Credential)
	assert.Equal(t, models.UnlockDonation, confirm.Credential.Type)
	assert.Equal(t, baseTime.Add(DefaultDonationDuration), confirm.Credential.ExpiresAt)
	assert.Equal(t, "/work/internup", confirm.RedirectTo)

	st, err = f.donation.CheckStatus(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, st.Status)
	assert.Equal(t, "/work/internup", st.RedirectTo)

	d := f.unlock.Authorize(ctx, confirm.Credential.Token, "internup")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, f.orders.transitions)
}

func TestDuplicateSuccessCallbackReMints(t *testing.T) {
	f := newFixture(t)
	res, err := f.donation.CreateDonation(context.Background(), donationReq("5"))
	require.NoError(t, err)

	first, err := f.settle(t, res.OrderID, "success", nil)
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	second, err := f.settle(t, res.OrderID, "success", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, f.orders.transitions)
	require.NotNil(t, second.Credential)
	assert.NotEqual(t, first.Credential.JTI, second.Credential.JTI)
	assert.Equal(t, first.Credential.ExpiresAt, second.Credential.ExpiresAt, "a replay never extends access")
	assert.Equal(t, baseTime.Add(DefaultDonationDuration), second.Credential.ExpiresAt)
}

func TestReplayedCallbackAfterWindowIssuesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.donation.CreateDonation(ctx, donationReq("5"))
	require.NoError(t, err)

	params := url.Values{"order_id": {res.OrderID}, "status": {"success"}}
	params.Set(payment.SignatureParam, payment.SignParams(params, testSecret))

	first, err := f.donation.ConfirmDonation(ctx, params)
	require.NoError(t, err)
	require.NotNil(t, first.Credential)

	f.clock.Advance(365 * 24 * time.Hour)
	replay, err := f.donation.ConfirmDonation(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, replay.Status)
	assert.Nil(t, replay.Credential)
	assert.Empty(t, replay.RedirectTo)
	assert.Equal(t, 1, f.orders.transitions)
	assert.Len(t, f.orders.logsWith(models.ActionCallback, models.LogInfo), 1)

	d := f.unlock.Authorize(ctx, first.Credential.Token, "internup")
	assert.False(t, d.Allowed, "the original credential has expired too")
}

func TestConcurrentPaidCallbacks(t *testing.T) {
	f := newFixture(t)
	res, err := f.donation.CreateDonation(context.Background(), donationReq("5"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*ConfirmResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.settle(t, res.OrderID, "success", nil)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, models.OrderPaid, results[i].Status)
	}
	assert.Equal(t, 1, f.orders.transitions)
	assert.Len(t, f.orders.logsWith(models.ActionStatusUpdate, models.LogSuccess), 1)
}

func TestFailedCallback(t *testing.T) {
	f := newFixture(t)
	res, err := f.donation.CreateDonation(context.Background(), donationReq("5"))
	require.NoError(t, err)

	confirm, err := f.settle(t, res.OrderID, "cancelled", nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, confirm.Status)
	assert.Nil(t, confirm.Credential)

	late, err := f.settle(t, res.OrderID, "success", nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, late.Status, "a failed order never becomes paid")
	assert.Nil(t, late.Credential)
}

func TestPaidLosesToSweeper(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.donation.CreateDonation(ctx, donationReq("5"))
	require.NoError(t, err)

	n, err := f.orders.SweepExpired(ctx, res.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	confirm, err := f.settle(t, res.OrderID, "success", nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, confirm.Status)
	assert.Nil(t, confirm.Credential)
}

func TestPendingCallbackChangesNothing(t *testing.T) {
	f := newFixture(t)
	res, err := f.donation.CreateDonation(context.Background(), donationReq("5"))
	require.NoError(t, err)

	confirm, err := f.settle(t, res.OrderID, "pending", nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, confirm.Status)
	assert.Zero(t, f.orders.transitions)
}

func TestConfirmDonationRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.donation.CreateDonation(ctx, donationReq("5"))
	require.NoError(t, err)

	_, err = f.donation.ConfirmDonation(ctx, url.Values{"order_id": {res.OrderID}, "status": {"success"}})
	assert.ErrorIs(t, err, utils.ErrInvalidSignature)

	_, err = f.settle(t, "DONA-not-an-id", "success", nil)
	assert.ErrorIs(t, err, utils.ErrOrderNotFound)

	_, err = f.settle(t, res.OrderID, "success", url.Values{"amount": {"0.01"}})
	assert.ErrorIs(t, err, utils.ErrInvalidInput)
	assert.Len(t, f.orders.logsWith(models.ActionCallback, models.LogError), 1)

	_, err = f.settle(t, res.OrderID, "refunded", nil)
	assert.ErrorIs(t, err, utils.ErrInvalidInput)

	assert.Zero(t, f.orders.transitions)
}

func TestCheckStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.donation.CheckStatus(ctx, "garbage")
	assert.ErrorIs(t, err, utils.ErrOrderNotFound)

	id, err := (&seqIDs{}).Generate("DONATION")
	require.NoError(t, err)
	_, err = f.donation.CheckStatus(ctx, id)
	assert.ErrorIs(t, err, utils.ErrOrderNotFound, "well-formed but unknown")

	res, err := f.donation.CreateDonation(ctx, donationReq("5"))
	require.NoError(t, err)
	f.clock.Advance(31 * time.Minute)

	st, err := f.donation.CheckStatus(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, st.Status, "status checks never mutate")
	assert.True(t, st.IsExpired)
	assert.Equal(t, models.OrderPending, f.orders.orders[res.OrderID].Status)
}

func TestExpiredOrderScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.donation.CreateDonation(ctx, donationReq("5"))
	require.NoError(t, err)

	f.orders.orders[res.OrderID].ExpiresAt = baseTime.Add(-time.Second)

	n, err := f.orders.SweepExpired(ctx, baseTime)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = f.orders.SweepExpired(ctx, baseTime)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, err := f.donation.CheckStatus(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, st.Status)
	assert.True(t, st.IsExpired)
}

func TestStatsAndLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.donation.CreateDonation(ctx, donationReq("5"))
	require.NoError(t, err)
	_, err = f.settle(t, res.OrderID, "success", nil)
	require.NoError(t, err)

	stats, err := f.donation.Stats(ctx, "internup")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.PaidCount)

	_, err = f.donation.Stats(ctx, "unknown")
	assert.ErrorIs(t, err, utils.ErrUnknownSlug)

	logs, err := f.donation.Logs(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	st := f.donation.ProbePayment(ctx, payment.ProbeOptions{Endpoint: "https://probe.example.com"})
	assert.True(t, st.Available)
	assert.Equal(t, "https://probe.example.com", st.Endpoint)
}
