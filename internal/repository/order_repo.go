package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pokjoy/qfeng5/internal/models"
	"github.com/pokjoy/qfeng5/internal/utils"
)

const orderColumns = `id, order_id, slug, amount, currency, status, expires_at, is_expired,
        user_ip, payment_provider, payment_method, transaction_id, paid_at, failed_reason,
        metadata, created_at, updated_at`

const logColumns = `id, order_id, module, action, status, message, alert_sent, alert_attempts, last_alert_at, created_at`

// uniqueViolation is the PostgreSQL SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

// OrderRepository persists donation orders and their payment logs.
type OrderRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewOrderRepository creates a new OrderRepository.
func NewOrderRepository(db *sqlx.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now}
}

// Create inserts a pending order and its create_order log entry in one
// transaction. A clashing order id yields utils.ErrDuplicateOrderID.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	const insertOrder = `
        INSERT INTO donations (
            order_id, slug, amount, currency, status, expires_at, is_expired,
            user_ip, metadata, created_at, updated_at
        ) VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7,$8,$9,$9)
        RETURNING id, created_at, updated_at`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin create order", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now().UTC()
	if o.Status == "" {
		o.Status = models.OrderPending
	}
	err = tx.QueryRowxContext(ctx, insertOrder,
		o.OrderID, o.Slug, o.Amount, o.Currency, o.Status, o.ExpiresAt, o.UserIP, o.Metadata, now,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return utils.ErrDuplicateOrderID
		}
		return storeErr("insert order", err)
	}

	entry := &models.PaymentLogEntry{
		OrderID: o.OrderID,
		Module:  models.LogModuleDonation,
		Action:  models.ActionCreateOrder,
		Status:  models.LogSuccess,
		Message: fmt.Sprintf("order created: %s %s for %s", o.Amount.StringFixed(2), o.Currency, o.Slug),
	}
	if err := insertLog(ctx, tx, entry, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit create order", err)
	}
	return nil
}

// GetByOrderID returns the order, or utils.ErrOrderNotFound.
func (r *OrderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM donations WHERE order_id = $1 LIMIT 1`
	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, storeErr("prepare get order", err)
	}
	defer stmt.Close()

	var o models.Order
	if err := stmt.GetContext(ctx, &o, orderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.ErrOrderNotFound
		}
		return nil, storeErr("get order", err)
	}
	return &o, nil
}

// UpdateStatus moves a pending order to the terminal status `to`. The
// update is conditional on the row still being pending, so of two racing
// callers exactly one wins. The loser gets utils.ErrInvalidTransition
// together with the order as it now stands.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, to models.OrderStatus, upd models.StatusUpdate) (*models.Order, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("%w: cannot move an order to %q", utils.ErrInvalidTransition, to)
	}

	at := upd.At
	if at.IsZero() {
		at = r.now()
	}
	at = at.UTC()

	q := `
        UPDATE donations SET
            status = $2::varchar,
            is_expired = is_expired OR $2::varchar = 'expired',
            paid_at = CASE WHEN $2::varchar = 'paid' THEN $3 ELSE paid_at END,
            payment_provider = COALESCE(NULLIF($4::varchar, ''), payment_provider),
            payment_method = COALESCE(NULLIF($5::varchar, ''), payment_method),
            transaction_id = COALESCE(NULLIF($6::varchar, ''), transaction_id),
            failed_reason = COALESCE(NULLIF($7::text, ''), failed_reason),
            updated_at = $3
        WHERE order_id = $1 AND status = 'pending'
        RETURNING ` + orderColumns

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin update status", err)
	}
	defer func() { _ = tx.Rollback() }()

	var o models.Order
	err = tx.QueryRowxContext(ctx, q,
		orderID, string(to), at, upd.PaymentProvider, upd.PaymentMethod, upd.TransactionID, upd.FailedReason,
	).StructScan(&o)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return r.rejectTransition(ctx, orderID, to)
	}
	if err != nil {
		return nil, storeErr("update status", err)
	}

	entry := &models.PaymentLogEntry{
		OrderID: orderID,
		Module:  models.LogModuleDonation,
		Action:  models.ActionStatusUpdate,
		Status:  models.LogSuccess,
		Message: fmt.Sprintf("status pending -> %s", to),
	}
	if err := insertLog(ctx, tx, entry, at); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit update status", err)
	}
	return &o, nil
}

// rejectTransition explains a zero-row conditional update.
func (r *OrderRepository) rejectTransition(ctx context.Context, orderID string, to models.OrderStatus) (*models.Order, error) {
	current, err := r.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	entry := &models.PaymentLogEntry{
		OrderID: orderID,
		Module:  models.LogModuleDonation,
		Action:  models.ActionStatusUpdate,
		Status:  models.LogError,
		Message: fmt.Sprintf("rejected transition to %s: order is %s", to, current.Status),
	}
	// A repeated request for the state the order is already in is benign.
	if current.Status == to {
		entry.Status = models.LogInfo
		entry.Message = fmt.Sprintf("order already %s", to)
	}
	if err := r.AddLog(ctx, entry); err != nil {
		return current, err
	}
	return current, utils.ErrInvalidTransition
}

// SweepExpired expires every pending order whose deadline passed before now
// and writes one order_expired log per order, all in a single statement.
// It returns the number of orders expired.
func (r *OrderRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `
        WITH expired AS (
            UPDATE donations
            SET status = 'expired', is_expired = TRUE, updated_at = $1
            WHERE status = 'pending' AND expires_at < $1 AND is_expired = FALSE
            RETURNING order_id
        ), logged AS (
            INSERT INTO payment_logs (order_id, module, action, status, message, created_at)
            SELECT order_id, $2::varchar, $3::varchar, 'info', 'pending order passed its deadline', $1 FROM expired
            RETURNING 1
        )
        SELECT COUNT(*) FROM logged`

	var n int64
	err := r.db.QueryRowxContext(ctx, q, now.UTC(), models.LogModuleSweeper, models.ActionOrderExpired).Scan(&n)
	if err != nil {
		return 0, storeErr("sweep expired orders", err)
	}
	return n, nil
}

// Stats aggregates orders for one slug. Paid totals are grouped by currency.
func (r *OrderRepository) Stats(ctx context.Context, slug string) (*models.DonationStats, error) {
	const countQ = `SELECT status, COUNT(*) AS count FROM donations WHERE slug = $1 GROUP BY status`
	const paidQ = `
        SELECT currency, COUNT(*) AS count,
               COALESCE(SUM(amount), 0) AS total,
               ROUND(COALESCE(AVG(amount), 0), 2) AS average
        FROM donations
        WHERE slug = $1 AND status = 'paid'
        GROUP BY currency
        ORDER BY currency`

	var counts []struct {
		Status models.OrderStatus `db:"status"`
		Count  int64              `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &counts, countQ, slug); err != nil {
		return nil, storeErr("count orders", err)
	}

	stats := &models.DonationStats{Slug: slug, ByCurrency: []models.CurrencyStats{}}
	for _, c := range counts {
		switch c.Status {
		case models.OrderPaid:
			stats.PaidCount = c.Count
		case models.OrderPending:
			stats.Pending = c.Count
		case models.OrderExpired:
			stats.Expired = c.Count
		case models.OrderFailed:
			stats.Failed = c.Count
		}
	}

	if err := r.db.SelectContext(ctx, &stats.ByCurrency, paidQ, slug); err != nil {
		return nil, storeErr("sum paid orders", err)
	}
	return stats, nil
}

// AddLog appends a payment log entry.
func (r *OrderRepository) AddLog(ctx context.Context, entry *models.PaymentLogEntry) error {
	return insertLog(ctx, r.db, entry, r.now().UTC())
}

// LogsByOrderID returns the log entries of one order, oldest first.
func (r *OrderRepository) LogsByOrderID(ctx context.Context, orderID string) ([]models.PaymentLogEntry, error) {
	q := `SELECT ` + logColumns + ` FROM payment_logs WHERE order_id = $1 ORDER BY created_at, id`
	stmt, err := r.db.PreparexContext(ctx, q)
	if err != nil {
		return nil, storeErr("prepare list logs", err)
	}
	defer stmt.Close()

	list := []models.PaymentLogEntry{}
	if err := stmt.SelectContext(ctx, &list, orderID); err != nil {
		return nil, storeErr("list logs", err)
	}
	return list, nil
}

// PendingAlerts returns error entries that have not been alerted yet.
// Entries never attempted come first, then the least recently attempted, so
// a block of undeliverable entries cannot hold back newer ones.
func (r *OrderRepository) PendingAlerts(ctx context.Context, limit int) ([]models.PaymentLogEntry, error) {
	q := `SELECT ` + logColumns + ` FROM payment_logs
        WHERE status = 'error' AND alert_sent = FALSE
        ORDER BY last_alert_at NULLS FIRST, id
        LIMIT $1`
	var list []models.PaymentLogEntry
	if err := r.db.SelectContext(ctx, &list, q, limit); err != nil {
		return nil, storeErr("list pending alerts", err)
	}
	return list, nil
}

// MarkAlertSent flips the alert flag of a log entry.
func (r *OrderRepository) MarkAlertSent(ctx context.Context, id int64) error {
	const q = `UPDATE payment_logs SET alert_sent = TRUE WHERE id = $1 AND alert_sent = FALSE`
	if _, err := r.db.ExecContext(ctx, q, id); err != nil {
		return storeErr("mark alert sent", err)
	}
	return nil
}

// MarkAlertFailed records a failed delivery attempt, which moves the entry
// to the back of the pending queue.
func (r *OrderRepository) MarkAlertFailed(ctx context.Context, id int64) error {
	const q = `UPDATE payment_logs
        SET alert_attempts = alert_attempts + 1, last_alert_at = $2
        WHERE id = $1 AND alert_sent = FALSE`
	if _, err := r.db.ExecContext(ctx, q, id, r.now().UTC()); err != nil {
		return storeErr("mark alert failed", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *OrderRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// TableCounts returns the row count of every owned table.
func (r *OrderRepository) TableCounts(ctx context.Context) (*models.TableCounts, error) {
	const q = `
        SELECT
            (SELECT COUNT(*) FROM donations) AS donations,
            (SELECT COUNT(*) FROM payment_logs) AS payment_logs,
            (SELECT COUNT(*) FROM system_configs) AS system_configs`
	var c models.TableCounts
	if err := r.db.GetContext(ctx, &c, q); err != nil {
		return nil, storeErr("count tables", err)
	}
	return &c, nil
}

func insertLog(ctx context.Context, q sqlx.QueryerContext, entry *models.PaymentLogEntry, at time.Time) error {
	const stmt = `
        INSERT INTO payment_logs (order_id, module, action, status, message, alert_sent, created_at)
        VALUES ($1,$2,$3,$4,$5,FALSE,$6)
        RETURNING id, created_at`
	err := q.QueryRowxContext(ctx, stmt,
		entry.OrderID, entry.Module, entry.Action, entry.Status, entry.Message, at,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return storeErr("insert payment log", err)
	}
	return nil
}

// storeErr marks an unexpected database failure as utils.ErrStoreUnavailable
// while keeping the driver error in the chain.
func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, utils.ErrStoreUnavailable, err)
}
