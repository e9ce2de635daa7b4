package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/meghanarao/savoro/internal/order"
)

var (
	// ErrOrderNotFound is returned when an order id does not exist.
	ErrOrderNotFound = errors.New("order not found")

	// ErrStatusConflict is returned when the compare-and-swap on status
	// finds the order no longer in the expected state. A concurrent
	// transition won the race; the caller must re-read and re-validate.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// timestampColumns is the closed set of per-state timestamp columns.
// The column name is spliced into SQL, so anything outside this set is
// rejected before it reaches the query.
var timestampColumns = map[string]bool{
	"confirmed_at": true,
	"prepared_at":  true,
	"ready_at":     true,
	"delivered_at": true,
	"cancelled_at": true,
	"completed_at": true,
}

const orderColumns = `
	id, merchant_id, customer_id, customer_name, customer_phone, customer_email,
	order_number, status, fulfillment_mode, total::text,
	confirmed_at, prepared_at, ready_at, delivered_at, cancelled_at, completed_at,
	created_at, updated_at`

// OrderRepository persists orders and their event log.
type OrderRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewOrderRepository creates an order repository.
func NewOrderRepository(db *DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

// GetOrder retrieves an order by id.
func (r *OrderRepository) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// CommitTransition applies one status transition atomically: it updates
// the order's status (and per-state timestamp, when the target state has
// one) with a compare-and-swap on the expected current status, and
// appends exactly one order_events row in the same transaction. Either
// both writes commit or neither does.
func (r *OrderRepository) CommitTransition(
	ctx context.Context,
	orderID uuid.UUID,
	from, to order.Status,
	tsColumn string,
	note *string,
	isBulk bool,
) (*Order, error) {
	if tsColumn != "" && !timestampColumns[tsColumn] {
		return nil, fmt.Errorf("unknown timestamp column %q", tsColumn)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	update := `UPDATE orders SET status = $1, updated_at = now()`
	if tsColumn != "" {
		update += `, ` + tsColumn + ` = now()`
	}
	update += ` WHERE id = $2 AND status = $3`

	tag, err := tx.Exec(ctx, update, to, orderID, from)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a lost race from a missing order.
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("%w: expected %s", ErrStatusConflict, from)
	}

	event := fmt.Sprintf("%s→%s", from, to)
	_, err = tx.Exec(ctx, `
		INSERT INTO order_events (id, order_id, event, from_status, to_status, note, is_bulk)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New(), orderID, event, from, to, note, isBulk,
	)
	if err != nil {
		return nil, fmt.Errorf("append order event: %w", err)
	}

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, fmt.Errorf("reload order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("order status transitioned",
		zap.String("order_id", orderID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("is_bulk", isBulk),
	)

	return o, nil
}

// ListEvents returns the audit trail for an order, oldest first.
func (r *OrderRepository) ListEvents(ctx context.Context, orderID uuid.UUID) ([]*OrderEvent, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, order_id, event, from_status, to_status, note, is_bulk, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at ASC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var events []*OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Event, &e.FromStatus, &e.ToStatus, &e.Note, &e.IsBulk, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.MerchantID, &o.CustomerID, &o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.OrderNumber, &o.Status, &o.FulfillmentMode, &o.Total,
		&o.ConfirmedAt, &o.PreparedAt, &o.ReadyAt, &o.DeliveredAt, &o.CancelledAt, &o.CompletedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
