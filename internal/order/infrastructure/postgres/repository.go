package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	invdomain "github.com/dkotelnikov/order-engine/internal/inventory/domain"
	"github.com/dkotelnikov/order-engine/internal/order/application"
	"github.com/dkotelnikov/order-engine/internal/order/domain"
	"github.com/dkotelnikov/order-engine/pkg/tracing"
)

// Store is the durable OrderStore over postgres. Stock, order, line-item,
// delivery and outbox writes of one business operation share a single
// pgx transaction.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(tx application.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&Tx{tx: tx}); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(ctx, s.pool, orderID, "")
	if err != nil {
		return nil, err
	}
	o.Items, err = scanLineItems(ctx, s.pool, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// mapError turns serialization failures and deadlocks into the retryable
// domain.ErrConflict; everything else passes through.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Code)
		}
	}
	return err
}

// Tx adapts one pgx transaction to the application's unit-of-work port.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) StockForUpdate(ctx context.Context, productID string) (int64, error) {
	var available int64
	err := t.tx.QueryRow(ctx,
		`SELECT available_quantity FROM stock WHERE product_id=$1 FOR UPDATE`,
		productID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, &invdomain.UnknownProductError{ProductID: productID}
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

func (t *Tx) SetStock(ctx context.Context, productID string, available int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE stock SET available_quantity=$2 WHERE product_id=$1`,
		productID, available)
	return err
}

func (t *Tx) Price(ctx context.Context, productID string) (decimal.Decimal, error) {
	var price string
	err := t.tx.QueryRow(ctx,
		`SELECT price::text FROM products WHERE id=$1`,
		productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, &invdomain.UnknownProductError{ProductID: productID}
	}
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(price)
}

func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, delivery_id, status, paid, total_cost, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.UserID, o.DeliveryID, o.Status, o.Paid, o.TotalCost.String(), o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *Tx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE orders SET delivery_id=$2, status=$3, paid=$4, total_cost=$5, updated_at=$6 WHERE id=$1`,
		o.ID, o.DeliveryID, o.Status, o.Paid, o.TotalCost.String(), o.UpdatedAt)
	return err
}

func (t *Tx) ReplaceLineItems(ctx context.Context, orderID string, items []domain.LineItem) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_line_items WHERE order_id=$1`, orderID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(
			`INSERT INTO order_line_items (order_id, product_id, quantity, unit_price, cost)
			 VALUES ($1,$2,$3,$4,$5)`,
			orderID, it.ProductID, it.Quantity, it.UnitPrice.String(), it.Cost.String())
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *Tx) OrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(ctx, t.tx, orderID, " FOR UPDATE")
	if err != nil {
		return nil, err
	}
	o.Items, err = scanLineItems(ctx, t.tx, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (t *Tx) InsertDelivery(ctx context.Context, d *domain.Delivery) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO deliveries (id, address, phone, delivery_type, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.Address, d.Phone, d.Type, d.CreatedAt, d.UpdatedAt)
	return err
}

func (t *Tx) AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		 VALUES ('order',$1,$2,$3,$4,'pending')`,
		aggregateID, eventType, payload, tracing.Traceparent(ctx))
	return err
}

// querier covers both pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanOrder(ctx context.Context, q querier, orderID, lock string) (*domain.Order, error) {
	var (
		o         domain.Order
		totalCost string
	)
	err := q.QueryRow(ctx,
		`SELECT id, user_id, delivery_id, status, paid, total_cost::text, created_at, updated_at
		 FROM orders WHERE id=$1`+lock,
		orderID).Scan(&o.ID, &o.UserID, &o.DeliveryID, &o.Status, &o.Paid, &totalCost, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.TotalCost, err = decimal.NewFromString(totalCost)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func scanLineItems(ctx context.Context, q querier, orderID string) ([]domain.LineItem, error) {
	rows, err := q.Query(ctx,
		`SELECT product_id, quantity, unit_price::text, cost::text
		 FROM order_line_items WHERE order_id=$1 ORDER BY product_id`,
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		var (
			it              domain.LineItem
			unitPrice, cost string
		)
		if err := rows.Scan(&it.ProductID, &it.Quantity, &unitPrice, &cost); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, err
		}
		if it.Cost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
