package application

import (
	"context"
	"log/slog"

	"github.com/dkotelnikov/order-engine/internal/inventory/domain"
)

// StockTx is the slice of a storage transaction the ledger needs: a locked
// read of one stock row and a write-back of its new balance. Both calls run
// inside the transaction owned by the caller, so the read-check-write
// sequence is isolated from concurrent reservations on the same product.
//
// Implementations return *domain.UnknownProductError from StockForUpdate
// when no stock row exists.
type StockTx interface {
	StockForUpdate(ctx context.Context, productID string) (int64, error)
	SetStock(ctx context.Context, productID string, available int64) error
}

// Ledger is the single source of truth for how many units of a product are
// free to sell. It never begins or commits transactions itself; the order
// service passes in the transaction whose commit makes the decrement and the
// order write atomic together.
type Ledger struct {
	log *slog.Logger
}

func NewLedger(log *slog.Logger) *Ledger {
	return &Ledger{log: log}
}

// Reserve decrements available stock by qty and returns the new balance.
// Requesting exactly the remaining stock succeeds and leaves the balance at
// zero. Failure modes: *domain.OutOfStockError when nothing is left,
// *domain.InsufficientStockError when some but not enough is left.
func (l *Ledger) Reserve(ctx context.Context, tx StockTx, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, domain.ErrNonPositiveQuantity
	}
	available, err := tx.StockForUpdate(ctx, productID)
	if err != nil {
		return 0, err
	}
	if available == 0 {
		return 0, &domain.OutOfStockError{ProductID: productID}
	}
	if available < qty {
		return 0, &domain.InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
	}
	remaining := available - qty
	if err := tx.SetStock(ctx, productID, remaining); err != nil {
		return 0, err
	}
	l.log.Debug("stock reserved", "product_id", productID, "qty", qty, "remaining", remaining)
	return remaining, nil
}

// Release returns qty units to the shelf. There is no upper bound; the only
// failure besides a bad quantity is an unknown product.
func (l *Ledger) Release(ctx context.Context, tx StockTx, productID string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, domain.ErrNonPositiveQuantity
	}
	available, err := tx.StockForUpdate(ctx, productID)
	if err != nil {
		return 0, err
	}
	remaining := available + qty
	if err := tx.SetStock(ctx, productID, remaining); err != nil {
		return 0, err
	}
	l.log.Debug("stock released", "product_id", productID, "qty", qty, "remaining", remaining)
	return remaining, nil
}

// Adjust applies a signed delta: positive reserves, negative releases, zero
// reads the current balance without writing. Update flows feed it the
// difference between requested and previously reserved quantities.
func (l *Ledger) Adjust(ctx context.Context, tx StockTx, productID string, delta int64) (int64, error) {
	switch {
	case delta > 0:
		return l.Reserve(ctx, tx, productID, delta)
	case delta < 0:
		return l.Release(ctx, tx, productID, -delta)
	default:
		return tx.StockForUpdate(ctx, productID)
	}
}
