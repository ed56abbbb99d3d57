package application

import (
	"context"

	"github.com/shopspring/decimal"

	invapp "github.com/dkotelnikov/order-engine/internal/inventory/application"
	"github.com/dkotelnikov/order-engine/internal/order/domain"
)

// LineRequest is one (product, quantity) entry of a submitted order.
type LineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// Catalog resolves the current unit price of a product. Pricing a line is
// the only place the live price is read; everywhere else the snapshot on the
// line item wins. Missing products surface as
// *inventory/domain.UnknownProductError.
type Catalog interface {
	Price(ctx context.Context, productID string) (decimal.Decimal, error)
}

// Tx is one atomic unit of work over the order store. It carries the stock
// operations the ledger needs, the catalog read, and the order writes, so a
// create/update/cancel either commits everything or nothing.
type Tx interface {
	invapp.StockTx
	Catalog

	InsertOrder(ctx context.Context, o *domain.Order) error
	UpdateOrder(ctx context.Context, o *domain.Order) error
	ReplaceLineItems(ctx context.Context, orderID string, items []domain.LineItem) error
	// OrderForUpdate loads the order with its line items under a row lock
	// held until the transaction ends. Returns domain.ErrOrderNotFound for
	// an unknown id.
	OrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error)
	InsertDelivery(ctx context.Context, d *domain.Delivery) error
	// AppendEvent stages an outbox row so the event becomes visible exactly
	// when the mutation commits.
	AppendEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error
}

// Store supplies atomic transactions and plain reads. Implementations map
// contention aborts (serialization failures, deadlocks) to
// domain.ErrConflict so the service can retry them.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Order(ctx context.Context, orderID string) (*domain.Order, error)
}
