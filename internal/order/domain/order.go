package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	// StatusPlaced: persisted, stock reserved, not yet paid.
	StatusPlaced OrderStatus = "placed"
	// StatusPaid: terminal success. Stock stays committed.
	StatusPaid OrderStatus = "paid"
	// StatusCancelled: terminal, stock released.
	StatusCancelled OrderStatus = "cancelled"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPlaced:    {StatusPlaced: true, StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {},
	StatusCancelled: {},
}

// CanTransition reports whether an order may move from one status to
// another. placed -> placed covers line-item updates.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Order is a placed order with its line items attached. TotalCost always
// equals the decimal sum of the items' costs.
type Order struct {
	ID         string
	UserID     *string // nil for guest checkouts
	DeliveryID string
	Status     OrderStatus
	Paid       bool
	TotalCost  decimal.Decimal
	Items      []LineItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineItem ties one product to one order. UnitPrice is a catalog snapshot
// taken when the stock was reserved; later catalog price changes never touch
// it.
type LineItem struct {
	ProductID string
	Quantity  int64
	UnitPrice decimal.Decimal
	Cost      decimal.Decimal
}

// NewLineItem computes Cost from the snapshot price and quantity.
func NewLineItem(productID string, quantity int64, unitPrice decimal.Decimal) LineItem {
	return LineItem{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Cost:      unitPrice.Mul(decimal.NewFromInt(quantity)),
	}
}
