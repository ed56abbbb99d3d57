package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyOrder rejects requests with no line items.
	ErrEmptyOrder = errors.New("order has no line items")

	// ErrOrderNotFound is returned for an unknown order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrConflict marks a transient transaction abort caused by contention.
	// The order service retries it a bounded number of times before letting
	// it surface.
	ErrConflict = errors.New("transaction conflict")
)

// DuplicateProductError rejects a request that names the same product twice;
// an order holds at most one line item per product.
type DuplicateProductError struct {
	ProductID string
}

func (e *DuplicateProductError) Error() string {
	return fmt.Sprintf("duplicate product %s in order request", e.ProductID)
}

// InvalidQuantityError rejects a line with quantity <= 0.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for product %s", e.Quantity, e.ProductID)
}

// InvalidTransitionError reports a forbidden status change, e.g. confirming
// payment on a cancelled order.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}
