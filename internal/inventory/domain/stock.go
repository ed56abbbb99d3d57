package domain

import (
	"errors"
	"fmt"
)

// ErrNonPositiveQuantity rejects reserve/release calls with qty <= 0 before
// any row is touched.
var ErrNonPositiveQuantity = errors.New("quantity must be positive")

// StockRecord is the sellable-unit counter for one product. Available never
// drops below zero; a reservation that would do so is rejected instead.
type StockRecord struct {
	ProductID string
	Available int64
}

// UnknownProductError is returned when neither a stock row nor a catalog
// entry exists for the product.
type UnknownProductError struct {
	ProductID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product %s", e.ProductID)
}

// OutOfStockError is returned when a reservation hits a product whose
// available quantity is already zero.
type OutOfStockError struct {
	ProductID string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s is out of stock", e.ProductID)
}

// InsufficientStockError is returned when some stock remains but less than
// requested. Available is included so callers can report it without another
// query.
type InsufficientStockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}
