package domain

import (
	"github.com/shopspring/decimal"
)

// Event types appended to the outbox in the same transaction as the order
// mutation they describe.
const (
	EventOrderPlaced    = "OrderPlaced"
	EventOrderUpdated   = "OrderUpdated"
	EventOrderCancelled = "OrderCancelled"
	EventOrderPaid      = "OrderPaid"
)

type LineItemPayload struct {
	ProductID string          `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Cost      decimal.Decimal `json:"cost"`
}

type OrderPlacedPayload struct {
	OrderID   string            `json:"order_id"`
	UserID    *string           `json:"user_id,omitempty"`
	Items     []LineItemPayload `json:"items"`
	TotalCost decimal.Decimal   `json:"total_cost"`
}

type OrderUpdatedPayload struct {
	OrderID   string            `json:"order_id"`
	Items     []LineItemPayload `json:"items"`
	TotalCost decimal.Decimal   `json:"total_cost"`
}

type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
}

type OrderPaidPayload struct {
	OrderID   string          `json:"order_id"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// ItemPayloads converts persisted line items into their event form.
func ItemPayloads(items []LineItem) []LineItemPayload {
	out := make([]LineItemPayload, 0, len(items))
	for _, it := range items {
		out = append(out, LineItemPayload{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Cost:      it.Cost,
		})
	}
	return out
}
