package application

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dkotelnikov/order-engine/internal/order/domain"
)

// PriceLines turns validated (product, quantity) requests into priced line
// items: one catalog read per product, cost computed in decimal. The result
// keeps the request order.
func PriceLines(ctx context.Context, catalog Catalog, requests []LineRequest) ([]domain.LineItem, error) {
	items := make([]domain.LineItem, 0, len(requests))
	for _, req := range requests {
		unitPrice, err := catalog.Price(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.NewLineItem(req.ProductID, req.Quantity, unitPrice))
	}
	return items, nil
}

// TotalCost sums the costs of the given line items. An empty slice totals
// exactly zero, so a fresh order always has a well-defined total.
func TotalCost(items []domain.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Cost)
	}
	return total
}
