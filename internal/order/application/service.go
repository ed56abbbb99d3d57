package application

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	invapp "github.com/dkotelnikov/order-engine/internal/inventory/application"
	"github.com/dkotelnikov/order-engine/internal/order/domain"
)

// maxTxAttempts bounds automatic retries of contention-aborted transactions.
const maxTxAttempts = 3

// Service drives the order lifecycle: place, update, cancel, confirm
// payment. Every operation runs the ledger and the order writes inside one
// store transaction, so stock and order rows can never disagree.
type Service struct {
	log    *slog.Logger
	store  Store
	ledger *invapp.Ledger
}

func NewService(log *slog.Logger, store Store, ledger *invapp.Ledger) *Service {
	return &Service{log: log, store: store, ledger: ledger}
}

// CreateRequest is a validated-on-entry order submission. Delivery may be
// supplied inline; it is persisted together with the order.
type CreateRequest struct {
	Lines    []LineRequest
	UserID   *string
	Delivery DeliveryRequest
}

type DeliveryRequest struct {
	Address string
	Phone   string
	Type    string
}

// Create reserves stock for every line, snapshots prices, and persists the
// order with its line items, all in one transaction. Any stock failure rolls
// the whole thing back; partial reservations are never committed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Order, error) {
	if err := validateLines(req.Lines); err != nil {
		return nil, err
	}
	if err := domain.ValidatePhone(req.Delivery.Phone); err != nil {
		return nil, err
	}

	orderID := uuid.NewString()
	deliveryID := uuid.NewString()

	var out *domain.Order
	err := s.inTx(ctx, func(tx Tx) error {
		for _, ln := range req.Lines {
			if _, err := s.ledger.Reserve(ctx, tx, ln.ProductID, ln.Quantity); err != nil {
				return err
			}
		}

		items, err := PriceLines(ctx, tx, req.Lines)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		delivery := &domain.Delivery{
			ID:        deliveryID,
			Address:   req.Delivery.Address,
			Phone:     req.Delivery.Phone,
			Type:      req.Delivery.Type,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertDelivery(ctx, delivery); err != nil {
			return err
		}

		o := &domain.Order{
			ID:         orderID,
			UserID:     req.UserID,
			DeliveryID: deliveryID,
			Status:     domain.StatusPlaced,
			Paid:       false,
			TotalCost:  TotalCost(items),
			Items:      items,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		if err := tx.ReplaceLineItems(ctx, o.ID, items); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.OrderPlacedPayload{
			OrderID:   o.ID,
			UserID:    o.UserID,
			Items:     domain.ItemPayloads(items),
			TotalCost: o.TotalCost,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, o.ID, domain.EventOrderPlaced, payload); err != nil {
			return err
		}

		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order placed", "order_id", out.ID, "total_cost", out.TotalCost, "items", len(out.Items))
	return out, nil
}

// Update re-synchronizes a placed order with a new line set. Stock moves by
// the per-product delta between what is reserved and what is requested:
// removed products release their full quantity, added products reserve
// theirs. An insufficient delta rolls back every adjustment already applied.
func (s *Service) Update(ctx context.Context, orderID string, lines []LineRequest) (*domain.Order, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	var out *domain.Order
	err := s.inTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.StatusPlaced {
			return &domain.InvalidTransitionError{OrderID: o.ID, From: o.Status, To: domain.StatusPlaced}
		}

		current := make(map[string]int64, len(o.Items))
		for _, it := range o.Items {
			current[it.ProductID] = it.Quantity
		}
		requested := make(map[string]int64, len(lines))
		for _, ln := range lines {
			requested[ln.ProductID] = ln.Quantity
		}

		// Fixed product order keeps concurrent updates from locking stock
		// rows in opposite directions.
		for _, pid := range sortedProductIDs(current, requested) {
			delta := requested[pid] - current[pid]
			if _, err := s.ledger.Adjust(ctx, tx, pid, delta); err != nil {
				return err
			}
		}

		items, err := PriceLines(ctx, tx, lines)
		if err != nil {
			return err
		}
		if err := tx.ReplaceLineItems(ctx, o.ID, items); err != nil {
			return err
		}

		o.Items = items
		o.TotalCost = TotalCost(items)
		o.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.OrderUpdatedPayload{
			OrderID:   o.ID,
			Items:     domain.ItemPayloads(items),
			TotalCost: o.TotalCost,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, o.ID, domain.EventOrderUpdated, payload); err != nil {
			return err
		}

		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order updated", "order_id", out.ID, "total_cost", out.TotalCost, "items", len(out.Items))
	return out, nil
}

// Cancel releases every reserved unit back to the ledger and marks the order
// cancelled. Cancelling an already-cancelled order is a no-op; a paid order
// cannot be cancelled here (refunds are not this engine's job).
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	err := s.inTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == domain.StatusCancelled {
			return nil
		}
		if !domain.CanTransition(o.Status, domain.StatusCancelled) {
			return &domain.InvalidTransitionError{OrderID: o.ID, From: o.Status, To: domain.StatusCancelled}
		}

		for _, it := range o.Items {
			if _, err := s.ledger.Release(ctx, tx, it.ProductID, it.Quantity); err != nil {
				return err
			}
		}

		o.Status = domain.StatusCancelled
		o.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.OrderCancelledPayload{OrderID: o.ID})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, o.ID, domain.EventOrderCancelled, payload)
	})
	if err != nil {
		return err
	}
	s.log.Info("order cancelled", "order_id", orderID)
	return nil
}

// ConfirmPayment flips paid to true. Stock was committed at placement time
// and is not touched. Confirming twice is a no-op; confirming a cancelled
// order is an invalid transition.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (*domain.Order, error) {
	var out *domain.Order
	err := s.inTx(ctx, func(tx Tx) error {
		o, err := tx.OrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == domain.StatusPaid {
			out = o
			return nil
		}
		if !domain.CanTransition(o.Status, domain.StatusPaid) {
			return &domain.InvalidTransitionError{OrderID: o.ID, From: o.Status, To: domain.StatusPaid}
		}

		o.Status = domain.StatusPaid
		o.Paid = true
		o.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}

		payload, err := json.Marshal(domain.OrderPaidPayload{OrderID: o.ID, TotalCost: o.TotalCost})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, o.ID, domain.EventOrderPaid, payload); err != nil {
			return err
		}

		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("order paid", "order_id", out.ID, "total_cost", out.TotalCost)
	return out, nil
}

// Order is a plain read for the surrounding CRUD layer.
func (s *Service) Order(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.store.Order(ctx, orderID)
}

// inTx runs fn in a store transaction, retrying contention aborts. Only
// domain.ErrConflict is retried; every other error surfaces immediately.
func (s *Service) inTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.store.InTx(ctx, fn)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
		s.log.Warn("transaction conflict", "attempt", attempt)
	}
	return err
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return domain.ErrEmptyOrder
	}
	seen := make(map[string]bool, len(lines))
	for _, ln := range lines {
		if ln.Quantity <= 0 {
			return &domain.InvalidQuantityError{ProductID: ln.ProductID, Quantity: ln.Quantity}
		}
		if seen[ln.ProductID] {
			return &domain.DuplicateProductError{ProductID: ln.ProductID}
		}
		seen[ln.ProductID] = true
	}
	return nil
}

func sortedProductIDs(current, requested map[string]int64) []string {
	ids := make([]string, 0, len(current)+len(requested))
	for pid := range current {
		ids = append(ids, pid)
	}
	for pid := range requested {
		if _, ok := current[pid]; !ok {
			ids = append(ids, pid)
		}
	}
	sort.Strings(ids)
	return ids
}
