package application_test

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	invdomain "github.com/dkotelnikov/order-engine/internal/inventory/domain"
	"github.com/dkotelnikov/order-engine/internal/order/application"
	"github.com/dkotelnikov/order-engine/internal/order/domain"
)

// memStore implements application.Store in memory. One mutex serializes
// whole transactions, which is exactly the isolation contract the postgres
// store provides with row locks. Writes are staged on the Tx and applied
// only when the closure returns nil, so rollback semantics hold too.
type memStore struct {
	mu         sync.Mutex
	stock      map[string]int64
	prices     map[string]decimal.Decimal
	orders     map[string]*domain.Order
	deliveries map[string]*domain.Delivery
	events     []memEvent

	// conflicts makes the next N transactions abort with ErrConflict, for
	// retry tests.
	conflicts int
}

type memEvent struct {
	aggregateID string
	eventType   string
	payload     []byte
}

func newMemStore() *memStore {
	return &memStore{
		stock:      make(map[string]int64),
		prices:     make(map[string]decimal.Decimal),
		orders:     make(map[string]*domain.Order),
		deliveries: make(map[string]*domain.Delivery),
	}
}

func (s *memStore) addProduct(id string, price string, stock int64) {
	s.prices[id] = decimal.RequireFromString(price)
	s.stock[id] = stock
}

func (s *memStore) InTx(_ context.Context, fn func(tx application.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return domain.ErrConflict
	}

	tx := &memTx{
		store:  s,
		stock:  make(map[string]int64, len(s.stock)),
		orders: make(map[string]*domain.Order),
		items:  make(map[string][]domain.LineItem),
	}
	for k, v := range s.stock {
		tx.stock[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *memStore) Order(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

type memTx struct {
	store      *memStore
	stock      map[string]int64
	orders     map[string]*domain.Order
	items      map[string][]domain.LineItem
	deliveries []*domain.Delivery
	events     []memEvent
}

func (t *memTx) StockForUpdate(_ context.Context, productID string) (int64, error) {
	qty, ok := t.stock[productID]
	if !ok {
		return 0, &invdomain.UnknownProductError{ProductID: productID}
	}
	return qty, nil
}

func (t *memTx) SetStock(_ context.Context, productID string, available int64) error {
	t.stock[productID] = available
	return nil
}

func (t *memTx) Price(_ context.Context, productID string) (decimal.Decimal, error) {
	price, ok := t.store.prices[productID]
	if !ok {
		return decimal.Zero, &invdomain.UnknownProductError{ProductID: productID}
	}
	return price, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	t.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *domain.Order) error {
	t.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *memTx) ReplaceLineItems(_ context.Context, orderID string, items []domain.LineItem) error {
	t.items[orderID] = append([]domain.LineItem(nil), items...)
	return nil
}

func (t *memTx) OrderForUpdate(_ context.Context, orderID string) (*domain.Order, error) {
	if o, ok := t.orders[orderID]; ok {
		return copyOrder(o), nil
	}
	o, ok := t.store.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (t *memTx) InsertDelivery(_ context.Context, d *domain.Delivery) error {
	cp := *d
	t.deliveries = append(t.deliveries, &cp)
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, aggregateID, eventType string, payload []byte) error {
	t.events = append(t.events, memEvent{aggregateID: aggregateID, eventType: eventType, payload: payload})
	return nil
}

func (t *memTx) commit() {
	t.store.stock = t.stock
	for id, o := range t.orders {
		t.store.orders[id] = o
	}
	for id, items := range t.items {
		if o, ok := t.store.orders[id]; ok {
			o.Items = items
		}
	}
	for _, d := range t.deliveries {
		t.store.deliveries[d.ID] = d
	}
	t.store.events = append(t.store.events, t.events...)
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.LineItem(nil), o.Items...)
	return &cp
}
