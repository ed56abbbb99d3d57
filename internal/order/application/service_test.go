package application_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	invapp "github.com/dkotelnikov/order-engine/internal/inventory/application"
	invdomain "github.com/dkotelnikov/order-engine/internal/inventory/domain"
	"github.com/dkotelnikov/order-engine/internal/order/application"
	"github.com/dkotelnikov/order-engine/internal/order/domain"
)

func newService(store *memStore) *application.Service {
	log := slog.New(slog.DiscardHandler)
	return application.NewService(log, store, invapp.NewLedger(log))
}

func delivery() application.DeliveryRequest {
	return application.DeliveryRequest{Address: "Arbat 12", Phone: "+79991234567", Type: "courier"}
}

func line(productID string, qty int64) application.LineRequest {
	return application.LineRequest{ProductID: productID, Quantity: qty}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("persists order with snapshot prices and decimal total", func(t *testing.T) {
		store := newMemStore()
		store.addProduct("chair", "19.99", 10)
		store.addProduct("table", "249.50", 4)
		svc := newService(store)

		o, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 3), line("table", 1)},
			Delivery: delivery(),
		})
		require.NoError(t, err)

		require.Len(t, o.Items, 2)
		assert.Equal(t, domain.StatusPlaced, o.Status)
		assert.False(t, o.Paid)
		// 19.99*3 + 249.50 = 309.47, exact in decimal.
		assert.True(t, o.TotalCost.Equal(decimal.RequireFromString("309.47")), "got %s", o.TotalCost)
		assert.True(t, o.Items[0].Cost.Equal(decimal.RequireFromString("59.97")))

		assert.Equal(t, int64(7), store.stock["chair"])
		assert.Equal(t, int64(3), store.stock["table"])

		stored, err := svc.Order(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, stored.TotalCost.Equal(o.TotalCost))
		require.Len(t, store.events, 1)
		assert.Equal(t, domain.EventOrderPlaced, store.events[0].eventType)
		require.Len(t, store.deliveries, 1)
	})

	t.Run("empty order", func(t *testing.T) {
		svc := newService(newMemStore())
		_, err := svc.Create(ctx, application.CreateRequest{Delivery: delivery()})
		assert.ErrorIs(t, err, domain.ErrEmptyOrder)
	})

	t.Run("duplicate product leaves stock untouched", func(t *testing.T) {
		store := newMemStore()
		store.addProduct("chair", "19.99", 10)
		svc := newService(store)

		_, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 1), line("chair", 2)},
			Delivery: delivery(),
		})
		var dup *domain.DuplicateProductError
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "chair", dup.ProductID)
		assert.Equal(t, int64(10), store.stock["chair"])
		assert.Empty(t, store.orders)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		svc := newService(newMemStore())
		_, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 0)},
			Delivery: delivery(),
		})
		var iq *domain.InvalidQuantityError
		assert.ErrorAs(t, err, &iq)
	})

	t.Run("one short line rolls back every reservation", func(t *testing.T) {
		store := newMemStore()
		store.addProduct("chair", "19.99", 10)
		store.addProduct("table", "249.50", 1)
		svc := newService(store)

		_, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 2), line("table", 3)},
			Delivery: delivery(),
		})
		var ins *invdomain.InsufficientStockError
		require.ErrorAs(t, err, &ins)
		assert.Equal(t, "table", ins.ProductID)
		assert.Equal(t, int64(1), ins.Available)

		assert.Equal(t, int64(10), store.stock["chair"], "chair reservation must be rolled back")
		assert.Equal(t, int64(1), store.stock["table"])
		assert.Empty(t, store.orders)
		assert.Empty(t, store.events)
	})

	t.Run("unknown product", func(t *testing.T) {
		store := newMemStore()
		svc := newService(store)
		_, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("ghost", 1)},
			Delivery: delivery(),
		})
		var unknown *invdomain.UnknownProductError
		assert.ErrorAs(t, err, &unknown)
	})

	t.Run("invalid delivery phone", func(t *testing.T) {
		store := newMemStore()
		store.addProduct("chair", "19.99", 10)
		svc := newService(store)
		_, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 1)},
			Delivery: application.DeliveryRequest{Address: "Arbat 12", Phone: "12345"},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidPhone)
		assert.Equal(t, int64(10), store.stock["chair"])
	})

	t.Run("retries conflicts a bounded number of times", func(t *testing.T) {
		store := newMemStore()
		store.addProduct("chair", "19.99", 10)
		store.conflicts = 2
		svc := newService(store)

		_, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 1)},
			Delivery: delivery(),
		})
		require.NoError(t, err, "two conflicts fit within three attempts")
		assert.Equal(t, int64(9), store.stock["chair"])

		store.conflicts = 3
		_, err = svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 1)},
			Delivery: delivery(),
		})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})
}

func TestCreateConcurrentReservations(t *testing.T) {
	// 20 single-unit orders race for 10 units: exactly 10 must win and the
	// shelf must end empty, whatever the interleaving.
	store := newMemStore()
	store.addProduct("chair", "19.99", 10)
	svc := newService(store)

	const callers = 20
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), application.CreateRequest{
				Lines:    []application.LineRequest{line("chair", 1)},
				Delivery: delivery(),
			})
		}(i)
	}
	wg.Wait()

	var ok, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			var oos *invdomain.OutOfStockError
			require.ErrorAs(t, err, &oos)
			outOfStock++
		}
	}
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, outOfStock)
	assert.Equal(t, int64(0), store.stock["chair"])
	assert.Len(t, store.orders, 10)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*memStore, *application.Service, *domain.Order) {
		t.Helper()
		store := newMemStore()
		store.addProduct("chair", "19.99", 10)
		store.addProduct("table", "249.50", 4)
		svc := newService(store)
		o, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 3), line("table", 2)},
			Delivery: delivery(),
		})
		require.NoError(t, err)
		return store, svc, o
	}

	t.Run("downward delta releases only the difference", func(t *testing.T) {
		store, svc, o := setup(t)

		updated, err := svc.Update(ctx, o.ID, []application.LineRequest{line("chair", 1), line("table", 2)})
		require.NoError(t, err)

		assert.Equal(t, int64(9), store.stock["chair"], "two units back on the shelf")
		assert.Equal(t, int64(2), store.stock["table"], "untouched line keeps its reservation")
		assert.True(t, updated.TotalCost.Equal(decimal.RequireFromString("518.99")), "got %s", updated.TotalCost)
	})

	t.Run("removed product releases its full quantity", func(t *testing.T) {
		store, svc, o := setup(t)

		updated, err := svc.Update(ctx, o.ID, []application.LineRequest{line("chair", 3)})
		require.NoError(t, err)

		assert.Equal(t, int64(4), store.stock["table"])
		require.Len(t, updated.Items, 1)
		assert.True(t, updated.TotalCost.Equal(decimal.RequireFromString("59.97")))
	})

	t.Run("same line set is a stock no-op", func(t *testing.T) {
		store, svc, o := setup(t)

		updated, err := svc.Update(ctx, o.ID, []application.LineRequest{line("chair", 3), line("table", 2)})
		require.NoError(t, err)

		assert.Equal(t, int64(7), store.stock["chair"])
		assert.Equal(t, int64(2), store.stock["table"])
		assert.True(t, updated.TotalCost.Equal(o.TotalCost))
	})

	t.Run("failed upward delta rolls everything back", func(t *testing.T) {
		store, svc, o := setup(t)

		// chair 3->1 would release 2, table 2->5 needs 3 but only 2 remain;
		// the release must not survive the failed reservation.
		_, err := svc.Update(ctx, o.ID, []application.LineRequest{line("chair", 1), line("table", 5)})
		var ins *invdomain.InsufficientStockError
		require.ErrorAs(t, err, &ins)
		assert.Equal(t, "table", ins.ProductID)
		assert.Equal(t, int64(2), ins.Available)

		assert.Equal(t, int64(7), store.stock["chair"])
		assert.Equal(t, int64(2), store.stock["table"])
		stored, err := svc.Order(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, stored.TotalCost.Equal(o.TotalCost), "order must remain exactly as before")
		require.Len(t, stored.Items, 2)
		assert.Equal(t, int64(3), stored.Items[0].Quantity)
	})

	t.Run("update on cancelled order is rejected", func(t *testing.T) {
		_, svc, o := setup(t)
		require.NoError(t, svc.Cancel(ctx, o.ID))

		_, err := svc.Update(ctx, o.ID, []application.LineRequest{line("chair", 1)})
		var bad *domain.InvalidTransitionError
		assert.ErrorAs(t, err, &bad)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, svc, _ := setup(t)
		_, err := svc.Update(ctx, "no-such-order", []application.LineRequest{line("chair", 1)})
		assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	store := newMemStore()
	store.addProduct("chair", "19.99", 10)
	svc := newService(store)
	o, err := svc.Create(ctx, application.CreateRequest{
		Lines:    []application.LineRequest{line("chair", 4)},
		Delivery: delivery(),
	})
	require.NoError(t, err)
	require.Equal(t, int64(6), store.stock["chair"])

	require.NoError(t, svc.Cancel(ctx, o.ID))
	assert.Equal(t, int64(10), store.stock["chair"])

	stored, err := svc.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)

	// Second cancel: no error, no double release.
	require.NoError(t, svc.Cancel(ctx, o.ID))
	assert.Equal(t, int64(10), store.stock["chair"])

	var cancelledEvents int
	for _, ev := range store.events {
		if ev.eventType == domain.EventOrderCancelled {
			cancelledEvents++
		}
	}
	assert.Equal(t, 1, cancelledEvents, "idempotent cancel must not emit a second event")
}

func TestConfirmPayment(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*memStore, *application.Service, *domain.Order) {
		t.Helper()
		store := newMemStore()
		store.addProduct("chair", "19.99", 10)
		svc := newService(store)
		o, err := svc.Create(ctx, application.CreateRequest{
			Lines:    []application.LineRequest{line("chair", 2)},
			Delivery: delivery(),
		})
		require.NoError(t, err)
		return store, svc, o
	}

	t.Run("marks paid without touching stock", func(t *testing.T) {
		store, svc, o := setup(t)

		paid, err := svc.ConfirmPayment(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, paid.Paid)
		assert.Equal(t, domain.StatusPaid, paid.Status)
		assert.Equal(t, int64(8), store.stock["chair"])

		// Idempotent on an already-paid order.
		again, err := svc.ConfirmPayment(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, again.Paid)
	})

	t.Run("rejected on cancelled order", func(t *testing.T) {
		_, svc, o := setup(t)
		require.NoError(t, svc.Cancel(ctx, o.ID))

		_, err := svc.ConfirmPayment(ctx, o.ID)
		var bad *domain.InvalidTransitionError
		require.ErrorAs(t, err, &bad)
		assert.Equal(t, domain.StatusCancelled, bad.From)
	})

	t.Run("cancel after payment is rejected", func(t *testing.T) {
		store, svc, o := setup(t)
		_, err := svc.ConfirmPayment(ctx, o.ID)
		require.NoError(t, err)

		err = svc.Cancel(ctx, o.ID)
		var bad *domain.InvalidTransitionError
		require.ErrorAs(t, err, &bad)
		assert.Equal(t, int64(8), store.stock["chair"], "paid stock stays committed")
	})
}

func TestPlaceUpdateScenario(t *testing.T) {
	// Catalog has product A priced 100.00 with stock 5.
	ctx := context.Background()
	store := newMemStore()
	store.addProduct("A", "100.00", 5)
	svc := newService(store)

	o, err := svc.Create(ctx, application.CreateRequest{
		Lines:    []application.LineRequest{line("A", 3)},
		Delivery: delivery(),
	})
	require.NoError(t, err)
	assert.True(t, o.TotalCost.Equal(decimal.RequireFromString("300.00")))
	assert.Equal(t, int64(2), store.stock["A"])

	o, err = svc.Update(ctx, o.ID, []application.LineRequest{line("A", 5)})
	require.NoError(t, err)
	assert.True(t, o.TotalCost.Equal(decimal.RequireFromString("500.00")))
	assert.Equal(t, int64(0), store.stock["A"])

	_, err = svc.Update(ctx, o.ID, []application.LineRequest{line("A", 6)})
	var ins *invdomain.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, int64(0), ins.Available)

	stored, err := svc.Order(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stored.Items[0].Quantity)
	assert.True(t, stored.TotalCost.Equal(decimal.RequireFromString("500.00")))
}

func TestConcurrentUpdatesKeepLedgerConsistent(t *testing.T) {
	// Two orders repeatedly resize against the same product; the final
	// available quantity must equal initial minus what the surviving orders
	// hold.
	ctx := context.Background()
	store := newMemStore()
	store.addProduct("A", "10.00", 100)
	svc := newService(store)

	o1, err := svc.Create(ctx, application.CreateRequest{Lines: []application.LineRequest{line("A", 10)}, Delivery: delivery()})
	require.NoError(t, err)
	o2, err := svc.Create(ctx, application.CreateRequest{Lines: []application.LineRequest{line("A", 10)}, Delivery: delivery()})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seenErr []error
	)
	resize := func(orderID string, qtys []int64) {
		defer wg.Done()
		for _, q := range qtys {
			if _, err := svc.Update(ctx, orderID, []application.LineRequest{line("A", q)}); err != nil {
				mu.Lock()
				seenErr = append(seenErr, err)
				mu.Unlock()
			}
		}
	}
	wg.Add(2)
	go resize(o1.ID, []int64{5, 30, 7, 12})
	go resize(o2.ID, []int64{40, 3, 25, 8})
	wg.Wait()

	// The only acceptable failure while resizing is running out of stock.
	for _, err := range seenErr {
		var ins *invdomain.InsufficientStockError
		require.True(t, errors.As(err, &ins), "unexpected error: %v", err)
	}

	s1, err := svc.Order(ctx, o1.ID)
	require.NoError(t, err)
	s2, err := svc.Order(ctx, o2.ID)
	require.NoError(t, err)
	held := s1.Items[0].Quantity + s2.Items[0].Quantity
	assert.Equal(t, int64(100), store.stock["A"]+held, "no units lost or invented")
}
