package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

func TestProcess_Success(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "Widget", 5, "10.00")

	ev := orderEvent(nil, line(a, 3))
	res := f.svc.Process(context.Background(), ev)

	require.Equal(t, ResultOK, res.Kind)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, f.stock(t, a))

	stored, err := f.store.FindOrder(context.Background(), ev.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.OrderStatusProcessed, stored.Status)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Widget", stored.Items[0].Name)
	assert.Equal(t, 3, stored.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("30.00").Equal(stored.TotalAmount))
	assert.True(t, stored.AppliedDiscount.IsZero())
	assert.Equal(t, NoDiscountNote, stored.Notes)
	require.NotNil(t, stored.ProcessedAt)
	assert.Equal(t, fixedNow, *stored.ProcessedAt)
	assert.Equal(t, int64(1), f.collector.Processed())
}

func TestProcess_TotalIsSumOfLines(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "A", 10, "2.50")
	b := f.seed(t, "B", 10, "1.25")

	res := f.svc.Process(context.Background(), orderEvent(nil, line(a, 2), line(b, 4)))

	require.Equal(t, ResultOK, res.Kind)
	assert.True(t, decimal.RequireFromString("10.00").Equal(res.Order.TotalAmount))
}

func TestProcess_PromoIsCaseInsensitive(t *testing.T) {
	for _, promo := range []string{"hello", "HELLO", "HeLLo"} {
		t.Run(promo, func(t *testing.T) {
			f := newFixture(t)
			a := f.seed(t, "Widget", 5, "10.00")

			res := f.svc.Process(context.Background(), orderEvent(ptr(promo), line(a, 2)))

			require.Equal(t, ResultOK, res.Kind)
			assert.True(t, decimal.RequireFromString("2.00").Equal(res.Order.AppliedDiscount))
			assert.True(t, decimal.RequireFromString("20.00").Equal(res.Order.TotalAmount))
			assert.Equal(t, "10% discount applied (promo: hello)", res.Order.Notes)
		})
	}
}

func TestProcess_UnknownPromo(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "Widget", 5, "10.00")

	res := f.svc.Process(context.Background(), orderEvent(ptr("goodbye"), line(a, 1)))

	require.Equal(t, ResultOK, res.Kind)
	assert.True(t, res.Order.AppliedDiscount.IsZero())
	assert.Equal(t, NoDiscountNote, res.Order.Notes)
}

func TestProcess_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, "B", 2, "1.00")

	res := f.svc.Process(context.Background(), orderEvent(nil, line(b, 5)))

	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, domain.OrderStatusFailed, res.Order.Status)
	assert.Contains(t, res.Order.Notes, b.String())
	assert.Equal(t, "Insufficient stock for item: "+b.String(), res.Order.Notes)
	assert.Empty(t, res.Order.Items)
	assert.Equal(t, 2, f.stock(t, b))
	assert.Equal(t, int64(0), f.collector.Processed())
	assert.Equal(t, int64(1), f.collector.Failed())
}

func TestProcess_MissingItem(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()

	res := f.svc.Process(context.Background(), orderEvent(nil, line(missing, 1)))

	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, domain.OrderStatusFailed, res.Order.Status)
	assert.Equal(t, "Inventory item not found: "+missing.String(), res.Order.Notes)
	require.NotNil(t, res.Order.ProcessedAt)
}

func TestProcess_InvalidQuantity(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "A", 5, "1.00")

	res := f.svc.Process(context.Background(), orderEvent(nil, line(a, 0)))

	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, domain.OrderStatusFailed, res.Order.Status)
	assert.Equal(t, "Invalid quantity for item: "+a.String(), res.Order.Notes)
	assert.Equal(t, 5, f.stock(t, a))
}

// Earlier grants are not released when a later line fails.
func TestProcess_PartialFailureKeepsEarlierReservations(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "A", 5, "1.00")
	b := f.seed(t, "B", 1, "1.00")

	res := f.svc.Process(context.Background(), orderEvent(nil, line(a, 2), line(b, 3)))

	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, domain.OrderStatusFailed, res.Order.Status)
	assert.Contains(t, res.Order.Notes, b.String())
	assert.Equal(t, 3, f.stock(t, a))
	assert.Equal(t, 1, f.stock(t, b))
}

func TestProcess_PriceSnapshot(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "A", 5, "10.00")

	ev := orderEvent(nil, line(a, 1))
	res := f.svc.Process(context.Background(), ev)
	require.Equal(t, ResultOK, res.Kind)

	require.True(t, f.store.UpdateItem(a, func(item *domain.InventoryItem) {
		item.UnitPrice = decimal.RequireFromString("99.00")
	}))

	stored, err := f.store.FindOrder(context.Background(), ev.OrderID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("10.00").Equal(stored.Items[0].UnitPrice))
	assert.True(t, decimal.RequireFromString("10.00").Equal(stored.TotalAmount))
}

func TestProcess_RedeliveryDoesNotReserveAgain(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "A", 5, "10.00")
	ev := orderEvent(nil, line(a, 2))

	first := f.svc.Process(context.Background(), ev)
	require.Equal(t, ResultOK, first.Kind)
	require.Equal(t, 3, f.stock(t, a))

	second := f.svc.Process(context.Background(), ev)
	require.Equal(t, ResultOK, second.Kind)
	assert.True(t, second.Replayed)
	assert.Equal(t, 3, f.stock(t, a))
	assert.Equal(t, first.Order.TotalAmount.String(), second.Order.TotalAmount.String())
	assert.Equal(t, int64(1), f.collector.Processed())
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestProcess_MissingCustomerIsTerminal(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "A", 5, "1.00")

	noCustomer := orderEvent(nil, line(a, 1))
	noCustomer.CustomerID = "  "
	res := f.svc.Process(context.Background(), noCustomer)
	assert.Equal(t, ResultTerminalFault, res.Kind)
	assert.ErrorIs(t, res.Err, ErrInvalidEvent)

	assert.Equal(t, 0, f.store.OrderCount())
	assert.Equal(t, 5, f.stock(t, a))
}

func TestProcess_NoItemsFailsOrder(t *testing.T) {
	f := newFixture(t)
	ev := orderEvent(nil)

	res := f.svc.Process(context.Background(), ev)

	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, domain.OrderStatusFailed, res.Order.Status)
	assert.Equal(t, "Order has no items", res.Order.Notes)
	assert.NotNil(t, res.Order.ProcessedAt)
	assert.Equal(t, int64(1), f.collector.Failed())

	stored, err := f.store.FindOrder(context.Background(), ev.OrderID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.OrderStatusFailed, stored.Status)
	assert.Equal(t, "Order has no items", stored.Notes)
}

func TestProcess_FailedRedeliveryStaysFailed(t *testing.T) {
	f := newFixture(t)
	b := f.seed(t, "B", 2, "1.00")
	ev := orderEvent(nil, line(b, 5))

	first := f.svc.Process(context.Background(), ev)
	require.Equal(t, ResultOK, first.Kind)
	require.Equal(t, domain.OrderStatusFailed, first.Order.Status)

	// Restocking does not revive an order that already failed.
	require.True(t, f.store.UpdateItem(b, func(item *domain.InventoryItem) {
		item.AvailableQuantity = 10
	}))

	second := f.svc.Process(context.Background(), ev)
	require.Equal(t, ResultOK, second.Kind)
	assert.True(t, second.Replayed)
	assert.Equal(t, domain.OrderStatusFailed, second.Order.Status)
	assert.Equal(t, first.Order.Notes, second.Order.Notes)
	assert.Equal(t, 10, f.stock(t, b))
	assert.Equal(t, int64(1), f.collector.Failed())
	assert.Equal(t, int64(0), f.collector.Processed())
}

func TestProcess_StoreErrorIsRetryable(t *testing.T) {
	store := storageWithFlakyOrders()
	f := newFixtureWith(t, store.MemoryAdapter, store)
	a := f.seed(t, "A", 5, "1.00")
	ev := orderEvent(nil, line(a, 1))

	store.broken = true
	res := f.svc.Process(context.Background(), ev)
	require.Equal(t, ResultRetryableFault, res.Kind)
	assert.ErrorIs(t, res.Err, errStoreUp)
	assert.Equal(t, int64(0), f.collector.Processed())
	// Stock granted before the finalize write is not released.
	assert.Equal(t, 4, f.stock(t, a))

	// The pending order survives and the next delivery completes it.
	stored, err := store.FindOrder(context.Background(), ev.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)

	store.broken = false
	res = f.svc.Process(context.Background(), ev)
	require.Equal(t, ResultOK, res.Kind)
	assert.Equal(t, domain.OrderStatusProcessed, res.Order.Status)
	// The redelivery reserves again; the first grant stays lost.
	assert.Equal(t, 3, f.stock(t, a))
}

func TestProcess_CancelledContextIsRetryable(t *testing.T) {
	f := newFixture(t)
	a := f.seed(t, "A", 5, "1.00")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.svc.Process(ctx, orderEvent(nil, line(a, 1)))
	assert.Equal(t, ResultRetryableFault, res.Kind)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestAdmit_Idempotent(t *testing.T) {
	f := newFixture(t)
	ev := orderEvent(nil, line(uuid.New(), 1))

	first, err := f.svc.Admit(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, first.Status)
	assert.Equal(t, fixedNow, first.CreatedAt)
	assert.Empty(t, first.Items)
	assert.True(t, first.TotalAmount.IsZero())

	second, err := f.svc.Admit(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, 1, f.store.OrderCount())
}

func TestAdmit_LostRaceReadsWinner(t *testing.T) {
	store := storageWithFlakyOrders()
	racy := &racingOrders{flakyOrders: store}
	f := newFixtureWith(t, store.MemoryAdapter, racy)
	ev := orderEvent(nil, line(uuid.New(), 1))

	order, err := f.svc.Admit(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, "winner", order.CustomerID)
}

// racingOrders hides the first lookup and inserts a competing document
// before the caller's insert.
type racingOrders struct {
	*flakyOrders
	raced bool
}

func (r *racingOrders) FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if !r.raced {
		r.raced = true
		winner := domain.NewPendingOrder(id, "winner", fixedNow)
		if _, err := r.flakyOrders.InsertOrderIfAbsent(ctx, winner); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return r.flakyOrders.FindOrder(ctx, id)
}
