package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
)

var (
	fixedNow   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	errStoreUp = errors.New("store unavailable")
)

type fixture struct {
	store     *storage.MemoryAdapter
	collector *metrics.Collector
	svc       *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryAdapter()
	return newFixtureWith(t, store, store)
}

func newFixtureWith(t *testing.T, store *storage.MemoryAdapter, orders port.OrderRepository) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	tracer := noop.NewTracerProvider().Tracer("test")
	collector := metrics.New()

	reservations := NewReservationService(store, logger, tracer)
	pricing := NewPricingEngine(tracer, 0, PromoKeywordRule{Keyword: DefaultPromoKeyword, Percent: DefaultPromoPercent})
	svc := NewOrderService(orders, reservations, pricing, collector, logger, tracer,
		WithClock(func() time.Time { return fixedNow }))

	return &fixture{store: store, collector: collector, svc: svc}
}

func (f *fixture) seed(t *testing.T, name string, stock int, price string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, f.store.CreateItem(context.Background(), domain.InventoryItem{
		ID:                id,
		Name:              name,
		AvailableQuantity: stock,
		UnitPrice:         decimal.RequireFromString(price),
	}))
	return id
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	item, err := f.store.FindItem(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item.AvailableQuantity
}

func orderEvent(promo *string, items ...domain.EventItem) domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:    uuid.New(),
		CustomerID: "customer-1",
		Items:      items,
		PromoCode:  promo,
	}
}

func line(id uuid.UUID, qty int) domain.EventItem {
	return domain.EventItem{InventoryItemID: id, Quantity: qty}
}

func ptr(s string) *string { return &s }

// flakyOrders fails ReplaceOrder while broken is set.
type flakyOrders struct {
	*storage.MemoryAdapter
	broken bool
}

func (f *flakyOrders) ReplaceOrder(ctx context.Context, order domain.Order) error {
	if f.broken {
		return errStoreUp
	}
	return f.MemoryAdapter.ReplaceOrder(ctx, order)
}

func storageWithFlakyOrders() *flakyOrders {
	return &flakyOrders{MemoryAdapter: storage.NewMemoryAdapter()}
}
