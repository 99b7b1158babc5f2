package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

var ErrInvalidEvent = errors.New("invalid order event")

// Counter records terminal order outcomes.
type Counter interface {
	IncProcessed()
	IncFailed()
}

type Option func(*OrderService)

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) {
		s.now = now
	}
}

// OrderService admits order events, reserves their stock and finalizes the
// order document.
type OrderService struct {
	orders       port.OrderRepository
	reservations *ReservationService
	pricing      *PricingEngine
	counter      Counter
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

func NewOrderService(
	orders port.OrderRepository,
	reservations *ReservationService,
	pricing *PricingEngine,
	counter Counter,
	logger *zap.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *OrderService {
	s := &OrderService{
		orders:       orders,
		reservations: reservations,
		pricing:      pricing,
		counter:      counter,
		logger:       logger,
		tracer:       tracer,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process drives one event to a terminal order state.
func (s *OrderService) Process(ctx context.Context, ev domain.OrderEvent) Result {
	ctx, span := s.tracer.Start(ctx, "order.process", trace.WithAttributes(
		attribute.String("order.id", ev.OrderID.String()),
		attribute.Int("order.items", len(ev.Items)),
	))
	defer span.End()

	result := s.process(ctx, ev)
	span.SetAttributes(attribute.String("order.result", result.Kind.String()))
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	} else {
		span.SetAttributes(attribute.String("order.status", string(result.Order.Status)))
	}
	return result
}

func (s *OrderService) process(ctx context.Context, ev domain.OrderEvent) Result {
	if err := validateEvent(ev); err != nil {
		return TerminalFault(err)
	}

	order, err := s.Admit(ctx, ev)
	if err != nil {
		return RetryableFault(err)
	}

	log := s.logger.With(
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", order.CustomerID),
	)

	if order.Status.IsTerminal() {
		log.Info("order already finalized, skipping", zap.String("status", string(order.Status)))
		res := OK(order)
		res.Replayed = true
		return res
	}

	if len(ev.Items) == 0 {
		return s.fail(ctx, log, order, "Order has no items")
	}

	log.Info("processing order", zap.Int("items", len(ev.Items)))

	lines := make([]domain.OrderLine, 0, len(ev.Items))
	for _, it := range ev.Items {
		if it.Quantity <= 0 {
			return s.fail(ctx, log, order, fmt.Sprintf("Invalid quantity for item: %s", it.InventoryItemID))
		}

		item, err := s.reservations.Lookup(ctx, it.InventoryItemID)
		if err != nil {
			return RetryableFault(err)
		}
		if item == nil {
			return s.fail(ctx, log, order, fmt.Sprintf("Inventory item not found: %s", it.InventoryItemID))
		}

		granted, err := s.reservations.Reserve(ctx, it.InventoryItemID, it.Quantity)
		if err != nil {
			return RetryableFault(err)
		}
		if !granted {
			return s.fail(ctx, log, order, fmt.Sprintf("Insufficient stock for item: %s", it.InventoryItemID))
		}

		lines = append(lines, domain.OrderLine{
			InventoryItemID: item.ID,
			Name:            item.Name,
			Quantity:        it.Quantity,
			UnitPrice:       item.UnitPrice,
		})
	}

	quote, err := s.pricing.Quote(ctx, lines, ev.Promo())
	if err != nil {
		return RetryableFault(fmt.Errorf("price order %s: %w", order.ID, err))
	}

	processedAt := s.now().UTC()
	order.Items = lines
	order.TotalAmount = quote.Total
	order.AppliedDiscount = quote.Discount
	order.Notes = quote.Note
	order.Status = domain.OrderStatusProcessed
	order.ProcessedAt = &processedAt

	if err := s.orders.ReplaceOrder(ctx, order); err != nil {
		return RetryableFault(fmt.Errorf("finalize order %s: %w", order.ID, err))
	}
	s.counter.IncProcessed()

	log.Info("order processed",
		zap.String("total", order.TotalAmount.String()),
		zap.String("discount", order.AppliedDiscount.String()),
	)
	return OK(order)
}

// Admit returns the persisted order for the event, creating a pending one
// when none exists. It never overwrites an existing order.
func (s *OrderService) Admit(ctx context.Context, ev domain.OrderEvent) (domain.Order, error) {
	existing, err := s.orders.FindOrder(ctx, ev.OrderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order %s: %w", ev.OrderID, err)
	}
	if existing != nil {
		return *existing, nil
	}

	order := domain.NewPendingOrder(ev.OrderID, ev.CustomerID, s.now())
	inserted, err := s.orders.InsertOrderIfAbsent(ctx, order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("admit order %s: %w", ev.OrderID, err)
	}
	if inserted {
		return order, nil
	}

	// Lost the insert race; the winner's document is authoritative.
	winner, err := s.orders.FindOrder(ctx, ev.OrderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order %s: %w", ev.OrderID, err)
	}
	if winner == nil {
		return domain.Order{}, fmt.Errorf("order %s vanished after admission", ev.OrderID)
	}
	return *winner, nil
}

func (s *OrderService) fail(ctx context.Context, log *zap.Logger, order domain.Order, note string) Result {
	processedAt := s.now().UTC()
	order.Status = domain.OrderStatusFailed
	order.Notes = note
	order.ProcessedAt = &processedAt

	if err := s.orders.ReplaceOrder(ctx, order); err != nil {
		return RetryableFault(fmt.Errorf("fail order %s: %w", order.ID, err))
	}
	s.counter.IncFailed()

	log.Warn("order failed", zap.String("reason", note))
	return OK(order)
}

func validateEvent(ev domain.OrderEvent) error {
	if strings.TrimSpace(ev.CustomerID) == "" {
		return fmt.Errorf("%w: order %s has no customer", ErrInvalidEvent, ev.OrderID)
	}
	return nil
}
