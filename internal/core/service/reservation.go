package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

var ErrInvalidQuantity = errors.New("reservation quantity must be positive")

// ReservationService grants stock through the store's conditional decrement.
// A granted reservation is permanent; there is no release.
type ReservationService struct {
	inventory port.InventoryRepository
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewReservationService(inventory port.InventoryRepository, logger *zap.Logger, tracer trace.Tracer) *ReservationService {
	return &ReservationService{
		inventory: inventory,
		logger:    logger,
		tracer:    tracer,
	}
}

func (s *ReservationService) Lookup(ctx context.Context, itemID uuid.UUID) (*domain.InventoryItem, error) {
	item, err := s.inventory.FindItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("lookup item %s: %w", itemID, err)
	}
	return item, nil
}

// Reserve reports whether quantity units of the item were granted. It
// returns false without error when the item is missing or short.
func (s *ReservationService) Reserve(ctx context.Context, itemID uuid.UUID, quantity int) (bool, error) {
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}

	ctx, span := s.tracer.Start(ctx, "inventory.reserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("inventory.item_id", itemID.String()),
		attribute.Int("inventory.quantity", quantity),
	)

	granted, err := s.inventory.ConditionalDecrement(ctx, itemID, quantity)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("reserve item %s: %w", itemID, err)
	}
	span.SetAttributes(attribute.Bool("inventory.granted", granted))

	s.logger.Debug("reservation attempted",
		zap.String("item_id", itemID.String()),
		zap.Int("quantity", quantity),
		zap.Bool("granted", granted),
	)
	return granted, nil
}
