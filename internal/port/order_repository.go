package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type OrderRepository interface {
	// FindOrder returns nil, nil when no order has the given id
	FindOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)

	// InsertOrderIfAbsent stores the order unless one with the same id exists.
	// It reports whether this call created the document.
	InsertOrderIfAbsent(ctx context.Context, order domain.Order) (bool, error)

	// ReplaceOrder overwrites the whole order document
	ReplaceOrder(ctx context.Context, order domain.Order) error
}
