package port

import (
	"context"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type InventoryRepository interface {
	// FindItem returns nil, nil when the item does not exist
	FindItem(ctx context.Context, id uuid.UUID) (*domain.InventoryItem, error)

	CreateItem(ctx context.Context, item domain.InventoryItem) error

	// ConditionalDecrement subtracts quantity in a single conditional write,
	// only if available quantity is still >= quantity. Returns false if the
	// item is missing or short.
	ConditionalDecrement(ctx context.Context, id uuid.UUID, quantity int) (bool, error)
}
