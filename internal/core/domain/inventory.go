package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InventoryItem struct {
	ID                uuid.UUID       `json:"id"`
	Name              string          `json:"name"`
	AvailableQuantity int             `json:"availableQuantity"` // never negative
	UnitPrice         decimal.Decimal `json:"unitPrice"`
}
