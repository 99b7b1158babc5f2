package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusProcessed OrderStatus = "Processed"
	OrderStatusFailed    OrderStatus = "Failed"
)

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusProcessed || s == OrderStatusFailed
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessed, OrderStatusFailed:
		return true
	}
	return false
}

// Order is the persisted order document. ID equals the event's order id and
// is the idempotency key.
type Order struct {
	ID              uuid.UUID       `json:"id"`
	CustomerID      string          `json:"customerId"`
	Items           []OrderLine     `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"createdAtUtc"`
	ProcessedAt     *time.Time      `json:"processedAtUtc,omitempty"`
	AppliedDiscount decimal.Decimal `json:"appliedDiscount"`
	Notes           string          `json:"notes,omitempty"`
}

// OrderLine is a reserved line item. UnitPrice is the price captured at
// reservation time.
type OrderLine struct {
	InventoryItemID uuid.UUID       `json:"inventoryItemId"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
}

func (l OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func NewPendingOrder(id uuid.UUID, customerID string, now time.Time) Order {
	return Order{
		ID:              id,
		CustomerID:      customerID,
		Items:           []OrderLine{},
		TotalAmount:     decimal.Zero,
		AppliedDiscount: decimal.Zero,
		Status:          OrderStatusPending,
		CreatedAt:       now.UTC(),
	}
}

// Clone returns a copy that shares no mutable state with o.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderLine(nil), o.Items...)
	if c.Items == nil {
		c.Items = []OrderLine{}
	}
	if o.ProcessedAt != nil {
		t := *o.ProcessedAt
		c.ProcessedAt = &t
	}
	return c
}
