package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrMalformedEvent = errors.New("malformed order event")

// OrderEvent is the inbound order-creation message. Delivery is at-least-once
// and may repeat with the same OrderID.
type OrderEvent struct {
	OrderID    uuid.UUID   `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Items      []EventItem `json:"items"`
	PromoCode  *string     `json:"promoCode"`
}

type EventItem struct {
	InventoryItemID uuid.UUID `json:"inventoryItemId"`
	Quantity        int       `json:"quantity"`
}

func (e OrderEvent) Promo() string {
	if e.PromoCode == nil {
		return ""
	}
	return *e.PromoCode
}

// DecodeOrderEvent parses a queue payload. Bodies that are not JSON objects,
// or that carry no order id, are reported as ErrMalformedEvent.
func DecodeOrderEvent(body []byte) (OrderEvent, error) {
	var ev *OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return OrderEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev == nil {
		return OrderEvent{}, fmt.Errorf("%w: null payload", ErrMalformedEvent)
	}
	if ev.OrderID == uuid.Nil {
		return OrderEvent{}, fmt.Errorf("%w: missing orderId", ErrMalformedEvent)
	}
	return *ev, nil
}

func EncodeOrderEvent(ev OrderEvent) ([]byte, error) {
	return json.Marshal(ev)
}
