package port

import (
	"context"
	"errors"
	"sync"
)

var ErrAlreadySettled = errors.New("delivery already settled")

// Consumer hands out deliveries one at a time. Implementations must not fetch
// the next message before the previous delivery was acked or nacked.
type Consumer interface {
	Consume(ctx context.Context) (<-chan *Delivery, error)
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, key string, body []byte, headers map[string]string) error
	Close() error
}

type SettleFunc func(ctx context.Context) error

// Delivery is a single message received from a queue. Exactly one of Ack or
// Nack takes effect.
type Delivery struct {
	ID      string
	Body    []byte
	Headers map[string]string

	ack     SettleFunc
	requeue SettleFunc
	drop    SettleFunc

	once    sync.Once
	settled chan struct{}
}

// NewDelivery builds a delivery. requeue puts the message back for another
// attempt; drop discards it. A nil drop falls back to ack.
func NewDelivery(id string, body []byte, headers map[string]string, ack, requeue, drop SettleFunc) *Delivery {
	if drop == nil {
		drop = ack
	}
	return &Delivery{
		ID:      id,
		Body:    body,
		Headers: headers,
		ack:     ack,
		requeue: requeue,
		drop:    drop,
		settled: make(chan struct{}),
	}
}

func (d *Delivery) Ack(ctx context.Context) error {
	return d.settle(ctx, d.ack)
}

func (d *Delivery) Nack(ctx context.Context, requeue bool) error {
	if requeue {
		return d.settle(ctx, d.requeue)
	}
	return d.settle(ctx, d.drop)
}

// Settled is closed once Ack or Nack has been called.
func (d *Delivery) Settled() <-chan struct{} {
	return d.settled
}

func (d *Delivery) settle(ctx context.Context, fn SettleFunc) error {
	err := ErrAlreadySettled
	d.once.Do(func() {
		defer close(d.settled)
		err = fn(ctx)
	})
	return err
}
