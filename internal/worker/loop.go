package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/core/service"
	"github.com/rl1809/order-fulfillment/internal/port"
)

type Processor interface {
	Process(ctx context.Context, ev domain.OrderEvent) service.Result
}

// Recorder counts deliveries that never produce an order outcome.
type Recorder interface {
	IncMalformed()
	IncRequeued()
}

type Option func(*Loop)

// WithRetryBackoff delays a requeue so a failing store is not hammered.
func WithRetryBackoff(d time.Duration) Option {
	return func(l *Loop) {
		l.retryBackoff = d
	}
}

func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(l *Loop) {
		l.propagator = p
	}
}

// Loop receives order events one at a time and settles each delivery
// according to the processing result.
type Loop struct {
	consumer     port.Consumer
	processor    Processor
	recorder     Recorder
	logger       *zap.Logger
	retryBackoff time.Duration
	propagator   propagation.TextMapPropagator
}

func NewLoop(consumer port.Consumer, processor Processor, recorder Recorder, logger *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		consumer:   consumer,
		processor:  processor,
		recorder:   recorder,
		logger:     logger,
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run blocks until ctx is cancelled or the consumer stops delivering.
func (l *Loop) Run(ctx context.Context) error {
	deliveries, err := l.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	l.logger.Info("worker started, waiting for order events")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("worker stopping", zap.Error(ctx.Err()))
			return nil
		case d, ok := <-deliveries:
			if !ok {
				l.logger.Info("delivery channel closed, worker stopping")
				return nil
			}
			l.handle(ctx, d)
		}
	}
}

func (l *Loop) handle(ctx context.Context, d *port.Delivery) {
	log := l.logger.With(zap.String("delivery_id", d.ID))

	ev, err := domain.DecodeOrderEvent(d.Body)
	if err != nil {
		log.Warn("dropping malformed order event", zap.Error(err), zap.Int("bytes", len(d.Body)))
		l.recorder.IncMalformed()
		l.settle(ctx, log, "ack", d.Ack)
		return
	}
	log = log.With(zap.String("order_id", ev.OrderID.String()))

	ctx = l.propagator.Extract(ctx, propagation.MapCarrier(d.Headers))
	res := l.process(ctx, ev)

	if ctx.Err() != nil {
		log.Warn("shutdown during processing, leaving delivery unsettled")
		return
	}

	switch res.Kind {
	case service.ResultOK:
		l.settle(ctx, log, "ack", d.Ack)
	case service.ResultTerminalFault:
		log.Error("order event cannot be processed, dropping", zap.Error(res.Err))
		l.settle(ctx, log, "ack", d.Ack)
	case service.ResultRetryableFault:
		log.Error("order processing failed, requeueing", zap.Error(res.Err))
		if !l.wait(ctx, l.retryBackoff) {
			log.Warn("shutdown during retry backoff, leaving delivery unsettled")
			return
		}
		l.recorder.IncRequeued()
		l.settle(ctx, log, "nack", func(ctx context.Context) error {
			return d.Nack(ctx, true)
		})
	}
}

// process converts a panic in the processor into a retryable fault.
func (l *Loop) process(ctx context.Context, ev domain.OrderEvent) (res service.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = service.RetryableFault(fmt.Errorf("panic processing order %s: %v", ev.OrderID, r))
		}
	}()
	return l.processor.Process(ctx, ev)
}

func (l *Loop) settle(ctx context.Context, log *zap.Logger, op string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && !errors.Is(err, port.ErrAlreadySettled) {
		log.Error("failed to settle delivery", zap.String("op", op), zap.Error(err))
	}
}

func (l *Loop) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
