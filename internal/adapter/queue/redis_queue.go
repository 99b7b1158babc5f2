package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/order-fulfillment/internal/port"
)

const (
	defaultPollTimeout = time.Second
	defaultLeaseTTL    = 15 * time.Second
)

// envelope is the list entry format. Entries that are not envelopes are
// delivered with the raw entry as body.
type envelope struct {
	ID      string            `json:"id"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body"`
}

func queueKey(name string) string     { return "queue:" + name }
func consumersKey(name string) string { return "queue:" + name + ":consumers" }

func processingKey(name, consumerID string) string {
	return "queue:" + name + ":processing:" + consumerID
}

func leaseKey(name, consumerID string) string {
	return "queue:" + name + ":lease:" + consumerID
}

// RedisPublisher pushes messages onto a Redis list.
type RedisPublisher struct {
	client *redis.Client
	name   string
}

func NewRedisPublisher(client *redis.Client, name string) *RedisPublisher {
	return &RedisPublisher{client: client, name: name}
}

func (p *RedisPublisher) Publish(ctx context.Context, key string, body []byte, headers map[string]string) error {
	id := key
	if id == "" {
		id = uuid.NewString()
	}
	data, err := json.Marshal(envelope{ID: id, Headers: headers, Body: body})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.client.LPush(ctx, queueKey(p.name), data).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", p.name, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisConsumer pops from the right end of the list into its own processing
// list and removes the entry once the delivery is settled. Each consumer
// keeps a lease alive while it runs; the processing list of a consumer whose
// lease expired is moved back onto the queue by any live consumer.
type RedisConsumer struct {
	client      *redis.Client
	name        string
	id          string
	logger      *zap.Logger
	pollTimeout time.Duration
	leaseTTL    time.Duration
}

func NewRedisConsumer(client *redis.Client, name string, logger *zap.Logger) *RedisConsumer {
	id := uuid.NewString()
	return &RedisConsumer{
		client:      client,
		name:        name,
		id:          id,
		logger:      logger.With(zap.String("queue", name), zap.String("consumer_id", id)),
		pollTimeout: defaultPollTimeout,
		leaseTTL:    defaultLeaseTTL,
	}
}

func (c *RedisConsumer) processing() string { return processingKey(c.name, c.id) }

func (c *RedisConsumer) Consume(ctx context.Context) (<-chan *port.Delivery, error) {
	if err := c.renewLease(ctx); err != nil {
		return nil, err
	}
	if _, err := c.reapExpired(ctx); err != nil {
		return nil, err
	}

	out := make(chan *port.Delivery)
	go c.heartbeat(ctx)
	go c.run(ctx, out)
	return out, nil
}

func (c *RedisConsumer) run(ctx context.Context, out chan<- *port.Delivery) {
	defer close(out)

	for ctx.Err() == nil {
		raw, err := c.client.BLMove(ctx, queueKey(c.name), c.processing(), "RIGHT", "LEFT", c.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to pop from queue", zap.Error(err))
			sleep(ctx, c.pollTimeout)
			continue
		}

		d := c.delivery(raw)
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
		select {
		case <-d.Settled():
		case <-ctx.Done():
			return
		}
	}
}

// heartbeat keeps the lease alive and reaps consumers that stopped renewing.
func (c *RedisConsumer) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.renewLease(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to renew consumer lease", zap.Error(err))
			}
			if _, err := c.reapExpired(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to reap expired consumers", zap.Error(err))
			}
		}
	}
}

func (c *RedisConsumer) renewLease(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, consumersKey(c.name), c.id)
		pipe.Set(ctx, leaseKey(c.name, c.id), time.Now().UTC().Format(time.RFC3339), c.leaseTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("renew consumer lease: %w", err)
	}
	return nil
}

// reapExpired moves the in-flight entries of consumers without a live lease
// back to the front of the queue.
func (c *RedisConsumer) reapExpired(ctx context.Context) (int, error) {
	ids, err := c.client.SMembers(ctx, consumersKey(c.name)).Result()
	if err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}

	total := 0
	for _, id := range ids {
		if id == c.id {
			continue
		}
		alive, err := c.client.Exists(ctx, leaseKey(c.name, id)).Result()
		if err != nil {
			return total, fmt.Errorf("check lease of %s: %w", id, err)
		}
		if alive > 0 {
			continue
		}

		n, err := c.drain(ctx, processingKey(c.name, id))
		total += n
		if err != nil {
			return total, err
		}
		if err := c.client.SRem(ctx, consumersKey(c.name), id).Err(); err != nil {
			return total, fmt.Errorf("forget consumer %s: %w", id, err)
		}
		if n > 0 {
			c.logger.Warn("requeued in-flight messages of expired consumer",
				zap.String("expired_consumer_id", id), zap.Int("count", n))
		}
	}
	return total, nil
}

func (c *RedisConsumer) drain(ctx context.Context, key string) (int, error) {
	n := 0
	for {
		err := c.client.LMove(ctx, key, queueKey(c.name), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover in-flight messages: %w", err)
		}
		n++
	}
}

func (c *RedisConsumer) delivery(raw string) *port.Delivery {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.ID == "" {
		env = envelope{ID: uuid.NewString(), Body: []byte(raw)}
	}

	ack := func(ctx context.Context) error {
		return c.client.LRem(ctx, c.processing(), 1, raw).Err()
	}
	requeue := func(ctx context.Context) error {
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, c.processing(), 1, raw)
			pipe.RPush(ctx, queueKey(c.name), raw)
			return nil
		})
		return err
	}
	return port.NewDelivery(env.ID, env.Body, env.Headers, ack, requeue, nil)
}

// Depth reports the number of waiting entries and of entries in flight on
// this consumer.
func (c *RedisConsumer) Depth(ctx context.Context) (waiting, inFlight int64, err error) {
	waiting, err = c.client.LLen(ctx, queueKey(c.name)).Result()
	if err != nil {
		return 0, 0, err
	}
	inFlight, err = c.client.LLen(ctx, c.processing()).Result()
	if err != nil {
		return 0, 0, err
	}
	return waiting, inFlight, nil
}

// Close drops the lease so a live consumer requeues anything this one left
// unsettled, then closes the connection.
func (c *RedisConsumer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.client.Del(ctx, leaseKey(c.name, c.id)).Err()
	if err != nil {
		err = fmt.Errorf("release consumer lease: %w", err)
	}
	return errors.Join(err, c.client.Close())
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
