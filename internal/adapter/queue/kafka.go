package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/order-fulfillment/internal/port"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// KafkaPublisher writes order events keyed by order id so redeliveries of
// one order stay on one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: newWriter(cfg)}
}

func newWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, body []byte, headers map[string]string) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: toKafkaHeaders(headers),
	}); err != nil {
		return fmt.Errorf("write to %s: %w", p.writer.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer fetches one message at a time and commits its offset when
// the delivery is settled. A requeue writes the message back to the topic
// before committing.
type KafkaConsumer struct {
	reader  *kafka.Reader
	requeue *kafka.Writer
	logger  *zap.Logger
}

func NewKafkaConsumer(cfg KafkaConfig, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		requeue: newWriter(cfg),
		logger:  logger,
	}
}

func (c *KafkaConsumer) Consume(ctx context.Context) (<-chan *port.Delivery, error) {
	out := make(chan *port.Delivery)
	go c.run(ctx, out)
	return out, nil
}

func (c *KafkaConsumer) run(ctx context.Context, out chan<- *port.Delivery) {
	defer close(out)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("context done, exiting kafka fetch loop", zap.Error(err))
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("failed to fetch from kafka", zap.Error(err))
			sleep(ctx, defaultPollTimeout)
			continue
		}

		d := c.delivery(msg)
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

func (c *KafkaConsumer) delivery(msg kafka.Message) *port.Delivery {
	commit := func(ctx context.Context) error {
		return c.reader.CommitMessages(ctx, msg)
	}
	requeue := func(ctx context.Context) error {
		if err := c.requeue.WriteMessages(ctx, kafka.Message{
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: msg.Headers,
		}); err != nil {
			return fmt.Errorf("requeue offset %d: %w", msg.Offset, err)
		}
		return commit(ctx)
	}

	id := fmt.Sprintf("%s/%d/%s", msg.Topic, msg.Partition, strconv.FormatInt(msg.Offset, 10))
	return port.NewDelivery(id, msg.Value, fromKafkaHeaders(msg.Headers), commit, requeue, nil)
}

func (c *KafkaConsumer) Close() error {
	return errors.Join(c.reader.Close(), c.requeue.Close())
}

func toKafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func fromKafkaHeaders(headers []kafka.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
