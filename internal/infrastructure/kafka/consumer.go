package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	DefaultHandlerAttempts uint = 5
	DefaultHandlerInterval      = 200 * time.Millisecond
)

type MessageHandler func(ctx context.Context, key, value []byte) error

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages one at a time and commits each offset only after
// the handler has finished with it.
type Consumer struct {
	reader   Reader
	logger   *zap.Logger
	attempts uint
	interval time.Duration
}

type ConsumerOption func(*Consumer)

func WithConsumerLogger(l *zap.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHandlerRetry sets how often a failing handler is retried before the
// message is skipped.
func WithHandlerRetry(attempts uint, interval time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if interval > 0 {
			c.interval = interval
		}
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerFromReader(reader, opts...)
}

func NewConsumerFromReader(reader Reader, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:   reader,
		logger:   zap.NewNop(),
		attempts: DefaultHandlerAttempts,
		interval: DefaultHandlerInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "kafka-consumer"))
	return c
}

// Consume blocks until ctx is done. A message whose handler keeps failing is
// logged and committed so the partition is not blocked.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.Warn("error reading message", zap.Error(err))
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("giving up on message",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.ByteString("key", msg.Key),
				zap.Error(err),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("failed to commit offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, handler(ctx, msg.Key, msg.Value)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("handler failed, retrying",
				zap.Int64("offset", msg.Offset),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
	return err
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
