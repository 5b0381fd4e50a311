package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type ConsumerOptions struct {
	// MaxAttempts bounds how often a failing message is retried before it is
	// dead-lettered. Values below 1 mean a single attempt.
	MaxAttempts int
	RetryDelay  time.Duration
	DLQ         Publisher
	DLQTopic    string
}

type Consumer struct {
	group  sarama.ConsumerGroup
	logger *slog.Logger
	opts   ConsumerOptions
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger, opts ConsumerOptions) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return NewConsumerFrom(group, logger, opts), nil
}

// NewConsumerFrom wraps an existing consumer group, e.g. a mock.
func NewConsumerFrom(group sarama.ConsumerGroup, logger *slog.Logger, opts ConsumerOptions) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{group: group, logger: logger, opts: opts}
}

// Consume blocks until ctx is cancelled, rejoining the group after rebalances
// and transient errors.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	cgHandler := newGroupHandler(handler, c.logger, c.opts)
	for {
		if err := c.group.Consume(ctx, topics, cgHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("kafka consume error", "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct {
	handler MessageHandler
	logger  *slog.Logger
	opts    ConsumerOptions
	sleep   func(context.Context, time.Duration) error
}

func newGroupHandler(handler MessageHandler, logger *slog.Logger, opts ConsumerOptions) *groupHandler {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &groupHandler{handler: handler, logger: logger, opts: opts, sleep: sleepContext}
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if !h.process(session.Context(), msg) {
			// Leave the offset unmarked so the message is redelivered after a rejoin.
			return session.Context().Err()
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// process reports whether the message is finished with, either handled or
// dead-lettered.
func (h *groupHandler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	var err error
	attempts := 0
	for attempts < h.opts.MaxAttempts {
		attempts++
		err = h.handler.HandleMessage(ctx, msg)
		if err == nil {
			return true
		}
		var dlqErr *DLQError
		if errors.As(err, &dlqErr) {
			break
		}
		h.logger.Warn("kafka message handler error", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempt", attempts, "error", err)
		if attempts < h.opts.MaxAttempts {
			if sleepErr := h.sleep(ctx, h.opts.RetryDelay); sleepErr != nil {
				return false
			}
		}
	}
	return h.deadLetter(ctx, msg, err, attempts)
}

func (h *groupHandler) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, err error, attempts int) bool {
	reason := "retries_exhausted"
	var dlqErr *DLQError
	if errors.As(err, &dlqErr) {
		reason = dlqErr.Reason
	}
	if h.opts.DLQ == nil || h.opts.DLQTopic == "" {
		h.logger.Error("dropping kafka message", "topic", msg.Topic, "offset", msg.Offset, "reason", reason, "error", err)
		return true
	}
	payload := BuildDLQPayload(msg, err, reason, attempts)
	if _, _, pubErr := h.opts.DLQ.PublishJSON(ctx, h.opts.DLQTopic, string(msg.Key), payload); pubErr != nil {
		h.logger.Error("dlq publish failed", "topic", h.opts.DLQTopic, "error", pubErr)
		return false
	}
	h.logger.Warn("kafka message dead-lettered", "topic", msg.Topic, "offset", msg.Offset, "reason", reason)
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
