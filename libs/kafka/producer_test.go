package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
)

type stubPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	topic string
	key   string
	value any
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	s.mu.Unlock()
	if s.err != nil {
		return 0, 0, s.err
	}
	return 0, 0, nil
}

func (s *stubPublisher) Close() error { return nil }

func TestDLQPublisherPublishesOnError(t *testing.T) {
	primary := &stubPublisher{err: errors.New("publish failed")}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "portfolio.dead_letter", slog.Default())

	_, _, err := publisher.PublishJSON(context.Background(), "portfolio.transfers", "acct-1", map[string]string{"symbol": "USDT"})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if len(dlq.calls) != 1 {
		t.Fatalf("expected dlq publish, got %d", len(dlq.calls))
	}
	if dlq.calls[0].topic != "portfolio.dead_letter" {
		t.Fatalf("expected dlq topic, got %s", dlq.calls[0].topic)
	}
	payload, ok := dlq.calls[0].value.(DLQPublishPayload)
	if !ok {
		t.Fatalf("expected DLQPublishPayload, got %T", dlq.calls[0].value)
	}
	if payload.OriginalTopic != "portfolio.transfers" || payload.Error == "" {
		t.Fatalf("unexpected dlq payload %+v", payload)
	}
}

func TestDLQPublisherSkipsOnSuccess(t *testing.T) {
	primary := &stubPublisher{}
	dlq := &stubPublisher{}
	publisher := NewDLQPublisher(primary, dlq, "portfolio.dead_letter", slog.Default())

	if _, _, err := publisher.PublishJSON(context.Background(), "portfolio.transfers", "acct-1", map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dlq.calls) != 0 {
		t.Fatalf("expected no dlq publish, got %d", len(dlq.calls))
	}
}

func TestSyncProducerPublishesJSON(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var decoded map[string]string
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		if decoded["symbol"] != "BTC" {
			return errors.New("unexpected payload")
		}
		return nil
	})

	metrics := NewProducerMetrics(prometheus.NewRegistry())
	producer := NewSyncProducerFrom(mock, slog.Default(), metrics)
	defer producer.Close()

	if _, _, err := producer.PublishJSON(context.Background(), "portfolio.conversions", "acct-1", map[string]string{"symbol": "BTC"}); err != nil {
		t.Fatalf("PublishJSON: %v", err)
	}
}

func TestSyncProducerReportsFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewSyncProducerFrom(mock, slog.Default(), nil)
	defer producer.Close()

	if _, _, err := producer.PublishJSON(context.Background(), "portfolio.conversions", "acct-1", map[string]string{}); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestSyncProducerHonoursCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	producer := NewSyncProducerFrom(mock, slog.Default(), nil)
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := producer.PublishJSON(ctx, "portfolio.conversions", "acct-1", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatalf("expected error for empty type")
	}
	env, err := NewEnvelope("portfolio.transfer.completed", 1, "req-1")
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.EventID == "" || env.Timestamp.IsZero() {
		t.Fatalf("expected populated envelope, got %+v", env)
	}
	if DeterministicEventID("a", "b") != DeterministicEventID("a", "b") {
		t.Fatalf("expected deterministic ids")
	}
}
