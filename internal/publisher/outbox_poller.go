// Package publisher drains the outbox to Kafka.
package publisher

import (
	"context"
	"time"

	"github.com/fjod/fulfillment/internal/metrics"
	"github.com/fjod/fulfillment/internal/outbox"
	"github.com/fjod/fulfillment/pkg/circuitbreaker"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const batchSize = 100

// MessageWriter is the part of *kafka.Writer the poller needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Interval time.Duration
	// Timeout bounds a single write to the broker.
	Timeout time.Duration
}

type OutboxPoller struct {
	interval time.Duration
	timeout  time.Duration
	source   outbox.Source
	writer   MessageWriter
	breaker  *circuitbreaker.Breaker[struct{}]
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
}

func NewOutboxPoller(source outbox.Source, writer MessageWriter, cfg Config, logger *zap.Logger, m *metrics.Metrics) *OutboxPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &OutboxPoller{
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		source:   source,
		writer:   writer,
		breaker:  circuitbreaker.New[struct{}](circuitbreaker.DefaultConfig("kafka-outbox"), logger),
		logger:   logger,
		metrics:  m,
	}
}

// Run polls until ctx is cancelled, then closes the writer.
func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.logger.Warn("failed to close kafka writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublishedEvents stops at the first failed publish so events of one
// order never overtake each other.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.source.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.logger.Error("failed to fetch outbox events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Warn("failed to publish outbox event",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			break
		}

		if err := p.source.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("failed to mark outbox event as processed",
				zap.String("event_id", event.ID), zap.Error(err))
			break
		}
		sent++
	}
	p.metrics.Published(sent)
	return sent
}

func (p *OutboxPoller) publish(ctx context.Context, event outbox.Event) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.CreatedAt,
	}

	_, err := p.breaker.Execute(func() (struct{}, error) {
		wctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return struct{}{}, p.writer.WriteMessages(wctx, msg)
	})
	return err
}
