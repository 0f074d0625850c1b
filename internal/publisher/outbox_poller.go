package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_cart/order-intake/internal/metrics"
	"github.com/fjod/go_cart/order-intake/internal/repository"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the poller needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers   []string
	Topic     string
	Interval  time.Duration
	BatchSize int
}

// OutboxPoller moves committed outbox events to Kafka. Delivery is at least
// once: an event is marked processed only after the broker accepted it.
type OutboxPoller struct {
	eventTick time.Duration
	batchSize int
	repo      repository.OutboxRepository
	writer    MessageWriter
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewOutboxPoller(repo repository.OutboxRepository, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
	return newOutboxPoller(repo, w, cfg, m, logger)
}

func newOutboxPoller(repo repository.OutboxRepository, w MessageWriter, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *OutboxPoller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &OutboxPoller{
		eventTick: cfg.Interval,
		batchSize: cfg.BatchSize,
		repo:      repo,
		writer:    w,
		metrics:   m,
		logger:    logger.With().Str("component", "outbox_poller").Logger(),
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to fetch outbox events")
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.metrics.Outbox("publish_failed")
			p.logger.Error().Err(err).Int64("event_id", event.ID).Msg("failed to publish event")
			// keep order per customer: stop and retry this event next tick
			return
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.metrics.Outbox("mark_failed")
			p.logger.Error().Err(err).Int64("event_id", event.ID).Msg("failed to mark event as processed")
			return
		}
		p.metrics.Outbox("published")
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // customer, keeps a customer's events on one partition
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}

	return p.writer.WriteMessages(ctx, msg)
}
