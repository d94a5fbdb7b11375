/**
 * @description
 * This file implements the outbox dispatcher: a long-lived goroutine that
 * drains the event_outbox table and publishes each row to RabbitMQ. Events
 * are written to the outbox inside the same transaction as the entity
 * mutation they describe, so a row here is a committed fact; the dispatcher
 * only has to move it onto the exchange at least once.
 *
 * The claim query marks rows as processing, so multiple instances can run
 * side by side; rows stuck in processing past the stale window are
 * reclaimed. Failed publishes back off exponentially per row.
 *
 * @dependencies
 * - internal/store: Outbox claim and bookkeeping queries.
 * - pkg/rabbitmq: The AMQP producer.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/kousaila502/e-social-assistance/internal/domain"
	"github.com/kousaila502/e-social-assistance/internal/metrics"
	"github.com/kousaila502/e-social-assistance/internal/store"
	"github.com/kousaila502/e-social-assistance/pkg/rabbitmq"
)

const (
	defaultOutboxBatchSize = 50
	defaultOutboxPoll      = 2 * time.Second
	defaultOutboxStale     = 2 * time.Minute
)

// OutboxDispatcher moves committed outbox rows onto the topic exchange.
type OutboxDispatcher struct {
	repo                store.Repository
	rabbitURL           string
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            *rabbitmq.EventProducer
	logger              *slog.Logger
}

// NewOutboxDispatcher builds a dispatcher over the repository. Non-positive
// tuning values fall back to defaults.
func NewOutboxDispatcher(repo store.Repository, rabbitURL string, batchSize int, pollInterval, staleProcessing time.Duration, logger *slog.Logger) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = defaultOutboxBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultOutboxPoll
	}
	if staleProcessing <= 0 {
		staleProcessing = defaultOutboxStale
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxDispatcher{
		repo:                repo,
		rabbitURL:           rabbitURL,
		batchSize:           batchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: staleProcessing,
		logger:              logger,
	}
}

// Run polls the outbox until the context is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				d.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			metrics.RecordOutboxPublish(false)
			d.logger.Warn("outbox publish failed",
				"outbox_id", message.ID,
				"routing_key", message.RoutingKey,
				"attempt", message.Attempts,
				"error", err)
			retryAfter := retryDelaySeconds(message.Attempts)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to mark outbox message failed", "outbox_id", message.ID, "error", markErr)
			}
			continue
		}
		metrics.RecordOutboxPublish(true)
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message published", "outbox_id", message.ID, "error", err)
		}
	}
	return nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := rabbitmq.NewEventProducer(d.rabbitURL, domain.WorkflowExchange)
		if err != nil {
			return err
		}
		d.producer = producer
	}

	if err := d.producer.Publish(ctx, message.Exchange, message.RoutingKey, message.Payload); err != nil {
		// Drop the connection so the next attempt redials.
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << minInt(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
