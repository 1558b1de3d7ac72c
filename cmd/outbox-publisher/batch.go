package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/contentcms/pkg/db/models"
	"github.com/angelmondragon/contentcms/pkg/enums"
	"github.com/angelmondragon/contentcms/pkg/outbox/registry"
)

// delivery is one outbox row in flight: resolved, handed to the publisher, and
// waiting for the broker acknowledgement.
type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

func (d *delivery) topic() string {
	if d.resolved == nil {
		return ""
	}
	return d.resolved.Descriptor.Topic
}

// processBatch locks a batch of unpublished rows, publishes them all before waiting on
// any acknowledgement, then records each outcome in row order. It reports whether any
// rows were claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true

		publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()

		deliveries := make([]*delivery, 0, len(events))
		for _, event := range events {
			deliveries = append(deliveries, s.dispatch(publishCtx, event))
		}
		for _, d := range deliveries {
			if err := s.settle(ctx, publishCtx, tx, d); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) *delivery {
	d := &delivery{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.err = registry.NewNonRetryableError(err)
		return d
	}
	d.resolved = resolved

	pub := s.publisherFactory(resolved.Descriptor.Topic)
	if pub == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", resolved.Descriptor.Topic))
		return d
	}
	if d.result = pub.Publish(ctx, messageFor(event, resolved)); d.result == nil {
		d.err = registry.NewNonRetryableError(fmt.Errorf("publisher returned no result for topic %s", resolved.Descriptor.Topic))
	}
	return d
}

// settle waits for the broker and records the outcome on the row inside tx.
func (s *Service) settle(ctx, publishCtx context.Context, tx *gorm.DB, d *delivery) error {
	if d.err == nil {
		_, d.err = d.result.Get(publishCtx)
	}
	fields := s.eventFields(d)

	var nonRetryable registry.NonRetryableError
	switch {
	case d.err == nil:
		if err := s.repo.MarkPublishedTx(tx, d.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", d.event.ID, err)
		}
		var lag time.Duration
		if !d.event.CreatedAt.IsZero() {
			lag = time.Since(d.event.CreatedAt)
		}
		s.metrics.IncPublished(string(d.event.EventType), lag)
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil

	case errors.As(d.err, &nonRetryable):
		return s.deadLetter(ctx, tx, d, enums.OutboxDLQReasonNonRetryable, d.err, fields)

	case d.event.AttemptCount+1 >= s.maxAttempts:
		fields["attempt_count"] = d.event.AttemptCount + 1
		return s.deadLetter(ctx, tx, d, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", d.err), fields)

	default:
		fields["attempt_count"] = d.event.AttemptCount + 1
		fields["error"] = d.err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
		if err := s.repo.MarkFailedTx(tx, d.event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", d.event.ID, err)
		}
		s.metrics.IncRetry(string(d.event.EventType))
		return nil
	}
}

// deadLetter copies the row to the dead-letter table and stops further attempts.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, d *delivery, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox event will not be retried")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       d.event.ID,
		EventType:     d.event.EventType,
		AggregateType: d.event.AggregateType,
		AggregateID:   d.event.AggregateID,
		Payload:       d.event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  d.event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", d.event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, d.event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", d.event.ID, err)
	}
	s.metrics.IncDeadLettered(string(d.event.EventType), string(reason))
	return nil
}

func (s *Service) eventFields(d *delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      d.event.ID.String(),
		"event_type":     d.event.EventType,
		"aggregate_type": d.event.AggregateType,
		"aggregate_id":   d.event.AggregateID.String(),
		"attempt_count":  d.event.AttemptCount,
	}
	if topic := d.topic(); topic != "" {
		fields["topic"] = topic
	}
	if d.resolved != nil && d.resolved.Envelope.EventID != "" {
		fields["event_id"] = d.resolved.Envelope.EventID
		fields["occurred_at"] = d.resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if d.event.LastError != nil {
		fields["last_error"] = *d.event.LastError
	}
	return fields
}
