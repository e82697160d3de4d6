// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package worker consumes broker messages and drives them through the
// durable event store's status machine. Delivery is at-least-once; the
// idempotency key collapses redeliveries, giving effective exactly-once
// application.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/metrics"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/store"
)

// PermanentError marks a failure that must not be retried: the message goes
// straight to the DLQ. Malformed payloads and exhausted retry budgets
// produce permanent errors.
type PermanentError struct {
	Reason string
	Cause  error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Reason + ": " + e.Cause.Error()
	}
	return e.Reason
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// Permanent wraps an error as non-retryable.
func Permanent(reason string, cause error) *PermanentError {
	return &PermanentError{Reason: reason, Cause: cause}
}

// IsPermanent reports whether an error should route to the DLQ instead of
// being redelivered. Wired into the router's poison filter.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Handler processes one sync event. A nil return marks the event done; a
// permanent error sends the message to the DLQ; any other error requeues.
type Handler func(ctx context.Context, ev *models.SyncEvent, em *models.EventMessage) error

// Consumer is a generic queue consumer binding broker deliveries to the
// event store. One Consumer instance serves one queue with prefetch 1, so
// the idempotency lookup and status transitions never race.
type Consumer struct {
	queue       string
	direction   models.Direction
	events      *store.EventStore
	handlers    map[string]Handler
	maxAttempts int
}

// NewConsumer creates a consumer for one queue. handlers is keyed by event
// type ("booking.created", "reservation.updated", ...).
func NewConsumer(queue string, direction models.Direction, events *store.EventStore, handlers map[string]Handler, maxAttempts int) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{
		queue:       queue,
		direction:   direction,
		events:      events,
		handlers:    handlers,
		maxAttempts: maxAttempts,
	}
}

// HandleMessage is the router entry point for one delivery.
func (c *Consumer) HandleMessage(msg *message.Message) error {
	ctx := msg.Context()

	var em models.EventMessage
	if err := json.Unmarshal(msg.Payload, &em); err != nil {
		metrics.DLQMessages.WithLabelValues(c.queue, "malformed").Inc()
		logging.Error().
			Err(err).
			Str("queue", c.queue).
			Str("message_uuid", msg.UUID).
			Msg("Malformed message payload, rejecting to DLQ")
		return Permanent("malformed payload", err)
	}
	if em.IdempotencyKey == "" {
		metrics.DLQMessages.WithLabelValues(c.queue, "malformed").Inc()
		return Permanent("message has no idempotency key", nil)
	}

	ev, err := c.loadOrInsert(ctx, &em)
	if err != nil {
		return err
	}

	switch ev.Status {
	case models.EventStatusDone:
		metrics.DuplicateDeliveries.Inc()
		logging.Debug().
			Str("queue", c.queue).
			Str("idempotency_key", em.IdempotencyKey).
			Msg("Duplicate delivery for completed event, skipping")
		return nil
	case models.EventStatusFailed:
		// Terminal: admin retry resets the event before republishing.
		logging.Warn().
			Str("queue", c.queue).
			Str("event_id", ev.ID).
			Msg("Delivery for terminally failed event, skipping")
		return nil
	}

	if _, err := c.events.MarkProcessing(ctx, ev.ID); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			// Another delivery won the race; let this one retry later.
			return fmt.Errorf("event %s not in receivable state: %w", ev.ID, err)
		}
		return err
	}

	handler, ok := c.handlers[em.EventType]
	if !ok {
		if _, err := c.events.MarkFailed(ctx, ev.ID, "no handler for event type "+em.EventType); err != nil {
			return err
		}
		metrics.DLQMessages.WithLabelValues(c.queue, "malformed").Inc()
		return Permanent("no handler for event type "+em.EventType, nil)
	}

	if err := handler(ctx, ev, &em); err != nil {
		return c.failed(ctx, ev, err)
	}
	return c.done(ctx, ev)
}

func (c *Consumer) loadOrInsert(ctx context.Context, em *models.EventMessage) (*models.SyncEvent, error) {
	ev, err := c.events.GetByIdempotencyKey(ctx, em.IdempotencyKey)
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ev = &models.SyncEvent{
		Direction:        c.direction,
		Source:           em.Source,
		EventType:        em.EventType,
		EntityType:       em.EntityType,
		EntityExternalID: em.EntityID,
		IdempotencyKey:   em.IdempotencyKey,
		Payload:          em.Data,
		MaxAttempts:      c.maxAttempts,
	}
	if c.direction == models.DirectionOutbound {
		ev.EntityExternalID = ""
		ev.EntityInternalID = em.EntityID
	}
	if err := c.events.Insert(ctx, ev); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			return c.events.GetByIdempotencyKey(ctx, em.IdempotencyKey)
		}
		return nil, err
	}
	return ev, nil
}

// done marks the event completed. A handler may have already marked it done
// inside its own transaction; that is not an error.
func (c *Consumer) done(ctx context.Context, ev *models.SyncEvent) error {
	_, err := c.events.MarkDone(ctx, ev.ID)
	if errors.Is(err, store.ErrInvalidTransition) {
		current, getErr := c.events.GetByID(ctx, ev.ID)
		if getErr == nil && current.Status == models.EventStatusDone {
			err = nil
		}
	}
	if err != nil {
		return err
	}
	metrics.SyncEvents.WithLabelValues(string(c.direction), string(models.EventStatusDone)).Inc()
	return nil
}

func (c *Consumer) failed(ctx context.Context, ev *models.SyncEvent, handlerErr error) error {
	if IsPermanent(handlerErr) {
		if _, err := c.events.MarkFailed(ctx, ev.ID, handlerErr.Error()); err != nil {
			return err
		}
		metrics.SyncEvents.WithLabelValues(string(c.direction), string(models.EventStatusFailed)).Inc()
		metrics.DLQMessages.WithLabelValues(c.queue, "permanent").Inc()
		return handlerErr
	}

	updated, err := c.events.RecordFailure(ctx, ev.ID, handlerErr.Error())
	if err != nil {
		return err
	}

	if updated.Status == models.EventStatusFailed {
		metrics.SyncEvents.WithLabelValues(string(c.direction), string(models.EventStatusFailed)).Inc()
		metrics.DLQMessages.WithLabelValues(c.queue, "exhausted").Inc()
		logging.Error().
			Err(handlerErr).
			Str("queue", c.queue).
			Str("event_id", updated.ID).
			Int("attempts", updated.Attempts).
			Msg("Event exhausted retry budget, rejecting to DLQ")
		return Permanent(fmt.Sprintf("retry budget exhausted after %d attempts", updated.Attempts), handlerErr)
	}

	metrics.EventRetries.WithLabelValues(c.queue).Inc()
	logging.Warn().
		Err(handlerErr).
		Str("queue", c.queue).
		Str("event_id", updated.ID).
		Int("attempts", updated.Attempts).
		Int("max_attempts", updated.MaxAttempts).
		Msg("Handler failed, requeueing for retry")
	return handlerErr
}
