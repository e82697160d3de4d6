// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/stayward/channelsync/internal/broker"
	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/models"
)

// EventPublisher publishes typed sync events to the broker with routing
// keys of the form "<source>.<eventType>".
type EventPublisher struct {
	pub broker.Publisher
}

func NewEventPublisher(pub broker.Publisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

// PublishInbound publishes an event arriving from an upstream. priority
// runs 0-10; elevated values are used by admin-triggered retries.
func (p *EventPublisher) PublishInbound(ctx context.Context, em *models.EventMessage, priority int) error {
	return p.publish(ctx, broker.InboundTopic(em.Source, em.EventType), em, priority)
}

// PublishOutbound publishes a PMS change heading to upstreams.
func (p *EventPublisher) PublishOutbound(ctx context.Context, em *models.EventMessage, priority int) error {
	return p.publish(ctx, broker.OutboundTopic(em.EventType), em, priority)
}

// PublishAfterCommit publishes an outbound event after a local write has
// committed. Fire and forget: the write must not fail because the broker
// hiccuped, so errors are logged and swallowed. The periodic pusher sweeps
// up anything lost here.
func (p *EventPublisher) PublishAfterCommit(ctx context.Context, em *models.EventMessage, priority int) {
	if err := p.PublishOutbound(ctx, em, priority); err != nil {
		logging.Error().
			Err(err).
			Str("event_type", em.EventType).
			Str("idempotency_key", em.IdempotencyKey).
			Msg("Post-commit publish failed, pusher will recover")
	}
}

func (p *EventPublisher) publish(ctx context.Context, topic string, em *models.EventMessage, priority int) error {
	if em.IdempotencyKey == "" {
		return fmt.Errorf("publish %s: empty idempotency key", topic)
	}
	if em.OccurredAt.IsZero() {
		em.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(em)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.New().String(), body)
	msg.Metadata.Set(models.MetaRetryCount, "0")
	if priority > 0 {
		if priority > 10 {
			priority = 10
		}
		msg.Metadata.Set(models.MetaPriority, strconv.Itoa(priority))
	}

	if err := p.pub.Publish(ctx, topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// IdempotencyKey derives the stable key for one upstream event occurrence.
// The same (source, eventType, entityID, occurrence) always yields the same
// key, collapsing webhook replays and poll overlaps.
func IdempotencyKey(source, eventType, entityID string, occurredAt time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", source, eventType, entityID, occurredAt.UTC().Unix())
}
