// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package broker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Memory is a GoChannel-backed broker satisfying the same Publisher and
// Subscriber interfaces as the NATS implementation. Used by tests and by
// local mode when no broker is configured. Not durable.
type Memory struct {
	pubsub *gochannel.GoChannel
}

// NewMemory creates an in-process broker.
func NewMemory(logger watermill.LoggerAdapter) *Memory {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	return &Memory{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
			Persistent:          false,
		}, logger),
	}
}

var (
	_ Publisher  = (*Memory)(nil)
	_ Subscriber = (*Memory)(nil)
)

func (m *Memory) Publish(ctx context.Context, topic string, msg *message.Message) error {
	return m.pubsub.Publish(topic, msg)
}

func (m *Memory) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return m.pubsub.Subscribe(ctx, topic)
}

// WatermillPublisher exposes the native publisher for the router.
func (m *Memory) WatermillPublisher() message.Publisher {
	return m.pubsub
}

// WatermillSubscriber exposes the native subscriber for the router.
func (m *Memory) WatermillSubscriber() message.Subscriber {
	return m.pubsub
}

func (m *Memory) Close() error {
	return m.pubsub.Close()
}
