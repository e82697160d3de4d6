// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package broker

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/stayward/channelsync/internal/metrics"
)

// Router wraps the Watermill router with panic recovery and poison-queue
// routing. Retry is deliberately NOT middleware here: the worker drives
// retries through the event store's attempt counter so redelivery survives
// restarts, and only errors the poison filter marks permanent are shipped
// to the DLQ.
type Router struct {
	router *message.Router
	config RouterConfig
	logger watermill.LoggerAdapter
}

// NewRouter creates a router. poisonPub receives messages whose handler
// error passes poisonFilter; everything else is nacked for redelivery.
func NewRouter(cfg RouterConfig, poisonPub message.Publisher, poisonFilter func(error) bool, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)

	if poisonPub != nil {
		poison, err := middleware.PoisonQueueWithFilter(poisonPub, cfg.PoisonQueueTopic, func(err error) bool {
			if poisonFilter != nil && poisonFilter(err) {
				metrics.DLQMessages.WithLabelValues(cfg.PoisonQueueTopic, "permanent").Inc()
				return true
			}
			return false
		})
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		router.AddMiddleware(poison)
	}

	return &Router{router: router, config: cfg, logger: logger}, nil
}

// AddConsumer registers a no-publish handler consuming one topic.
func (r *Router) AddConsumer(name, topic string, sub message.Subscriber, fn message.NoPublishHandlerFunc) {
	r.router.AddNoPublisherHandler(name, topic, sub, fn)
}

// Run starts the router and blocks until the context is canceled.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel closed once the router is running.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close gracefully stops the router.
func (r *Router) Close() error {
	return r.router.Close()
}
