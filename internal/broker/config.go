// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Package broker provides the NATS JetStream messaging layer: stream
// provisioning, a resilient publisher, durable prefetch-1 subscribers, and a
// Watermill router with poison-queue handling. An in-memory GoChannel pair
// backs tests and local mode.
package broker

import "time"

// Stream and subject layout. Inbound subjects carry events pulled from an
// upstream toward the PMS; outbound subjects carry PMS changes toward an
// upstream. The DLQ lives in its own stream so poisoned messages survive
// main-stream retention.
const (
	StreamName    = "sync"
	DLQStreamName = "sync_dlq"

	TopicInboundPrefix  = "sync.inbound."
	TopicOutboundPrefix = "sync.outbound."
	TopicInboundAll     = "sync.inbound.>"
	TopicOutboundAll    = "sync.outbound.>"

	DLQTopic = "dlq.sync"
)

// InboundTopic builds the subject for an event arriving from an upstream,
// e.g. "sync.inbound.beds24.booking.created".
func InboundTopic(source, eventType string) string {
	return TopicInboundPrefix + source + "." + eventType
}

// OutboundTopic builds the subject for a PMS change heading to upstreams,
// e.g. "sync.outbound.pms.reservation.updated".
func OutboundTopic(eventType string) string {
	return TopicOutboundPrefix + "pms." + eventType
}

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns production defaults for the embedded server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/channelsync/jetstream",
		JetStreamMaxMem:   512 << 20,
		JetStreamMaxStore: 8 << 30,
	}
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024,
		EnableTrackMsgID: true,
	}
}

// SubscriberConfig holds subscriber configuration. MaxAckPending stays at 1:
// each consumer processes one message at a time so the idempotency check in
// the worker is race-free and per-entity ordering holds within a queue.
type SubscriberConfig struct {
	URL            string
	DurableName    string
	QueueGroup     string
	AckWaitTimeout time.Duration
	MaxDeliver     int
	MaxAckPending  int
	CloseTimeout   time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
	// StreamName binds the subscriber to a pre-provisioned stream. Needed
	// for wildcard topics because stream names cannot contain wildcards.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for one queue consumer.
func DefaultSubscriberConfig(url, durable string) SubscriberConfig {
	return SubscriberConfig{
		URL:            url,
		DurableName:    durable,
		QueueGroup:     durable,
		AckWaitTimeout: 30 * time.Second,
		MaxDeliver:     4, // maxAttempts + 1
		MaxAckPending:  1, // strict per-worker serialization
		CloseTimeout:   30 * time.Second,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		StreamName:     StreamName,
	}
}

// StreamConfig defines one JetStream stream.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns the main sync stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            StreamName,
		Subjects:        []string{TopicInboundAll, TopicOutboundAll},
		MaxAge:          7 * 24 * time.Hour,
		MaxBytes:        4 << 30,
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// DefaultDLQStreamConfig returns the dead-letter stream configuration.
// Poisoned messages are kept longer than live traffic for forensics.
func DefaultDLQStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            DLQStreamName,
		Subjects:        []string{"dlq.>"},
		MaxAge:          30 * 24 * time.Hour,
		MaxBytes:        1 << 30,
		MaxMsgs:         -1,
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1,
	}
}

// RouterConfig holds configuration for the Watermill router.
type RouterConfig struct {
	CloseTimeout     time.Duration
	PoisonQueueTopic string
}

// DefaultRouterConfig returns production defaults for the router.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:     30 * time.Second,
		PoisonQueueTopic: DLQTopic,
	}
}
