// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package supervisor

import (
	"context"

	"github.com/stayward/channelsync/internal/broker"
	"github.com/stayward/channelsync/internal/logging"
)

// RouterService adapts the Watermill router to a suture service.
type RouterService struct {
	Router *broker.Router
}

func (s *RouterService) Serve(ctx context.Context) error {
	return s.Router.Run(ctx)
}

func (s *RouterService) String() string { return "broker-router" }

// NATSService adapts the embedded NATS server to a suture service. The
// server is started by the constructor; Serve only blocks until shutdown.
type NATSService struct {
	Server *broker.EmbeddedServer
}

func (s *NATSService) Serve(ctx context.Context) error {
	<-ctx.Done()
	shutdownCtx := context.Background()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("Embedded NATS shutdown failed")
	}
	return ctx.Err()
}

func (s *NATSService) String() string { return "nats-server" }
