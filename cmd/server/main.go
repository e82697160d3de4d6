// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

// Command server runs the channel manager synchronization engine: the
// embedded NATS JetStream broker, the event workers, the periodic sync
// manager, and the admin API, all under one supervision tree.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sony/gobreaker/v2"

	"github.com/stayward/channelsync/internal/api"
	"github.com/stayward/channelsync/internal/broker"
	"github.com/stayward/channelsync/internal/channel"
	"github.com/stayward/channelsync/internal/config"
	"github.com/stayward/channelsync/internal/conflict"
	"github.com/stayward/channelsync/internal/logging"
	"github.com/stayward/channelsync/internal/match"
	"github.com/stayward/channelsync/internal/models"
	"github.com/stayward/channelsync/internal/pms"
	"github.com/stayward/channelsync/internal/store"
	"github.com/stayward/channelsync/internal/supervisor"
	syncengine "github.com/stayward/channelsync/internal/sync"
	"github.com/stayward/channelsync/internal/worker"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("Engine failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Starting channelsync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable store.
	var st *store.Store
	if cfg.Store.InMemory {
		st, err = store.OpenInMemory()
	} else {
		st, err = store.Open(cfg.Store.Path)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())

	// Broker: embedded server (optional), streams, publisher, router.
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		serverCfg := broker.DefaultServerConfig()
		serverCfg.StoreDir = cfg.NATS.StoreDir
		serverCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		serverCfg.JetStreamMaxStore = cfg.NATS.MaxStore
		natsServer, err := broker.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		natsURL = natsServer.ClientURL()
		tree.AddBrokerService(&supervisor.NATSService{Server: natsServer})
	}

	nc, err := nats.Connect(natsURL, nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	streamCfg := broker.DefaultStreamConfig()
	streamCfg.MaxAge = time.Duration(cfg.NATS.RetentionDays) * 24 * time.Hour
	initializer, err := broker.NewStreamInitializer(js, streamCfg, broker.DefaultDLQStreamConfig())
	if err != nil {
		return err
	}
	if err := initializer.EnsureStreams(ctx); err != nil {
		return fmt.Errorf("provision streams: %w", err)
	}

	wmLogger := logging.NewWatermillAdapter()

	publisher, err := broker.NewNATSPublisher(broker.DefaultPublisherConfig(natsURL), wmLogger)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer publisher.Close()
	publisher.SetCircuitBreaker(gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:    "broker-publish",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.NATS.BreakerFailures
		},
	}))

	router, err := broker.NewRouter(broker.DefaultRouterConfig(), publisher.WatermillPublisher(), worker.IsPermanent, wmLogger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}

	eventPublisher := worker.NewEventPublisher(publisher)
	memoryPMS := pms.NewMemory()
	matcher := match.NewMatcher(memoryPMS, st.Mappings(), match.DefaultConfig())
	engine := conflict.NewEngine(st, conflictConfig(cfg))

	// Upstream integrations.
	registry := channel.NewRegistry()
	if cfg.Beds24.Enabled {
		beds24 := channel.NewBeds24Client(channel.Beds24Config{
			Client: channel.Config{
				Name:             "beds24",
				BaseURL:          cfg.Beds24.BaseURL,
				Timeout:          cfg.Beds24.Timeout,
				RateLimitPerSec:  float64(cfg.Beds24.RequestsPerMinute) / 60,
				RateBurst:        cfg.Beds24.RequestsPerMinute / 10,
				FailureThreshold: cfg.Beds24.BreakerFailures,
			},
			RefreshToken: cfg.Beds24.RefreshToken,
		})
		if err := registry.Register(beds24); err != nil {
			return err
		}
	}

	// One inbound and one outbound worker set per upstream.
	var targets []*syncengine.Target
	for _, name := range registry.Names() {
		upstream, err := registry.Get(name)
		if err != nil {
			return err
		}

		inbound := worker.NewConsumer(
			name+"-inbound", models.DirectionInbound, st.Events(),
			worker.NewInboundHandlers(worker.InboundDeps{
				Upstream:  name,
				Store:     st,
				PMS:       memoryPMS,
				Matcher:   matcher,
				Conflicts: engine,
			}),
			cfg.Worker.MaxAttempts,
		)
		inSub, err := broker.NewNATSSubscriber(
			subscriberConfig(cfg, natsURL, cfg.NATS.DurablePrefix+"_"+name+"_inbound"), wmLogger)
		if err != nil {
			return fmt.Errorf("create inbound subscriber for %s: %w", name, err)
		}
		router.AddConsumer(name+"-inbound", broker.TopicInboundAll, inSub.WatermillSubscriber(), inbound.HandleMessage)

		outbound := worker.NewConsumer(
			name+"-outbound", models.DirectionOutbound, st.Events(),
			worker.NewOutboundHandlers(worker.OutboundDeps{
				Upstream: upstream,
				Store:    st,
				PMS:      memoryPMS,
			}),
			cfg.Worker.MaxAttempts,
		)
		outSub, err := broker.NewNATSSubscriber(
			subscriberConfig(cfg, natsURL, cfg.NATS.DurablePrefix+"_"+name+"_outbound"), wmLogger)
		if err != nil {
			return fmt.Errorf("create outbound subscriber for %s: %w", name, err)
		}
		router.AddConsumer(name+"-outbound", broker.TopicOutboundAll, outSub.WatermillSubscriber(), outbound.HandleMessage)

		targets = append(targets, &syncengine.Target{
			Name:         name,
			Orchestrator: syncengine.NewOrchestrator(upstream, st, memoryPMS, matcher, eventPublisher),
			Pusher:       syncengine.NewPusher(name, st, memoryPMS, eventPublisher),
		})
	}

	tree.AddBrokerService(&supervisor.RouterService{Router: router})

	manager := syncengine.NewManager(targets, cfg.Sync.Interval, cfg.Sync.PushInterval)
	if len(targets) > 0 {
		tree.AddSyncService(manager)
	} else {
		logging.Warn().Msg("No upstreams configured; sync loops disabled")
	}
	tree.AddSyncService(&storeJanitor{store: st, retention: cfg.Store.EventRetention})

	handler := api.NewHandler(st, eventPublisher, manager, conflictConfig(cfg).Merge)
	server := api.NewServer(api.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		Timeout:         cfg.Server.Timeout,
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, handler)
	tree.AddAPIService(server)

	logging.Info().
		Strs("upstreams", registry.Names()).
		Str("nats_url", natsURL).
		Msg("Engine assembled, starting supervision tree")

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return err
	}
	logging.Info().Msg("Engine stopped")
	return nil
}

func subscriberConfig(cfg *config.Config, url, durable string) broker.SubscriberConfig {
	sub := broker.DefaultSubscriberConfig(url, durable)
	if cfg.NATS.AckWait > 0 {
		sub.AckWaitTimeout = cfg.NATS.AckWait
	}
	if cfg.NATS.CloseTimeout > 0 {
		sub.CloseTimeout = cfg.NATS.CloseTimeout
	}
	// One redelivery beyond the retry budget lets the worker observe the
	// terminal failure and route the message to the DLQ itself.
	sub.MaxDeliver = cfg.Worker.MaxAttempts + 1
	return sub
}

func conflictConfig(cfg *config.Config) conflict.Config {
	strategies := make(map[models.EntityKind]models.ResolutionStrategy, len(cfg.Conflict.Strategies))
	for kind, strategy := range cfg.Conflict.Strategies {
		strategies[models.EntityKind(kind)] = models.ResolutionStrategy(strategy)
	}
	return conflict.Config{
		Strategies: strategies,
		Default:    models.ResolutionStrategy(cfg.Conflict.Default),
		Merge: conflict.MergeRules{
			MergeableFields: cfg.Conflict.MergeableFields,
		},
	}
}

// storeJanitor prunes finished events past the retention window.
type storeJanitor struct {
	store     *store.Store
	retention time.Duration
}

func (j *storeJanitor) Serve(ctx context.Context) error {
	if j.retention <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := j.store.Events().PruneOlderThan(ctx, j.retention)
			if err != nil {
				logging.Warn().Err(err).Msg("Event pruning failed")
				continue
			}
			if n > 0 {
				logging.Info().Int("pruned", n).Msg("Pruned finished sync events")
			}
		}
	}
}

func (j *storeJanitor) String() string { return "store-janitor" }
