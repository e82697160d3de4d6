// Channelsync - Channel Manager Synchronization Engine
// Copyright 2026 Stayward
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stayward/channelsync

package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
)

type fakeJetStream struct {
	existing map[string]bool
	created  []string
	updated  []string
	failWith error
}

func (f *fakeJetStream) Stream(_ context.Context, name string) (jetstream.Stream, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	if f.existing[name] {
		return nil, nil
	}
	return nil, jetstream.ErrStreamNotFound
}

func (f *fakeJetStream) CreateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.created = append(f.created, cfg.Name)
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	f.existing[cfg.Name] = true
	return nil, nil
}

func (f *fakeJetStream) UpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.updated = append(f.updated, cfg.Name)
	return nil, nil
}

func TestEnsureStreams_CreatesMissing(t *testing.T) {
	js := &fakeJetStream{}
	init, err := NewStreamInitializer(js)
	if err != nil {
		t.Fatalf("NewStreamInitializer: %v", err)
	}

	if err := init.EnsureStreams(context.Background()); err != nil {
		t.Fatalf("EnsureStreams: %v", err)
	}
	if len(js.created) != 2 || js.created[0] != StreamName || js.created[1] != DLQStreamName {
		t.Errorf("created = %v, want [%s %s]", js.created, StreamName, DLQStreamName)
	}
	if len(js.updated) != 0 {
		t.Errorf("updated = %v, want none", js.updated)
	}
	if !init.IsHealthy(context.Background()) {
		t.Error("IsHealthy = false after provisioning")
	}
}

func TestEnsureStreams_UpdatesExisting(t *testing.T) {
	js := &fakeJetStream{existing: map[string]bool{StreamName: true, DLQStreamName: true}}
	init, err := NewStreamInitializer(js)
	if err != nil {
		t.Fatalf("NewStreamInitializer: %v", err)
	}

	if err := init.EnsureStreams(context.Background()); err != nil {
		t.Fatalf("EnsureStreams: %v", err)
	}
	if len(js.created) != 0 {
		t.Errorf("created = %v, want none", js.created)
	}
	if len(js.updated) != 2 {
		t.Errorf("updated = %v, want both streams", js.updated)
	}
}

func TestEnsureStreams_PropagatesLookupError(t *testing.T) {
	js := &fakeJetStream{failWith: errors.New("connection lost")}
	init, err := NewStreamInitializer(js)
	if err != nil {
		t.Fatalf("NewStreamInitializer: %v", err)
	}

	if err := init.EnsureStreams(context.Background()); err == nil {
		t.Fatal("EnsureStreams succeeded despite lookup failure")
	}
	if init.IsHealthy(context.Background()) {
		t.Error("IsHealthy = true while lookups fail")
	}
}

func TestNewStreamInitializer_RequiresContext(t *testing.T) {
	if _, err := NewStreamInitializer(nil); err == nil {
		t.Fatal("expected error for nil JetStream context")
	}
}

func TestTopicBuilders(t *testing.T) {
	cases := []struct {
		got  string
		want string
	}{
		{InboundTopic("beds24", "booking.created"), "sync.inbound.beds24.booking.created"},
		{InboundTopic("beds24", "booking.cancelled"), "sync.inbound.beds24.booking.cancelled"},
		{OutboundTopic("reservation.updated"), "sync.outbound.pms.reservation.updated"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("topic = %q, want %q", c.got, c.want)
		}
	}
}

func TestDefaultStreamConfig_SubjectsCoverBothDirections(t *testing.T) {
	cfg := DefaultStreamConfig()
	if len(cfg.Subjects) != 2 || cfg.Subjects[0] != TopicInboundAll || cfg.Subjects[1] != TopicOutboundAll {
		t.Errorf("subjects = %v", cfg.Subjects)
	}
	dlq := DefaultDLQStreamConfig()
	if dlq.MaxAge <= cfg.MaxAge {
		t.Error("DLQ retention should outlive main stream retention")
	}
}
