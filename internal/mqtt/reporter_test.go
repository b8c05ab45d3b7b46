// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/status"
	"github.com/Thermoquad/helioguard/pkg/breaker"
)

func newReporter(t *testing.T, format string) (*Reporter, *FakePublisher, *status.Tracker) {
	t.Helper()
	pub := NewFakePublisher()
	tr := status.NewTracker(time.Now(), status.Config{Broker: "tcp://localhost:1883"})
	r := NewReporter(pub, tr, ReporterConfig{TopicPrefix: "bench", Format: format, Interval: time.Hour}, zerolog.Nop())
	return r, pub, tr
}

func tripAlert() engine.LogEntry {
	return engine.LogEntry{
		Time:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Kind:    engine.LogAlert,
		Alert:   engine.AlertTrip,
		Message: "breaker tripped: discharge 5.00 mA > 1.50 mA",
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "bench/status", StatusTopic("bench"))
	assert.Equal(t, "helioguard/events", EventsTopic(""))
}

func TestReporter_PublishesStatusRetained(t *testing.T) {
	r, pub, tr := newReporter(t, "json")
	tr.State(engine.State{Circuit: breaker.CircuitTripped})

	r.publishStatus()

	msgs := pub.ByTopic("bench/status")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Retained)

	var doc status.StatusJSON
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &doc))
	assert.Equal(t, "TRIPPED", doc.Status.Circuit)
	assert.True(t, tr.Snapshot().MQTTConnected)
}

func TestReporter_CBORStatus(t *testing.T) {
	r, pub, _ := newReporter(t, "cbor")

	r.publishStatus()

	msgs := pub.ByTopic("bench/status")
	require.Len(t, msgs, 1)
	var doc status.StatusJSON
	require.NoError(t, cbor.Unmarshal(msgs[0].Payload, &doc))
	assert.Equal(t, "ON", doc.Status.Circuit)
}

func TestReporter_SkipsStatusWhileDisconnected(t *testing.T) {
	r, pub, tr := newReporter(t, "json")
	pub.Connected = false

	r.publishStatus()

	assert.Empty(t, pub.Published())
	assert.False(t, tr.Snapshot().MQTTConnected)
}

func TestReporter_LogFiltersAlerts(t *testing.T) {
	r, _, _ := newReporter(t, "json")

	r.Log(engine.LogEntry{Kind: engine.LogInbound, Message: "###001"})
	r.Log(engine.LogEntry{Kind: engine.LogDiagnostic, Message: "checksum mismatch"})
	r.Log(tripAlert())

	require.Len(t, r.alerts, 1)
	assert.Equal(t, engine.AlertTrip, (<-r.alerts).Alert)
}

func TestReporter_LogNeverBlocks(t *testing.T) {
	pub := NewFakePublisher()
	tr := status.NewTracker(time.Now(), status.Config{})
	r := NewReporter(pub, tr, ReporterConfig{QueueSize: 1}, zerolog.Nop())

	r.Log(tripAlert())
	r.Log(tripAlert())
	assert.Len(t, r.alerts, 1)
}

func TestReporter_BuffersAlertsUntilConnected(t *testing.T) {
	r, pub, _ := newReporter(t, "json")
	pub.Connected = false

	r.publishAlert(tripAlert())
	assert.Empty(t, pub.Published())
	assert.Equal(t, 1, r.pending.len())

	pub.Connected = true
	r.publishStatus()

	events := pub.ByTopic("bench/events")
	require.Len(t, events, 1)
	assert.Equal(t, byte(1), events[0].QoS)
	assert.JSONEq(t, `{"event":{"timestamp":"2026-01-01T12:00:00Z","kind":"ALERT","alert":"TRIP","message":"breaker tripped: discharge 5.00 mA > 1.50 mA"}}`, string(events[0].Payload))
	assert.Equal(t, 0, r.pending.len())
}

func TestReporter_PublishErrorBuffers(t *testing.T) {
	r, pub, _ := newReporter(t, "json")
	pub.PublishError = errors.New("broker gone")

	r.publishAlert(tripAlert())
	assert.Equal(t, 1, r.pending.len())

	pub.PublishError = nil
	r.publishAlert(tripAlert())
	assert.Len(t, pub.ByTopic("bench/events"), 2)
	assert.Equal(t, 0, r.pending.len())
}

func TestReporter_Run(t *testing.T) {
	r, pub, _ := newReporter(t, "json")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Log(tripAlert())
	require.Eventually(t, func() bool {
		return len(pub.ByTopic("bench/events")) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// initial and final status
	assert.Len(t, pub.ByTopic("bench/status"), 2)
}
