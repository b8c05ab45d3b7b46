// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqtt

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Thermoquad/helioguard/internal/engine"
	"github.com/Thermoquad/helioguard/internal/status"
)

// Reporter defaults
const (
	DefaultInterval   = 5 * time.Second
	DefaultQueueSize  = 64
	DefaultBufferSize = 64
)

// ReporterConfig configures a Reporter
type ReporterConfig struct {
	TopicPrefix string
	Format      string        // "json" or "cbor"
	Interval    time.Duration // status publish period
	QueueSize   int
	BufferSize  int // alerts kept while the broker is unreachable
}

// Reporter publishes the tracker's status on a fixed interval and every
// engine alert as it happens. It implements engine.Sink; only Log is used.
type Reporter struct {
	engine.NopSink

	pub     Publisher
	tracker *status.Tracker
	cfg     ReporterConfig
	log     zerolog.Logger

	alerts  chan engine.LogEntry
	pending *ringBuffer
}

// NewReporter creates a reporter. Call Run to start publishing.
func NewReporter(pub Publisher, tracker *status.Tracker, cfg ReporterConfig, log zerolog.Logger) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Format == "" {
		cfg.Format = status.FormatJSONName
	}

	return &Reporter{
		pub:     pub,
		tracker: tracker,
		cfg:     cfg,
		log:     log.With().Str("component", "mqtt").Logger(),
		alerts:  make(chan engine.LogEntry, cfg.QueueSize),
		pending: newRingBuffer(cfg.BufferSize),
	}
}

// Log queues alerts for publishing. It never blocks the engine.
func (r *Reporter) Log(e engine.LogEntry) {
	if e.Kind != engine.LogAlert {
		return
	}
	select {
	case r.alerts <- e:
	default:
		r.log.Warn().Str("alert", e.Alert.String()).Msg("alert queue full, dropping")
	}
}

// Run publishes until ctx is done, then publishes a final status
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.publishStatus()
	for {
		select {
		case <-ctx.Done():
			r.publishStatus()
			return nil
		case e := <-r.alerts:
			r.publishAlert(e)
		case <-ticker.C:
			r.publishStatus()
		}
	}
}

func (r *Reporter) publishStatus() {
	connected := r.pub.IsConnected()
	r.tracker.SetMQTTConnected(connected)
	if !connected {
		return
	}
	r.flushPending()

	payload, err := status.FormatStatus(r.cfg.Format, r.tracker.Snapshot())
	if err != nil {
		r.log.Error().Err(err).Msg("could not encode status")
		return
	}

	msg := Message{Topic: StatusTopic(r.cfg.TopicPrefix), Payload: payload, Retained: true}
	if err := r.pub.Publish(msg); err != nil {
		r.log.Warn().Err(err).Msg("status publish failed")
	}
}

func (r *Reporter) publishAlert(e engine.LogEntry) {
	payload, err := status.FormatEvent(r.cfg.Format, e)
	if err != nil {
		r.log.Error().Err(err).Msg("could not encode alert")
		return
	}

	msg := Message{Topic: EventsTopic(r.cfg.TopicPrefix), Payload: payload, QoS: 1}
	if !r.pub.IsConnected() {
		r.buffer(msg)
		return
	}
	r.flushPending()
	if err := r.pub.Publish(msg); err != nil {
		r.log.Warn().Err(err).Str("alert", e.Alert.String()).Msg("alert publish failed, buffering")
		r.buffer(msg)
	}
}

func (r *Reporter) buffer(msg Message) {
	if r.pending.push(msg) {
		r.log.Warn().Int("capacity", r.pending.capacity).Msg("alert buffer full, dropping oldest")
	}
}

func (r *Reporter) flushPending() {
	if r.pending.len() == 0 {
		return
	}
	msgs := r.pending.drainAll()
	r.log.Info().Int("count", len(msgs)).Msg("replaying buffered alerts")
	for i, msg := range msgs {
		if err := r.pub.Publish(msg); err != nil {
			for _, m := range msgs[i:] {
				r.pending.push(m)
			}
			return
		}
	}
}
