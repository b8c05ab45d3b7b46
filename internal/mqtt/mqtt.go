// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqtt publishes telemetry snapshots and alerts to an MQTT broker.
package mqtt

// DefaultTopic is the topic prefix used when none is configured
const DefaultTopic = "helioguard"

// Topic suffixes under the configured prefix
const (
	SuffixStatus = "status"
	SuffixEvents = "events"
)

// Message is one outbound MQTT publish
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// Publisher publishes messages to MQTT
type Publisher interface {
	// Publish sends a message to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(msg Message) error

	// IsConnected reports whether the broker connection is up
	IsConnected() bool

	// Close disconnects from the broker
	Close() error
}

// StatusTopic returns the status topic under prefix
func StatusTopic(prefix string) string {
	if prefix == "" {
		prefix = DefaultTopic
	}
	return prefix + "/" + SuffixStatus
}

// EventsTopic returns the alert topic under prefix
func EventsTopic(prefix string) string {
	if prefix == "" {
		prefix = DefaultTopic
	}
	return prefix + "/" + SuffixEvents
}
