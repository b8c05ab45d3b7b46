// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqtt

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures the broker connection
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic, if set, receives a retained "offline" message when the
	// connection drops
	WillTopic string
}

// RealPublisher publishes to an actual MQTT broker
type RealPublisher struct {
	client paho.Client
}

// NewRealPublisher creates a publisher connected to the given broker
func NewRealPublisher(o Options) (*RealPublisher, error) {
	clientID := o.ClientID
	if clientID == "" {
		clientID = "helioguard"
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, "offline", 1, true)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client}, nil
}

// Publish sends a message to the broker
func (p *RealPublisher) Publish(msg Message) error {
	token := p.client.Publish(msg.Topic, msg.QoS, msg.Retained, msg.Payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is connected
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
