// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package publish fans decoded fixes out to an MQTT broker. Readers hand
// fixes over through Offer, which never blocks; a single goroutine owns the
// broker connection.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mdobak/go-xerrors"

	"github.com/relabs-tech/gps_receiver/internal/gps"
)

const (
	DefaultQueueSize = 256
	publishTimeout   = 5 * time.Second
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Connect opens a broker connection with the receiver's client options.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		if token.Error() != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
		}
		return nil, fmt.Errorf("mqtt connect %s: timed out", broker)
	}
	return client, nil
}

// Topic returns the per-device fix topic, <prefix>/<device>/fix.
func Topic(prefix, device string) string {
	return prefix + "/" + device + "/fix"
}

// SubscribeFilter matches the fix topic of every device under prefix.
func SubscribeFilter(prefix string) string {
	return prefix + "/+/fix"
}

type Publisher struct {
	client Client
	prefix string
	queue  chan gps.Fix
	log    *slog.Logger

	dropped   atomic.Uint64
	published atomic.Uint64
}

func New(client Client, prefix string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		prefix: prefix,
		queue:  make(chan gps.Fix, queueSize),
		log:    logger.With(slog.String("component", "mqtt")),
	}
}

// Offer queues fix for publishing. It reports false when the queue is full
// and the fix was dropped.
func (p *Publisher) Offer(fix gps.Fix) bool {
	select {
	case p.queue <- fix:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Publisher) Dropped() uint64   { return p.dropped.Load() }
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Run publishes queued fixes until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case fix := <-p.queue:
			if err := p.publish(fix); err != nil {
				p.log.Warn("mqtt: publish failed", slog.String("device", fix.DeviceID), slog.Any("error", xerrors.New(err)))
			}
		}
	}
}

func (p *Publisher) publish(fix gps.Fix) error {
	payload, err := json.Marshal(fix)
	if err != nil {
		return fmt.Errorf("marshal fix: %w", err)
	}
	topic := Topic(p.prefix, fix.DeviceID)
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.published.Add(1)
	return nil
}
