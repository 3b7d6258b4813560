// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pubsub hides the wire protocol the node uses to reach its
// broker: MQTT-SN over UDP to a gateway (the default), or plain MQTT
// 3.1.1 / MQTT 5 over TCP.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"time"

	"github.com/relabs-tech/sensor_node/internal/config"
)

// ErrNotConnected is returned by Publish and Subscribe before Connect
// succeeded, whatever the transport.
var ErrNotConnected = errors.New("pubsub: not connected")

// Used when RETRY_TIMEOUT_MS is 0.
const defaultConnectTimeout = 30 * time.Second

// Topic identifies an inbound publication. ID is the MQTT-SN topic id or,
// for the TCP transports, the packet id.
type Topic struct {
	Name string
	ID   uint16
}

// Handler is called for each inbound publication on the network goroutine.
type Handler func(t Topic, payload []byte)

// Will is the last-will registered at connect time.
type Will struct {
	Topic   string
	Payload []byte
}

// Endpoint is where Connect goes: Gateway for MQTT-SN, Broker otherwise.
type Endpoint struct {
	Gateway netip.AddrPort
	Broker  *url.URL
}

func (e Endpoint) String() string {
	if e.Broker != nil {
		return e.Broker.String()
	}
	return e.Gateway.String()
}

// Client is the publish/subscribe surface the node needs.
type Client interface {
	// Run drives the network side until ctx is cancelled.
	Run(ctx context.Context) error
	Connect(ctx context.Context, ep Endpoint, will *Will) error
	Publish(ctx context.Context, topic string, payload []byte, qos int) error
	Subscribe(ctx context.Context, topic string, qos int, h Handler) error
	Connected() bool
	Close() error
}

// New builds the client selected by cfg.Transport.
func New(cfg *config.Config, logger *slog.Logger) (Client, error) {
	switch cfg.Transport {
	case config.TransportMQTTSN, "":
		return NewMQTTSN(cfg, "", logger)
	case config.TransportMQTT:
		return NewMQTT(cfg, logger), nil
	case config.TransportMQTT5:
		return NewMQTT5(cfg, logger), nil
	default:
		return nil, fmt.Errorf("pubsub: unknown transport %q", cfg.Transport)
	}
}

// ParseEndpoint resolves the configured destination. For MQTT-SN the
// gateway address must be an IP literal; host names are rejected.
func ParseEndpoint(cfg *config.Config) (Endpoint, error) {
	switch cfg.Transport {
	case config.TransportMQTT, config.TransportMQTT5:
		u, err := url.Parse(cfg.MQTTBroker)
		if err != nil {
			return Endpoint{}, fmt.Errorf("parse broker URL %q: %w", cfg.MQTTBroker, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return Endpoint{}, fmt.Errorf("parse broker URL %q: missing scheme or host", cfg.MQTTBroker)
		}
		return Endpoint{Broker: u}, nil
	default:
		addr, err := netip.ParseAddr(cfg.GatewayAddr)
		if err != nil {
			return Endpoint{}, fmt.Errorf("parse gateway address %q: %w", cfg.GatewayAddr, err)
		}
		if cfg.GatewayPort < 1 || cfg.GatewayPort > 65535 {
			return Endpoint{}, fmt.Errorf("parse gateway address: invalid port %d", cfg.GatewayPort)
		}
		return Endpoint{Gateway: netip.AddrPortFrom(addr, uint16(cfg.GatewayPort))}, nil
	}
}

// connectTimeout bounds a broker connect the way the MQTT-SN client
// bounds its CONNECT: one wait per transmission.
func connectTimeout(cfg *config.Config) time.Duration {
	d := cfg.RetryTimeout() * time.Duration(cfg.RetryCount+1)
	if d <= 0 {
		return defaultConnectTimeout
	}
	return d
}

// ClampQoS maps anything outside 0..2 to 0.
func ClampQoS(qos int) int {
	if qos < 0 || qos > 2 {
		return 0
	}
	return qos
}
