package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/relabs-tech/sensor_node/internal/config"
	"github.com/relabs-tech/sensor_node/internal/mqttsn"
)

// SNClient adapts an mqttsn.Client. Outbound topics are registered on
// first use and the gateway's id is cached for the session.
type SNClient struct {
	c   *mqttsn.Client
	log *slog.Logger

	mu     sync.Mutex
	topics map[string]mqttsn.Topic
}

// NewMQTTSN binds the local UDP port. An empty listen address means all
// interfaces on MQTTSN_LOCAL_PORT.
func NewMQTTSN(cfg *config.Config, listen string, logger *slog.Logger) (*SNClient, error) {
	if listen == "" {
		listen = net.JoinHostPort("", strconv.Itoa(cfg.MQTTSNLocalPort))
	}
	c, err := mqttsn.Listen(listen, mqttsn.Config{
		ClientID:     cfg.DeviceID,
		KeepAlive:    cfg.KeepAlive(),
		RetryTimeout: cfg.RetryTimeout(),
		RetryCount:   cfg.RetryCount,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return &SNClient{c: c, log: logger, topics: make(map[string]mqttsn.Topic)}, nil
}

func (s *SNClient) Run(ctx context.Context) error { return s.c.Run(ctx) }

func (s *SNClient) Connected() bool { return s.c.Connected() }

func (s *SNClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.c.Connected() {
		if err := s.c.Disconnect(ctx); err != nil {
			s.log.Debug("mqttsn disconnect failed", "error", err)
		}
	}
	return s.c.Close()
}

func (s *SNClient) Connect(ctx context.Context, ep Endpoint, will *Will) error {
	if !ep.Gateway.IsValid() {
		return fmt.Errorf("mqttsn connect: no gateway address")
	}
	var w *mqttsn.Will
	if will != nil {
		w = &mqttsn.Will{Topic: will.Topic, Msg: will.Payload}
	}

	s.mu.Lock()
	clear(s.topics)
	s.mu.Unlock()

	gw := netip.AddrPortFrom(ep.Gateway.Addr().Unmap(), ep.Gateway.Port())
	return s.c.Connect(ctx, net.UDPAddrFromAddrPort(gw), w)
}

func (s *SNClient) topic(ctx context.Context, name string) (mqttsn.Topic, error) {
	s.mu.Lock()
	t, ok := s.topics[name]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	t, err := s.c.Register(ctx, name)
	if err != nil {
		return mqttsn.Topic{}, err
	}
	s.mu.Lock()
	s.topics[name] = t
	s.mu.Unlock()
	return t, nil
}

func (s *SNClient) Publish(ctx context.Context, topic string, payload []byte, qos int) error {
	t, err := s.topic(ctx, topic)
	if err != nil {
		return fmt.Errorf("unable to obtain topic ID: %w", sessionErr(err))
	}
	return sessionErr(s.c.Publish(ctx, t, payload, mqttsn.QoSFlag(ClampQoS(qos))))
}

func (s *SNClient) Subscribe(ctx context.Context, topic string, qos int, h Handler) error {
	sub := &mqttsn.Subscription{
		Topic: mqttsn.Topic{Name: topic},
		Handler: func(t mqttsn.Topic, data []byte) {
			h(Topic{Name: t.Name, ID: t.ID}, data)
		},
	}
	return sessionErr(s.c.Subscribe(ctx, sub, mqttsn.QoSFlag(ClampQoS(qos))))
}

// sessionErr lets callers test the MQTT-SN session error against
// ErrNotConnected.
func sessionErr(err error) error {
	if errors.Is(err, mqttsn.ErrNotConnected) {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return err
}

// LocalAddr returns the bound UDP address.
func (s *SNClient) LocalAddr() *net.UDPAddr { return s.c.LocalAddr() }
