package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/relabs-tech/sensor_node/internal/config"
	"github.com/relabs-tech/sensor_node/internal/mqttsn"
)

// MQTT5Client talks MQTT 5 through an autopaho connection manager, which
// reconnects on its own once the first connection is up.
type MQTT5Client struct {
	cfg *config.Config
	log *slog.Logger

	life   context.Context
	cancel context.CancelFunc
	up     atomic.Bool

	mu       sync.Mutex
	cm       *autopaho.ConnectionManager
	stop     context.CancelFunc // ends cm's retry loop
	handlers map[string]Handler
}

func NewMQTT5(cfg *config.Config, logger *slog.Logger) *MQTT5Client {
	life, cancel := context.WithCancel(context.Background())
	return &MQTT5Client{
		cfg:      cfg,
		log:      logger,
		life:     life,
		cancel:   cancel,
		handlers: make(map[string]Handler),
	}
}

func (m *MQTT5Client) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-m.life.Done():
	}
	return m.Close()
}

func (m *MQTT5Client) Connect(ctx context.Context, ep Endpoint, will *Will) error {
	if ep.Broker == nil {
		return fmt.Errorf("mqtt5 connect: no broker URL")
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{ep.Broker},
		KeepAlive:                     uint16(m.cfg.KeepAliveSec),
		CleanStartOnInitialConnection: true,
		OnConnectionUp: func(_ *autopaho.ConnectionManager, _ *paho.Connack) {
			m.up.Store(true)
			m.log.Info("mqtt5 connected to broker", "broker", ep.Broker.Redacted())
		},
		OnConnectError: func(err error) {
			m.log.Warn("mqtt5 connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: m.cfg.DeviceID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				m.dispatch,
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				m.up.Store(false)
				m.log.Warn("mqtt5 server disconnect", "reason", d.ReasonCode)
			},
			OnClientError: func(err error) {
				m.up.Store(false)
				m.log.Warn("mqtt5 client error", "error", err)
			},
		},
	}
	if will != nil {
		pahoCfg.WillMessage = &paho.WillMessage{
			Topic:   will.Topic,
			Payload: will.Payload,
		}
	}

	connCtx, stop := context.WithCancel(m.life)
	cm, err := autopaho.NewConnection(connCtx, pahoCfg)
	if err != nil {
		stop()
		return fmt.Errorf("mqtt5 connect: %w", err)
	}
	m.mu.Lock()
	m.cm = cm
	m.stop = stop
	m.mu.Unlock()

	// autopaho retries forever; the first connection gets the same budget
	// as an MQTT-SN CONNECT and is abandoned after it.
	awaitCtx, cancel := context.WithTimeout(ctx, connectTimeout(m.cfg))
	defer cancel()
	if err := cm.AwaitConnection(awaitCtx); err != nil {
		m.mu.Lock()
		if m.cm == cm {
			m.cm = nil
			m.stop = nil
		}
		m.mu.Unlock()
		stop()
		m.up.Store(false)
		return fmt.Errorf("mqtt5 connect %s: %w", ep.Broker.Redacted(), err)
	}
	return nil
}

func (m *MQTT5Client) dispatch(pr paho.PublishReceived) (bool, error) {
	name := pr.Packet.Topic
	m.mu.Lock()
	var h Handler
	for filter, fn := range m.handlers {
		if mqttsn.MatchTopic(filter, name) {
			h = fn
			break
		}
	}
	m.mu.Unlock()

	if h == nil {
		return false, nil
	}
	h(Topic{Name: name, ID: pr.Packet.PacketID}, pr.Packet.Payload)
	return true, nil
}

func (m *MQTT5Client) manager() *autopaho.ConnectionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cm
}

func (m *MQTT5Client) Publish(ctx context.Context, topic string, payload []byte, qos int) error {
	cm := m.manager()
	if cm == nil {
		return ErrNotConnected
	}
	_, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     byte(ClampQoS(qos)),
	})
	return err
}

func (m *MQTT5Client) Subscribe(ctx context.Context, topic string, qos int, h Handler) error {
	cm := m.manager()
	if cm == nil {
		return ErrNotConnected
	}
	m.mu.Lock()
	m.handlers[topic] = h
	m.mu.Unlock()

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(ClampQoS(qos))},
		},
	}); err != nil {
		m.mu.Lock()
		delete(m.handlers, topic)
		m.mu.Unlock()
		return fmt.Errorf("mqtt5 subscribe %q: %w", topic, err)
	}
	return nil
}

func (m *MQTT5Client) Connected() bool { return m.up.Load() }

func (m *MQTT5Client) Close() error {
	defer m.cancel()
	m.mu.Lock()
	cm, stop := m.cm, m.stop
	m.cm, m.stop = nil, nil
	m.mu.Unlock()
	if cm == nil {
		return nil
	}
	defer stop()
	m.up.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return cm.Disconnect(ctx)
}
