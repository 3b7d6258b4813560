package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/sensor_node/internal/config"
)

// MQTTClient talks MQTT 3.1.1 to a TCP broker.
type MQTTClient struct {
	cfg *config.Config
	log *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
}

func NewMQTT(cfg *config.Config, logger *slog.Logger) *MQTTClient {
	return &MQTTClient{cfg: cfg, log: logger}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTTClient) get() mqtt.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// Run waits for ctx and then disconnects; paho runs its own goroutines.
func (m *MQTTClient) Run(ctx context.Context) error {
	<-ctx.Done()
	return m.Close()
}

func (m *MQTTClient) Connect(ctx context.Context, ep Endpoint, will *Will) error {
	if ep.Broker == nil {
		return fmt.Errorf("mqtt connect: no broker URL")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(ep.Broker.String()).
		SetClientID(m.cfg.DeviceID).
		SetKeepAlive(m.cfg.KeepAlive()).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout(m.cfg)).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.log.Warn("mqtt connection lost", "error", err)
		})
	if will != nil {
		opts.SetWill(will.Topic, string(will.Payload), 0, false)
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", ep.Broker.Redacted(), err)
	}
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	m.log.Info("connected to MQTT broker", "broker", ep.Broker.Redacted())
	return nil
}

func (m *MQTTClient) Publish(ctx context.Context, topic string, payload []byte, qos int) error {
	client := m.get()
	if client == nil {
		return ErrNotConnected
	}
	return waitToken(ctx, client.Publish(topic, byte(ClampQoS(qos)), false, payload))
}

func (m *MQTTClient) Subscribe(ctx context.Context, topic string, qos int, h Handler) error {
	client := m.get()
	if client == nil {
		return ErrNotConnected
	}
	token := client.Subscribe(topic, byte(ClampQoS(qos)), func(_ mqtt.Client, msg mqtt.Message) {
		h(Topic{Name: msg.Topic(), ID: msg.MessageID()}, msg.Payload())
	})
	return waitToken(ctx, token)
}

func (m *MQTTClient) Connected() bool {
	client := m.get()
	return client != nil && client.IsConnected()
}

func (m *MQTTClient) Close() error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	return nil
}
