package pubsub

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/sensor_node/internal/config"
	"github.com/relabs-tech/sensor_node/internal/mqttsn"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		transport string
		gateway   string
		broker    string
		want      string
		wantErr   bool
	}{
		{name: "ipv6 literal", transport: config.TransportMQTTSN, gateway: "::1", want: "[::1]:1885"},
		{name: "ipv4 literal", transport: config.TransportMQTTSN, gateway: "10.0.0.7", want: "10.0.0.7:1885"},
		{name: "host and port is not an address", transport: config.TransportMQTTSN, gateway: "127.0.0.1:1883", wantErr: true},
		{name: "hostname rejected", transport: config.TransportMQTTSN, gateway: "gateway.local", wantErr: true},
		{name: "broker url", transport: config.TransportMQTT, broker: "tcp://localhost:1883", want: "tcp://localhost:1883"},
		{name: "broker without scheme", transport: config.TransportMQTT5, broker: "localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Transport = tt.transport
			if tt.gateway != "" {
				cfg.GatewayAddr = tt.gateway
			}
			if tt.broker != "" {
				cfg.MQTTBroker = tt.broker
			}

			ep, err := ParseEndpoint(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEndpoint() = %v, want error", ep)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint() error = %v", err)
			}
			if got := ep.String(); got != tt.want {
				t.Errorf("endpoint = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClampQoS(t *testing.T) {
	for qos, want := range map[int]int{-1: 0, 0: 0, 1: 1, 2: 2, 3: 0, 42: 0} {
		if got := ClampQoS(qos); got != want {
			t.Errorf("ClampQoS(%d) = %d, want %d", qos, got, want)
		}
	}
}

func TestNew_SelectsTransport(t *testing.T) {
	cfg := config.Default()

	cfg.Transport = config.TransportMQTT
	c, err := New(cfg, discard())
	if err != nil {
		t.Fatalf("New(mqtt) error = %v", err)
	}
	if _, ok := c.(*MQTTClient); !ok {
		t.Errorf("New(mqtt) = %T", c)
	}

	cfg.Transport = config.TransportMQTT5
	c, err = New(cfg, discard())
	if err != nil {
		t.Fatalf("New(mqtt5) error = %v", err)
	}
	if _, ok := c.(*MQTT5Client); !ok {
		t.Errorf("New(mqtt5) = %T", c)
	}
	c.Close()

	cfg.Transport = "carrier-pigeon"
	if _, err := New(cfg, discard()); err == nil {
		t.Error("New(unknown) error = nil")
	}
}

func TestTCPClients_RequireConnect(t *testing.T) {
	cfg := config.Default()
	clients := map[string]Client{
		"mqtt":  NewMQTT(cfg, discard()),
		"mqtt5": NewMQTT5(cfg, discard()),
	}
	for name, c := range clients {
		t.Run(name, func(t *testing.T) {
			defer c.Close()
			if c.Connected() {
				t.Error("Connected() = true before Connect")
			}
			if err := c.Publish(t.Context(), "x", nil, 0); !errors.Is(err, ErrNotConnected) {
				t.Errorf("Publish() error = %v, want ErrNotConnected", err)
			}
			if err := c.Subscribe(t.Context(), "x", 0, func(Topic, []byte) {}); !errors.Is(err, ErrNotConnected) {
				t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
			}
			if err := c.Connect(t.Context(), Endpoint{}, nil); err == nil {
				t.Error("Connect() without broker URL succeeded")
			}
		})
	}
}

func TestTCPClients_UnreachableBrokerFails(t *testing.T) {
	cfg := config.Default()
	cfg.MQTTBroker = "tcp://127.0.0.1:1"
	cfg.RetryTimeoutMs = 300
	cfg.RetryCount = 0
	ep := Endpoint{Broker: &url.URL{Scheme: "tcp", Host: "127.0.0.1:1"}}

	clients := map[string]Client{
		"mqtt":  NewMQTT(cfg, discard()),
		"mqtt5": NewMQTT5(cfg, discard()),
	}
	for name, c := range clients {
		t.Run(name, func(t *testing.T) {
			defer c.Close()
			errc := make(chan error, 1)
			go func() { errc <- c.Connect(t.Context(), ep, &Will{Topic: "out", Payload: []byte("connected")}) }()

			select {
			case err := <-errc:
				if err == nil {
					t.Fatal("Connect() to a closed port succeeded")
				}
			case <-time.After(10 * time.Second):
				t.Fatal("Connect() did not return for an unreachable broker")
			}
			if c.Connected() {
				t.Error("Connected() = true after failed Connect")
			}
			if err := c.Publish(t.Context(), "x", nil, 0); !errors.Is(err, ErrNotConnected) {
				t.Errorf("Publish() error = %v, want ErrNotConnected", err)
			}
		})
	}
}

func TestErrNotConnected_TransportNeutral(t *testing.T) {
	err := NewMQTT(config.Default(), discard()).Publish(t.Context(), "x", nil, 0)
	if strings.Contains(err.Error(), "mqttsn") {
		t.Errorf("mqtt Publish() error = %q mentions mqttsn", err)
	}

	c, err := NewMQTTSN(config.Default(), "127.0.0.1:0", discard())
	if err != nil {
		t.Fatalf("NewMQTTSN() error = %v", err)
	}
	defer c.c.Close()
	err = c.Publish(t.Context(), "x", nil, 0)
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, mqttsn.ErrNotConnected) {
		t.Errorf("mqttsn Publish() error = %v, want both not-connected sentinels", err)
	}
	err = c.Subscribe(t.Context(), "x", 0, func(Topic, []byte) {})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("mqttsn Subscribe() error = %v, want ErrNotConnected", err)
	}
}

// gatewayStub accepts CONNECT and REGISTER and counts what it sees.
func gatewayStub(t *testing.T) (*net.UDPConn, chan mqttsn.Packet) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	seen := make(chan mqttsn.Packet, 32)
	go func() {
		buf := make([]byte, 512)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			p, err := mqttsn.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			seen <- p

			var reply mqttsn.Packet
			switch v := p.(type) {
			case mqttsn.Connect:
				reply = mqttsn.Connack{}
			case mqttsn.Register:
				reply = mqttsn.Regack{TopicID: 3, MsgID: v.MsgID}
			}
			if reply != nil {
				b, _ := mqttsn.Marshal(reply)
				conn.WriteToUDP(b, from)
			}
		}
	}()
	return conn, seen
}

func TestSNClient_RegistersTopicOnce(t *testing.T) {
	gw, seen := gatewayStub(t)
	cfg := config.Default()
	cfg.RetryTimeoutMs = 200
	cfg.RetryCount = 1

	c, err := NewMQTTSN(cfg, "127.0.0.1:0", discard())
	if err != nil {
		t.Fatalf("NewMQTTSN() error = %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(t.Context())
	}()
	t.Cleanup(func() {
		c.c.Close()
		<-done
	})

	ep := Endpoint{Gateway: gw.LocalAddr().(*net.UDPAddr).AddrPort()}
	if err := c.Connect(t.Context(), ep, &Will{Topic: cfg.TopicOut, Payload: []byte("connected")}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !c.Connected() {
		t.Error("Connected() = false after Connect")
	}

	for range 2 {
		if err := c.Publish(t.Context(), cfg.TopicOut, []byte("x"), 0); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	var registers, publishes int
	timeout := time.After(2 * time.Second)
	for publishes < 2 {
		select {
		case p := <-seen:
			switch p.Type() {
			case mqttsn.REGISTER:
				registers++
			case mqttsn.PUBLISH:
				if got := p.(mqttsn.Publish).TopicID; got != 3 {
					t.Errorf("PUBLISH topic id = %d, want 3", got)
				}
				publishes++
			}
		case <-timeout:
			t.Fatalf("saw %d publishes, want 2", publishes)
		}
	}
	if registers != 1 {
		t.Errorf("REGISTER sent %d times, want 1", registers)
	}
}

func TestSNClient_ConnectNeedsGateway(t *testing.T) {
	c, err := NewMQTTSN(config.Default(), "127.0.0.1:0", discard())
	if err != nil {
		t.Fatalf("NewMQTTSN() error = %v", err)
	}
	defer c.c.Close()
	if err := c.Connect(t.Context(), Endpoint{Gateway: netip.AddrPort{}}, nil); err == nil {
		t.Error("Connect() with zero gateway succeeded")
	}
}
