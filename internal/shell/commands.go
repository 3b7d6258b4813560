package shell

import (
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/relabs-tech/sensor_node/internal/config"
)

// StatusCommand prints the welcome banner.
func StatusCommand() Command {
	return Command{
		Name:  "status",
		Usage: "get a status report",
		Handler: func(w io.Writer, _ []string) int {
			fmt.Fprintln(w, "WELCOME!!!")
			return 0
		},
	}
}

// MQTTStatusCommand prints the configured gateway and topics. TCP
// transports report the broker host and port instead.
func MQTTStatusCommand(cfg *config.Config) Command {
	return Command{
		Name:  "mqtt_status",
		Usage: "mqtt status report",
		Handler: func(w io.Writer, _ []string) int {
			addr, port := cfg.GatewayAddr, strconv.Itoa(cfg.GatewayPort)
			if cfg.Transport == config.TransportMQTT || cfg.Transport == config.TransportMQTT5 {
				addr, port = brokerHostPort(cfg.MQTTBroker)
			}
			fmt.Fprintf(w, "Network Information: %s \nPORT: %s \nTOPIC_IN: %s/%s TOPIC_OUT: %s\n",
				addr, port, cfg.TopicIn, cfg.DeviceID, cfg.TopicOut)
			return 0
		},
	}
}

// brokerHostPort splits a broker URL, falling back to the MQTT default
// port when none is given.
func brokerHostPort(broker string) (string, string) {
	u, err := url.Parse(broker)
	if err != nil || u.Host == "" {
		return broker, "1883"
	}
	port := u.Port()
	if port == "" {
		port = "1883"
	}
	return u.Hostname(), port
}

// InboxCommand prints the most recent inbound message as kept by the
// status buffer.
func InboxCommand(inbox fmt.Stringer) Command {
	return Command{
		Name:  "inbox",
		Usage: "print the last inbound message",
		Handler: func(w io.Writer, _ []string) int {
			fmt.Fprintf(w, "inbox: %q\n", inbox.String())
			return 0
		},
	}
}
