package app

import (
	"context"
	"fmt"
	"time"

	"github.com/relabs-tech/sensor_node/internal/pubsub"
)

// Handshake waits for the network to come up, starts the client's
// network goroutine, connects with a will on the outbound topic and
// subscribes the inbound topic. It stops at the first failure and does
// not retry; the caller decides whether to carry on.
func (n *Node) Handshake(ctx context.Context) error {
	// The subscription table lives in the client and is dropped by the
	// clean-session connect below.
	if err := sleepCtx(ctx, n.cfg.StartupDelay()); err != nil {
		return err
	}

	n.printf("Device ID: %s\n", n.cfg.DeviceID)

	go func() {
		if err := n.client.Run(ctx); err != nil {
			n.log.Error("network loop stopped", "error", err)
		}
	}()

	ep, err := pubsub.ParseEndpoint(n.cfg)
	if err != nil {
		n.printf("error parsing gateway address\n")
		n.log.Error("handshake: bad gateway address", "error", err)
		return fmt.Errorf("handshake: %w", err)
	}

	will := &pubsub.Will{Topic: n.cfg.TopicOut, Payload: []byte(n.cfg.WillMessage)}
	if err := n.client.Connect(ctx, ep, will); err != nil {
		n.printf("error: unable to connect to %s\n", ep)
		n.log.Error("handshake: connect failed", "endpoint", ep.String(), "error", err)
		return fmt.Errorf("handshake: connect %s: %w", ep, err)
	}
	n.printf("Connected on %s\n", ep)

	if err := n.client.Subscribe(ctx, n.cfg.TopicIn, 0, n.onPublish); err != nil {
		n.printf("error: unable to subscribe to %s\n", n.cfg.TopicIn)
		n.log.Error("handshake: subscribe failed", "topic", n.cfg.TopicIn, "error", err)
		return fmt.Errorf("handshake: subscribe %q: %w", n.cfg.TopicIn, err)
	}
	n.printf("Now subscribed to %s\n", n.cfg.TopicIn)
	n.log.Info("handshake complete", "endpoint", ep.String(), "topic_in", n.cfg.TopicIn)
	return nil
}

// Start runs the handshake, then launches the sampler on its own
// goroutine. A failed handshake is logged and sampling starts anyway.
// The returned channel yields the sampler's result after ctx ends.
func (n *Node) Start(ctx context.Context) (<-chan error, error) {
	if err := n.Handshake(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		n.log.Warn("handshake failed, sampling anyway", "error", err)
	}
	if err := sleepCtx(ctx, n.measureDelay); err != nil {
		return nil, err
	}

	n.printf("[###STARTING MEASUREMENTS###]\n")
	done := make(chan error, 1)
	go func() { done <- n.RunSampler(ctx) }()
	n.printf("Thread Initiated!\n")
	return done, nil
}

// onPublish runs on the network goroutine for each inbound message.
func (n *Node) onPublish(t pubsub.Topic, payload []byte) {
	n.printf("### got publication for topic '%s' [%d] ###\n", t.Name, t.ID)
	n.printf("%s\n\n", payload)

	kept := n.status.Set(payload)
	n.log.Debug("inbound message", "topic", t.Name, "id", t.ID, "len", len(payload), "kept", kept)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
