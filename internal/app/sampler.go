package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relabs-tech/sensor_node/internal/env"
	"github.com/relabs-tech/sensor_node/internal/pubsub"
)

const sinkTimeout = 5 * time.Second

// RunSampler reads, formats and publishes one sample per period until ctx
// is cancelled. After each publish it sleeps the settle delay, then waits
// for the next period boundary.
func (n *Node) RunSampler(ctx context.Context) error {
	n.log.Info("sampler started",
		"period", n.cfg.PublishInterval(),
		"settle", n.cfg.SettleDelay(),
		"topic", n.cfg.TopicOut)

	last := time.Now()
	for {
		n.Tick(ctx)

		if err := sleepCtx(ctx, n.cfg.SettleDelay()); err != nil {
			return nil
		}
		n.printf("\n")

		if err := periodicWakeup(ctx, &last, n.cfg.PublishInterval()); err != nil {
			return nil
		}
	}
}

// periodicWakeup sleeps until period has elapsed since *last and advances
// *last. A missed deadline returns at once and restarts the schedule from
// now.
func periodicWakeup(ctx context.Context, last *time.Time, period time.Duration) error {
	next := last.Add(period)
	now := time.Now()
	if !next.After(now) {
		*last = now
		return ctx.Err()
	}
	*last = next
	return sleepCtx(ctx, next.Sub(now))
}

// Tick performs one sampling iteration.
func (n *Node) Tick(ctx context.Context) {
	snap := n.readSnapshot()
	n.printf("Pressure: %dhPa\n", snap.Pressure)
	n.printf("Temperature: %s°C\n", env.FormatTemperature(snap.Temperature))

	n.readMotion(ctx)

	sample := env.NewSample(n.cfg.DeviceID, snap, time.Now())
	n.mu.Lock()
	n.sample = sample
	n.haveSample = true
	n.mu.Unlock()
	n.writeSinks(ctx, sample)

	n.printf("Publishing data to MQTT Broker\n")
	n.publish(ctx, n.cfg.TopicOut, env.Format(snap), 0)
}

// readSnapshot reads both channels of the pressure sensor. A failed read
// keeps the previous value of that channel.
func (n *Node) readSnapshot() env.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, err := n.pressure.ReadTemperature(); err != nil {
		n.log.Warn("temperature read failed, reusing last value", "error", err)
	} else {
		n.last.Temperature = t
	}
	if p, err := n.pressure.ReadPressure(); err != nil {
		n.log.Warn("pressure read failed, reusing last value", "error", err)
	} else {
		n.last.Pressure = p
	}
	return n.last
}

func (n *Node) readMotion(ctx context.Context) {
	if n.motion == nil {
		return
	}
	m, err := n.motion.ReadMotion()
	if err != nil {
		n.log.Warn("motion read failed", "error", err)
		return
	}
	n.mu.Lock()
	n.lastMotion = m
	n.haveMotion = true
	n.mu.Unlock()

	n.log.Debug("motion",
		"ax", m.Ax, "ay", m.Ay, "az", m.Az,
		"mx", m.Mx, "my", m.My, "mz", m.Mz)

	if !n.cfg.PublishMotion {
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		n.log.Error("motion marshal error", "error", err)
		return
	}
	if err := n.client.Publish(ctx, n.cfg.TopicOut+"/motion", payload, 0); err != nil {
		n.log.Warn("motion publish failed", "error", err)
	}
}

func (n *Node) writeSinks(ctx context.Context, s env.Sample) {
	for _, sink := range n.sinks {
		wctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.WriteSample(wctx, s); err != nil {
			n.log.Warn("sample sink write failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
		cancel()
	}
}

// publish sends data on topic. qos 1 and 2 are honoured, anything else
// means 0.
func (n *Node) publish(ctx context.Context, topic, data string, qos int) error {
	qos = pubsub.ClampQoS(qos)
	if err := n.client.Publish(ctx, topic, []byte(data), qos); err != nil {
		n.printf("PUB ERROR: unable to publish data to topic '%s'\n", topic)
		n.log.Warn("publish failed", "topic", topic, "qos", qos, "error", err)
		return err
	}
	n.printf("Success: Published %s on topic %s\n", data, topic)
	return nil
}
