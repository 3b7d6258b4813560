// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/relabs-tech/sensor_node/internal/config"
	"github.com/relabs-tech/sensor_node/internal/env"
	"github.com/relabs-tech/sensor_node/internal/imu"
	"github.com/relabs-tech/sensor_node/internal/pubsub"
	"github.com/relabs-tech/sensor_node/internal/sensors"
)

// SampleSink receives every environmental sample the node takes.
type SampleSink interface {
	WriteSample(ctx context.Context, s env.Sample) error
}

// Node ties the sensors, the broker client and the inbound status buffer
// together. The sampler, the network callback, the shell, the web status
// and the display all share one Node.
type Node struct {
	cfg      *config.Config
	log      *slog.Logger
	out      io.Writer
	client   pubsub.Client
	pressure sensors.PressureSensor
	motion   sensors.MotionSensor
	status   *StatusBuffer
	sinks    []SampleSink

	measureDelay time.Duration // between handshake and first tick

	mu         sync.RWMutex
	last       env.Snapshot
	sample     env.Sample
	haveSample bool
	lastMotion imu.Motion
	haveMotion bool
}

// NewNode creates a node. motion may be nil.
func NewNode(cfg *config.Config, client pubsub.Client, pressure sensors.PressureSensor, motion sensors.MotionSensor, logger *slog.Logger) *Node {
	return &Node{
		cfg:      cfg,
		log:      logger,
		out:      &lockedWriter{w: os.Stdout},
		client:   client,
		pressure: pressure,
		motion:   motion,
		status:   NewStatusBuffer(cfg.StatusLen),

		measureDelay: 2 * time.Second,
	}
}

// SetOutput redirects the console output of the node.
func (n *Node) SetOutput(w io.Writer) { n.out = &lockedWriter{w: w} }

// Output is the console writer shared by every goroutine of the node.
func (n *Node) Output() io.Writer { return n.out }

// AddSink registers a sample consumer. Call before RunSampler.
func (n *Node) AddSink(s SampleSink) { n.sinks = append(n.sinks, s) }

func (n *Node) Config() *config.Config { return n.cfg }

func (n *Node) Status() *StatusBuffer { return n.status }

func (n *Node) Connected() bool { return n.client.Connected() }

// Latest returns the most recent sample, if any.
func (n *Node) Latest() (env.Sample, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sample, n.haveSample
}

// LatestMotion returns the most recent motion reading, if any.
func (n *Node) LatestMotion() (imu.Motion, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastMotion, n.haveMotion
}

func (n *Node) printf(format string, args ...any) {
	fmt.Fprintf(n.out, format, args...)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
