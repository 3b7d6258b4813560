// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/sensor_node/internal/imu"
)

type mockPressure struct {
	start time.Time
}

// NewMockPressure creates a pressure sensor that generates smooth changing
// values around 21 °C and 1013 hPa.
func NewMockPressure() PressureSensor {
	return &mockPressure{start: time.Now()}
}

func (m *mockPressure) ReadTemperature() (int16, error) {
	elapsed := time.Since(m.start).Seconds()
	return int16(2100 + 250*math.Sin(elapsed/60)), nil
}

func (m *mockPressure) ReadPressure() (uint16, error) {
	elapsed := time.Since(m.start).Seconds()
	return uint16(1013 + 8*math.Cos(elapsed/300)), nil
}

func (m *mockPressure) Close() error { return nil }

type mockMotion struct {
	start  time.Time
	source string
}

// NewMockMotion creates a motion sensor that reports a device lying flat
// and slowly turning.
func NewMockMotion(source string) MotionSensor {
	return &mockMotion{start: time.Now(), source: source}
}

func (m *mockMotion) ReadMotion() (imu.Motion, error) {
	elapsed := time.Since(m.start).Seconds()
	heading := math.Mod(elapsed*0.1, 2*math.Pi)

	return imu.Motion{
		Source: m.source,
		Ax:     int16(20 * math.Sin(elapsed)),
		Ay:     int16(15 * math.Cos(elapsed*0.7)),
		Az:     1000,
		Mx:     int16(300 * math.Cos(heading)),
		My:     int16(300 * math.Sin(heading)),
		Mz:     -400,
	}, nil
}

func (m *mockMotion) Close() error { return nil }
