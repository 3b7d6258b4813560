// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors initialises and reads the node's two breakouts: a
// temperature/pressure sensor (LPS331AP or BMP280) and an
// accelerometer/magnetometer (LSM303DLHC). Every backend has a mock for
// running without hardware.
package sensors

import (
	"fmt"
	"log/slog"

	"github.com/relabs-tech/sensor_node/internal/config"
	"github.com/relabs-tech/sensor_node/internal/imu"
)

// PressureSensor provides temperature and pressure in the node's
// fixed-point units.
type PressureSensor interface {
	// ReadTemperature returns the temperature in hundredths of °C.
	ReadTemperature() (int16, error)
	// ReadPressure returns the atmospheric pressure in hPa.
	ReadPressure() (uint16, error)
	Close() error
}

// MotionSensor provides raw accelerometer and magnetometer samples.
type MotionSensor interface {
	imu.MotionSource
	Close() error
}

// OpenPressure initialises the pressure sensor selected by PRESSURE_SENSOR.
func OpenPressure(cfg *config.Config, logger *slog.Logger) (PressureSensor, error) {
	switch cfg.PressureSensor {
	case config.SensorMock:
		logger.Info("using mock pressure sensor")
		return NewMockPressure(), nil
	case config.SensorLPS331AP:
		bus, err := openBus(cfg.PressureI2CBus)
		if err != nil {
			return nil, fmt.Errorf("lps331ap: %w", err)
		}
		dev, err := NewLPS331AP(bus, cfg.PressureI2CAddr)
		if err != nil {
			bus.Close()
			return nil, err
		}
		dev.closer = bus
		logger.Info("lps331ap initialized", "bus", bus.String(), "addr", fmt.Sprintf("0x%02X", cfg.PressureI2CAddr))
		return dev, nil
	case config.SensorBMP280:
		bus, err := openBus(cfg.PressureI2CBus)
		if err != nil {
			return nil, fmt.Errorf("bmp280: %w", err)
		}
		dev, err := NewBMP(bus, cfg.PressureI2CAddr)
		if err != nil {
			bus.Close()
			return nil, err
		}
		dev.closer = bus
		logger.Info("bmp280 initialized", "bus", bus.String(), "addr", fmt.Sprintf("0x%02X", cfg.PressureI2CAddr))
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown pressure sensor %q", cfg.PressureSensor)
	}
}

// OpenMotion initialises the accelerometer/magnetometer selected by
// MOTION_SENSOR.
func OpenMotion(cfg *config.Config, logger *slog.Logger) (MotionSensor, error) {
	switch cfg.MotionSensor {
	case config.SensorMock:
		logger.Info("using mock motion sensor")
		return NewMockMotion(cfg.DeviceID), nil
	case config.SensorLSM303DLHC:
		bus, err := openBus(cfg.MotionI2CBus)
		if err != nil {
			return nil, fmt.Errorf("lsm303dlhc: %w", err)
		}
		dev, err := NewLSM303DLHC(bus, cfg.MotionAccelAddr, cfg.MotionMagAddr)
		if err != nil {
			bus.Close()
			return nil, err
		}
		dev.closer = bus
		dev.source = cfg.DeviceID
		logger.Info("lsm303dlhc initialized", "bus", bus.String(),
			"accel_addr", fmt.Sprintf("0x%02X", cfg.MotionAccelAddr),
			"mag_addr", fmt.Sprintf("0x%02X", cfg.MotionMagAddr))
		return dev, nil
	default:
		return nil, fmt.Errorf("unknown motion sensor %q", cfg.MotionSensor)
	}
}
