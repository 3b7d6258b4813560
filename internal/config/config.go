// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport names accepted by TRANSPORT.
const (
	TransportMQTTSN = "mqttsn"
	TransportMQTT   = "mqtt"
	TransportMQTT5  = "mqtt5"
)

// Sensor backends accepted by PRESSURE_SENSOR and MOTION_SENSOR.
const (
	SensorLPS331AP   = "lps331ap"
	SensorBMP280     = "bmp280"
	SensorLSM303DLHC = "lsm303dlhc"
	SensorMock       = "mock"
)

// Config holds all application configuration values.
type Config struct {
	// Node
	DeviceID string

	// Transport
	Transport       string
	GatewayAddr     string
	GatewayPort     int
	MQTTSNLocalPort int
	MQTTBroker      string
	KeepAliveSec    int
	RetryTimeoutMs  int
	RetryCount      int

	// Topics
	TopicOut    string
	TopicIn     string
	WillMessage string

	// Timing
	PublishIntervalMs int // period between the start of two ticks
	SettleDelayMs     int // sleep after each publish
	StartupDelayMs    int // network bring-up wait before the handshake

	// Inbound status buffer length in bytes
	StatusLen int

	// Pressure/temperature sensor
	PressureSensor  string
	PressureI2CBus  string
	PressureI2CAddr uint16

	// Accelerometer/magnetometer breakout
	MotionSensor    string
	MotionI2CBus    string
	MotionAccelAddr uint16
	MotionMagAddr   uint16
	PublishMotion   bool

	// Web Server (0 disables)
	WebServerPort int

	// Display
	DisplayEnabled        bool
	DisplayI2CBus         string
	DisplayUpdateInterval int // milliseconds

	// InfluxDB sink (empty URL disables)
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Logging
	LogLevel string
}

// Default returns the configuration baked into the node firmware. Every
// value can be overridden from the config file or the environment.
func Default() *Config {
	return &Config{
		DeviceID:              "my_station",
		Transport:             TransportMQTTSN,
		GatewayAddr:           "::1",
		GatewayPort:           1885,
		MQTTSNLocalPort:       1885,
		MQTTBroker:            "tcp://localhost:1883",
		KeepAliveSec:          360,
		RetryTimeoutMs:        15000,
		RetryCount:            3,
		TopicOut:              "your_out_topic",
		TopicIn:               "your_in_topic",
		WillMessage:           "connected",
		PublishIntervalMs:     55000,
		SettleDelayMs:         2000,
		StartupDelayMs:        10000,
		StatusLen:             5,
		PressureSensor:        SensorLPS331AP,
		PressureI2CBus:        "",
		PressureI2CAddr:       0x5C,
		MotionSensor:          SensorLSM303DLHC,
		MotionI2CBus:          "",
		MotionAccelAddr:       0x19,
		MotionMagAddr:         0x1E,
		PublishMotion:         false,
		WebServerPort:         0,
		DisplayEnabled:        false,
		DisplayUpdateInterval: 1000,
		LogLevel:              "info",
	}
}

// Load reads the configuration file on top of the defaults and applies
// environment overrides. A missing file is not an error: the node runs on
// its built-in defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := cfg.parse(file); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) parse(f *os.File) error {
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.setValue(key, value); err != nil {
			return fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// applyEnv overrides any known key present in the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, key := range Keys() {
		value, ok := lookup(key)
		if !ok {
			continue
		}
		if err := c.setValue(key, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
	}
	return nil
}

// Keys lists every configuration key understood by setValue.
func Keys() []string {
	return []string{
		"DEVICE_ID",
		"TRANSPORT", "GATEWAY_ADDR", "GATEWAY_PORT", "MQTTSN_LOCAL_PORT", "MQTT_BROKER",
		"KEEP_ALIVE_SEC", "RETRY_TIMEOUT_MS", "RETRY_COUNT",
		"TOPIC_OUT", "TOPIC_IN", "WILL_MESSAGE",
		"PUBLISH_INTERVAL_MS", "SETTLE_DELAY_MS", "STARTUP_DELAY_MS",
		"STATUS_LEN",
		"PRESSURE_SENSOR", "PRESSURE_I2C_BUS", "PRESSURE_I2C_ADDR",
		"MOTION_SENSOR", "MOTION_I2C_BUS", "MOTION_ACCEL_ADDR", "MOTION_MAG_ADDR", "PUBLISH_MOTION",
		"WEB_SERVER_PORT",
		"DISPLAY_ENABLED", "DISPLAY_I2C_BUS", "DISPLAY_UPDATE_INTERVAL_MS",
		"INFLUX_URL", "INFLUX_TOKEN", "INFLUX_ORG", "INFLUX_BUCKET",
		"LOG_LEVEL",
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Node
	case "DEVICE_ID":
		c.DeviceID = value

	// Transport
	case "TRANSPORT":
		switch value {
		case TransportMQTTSN, TransportMQTT, TransportMQTT5:
			c.Transport = value
		default:
			return fmt.Errorf("TRANSPORT must be one of %s, %s, %s, got %q",
				TransportMQTTSN, TransportMQTT, TransportMQTT5, value)
		}
	case "GATEWAY_ADDR":
		c.GatewayAddr = value
	case "GATEWAY_PORT":
		c.GatewayPort, err = parsePort(key, value)
	case "MQTTSN_LOCAL_PORT":
		c.MQTTSNLocalPort, err = parsePort(key, value)
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "KEEP_ALIVE_SEC":
		// The keep-alive travels as a 16-bit duration in CONNECT.
		c.KeepAliveSec, err = parseNonNegative(key, value)
		if err == nil && c.KeepAliveSec > math.MaxUint16 {
			return fmt.Errorf("KEEP_ALIVE_SEC must be at most %d, got %d", math.MaxUint16, c.KeepAliveSec)
		}
	case "RETRY_TIMEOUT_MS":
		c.RetryTimeoutMs, err = parseNonNegative(key, value)
	case "RETRY_COUNT":
		c.RetryCount, err = parseNonNegative(key, value)

	// Topics
	case "TOPIC_OUT":
		c.TopicOut = value
	case "TOPIC_IN":
		c.TopicIn = value
	case "WILL_MESSAGE":
		c.WillMessage = value

	// Timing
	case "PUBLISH_INTERVAL_MS":
		c.PublishIntervalMs, err = parseNonNegative(key, value)
	case "SETTLE_DELAY_MS":
		c.SettleDelayMs, err = parseNonNegative(key, value)
	case "STARTUP_DELAY_MS":
		c.StartupDelayMs, err = parseNonNegative(key, value)

	case "STATUS_LEN":
		c.StatusLen, err = parseNonNegative(key, value)

	// Pressure sensor
	case "PRESSURE_SENSOR":
		switch value {
		case SensorLPS331AP, SensorBMP280, SensorMock:
			c.PressureSensor = value
		default:
			return fmt.Errorf("PRESSURE_SENSOR must be %s, %s or %s, got %q",
				SensorLPS331AP, SensorBMP280, SensorMock, value)
		}
	case "PRESSURE_I2C_BUS":
		c.PressureI2CBus = value
	case "PRESSURE_I2C_ADDR":
		c.PressureI2CAddr, err = parseI2CAddr(key, value)

	// Motion sensor
	case "MOTION_SENSOR":
		switch value {
		case SensorLSM303DLHC, SensorMock:
			c.MotionSensor = value
		default:
			return fmt.Errorf("MOTION_SENSOR must be %s or %s, got %q",
				SensorLSM303DLHC, SensorMock, value)
		}
	case "MOTION_I2C_BUS":
		c.MotionI2CBus = value
	case "MOTION_ACCEL_ADDR":
		c.MotionAccelAddr, err = parseI2CAddr(key, value)
	case "MOTION_MAG_ADDR":
		c.MotionMagAddr, err = parseI2CAddr(key, value)
	case "PUBLISH_MOTION":
		c.PublishMotion, err = parseBool(key, value)

	// Web Server
	case "WEB_SERVER_PORT":
		port, perr := strconv.Atoi(value)
		if perr != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, perr)
		}
		if port < 0 || port > 65535 {
			return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", port)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = parseBool(key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL_MS":
		c.DisplayUpdateInterval, err = parseNonNegative(key, value)

	// InfluxDB
	case "INFLUX_URL":
		c.InfluxURL = value
	case "INFLUX_TOKEN":
		c.InfluxToken = value
	case "INFLUX_ORG":
		c.InfluxOrg = value
	case "INFLUX_BUCKET":
		c.InfluxBucket = value

	case "LOG_LEVEL":
		if _, lerr := ParseLogLevel(value); lerr != nil {
			return lerr
		}
		c.LogLevel = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

func parsePort(key, value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%s must be 1-65535, got %d", key, port)
	}
	return port, nil
}

func parseNonNegative(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	return n, nil
}

func parseI2CAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if addr > 0x7F {
		return 0, fmt.Errorf("%s must be a 7-bit address, got 0x%X", key, addr)
	}
	return uint16(addr), nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return b, nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.TopicOut == "" {
		return fmt.Errorf("TOPIC_OUT is required")
	}
	if c.TopicIn == "" {
		return fmt.Errorf("TOPIC_IN is required")
	}
	if c.Transport != TransportMQTTSN && c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required for TRANSPORT=%s", c.Transport)
	}
	if c.PublishIntervalMs == 0 {
		return fmt.Errorf("PUBLISH_INTERVAL_MS is required")
	}
	if c.StatusLen == 0 {
		return fmt.Errorf("STATUS_LEN must be at least 1")
	}
	if c.DisplayEnabled && c.DisplayUpdateInterval == 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL_MS is required when the display is enabled")
	}
	if c.InfluxURL != "" && (c.InfluxOrg == "" || c.InfluxBucket == "") {
		return fmt.Errorf("INFLUX_ORG and INFLUX_BUCKET are required when INFLUX_URL is set")
	}
	return nil
}

// PublishInterval is the period between the start of two sampling ticks.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.PublishIntervalMs) * time.Millisecond
}

// SettleDelay is the pause after every publish.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// StartupDelay is the wait granted to the network before the handshake.
func (c *Config) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelayMs) * time.Millisecond
}

// RetryTimeout is how long the MQTT-SN client waits for each reply.
func (c *Config) RetryTimeout() time.Duration {
	return time.Duration(c.RetryTimeoutMs) * time.Millisecond
}

// KeepAlive is the MQTT-SN/MQTT session keep-alive.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.KeepAliveSec) * time.Second
}
