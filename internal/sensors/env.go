package sensors

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// DefaultBMPAddr is the BMP280 address with SDO pulled low.
const DefaultBMPAddr = 0x76

// sensor is the part of *bmxx80.Dev used here.
type sensor interface {
	Sense(e *physic.Env) error
	Halt() error
}

// BMP wraps a Bosch BMP280/BME280 driven by periph's bmxx80 package.
type BMP struct {
	dev    sensor
	closer io.Closer
}

// NewBMP initialises a BMx280 on I²C with the periph default oversampling.
func NewBMP(bus i2c.Bus, addr uint16) (*BMP, error) {
	if addr == 0 {
		addr = DefaultBMPAddr
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, fmt.Errorf("bmp280 init: %w", err)
	}
	return &BMP{dev: dev}, nil
}

func (b *BMP) sense() (physic.Env, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return physic.Env{}, fmt.Errorf("bmp280 sense: %w", err)
	}
	return e, nil
}

// ReadTemperature returns the temperature in hundredths of °C.
func (b *BMP) ReadTemperature() (int16, error) {
	e, err := b.sense()
	if err != nil {
		return 0, err
	}
	return celsiusToCenti(e.Temperature), nil
}

// ReadPressure returns the pressure in hPa.
func (b *BMP) ReadPressure() (uint16, error) {
	e, err := b.sense()
	if err != nil {
		return 0, err
	}
	return pressureToHPa(e.Pressure), nil
}

// Close halts the sensor and releases the bus.
func (b *BMP) Close() error {
	err := b.dev.Halt()
	if cerr := closeIfSet(b.closer); err == nil {
		err = cerr
	}
	return err
}

func celsiusToCenti(t physic.Temperature) int16 {
	// physic.Temperature counts nano-kelvin.
	centi := (int64(t) - int64(physic.ZeroCelsius)) / int64(10*physic.MilliKelvin)
	return int16(centi)
}

func pressureToHPa(p physic.Pressure) uint16 {
	hpa := int64(p) / int64(100*physic.Pascal)
	if hpa < 0 {
		return 0
	}
	return uint16(hpa)
}
