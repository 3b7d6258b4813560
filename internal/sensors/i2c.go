package sensors

import (
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	hostOnce    sync.Once
	hostInitErr error
)

// initHost initializes the periph host drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInitErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	return hostInitErr
}

// openBus opens an I²C bus by name; an empty name selects the first bus.
func openBus(name string) (i2c.BusCloser, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c open %q: %w", name, err)
	}
	return bus, nil
}

// OpenBus exposes the bus helper to other packages driving I²C devices.
func OpenBus(name string) (i2c.BusCloser, error) {
	return openBus(name)
}

// regDev wraps an i2c.Dev with register helpers.
type regDev struct {
	dev i2c.Dev
}

func (r *regDev) readReg(reg byte, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := r.dev.Tx([]byte{reg}, buf); err != nil {
		return nil, fmt.Errorf("read reg 0x%02X at 0x%02X: %w", reg, r.dev.Addr, err)
	}
	return buf, nil
}

func (r *regDev) writeReg(reg, value byte) error {
	if err := r.dev.Tx([]byte{reg, value}, nil); err != nil {
		return fmt.Errorf("write reg 0x%02X at 0x%02X: %w", reg, r.dev.Addr, err)
	}
	return nil
}

func closeIfSet(c io.Closer) error {
	if c == nil {
		return nil
	}
	return c.Close()
}
