package sensors

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"
)

// LPS331AP registers.
const (
	lpsRegWhoAmI    = 0x0F
	lpsRegResConf   = 0x10
	lpsRegCtrl1     = 0x20
	lpsRegPressOutX = 0x28
	lpsRegTempOutL  = 0x2B

	lpsAutoInc = 0x80 // MSB of the sub-address enables auto-increment

	lpsWhoAmI  = 0xBB
	lpsResConf = 0x7A // 512 pressure / 128 temperature internal averages
	lpsCtrl1   = 0xD4 // active, 7 Hz output data rate, block data update

	lpsTempBase    = 4250 // 42.5 °C in hundredths
	lpsTempDivider = 480  // LSB per °C
	lpsPresDivider = 4096 // LSB per hPa
)

// DefaultLPS331APAddr is the address with SA0 pulled high.
const DefaultLPS331APAddr = 0x5C

// LPS331AP is an ST LPS331AP pressure/temperature sensor on I²C.
type LPS331AP struct {
	regDev
	closer io.Closer
}

// NewLPS331AP checks the device identity and starts continuous conversion.
func NewLPS331AP(bus i2c.Bus, addr uint16) (*LPS331AP, error) {
	if addr == 0 {
		addr = DefaultLPS331APAddr
	}
	d := &LPS331AP{regDev: regDev{dev: i2c.Dev{Bus: bus, Addr: addr}}}

	id, err := d.readReg(lpsRegWhoAmI, 1)
	if err != nil {
		return nil, fmt.Errorf("lps331ap: %w", err)
	}
	if id[0] != lpsWhoAmI {
		return nil, fmt.Errorf("lps331ap: unexpected WHO_AM_I 0x%02X, want 0x%02X", id[0], lpsWhoAmI)
	}
	if err := d.writeReg(lpsRegResConf, lpsResConf); err != nil {
		return nil, fmt.Errorf("lps331ap: %w", err)
	}
	if err := d.writeReg(lpsRegCtrl1, lpsCtrl1); err != nil {
		return nil, fmt.Errorf("lps331ap: %w", err)
	}
	return d, nil
}

// ReadTemperature returns the temperature in hundredths of °C.
func (d *LPS331AP) ReadTemperature() (int16, error) {
	b, err := d.readReg(lpsRegTempOutL|lpsAutoInc, 2)
	if err != nil {
		return 0, fmt.Errorf("lps331ap temperature: %w", err)
	}
	raw := int32(int16(uint16(b[0]) | uint16(b[1])<<8))
	return int16(lpsTempBase + raw*100/lpsTempDivider), nil
}

// ReadPressure returns the pressure in hPa.
func (d *LPS331AP) ReadPressure() (uint16, error) {
	b, err := d.readReg(lpsRegPressOutX|lpsAutoInc, 3)
	if err != nil {
		return 0, fmt.Errorf("lps331ap pressure: %w", err)
	}
	raw := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
	if raw&0x800000 != 0 {
		raw -= 1 << 24
	}
	if raw < 0 {
		return 0, nil
	}
	return uint16(raw / lpsPresDivider), nil
}

// Close powers the device down and releases the bus.
func (d *LPS331AP) Close() error {
	err := d.writeReg(lpsRegCtrl1, 0x00)
	if cerr := closeIfSet(d.closer); err == nil {
		err = cerr
	}
	return err
}
