package sensors

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/sensor_node/internal/imu"
)

// LSM303DLHC accelerometer registers.
const (
	lsmRegCtrl1A  = 0x20
	lsmRegCtrl4A  = 0x23
	lsmRegOutXLA  = 0x28
	lsmAutoInc    = 0x80
	lsmAccelCtrl1 = 0x57 // 100 Hz, normal power, X/Y/Z enabled
	lsmAccelCtrl4 = 0x08 // ±2 g, high resolution
)

// LSM303DLHC magnetometer registers.
const (
	lsmRegCRAM   = 0x00
	lsmRegCRBM   = 0x01
	lsmRegMRM    = 0x02
	lsmRegOutXHM = 0x03
	lsmRegIRAM   = 0x0A
	lsmMagCRA    = 0x10 // 15 Hz
	lsmMagCRB    = 0x20 // ±1.3 gauss
	lsmMagMR     = 0x00 // continuous conversion
	lsmMagSleep  = 0x03
)

// Default addresses of the two dies in the package.
const (
	DefaultLSM303AccelAddr = 0x19
	DefaultLSM303MagAddr   = 0x1E
)

// LSM303DLHC is an ST accelerometer + magnetometer combo on I²C. The two
// functions answer on separate addresses.
type LSM303DLHC struct {
	accel  regDev
	mag    regDev
	source string
	closer io.Closer
}

// NewLSM303DLHC identifies the magnetometer and configures both dies for
// continuous measurement.
func NewLSM303DLHC(bus i2c.Bus, accelAddr, magAddr uint16) (*LSM303DLHC, error) {
	if accelAddr == 0 {
		accelAddr = DefaultLSM303AccelAddr
	}
	if magAddr == 0 {
		magAddr = DefaultLSM303MagAddr
	}
	d := &LSM303DLHC{
		accel: regDev{dev: i2c.Dev{Bus: bus, Addr: accelAddr}},
		mag:   regDev{dev: i2c.Dev{Bus: bus, Addr: magAddr}},
	}

	id, err := d.mag.readReg(lsmRegIRAM, 3)
	if err != nil {
		return nil, fmt.Errorf("lsm303dlhc: %w", err)
	}
	if string(id) != "H43" {
		return nil, fmt.Errorf("lsm303dlhc: unexpected magnetometer id %q", id)
	}

	for _, w := range []struct {
		dev      *regDev
		reg, val byte
	}{
		{&d.accel, lsmRegCtrl1A, lsmAccelCtrl1},
		{&d.accel, lsmRegCtrl4A, lsmAccelCtrl4},
		{&d.mag, lsmRegCRAM, lsmMagCRA},
		{&d.mag, lsmRegCRBM, lsmMagCRB},
		{&d.mag, lsmRegMRM, lsmMagMR},
	} {
		if err := w.dev.writeReg(w.reg, w.val); err != nil {
			return nil, fmt.Errorf("lsm303dlhc: %w", err)
		}
	}
	return d, nil
}

// ReadMotion reads one accelerometer and one magnetometer sample.
func (d *LSM303DLHC) ReadMotion() (imu.Motion, error) {
	a, err := d.accel.readReg(lsmRegOutXLA|lsmAutoInc, 6)
	if err != nil {
		return imu.Motion{}, fmt.Errorf("lsm303dlhc accel: %w", err)
	}
	m, err := d.mag.readReg(lsmRegOutXHM, 6)
	if err != nil {
		return imu.Motion{}, fmt.Errorf("lsm303dlhc mag: %w", err)
	}

	// Accel is 12-bit left-justified little endian; mag is big endian in
	// X, Z, Y order.
	le := func(lo, hi byte) int16 { return int16(uint16(lo)|uint16(hi)<<8) >> 4 }
	be := func(hi, lo byte) int16 { return int16(uint16(hi)<<8 | uint16(lo)) }

	return imu.Motion{
		Source: d.source,
		Ax:     le(a[0], a[1]),
		Ay:     le(a[2], a[3]),
		Az:     le(a[4], a[5]),
		Mx:     be(m[0], m[1]),
		Mz:     be(m[2], m[3]),
		My:     be(m[4], m[5]),
	}, nil
}

// Close puts both dies to sleep and releases the bus.
func (d *LSM303DLHC) Close() error {
	err := d.accel.writeReg(lsmRegCtrl1A, 0x00)
	if merr := d.mag.writeReg(lsmRegMRM, lsmMagSleep); err == nil {
		err = merr
	}
	if cerr := closeIfSet(d.closer); err == nil {
		err = cerr
	}
	return err
}
