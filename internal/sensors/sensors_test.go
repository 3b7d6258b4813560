package sensors

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/sensor_node/internal/config"
)

func lpsInitOps(addr uint16) []i2ctest.IO {
	return []i2ctest.IO{
		{Addr: addr, W: []byte{lpsRegWhoAmI}, R: []byte{lpsWhoAmI}},
		{Addr: addr, W: []byte{lpsRegResConf, lpsResConf}},
		{Addr: addr, W: []byte{lpsRegCtrl1, lpsCtrl1}},
	}
}

func TestLPS331AP_ReadTemperatureAndPressure(t *testing.T) {
	ops := lpsInitOps(DefaultLPS331APAddr)
	ops = append(ops,
		// raw -10066 -> 42.5 + (-10066/480) = 21.53 °C
		i2ctest.IO{Addr: DefaultLPS331APAddr, W: []byte{lpsRegTempOutL | lpsAutoInc}, R: []byte{0xAE, 0xD8}},
		// 1013 * 4096 = 0x3F5000
		i2ctest.IO{Addr: DefaultLPS331APAddr, W: []byte{lpsRegPressOutX | lpsAutoInc}, R: []byte{0x00, 0x50, 0x3F}},
	)
	bus := &i2ctest.Playback{Ops: ops}

	dev, err := NewLPS331AP(bus, 0)
	if err != nil {
		t.Fatalf("NewLPS331AP() error = %v", err)
	}

	temp, err := dev.ReadTemperature()
	if err != nil {
		t.Fatalf("ReadTemperature() error = %v", err)
	}
	if temp != 2153 {
		t.Errorf("ReadTemperature() = %d, want 2153", temp)
	}

	pres, err := dev.ReadPressure()
	if err != nil {
		t.Fatalf("ReadPressure() error = %v", err)
	}
	if pres != 1013 {
		t.Errorf("ReadPressure() = %d, want 1013", pres)
	}

	if err := bus.Close(); err != nil {
		t.Errorf("playback not fully consumed: %v", err)
	}
}

func TestLPS331AP_WrongDevice(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x5D, W: []byte{lpsRegWhoAmI}, R: []byte{0xBD}}},
		DontPanic: true,
	}
	if _, err := NewLPS331AP(bus, 0x5D); err == nil {
		t.Fatal("NewLPS331AP() error = nil, want WHO_AM_I mismatch")
	}
}

func TestLSM303DLHC_ReadMotion(t *testing.T) {
	const a, m = DefaultLSM303AccelAddr, DefaultLSM303MagAddr
	bus := &i2ctest.Playback{Ops: []i2ctest.IO{
		{Addr: m, W: []byte{lsmRegIRAM}, R: []byte("H43")},
		{Addr: a, W: []byte{lsmRegCtrl1A, lsmAccelCtrl1}},
		{Addr: a, W: []byte{lsmRegCtrl4A, lsmAccelCtrl4}},
		{Addr: m, W: []byte{lsmRegCRAM, lsmMagCRA}},
		{Addr: m, W: []byte{lsmRegCRBM, lsmMagCRB}},
		{Addr: m, W: []byte{lsmRegMRM, lsmMagMR}},
		// ax=16, ay=-16, az=1000 (left-justified by 4 bits)
		{Addr: a, W: []byte{lsmRegOutXLA | lsmAutoInc}, R: []byte{0x00, 0x01, 0x00, 0xFF, 0x80, 0x3E}},
		// mx=256, mz=-2, my=1
		{Addr: m, W: []byte{lsmRegOutXHM}, R: []byte{0x01, 0x00, 0xFF, 0xFE, 0x00, 0x01}},
	}}

	dev, err := NewLSM303DLHC(bus, 0, 0)
	if err != nil {
		t.Fatalf("NewLSM303DLHC() error = %v", err)
	}
	got, err := dev.ReadMotion()
	if err != nil {
		t.Fatalf("ReadMotion() error = %v", err)
	}

	tests := []struct {
		name      string
		got, want int16
	}{
		{"ax", got.Ax, 16},
		{"ay", got.Ay, -16},
		{"az", got.Az, 1000},
		{"mx", got.Mx, 256},
		{"my", got.My, 1},
		{"mz", got.Mz, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
			}
		})
	}

	if err := bus.Close(); err != nil {
		t.Errorf("playback not fully consumed: %v", err)
	}
}

func TestLSM303DLHC_WrongID(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: DefaultLSM303MagAddr, W: []byte{lsmRegIRAM}, R: []byte("XYZ")}},
		DontPanic: true,
	}
	if _, err := NewLSM303DLHC(bus, 0, 0); err == nil {
		t.Fatal("NewLSM303DLHC() error = nil, want id mismatch")
	}
}

type fakeEnv struct {
	env physic.Env
	err error
}

func (f *fakeEnv) Sense(e *physic.Env) error {
	if f.err != nil {
		return f.err
	}
	*e = f.env
	return nil
}

func (f *fakeEnv) Halt() error { return nil }

func TestBMP_Conversions(t *testing.T) {
	dev := &BMP{dev: &fakeEnv{env: physic.Env{
		Temperature: physic.ZeroCelsius + 21530*physic.MilliKelvin,
		Pressure:    101325 * physic.Pascal,
	}}}

	temp, err := dev.ReadTemperature()
	if err != nil {
		t.Fatalf("ReadTemperature() error = %v", err)
	}
	if temp != 2153 {
		t.Errorf("ReadTemperature() = %d, want 2153", temp)
	}
	pres, err := dev.ReadPressure()
	if err != nil {
		t.Fatalf("ReadPressure() error = %v", err)
	}
	if pres != 1013 {
		t.Errorf("ReadPressure() = %d, want 1013", pres)
	}
}

func TestBMP_SenseError(t *testing.T) {
	want := errors.New("bus stuck")
	dev := &BMP{dev: &fakeEnv{err: want}}
	if _, err := dev.ReadPressure(); !errors.Is(err, want) {
		t.Errorf("ReadPressure() error = %v, want %v", err, want)
	}
}

func TestOpen_Mock(t *testing.T) {
	cfg := config.Default()
	cfg.PressureSensor = config.SensorMock
	cfg.MotionSensor = config.SensorMock
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := OpenPressure(cfg, logger)
	if err != nil {
		t.Fatalf("OpenPressure() error = %v", err)
	}
	defer p.Close()
	temp, _ := p.ReadTemperature()
	if temp < 1800 || temp > 2400 {
		t.Errorf("mock temperature %d out of range", temp)
	}
	pres, _ := p.ReadPressure()
	if pres < 1000 || pres > 1025 {
		t.Errorf("mock pressure %d out of range", pres)
	}

	m, err := OpenMotion(cfg, logger)
	if err != nil {
		t.Fatalf("OpenMotion() error = %v", err)
	}
	defer m.Close()
	motion, _ := m.ReadMotion()
	if motion.Source != cfg.DeviceID || motion.Az != 1000 {
		t.Errorf("mock motion = %+v", motion)
	}
}
