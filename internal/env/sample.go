package env

import (
	"strconv"
	"strings"
	"time"
)

// Snapshot is one fixed-point reading of the pressure/temperature sensor.
type Snapshot struct {
	Temperature int16  // hundredths of °C
	Pressure    uint16 // hPa
}

// Celsius returns the temperature as a float.
func (s Snapshot) Celsius() float64 {
	return float64(s.Temperature) / 100.0
}

// Format renders the snapshot as the node's outbound JSON payload:
//
//	{"1. temperature": "21.53", "2. Pressure": "1013"}
func Format(s Snapshot) string {
	var b strings.Builder
	b.WriteString(`{"1. temperature": "`)
	b.WriteString(FormatTemperature(s.Temperature))
	b.WriteString(`", "2. Pressure": "`)
	b.WriteString(strconv.FormatUint(uint64(s.Pressure), 10))
	b.WriteString(`"}`)
	return b.String()
}

// FormatTemperature renders hundredths of °C as "<int>.<frac>". The
// integer part is t/100 (truncated toward zero) and the fraction is
// |t%100| on two digits.
func FormatTemperature(t int16) string {
	v := int(t)
	whole, frac := v/100, v%100
	if frac < 0 {
		frac = -frac
	}

	var b strings.Builder
	if v < 0 && whole == 0 {
		b.WriteByte('-')
	}
	b.WriteString(strconv.Itoa(whole))
	b.WriteByte('.')
	if frac < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.Itoa(frac))
	return b.String()
}

// Sample represents a single environmental measurement with its origin,
// used by the web status page and the time-series sink.
type Sample struct {
	Source string `json:"source"` // device identifier

	Temperature float64   `json:"temp_c"`       // °C
	Pressure    float64   `json:"pressure_hpa"` // hPa
	Time        time.Time `json:"time"`
}

// NewSample converts a fixed-point snapshot into a Sample.
func NewSample(source string, s Snapshot, at time.Time) Sample {
	return Sample{
		Source:      source,
		Temperature: s.Celsius(),
		Pressure:    float64(s.Pressure),
		Time:        at,
	}
}
