package env

import (
	"encoding/json"
	"regexp"
	"strconv"
	"testing"
	"time"
)

func TestFormat_Scenario(t *testing.T) {
	got := Format(Snapshot{Temperature: 2153, Pressure: 1013})
	want := `{"1. temperature": "21.53", "2. Pressure": "1013"}`
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestFormat_Cases(t *testing.T) {
	tests := []struct {
		name string
		in   Snapshot
		want string
	}{
		{"zero", Snapshot{}, `{"1. temperature": "0.00", "2. Pressure": "0"}`},
		{"small fraction", Snapshot{Temperature: 2105, Pressure: 998}, `{"1. temperature": "21.05", "2. Pressure": "998"}`},
		{"negative", Snapshot{Temperature: -1234, Pressure: 1020}, `{"1. temperature": "-12.34", "2. Pressure": "1020"}`},
		{"negative below one", Snapshot{Temperature: -53, Pressure: 1020}, `{"1. temperature": "-0.53", "2. Pressure": "1020"}`},
		{"extremes", Snapshot{Temperature: -32768, Pressure: 65535}, `{"1. temperature": "-327.68", "2. Pressure": "65535"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.in); got != tt.want {
				t.Errorf("Format(%+v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

var formatRE = regexp.MustCompile(`^\{"1\. temperature": "(-?\d+)\.(\d{2})", "2\. Pressure": "(\d+)"\}$`)

func TestFormat_SplitsTemperature(t *testing.T) {
	for _, temp := range []int16{-32768, -10001, -100, -99, -1, 0, 1, 99, 100, 2153, 32767} {
		for _, pres := range []uint16{0, 1, 1013, 65535} {
			out := Format(Snapshot{Temperature: temp, Pressure: pres})
			m := formatRE.FindStringSubmatch(out)
			if m == nil {
				t.Fatalf("Format(%d, %d) = %q, does not match template", temp, pres, out)
			}
			whole, _ := strconv.Atoi(m[1])
			frac, _ := strconv.Atoi(m[2])
			p, _ := strconv.Atoi(m[3])

			wantFrac := int(temp) % 100
			if wantFrac < 0 {
				wantFrac = -wantFrac
			}
			if whole != int(temp)/100 {
				t.Errorf("Format(%d) integer part = %d, want %d", temp, whole, int(temp)/100)
			}
			if frac != wantFrac {
				t.Errorf("Format(%d) fraction = %d, want %d", temp, frac, wantFrac)
			}
			if p != int(pres) {
				t.Errorf("Format(pressure %d) = %d", pres, p)
			}
			if !json.Valid([]byte(out)) {
				t.Errorf("Format() output is not valid JSON: %s", out)
			}
		}
	}
}

func TestNewSample(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSample("my_station", Snapshot{Temperature: -250, Pressure: 1001}, at)
	if s.Temperature != -2.5 {
		t.Errorf("Temperature = %v, want -2.5", s.Temperature)
	}
	if s.Pressure != 1001 {
		t.Errorf("Pressure = %v, want 1001", s.Pressure)
	}
	if s.Source != "my_station" || !s.Time.Equal(at) {
		t.Errorf("Source/Time = %q/%v", s.Source, s.Time)
	}
}
