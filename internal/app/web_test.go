package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/sensor_node/internal/env"
)

func TestWeb_StatusBeforeFirstSample(t *testing.T) {
	n, _ := newTestNode(testConfig(), newFakeClient(), &fixedPressure{})
	srv := httptest.NewServer(WebHandler(n, NewSampleHub()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestWeb_StatusAfterSample(t *testing.T) {
	n, _ := newTestNode(testConfig(), newFakeClient(), &fixedPressure{temp: 2153, pres: 1013})
	n.Tick(t.Context())
	n.Status().Set([]byte("ON"))

	srv := httptest.NewServer(WebHandler(n, NewSampleHub()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DeviceID != "my_station" || got.Inbox != "ON" {
		t.Errorf("response = %+v", got)
	}
	if got.LastSample.Temperature != 21.53 || got.LastSample.Pressure != 1013 {
		t.Errorf("last_sample = %+v", got.LastSample)
	}
}

func TestWeb_StreamsSamples(t *testing.T) {
	n, _ := newTestNode(testConfig(), newFakeClient(), &fixedPressure{})
	hub := NewSampleHub()
	srv := httptest.NewServer(WebHandler(n, hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := env.Sample{Source: "my_station", Temperature: 19.5, Pressure: 1001, Time: time.Unix(1700000000, 0).UTC()}
	hub.WriteSample(t.Context(), want)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got env.Sample
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Source != want.Source || got.Temperature != want.Temperature || !got.Time.Equal(want.Time) {
		t.Errorf("sample = %+v, want %+v", got, want)
	}
}
