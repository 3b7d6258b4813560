package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/sensor_node/internal/env"
)

// statusResponse is served on /api/status.
type statusResponse struct {
	DeviceID   string     `json:"device_id"`
	Connected  bool       `json:"connected"`
	LastSample env.Sample `json:"last_sample"`
	Inbox      string     `json:"inbox"`
}

// SampleHub fans samples out to WebSocket clients.
type SampleHub struct {
	mu      sync.Mutex
	clients map[chan env.Sample]struct{}
}

func NewSampleHub() *SampleHub {
	return &SampleHub{clients: make(map[chan env.Sample]struct{})}
}

// WriteSample never blocks; slow clients miss samples.
func (h *SampleHub) WriteSample(_ context.Context, s env.Sample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- s:
		default:
		}
	}
	return nil
}

func (h *SampleHub) subscribe() chan env.Sample {
	ch := make(chan env.Sample, 4)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *SampleHub) unsubscribe(ch chan env.Sample) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

func (h *SampleHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebHandler serves the JSON status and the live sample stream.
func WebHandler(n *Node, hub *SampleHub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		sample, ok := n.Latest()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(statusResponse{
			DeviceID:   n.cfg.DeviceID,
			Connected:  n.Connected(),
			LastSample: sample,
			Inbox:      n.status.String(),
		}); err != nil {
			n.log.Error("json encode error", "error", err)
		}
	})

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			n.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ch := hub.subscribe()
		defer hub.unsubscribe(ch)

		// Reader goroutine notices the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case s := <-ch:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(s); err != nil {
					n.log.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	})

	return mux
}

// RunWeb serves the status API on port until ctx is cancelled.
func RunWeb(ctx context.Context, n *Node, hub *SampleHub, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           WebHandler(n, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	n.log.Info("web server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
