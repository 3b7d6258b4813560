package app

import (
	"context"
	"fmt"
	"image"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/sensor_node/internal/env"
	"github.com/relabs-tech/sensor_node/internal/sensors"
)

const (
	displayW = 128
	displayH = 64
)

// displayView is what one frame shows.
type displayView struct {
	DeviceID   string
	Snapshot   env.Snapshot
	HaveSample bool
	Connected  bool
	Inbox      string
}

// RunDisplay draws the node state on an SSD1306 until ctx is cancelled.
func RunDisplay(ctx context.Context, n *Node) error {
	bus, err := sensors.OpenBus(n.cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("display: %w", err)
	}
	defer bus.Close()

	opts := ssd1306.DefaultOpts
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	n.log.Info("display initialized", "bus", bus.String())

	if err := dev.Draw(dev.Bounds(), renderSplash(n.cfg.DeviceID), image.Point{}); err != nil {
		n.log.Warn("display splash failed", "error", err)
	}

	interval := time.Duration(n.cfg.DisplayUpdateInterval) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderStatus(n.view()), image.Point{}); err != nil {
				n.log.Warn("display update failed", "error", err)
			}
		}
	}
}

func (n *Node) view() displayView {
	n.mu.RLock()
	v := displayView{
		DeviceID:   n.cfg.DeviceID,
		Snapshot:   n.last,
		HaveSample: n.haveSample,
	}
	n.mu.RUnlock()
	v.Connected = n.Connected()
	v.Inbox = n.status.String()
	return v
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayW, displayH))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func drawLine(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func renderSplash(deviceID string) *image1bit.VerticalLSB {
	img, d := newFrame()
	drawLine(d, 10, 26, "Sensor Node")
	drawLine(d, 10, 43, deviceID)
	return img
}

func renderStatus(v displayView) *image1bit.VerticalLSB {
	img, d := newFrame()

	link := "offline"
	if v.Connected {
		link = "online"
	}
	drawLine(d, 0, 13, fmt.Sprintf("%s %s", v.DeviceID, link))

	if !v.HaveSample {
		drawLine(d, 0, 39, "Waiting...")
		return img
	}
	drawLine(d, 0, 26, "T: "+env.FormatTemperature(v.Snapshot.Temperature)+" C")
	drawLine(d, 0, 39, fmt.Sprintf("P: %d hPa", v.Snapshot.Pressure))
	if v.Inbox != "" {
		drawLine(d, 0, 52, "In: "+v.Inbox)
	}
	return img
}
