// Package camera delivers frames from a capture device to a per-frame
// handler.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/rescuebot/internal/config"
	"github.com/banshee-data/rescuebot/internal/monitoring"
)

// ErrDeviceLost is returned by Run when the device stops producing frames.
var ErrDeviceLost = errors.New("camera: device stopped delivering frames")

// maxMissedReads is the number of consecutive failed reads tolerated before
// the device is considered lost. Each miss waits readRetryDelay first.
const (
	maxMissedReads = 30
	readRetryDelay = 20 * time.Millisecond
)

// FrameHandler is called with every captured frame. The Mat is reused for
// the next frame and must not be kept after the handler returns.
type FrameHandler func(frame gocv.Mat)

// Source produces frames until its context is cancelled or it is closed.
type Source interface {
	// Run blocks, calling handle for each frame. It returns nil when ctx is
	// cancelled or the source is closed.
	Run(ctx context.Context, handle FrameHandler) error
	Close() error
}

// Property is one capture property applied when the device is opened.
type Property struct {
	ID    gocv.VideoCaptureProperties
	Name  string
	Value float64
}

// Properties maps the configured size, rate and controls onto capture
// properties. Controls without a capture property equivalent are returned
// by name in unsupported.
func Properties(cfg config.CameraConfig, c config.CameraControls) (props []Property, unsupported []string) {
	props = []Property{
		{gocv.VideoCaptureFrameWidth, "width", float64(cfg.Width)},
		{gocv.VideoCaptureFrameHeight, "height", float64(cfg.Height)},
	}
	if cfg.FPS > 0 {
		props = append(props, Property{gocv.VideoCaptureFPS, "fps", cfg.FPS})
	}

	switch strings.ToLower(c.AfMode) {
	case "manual":
		props = append(props,
			Property{gocv.VideoCaptureAutoFocus, "autofocus", 0},
			Property{gocv.VideoCaptureFocus, "focus", c.LensPosition})
	case "auto", "continuous":
		props = append(props, Property{gocv.VideoCaptureAutoFocus, "autofocus", 1})
	case "":
	default:
		unsupported = append(unsupported, "af_mode="+c.AfMode)
	}

	awb := 0.0
	if c.AwbEnable {
		awb = 1
	}
	props = append(props, Property{gocv.VideoCaptureAutoWB, "auto_wb", awb})

	for _, kv := range [][2]string{
		{"af_speed", c.AfSpeed},
		{"ae_metering_mode", c.AeMeteringMode},
		{"awb_mode", c.AwbMode},
		{"hdr_mode", c.HdrMode},
	} {
		if kv[1] != "" {
			unsupported = append(unsupported, kv[0]+"="+kv[1])
		}
	}
	if c.AeFlickerPeriod != 0 {
		unsupported = append(unsupported, fmt.Sprintf("ae_flicker_period=%d", c.AeFlickerPeriod))
	}
	return props, unsupported
}

// frameReader is the part of *gocv.VideoCapture that Capture uses.
type frameReader interface {
	Read(m *gocv.Mat) bool
	Close() error
}

// Capture reads frames from a video capture device.
type Capture struct {
	dev    frameReader
	device int
	retry  time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	running sync.WaitGroup
	closed  bool
}

// Open opens the capture device and applies cfg and controls.
func Open(device int, cfg config.CameraConfig, controls config.CameraControls) (*Capture, error) {
	dev, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	if !dev.IsOpened() {
		dev.Close()
		return nil, fmt.Errorf("open camera %d: device not available", device)
	}

	props, unsupported := Properties(cfg, controls)
	for _, p := range props {
		dev.Set(p.ID, p.Value)
	}
	if len(unsupported) > 0 {
		monitoring.Logf("[camera] device %d ignores controls: %s", device, strings.Join(unsupported, ", "))
	}
	monitoring.Logf("[camera] device %d open at %dx%d", device, cfg.Width, cfg.Height)
	return newCapture(dev, device), nil
}

func newCapture(dev frameReader, device int) *Capture {
	return &Capture{dev: dev, device: device, retry: readRetryDelay, stop: make(chan struct{})}
}

// Run reads frames until ctx is done or Close is called.
func (c *Capture) Run(ctx context.Context, handle FrameHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.running.Add(1)
	c.mu.Unlock()
	defer c.running.Done()

	frame := gocv.NewMat()
	defer frame.Close()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stop:
			return nil
		default:
		}

		if ok := c.dev.Read(&frame); !ok || frame.Empty() {
			misses++
			if misses >= maxMissedReads {
				return fmt.Errorf("camera %d: %w", c.device, ErrDeviceLost)
			}
			if !c.wait(ctx) {
				return nil
			}
			continue
		}
		misses = 0
		handle(frame)
	}
}

// wait sleeps for the retry delay. It reports false when Run should return.
func (c *Capture) wait(ctx context.Context) bool {
	t := time.NewTimer(c.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.stop:
		return false
	case <-t.C:
		return true
	}
}

// Close stops Run, waits for it to return and releases the device. It is
// safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.running.Wait()
	return c.dev.Close()
}
