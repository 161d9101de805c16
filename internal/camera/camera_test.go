package camera

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/banshee-data/rescuebot/internal/config"
)

func TestProperties_LineCamera(t *testing.T) {
	cfg := config.Default().Camera
	props, unsupported := Properties(cfg, cfg.LineControls)

	byName := map[string]float64{}
	for _, p := range props {
		byName[p.Name] = p.Value
	}
	assert.Equal(t, 320.0, byName["width"])
	assert.Equal(t, 180.0, byName["height"])
	assert.Equal(t, 30.0, byName["fps"])
	assert.Equal(t, 0.0, byName["autofocus"])
	assert.InDelta(t, 1.0/0.03, byName["focus"], 1e-9)
	assert.Equal(t, 0.0, byName["auto_wb"])

	assert.Contains(t, unsupported, "hdr_mode=Night")
	assert.Contains(t, unsupported, "ae_flicker_period=10000")
}

func TestProperties_RescueCamera(t *testing.T) {
	cfg := config.Default().Camera
	props, unsupported := Properties(cfg, cfg.RescueControls)

	var focusSet bool
	for _, p := range props {
		switch p.Name {
		case "autofocus":
			assert.Equal(t, 1.0, p.Value)
		case "auto_wb":
			assert.Equal(t, 1.0, p.Value)
		case "focus":
			focusSet = true
		}
	}
	assert.False(t, focusSet, "continuous autofocus must not pin the lens")
	assert.Contains(t, unsupported, "af_speed=Fast")
}

func TestProperties_UnknownAfMode(t *testing.T) {
	_, unsupported := Properties(config.CameraConfig{Width: 1, Height: 1}, config.CameraControls{AfMode: "Macro"})
	assert.Equal(t, []string{"af_mode=Macro"}, unsupported)
}

func TestSynthetic_Run(t *testing.T) {
	s := NewSynthetic(320, 180, time.Millisecond)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var frames atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(m gocv.Mat) {
			if m.Cols() == 320 && m.Rows() == 180 {
				frames.Add(1)
			}
		})
	}()

	require.Eventually(t, func() bool { return frames.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after Close")
	}
}

// failingReader never produces a frame.
type failingReader struct {
	reads  atomic.Int32
	closed atomic.Bool
}

func (r *failingReader) Read(*gocv.Mat) bool {
	r.reads.Add(1)
	return false
}

func (r *failingReader) Close() error {
	r.closed.Store(true)
	return nil
}

func TestCapture_BacksOffOnFailedReads(t *testing.T) {
	dev := &failingReader{}
	c := newCapture(dev, 7)
	c.retry = 2 * time.Millisecond

	start := time.Now()
	err := c.Run(t.Context(), func(gocv.Mat) { t.Error("no frame expected") })
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrDeviceLost)
	assert.ErrorContains(t, err, "camera 7")
	assert.Equal(t, int32(maxMissedReads), dev.reads.Load())
	assert.GreaterOrEqual(t, elapsed, time.Duration(maxMissedReads-1)*c.retry)

	require.NoError(t, c.Close())
	assert.True(t, dev.closed.Load())
}

func TestCapture_CloseInterruptsBackoff(t *testing.T) {
	dev := &failingReader{}
	c := newCapture(dev, 0)
	c.retry = time.Hour

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), func(gocv.Mat) {}) }()

	require.Eventually(t, func() bool { return dev.reads.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop during backoff")
	}
	assert.Equal(t, int32(1), dev.reads.Load(), "no busy retry")
}

func TestSynthetic_Frame(t *testing.T) {
	s := NewSynthetic(320, 180, time.Second)
	s.LineX = 100
	m := s.Frame()
	defer m.Close()

	assert.Equal(t, uint8(0), m.GetVecbAt(90, 100)[0], "line pixel")
	assert.Equal(t, uint8(255), m.GetVecbAt(90, 200)[0], "background pixel")
}
