package cvline

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/banshee-data/rescuebot/internal/config"
	"github.com/banshee-data/rescuebot/internal/fsutil"
	"github.com/banshee-data/rescuebot/internal/perception"
	"github.com/banshee-data/rescuebot/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// whiteFrame returns a blank 320x180 BGR frame.
func whiteFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 180, 320, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func newTestProcessor(t *testing.T, opts Options) (*Processor, *perception.Store) {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = timeutil.NewMockClock(t0)
	}
	store := perception.NewStore()
	p, err := NewProcessor(config.Default().Vision, store, opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, store
}

func TestProcess_VerticalLine(t *testing.T) {
	p, store := newTestProcessor(t, Options{})
	frame := whiteFrame(t)
	gocv.Rectangle(&frame, image.Rect(140, 60, 160, 180), color.RGBA{0, 0, 0, 0}, -1)

	snap := p.Process(frame)
	require.NotNil(t, snap)
	assert.Same(t, snap, store.Latest())
	require.True(t, snap.HasLine())
	assert.InDelta(t, 150, snap.LastLineX, 2)
	assert.Greater(t, snap.LineArea, 1000.0)
	assert.Empty(t, snap.GreenMarks)
	assert.Equal(t, uint64(1), snap.FrameSeq)
	assert.Equal(t, t0, snap.CapturedAt)
}

func TestProcess_BlankFrameKeepsLastX(t *testing.T) {
	p, _ := newTestProcessor(t, Options{})

	snap := p.Process(whiteFrame(t))
	require.NotNil(t, snap)
	assert.Nil(t, snap.Slope)
	assert.Equal(t, 160, snap.LastLineX)
}

func TestProcess_EmptyMatIgnored(t *testing.T) {
	p, store := newTestProcessor(t, Options{})
	empty := gocv.NewMat()
	defer empty.Close()

	assert.Nil(t, p.Process(empty))
	assert.Nil(t, store.Latest())
}

func TestProcess_AfterCloseIgnored(t *testing.T) {
	p, store := newTestProcessor(t, Options{})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.Nil(t, p.Process(whiteFrame(t)))
	assert.Nil(t, store.Latest())
}

func TestProcess_LargerFrameIsResized(t *testing.T) {
	p, _ := newTestProcessor(t, Options{})
	big := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 360, 640, gocv.MatTypeCV8UC3)
	defer big.Close()
	gocv.Rectangle(&big, image.Rect(280, 120, 320, 360), color.RGBA{0, 0, 0, 0}, -1)

	snap := p.Process(big)
	require.True(t, snap.HasLine())
	assert.InDelta(t, 150, snap.LastLineX, 3)
}

func TestProcess_GreenMarkBesideLine(t *testing.T) {
	p, _ := newTestProcessor(t, Options{})
	frame := whiteFrame(t)
	black := color.RGBA{0, 0, 0, 0}
	// Line comes down from the top and turns left above the mark.
	gocv.Rectangle(&frame, image.Rect(150, 0, 170, 120), black, -1)
	gocv.Rectangle(&frame, image.Rect(0, 100, 170, 120), black, -1)
	// A green square just below the corner.
	gocv.Rectangle(&frame, image.Rect(145, 125, 175, 155), color.RGBA{0, 200, 0, 0}, -1)

	snap := p.Process(frame)
	require.Len(t, snap.GreenMarks, 1)
	require.Len(t, snap.GreenAdjacency, 1)
	mk := snap.GreenMarks[0]
	assert.InDelta(t, 160, mk.X, 2)
	assert.InDelta(t, 140, mk.Y, 2)
	adj := snap.GreenAdjacency[0]
	assert.True(t, adj.Top)
	assert.False(t, adj.Bottom)
	assert.True(t, perception.InLowerHalf(snap.GreenMarks, 180))
}

func TestProcess_DebugDump(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	p, _ := newTestProcessor(t, Options{DebugDir: "debug", FS: fs})
	frame := whiteFrame(t)
	gocv.Rectangle(&frame, image.Rect(140, 60, 160, 180), color.RGBA{0, 0, 0, 0}, -1)

	for range 15 {
		p.Process(frame)
	}
	assert.True(t, fs.Exists("debug"))
	assert.True(t, fs.Exists(filepath.Join("debug", "frame_000015_mask.png")))
	assert.True(t, fs.Exists(filepath.Join("debug", "frame_000015_tracking.jpg")))
	assert.False(t, fs.Exists(filepath.Join("debug", "frame_000014_mask.png")))
}
