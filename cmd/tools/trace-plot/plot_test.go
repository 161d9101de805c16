package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rescuebot/internal/link"
	"github.com/banshee-data/rescuebot/internal/navigation"
)

func traceTicks() []navigation.TickRecord {
	t0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	s := 0.5
	return []navigation.TickRecord{
		{Seq: 1, At: t0, State: navigation.LineFollowing, MotorL: 1700, MotorR: 1600, Slope: &s, LastLineX: 150, Distances: link.Distances{Front: 80}},
		{Seq: 2, At: t0.Add(time.Second), State: navigation.LineFollowing, MotorL: 1600, MotorR: 1700, LastLineX: 150, Distances: link.Distances{Front: 60}},
		{Seq: 3, At: t0.Add(2 * time.Second), State: navigation.RescueSearching, MotorL: 1500, MotorR: 1500, LastLineX: 150, Distances: link.Distances{Front: 40}},
		{Seq: 4, At: t0.Add(3 * time.Second), State: navigation.Stopped, MotorL: 1600, MotorR: 1600, Slope: &s, LastLineX: 160, Distances: link.Distances{Front: 20}},
	}
}

func TestSummarise(t *testing.T) {
	s := summarise(traceTicks())
	assert.Equal(t, 4, s.Ticks)
	assert.Equal(t, 3*time.Second, s.Duration)
	assert.InDelta(t, 1600, s.MeanL, 1e-9)
	assert.InDelta(t, 1600, s.MeanR, 1e-9)
	assert.Greater(t, s.StdL, 0.0)
	assert.InDelta(t, 0.5, s.LineFraction, 1e-9)

	assert.Equal(t, summary{}, summarise(nil))
}

func TestStateTicks(t *testing.T) {
	ticks := stateTicks{}.Ticks(-0.5, 2.5)
	require.Len(t, ticks, 3)
	assert.Equal(t, "line_following", ticks[0].Label)
	assert.Equal(t, "rescue_searching", ticks[2].Label)
}

func TestRenderTrace(t *testing.T) {
	dir := t.TempDir()
	files, err := renderTrace(traceTicks(), dir, "0123456789abcdef")
	require.NoError(t, err)
	require.Len(t, files, 4)
	for _, f := range files {
		assert.Contains(t, f, "01234567_")
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}
