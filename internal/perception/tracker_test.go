package perception

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlope(t *testing.T) {
	tests := []struct {
		name   string
		cx, cy int
		want   float64
	}{
		{"right of centre", 170, 80, 10},
		{"left of centre", 150, 139, -4.1},
		{"far right at top", 320, 0, 180.0 / 160.0},
		{"exactly centred", 160, 50, SlopeSentinel},
		{"centred at bottom", 160, 180, SlopeSentinel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Slope(tt.cx, tt.cy, 320, 180), 1e-12)
		})
	}
}

func TestLineTracker(t *testing.T) {
	tr := NewLineTracker(testSelector())
	assert.Equal(t, 160, tr.LastLineX(), "tracking starts at the frame centre")

	st := tr.Update(nil)
	assert.Nil(t, st.Slope)
	assert.Equal(t, 160, st.LastLineX)

	st = tr.Update([]Contour{rectContour(145, 100, 155, 179)})
	require.NotNil(t, st.Slope)
	assert.InDelta(t, -4.1, *st.Slope, 1e-12)
	assert.Equal(t, 150, st.LastLineX)
	assert.Equal(t, 150, st.CX)
	assert.Equal(t, 139, st.CY)
	assert.Equal(t, 790.0, st.Area)
	assert.Len(t, st.Best, 4)

	// A frame without a usable contour keeps the last position.
	st = tr.Update([]Contour{rectContour(0, 0, 5, 5)})
	assert.Nil(t, st.Slope)
	assert.Equal(t, 150, st.LastLineX)
	assert.Equal(t, 150, tr.LastLineX())
}

func TestLineTracker_CentredLineGivesSentinel(t *testing.T) {
	tr := NewLineTracker(testSelector())
	st := tr.Update([]Contour{rectContour(150, 100, 170, 179)})
	require.NotNil(t, st.Slope)
	assert.Equal(t, SlopeSentinel, *st.Slope)
}
