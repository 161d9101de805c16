package perception

// SlopeSentinel is reported when the line centroid sits exactly on the
// vertical centre line of the frame. The controller reads it as "straight
// ahead".
const SlopeSentinel = 1e9

// Slope returns the slope of the segment from the bottom centre of a w x h
// frame to (cx, cy), with y measured upward.
func Slope(cx, cy, w, h int) float64 {
	baseX := w / 2
	if cx == baseX {
		return SlopeSentinel
	}
	return float64(h-cy) / float64(cx-baseX)
}

// LineState is the outcome of tracking one frame.
type LineState struct {
	// Slope is nil when no line was found.
	Slope     *float64
	LastLineX int
	Area      float64
	// Best is the followed contour and CX, CY its centroid; set only when
	// Slope is non-nil.
	Best   Contour
	CX, CY int
}

// LineTracker carries the tracked line position from frame to frame.
// It is not safe for concurrent use.
type LineTracker struct {
	Selector  Selector
	lastLineX int
}

// NewLineTracker starts tracking at the horizontal centre of the frame.
func NewLineTracker(s Selector) *LineTracker {
	return &LineTracker{Selector: s, lastLineX: s.FrameWidth / 2}
}

// LastLineX returns the x position of the most recently followed line.
func (t *LineTracker) LastLineX() int {
	return t.lastLineX
}

// Update selects the line among contours and updates the tracked position.
// When nothing qualifies the previous position is kept and Slope is nil.
func (t *LineTracker) Update(contours []Contour) LineState {
	best, ok := t.Selector.Select(contours, float64(t.lastLineX))
	if !ok {
		return LineState{LastLineX: t.lastLineX}
	}
	c := contours[best.Index]
	cx, cy := Centroid(c)
	t.lastLineX = cx
	slope := Slope(cx, cy, t.Selector.FrameWidth, t.Selector.FrameHeight)
	return LineState{
		Slope:     &slope,
		LastLineX: cx,
		Area:      best.Area,
		Best:      c,
		CX:        cx,
		CY:        cy,
	}
}
