package perception

import (
	"cmp"
	"math"
	"slices"
)

// Selector picks the contour to follow among the line candidates of a frame.
type Selector struct {
	FrameWidth  int
	FrameHeight int
	// MinArea drops contours smaller than this many square pixels.
	MinArea float64
	// BottomRatio is the fraction of the frame height a contour's bottom
	// edge must reach to count as touching the bottom.
	BottomRatio float64
	// A bottom-touching contour wider than WideBottomPx and further than
	// FarDistancePx from the tracked position has its distance doubled.
	WideBottomPx  float64
	FarDistancePx float64
}

// Candidate describes one contour that passed the area filter.
type Candidate struct {
	// Index is the position of the contour in the slice given to Rank.
	Index         int
	Area          float64
	BottomY       float64
	BottomWidth   float64
	BottomMidX    float64
	ReachesBottom bool
	// Score is the (possibly penalised) distance of the bottom edge midpoint
	// from the tracked position. It is only meaningful for candidates that
	// reach the bottom.
	Score float64
}

// candidate measures c, reporting false when it is below the area threshold.
func (s Selector) candidate(i int, c Contour, lastX float64) (Candidate, bool) {
	area := ContourArea(c)
	if area < s.MinArea {
		return Candidate{}, false
	}
	a, b := MinAreaRect(c).BottomEdge()
	cand := Candidate{
		Index:         i,
		Area:          area,
		BottomY:       a.Y,
		BottomWidth:   math.Abs(a.X - b.X),
		BottomMidX:    (a.X + b.X) / 2,
		ReachesBottom: a.Y >= float64(s.FrameHeight)*s.BottomRatio,
	}
	cand.Score = math.Abs(lastX - cand.BottomMidX)
	if cand.BottomWidth > s.WideBottomPx && cand.Score > s.FarDistancePx {
		cand.Score *= 2
	}
	return cand, true
}

// compareCandidates orders candidates best first.
//
// Contours that reach the bottom of the frame come first, ranked by score.
// The rest follow, lowest bottom edge first. Remaining ties are broken by
// bottom y, midpoint x and area so that the ranking never depends on the
// order contours were found in.
func compareCandidates(a, b Candidate) int {
	if a.ReachesBottom != b.ReachesBottom {
		if a.ReachesBottom {
			return -1
		}
		return 1
	}
	if a.ReachesBottom {
		if c := cmp.Compare(a.Score, b.Score); c != 0 {
			return c
		}
	}
	if c := cmp.Compare(b.BottomY, a.BottomY); c != 0 {
		return c
	}
	if c := cmp.Compare(a.BottomMidX, b.BottomMidX); c != 0 {
		return c
	}
	return cmp.Compare(b.Area, a.Area)
}

// Rank measures every contour and returns the qualifying candidates, best
// first. lastX is the x position of the line tracked in the previous frame.
func (s Selector) Rank(contours []Contour, lastX float64) []Candidate {
	cands := make([]Candidate, 0, len(contours))
	for i, c := range contours {
		if cand, ok := s.candidate(i, c, lastX); ok {
			cands = append(cands, cand)
		}
	}
	slices.SortStableFunc(cands, compareCandidates)
	return cands
}

// Select returns the best candidate, or false when no contour qualifies.
func (s Selector) Select(contours []Contour, lastX float64) (Candidate, bool) {
	cands := s.Rank(contours, lastX)
	if len(cands) == 0 {
		return Candidate{}, false
	}
	return cands[0], true
}
