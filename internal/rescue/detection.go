// Package rescue reduces externally supplied object detections to a single
// steering target and holds the rescue bookkeeping of the controller.
package rescue

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/rescuebot/internal/timeutil"
)

// Class is a detector class ID.
type Class int

// Detector classes.
const (
	SilverBall Class = iota
	BlackBall
	GreenCage // delivery point for silver balls
	RedCage   // delivery point for black balls
	ExitMarker
	numClasses
)

var classNames = [numClasses]string{"silver", "black", "green_cage", "red_cage", "exit"}

func (c Class) String() string {
	if c < 0 || c >= numClasses {
		return fmt.Sprintf("class(%d)", int(c))
	}
	return classNames[c]
}

// Valid reports whether c is a known class.
func (c Class) Valid() bool {
	return c >= 0 && c < numClasses
}

// CageFor returns the cage a ball of class c is delivered to.
func CageFor(c Class) Class {
	if c == BlackBall {
		return RedCage
	}
	return GreenCage
}

// ClassSet is a small set of classes.
type ClassSet uint8

// Classes builds a set.
func Classes(cs ...Class) ClassSet {
	var s ClassSet
	for _, c := range cs {
		if c.Valid() {
			s |= 1 << uint(c)
		}
	}
	return s
}

// Has reports whether c is in the set.
func (s ClassSet) Has(c Class) bool {
	return c.Valid() && s&(1<<uint(c)) != 0
}

func (s ClassSet) String() string {
	var names []string
	for c := Class(0); c < numClasses; c++ {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Detection is one labelled box in detector input pixels.
type Detection struct {
	ClassID Class   `json:"class_id"`
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Area is the box area.
func (d Detection) Area() float64 {
	return d.Width * d.Height
}

// Target is the detection chosen for steering.
type Target struct {
	Class Class
	// Offset is the signed distance of the box centre from the vertical
	// midline of the frame; positive is to the right.
	Offset float64
	Area   float64
}

// SelectTarget picks, among detections whose class is in valid, the box
// closest to the frame's vertical midline. While not caching a silver ball
// is accepted even when it is not in valid. The first of equally close
// boxes wins.
func SelectTarget(dets []Detection, valid ClassSet, isCaching bool, frameWidth int) (Target, bool) {
	mid := float64(frameWidth) / 2
	var (
		best  Target
		found bool
	)
	for _, d := range dets {
		if !valid.Has(d.ClassID) && (isCaching || d.ClassID != SilverBall) {
			continue
		}
		off := d.CenterX - mid
		if found && math.Abs(off) >= math.Abs(best.Offset) {
			continue
		}
		best = Target{Class: d.ClassID, Offset: off, Area: d.Area()}
		found = true
	}
	return best, found
}

// DetectionStore keeps the latest detection batch pushed by the external
// detector and hides it once it is older than the staleness window.
type DetectionStore struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	maxAge  time.Duration
	dets    []Detection
	updated time.Time
	batches uint64
}

// NewDetectionStore returns an empty store.
func NewDetectionStore(clock timeutil.Clock, maxAge time.Duration) *DetectionStore {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &DetectionStore{clock: clock, maxAge: maxAge}
}

// Update replaces the current batch. Detections with unknown classes are
// dropped.
func (s *DetectionStore) Update(dets []Detection) (kept int) {
	filtered := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.ClassID.Valid() {
			filtered = append(filtered, d)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.dets = filtered
	s.updated = s.clock.Now()
	s.batches++
	return len(filtered)
}

// Latest returns a copy of the current batch, or false when there is none
// or it has gone stale.
func (s *DetectionStore) Latest() ([]Detection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches == 0 || s.clock.Since(s.updated) > s.maxAge {
		return nil, false
	}
	out := make([]Detection, len(s.dets))
	copy(out, s.dets)
	return out, true
}

// Stats reports how many batches were received and when the last arrived.
func (s *DetectionStore) Stats() (batches uint64, updated time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches, s.updated
}
