package perception

import (
	"sync/atomic"
	"time"
)

// Snapshot is the perception state published after each processed frame.
// A published snapshot is never modified; readers may keep it.
type Snapshot struct {
	// Slope is nil when no line was found in the frame.
	Slope          *float64    `json:"slope"`
	LastLineX      int         `json:"last_line_x"`
	LineArea       float64     `json:"line_area"`
	GreenMarks     []Mark      `json:"green_marks"`
	GreenAdjacency []Adjacency `json:"green_adjacency"`
	RedMarks       []Mark      `json:"red_marks"`
	FrameSeq       uint64      `json:"frame_seq"`
	CapturedAt     time.Time   `json:"captured_at"`
}

// HasLine reports whether a line was found.
func (s *Snapshot) HasLine() bool {
	return s != nil && s.Slope != nil
}

// Store hands snapshots from the camera goroutine to the control loop. The
// writer replaces the whole snapshot in one atomic swap, so a reader never
// sees a partially updated frame.
type Store struct {
	current atomic.Pointer[Snapshot]
	notify  chan struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{notify: make(chan struct{}, 1)}
}

// Publish makes snap the current snapshot. snap must not be modified
// afterwards.
func (s *Store) Publish(snap *Snapshot) {
	s.current.Store(snap)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Latest returns the current snapshot, or nil before the first frame.
func (s *Store) Latest() *Snapshot {
	return s.current.Load()
}

// Updated is signalled (coalesced) after each Publish.
func (s *Store) Updated() <-chan struct{} {
	return s.notify
}
