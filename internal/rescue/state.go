package rescue

import (
	"github.com/banshee-data/rescuebot/internal/config"
	"github.com/banshee-data/rescuebot/internal/link"
)

// ArmFlag is the pending arm action.
type ArmFlag int

const (
	ArmNone ArmFlag = iota
	ArmCatch
	ArmRelease
)

func (a ArmFlag) String() string {
	switch a {
	case ArmCatch:
		return "catch"
	case ArmRelease:
		return "release"
	default:
		return "none"
	}
}

// State is the rescue bookkeeping. It is created on entry to the rescue
// area, mutated only by the controller, and reset when the run button is
// cycled.
type State struct {
	ValidClasses     ClassSet
	SilverCaught     int
	BlackCaught      int
	IsCaching        bool
	HeldClass        Class
	TargetOffset     *float64
	TargetArea       *float64
	TurnSweepDegrees int
	RepositionCount  int
	MotorL, MotorR   int
	Arm              ArmFlag
}

// NewState returns the state at rescue entry.
func NewState() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset returns s to its entry values.
func (s *State) Reset() {
	*s = State{
		ValidClasses: Classes(SilverBall),
		MotorL:       link.MotorNeutral,
		MotorR:       link.MotorNeutral,
	}
}

// UpdateValidClasses applies the class ladder: the held ball's cage while
// caching, otherwise silver balls until the silver quota is met or the sweep
// passes the silver limit, then black balls until the black limit, then the
// exit marker.
func (s *State) UpdateValidClasses(cfg config.RescueConfig) ClassSet {
	switch {
	case s.IsCaching:
		s.ValidClasses = Classes(CageFor(s.HeldClass))
	case s.SilverCaught < cfg.SilverTarget && s.TurnSweepDegrees < cfg.SilverSweepLimit:
		s.ValidClasses = Classes(SilverBall)
	case s.TurnSweepDegrees < cfg.BlackSweepLimit:
		s.ValidClasses = Classes(BlackBall)
	default:
		s.ValidClasses = Classes(ExitMarker)
	}
	return s.ValidClasses
}

// SetTarget records the chosen target, or clears it.
func (s *State) SetTarget(t Target, ok bool) {
	if !ok {
		s.TargetOffset, s.TargetArea = nil, nil
		return
	}
	off, area := t.Offset, t.Area
	s.TargetOffset, s.TargetArea = &off, &area
}

// Caught records a captured ball.
func (s *State) Caught(c Class) {
	if c == BlackBall {
		s.BlackCaught++
	} else {
		s.SilverCaught++
	}
	s.IsCaching = true
	s.HeldClass = c
	s.RepositionCount = 0
	s.Arm = ArmNone
}

// Delivered clears the caching state after a release. The sweep restarts so
// the next class gets a full search.
func (s *State) Delivered() {
	s.IsCaching = false
	s.HeldClass = SilverBall
	s.TurnSweepDegrees = 0
	s.RepositionCount = 0
	s.Arm = ArmNone
}
