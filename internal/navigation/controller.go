// Package navigation implements the robot's control loop: a state machine
// that reads the perception snapshot, detections and link telemetry every
// tick and answers with clamped motor and arm commands.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/rescuebot/internal/config"
	"github.com/banshee-data/rescuebot/internal/link"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/perception"
	"github.com/banshee-data/rescuebot/internal/rescue"
	"github.com/banshee-data/rescuebot/internal/timeutil"
)

// Link is the command set the controller needs from the actuator link.
// *link.Channel implements it.
type Link interface {
	Motor(left, right int) error
	Button() (string, error)
	Ultrasonic() (link.Distances, error)
	Wire(n int) error
	Rescue(angle, wire int) error
}

// SnapshotSource yields the latest perception snapshot.
type SnapshotSource interface {
	Latest() *perception.Snapshot
}

// DetectionSource yields the latest fresh detection batch.
type DetectionSource interface {
	Latest() ([]rescue.Detection, bool)
}

// TickRecord is what the controller saw and did in one tick.
type TickRecord struct {
	Seq       uint64
	At        time.Time
	State     State
	Button    string
	Slope     *float64
	LastLineX int
	FrameSeq  uint64
	MotorL    int
	MotorR    int
	Distances link.Distances
}

// TickRecorder persists tick records. Errors are logged, never fatal.
type TickRecorder interface {
	RecordTick(ctx context.Context, rec TickRecord) error
}

// Status is a copy of the controller state for observers.
type Status struct {
	State        string         `json:"state"`
	Button       string         `json:"button"`
	MotorL       int            `json:"motor_l"`
	MotorR       int            `json:"motor_r"`
	Distances    link.Distances `json:"distances"`
	Ticks        uint64         `json:"ticks"`
	RedLatched   bool           `json:"red_latched"`
	LineLost     bool           `json:"line_lost"`
	ValidClasses string         `json:"valid_classes,omitempty"`
	SilverCaught int            `json:"silver_caught"`
	BlackCaught  int            `json:"black_caught"`
	IsCaching    bool           `json:"is_caching"`
	SweepDegrees int            `json:"sweep_degrees"`
	Reposition   int            `json:"reposition_count"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Deps are the collaborators of a Controller. Detections and Recorder may
// be nil.
type Deps struct {
	Link       Link
	Snapshots  SnapshotSource
	Detections DetectionSource
	Clock      timeutil.Clock
	Recorder   TickRecorder
}

// Controller is the navigation and rescue state machine. Step and Run must
// be called from a single goroutine; Status may be called from any.
type Controller struct {
	vision  config.VisionConfig
	control config.ControlConfig
	rescueC config.RescueConfig

	link     Link
	snaps    SnapshotSource
	dets     DetectionSource
	clock    timeutil.Clock
	recorder TickRecorder

	state         State
	button        string
	redLatched    bool
	lineLostSince time.Time
	settleUntil   time.Time
	rescue        *rescue.State
	motorL        int
	motorR        int
	distances     link.Distances
	ticks         uint64
	lastSnap      *perception.Snapshot

	statusMu sync.RWMutex
	status   Status
}

// New returns a controller in the Stopped state; the first tick with the
// button on starts line following.
func New(cfg *config.Config, deps Deps) *Controller {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	c := &Controller{
		vision:   cfg.Vision,
		control:  cfg.Control,
		rescueC:  cfg.Rescue,
		link:     deps.Link,
		snaps:    deps.Snapshots,
		dets:     deps.Detections,
		clock:    deps.Clock,
		recorder: deps.Recorder,
		state:    Stopped,
		button:   link.ButtonOff,
		motorL:   link.MotorNeutral,
		motorR:   link.MotorNeutral,
	}
	c.publishStatus()
	return c
}

// State returns the current state. Not safe for concurrent use with Step.
func (c *Controller) State() State {
	return c.state
}

// Rescue returns the rescue bookkeeping, or nil outside the rescue area.
// Not safe for concurrent use with Step.
func (c *Controller) Rescue() *rescue.State {
	return c.rescue
}

// Run ticks until ctx is cancelled or the link fails. Cancellation is a
// clean exit and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	monitoring.Logf("[nav] control loop started")
	for {
		if ctx.Err() != nil {
			monitoring.Logf("[nav] control loop stopped after %d ticks", c.ticks)
			return nil
		}
		if err := c.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}
	}
}

// Step runs one control tick. It returns only link failures and context
// errors.
func (c *Controller) Step(ctx context.Context) error {
	err := c.tick(ctx)
	if errors.Is(err, errInterrupted) {
		monitoring.Logf("[nav] button released mid-maneuver")
		err = c.stop()
	}
	c.ticks++
	c.record(ctx)
	c.publishStatus()
	return err
}

func (c *Controller) tick(ctx context.Context) error {
	button, err := c.link.Button()
	if err != nil {
		return fmt.Errorf("poll button: %w", err)
	}
	c.button = button
	if button != link.ButtonOn {
		c.redLatched = false
		return c.stop()
	}

	if c.state == Stopped {
		if c.redLatched {
			return c.neutral()
		}
		monitoring.Logf("[nav] button on, starting line following")
		c.enterLineFollowing()
	}

	switch {
	case c.state == LineFollowing:
		return c.followLine(ctx)
	case c.state == ObstacleAvoidance:
		return c.avoidObstacle(ctx)
	case c.state.InRescue():
		return c.rescueStep(ctx)
	}
	return nil
}

// stop sends neutral and drops all counters and rescue progress. Neutral is
// repeated on every stopped tick since a motor acknowledgement may be lost.
func (c *Controller) stop() error {
	if c.state != Stopped {
		monitoring.Logf("[nav] stopped")
	}
	c.state = Stopped
	c.rescue = nil
	c.lineLostSince = time.Time{}
	return c.neutral()
}

func (c *Controller) enterLineFollowing() {
	c.state = LineFollowing
	c.rescue = nil
	c.lineLostSince = time.Time{}
}

// snapshot returns the latest snapshot, or nil when none is fresh.
func (c *Controller) snapshot() *perception.Snapshot {
	if c.snaps == nil {
		return nil
	}
	snap := c.snaps.Latest()
	c.lastSnap = snap
	if snap == nil || c.clock.Since(snap.CapturedAt) > c.control.SnapshotMaxAge.D() {
		return nil
	}
	return snap
}

// settled reports whether snap was captured after the last maneuver ended.
func (c *Controller) settled(snap *perception.Snapshot) bool {
	return snap != nil && !snap.CapturedAt.Before(c.settleUntil)
}

func (c *Controller) record(ctx context.Context) {
	if c.recorder == nil {
		return
	}
	rec := TickRecord{
		Seq:       c.ticks,
		At:        c.clock.Now(),
		State:     c.state,
		Button:    c.button,
		MotorL:    c.motorL,
		MotorR:    c.motorR,
		Distances: c.distances,
	}
	if snap := c.lastSnap; snap != nil {
		rec.Slope = snap.Slope
		rec.LastLineX = snap.LastLineX
		rec.FrameSeq = snap.FrameSeq
	}
	if err := c.recorder.RecordTick(ctx, rec); err != nil {
		monitoring.Logf("[nav] record tick %d: %v", c.ticks, err)
	}
}

func (c *Controller) publishStatus() {
	st := Status{
		State:      c.state.String(),
		Button:     c.button,
		MotorL:     c.motorL,
		MotorR:     c.motorR,
		Distances:  c.distances,
		Ticks:      c.ticks,
		RedLatched: c.redLatched,
		LineLost:   !c.lineLostSince.IsZero(),
		UpdatedAt:  c.clock.Now(),
	}
	if rs := c.rescue; rs != nil {
		st.ValidClasses = rs.ValidClasses.String()
		st.SilverCaught = rs.SilverCaught
		st.BlackCaught = rs.BlackCaught
		st.IsCaching = rs.IsCaching
		st.SweepDegrees = rs.TurnSweepDegrees
		st.Reposition = rs.RepositionCount
	}
	c.statusMu.Lock()
	c.status = st
	c.statusMu.Unlock()
}

// Status returns the state as of the last completed tick.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}
