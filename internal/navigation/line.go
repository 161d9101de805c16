package navigation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/rescuebot/internal/link"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/perception"
	"github.com/banshee-data/rescuebot/internal/rescue"
)

// SteerCommand applies the line control law to a slope. θ is atan(slope)
// folded into [0, π); the wheel difference grows with the deviation of θ
// from straight ahead and the base speed falls off quadratically with it.
// Outputs are clamped.
func SteerCommand(slope, gain, baseSpeed float64) (left, right int) {
	theta := math.Atan(slope)
	if theta < 0 {
		theta += math.Pi
	}
	dev := math.Pi/2 - theta
	ratio := dev / (math.Pi / 2)
	base := link.MotorNeutral + baseSpeed*(1-ratio*ratio)
	diff := gain * dev
	return clamp(int(math.Round(base + diff))), clamp(int(math.Round(base - diff)))
}

// Turn is the response to green marks.
type Turn int

const (
	NoTurn Turn = iota
	TurnLeft
	TurnRight
	TurnAround
)

func (t Turn) String() string {
	switch t {
	case TurnLeft:
		return "left"
	case TurnRight:
		return "right"
	case TurnAround:
		return "around"
	}
	return "none"
}

// BeaconTurn decides the turn signalled by the green marks of snap. A mark
// counts when the line continues above it and not below it, and only while
// some green mark is in the lower half of the frame. A qualifying mark with
// the line on its left turns right, one with the line on its right turns
// left, and both together turn around.
func BeaconTurn(snap *perception.Snapshot, frameHeight int) Turn {
	if snap == nil || !perception.InLowerHalf(snap.GreenMarks, frameHeight) {
		return NoTurn
	}
	var left, right bool
	for _, adj := range snap.GreenAdjacency {
		if !adj.Top || adj.Bottom {
			continue
		}
		left = left || adj.Left
		right = right || adj.Right
	}
	switch {
	case left && right:
		return TurnAround
	case left:
		return TurnRight
	case right:
		return TurnLeft
	}
	return NoTurn
}

func (c *Controller) followLine(ctx context.Context) error {
	dist, err := c.link.Ultrasonic()
	if err != nil {
		return fmt.Errorf("poll ultrasonic: %w", err)
	}
	c.distances = dist
	if dist.Front < c.control.ObstacleDistance {
		monitoring.Logf("[nav] obstacle at %.1f, swerving", dist.Front)
		c.state = ObstacleAvoidance
		l, r := pivot(-c.control.TurnSpeed)
		fl, fr := forward(c.control.CruiseSpeed)
		return c.maneuver(ctx,
			c.motorStep(l, r, c.control.SwerveTurn.D()),
			c.motorStep(fl, fr, c.control.SwerveForward.D()),
		)
	}

	snap := c.snapshot()
	fresh := c.settled(snap)

	if fresh && perception.InLowerHalf(snap.RedMarks, c.vision.FrameHeight) {
		monitoring.Logf("[nav] red mark reached, holding until the button is cycled")
		c.redLatched = true
		c.state = Stopped
		return c.neutral()
	}

	if fresh {
		if turn := BeaconTurn(snap, c.vision.FrameHeight); turn != NoTurn {
			return c.beacon(ctx, turn)
		}
	}

	if snap.HasLine() {
		c.lineLostSince = time.Time{}
		l, r := SteerCommand(*snap.Slope, c.control.SteerGain, c.control.BaseSpeed)
		monitoring.Debugf("[nav] slope=%.3f motors=%d/%d", *snap.Slope, l, r)
		return c.drive(l, r)
	}

	now := c.clock.Now()
	if c.lineLostSince.IsZero() {
		c.lineLostSince = now
	}
	if now.Sub(c.lineLostSince) > c.control.LineLostDwell.D() {
		return c.enterRescue()
	}
	l, r := forward(c.control.GapSpeed)
	return c.drive(l, r)
}

func (c *Controller) beacon(ctx context.Context, turn Turn) error {
	monitoring.Logf("[nav] green beacon: turn %s", turn)
	fl, fr := forward(c.control.CruiseSpeed)
	steps := []step{c.motorStep(fl, fr, c.control.BeaconApproach.D())}
	switch turn {
	case TurnRight:
		l, r := pivot(c.control.TurnSpeed)
		steps = append(steps, c.motorStep(l, r, c.control.PivotDuration.D()))
	case TurnLeft:
		l, r := pivot(-c.control.TurnSpeed)
		steps = append(steps, c.motorStep(l, r, c.control.PivotDuration.D()))
	case TurnAround:
		l, r := pivot(c.control.TurnSpeed)
		steps = append(steps, c.motorStep(l, r, c.control.TurnAroundDuration.D()))
	}
	steps = append(steps, c.neutralStep())
	return c.maneuver(ctx, steps...)
}

// avoidObstacle arcs back towards the line after the swerve until the line
// is seen again with enough area.
func (c *Controller) avoidObstacle(ctx context.Context) error {
	snap := c.snapshot()
	if c.settled(snap) && snap.HasLine() && snap.LineArea >= c.control.ReacquireArea {
		monitoring.Logf("[nav] line re-acquired (area %.0f)", snap.LineArea)
		c.enterLineFollowing()
		return c.followLine(ctx)
	}
	return c.drive(link.MotorNeutral+c.control.ArcOuterSpeed, link.MotorNeutral+c.control.ArcInnerSpeed)
}

func (c *Controller) enterRescue() error {
	monitoring.Logf("[nav] line lost for %s, entering rescue area", c.control.LineLostDwell)
	c.state = RescueSearching
	c.rescue = rescue.NewState()
	c.lineLostSince = time.Time{}
	if err := c.neutral(); err != nil {
		return err
	}
	return c.link.Wire(c.rescueC.EntryWire)
}
