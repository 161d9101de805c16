package navigation

import (
	"context"
	"math"

	"github.com/banshee-data/rescuebot/internal/link"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/rescue"
)

// ApproachCommand is the proportional approach law: the wheel difference
// follows the target's offset from the midline and the common speed follows
// how far the target's apparent size is from goalArea. It returns the raw
// (unclamped) terms as well, since the catch decision looks at them.
//
// The wheel difference has priority over forward speed: the common term is
// cut so that neither wheel passes the driver limit, which keeps a distant
// target steering towards the midline.
func ApproachCommand(offset, area, goalArea, gain, distGain float64) (left, right int, diff, dist float64) {
	diff = offset * gain
	dist = distGain * math.Max(0, math.Sqrt(goalArea)-math.Sqrt(math.Max(area, 0)))

	const span = link.MotorMax - link.MotorNeutral
	turn := math.Max(-span, math.Min(diff, span))
	speed := math.Min(dist, span-math.Abs(turn))
	left = clamp(int(math.Round(link.MotorNeutral + turn + speed)))
	right = clamp(int(math.Round(link.MotorNeutral - turn + speed)))
	return left, right, diff, dist
}

func (c *Controller) rescueStep(ctx context.Context) error {
	rs := c.rescue
	valid := rs.UpdateValidClasses(c.rescueC)

	var dets []rescue.Detection
	if c.dets != nil {
		dets, _ = c.dets.Latest()
	}
	target, ok := rescue.SelectTarget(dets, valid, rs.IsCaching, c.rescueC.FrameWidth)
	rs.SetTarget(target, ok)
	if !ok {
		return c.sweep(ctx)
	}

	switch {
	case target.Class == rescue.ExitMarker:
		return c.approachExit(ctx, target)
	case rs.IsCaching:
		return c.approachCage(ctx, target)
	default:
		return c.approachBall(ctx, target)
	}
}

// sweep turns on the spot by one step while nothing is in view.
func (c *Controller) sweep(ctx context.Context) error {
	rs := c.rescue
	c.state = RescueSearching
	rs.RepositionCount = 0
	l, r := pivot(c.control.TurnSpeed)
	if err := c.maneuver(ctx,
		c.motorStep(l, r, c.rescueC.SweepPulse.D()),
		c.neutralStep(),
	); err != nil {
		return err
	}
	rs.TurnSweepDegrees += c.rescueC.SweepStep
	monitoring.Debugf("[rescue] sweep %d deg, looking for %s", rs.TurnSweepDegrees, rs.ValidClasses)
	return nil
}

func (c *Controller) approachBall(ctx context.Context, t rescue.Target) error {
	rs := c.rescue
	cfg := c.rescueC
	c.state = RescueApproachingBall

	l, r, diff, dist := ApproachCommand(t.Offset, t.Area, cfg.CatchArea, cfg.ApproachGain, cfg.DistanceGain)
	offCentre := math.Abs(t.Offset) > cfg.RepositionOffset

	if t.Area >= cfg.CatchArea && offCentre {
		if rs.RepositionCount >= cfg.MaxReposition {
			monitoring.Logf("[rescue] stuck after %d corrections, backing off", rs.RepositionCount)
			rs.RepositionCount = 0
			bl, br := forward(-cfg.BackoffSpeed)
			return c.maneuver(ctx, c.motorStep(bl, br, cfg.BackoffPulse.D()), c.neutralStep())
		}
		rs.RepositionCount++
		speed := cfg.RepositionSpeed
		if t.Offset < 0 {
			speed = -speed
		}
		pl, pr := pivot(speed)
		monitoring.Debugf("[rescue] reposition %d, offset %.1f", rs.RepositionCount, t.Offset)
		return c.maneuver(ctx, c.motorStep(pl, pr, cfg.RepositionPulse.D()), c.neutralStep())
	}
	rs.RepositionCount = 0

	if math.Abs(diff)+dist < cfg.CatchCommandThreshold && !offCentre {
		return c.catch(ctx, t.Class)
	}
	return c.drive(l, r)
}

func (c *Controller) catch(ctx context.Context, class rescue.Class) error {
	cfg := c.rescueC
	c.state = RescueCatching
	c.rescue.Arm = rescue.ArmCatch
	monitoring.Logf("[rescue] catching %s ball", class)

	fl, fr := forward(cfg.NudgeSpeed)
	bl, br := forward(-cfg.NudgeSpeed)
	if err := c.maneuver(ctx,
		c.motorStep(fl, fr, cfg.NudgePulse.D()),
		c.neutralStep(),
		c.armStep(cfg.ArmDownAngle, WireOpen, cfg.ArmSettle.D()),
		c.armStep(cfg.ArmUpAngle, WireClosed, cfg.ArmSettle.D()),
		c.motorStep(bl, br, cfg.ReversePulse.D()),
		c.neutralStep(),
	); err != nil {
		return err
	}
	c.rescue.Caught(class)
	c.state = RescueSearching
	return nil
}

func (c *Controller) approachCage(ctx context.Context, t rescue.Target) error {
	cfg := c.rescueC
	c.state = RescueApproachingCage
	if t.Area < cfg.ReleaseArea {
		l, r, _, _ := ApproachCommand(t.Offset, t.Area, cfg.ReleaseArea, cfg.ApproachGain, cfg.DistanceGain)
		return c.drive(l, r)
	}

	c.state = RescueReleasing
	c.rescue.Arm = rescue.ArmRelease
	monitoring.Logf("[rescue] releasing %s ball at %s", c.rescue.HeldClass, t.Class)
	fl, fr := forward(cfg.NudgeSpeed)
	tl, tr := pivot(c.control.TurnSpeed)
	if err := c.maneuver(ctx,
		c.motorStep(fl, fr, cfg.NudgePulse.D()),
		c.neutralStep(),
		c.armStep(cfg.ArmDownAngle, WireClosed, cfg.ArmSettle.D()),
		c.armStep(cfg.ArmUpAngle, WireOpen, cfg.ArmSettle.D()),
		c.motorStep(tl, tr, c.control.TurnAroundDuration.D()),
		c.neutralStep(),
	); err != nil {
		return err
	}
	c.rescue.Delivered()
	c.state = RescueSearching
	return nil
}

func (c *Controller) approachExit(ctx context.Context, t rescue.Target) error {
	cfg := c.rescueC
	c.state = RescueSearching
	if t.Area < cfg.ExitArea {
		l, r, _, _ := ApproachCommand(t.Offset, t.Area, cfg.ExitArea, cfg.ApproachGain, cfg.DistanceGain)
		return c.drive(l, r)
	}

	monitoring.Logf("[rescue] leaving the rescue area (silver %d, black %d)", c.rescue.SilverCaught, c.rescue.BlackCaught)
	fl, fr := forward(c.control.CruiseSpeed)
	if err := c.maneuver(ctx,
		c.motorStep(fl, fr, cfg.ExitPulse.D()),
		c.neutralStep(),
	); err != nil {
		return err
	}
	c.enterLineFollowing()
	return nil
}
