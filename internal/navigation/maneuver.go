package navigation

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/rescuebot/internal/link"
)

// Gripper positions sent with arm commands.
const (
	WireOpen   = 0
	WireClosed = 1
)

// errInterrupted aborts a maneuver when the run button is released.
var errInterrupted = errors.New("navigation: maneuver interrupted by button")

// step is one timed action of an open-loop maneuver.
type step struct {
	do   func() error
	hold time.Duration
}

// clamp limits a motor command to the range the driver accepts.
func clamp(v int) int {
	return max(link.MotorMin, min(v, link.MotorMax))
}

// drive clamps and sends a motor command.
func (c *Controller) drive(left, right int) error {
	left, right = clamp(left), clamp(right)
	if err := c.link.Motor(left, right); err != nil {
		return err
	}
	c.motorL, c.motorR = left, right
	if c.rescue != nil {
		c.rescue.MotorL, c.rescue.MotorR = left, right
	}
	return nil
}

func (c *Controller) neutral() error {
	return c.drive(link.MotorNeutral, link.MotorNeutral)
}

func (c *Controller) motorStep(left, right int, hold time.Duration) step {
	return step{do: func() error { return c.drive(left, right) }, hold: hold}
}

func (c *Controller) neutralStep() step {
	return c.motorStep(link.MotorNeutral, link.MotorNeutral, 0)
}

func (c *Controller) armStep(angle, wire int, hold time.Duration) step {
	return step{do: func() error { return c.link.Rescue(angle, wire) }, hold: hold}
}

// pivot returns the motor pair that turns on the spot at speed; positive
// speed turns right.
func pivot(speed int) (int, int) {
	return link.MotorNeutral + speed, link.MotorNeutral - speed
}

func forward(speed int) (int, int) {
	return link.MotorNeutral + speed, link.MotorNeutral + speed
}

// maneuver runs steps in order, holding each for its duration. The run
// button is polled between steps; a released button aborts with
// errInterrupted and link failures abort with their error.
func (c *Controller) maneuver(ctx context.Context, steps ...step) error {
	for i, s := range steps {
		if i > 0 {
			if err := c.checkRunning(ctx); err != nil {
				return err
			}
		}
		if err := s.do(); err != nil {
			return err
		}
		if s.hold > 0 {
			c.clock.Sleep(s.hold)
		}
	}
	c.settleUntil = c.clock.Now()
	return nil
}

// checkRunning polls the button mid-maneuver.
func (c *Controller) checkRunning(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	button, err := c.link.Button()
	if err != nil {
		return err
	}
	c.button = button
	if button != link.ButtonOn {
		return errInterrupted
	}
	return nil
}
