package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/rescuebot/internal/monitoring"
)

// Button telemetry values.
const (
	ButtonOn  = "ON"
	ButtonOff = "OFF"
)

// Motor command limits understood by the motor driver. 1500 is neutral.
const (
	MotorMin     = 1000
	MotorNeutral = 1500
	MotorMax     = 2000
)

// Distances holds one ultrasonic reading per sensor.
type Distances struct {
	Left  float64 `json:"left"`
	Front float64 `json:"front"`
	Right float64 `json:"right"`
}

// Motor sends a left/right motor command. The firmware acknowledgement is
// drained but a missing one is not an error.
func (c *Channel) Motor(left, right int) error {
	_, _, err := c.Exchange(fmt.Sprintf("MOTOR %d %d", left, right))
	return err
}

// Stop sends the neutral motor command.
func (c *Channel) Stop() error {
	return c.Motor(MotorNeutral, MotorNeutral)
}

// Button polls the run button. On timeout the last known value is returned;
// before any successful poll that is ButtonOff.
func (c *Channel) Button() (string, error) {
	resp, ok, err := c.Exchange("GET button")
	if err != nil {
		return c.lastButton, err
	}
	if !ok {
		monitoring.Debugf("[link] button poll timed out, keeping %q", c.lastButton)
		return c.lastButton, nil
	}
	c.lastButton = strings.TrimSpace(resp.Payload)
	return c.lastButton, nil
}

// Ultrasonic reads the left, front and right distance sensors. A timed out
// request yields ClearDistance for every sensor, and each value that is
// missing or unparsable is replaced by ClearDistance on its own, so obstacle
// logic fails open.
func (c *Channel) Ultrasonic() (Distances, error) {
	far := c.opts.ClearDistance
	d := Distances{Left: far, Front: far, Right: far}

	resp, ok, err := c.Exchange("GET ultrasonic")
	if err != nil {
		return d, err
	}
	if !ok {
		monitoring.Debugf("[link] ultrasonic poll timed out, assuming clear")
		return d, nil
	}

	fields := strings.Fields(resp.Payload)
	slots := []*float64{&d.Left, &d.Front, &d.Right}
	for i, slot := range slots {
		if i >= len(fields) {
			monitoring.Logf("[link] ultrasonic response %q missing value %d", resp.Payload, i)
			continue
		}
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			monitoring.Logf("[link] ultrasonic value %d %q: %v", i, fields[i], err)
			continue
		}
		*slot = v
	}
	return d, nil
}

// Wire selects an indicator wire on the peer.
func (c *Channel) Wire(n int) error {
	_, _, err := c.Exchange(fmt.Sprintf("Wire %d", n))
	return err
}

// Rescue drives the arm servo to angle and sets the gripper wire. The
// command packs a four digit angle and a single wire digit.
func (c *Channel) Rescue(angle, wire int) error {
	angle = min(max(angle, 0), 9999)
	wire = min(max(wire, 0), 9)
	_, _, err := c.Exchange(fmt.Sprintf("Rescue %04d%d", angle, wire))
	return err
}
