package main

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/rescuebot/internal/navigation"
)

var (
	leftColour  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	rightColour = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	stateColour = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// seconds since the first tick.
func elapsed(ticks []navigation.TickRecord, i int) float64 {
	return ticks[i].At.Sub(ticks[0].At).Seconds()
}

func newPlot(title, y string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = y
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p
}

func addLine(p *plot.Plot, pts plotter.XYs, c color.Color, label string) error {
	if len(pts) == 0 {
		return nil
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	l.Color = c
	l.Width = vg.Points(1)
	p.Add(l)
	p.Legend.Add(label, l)
	return nil
}

// renderTrace writes the motor, line, state and distance plots of a run
// into dir and returns their paths.
func renderTrace(ticks []navigation.TickRecord, dir, runID string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}

	left := make(plotter.XYs, 0, len(ticks))
	right := make(plotter.XYs, 0, len(ticks))
	lineX := make(plotter.XYs, 0, len(ticks))
	slope := make(plotter.XYs, 0, len(ticks))
	state := make(plotter.XYs, 0, len(ticks))
	front := make(plotter.XYs, 0, len(ticks))
	for i, t := range ticks {
		x := elapsed(ticks, i)
		left = append(left, plotter.XY{X: x, Y: float64(t.MotorL)})
		right = append(right, plotter.XY{X: x, Y: float64(t.MotorR)})
		lineX = append(lineX, plotter.XY{X: x, Y: float64(t.LastLineX)})
		if t.Slope != nil {
			slope = append(slope, plotter.XY{X: x, Y: *t.Slope})
		}
		state = append(state, plotter.XY{X: x, Y: float64(t.State)})
		front = append(front, plotter.XY{X: x, Y: t.Distances.Front})
	}

	pMotors := newPlot(fmt.Sprintf("Run %s - Motor commands", short), "Command")
	if err := addLine(pMotors, left, leftColour, "left"); err != nil {
		return nil, err
	}
	if err := addLine(pMotors, right, rightColour, "right"); err != nil {
		return nil, err
	}

	pLine := newPlot(fmt.Sprintf("Run %s - Line", short), "Pixels / slope")
	if err := addLine(pLine, lineX, leftColour, "last line x"); err != nil {
		return nil, err
	}
	if len(slope) > 0 {
		sc, err := plotter.NewScatter(slope)
		if err != nil {
			return nil, err
		}
		sc.Color = rightColour
		pLine.Add(sc)
		pLine.Legend.Add("slope", sc)
	}

	pState := newPlot(fmt.Sprintf("Run %s - State", short), "State")
	if err := addLine(pState, state, stateColour, "state"); err != nil {
		return nil, err
	}
	pState.Y.Min, pState.Y.Max = float64(navigation.LineFollowing)-0.5, float64(navigation.Stopped)+0.5
	pState.Y.Tick.Marker = stateTicks{}

	pDist := newPlot(fmt.Sprintf("Run %s - Front distance", short), "Distance (cm)")
	if err := addLine(pDist, front, rightColour, "front"); err != nil {
		return nil, err
	}

	plots := []struct {
		name string
		p    *plot.Plot
	}{{"motors", pMotors}, {"line", pLine}, {"state", pState}, {"distance", pDist}}
	files := make([]string, 0, len(plots))
	for _, pl := range plots {
		f := filepath.Join(dir, fmt.Sprintf("%s_%s.png", short, pl.name))
		if err := pl.p.Save(14*vg.Inch, 6*vg.Inch, f); err != nil {
			return nil, fmt.Errorf("save %s: %w", f, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// stateTicks labels the integer state levels with their names.
type stateTicks struct{}

func (stateTicks) Ticks(lo, hi float64) []plot.Tick {
	var ticks []plot.Tick
	for s := navigation.LineFollowing; s <= navigation.Stopped; s++ {
		v := float64(s)
		if v < lo || v > hi {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: v, Label: s.String()})
	}
	return ticks
}

type summary struct {
	Ticks        int
	Duration     time.Duration
	MeanL, StdL  float64
	MeanR, StdR  float64
	LineFraction float64
}

func summarise(ticks []navigation.TickRecord) summary {
	s := summary{Ticks: len(ticks)}
	if len(ticks) == 0 {
		return s
	}
	s.Duration = ticks[len(ticks)-1].At.Sub(ticks[0].At)
	l := make([]float64, len(ticks))
	r := make([]float64, len(ticks))
	seen := 0
	for i, t := range ticks {
		l[i], r[i] = float64(t.MotorL), float64(t.MotorR)
		if t.Slope != nil {
			seen++
		}
	}
	s.MeanL, s.StdL = stat.MeanStdDev(l, nil)
	s.MeanR, s.StdR = stat.MeanStdDev(r, nil)
	s.LineFraction = float64(seen) / float64(len(ticks))
	return s
}
