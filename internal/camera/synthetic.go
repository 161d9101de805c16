package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Synthetic renders a white frame with a black vertical line at a fixed
// rate. It stands in for the line camera in dev mode.
type Synthetic struct {
	Width, Height int
	Interval      time.Duration
	// LineX is the centre of the drawn line; zero means the frame centre.
	LineX     int
	LineWidth int

	once sync.Once
	stop chan struct{}
}

// NewSynthetic returns a synthetic source producing w x h frames.
func NewSynthetic(w, h int, interval time.Duration) *Synthetic {
	return &Synthetic{Width: w, Height: h, Interval: interval, LineWidth: 20, stop: make(chan struct{})}
}

// Frame renders one frame. The caller owns the returned Mat.
func (s *Synthetic) Frame() gocv.Mat {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), s.Height, s.Width, gocv.MatTypeCV8UC3)
	x := s.LineX
	if x == 0 {
		x = s.Width / 2
	}
	half := s.LineWidth / 2
	gocv.Rectangle(&m, image.Rect(x-half, 0, x+half, s.Height), color.RGBA{0, 0, 0, 0}, -1)
	return m
}

// Run calls handle once per interval until ctx is done or Close is called.
func (s *Synthetic) Run(ctx context.Context, handle FrameHandler) error {
	frame := s.Frame()
	defer frame.Close()

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case <-t.C:
			handle(frame)
		}
	}
}

// Close stops Run.
func (s *Synthetic) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
