// Package cvline runs the OpenCV half of line perception: it reduces a
// camera frame to contours and masks and hands them to the pure geometry in
// package perception.
package cvline

import (
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/banshee-data/rescuebot/internal/config"
	"github.com/banshee-data/rescuebot/internal/fsutil"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/perception"
	"github.com/banshee-data/rescuebot/internal/timeutil"
)

// Options are the optional collaborators of a Processor.
type Options struct {
	Clock timeutil.Clock
	// DebugDir enables the debug image dump when non-empty.
	DebugDir string
	// FS receives debug images. Defaults to the OS filesystem.
	FS fsutil.FileSystem
}

// Processor turns frames into perception snapshots. Process may be called
// from any goroutine; frames are handled one at a time.
type Processor struct {
	mu      sync.Mutex
	cfg     config.VisionConfig
	tracker *perception.LineTracker
	store   *perception.Store
	clock   timeutil.Clock
	debug   *debugSink
	seq     uint64
	closed  bool

	kernel gocv.Mat
	small  gocv.Mat
	gray   gocv.Mat
	line   gocv.Mat
	hsv    gocv.Mat
	colour gocv.Mat
}

// NewProcessor returns a processor that publishes to store.
func NewProcessor(cfg config.VisionConfig, store *perception.Store, opts Options) (*Processor, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	p := &Processor{
		cfg: cfg,
		tracker: perception.NewLineTracker(perception.Selector{
			FrameWidth:    cfg.FrameWidth,
			FrameHeight:   cfg.FrameHeight,
			MinArea:       cfg.MinLineArea,
			BottomRatio:   cfg.BottomRatio,
			WideBottomPx:  cfg.WideBottomPx,
			FarDistancePx: cfg.FarDistancePx,
		}),
		store:  store,
		clock:  opts.Clock,
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3)),
		small:  gocv.NewMat(),
		gray:   gocv.NewMat(),
		line:   gocv.NewMat(),
		hsv:    gocv.NewMat(),
		colour: gocv.NewMat(),
	}
	if opts.DebugDir != "" {
		sink, err := newDebugSink(opts.FS, opts.DebugDir, cfg.DebugEvery)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.debug = sink
	}
	return p, nil
}

// Close releases the OpenCV buffers.
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, m := range []*gocv.Mat{&p.kernel, &p.small, &p.gray, &p.line, &p.hsv, &p.colour} {
		m.Close()
	}
	return nil
}

// Process reduces one BGR frame and publishes the resulting snapshot. Empty
// frames, and frames arriving after Close, are ignored and return nil.
func (p *Processor) Process(frame gocv.Mat) *perception.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || frame.Empty() {
		return nil
	}
	p.seq++
	capturedAt := p.clock.Now()

	src := frame
	w, h := p.cfg.FrameWidth, p.cfg.FrameHeight
	if frame.Cols() != w || frame.Rows() != h {
		gocv.Resize(frame, &p.small, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
		src = p.small
	}

	gocv.CvtColor(src, &p.gray, gocv.ColorBGRToGray)
	gocv.Threshold(p.gray, &p.line, float32(p.cfg.BlackThreshold), 255, gocv.ThresholdBinaryInv)
	p.clean(&p.line)

	state := p.tracker.Update(findContours(p.line, gocv.RetrievalTree, gocv.ChainApproxNone))

	gocv.CvtColor(src, &p.hsv, gocv.ColorBGRToHSV)
	green := p.marks(p.cfg.Green, p.cfg.MinGreenArea)
	red := p.marks(p.cfg.Red, p.cfg.MinRedArea)

	var adjacency []perception.Adjacency
	if len(green) > 0 {
		mask := toMask(p.line)
		adjacency = make([]perception.Adjacency, len(green))
		for i, mk := range green {
			adjacency[i] = perception.Adjacent(mask, mk, p.cfg.BlackThreshold)
		}
	}

	snap := &perception.Snapshot{
		Slope:          state.Slope,
		LastLineX:      state.LastLineX,
		LineArea:       state.Area,
		GreenMarks:     green,
		GreenAdjacency: adjacency,
		RedMarks:       red,
		FrameSeq:       p.seq,
		CapturedAt:     capturedAt,
	}
	p.store.Publish(snap)

	if state.Slope != nil {
		monitoring.Debugf("[vision] frame %d slope=%.3f x=%d area=%.0f green=%d red=%d",
			p.seq, *state.Slope, state.LastLineX, state.Area, len(green), len(red))
	} else {
		monitoring.Debugf("[vision] frame %d no line, last x=%d", p.seq, state.LastLineX)
	}

	if p.debug != nil && p.debug.due(p.seq) {
		p.debug.dump(p.seq, src, p.line, state, p.cfg)
	}
	return snap
}

// clean applies the erode then dilate policy in place.
func (p *Processor) clean(m *gocv.Mat) {
	for range p.cfg.ErodeIterations {
		gocv.Erode(*m, m, p.kernel)
	}
	for range p.cfg.DilateIterations {
		gocv.Dilate(*m, m, p.kernel)
	}
}

// marks thresholds the HSV frame against rng and returns the marks whose
// external contour is larger than minArea.
func (p *Processor) marks(rng config.HSVRange, minArea float64) []perception.Mark {
	lower := gocv.NewScalar(float64(rng.Lower[0]), float64(rng.Lower[1]), float64(rng.Lower[2]), 0)
	upper := gocv.NewScalar(float64(rng.Upper[0]), float64(rng.Upper[1]), float64(rng.Upper[2]), 0)
	gocv.InRangeWithScalar(p.hsv, lower, upper, &p.colour)
	p.clean(&p.colour)
	return perception.MarksFromContours(findContours(p.colour, gocv.RetrievalExternal, gocv.ChainApproxSimple), minArea)
}

func findContours(m gocv.Mat, mode gocv.RetrievalMode, method gocv.ContourApproximationMode) []perception.Contour {
	pv := gocv.FindContours(m, mode, method)
	defer pv.Close()

	out := make([]perception.Contour, 0, pv.Size())
	for i := 0; i < pv.Size(); i++ {
		out = append(out, perception.Contour(pv.At(i).ToPoints()))
	}
	return out
}

// toMask copies a single channel 8-bit Mat.
func toMask(m gocv.Mat) *perception.Mask {
	return &perception.Mask{Pix: m.ToBytes(), Width: m.Cols(), Height: m.Rows()}
}
