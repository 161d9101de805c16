package cvline

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/banshee-data/rescuebot/internal/config"
	"github.com/banshee-data/rescuebot/internal/fsutil"
	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/perception"
)

var (
	guideColour    = color.RGBA{255, 255, 0, 0}
	bottomColour   = color.RGBA{255, 0, 0, 0}
	contourColour  = color.RGBA{0, 255, 0, 0}
	centroidColour = color.RGBA{0, 0, 255, 0}
)

// debugSink writes the line mask and a tracking overlay every Nth frame.
type debugSink struct {
	fs    fsutil.FileSystem
	dir   string
	every uint64
}

func newDebugSink(fs fsutil.FileSystem, dir string, every int) (*debugSink, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if every < 1 {
		every = 1
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}
	return &debugSink{fs: fs, dir: dir, every: uint64(every)}, nil
}

func (d *debugSink) due(seq uint64) bool {
	return seq%d.every == 0
}

func (d *debugSink) dump(seq uint64, frame, mask gocv.Mat, st perception.LineState, cfg config.VisionConfig) {
	base := filepath.Join(d.dir, fmt.Sprintf("frame_%06d", seq))
	d.write(base+"_mask.png", gocv.PNGFileExt, mask)

	vis := frame.Clone()
	defer vis.Close()

	w, h := cfg.FrameWidth, cfg.FrameHeight
	bottom := int(float64(h) * cfg.BottomRatio)
	gocv.Line(&vis, image.Pt(w/2, 0), image.Pt(w/2, h), guideColour, 1)
	gocv.Line(&vis, image.Pt(0, bottom), image.Pt(w, bottom), bottomColour, 1)
	if st.Slope != nil {
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{st.Best})
		defer pv.Close()
		gocv.DrawContours(&vis, pv, -1, contourColour, 2)
		gocv.Circle(&vis, image.Pt(st.CX, st.CY), 4, centroidColour, -1)
		gocv.Line(&vis, image.Pt(w/2, h), image.Pt(st.CX, st.CY), centroidColour, 1)
	}
	d.write(base+"_tracking.jpg", gocv.JPEGFileExt, vis)
}

func (d *debugSink) write(name string, ext gocv.FileExt, m gocv.Mat) {
	buf, err := gocv.IMEncode(ext, m)
	if err != nil {
		monitoring.Logf("[vision] encode %s: %v", name, err)
		return
	}
	defer buf.Close()
	if err := d.fs.WriteFile(name, buf.GetBytes(), 0o644); err != nil {
		monitoring.Logf("[vision] write %s: %v", name, err)
	}
}
