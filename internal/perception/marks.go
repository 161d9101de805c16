package perception

import (
	"image"
)

// Mark is a coloured marker: its centre and the size of its bounding box.
type Mark struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// MarkFromRect builds a mark from an upright bounding rectangle.
func MarkFromRect(r image.Rectangle) Mark {
	w, h := r.Dx(), r.Dy()
	return Mark{X: r.Min.X + w/2, Y: r.Min.Y + h/2, W: w, H: h}
}

// Adjacency records on which sides of a mark the line continues.
type Adjacency struct {
	Bottom bool `json:"bottom"`
	Top    bool `json:"top"`
	Left   bool `json:"left"`
	Right  bool `json:"right"`
}

// Mask is a single channel 8-bit image, row major.
type Mask struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewMask allocates a zeroed w x h mask.
func NewMask(w, h int) *Mask {
	return &Mask{Pix: make([]uint8, w*h), Width: w, Height: h}
}

// Bounds returns the rectangle covered by the mask.
func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Fill sets every pixel of r (clipped to the mask) to v.
func (m *Mask) Fill(r image.Rectangle, v uint8) {
	r = r.Intersect(m.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := r.Min.X; x < r.Max.X; x++ {
			row[x] = v
		}
	}
}

// RegionMean returns the mean pixel value of r clipped to the mask, and
// false if the clipped region is empty.
func (m *Mask) RegionMean(r image.Rectangle) (float64, bool) {
	r = r.Intersect(m.Bounds())
	if r.Empty() {
		return 0, false
	}
	var sum int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x := r.Min.X; x < r.Max.X; x++ {
			sum += int(row[x])
		}
	}
	return float64(sum) / float64(r.Dx()*r.Dy()), true
}

// AdjacencyRegions returns the probe rectangles around mk in bottom, top,
// left, right order. Each probe sits just outside the mark's box and is half
// the mark's width and height across.
func AdjacencyRegions(mk Mark) [4]image.Rectangle {
	rw, rh := mk.W/2, mk.H/2
	halfW, halfH := mk.W/2, mk.H/2
	cx, cy := mk.X, mk.Y
	return [4]image.Rectangle{
		image.Rect(cx-rw/2, cy+halfH, cx+rw/2, cy+halfH+rh),
		image.Rect(cx-rw/2, cy-halfH-rh, cx+rw/2, cy-halfH),
		image.Rect(cx-halfW-rw, cy-rh/2, cx-halfW, cy+rh/2),
		image.Rect(cx+halfW, cy-rh/2, cx+halfW+rw, cy+rh/2),
	}
}

// Adjacent probes the line mask around mk. A side counts as adjacent when
// its probe's mean exceeds threshold.
func Adjacent(line *Mask, mk Mark, threshold int) Adjacency {
	regions := AdjacencyRegions(mk)
	var hits [4]bool
	for i, r := range regions {
		mean, ok := line.RegionMean(r)
		hits[i] = ok && mean > float64(threshold)
	}
	return Adjacency{Bottom: hits[0], Top: hits[1], Left: hits[2], Right: hits[3]}
}

// MarksFromContours keeps the contours whose area is strictly above minArea
// and returns a mark for each, in input order.
func MarksFromContours(contours []Contour, minArea float64) []Mark {
	var marks []Mark
	for _, c := range contours {
		if ContourArea(c) <= minArea {
			continue
		}
		marks = append(marks, MarkFromRect(BoundingRect(c)))
	}
	return marks
}

// InLowerHalf reports whether any mark's centre lies below the middle of a
// frame of height h.
func InLowerHalf(marks []Mark, h int) bool {
	for _, mk := range marks {
		if mk.Y > h/2 {
			return true
		}
	}
	return false
}
