// Package perception reduces camera contours to the line state the
// controller steers by. Everything here is plain geometry over image
// coordinates (x right, y down); the OpenCV pipeline that produces the
// contours lives in the cvline subpackage.
package perception

import (
	"image"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r2"
)

// Contour is a closed polygon of pixel coordinates as returned by contour
// extraction.
type Contour []image.Point

func vec(p image.Point) r2.Vec {
	return r2.Vec{X: float64(p.X), Y: float64(p.Y)}
}

// ContourArea returns the polygon area enclosed by c (shoelace formula).
// Contours with fewer than three points have zero area.
func ContourArea(c Contour) float64 {
	m00, _, _ := Moments(c)
	return math.Abs(m00)
}

// Moments returns the signed zeroth and first order area moments of the
// polygon c. The sign follows the winding order; ratios such as the
// centroid are unaffected by it.
func Moments(c Contour) (m00, m10, m01 float64) {
	n := len(c)
	if n < 3 {
		return 0, 0, 0
	}
	for i := range n {
		p := vec(c[i])
		q := vec(c[(i+1)%n])
		cross := r2.Cross(p, q)
		m00 += cross
		m10 += (p.X + q.X) * cross
		m01 += (p.Y + q.Y) * cross
	}
	return m00 / 2, m10 / 6, m01 / 6
}

// BoundingRect returns the smallest upright rectangle containing every point
// of c. Like OpenCV's boundingRect it is inclusive of the extreme pixels, so
// a single point has width and height 1.
func BoundingRect(c Contour) image.Rectangle {
	if len(c) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: c[0], Max: c[0]}
	for _, p := range c[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	r.Max = r.Max.Add(image.Pt(1, 1))
	return r
}

// Centroid returns the integer centre of mass of c from its area moments,
// truncated toward zero. Degenerate contours with zero area fall back to the
// centre of their bounding rectangle.
func Centroid(c Contour) (cx, cy int) {
	m00, m10, m01 := Moments(c)
	if m00 != 0 {
		return int(m10 / m00), int(m01 / m00)
	}
	r := BoundingRect(c)
	return r.Min.X + r.Dx()/2, r.Min.Y + r.Dy()/2
}

// ConvexHull returns the convex hull of pts in counter-clockwise order
// (in a y-up frame) using Andrew's monotone chain. Collinear points are
// dropped. The result does not depend on the order of pts.
func ConvexHull(pts []r2.Vec) []r2.Vec {
	sorted := slices.Clone(pts)
	slices.SortFunc(sorted, func(a, b r2.Vec) int {
		if a.X != b.X {
			if a.X < b.X {
				return -1
			}
			return 1
		}
		switch {
		case a.Y < b.Y:
			return -1
		case a.Y > b.Y:
			return 1
		}
		return 0
	})
	sorted = slices.Compact(sorted)
	if len(sorted) < 3 {
		return sorted
	}

	turn := func(o, a, b r2.Vec) float64 {
		return r2.Cross(r2.Sub(a, o), r2.Sub(b, o))
	}

	hull := make([]r2.Vec, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && turn(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// RotatedRect is a rectangle of arbitrary orientation.
type RotatedRect struct {
	Center  r2.Vec
	Width   float64 // extent along the edge the rectangle was fitted to
	Height  float64 // extent perpendicular to it
	Corners [4]r2.Vec
}

// Area returns Width * Height.
func (r RotatedRect) Area() float64 { return r.Width * r.Height }

// MinAreaRect returns the minimum-area rectangle enclosing c.
//
// Algorithm (rotating calipers):
//  1. Build the convex hull of the contour points
//  2. For each hull edge, take the edge direction u and its normal v
//  3. Project every hull vertex onto u and v to find the extents
//  4. Keep the orientation with the smallest extent product
//
// The optimal rectangle always has one side collinear with a hull edge, so
// checking hull edges is exhaustive.
func MinAreaRect(c Contour) RotatedRect {
	pts := make([]r2.Vec, len(c))
	for i, p := range c {
		pts[i] = vec(p)
	}
	hull := ConvexHull(pts)

	switch len(hull) {
	case 0:
		return RotatedRect{}
	case 1:
		p := hull[0]
		return RotatedRect{Center: p, Corners: [4]r2.Vec{p, p, p, p}}
	}

	best := RotatedRect{Width: math.Inf(1), Height: math.Inf(1)}
	bestArea := math.Inf(1)
	n := len(hull)
	for i := range n {
		edge := r2.Sub(hull[(i+1)%n], hull[i])
		if r2.Norm(edge) == 0 {
			continue
		}
		u := r2.Unit(edge)
		v := r2.Vec{X: -u.Y, Y: u.X}

		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			pu, pv := r2.Dot(p, u), r2.Dot(p, v)
			minU, maxU = math.Min(minU, pu), math.Max(maxU, pu)
			minV, maxV = math.Min(minV, pv), math.Max(maxV, pv)
		}

		area := (maxU - minU) * (maxV - minV)
		if area >= bestArea {
			continue
		}
		bestArea = area
		corner := func(a, b float64) r2.Vec {
			return r2.Add(r2.Scale(a, u), r2.Scale(b, v))
		}
		best = RotatedRect{
			Width:  maxU - minU,
			Height: maxV - minV,
			Center: corner((minU+maxU)/2, (minV+maxV)/2),
			Corners: [4]r2.Vec{
				corner(minU, minV),
				corner(maxU, minV),
				corner(maxU, maxV),
				corner(minU, maxV),
			},
		}
	}
	return best
}

// BottomEdge returns the two corners of r with the greatest y, lowest first.
// Equal y values are ordered by x so the result is independent of how the
// corners were enumerated.
func (r RotatedRect) BottomEdge() (a, b r2.Vec) {
	corners := r.Corners
	slices.SortFunc(corners[:], func(p, q r2.Vec) int {
		switch {
		case p.Y > q.Y:
			return -1
		case p.Y < q.Y:
			return 1
		case p.X < q.X:
			return -1
		case p.X > q.X:
			return 1
		}
		return 0
	})
	return corners[0], corners[1]
}
