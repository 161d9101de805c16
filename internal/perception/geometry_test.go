package perception

import (
	"image"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gonum.org/v1/gonum/spatial/r2"
)

// rectContour returns the four corners of an upright rectangle.
func rectContour(x0, y0, x1, y1 int) Contour {
	return Contour{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

func TestContourArea(t *testing.T) {
	sq := rectContour(0, 0, 10, 10)
	if got := ContourArea(sq); got != 100 {
		t.Errorf("ContourArea(square) = %v, want 100", got)
	}
	rev := slices.Clone(sq)
	slices.Reverse(rev)
	if got := ContourArea(rev); got != 100 {
		t.Errorf("ContourArea(reversed) = %v, want 100", got)
	}
	if got := ContourArea(Contour{{0, 0}, {5, 5}}); got != 0 {
		t.Errorf("ContourArea(segment) = %v, want 0", got)
	}
	tri := Contour{{0, 0}, {4, 0}, {0, 3}}
	if got := ContourArea(tri); got != 6 {
		t.Errorf("ContourArea(triangle) = %v, want 6", got)
	}
}

func TestCentroid(t *testing.T) {
	tests := []struct {
		name   string
		c      Contour
		cx, cy int
	}{
		{"square", rectContour(0, 0, 10, 10), 5, 5},
		{"offset rectangle", rectContour(145, 100, 155, 179), 150, 139},
		{"horizontal segment falls back to box", Contour{{0, 0}, {4, 0}}, 2, 0},
		{"single point", Contour{{7, 9}}, 7, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cx, cy := Centroid(tt.c)
			if cx != tt.cx || cy != tt.cy {
				t.Errorf("Centroid() = (%d, %d), want (%d, %d)", cx, cy, tt.cx, tt.cy)
			}
		})
	}
}

func TestBoundingRect(t *testing.T) {
	got := BoundingRect(Contour{{3, 4}, {10, 2}, {5, 8}})
	want := image.Rect(3, 2, 11, 9)
	if got != want {
		t.Errorf("BoundingRect() = %v, want %v", got, want)
	}
	if got := BoundingRect(nil); !got.Empty() {
		t.Errorf("BoundingRect(nil) = %v, want empty", got)
	}
}

func TestConvexHull_OrderIndependent(t *testing.T) {
	pts := []r2.Vec{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}, {X: 5, Y: 5}, {X: 5, Y: 0}, {X: 3, Y: 7}}
	want := ConvexHull(pts)
	if len(want) != 4 {
		t.Fatalf("hull has %d points, want 4: %v", len(want), want)
	}

	rng := rand.New(rand.NewSource(1))
	for range 20 {
		shuffled := slices.Clone(pts)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if diff := cmp.Diff(want, ConvexHull(shuffled)); diff != "" {
			t.Fatalf("hull depends on input order (-want +got):\n%s", diff)
		}
	}
}

func TestConvexHull_Degenerate(t *testing.T) {
	if got := ConvexHull(nil); len(got) != 0 {
		t.Errorf("ConvexHull(nil) = %v", got)
	}
	got := ConvexHull([]r2.Vec{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 2, Y: 2}})
	if len(got) != 2 {
		t.Errorf("ConvexHull(duplicates) = %v, want 2 points", got)
	}
}

func TestMinAreaRect(t *testing.T) {
	approx := cmpopts.EquateApprox(0, 1e-9)

	r := MinAreaRect(rectContour(0, 0, 20, 10))
	if diff := cmp.Diff(200.0, r.Area(), approx); diff != "" {
		t.Errorf("upright rectangle area (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(r2.Vec{X: 10, Y: 5}, r.Center, approx); diff != "" {
		t.Errorf("upright rectangle center (-want +got):\n%s", diff)
	}

	// A square rotated by 45 degrees: an upright box would have area 100.
	diamond := Contour{{5, 0}, {10, 5}, {5, 10}, {0, 5}}
	r = MinAreaRect(diamond)
	if math.Abs(r.Area()-50) > 1e-9 {
		t.Errorf("diamond area = %v, want 50", r.Area())
	}
	if math.Abs(r.Width-math.Sqrt(50)) > 1e-9 || math.Abs(r.Height-math.Sqrt(50)) > 1e-9 {
		t.Errorf("diamond sides = %v x %v", r.Width, r.Height)
	}

	seg := MinAreaRect(Contour{{0, 0}, {0, 8}})
	if seg.Area() != 0 || seg.Width != 8 {
		t.Errorf("segment rect = %+v", seg)
	}

	if got := MinAreaRect(nil); got.Area() != 0 {
		t.Errorf("empty contour rect = %+v", got)
	}
}

func TestBottomEdge(t *testing.T) {
	a, b := MinAreaRect(rectContour(0, 0, 20, 10)).BottomEdge()
	approx := cmpopts.EquateApprox(0, 1e-9)
	if diff := cmp.Diff(r2.Vec{X: 0, Y: 10}, a, approx); diff != "" {
		t.Errorf("first bottom corner (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(r2.Vec{X: 20, Y: 10}, b, approx); diff != "" {
		t.Errorf("second bottom corner (-want +got):\n%s", diff)
	}

	a, _ = MinAreaRect(Contour{{5, 0}, {10, 5}, {5, 10}, {0, 5}}).BottomEdge()
	if math.Abs(a.Y-10) > 1e-9 || math.Abs(a.X-5) > 1e-9 {
		t.Errorf("diamond lowest corner = %v, want (5, 10)", a)
	}
}
