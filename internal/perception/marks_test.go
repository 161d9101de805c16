package perception

import (
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMarkFromRect(t *testing.T) {
	got := MarkFromRect(image.Rect(100, 120, 120, 141))
	want := Mark{X: 110, Y: 130, W: 20, H: 21}
	if got != want {
		t.Errorf("MarkFromRect() = %+v, want %+v", got, want)
	}
}

func TestAdjacencyRegions(t *testing.T) {
	got := AdjacencyRegions(Mark{X: 110, Y: 130, W: 20, H: 20})
	want := [4]image.Rectangle{
		image.Rect(105, 140, 115, 150), // bottom
		image.Rect(105, 110, 115, 120), // top
		image.Rect(90, 125, 100, 135),  // left
		image.Rect(120, 125, 130, 135), // right
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("AdjacencyRegions() mismatch (-want +got):\n%s", diff)
	}
}

func TestMask_RegionMean(t *testing.T) {
	m := NewMask(10, 10)
	m.Fill(image.Rect(0, 0, 5, 10), 255)

	mean, ok := m.RegionMean(image.Rect(0, 0, 10, 10))
	if !ok || mean != 127.5 {
		t.Errorf("RegionMean(full) = %v, %v; want 127.5, true", mean, ok)
	}
	mean, ok = m.RegionMean(image.Rect(-5, -5, 5, 5))
	if !ok || mean != 255 {
		t.Errorf("RegionMean(clipped) = %v, %v; want 255, true", mean, ok)
	}
	if _, ok := m.RegionMean(image.Rect(20, 20, 30, 30)); ok {
		t.Error("RegionMean outside the mask should report false")
	}
}

func TestAdjacent(t *testing.T) {
	mk := Mark{X: 110, Y: 130, W: 20, H: 20}

	tests := []struct {
		name  string
		fills []image.Rectangle
		want  Adjacency
	}{
		{"no line", nil, Adjacency{}},
		{
			name:  "line above and to the left",
			fills: []image.Rectangle{image.Rect(100, 0, 120, 120), image.Rect(0, 120, 100, 140)},
			want:  Adjacency{Top: true, Left: true},
		},
		{
			name:  "straight through vertically",
			fills: []image.Rectangle{image.Rect(100, 0, 120, 180)},
			want:  Adjacency{Top: true, Bottom: true},
		},
		{
			name:  "partly covered probe is not enough",
			fills: []image.Rectangle{image.Rect(120, 125, 130, 128)},
			want:  Adjacency{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := NewMask(320, 180)
			for _, r := range tt.fills {
				line.Fill(r, 255)
			}
			if got := Adjacent(line, mk, 95); got != tt.want {
				t.Errorf("Adjacent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAdjacent_ProbeOutsideFrame(t *testing.T) {
	line := NewMask(320, 180)
	line.Fill(line.Bounds(), 255)

	// The top probe of a mark touching the top edge lies outside the frame.
	got := Adjacent(line, Mark{X: 50, Y: 5, W: 10, H: 10}, 95)
	if got.Top {
		t.Error("probe outside the frame must not count as adjacent")
	}
	if !got.Bottom || !got.Left || !got.Right {
		t.Errorf("Adjacent() = %+v, want bottom, left and right set", got)
	}
}

func TestMarksFromContours(t *testing.T) {
	contours := []Contour{
		rectContour(10, 10, 30, 30),     // 400 px
		rectContour(50, 50, 60, 70),     // exactly 200 px, rejected
		rectContour(100, 120, 120, 141), // 420 px
	}
	got := MarksFromContours(contours, 200)
	want := []Mark{
		{X: 20, Y: 20, W: 21, H: 21},
		{X: 110, Y: 131, W: 21, H: 22},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("MarksFromContours() mismatch (-want +got):\n%s", diff)
	}
	if got := MarksFromContours(nil, 200); got != nil {
		t.Errorf("MarksFromContours(nil) = %v, want nil", got)
	}
}

func TestInLowerHalf(t *testing.T) {
	if InLowerHalf(nil, 180) {
		t.Error("no marks cannot be in the lower half")
	}
	if InLowerHalf([]Mark{{X: 10, Y: 90}}, 180) {
		t.Error("a mark on the midline is not below it")
	}
	if !InLowerHalf([]Mark{{X: 10, Y: 20}, {X: 10, Y: 91}}, 180) {
		t.Error("second mark is in the lower half")
	}
}
