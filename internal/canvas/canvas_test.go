// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package canvas

import (
	"image"
	"image/color"
	"math"
	"testing"
)

var (
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	red   = color.RGBA{R: 0xff, A: 0xff}
)

func TestNewFillsBackground(t *testing.T) {
	c := New(8, 6, white)
	if got := c.Size(); got != (image.Point{X: 8, Y: 6}) {
		t.Fatalf("unexpected size: got:%v want:(8,6)", got)
	}
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			if got := c.img.RGBAAt(x, y); got != white {
				t.Fatalf("unexpected colour at (%d,%d): got:%v want:%v", x, y, got, white)
			}
		}
	}
}

func TestPointerMoveRequiresDrawing(t *testing.T) {
	c := New(40, 40, white)
	pen := Pen{Color: red, Width: 4}
	if c.PointerMove(image.Point{X: 20, Y: 20}, pen) {
		t.Error("painted without pointer down")
	}
	if !uniform(c.img, white) {
		t.Fatal("canvas mutated without pointer down")
	}

	c.PointerDown(image.Point{X: 10, Y: 10})
	if !c.PointerMove(image.Point{X: 20, Y: 20}, pen) {
		t.Error("did not paint in drawing state")
	}
	if got := c.img.RGBAAt(15, 15); !isRed(got) {
		t.Errorf("unexpected colour on stroke: got:%v want:%v", got, red)
	}
	if got := c.img.RGBAAt(35, 5); got != white {
		t.Errorf("unexpected colour off stroke: got:%v want:%v", got, white)
	}

	c.PointerUp()
	before := c.Snapshot()
	if c.PointerMove(image.Point{X: 30, Y: 5}, pen) {
		t.Error("painted after pointer up")
	}
	for i := range before.Pix {
		if before.Pix[i] != c.img.Pix[i] {
			t.Fatal("canvas mutated after pointer up")
		}
	}
}

func TestPointerMoveOffsetsSegmentEnd(t *testing.T) {
	c := New(20, 20, white)
	c.PointerDown(image.Point{X: 5, Y: 5})
	c.PointerMove(image.Point{X: 5, Y: 5}, Pen{Color: red, Width: 1})
	if got := c.img.RGBAAt(5, 5); got == white {
		t.Error("expected start of segment to be painted")
	}
	if got := c.img.RGBAAt(6, 6); got == white {
		t.Error("expected offset end of segment to be painted")
	}
	if got := c.img.RGBAAt(12, 12); got != white {
		t.Errorf("unexpected paint far from segment: %v", got)
	}
}

func TestStrokeClipped(t *testing.T) {
	c := New(10, 10, white)
	c.PointerDown(image.Point{X: -50, Y: -50})
	c.PointerMove(image.Point{X: -40, Y: -40}, Pen{Color: red, Width: 3})
	if !uniform(c.img, white) {
		t.Error("stroke outside canvas painted pixels")
	}
}

var extremeStrokeTests = []struct {
	name     string
	from, to image.Point
	width    float64
	painted  image.Point
}{
	{name: "min_int_x", from: image.Point{X: 5, Y: 5}, to: image.Point{X: math.MinInt, Y: 5}, width: 4, painted: image.Point{X: 2, Y: 5}},
	{name: "max_int_x", from: image.Point{X: 5, Y: 5}, to: image.Point{X: math.MaxInt, Y: 5}, width: 4, painted: image.Point{X: 15, Y: 6}},
	{name: "min_int_y", from: image.Point{X: 5, Y: 5}, to: image.Point{X: 5, Y: math.MinInt}, width: 4, painted: image.Point{X: 5, Y: 2}},
	{name: "both_extreme", from: image.Point{X: math.MinInt, Y: math.MinInt}, to: image.Point{X: math.MaxInt, Y: math.MaxInt}, width: 4, painted: image.Point{X: 10, Y: 10}},
	{name: "huge_width", from: image.Point{X: 5, Y: 5}, to: image.Point{X: 6, Y: 6}, width: math.MaxFloat64, painted: image.Point{X: 19, Y: 0}},
	{name: "nan_width", from: image.Point{X: 5, Y: 5}, to: image.Point{X: 5, Y: 5}, width: math.NaN(), painted: image.Point{X: 5, Y: 5}},
}

func TestExtremeStroke(t *testing.T) {
	for _, test := range extremeStrokeTests {
		t.Run(test.name, func(t *testing.T) {
			c := New(20, 20, white)
			c.PointerDown(test.from)
			if !c.PointerMove(test.to, Pen{Color: red, Width: test.width}) {
				t.Fatal("did not paint in drawing state")
			}
			if got := c.img.RGBAAt(test.painted.X, test.painted.Y); got == white {
				t.Errorf("expected (%d,%d) to be painted", test.painted.X, test.painted.Y)
			}
		})
	}
}

func TestInRange(t *testing.T) {
	for _, test := range []struct {
		p    image.Point
		want bool
	}{
		{p: image.Point{}, want: true},
		{p: image.Point{X: MaxCoord, Y: -MaxCoord}, want: true},
		{p: image.Point{X: MaxCoord + 1}, want: false},
		{p: image.Point{Y: math.MinInt}, want: false},
	} {
		if got := InRange(test.p); got != test.want {
			t.Errorf("unexpected result for %v: got:%t want:%t", test.p, got, test.want)
		}
	}
}

func TestResetAndResize(t *testing.T) {
	c := New(10, 12, white)
	c.PointerDown(image.Point{X: 1, Y: 1})
	c.PointerMove(image.Point{X: 5, Y: 5}, Pen{Color: red, Width: 2})
	c.Resize(30, 40)
	if got := c.Size(); got != (image.Point{X: 30, Y: 40}) {
		t.Errorf("unexpected resized size: %v", got)
	}
	if !uniform(c.img, white) {
		t.Error("resized canvas not filled with background")
	}
	c.Reset()
	if got := c.Size(); got != (image.Point{X: 10, Y: 12}) {
		t.Errorf("unexpected reset size: %v", got)
	}
	if c.Drawing() {
		t.Error("reset did not leave drawing state")
	}
}

func TestPaint(t *testing.T) {
	c := New(20, 20, white)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:], []byte{0xff, 0, 0, 0xff})
	}
	c.Paint(img, image.Rect(5, 5, 15, 15))
	if got := c.img.RGBAAt(10, 10); !isRed(got) {
		t.Errorf("unexpected colour inside painted rect: %v", got)
	}
	if got := c.img.RGBAAt(2, 2); got != white {
		t.Errorf("unexpected colour outside painted rect: %v", got)
	}
}

func uniform(img *image.RGBA, c color.RGBA) bool {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) != c {
				return false
			}
		}
	}
	return true
}

func isRed(c color.RGBA) bool {
	return c.R > 0xf0 && c.G < 0x10 && c.B < 0x10 && c.A == 0xff
}
