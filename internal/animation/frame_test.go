// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/kortschak/flipbook/internal/text"
)

var (
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	red   = color.RGBA{R: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
)

func filled(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

func TestCaptureSize(t *testing.T) {
	for _, test := range []struct {
		name string
		src  image.Point
		size image.Point
		want image.Point
	}{
		{name: "same", src: image.Point{X: 40, Y: 30}, size: image.Point{X: 40, Y: 30}, want: image.Point{X: 40, Y: 30}},
		{name: "no_bound", src: image.Point{X: 40, Y: 30}, want: image.Point{X: 40, Y: 30}},
		{name: "padded", src: image.Point{X: 40, Y: 30}, size: image.Point{X: 60, Y: 50}, want: image.Point{X: 60, Y: 50}},
		{name: "partial", src: image.Point{X: 40, Y: 30}, size: image.Point{X: 20, Y: 50}, want: image.Point{X: 40, Y: 50}},
	} {
		t.Run(test.name, func(t *testing.T) {
			f, err := Capture(filled(test.src.X, test.src.Y, red), test.size, white, "", text.Style{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := f.Size(); got != test.want {
				t.Fatalf("unexpected size: got:%v want:%v", got, test.want)
			}
			if got := f.RGBAAt(test.want.X/2, test.want.Y/2); got != red {
				t.Errorf("source not centred: got:%v want:%v", got, red)
			}
			if test.want != test.src {
				if got := f.RGBAAt(0, 0); got != white {
					t.Errorf("padding not background: got:%v want:%v", got, white)
				}
			}
		})
	}
}

func TestCaptureCaption(t *testing.T) {
	style, err := text.DefaultStyle()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer style.Face.Close()

	src := filled(200, 120, blue)
	plain, err := Capture(src, image.Point{}, white, "   ", style)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plain.Caption() != "" {
		t.Errorf("unexpected caption: %q", plain.Caption())
	}
	for y := 0; y < 120; y++ {
		for x := 0; x < 200; x++ {
			if got := plain.RGBAAt(x, y); got != blue {
				t.Fatalf("blank caption changed pixel (%d,%d): %v", x, y, got)
			}
		}
	}

	captioned, err := Capture(src, image.Point{}, white, "  hello  ", style)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captioned.Caption() != "hello" {
		t.Errorf("unexpected caption: got:%q want:%q", captioned.Caption(), "hello")
	}
	var changed int
	for y := 0; y < 120; y++ {
		for x := 0; x < 200; x++ {
			if captioned.RGBAAt(x, y) != blue {
				if y < 60 {
					t.Fatalf("caption drawn in top half at (%d,%d)", x, y)
				}
				changed++
			}
		}
	}
	if changed == 0 {
		t.Error("caption not rendered")
	}

	if got := src.RGBAAt(100, 110); got != blue {
		t.Errorf("capture mutated source: %v", got)
	}
}

func TestFrameImmutable(t *testing.T) {
	src := filled(4, 4, red)
	f := NewFrame(src, "", time.Time{})
	src.SetRGBA(1, 1, blue)
	if got := f.RGBAAt(1, 1); got != red {
		t.Errorf("frame aliases source: got:%v want:%v", got, red)
	}
	c := f.Clone()
	c.SetRGBA(2, 2, blue)
	if got := f.RGBAAt(2, 2); got != red {
		t.Errorf("frame aliases clone: got:%v want:%v", got, red)
	}
}
