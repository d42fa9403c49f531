// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package importer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/kortschak/flipbook/internal/canvas"
	"github.com/kortschak/flipbook/internal/sizing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 0xff, A: 0xff})
		}
	}
	return img
}

var decodeTests = []struct {
	name   string
	encode func(*bytes.Buffer, image.Image) error
}{
	{
		name: "png",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			return png.Encode(buf, img)
		},
	},
	{
		name: "jpeg",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			return jpeg.Encode(buf, img, nil)
		},
	},
	{
		name: "gif",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			return gif.Encode(buf, img, nil)
		},
	},
	{
		name: "animated_gif",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			b := img.Bounds()
			first := image.NewPaletted(b, palette.Plan9)
			second := image.NewPaletted(b, palette.Plan9)
			for i := range first.Pix {
				first.Pix[i] = uint8(first.Palette.Index(color.RGBA{R: 0xff, A: 0xff}))
				second.Pix[i] = uint8(second.Palette.Index(color.RGBA{B: 0xff, A: 0xff}))
			}
			return gif.EncodeAll(buf, &gif.GIF{
				Image: []*image.Paletted{first, second},
				Delay: []int{10, 10},
			})
		},
	},
	{
		name: "bmp",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			return bmp.Encode(buf, img)
		},
	},
	{
		name: "tiff",
		encode: func(buf *bytes.Buffer, img image.Image) error {
			return tiff.Encode(buf, img, nil)
		},
	},
}

func TestDecode(t *testing.T) {
	src := testImage(12, 7)
	for _, test := range decodeTests {
		t.Run(test.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := test.encode(&buf, src)
			if err != nil {
				t.Fatalf("unexpected error encoding: %v", err)
			}
			img, err := Decode(&buf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := img.Bounds().Size(); got != src.Bounds().Size() {
				t.Errorf("unexpected size: got:%v want:%v", got, src.Bounds().Size())
			}
			r, g, b, _ := img.At(6, 3).RGBA()
			if r < 0xe000 || g > 0x2000 || b > 0x2000 {
				t.Errorf("unexpected colour: got:%v want red", img.At(6, 3))
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("unexpected error for nil reader: got:%v want:%v", err, ErrNoFile)
	}
	_, err = Decode(strings.NewReader(""))
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("unexpected error for empty reader: got:%v want:%v", err, ErrNoFile)
	}
	_, err = Decode(strings.NewReader("not an image"))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("unexpected error for invalid data: got:%v want:%v", err, ErrDecode)
	}
}

func TestDecodeDataURI(t *testing.T) {
	var buf bytes.Buffer
	err := png.Encode(&buf, testImage(5, 3))
	if err != nil {
		t.Fatalf("unexpected error encoding: %v", err)
	}
	data := base64.StdEncoding.EncodeToString(buf.Bytes())

	img, err := DecodeDataURI("data:image/png;base64," + data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := img.Bounds().Size(); got != (image.Point{X: 5, Y: 3}) {
		t.Errorf("unexpected size: got:%v want:(5,3)", got)
	}

	for _, uri := range []string{
		"http://example.com/image.png",
		"data:image/png;base64",
		"data:text/plain;base64," + data,
		"data:image/png," + data,
		"data:image/png;base64,!!!!",
	} {
		_, err := DecodeDataURI(uri)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("unexpected error for %.40q: got:%v want:%v", uri, err, ErrDecode)
		}
	}
	_, err = DecodeDataURI("data:image/png;base64,")
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("unexpected error for empty data: got:%v want:%v", err, ErrNoFile)
	}
}

func TestLoad(t *testing.T) {
	var buf bytes.Buffer
	err := png.Encode(&buf, testImage(4, 4))
	if err != nil {
		t.Fatalf("unexpected error encoding: %v", err)
	}
	imp := &Importer{Policy: &sizing.UnionBound{}}
	ctx := context.Background()

	img, err := imp.Load(ctx, &buf).Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := img.Bounds().Size(); got != (image.Point{X: 4, Y: 4}) {
		t.Errorf("unexpected size: got:%v want:(4,4)", got)
	}

	_, err = imp.Load(ctx, nil).Wait(ctx)
	if !errors.Is(err, ErrNoFile) {
		t.Errorf("unexpected error for nil reader: got:%v want:%v", err, ErrNoFile)
	}
	if got := imp.Policy.Bound(); got != (image.Point{}) {
		t.Errorf("load mutated policy state: %v", got)
	}
}

func TestApply(t *testing.T) {
	white := color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	red := color.RGBA{R: 0xff, A: 0xff}

	t.Run("union_bound", func(t *testing.T) {
		c := canvas.New(100, 100, white)
		imp := &Importer{Policy: &sizing.UnionBound{}}
		imp.Apply(c, testImage(300, 100))
		imp.Apply(c, testImage(100, 200))
		if got := c.Size(); got != (image.Point{X: 300, Y: 200}) {
			t.Errorf("unexpected canvas size: got:%v want:(300,200)", got)
		}
		img := c.Snapshot()
		if got := img.RGBAAt(150, 100); got != red {
			t.Errorf("image not centred: got:%v at centre", got)
		}
		if got := img.RGBAAt(10, 100); got != white {
			t.Errorf("expected background outside image: got:%v", got)
		}
	})

	t.Run("aspect_fit", func(t *testing.T) {
		c := canvas.New(200, 100, white)
		imp := &Importer{Policy: sizing.AspectFit{Size: image.Point{X: 200, Y: 100}}}
		dst := imp.Apply(c, testImage(50, 50))
		if got := c.Size(); got != (image.Point{X: 200, Y: 100}) {
			t.Errorf("unexpected canvas size: got:%v want:(200,100)", got)
		}
		if want := image.Rect(50, 0, 150, 100); dst != want {
			t.Errorf("unexpected destination: got:%v want:%v", dst, want)
		}
		img := c.Snapshot()
		if got := img.RGBAAt(10, 50); got != white {
			t.Errorf("letterbox not background: got:%v", got)
		}
		if got := img.RGBAAt(100, 50); got != red {
			t.Errorf("image not painted: got:%v", got)
		}
	})

	t.Run("max_bound", func(t *testing.T) {
		c := canvas.New(10, 10, white)
		imp := &Importer{Policy: sizing.MaxBound{Max: image.Point{X: 100, Y: 100}}}
		imp.Apply(c, testImage(400, 200))
		if got := c.Size(); got != (image.Point{X: 100, Y: 50}) {
			t.Errorf("unexpected canvas size: got:%v want:(100,50)", got)
		}
	})
}
