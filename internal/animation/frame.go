// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"image/color"
	"strings"
	"time"

	"golang.org/x/image/draw"

	"github.com/kortschak/flipbook/internal/sizing"
	"github.com/kortschak/flipbook/internal/text"
)

// Frame is an immutable captured image. Frame implements [image.Image]
// over its pixels but never exposes its backing buffer.
type Frame struct {
	img      *image.RGBA
	caption  string
	captured time.Time
}

// NewFrame returns a Frame holding a copy of img.
func NewFrame(img image.Image, caption string, captured time.Time) *Frame {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rectangle{Max: b.Size()})
	draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
	return &Frame{img: dst, caption: caption, captured: captured}
}

// Capture returns a new Frame from src. The frame is at least size, with
// src centred on a bg background when src is smaller. A non-empty caption
// is rendered onto the frame with the provided style.
func Capture(src image.Image, size image.Point, bg color.Color, caption string, style text.Style) (*Frame, error) {
	sb := src.Bounds()
	size.X = max(size.X, sb.Dx())
	size.Y = max(size.Y, sb.Dy())
	dst := image.NewRGBA(image.Rectangle{Max: size})
	if bg == nil {
		bg = color.White
	}
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	r := sizing.Centre(size, sb.Size())
	draw.Draw(dst, r, src, sb.Min, draw.Over)

	caption = strings.TrimSpace(caption)
	err := text.Caption(dst, caption, style)
	if err != nil {
		return nil, err
	}
	return &Frame{img: dst, caption: caption, captured: time.Now()}, nil
}

// Caption returns the caption rendered into the frame.
func (f *Frame) Caption() string { return f.caption }

// Captured returns the time the frame was captured.
func (f *Frame) Captured() time.Time { return f.captured }

// Size returns the width and height of the frame.
func (f *Frame) Size() image.Point { return f.img.Bounds().Size() }

// Clone returns a mutable copy of the frame's pixels.
func (f *Frame) Clone() *image.RGBA {
	dst := image.NewRGBA(f.img.Bounds())
	copy(dst.Pix, f.img.Pix)
	return dst
}

func (f *Frame) ColorModel() color.Model    { return color.RGBAModel }
func (f *Frame) Bounds() image.Rectangle    { return f.img.Bounds() }
func (f *Frame) At(x, y int) color.Color    { return f.img.RGBAAt(x, y) }
func (f *Frame) RGBAAt(x, y int) color.RGBA { return f.img.RGBAAt(x, y) }
