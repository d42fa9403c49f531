// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package canvas provides the raster drawing surface that pointer input
// paints onto.
package canvas

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

// Pen is the stroke style used for freehand drawing.
type Pen struct {
	Color color.Color
	// Width is the stroke width in pixels. Widths
	// less than one are drawn as one.
	Width float64
}

// Canvas is a mutable raster surface. Canvas values are not safe for
// concurrent use.
type Canvas struct {
	img        *image.RGBA
	initial    image.Point
	background *image.Uniform

	drawing bool
	prev    image.Point
}

// New returns a new Canvas of the given size filled with bg.
func New(width, height int, bg color.Color) *Canvas {
	c := &Canvas{
		initial:    image.Point{X: width, Y: height},
		background: image.NewUniform(bg),
	}
	c.Resize(width, height)
	return c
}

// Bounds returns the current bounds of the canvas.
func (c *Canvas) Bounds() image.Rectangle {
	return c.img.Bounds()
}

// Size returns the current width and height of the canvas.
func (c *Canvas) Size() image.Point {
	return c.img.Bounds().Size()
}

// Background returns the canvas background colour.
func (c *Canvas) Background() color.Color {
	return c.background.C
}

// Image returns the live canvas image. The returned image must not be
// retained beyond the next mutation of the canvas.
func (c *Canvas) Image() image.Image {
	return c.img
}

// Snapshot returns a copy of the current canvas image.
func (c *Canvas) Snapshot() *image.RGBA {
	dst := image.NewRGBA(c.img.Bounds())
	copy(dst.Pix, c.img.Pix)
	return dst
}

// Drawing returns whether the canvas is in the drawing state.
func (c *Canvas) Drawing() bool {
	return c.drawing
}

// PointerDown enters the drawing state with p as the previous position.
func (c *Canvas) PointerDown(p image.Point) {
	c.drawing = true
	c.prev = p
}

// PointerUp leaves the drawing state.
func (c *Canvas) PointerUp() {
	c.drawing = false
}

// PointerMove paints a segment from the previous pointer position to a
// point one unit offset from p when the canvas is in the drawing state,
// and records p as the previous position. It returns whether anything
// was painted.
func (c *Canvas) PointerMove(p image.Point, pen Pen) bool {
	if !c.drawing {
		return false
	}
	col := pen.Color
	if col == nil {
		col = color.Black
	}
	stroke(c.img, c.prev, clampPoint(p).Add(image.Point{X: 1, Y: 1}), pen.Width, col)
	c.prev = p
	return true
}

// Resize reallocates the canvas at the given size and fills it with the
// background colour. Sizes smaller than one pixel are treated as one.
func (c *Canvas) Resize(width, height int) {
	width = max(width, 1)
	height = max(height, 1)
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.Clear()
}

// Reset returns the canvas to its initial size and fills it with the
// background colour. Any drawing state is abandoned.
func (c *Canvas) Reset() {
	c.drawing = false
	c.Resize(c.initial.X, c.initial.Y)
}

// Clear fills the canvas with the background colour.
func (c *Canvas) Clear() {
	draw.Draw(c.img, c.img.Bounds(), c.background, image.Point{}, draw.Src)
}

// Paint scales img into the dst rectangle of the canvas.
func (c *Canvas) Paint(img image.Image, dst image.Rectangle) {
	if dst.Size() == img.Bounds().Size() {
		draw.Copy(c.img, dst.Min, img, img.Bounds(), draw.Over, nil)
		return
	}
	draw.BiLinear.Scale(c.img, dst, img, img.Bounds(), draw.Over, nil)
}

const (
	// MaxCoord is the largest magnitude of a pointer coordinate.
	// Stroke end points are clamped to it.
	MaxCoord = 1 << 20

	// MaxWidth is the largest pen width that is painted.
	MaxWidth = 1 << 12
)

// InRange returns whether both coordinates of p are within MaxCoord.
func InRange(p image.Point) bool {
	return -MaxCoord <= p.X && p.X <= MaxCoord && -MaxCoord <= p.Y && p.Y <= MaxCoord
}

func clampPoint(p image.Point) image.Point {
	return image.Point{
		X: min(max(p.X, -MaxCoord), MaxCoord),
		Y: min(max(p.Y, -MaxCoord), MaxCoord),
	}
}

// arcSteps is the number of line segments used for each stroke cap.
const arcSteps = 16

// stroke draws a round-capped line from a to b into dst.
func stroke(dst draw.Image, a, b image.Point, width float64, col color.Color) {
	if !(width >= 1) {
		width = 1
	}
	width = min(width, MaxWidth)
	a, b = clampPoint(a), clampPoint(b)
	r := width / 2
	pad := int(math.Ceil(r)) + 1
	box := image.Rect(
		min(a.X, b.X)-pad, min(a.Y, b.Y)-pad,
		max(a.X, b.X)+pad+1, max(a.Y, b.Y)+pad+1,
	).Intersect(dst.Bounds())
	if box.Empty() {
		return
	}

	// Work in rasterizer coordinates with the origin at box.Min,
	// placing points at pixel centres.
	ox, oy := float64(box.Min.X)-0.5, float64(box.Min.Y)-0.5
	ax, ay := float64(a.X)-ox, float64(a.Y)-oy
	bx, by := float64(b.X)-ox, float64(b.Y)-oy

	// Only the part of the segment within reach of the box is drawn.
	reach := r + 2
	ax, ay, bx, by, ok := clipSegment(ax, ay, bx, by,
		-reach, -reach, float64(box.Dx())+reach, float64(box.Dy())+reach)
	if !ok {
		return
	}

	dx, dy := bx-ax, by-ay
	l := math.Hypot(dx, dy)
	if l == 0 {
		dx, dy, l = 1, 0, 1
	}
	nx, ny := -dy/l*r, dx/l*r
	theta := math.Atan2(ny, nx)

	z := vector.NewRasterizer(box.Dx(), box.Dy())
	z.MoveTo(float32(ax+nx), float32(ay+ny))
	z.LineTo(float32(bx+nx), float32(by+ny))
	for i := 1; i <= arcSteps; i++ {
		t := theta - math.Pi*float64(i)/arcSteps
		z.LineTo(float32(bx+r*math.Cos(t)), float32(by+r*math.Sin(t)))
	}
	z.LineTo(float32(ax-nx), float32(ay-ny))
	for i := 1; i <= arcSteps; i++ {
		t := theta + math.Pi - math.Pi*float64(i)/arcSteps
		z.LineTo(float32(ax+r*math.Cos(t)), float32(ay+r*math.Sin(t)))
	}
	z.ClosePath()
	z.Draw(dst, box, image.NewUniform(col), image.Point{})
}

// clipSegment returns the part of the segment from a to b that lies
// within the rectangle [minX,maxX]×[minY,maxY], and false if there
// is none.
func clipSegment(ax, ay, bx, by, minX, minY, maxX, maxY float64) (float64, float64, float64, float64, bool) {
	dx, dy := bx-ax, by-ay
	t0, t1 := 0.0, 1.0
	for _, e := range [4][2]float64{
		{-dx, ax - minX},
		{dx, maxX - ax},
		{-dy, ay - minY},
		{dy, maxY - ay},
	} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return 0, 0, 0, 0, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return 0, 0, 0, 0, false
			}
			t0 = max(t0, t)
		} else {
			if t < t0 {
				return 0, 0, 0, 0, false
			}
			t1 = min(t1, t)
		}
	}
	return ax + t0*dx, ay + t0*dy, ax + t1*dx, ay + t1*dy, true
}
