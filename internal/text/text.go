// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package text provides functions for rendering outlined captions to an
// image.
package text

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bbrks/wrap/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultSize is the default caption size in pixels.
const DefaultSize = 20

var goRegular = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// NewFace returns a Go Regular face at the given pixel size. The returned
// face is not safe for concurrent use.
func NewFace(size float64) (font.Face, error) {
	f, err := goRegular()
	if err != nil {
		return nil, fmt.Errorf("parse caption font: %w", err)
	}
	if size <= 0 {
		size = DefaultSize
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Style is a caption style.
type Style struct {
	// Face is the caption font face. If nil, the Go Regular
	// face is used at DefaultSize.
	Face font.Face

	Fill    color.Color // Default: white.
	Outline color.Color // Default: black.

	// OutlineWidth is the outline radius in pixels.
	// Zero disables the outline.
	OutlineWidth int

	// Margin is the distance between the bottom of the
	// caption and the bottom of the image.
	Margin int
}

// DefaultStyle returns the caption style used when none is configured.
func DefaultStyle() (Style, error) {
	face, err := NewFace(DefaultSize)
	if err != nil {
		return Style{}, err
	}
	return Style{
		Face:         face,
		Fill:         color.White,
		Outline:      color.Black,
		OutlineWidth: 2,
		Margin:       10,
	}, nil
}

// Caption renders s centred horizontally at the bottom of dst. Text wider
// than dst is wrapped at word boundaries where possible with lines stacked
// upward from the bottom margin. Leading and trailing white space is
// ignored and an empty caption draws nothing.
func Caption(dst draw.Image, s string, style Style) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	face := style.Face
	if face == nil {
		var err error
		face, err = NewFace(DefaultSize)
		if err != nil {
			return err
		}
		defer face.Close()
	}
	fill := style.Fill
	if fill == nil {
		fill = color.White
	}
	outline := style.Outline
	if outline == nil {
		outline = color.Black
	}

	b := dst.Bounds()
	avail := b.Dx() - 2*(style.OutlineWidth+1)
	lines := Lines(s, face, avail)

	metrics := face.Metrics()
	height := metrics.Height.Ceil()
	bottom := b.Max.Y - style.Margin - metrics.Descent.Ceil()

	var target draw.Image = dst
	var out Outlined[*image.RGBA]
	if style.OutlineWidth > 0 {
		out = Outlined[*image.RGBA]{
			Text:         image.NewRGBA(b),
			Background:   image.NewRGBA(b),
			OutlineColor: outline,
			Radius:       style.OutlineWidth,
		}
		target = out
	}
	fg := image.NewUniform(fill)
	for i, l := range lines {
		w := font.MeasureString(face, l).Ceil()
		drawer := font.Drawer{
			Dst:  target,
			Src:  fg,
			Face: face,
			Dot:  fixed.P(b.Min.X+(b.Dx()-w)/2, bottom-(len(lines)-1-i)*height),
		}
		drawer.DrawString(l)
	}
	if style.OutlineWidth > 0 {
		draw.Draw(dst, b, out, b.Min, draw.Over)
	}
	return nil
}

// Lines returns s broken into lines that fit within width pixels when
// rendered with face. Single words wider than width are cut.
func Lines(s string, face font.Face, width int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if width <= 0 || font.MeasureString(face, s).Ceil() <= width {
		return []string{s}
	}
	cols := utf8.RuneCountInString(s) * width / font.MeasureString(face, s).Ceil()
	if cols < 1 {
		cols = 1
	}
	wrapper := wrap.NewWrapper()
	wrapper.StripTrailingNewline = true
	wrapper.CutLongWords = true
	for {
		lines := strings.Split(wrapper.Wrap(s, cols), "\n")
		fits := true
		n := 0
		for _, l := range lines {
			l = strings.TrimSpace(l)
			if l == "" {
				continue
			}
			lines[n] = l
			n++
			if font.MeasureString(face, l).Ceil() > width {
				fits = false
			}
		}
		lines = lines[:n]
		if fits || cols == 1 {
			return lines
		}
		cols--
	}
}

// Outlined is an image that renders an outline of the given radius
// around a drawing.
type Outlined[T draw.Image] struct {
	Text       T
	Background T

	OutlineColor color.Color

	// Radius is the outline radius in pixels.
	// Values less than one are treated as one.
	Radius int
}

func (o Outlined[T]) Set(x, y int, c color.Color) {
	o.Text.Set(x, y, c)
	r := max(o.Radius, 1)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			o.Background.Set(x+dx, y+dy, o.OutlineColor)
		}
	}
}

func (o Outlined[T]) At(x, y int) color.Color {
	// m is the maximum color value returned by image.Color.RGBA.
	const m = 1<<16 - 1

	rT, gT, bT, aT := o.Text.At(x, y).RGBA()
	rO, gO, bO, aO := o.Background.At(x, y).RGBA()
	a := m - aT
	return color.RGBA64{
		R: uint16(rT + rO*a/m),
		G: uint16(gT + gO*a/m),
		B: uint16(bT + bO*a/m),
		A: uint16(aT + aO*a/m),
	}
}

func (o Outlined[T]) Bounds() image.Rectangle {
	return o.Text.Bounds().Intersect(o.Background.Bounds())
}

func (o Outlined[T]) ColorModel() color.Model {
	return o.Text.ColorModel()
}
