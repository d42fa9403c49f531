// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sizing provides the policies that reconcile canvas and imported
// image dimensions.
package sizing

import (
	"fmt"
	"image"
	"math"
)

// Kind is a sizing policy name.
type Kind string

// Sizing policy kinds.
const (
	KindAspectFit  Kind = "aspect_fit"
	KindMaxBound   Kind = "max_bound"
	KindUnionBound Kind = "union_bound"
)

// Policy is a canvas sizing strategy.
type Policy interface {
	// Kind returns the policy's kind.
	Kind() Kind

	// Fit returns the canvas size to adopt when painting an image with
	// the size img onto a canvas currently of size canvas, and the
	// rectangle within the new canvas that the image is to be scaled
	// into.
	Fit(canvas, img image.Point) (size image.Point, dst image.Rectangle)

	// Bound returns the minimum size of captured frames. A zero
	// component places no constraint.
	Bound() image.Point

	// Reset forgets any state accumulated by calls to Fit.
	Reset()
}

// New returns a policy of the given kind. size is the fixed canvas size
// used by the aspect fit policy and limit is the maximum bound used by the
// max and union bound policies. A zero limit component is unbounded.
func New(kind Kind, size, limit image.Point) (Policy, error) {
	switch kind {
	case KindAspectFit:
		return AspectFit{Size: size}, nil
	case KindMaxBound:
		return MaxBound{Max: limit}, nil
	case KindUnionBound, "":
		return &UnionBound{Max: limit}, nil
	default:
		return nil, fmt.Errorf("unknown sizing policy: %q", kind)
	}
}

// AspectFit is a fixed canvas size policy. Images are scaled to fit
// inside the canvas preserving their aspect ratio and are centred. The
// letterbox is left to the canvas background.
type AspectFit struct {
	// Size is the canvas size. If a component is zero,
	// the current canvas size is used.
	Size image.Point
}

func (AspectFit) Kind() Kind         { return KindAspectFit }
func (AspectFit) Bound() image.Point { return image.Point{} }
func (AspectFit) Reset()             {}

func (p AspectFit) Fit(canvas, img image.Point) (image.Point, image.Rectangle) {
	size := p.Size
	if size.X <= 0 || size.Y <= 0 {
		size = canvas
	}
	return size, Centre(size, Scale(img, size, true))
}

// MaxBound is a policy where the canvas adopts the image's dimensions,
// uniformly downscaled to fit within Max when it exceeds it.
type MaxBound struct {
	// Max is the largest allowed canvas. A zero
	// component is unbounded in that dimension.
	Max image.Point
}

func (MaxBound) Kind() Kind         { return KindMaxBound }
func (MaxBound) Bound() image.Point { return image.Point{} }
func (MaxBound) Reset()             {}

func (p MaxBound) Fit(_, img image.Point) (image.Point, image.Rectangle) {
	size := Scale(img, p.Max, false)
	return size, image.Rectangle{Max: size}
}

// UnionBound is a policy where the canvas grows monotonically to the
// bounding box of all images imported since the last Reset. Each image
// is centred within that box. UnionBound values must not be copied after
// first use.
type UnionBound struct {
	// Max is the largest allowed bound. A zero
	// component is unbounded in that dimension.
	// Images exceeding Max are uniformly downscaled.
	Max image.Point

	bound image.Point
}

func (*UnionBound) Kind() Kind           { return KindUnionBound }
func (p *UnionBound) Bound() image.Point { return p.bound }
func (p *UnionBound) Reset()             { p.bound = image.Point{} }

func (p *UnionBound) Fit(_, img image.Point) (image.Point, image.Rectangle) {
	img = Scale(img, p.Max, false)
	p.bound.X = max(p.bound.X, img.X)
	p.bound.Y = max(p.bound.Y, img.Y)
	return p.bound, Centre(p.bound, img)
}

// Scale returns src uniformly scaled to fit within box. If grow is false,
// src is only ever reduced. A zero box component is treated as unbounded.
// The returned size is at least one pixel in each dimension.
func Scale(src, box image.Point, grow bool) image.Point {
	if src.X <= 0 || src.Y <= 0 {
		return image.Point{X: max(src.X, 1), Y: max(src.Y, 1)}
	}
	f := math.Inf(1)
	if box.X > 0 {
		f = float64(box.X) / float64(src.X)
	}
	if box.Y > 0 {
		f = math.Min(f, float64(box.Y)/float64(src.Y))
	}
	if math.IsInf(f, 1) || (!grow && f >= 1) {
		return src
	}
	return image.Point{
		X: max(int(math.Round(float64(src.X)*f)), 1),
		Y: max(int(math.Round(float64(src.Y)*f)), 1),
	}
}

// Centre returns a rectangle of size sz centred within a box of size box
// with its origin at (0, 0).
func Centre(box, sz image.Point) image.Rectangle {
	off := box.Sub(sz).Div(2)
	return image.Rectangle{Max: sz}.Add(off)
}
