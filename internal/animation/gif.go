// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"math"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/kortschak/flipbook/internal/sizing"
)

// DitherQuality is the largest quality value that uses Floyd-Steinberg
// dithering. Larger values use nearest colour quantisation.
const DitherQuality = 10

// GIFEncoder is an Encoder that renders a looping GIF using the Plan9
// palette.
type GIFEncoder struct{}

var _ Encoder = GIFEncoder{}

// Encode quantises the task's frames in parallel and returns the GIF
// encoding of the result. Frames smaller than the task dimensions are
// centred on the task background.
func (GIFEncoder) Encode(ctx context.Context, task Task) ([]byte, error) {
	if len(task.Frames) == 0 {
		return nil, ErrNoFrames
	}
	if task.Width <= 0 || task.Height <= 0 {
		return nil, fmt.Errorf("invalid gif dimensions: %dx%d", task.Width, task.Height)
	}
	bg := task.Background
	if bg == nil {
		bg = color.White
	}
	pal := color.Palette(palette.Plan9)
	var quantiser draw.Drawer = draw.Src
	if task.Quality <= DitherQuality {
		quantiser = draw.FloydSteinberg
	}

	size := image.Point{X: task.Width, Y: task.Height}
	g := &gif.GIF{
		Image: make([]*image.Paletted, len(task.Frames)),
		Delay: make([]int, len(task.Frames)),
		Config: image.Config{
			ColorModel: pal,
			Width:      task.Width,
			Height:     task.Height,
		},
		BackgroundIndex: uint8(pal.Index(bg)),
	}
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(max(task.Workers, 1))
	for i, f := range task.Frames {
		g.Delay[i] = centiseconds(f.Delay)
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src := f.Image
			sb := src.Bounds()
			if sb.Size() != size {
				padded := image.NewRGBA(image.Rectangle{Max: size})
				draw.Draw(padded, padded.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
				draw.Draw(padded, sizing.Centre(size, sb.Size()), src, sb.Min, draw.Over)
				src, sb = padded, padded.Bounds()
			}
			dst := image.NewPaletted(image.Rectangle{Max: size}, pal)
			quantiser.Draw(dst, dst.Bounds(), src, sb.Min)
			g.Image[i] = dst
			return nil
		})
	}
	err := grp.Wait()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = gif.EncodeAll(&buf, g)
	if err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	return buf.Bytes(), nil
}

// MaxDelay is the longest frame delay that can be encoded in a GIF.
const MaxDelay = math.MaxUint16 * delayUnit

const delayUnit = 10 * time.Millisecond

// centiseconds returns d in GIF delay units, rounded to the nearest
// hundredth of a second and clamped to MaxDelay.
func centiseconds(d time.Duration) int {
	if d >= MaxDelay {
		return math.MaxUint16
	}
	return int((d + delayUnit/2) / delayUnit)
}
