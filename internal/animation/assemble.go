// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/flipbook/internal/future"
)

// Encoder is an animation encoder.
type Encoder interface {
	// Encode encodes the frames described by task and returns
	// the encoded animation.
	Encode(ctx context.Context, task Task) ([]byte, error)
}

// Task is an encoding task.
type Task struct {
	// Width and Height are the dimensions of the output.
	Width, Height int

	// Quality is the colour quantisation quality. Lower
	// values are better.
	Quality int

	// Workers is the maximum number of frames to process
	// in parallel. Values less than one mean one.
	Workers int

	// Background is the colour used to pad frames that
	// are smaller than the output.
	Background color.Color

	Frames []TaskFrame
}

// TaskFrame is an image to encode and the duration it is displayed.
type TaskFrame struct {
	Image image.Image
	Delay time.Duration
}

// Assembler submits frame sequences to an Encoder. An Assembler is either
// Idle or Encoding, and only one assembly may run at a time.
type Assembler struct {
	Encoder Encoder

	Quality    int
	Workers    int
	Background color.Color

	Log *slog.Logger

	mu       sync.Mutex
	encoding bool
}

// Assemble starts encoding frames, each displayed for delay, and returns
// a future that is resolved exactly once with the encoded result. The
// output dimensions are the union of the frame dimensions. Assemble
// returns ErrNoFrames if frames is empty and ErrBusy if a previous
// assembly has not completed. The assembler returns to Idle before the
// future is resolved.
func (a *Assembler) Assemble(ctx context.Context, frames []*Frame, delay time.Duration) (*future.Future[[]byte], error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	a.mu.Lock()
	if a.encoding {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	a.encoding = true
	a.mu.Unlock()

	task := Task{
		Quality:    a.Quality,
		Workers:    a.Workers,
		Background: a.Background,
		Frames:     make([]TaskFrame, len(frames)),
	}
	for i, f := range frames {
		sz := f.Size()
		task.Width = max(task.Width, sz.X)
		task.Height = max(task.Height, sz.Y)
		task.Frames[i] = TaskFrame{Image: f, Delay: delay}
	}

	result := future.New[[]byte]()
	go func() {
		start := time.Now()
		b, err := a.Encoder.Encode(ctx, task)
		a.mu.Lock()
		a.encoding = false
		a.mu.Unlock()
		if a.Log != nil {
			if err != nil {
				a.Log.LogAttrs(ctx, slog.LevelError, "assemble", slog.Any("error", err))
			} else {
				a.Log.LogAttrs(ctx, slog.LevelInfo, "assemble",
					slog.Int("frames", len(task.Frames)),
					slog.Int("width", task.Width),
					slog.Int("height", task.Height),
					slog.Int("bytes", len(b)),
					slog.Duration("duration", time.Since(start)),
				)
			}
		}
		result.Resolve(b, err)
	}()
	return result, nil
}

// Encoding returns whether an assembly is in progress.
func (a *Assembler) Encoding() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.encoding
}
