// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package animation provides frame capture, frame sequence storage,
// animation preview and GIF assembly.
package animation

import "errors"

var (
	// ErrNoFrames is returned when an operation requires a non-empty
	// frame sequence.
	ErrNoFrames = errors.New("no frames")

	// ErrBusy is returned when an assembly is requested while a
	// previous assembly is still encoding.
	ErrBusy = errors.New("encoding in progress")

	// ErrIndex is returned when a frame index is out of range.
	ErrIndex = errors.New("frame index out of range")
)
