// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Store is an ordered frame sequence. Insertion order is display and
// encoding order. Store implementations must be safe for concurrent use.
type Store interface {
	// Append adds f to the end of the sequence and returns its index.
	Append(ctx context.Context, f *Frame) (int, error)
	// Len returns the number of frames in the sequence.
	Len(ctx context.Context) (int, error)
	// Frame returns the i'th frame. It returns an error wrapping
	// ErrIndex if i is out of range.
	Frame(ctx context.Context, i int) (*Frame, error)
	// Frames returns all the frames in order.
	Frames(ctx context.Context) ([]*Frame, error)
	// Clear empties the sequence.
	Clear(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu     sync.Mutex
	frames []*Frame
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) Append(_ context.Context, f *Frame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return len(s.frames) - 1, nil
}

func (s *MemStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames), nil
}

func (s *MemStore) Frame(_ context.Context, i int) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.frames) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrIndex, i, len(s.frames))
	}
	return s.frames[i], nil
}

func (s *MemStore) Frames(context.Context) ([]*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.frames), nil
}

func (s *MemStore) Clear(context.Context) error {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
	return nil
}

func (s *MemStore) Close() error {
	return s.Clear(context.Background())
}
