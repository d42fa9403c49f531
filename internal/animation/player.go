// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// MinDelay is the shortest delay between preview frames.
const MinDelay = 10 * time.Millisecond

// Player cycles through a frame sequence on a fixed delay timer. The zero
// value is a stopped Player.
type Player struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	shown atomic.Pointer[shown]
}

type shown struct {
	index int
	frame *Frame
}

// Play starts cycling through frames, calling display with each frame and
// its index every delay, starting with index zero after the first delay.
// The cycle wraps indefinitely until Stop is called. If the player is
// already playing, the running cycle is stopped first. Play returns
// ErrNoFrames and leaves the player stopped if frames is empty.
//
// display is called from a separate goroutine and must not wait on
// anything held by a caller of Stop.
func (p *Player) Play(frames []*Frame, delay time.Duration, display func(int, *Frame)) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown.Store(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go p.run(ctx, done, slices.Clone(frames), max(delay, MinDelay), display)
	return nil
}

func (p *Player) run(ctx context.Context, done chan struct{}, frames []*Frame, delay time.Duration, display func(int, *Frame)) {
	defer close(done)
	tick := time.NewTicker(delay)
	defer tick.Stop()
	for i := 0; ; i = (i + 1) % len(frames) {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		// Both cases may be ready, so check for
		// cancellation before displaying.
		if ctx.Err() != nil {
			return
		}
		p.shown.Store(&shown{index: i, frame: frames[i]})
		if display != nil {
			display(i, frames[i])
		}
	}
}

// Stop stops a running cycle and waits for it to terminate. No display
// call is made after Stop returns. Stop is a no-op if the player is
// not playing.
func (p *Player) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Reset stops the player and forgets the last displayed frame.
func (p *Player) Reset() {
	p.Stop()
	p.shown.Store(nil)
}

// Playing returns whether a cycle is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Current returns the most recently displayed frame and its index. If no
// frame has been displayed since the last call to Play or Reset, ok is
// false.
func (p *Player) Current() (index int, frame *Frame, ok bool) {
	s := p.shown.Load()
	if s == nil {
		return -1, nil, false
	}
	return s.index, s.frame, true
}

// Index returns the index of the most recently displayed frame, or -1 if
// no frame has been displayed.
func (p *Player) Index() int {
	i, _, _ := p.Current()
	return i
}
