// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// recorder is an Encoder that records the tasks it is given.
type recorder struct {
	mu    sync.Mutex
	tasks []Task

	release chan struct{}
	err     error
}

func (r *recorder) Encode(ctx context.Context, task Task) ([]byte, error) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte("GIF89a"), nil
}

func TestAssembleEmpty(t *testing.T) {
	enc := &recorder{}
	a := &Assembler{Encoder: enc}
	f, err := a.Assemble(context.Background(), nil, time.Second)
	if !errors.Is(err, ErrNoFrames) {
		t.Errorf("unexpected error: got:%v want:%v", err, ErrNoFrames)
	}
	if f != nil {
		t.Error("unexpected future for empty assembly")
	}
	if a.Encoding() {
		t.Error("assembler encoding after empty assembly")
	}
	if len(enc.tasks) != 0 {
		t.Errorf("encoder invoked for empty assembly: %d tasks", len(enc.tasks))
	}
}

func TestAssembleTask(t *testing.T) {
	enc := &recorder{}
	a := &Assembler{Encoder: enc, Quality: 5, Workers: 2, Background: white}
	frames := []*Frame{
		NewFrame(filled(40, 30, red), "", time.Time{}),
		NewFrame(filled(20, 50, red), "", time.Time{}),
		NewFrame(filled(10, 10, red), "", time.Time{}),
	}
	ctx := context.Background()
	f, err := a.Assemble(ctx, frames, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "GIF89a" {
		t.Errorf("unexpected result: %q", b)
	}

	if len(enc.tasks) != 1 {
		t.Fatalf("unexpected number of encoder invocations: %d", len(enc.tasks))
	}
	task := enc.tasks[0]
	type pair struct {
		Image image.Image
		Delay time.Duration
	}
	var got, want []pair
	for i, tf := range task.Frames {
		got = append(got, pair{tf.Image, tf.Delay})
		want = append(want, pair{frames[i], 200 * time.Millisecond})
	}
	if !cmp.Equal(want, got, cmp.Comparer(func(a, b image.Image) bool { return a == b })) {
		t.Errorf("unexpected frames:\n--- want:\n+++ got:\n%s",
			cmp.Diff(want, got, cmp.Comparer(func(a, b image.Image) bool { return a == b })))
	}
	if task.Width != 40 || task.Height != 50 {
		t.Errorf("unexpected output size: got:%dx%d want:40x50", task.Width, task.Height)
	}
	if task.Quality != 5 || task.Workers != 2 || task.Background != white {
		t.Errorf("unexpected task parameters: %+v", task)
	}
}

func TestAssembleBusy(t *testing.T) {
	enc := &recorder{release: make(chan struct{})}
	a := &Assembler{Encoder: enc}
	ctx := context.Background()
	frames := testFrames(1)

	f, err := a.Assemble(ctx, frames, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Encoding() {
		t.Error("assembler not encoding")
	}
	_, err = a.Assemble(ctx, frames, time.Second)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("unexpected error for concurrent assembly: got:%v want:%v", err, ErrBusy)
	}
	if f.Resolved() {
		t.Error("future resolved before encoding completed")
	}

	close(enc.release)
	_, err = f.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Encoding() {
		t.Error("assembler encoding after resolution")
	}
	enc.release = nil
	f, err = a.Assemble(ctx, frames, time.Second)
	if err != nil {
		t.Fatalf("unexpected error after completion: %v", err)
	}
	_, err = f.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAssembleEncodeError(t *testing.T) {
	want := errors.New("encoder failure")
	a := &Assembler{Encoder: &recorder{err: want}}
	ctx := context.Background()
	f, err := a.Assemble(ctx, testFrames(2), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = f.Wait(ctx)
	if !errors.Is(err, want) {
		t.Errorf("unexpected error: got:%v want:%v", err, want)
	}
	if a.Encoding() {
		t.Error("assembler encoding after failure")
	}
}
