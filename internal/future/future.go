// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package future provides single-resolution asynchronous results.
package future

import (
	"context"
	"sync"
)

// Future is the result of an asynchronous operation. A Future is resolved
// exactly once.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// New returns an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Go runs fn in a new goroutine and returns a Future that is resolved
// with its result.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := New[T]()
	go func() {
		f.Resolve(fn(ctx))
	}()
	return f
}

// Resolve resolves the receiver with the provided value and error. It
// reports whether this call resolved f; all calls after the first are
// ignored.
func (f *Future[T]) Resolve(val T, err error) bool {
	ok := false
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
		ok = true
	})
	return ok
}

// Done returns a channel that is closed when f is resolved.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until f is resolved or ctx is done. If ctx is done first,
// the zero value and ctx.Err() are returned and f remains pending.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Resolved returns whether f has been resolved.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
