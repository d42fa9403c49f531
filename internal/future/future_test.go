// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package future

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolveOnce(t *testing.T) {
	f := New[int]()
	if f.Resolved() {
		t.Fatal("unexpected resolution of new future")
	}
	if !f.Resolve(1, nil) {
		t.Fatal("first resolve was ignored")
	}
	if f.Resolve(2, errors.New("late")) {
		t.Error("second resolve was accepted")
	}
	got, err := f.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Errorf("unexpected value: got:%d want:1", got)
	}
}

func TestGo(t *testing.T) {
	errWant := errors.New("failed")
	f := Go(context.Background(), func(context.Context) (string, error) {
		return "partial", errWant
	})
	got, err := f.Wait(context.Background())
	if !errors.Is(err, errWant) {
		t.Errorf("unexpected error: got:%v want:%v", err, errWant)
	}
	if got != "partial" {
		t.Errorf("unexpected value: got:%q want:%q", got, "partial")
	}
}

func TestWaitCancel(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error: got:%v want:%v", err, context.DeadlineExceeded)
	}
	if f.Resolved() {
		t.Error("cancelled wait resolved future")
	}
}
