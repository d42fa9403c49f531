// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package slogext

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestJSONHandlerAddSource(t *testing.T) {
	var buf bytes.Buffer
	addSource := NewAtomicBool(false)
	log := slog.New(GoID{Handler: NewJSONHandler(&buf, &HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: addSource,
	})})

	for _, want := range []bool{false, true, false} {
		addSource.Store(want)
		buf.Reset()
		log.LogAttrs(context.Background(), slog.LevelInfo, "message")

		var rec map[string]any
		err := json.Unmarshal(buf.Bytes(), &rec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, got := rec[slog.SourceKey]
		if got != want {
			t.Errorf("unexpected source key presence: got:%t want:%t", got, want)
		}
		if _, ok := rec["goid"]; !ok {
			t.Error("missing goid")
		}
	}
}

func TestHTTPRequest(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewJSONHandler(&buf, nil))

	req := httptest.NewRequest("POST", "/api/sessions", nil)
	log.LogAttrs(context.Background(), slog.LevelInfo, "request", slog.Any("req", HTTPRequest{
		Request:  req,
		ID:       "host/1",
		Status:   201,
		Bytes:    42,
		Duration: time.Second,
	}))

	var rec struct {
		Req map[string]any `json:"req"`
	}
	err := json.Unmarshal(buf.Bytes(), &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]any{
		"id":       "host/1",
		"method":   "POST",
		"path":     "/api/sessions",
		"status":   201.0,
		"bytes":    42.0,
		"duration": float64(time.Second),
	}
	if !cmp.Equal(want, rec.Req) {
		t.Errorf("unexpected request value:\n--- want:\n+++ got:\n%s", cmp.Diff(want, rec.Req))
	}
}
