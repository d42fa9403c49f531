// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package export

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"testing"
	"time"
)

var filenameTests = []struct {
	t    time.Time
	want string
}{
	{
		t:    time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC),
		want: "animation-20240309-140507.gif",
	},
	{
		t:    time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("X", -2*60*60)),
		want: "animation-20240310-013000.gif",
	},
}

func TestFilename(t *testing.T) {
	for _, test := range filenameTests {
		if got := Filename(test.t); got != test.want {
			t.Errorf("unexpected file name for %v: got:%q want:%q", test.t, got, test.want)
		}
	}
	pattern := regexp.MustCompile(`^animation-\d{8}-\d{6}\.gif$`)
	if got := Filename(time.Now()); !pattern.MatchString(got) {
		t.Errorf("file name does not contain time stamp: %q", got)
	}
}

func TestServe(t *testing.T) {
	out := Output{
		Name:    "animation-20240309-140507.gif",
		Data:    []byte("GIF89a..."),
		Created: time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC),
	}
	rec := httptest.NewRecorder()
	Serve(rec, httptest.NewRequest(http.MethodGet, "/gif", nil), out)
	resp := rec.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	for k, want := range map[string]string{
		"Content-Type":        "image/gif",
		"Content-Disposition": `attachment; filename="animation-20240309-140507.gif"`,
		"Content-Length":      "9",
		"Last-Modified":       "Sat, 09 Mar 2024 14:05:07 GMT",
	} {
		if got := resp.Header.Get(k); got != want {
			t.Errorf("unexpected %s header: got:%q want:%q", k, got, want)
		}
	}
	if !bytes.Equal(rec.Body.Bytes(), out.Data) {
		t.Errorf("unexpected body: %q", rec.Body.Bytes())
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	out := Output{Name: "animation-20240309-140507.gif", Data: []byte("GIF89a")}
	path, err := WriteFile(dir, out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error reading output: %v", err)
	}
	if !bytes.Equal(got, out.Data) {
		t.Errorf("unexpected file contents: %q", got)
	}
	_, err = WriteFile(dir, out)
	if err == nil {
		t.Error("expected error overwriting existing file")
	}
}
