// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package export provides delivery of assembled animations.
package export

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Output is an assembled animation.
type Output struct {
	Name    string
	Data    []byte
	Created time.Time
}

// Filename returns the export file name for an animation created at t.
// The time stamp is in UTC.
func Filename(t time.Time) string {
	return "animation-" + t.UTC().Format("20060102-150405") + ".gif"
}

// Serve writes out to w as a GIF attachment in response to req.
func Serve(w http.ResponseWriter, req *http.Request, out Output) {
	h := w.Header()
	h.Set("Content-Type", "image/gif")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Name))
	http.ServeContent(w, req, out.Name, out.Created, bytes.NewReader(out.Data))
}

// WriteFile writes out into dir using its name and returns the path of
// the written file. An existing file is not overwritten.
func WriteFile(dir string, out Output) (string, error) {
	path := filepath.Join(dir, filepath.Base(out.Name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	_, err = f.Write(out.Data)
	if err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
