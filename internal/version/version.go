// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version reports the build version.
package version

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
)

// Version is a build version.
type Version struct {
	Module   string `json:"module"`
	Revision string `json:"revision,omitempty"`
	Modified bool   `json:"modified,omitempty"`
}

func (v Version) String() string {
	switch {
	case v.Revision == "":
		return v.Module
	case v.Modified:
		return fmt.Sprintf("%s %s (modified)", v.Module, v.Revision)
	default:
		return fmt.Sprintf("%s %s", v.Module, v.Revision)
	}
}

// Get returns the build version.
func Get() (Version, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Version{}, errors.New("no build info")
	}
	v := Version{Module: bi.Main.Version}
	for _, bs := range bi.Settings {
		switch bs.Key {
		case "vcs.revision":
			v.Revision = bs.Value
		case "vcs.modified":
			v.Modified = bs.Value == "true"
		}
	}
	return v, nil
}

// Print prints the build version to w.
func Print(w io.Writer) error {
	v, err := Get()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, v)
	return err
}
