// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/flipbook/config"
)

var validateTests = []struct {
	name      string
	cfg       func() Config
	wantPaths [][]string
}{
	{
		name: "default",
		cfg:  config.Default,
	},
	{
		name: "bad_width",
		cfg: func() Config {
			cfg := config.Default()
			cfg.Canvas.Width = 0
			return cfg
		},
		wantPaths: [][]string{{"canvas", "width"}},
	},
	{
		name: "bad_quality_and_level",
		cfg: func() Config {
			cfg := config.Default()
			cfg.GIF.Quality = 31
			cfg.Log.Level = "verbose"
			return cfg
		},
		wantPaths: [][]string{{"gif", "quality"}, {"log", "level"}},
	},
	{
		name: "bad_network",
		cfg: func() Config {
			cfg := config.Default()
			cfg.Server.RPCNetwork = "udp"
			return cfg
		},
		wantPaths: [][]string{{"server", "rpc_network"}},
	},
}

func TestValidate(t *testing.T) {
	for _, test := range validateTests {
		t.Run(test.name, func(t *testing.T) {
			paths, err := Validate(config.Schema, test.cfg())
			if (err != nil) != (test.wantPaths != nil) {
				t.Fatalf("unexpected error result: got:%v want err:%t", err, test.wantPaths != nil)
			}
			if !cmp.Equal(test.wantPaths, paths) {
				t.Errorf("unexpected paths:\n--- want:\n+++ got:\n%s", cmp.Diff(test.wantPaths, paths))
			}
		})
	}
}

var uniqueTests = []struct {
	paths [][]string
	want  [][]string
}{
	{
		paths: nil,
		want:  nil,
	},
	{
		paths: [][]string{{"b"}, {"a", "b"}, nil, {"a"}, {"a", "b"}, {"b"}},
		want:  [][]string{{"a"}, {"a", "b"}, {"b"}},
	},
}

func TestUnique(t *testing.T) {
	for _, test := range uniqueTests {
		got := unique(test.paths)
		if !cmp.Equal(test.want, got) {
			t.Errorf("unexpected result:\n--- want:\n+++ got:\n%s", cmp.Diff(test.want, got))
		}
	}
}
