// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

var envOrDefaultTests = []struct {
	set map[string]string

	key, def, home string

	want   string
	wantOK bool
}{
	0: {
		set: map[string]string{
			"test_HOME": "testdata/home",
			"testkey":   "testdata/home/dir",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/dir",
		wantOK: true,
	},
	1: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "test_HOME",

		want:   "testdata/home/testdata/global_dir",
		wantOK: true,
	},
	2: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "",
		home: "test_HOME",

		want:   "",
		wantOK: false,
	},
	3: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "",

		want:   "testdata/global_dir",
		wantOK: true,
	},
	4: {
		set: map[string]string{
			"test_HOME": "testdata/home",
		},
		key:  "testkey",
		def:  "testdata/global_dir",
		home: "invalid",

		want:   "",
		wantOK: false,
	},
}

func TestEnvOrDefault(t *testing.T) {

	for i, test := range envOrDefaultTests {
		for k, v := range test.set {
			if _, ok := os.LookupEnv(k); ok {
				panic(fmt.Sprintf("already set in env: %s", k))
			}
			if k == "test_HOME" && test.home == "" {
				continue
			}
			os.Setenv(k, v)
		}

		got, gotOK := envOrDefault(test.key, test.def, test.home)
		if gotOK != test.wantOK {
			t.Errorf("unexpected ok for %d: got:%t want:%t", i, gotOK, test.wantOK)
		}
		if got != test.want {
			t.Errorf("unexpected result for %d: got:%q want:%q", i, got, test.want)
		}

		for k := range test.set {
			os.Unsetenv(k)
		}
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "local")
	global1 := filepath.Join(dir, "global1")
	global2 := filepath.Join(dir, "global2")
	for _, p := range []string{
		filepath.Join(local, "flipbook", "config.toml"),
		filepath.Join(global2, "flipbook", "config.toml"),
		filepath.Join(global2, "flipbook", "other.toml"),
	} {
		err := os.MkdirAll(filepath.Dir(p), 0o755)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err = os.WriteFile(p, nil, 0o644)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	t.Setenv("test_LOCAL", local)
	t.Setenv("test_GLOBAL", global1+string(filepath.ListSeparator)+global2)

	for _, test := range []struct {
		name    string
		local   bool
		want    string
		wantErr error
	}{
		{name: "flipbook/config.toml", local: true, want: filepath.Join(local, "flipbook", "config.toml")},
		{name: "flipbook/other.toml", local: false, want: filepath.Join(global2, "flipbook", "other.toml")},
		{name: "flipbook/other.toml", local: true, wantErr: syscall.ENOENT},
		{name: "flipbook/missing.toml", local: false, wantErr: syscall.ENOENT},
	} {
		got, err := find(test.name, "test_LOCAL", "", "test_GLOBAL", "", "", test.local)
		if !errors.Is(err, test.wantErr) {
			t.Errorf("unexpected error for %s local=%t: got:%v want:%v", test.name, test.local, err, test.wantErr)
		}
		if got != test.want {
			t.Errorf("unexpected result for %s local=%t: got:%q want:%q", test.name, test.local, got, test.want)
		}
	}
}
