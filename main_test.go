// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/kortschak/flipbook/internal/canvas"
)

var (
	update = flag.Bool("update", false, "update tests")
	keep   = flag.Bool("keep", false, "keep $WORK directory after tests")
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"flipbook": Main,
	}))
}

func TestScripts(t *testing.T) {
	t.Parallel()

	p := testscript.Params{
		Dir:           filepath.Join("testdata"),
		UpdateScripts: *update,
		TestWork:      *keep,
		Setup: func(e *testscript.Env) error {
			e.Setenv("XDG_STATE_HOME", filepath.Join(e.WorkDir, "state"))
			return nil
		},
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			"mkimage": mkimage,
			"gifinfo": gifinfo,
		},
	}
	testscript.Run(t, p)
}

// mkimage writes a uniform image file. The format is chosen by the
// file extension.
func mkimage(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! mkimage")
	}
	if len(args) != 3 {
		ts.Fatalf("usage: mkimage path WxH color")
	}
	w, h, ok := strings.Cut(args[1], "x")
	if !ok {
		ts.Fatalf("invalid size: %s", args[1])
	}
	width, err := strconv.Atoi(w)
	ts.Check(err)
	height, err := strconv.Atoi(h)
	ts.Check(err)
	col, err := canvas.ParseColor(args[2])
	ts.Check(err)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)

	f, err := os.Create(ts.MkAbs(args[0]))
	ts.Check(err)
	defer f.Close()
	switch ext := filepath.Ext(args[0]); ext {
	case ".png":
		err = png.Encode(f, img)
	case ".bmp":
		err = bmp.Encode(f, img)
	case ".tif", ".tiff":
		err = tiff.Encode(f, img, nil)
	default:
		ts.Fatalf("unsupported image format: %s", ext)
	}
	ts.Check(err)
}

// gifinfo prints the frame count, logical screen size, frame delays
// and colour at the centre of the first frame of the single GIF file
// in a directory.
func gifinfo(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("unsupported: ! gifinfo")
	}
	if len(args) != 1 {
		ts.Fatalf("usage: gifinfo dir")
	}
	matches, err := filepath.Glob(filepath.Join(ts.MkAbs(args[0]), "*.gif"))
	ts.Check(err)
	if len(matches) != 1 {
		ts.Fatalf("expected one gif file, found %d", len(matches))
	}
	f, err := os.Open(matches[0])
	ts.Check(err)
	defer f.Close()
	g, err := gif.DecodeAll(f)
	ts.Check(err)

	delays := make([]string, len(g.Delay))
	for i, d := range g.Delay {
		delays[i] = strconv.Itoa(d)
	}
	b := g.Image[0].Bounds()
	c := color.RGBAModel.Convert(g.Image[0].At((b.Min.X+b.Max.X)/2, (b.Min.Y+b.Max.Y)/2))
	fmt.Fprintf(ts.Stdout(), "frames=%d size=%dx%d delays=%s loop=%d centre=%s\n",
		len(g.Image), g.Config.Width, g.Config.Height, strings.Join(delays, ","), g.LoopCount, canvas.FormatColor(c))
}
