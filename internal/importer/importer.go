// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package importer decodes user supplied images and places them on a canvas.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"io"
	"log/slog"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kortschak/flipbook/internal/canvas"
	"github.com/kortschak/flipbook/internal/future"
	"github.com/kortschak/flipbook/internal/sizing"
)

var (
	// ErrNoFile is returned when an import is requested without image data.
	ErrNoFile = errors.New("no file selected")

	// ErrDecode is returned when image data cannot be decoded.
	ErrDecode = errors.New("invalid image")
)

// Decode decodes a PNG, JPEG, GIF, BMP, TIFF or WebP image from r. Only
// the first frame of an animated GIF is returned. Decode returns ErrNoFile
// if r is nil or holds no data.
func Decode(r io.Reader) (image.Image, error) {
	if r == nil {
		return nil, ErrNoFile
	}
	rp := AsReadPeeker(r)
	if _, err := rp.Peek(1); err == io.EOF {
		return nil, ErrNoFile
	}
	var (
		img image.Image
		err error
	)
	if IsGIF(rp) {
		img, err = gif.Decode(rp)
	} else {
		img, _, err = image.Decode(rp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// DecodeDataURI decodes an image held in a data URI in the form
// "data:image/<type>[;params];base64,<data>".
func DecodeDataURI(uri string) (image.Image, error) {
	b, err := ParseDataURI(uri)
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(b))
}

// ParseDataURI returns the bytes of an image held in a base64 encoded
// data URI. Malformed URIs result in an error wrapping ErrDecode.
func ParseDataURI(uri string) ([]byte, error) {
	u, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: invalid scheme: %.32s", ErrDecode, uri)
	}
	mtyp, val, ok := strings.Cut(u, ",")
	if !ok {
		return nil, fmt.Errorf("%w: invalid data uri: %.32s", ErrDecode, uri)
	}
	typ, _, ok := strings.Cut(mtyp, "/")
	if !ok || typ != "image" {
		return nil, fmt.Errorf("%w: unknown mime type: %.32s", ErrDecode, uri)
	}
	_, enc, ok := cutLast(mtyp, ";")
	if !ok || enc != "base64" {
		return nil, fmt.Errorf("%w: invalid encoding in image uri: %.32s", ErrDecode, uri)
	}
	if val == "" {
		return nil, ErrNoFile
	}
	b, err := base64.StdEncoding.DecodeString(val)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrDecode, err)
	}
	return b, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[:i], s[i+len(sep):], true
	}
	return s, "", false
}

// IsGIF returns whether the data held by r is a GIF image.
func IsGIF(r ReadPeeker) bool {
	return hasMagic("GIF8?a", r)
}

// ReadPeeker is an io.Reader that can also peek n bytes ahead.
type ReadPeeker interface {
	io.Reader
	Peek(n int) ([]byte, error)
}

// AsReadPeeker converts an io.Reader to a ReadPeeker.
func AsReadPeeker(r io.Reader) ReadPeeker {
	if r, ok := r.(ReadPeeker); ok {
		return r
	}
	return bufio.NewReader(r)
}

// hasMagic returns whether r starts with the provided magic bytes.
func hasMagic(magic string, r ReadPeeker) bool {
	b, err := r.Peek(len(magic))
	if err != nil || len(b) != len(magic) {
		return false
	}
	for i, c := range b {
		if magic[i] != c && magic[i] != '?' {
			return false
		}
	}
	return true
}

// Importer loads images and applies them to a canvas according to a
// sizing policy.
type Importer struct {
	Policy sizing.Policy
	Log    *slog.Logger
}

// Load decodes r asynchronously. The returned future is resolved exactly
// once with the decoded image or an error. Load does not mutate any state.
func (i *Importer) Load(ctx context.Context, r io.Reader) *future.Future[image.Image] {
	return future.Go(ctx, func(ctx context.Context) (image.Image, error) {
		img, err := Decode(r)
		if err != nil {
			if i.Log != nil && !errors.Is(err, ErrNoFile) {
				i.Log.LogAttrs(ctx, slog.LevelWarn, "import decode", slog.Any("error", err))
			}
			return nil, err
		}
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		return img, nil
	})
}

// Apply resizes c according to the receiver's sizing policy and paints
// img into it. It returns the destination rectangle of the image.
func (i *Importer) Apply(c *canvas.Canvas, img image.Image) image.Rectangle {
	size, dst := i.Policy.Fit(c.Size(), img.Bounds().Size())
	c.Resize(size.X, size.Y)
	c.Paint(img, dst)
	if i.Log != nil {
		i.Log.LogAttrs(context.Background(), slog.LevelDebug, "import applied",
			slog.String("policy", string(i.Policy.Kind())),
			slog.Any("image", img.Bounds().Size()),
			slog.Any("canvas", size),
			slog.Any("dst", dst),
		)
	}
	return dst
}
