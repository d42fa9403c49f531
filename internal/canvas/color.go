// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package canvas

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// ParseColor parses a web colour in #rgb, #rrggbb or #rrggbbaa form,
// or one of the basic named web colours.
func ParseColor(val string) (color.Color, error) {
	if col, ok := namedColor[strings.ToLower(strings.TrimSpace(val))]; ok {
		return col, nil
	}
	hex, ok := strings.CutPrefix(strings.TrimSpace(val), "#")
	if !ok {
		return nil, fmt.Errorf("invalid color: %q", val)
	}
	switch len(hex) {
	case 3:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}) + "ff"
	case 6:
		hex += "ff"
	case 8:
	default:
		return nil, fmt.Errorf("invalid web color: %q", val)
	}
	c, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid web color: %q: %w", val, err)
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(c))
	return color.NRGBA{R: b[0], G: b[1], B: b[2], A: b[3]}, nil
}

// FormatColor returns the #rrggbbaa form of col.
func FormatColor(col color.Color) string {
	c := color.NRGBAModel.Convert(col).(color.NRGBA)
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

var namedColor = map[string]color.Color{
	"black":   color.NRGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	"silver":  color.NRGBA{R: 0xc0, G: 0xc0, B: 0xc0, A: 0xff},
	"gray":    color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	"grey":    color.NRGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff},
	"white":   color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	"maroon":  color.NRGBA{R: 0x80, G: 0x00, B: 0x00, A: 0xff},
	"red":     color.NRGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff},
	"purple":  color.NRGBA{R: 0x80, G: 0x00, B: 0x80, A: 0xff},
	"fuchsia": color.NRGBA{R: 0xff, G: 0x00, B: 0xff, A: 0xff},
	"green":   color.NRGBA{R: 0x00, G: 0x80, B: 0x00, A: 0xff},
	"lime":    color.NRGBA{R: 0x00, G: 0xff, B: 0x00, A: 0xff},
	"olive":   color.NRGBA{R: 0x80, G: 0x80, B: 0x00, A: 0xff},
	"yellow":  color.NRGBA{R: 0xff, G: 0xff, B: 0x00, A: 0xff},
	"navy":    color.NRGBA{R: 0x00, G: 0x00, B: 0x80, A: 0xff},
	"blue":    color.NRGBA{R: 0x00, G: 0x00, B: 0xff, A: 0xff},
	"teal":    color.NRGBA{R: 0x00, G: 0x80, B: 0x80, A: 0xff},
	"aqua":    color.NRGBA{R: 0x00, G: 0xff, B: 0xff, A: 0xff},

	"transparent": color.NRGBA{},
}
