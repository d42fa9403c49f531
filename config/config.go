// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config provides flipbook configuration types and schemas.
package config

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// Config is a complete configuration.
type Config struct {
	Server  Server  `json:"server" toml:"server"`
	Canvas  Canvas  `json:"canvas" toml:"canvas"`
	Pen     Pen     `json:"pen" toml:"pen"`
	Caption Caption `json:"caption" toml:"caption"`
	GIF     GIF     `json:"gif" toml:"gif"`
	Store   Store   `json:"store" toml:"store"`
	Log     Log     `json:"log" toml:"log"`
}

// Server is the network configuration.
type Server struct {
	// Addr is the HTTP listen address.
	Addr string `json:"addr" toml:"addr"`
	// RPCNetwork is the network used for the JSON RPC
	// interface; one of "unix", "tcp" or "none".
	RPCNetwork string `json:"rpc_network" toml:"rpc_network"`
	// RPCAddr is the JSON RPC listen address. If empty,
	// an address is chosen.
	RPCAddr string `json:"rpc_addr" toml:"rpc_addr"`
	// SessionTTL is the duration a session may be idle
	// before it is expired. A zero duration disables expiry.
	SessionTTL string `json:"session_ttl" toml:"session_ttl"`

	// CertFile and KeyFile are PEM files used to serve HTTPS.
	// If ClientCA is set, clients must present a certificate
	// signed by it.
	CertFile string `json:"cert_file" toml:"cert_file"`
	KeyFile  string `json:"key_file" toml:"key_file"`
	ClientCA string `json:"client_ca" toml:"client_ca"`
}

// Canvas is the drawing surface configuration.
type Canvas struct {
	Width      int    `json:"width" toml:"width"`
	Height     int    `json:"height" toml:"height"`
	Background string `json:"background" toml:"background"`
	// Policy is the sizing policy applied when importing
	// images; one of "aspect_fit", "max_bound" or "union_bound".
	Policy string `json:"policy" toml:"policy"`
	// MaxWidth and MaxHeight limit the canvas size under
	// the bound policies. Zero is unlimited.
	MaxWidth  int `json:"max_width" toml:"max_width"`
	MaxHeight int `json:"max_height" toml:"max_height"`
}

// Pen is the initial pen configuration.
type Pen struct {
	Color string  `json:"color" toml:"color"`
	Width float64 `json:"width" toml:"width"`
}

// Caption is the frame caption style.
type Caption struct {
	Size         float64 `json:"size" toml:"size"`
	Fill         string  `json:"fill" toml:"fill"`
	Outline      string  `json:"outline" toml:"outline"`
	OutlineWidth int     `json:"outline_width" toml:"outline_width"`
	Margin       int     `json:"margin" toml:"margin"`
}

// GIF is the animation encoding configuration.
type GIF struct {
	// Delay is the initial per-frame delay.
	Delay string `json:"delay" toml:"delay"`
	// Quality is the encoding quality. Values at or
	// below 10 are dithered.
	Quality int `json:"quality" toml:"quality"`
	// Workers is the number of concurrent frame
	// quantisers. Zero uses a single worker.
	Workers int `json:"workers" toml:"workers"`
}

// Store is the frame store configuration.
type Store struct {
	// Kind is the store kind; "memory", "sqlite" or "postgres".
	Kind string `json:"kind" toml:"kind"`
	// Path is the sqlite database path. If empty, a database
	// in the XDG state directory is used.
	Path string `json:"path" toml:"path"`
	// URL is the postgres database URL.
	URL string `json:"url" toml:"url"`
}

// Log is the logging configuration.
type Log struct {
	Level     string `json:"level" toml:"level"`
	AddSource bool   `json:"add_source" toml:"add_source"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:       "localhost:7474",
			RPCNetwork: "unix",
			SessionTTL: "1h",
		},
		Canvas: Canvas{
			Width:      500,
			Height:     500,
			Background: "white",
			Policy:     "union_bound",
			MaxWidth:   2048,
			MaxHeight:  2048,
		},
		Pen: Pen{
			Color: "black",
			Width: 5,
		},
		Caption: Caption{
			Size:         20,
			Fill:         "white",
			Outline:      "black",
			OutlineWidth: 2,
			Margin:       10,
		},
		GIF: GIF{
			Delay:   "200ms",
			Quality: 5,
			Workers: 2,
		},
		Store: Store{
			Kind: "memory",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Schema is the schema for a valid configuration.
const Schema = `
{
	server:  _#server
	canvas:  _#canvas
	pen:     _#pen
	caption: _#caption
	gif:     _#gif
	store:   _#store
	log:     _#log
}

_#server: {
	addr:        string
	rpc_network: "unix" | "tcp" | "none"
	rpc_addr:    string
	session_ttl: _#duration
	cert_file:   string
	key_file:    string
	client_ca:   string
}

_#canvas: {
	width:      int & >0
	height:     int & >0
	background: _#color
	policy:     "aspect_fit" | "max_bound" | "union_bound"
	max_width:  int & >=0
	max_height: int & >=0
}

_#pen: {
	color: _#color
	width: number & >0
}

_#caption: {
	size:          number & >0
	fill:          _#color
	outline:       _#color
	outline_width: int & >=0
	margin:        int & >=0
}

_#gif: {
	delay:   _#duration
	quality: int & >=1 & <=30
	workers: int & >=0
}

_#store: S={
	kind: "memory" | "sqlite" | "postgres"
	path: string
	url:  string
	if S.kind != "sqlite" {
		path: ""
	}
	if S.kind == "postgres" {
		url: =~"^postgres(?:ql)?://"
	}
	if S.kind != "postgres" {
		url: ""
	}
}

_#log: {
	level:      _#log_level
	add_source: bool
}

_#color: =~"^(?:#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})|[a-zA-Z]+)$"
_#duration: =~"^(?:[0-9]+(?:\\.[0-9]+)?(?:ns|us|µs|ms|s|m|h))+$"
_#log_level: =~"(?i)^(?:debug|info|warn|error)$"
`

// Sum is a comparable optional SHA-1 sum.
type Sum [sha1.Size]byte

// Equal returns whether s is equal to other.
func (s *Sum) Equal(other *Sum) bool {
	switch {
	case s == other:
		return true
	case s != nil && other != nil:
		return *s == *other
	default:
		return false
	}
}

func (s *Sum) String() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s[:])
}

func (s *Sum) UnmarshalText(text []byte) error {
	if len(text) != hex.EncodedLen(len(s)) {
		return fmt.Errorf("invalid length: %d != %d", len(text), hex.EncodedLen(len(s)))
	}
	_, err := hex.Decode(s[:], text)
	if err != nil {
		return err
	}
	return nil
}

func (s *Sum) MarshalText() (text []byte, err error) {
	if s == nil {
		return nil, nil
	}
	text = make([]byte, hex.EncodedLen(len(s)))
	hex.Encode(text, s[:])
	return text, nil
}
