// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config implements loading, validation and watching of the
// flipbook configuration file.
package config

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kortschak/flipbook/config"
	"github.com/kortschak/flipbook/internal/animation"
)

type (
	Config  = config.Config
	Server  = config.Server
	Canvas  = config.Canvas
	Pen     = config.Pen
	Caption = config.Caption
	GIF     = config.GIF
	Store   = config.Store
	Log     = config.Log
	Sum     = config.Sum
)

// FileName is the name of the configuration file in the user's
// configuration directory.
const FileName = "config.toml"

// Load reads and parses the configuration file at path. Errors
// reading the file are returned unwrapped.
func Load(path string) (*Config, Sum, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, Sum{}, err
	}
	return Parse(sha1.New(), b)
}

// Parse returns the configuration in b applied over the default
// configuration, and its semantic hash. Unknown keys and configurations
// that do not satisfy config.Schema are rejected.
func Parse(h hash.Hash, b []byte) (*Config, Sum, error) {
	var sum Sum
	cfg := config.Default()
	md, err := toml.Decode(string(b), &cfg)
	if err != nil {
		return nil, sum, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, sum, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	_, err = Validate(config.Schema, cfg)
	if err != nil {
		return nil, sum, err
	}
	_, _, err = Durations(&cfg)
	if err != nil {
		return nil, sum, err
	}
	err = json.NewEncoder(h).Encode(cfg)
	if err != nil {
		return nil, sum, err
	}
	sum = Sum(h.Sum(nil))
	h.Reset()
	return &cfg, sum, nil
}

// Default returns the default configuration and its semantic hash.
func Default() (*Config, Sum) {
	cfg, sum, err := Parse(sha1.New(), nil)
	if err != nil {
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return cfg, sum
}

// Durations returns the parsed durations held by cfg. The GIF delay
// must not exceed animation.MaxDelay.
func Durations(cfg *Config) (ttl, delay time.Duration, err error) {
	ttl, err = time.ParseDuration(cfg.Server.SessionTTL)
	if err != nil {
		return 0, 0, fmt.Errorf("session_ttl: %w", err)
	}
	delay, err = time.ParseDuration(cfg.GIF.Delay)
	if err != nil {
		return 0, 0, fmt.Errorf("delay: %w", err)
	}
	if delay > animation.MaxDelay {
		return 0, 0, fmt.Errorf("delay: %v exceeds maximum %v", delay, animation.MaxDelay)
	}
	return ttl, delay, nil
}

// Level returns the logging level configured in cfg.
func Level(cfg *Config) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(cfg.Log.Level))
	return l, err
}
