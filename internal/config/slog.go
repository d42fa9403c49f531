// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
	"net/url"
)

// Redacted returns a copy of cfg with credentials in the store URL
// redacted.
func Redacted(cfg *Config) *Config {
	if cfg == nil || cfg.Store.URL == "" {
		return cfg
	}
	c := *cfg
	u, err := url.Parse(c.Store.URL)
	if err != nil {
		c.Store.URL = "INVALID"
	} else {
		c.Store.URL = u.Redacted()
	}
	return &c
}

// ChangeValue returns a slog.LogValuer for c.
func ChangeValue(c Change) slog.LogValuer {
	return changeValue{c}
}

type changeValue struct {
	Change
}

func (v changeValue) LogValue() slog.Value {
	events := make([]eventValue, len(v.Event))
	for i, e := range v.Event {
		events[i] = eventValue{
			Name: e.Name,
			Op:   e.Op.String(),
			Code: int(e.Op),
		}
	}
	var errText string
	if v.Err != nil {
		errText = v.Err.Error()
	}
	return slog.AnyValue(struct {
		Event  []eventValue `json:"event"`
		Config *Config      `json:"config"`
		Err    string       `json:"err,omitempty"`
	}{
		Event:  events,
		Config: Redacted(v.Config),
		Err:    errText,
	})
}

type eventValue struct {
	Name string `json:"name"`
	Op   string `json:"op"`
	Code int    `json:"op_code"`
}

type sumValue struct {
	sum Sum
}

func (v sumValue) LogValue() slog.Value {
	return slog.StringValue(v.sum.String())
}
