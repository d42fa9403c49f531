// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"errors"
	"hash"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a configuration change identified by a Watcher. A Change
// with a nil Config and nil Err indicates that the configuration file
// was removed.
type Change struct {
	Event  []fsnotify.Event
	Config *Config
	Err    error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	switch len(c.Event) {
	case 0:
		return 0
	case 1:
		return c.Event[0].Op
	default:
		var op fsnotify.Op
		for _, o := range c.Event {
			op |= o.Op
		}
		return op
	}
}

// Watcher collects raw fsnotify.Events for a configuration file and
// filters for semantically meaningful configuration changes.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	hash     hash.Hash
	sum      Sum
	bad      Sum // hash of the last invalid file contents
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewWatcher starts watching the configuration file at path, sending
// changes on the changes channel. The directory holding path is watched
// so that files replaced by editors are seen. The debounce parameter
// specifies how long to wait after an fsnotify.Event before reading the
// file to ensure that writes will be reflected in the state checksum.
// If it is less than zero, FileDebounce is used. Changes that do not
// alter the semantic hash of the configuration, including the initial
// state of the file, are not sent.
func NewWatcher(ctx context.Context, path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if debounce < 0 {
		debounce = FileDebounce
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(dir)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		hash:     sha1.New(),
		log:      log.With(slog.String("component", "config_watcher")),
		done:     make(chan struct{}),
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		_, w.sum, err = Parse(w.hash, b)
		if err != nil {
			w.log.LogAttrs(ctx, slog.LevelWarn, "initial config", slog.String("path", path), slog.Any("error", err))
		}
	case !errors.Is(err, fs.ErrNotExist):
		watcher.Close()
		return nil, err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go func() {
		defer close(w.done)
		w.process(ctx)
	}()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		w.cancel()
		<-w.done
		w.err = w.watcher.Close()
	})
	return w.err
}

// process watches the Watcher's fsnotify.Watcher events performing
// semantic filtering.
func (w *Watcher) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			switch {
			case ev.Has(fsnotify.Write), ev.Has(fsnotify.Create):
				w.log.LogAttrs(ctx, slog.LevelDebug, "write", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.debounce):
				}

				b, err := os.ReadFile(w.path)
				if err != nil {
					if errors.Is(err, fs.ErrNotExist) {
						// Lost a race with a remove or rename.
						continue
					}
					w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
					if !w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err}) {
						return
					}
					continue
				}
				cfg, sum, err := Parse(w.hash, b)
				if err != nil {
					bad := Sum(sha1.Sum(b))
					if bad == w.bad {
						continue
					}
					w.bad = bad
					if !w.send(ctx, Change{Event: []fsnotify.Event{ev}, Err: err}) {
						return
					}
					continue
				}
				w.bad = Sum{}
				if sum == w.sum {
					w.log.LogAttrs(ctx, slog.LevelDebug, "no change", slog.Any("sum", sumValue{sum}))
					continue
				}
				w.log.LogAttrs(ctx, slog.LevelDebug, "set hash", slog.Any("sum", sumValue{sum}), slog.Any("previous", sumValue{w.sum}))
				w.sum = sum
				if !w.send(ctx, Change{Event: []fsnotify.Event{ev}, Config: cfg}) {
					return
				}

			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				w.log.LogAttrs(ctx, slog.LevelDebug, "remove", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
				w.sum = Sum{}
				w.bad = Sum{}
				if !w.send(ctx, Change{Event: []fsnotify.Event{ev}}) {
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if !w.send(ctx, Change{Err: err}) {
				return
			}
		}
	}
}

// send sends c on the changes channel, returning false if ctx is
// cancelled before the send completes.
func (w *Watcher) send(ctx context.Context, c Change) bool {
	select {
	case w.changes <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
