// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session ID is not held by a Registry.
var ErrNotFound = errors.New("session not found")

// Registry holds the live sessions keyed by ID.
type Registry struct {
	log *slog.Logger

	mu       sync.Mutex
	opts     Options
	ttl      time.Duration
	sessions map[string]*Session
}

// NewRegistry returns a new Registry creating sessions with the provided
// options. Sessions unused for longer than ttl are expired by Expire. A
// non-positive ttl disables expiry.
func NewRegistry(opts Options, ttl time.Duration, log *slog.Logger) *Registry {
	return &Registry{
		log:      log.With(slog.String("component", "registry")),
		opts:     opts,
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// SetOptions sets the options used for sessions created after the call
// and the session TTL. Existing sessions are not altered.
func (r *Registry) SetOptions(opts Options, ttl time.Duration) {
	r.mu.Lock()
	r.opts = opts
	r.ttl = ttl
	r.mu.Unlock()
}

// New creates and registers a new session with a random ID.
func (r *Registry) New() (*Session, error) {
	id := uuid.NewString()
	r.mu.Lock()
	opts := r.opts
	r.mu.Unlock()
	s, err := New(id, opts)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[id] = s
	n := len(r.sessions)
	r.mu.Unlock()
	r.log.LogAttrs(context.Background(), slog.LevelInfo, "new session", slog.String("id", id), slog.Int("sessions", n))
	return s, nil
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Close closes and removes the session with the given ID.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.log.LogAttrs(context.Background(), slog.LevelInfo, "close session", slog.String("id", id))
	return s.Close()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Expire closes and removes sessions that have not been used since the
// registry's TTL before now. It returns the number of expired sessions.
func (r *Registry) Expire(now time.Time) int {
	r.mu.Lock()
	if r.ttl <= 0 {
		r.mu.Unlock()
		return 0
	}
	var stale []*Session
	for id, s := range r.sessions {
		if now.Sub(s.LastUsed()) > r.ttl {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		err := s.Close()
		if err != nil {
			r.log.LogAttrs(context.Background(), slog.LevelWarn, "expire session", slog.String("id", s.ID()), slog.Any("error", err))
			continue
		}
		r.log.LogAttrs(context.Background(), slog.LevelInfo, "expire session", slog.String("id", s.ID()))
	}
	return len(stale)
}

// Run expires stale sessions every interval until ctx is done, and then
// closes all remaining sessions.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case now := <-tick.C:
			r.Expire(now)
		}
	}
}

// CloseAll closes and removes all sessions.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	var err error
	for _, s := range sessions {
		err = errors.Join(err, s.Close())
	}
	return err
}
