// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package state provides persistent frame sequence storage.
package state

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image/png"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/flipbook/internal/animation"

	// For sql.DB registration.
	_ "modernc.org/sqlite"
)

// DB is a persistent frame store shared by sessions.
type DB struct {
	mu    sync.Mutex
	store *sql.DB
	log   *slog.Logger
}

// Schema is the DB schema. Frames are held as PNG encoded images in
// sequence order for each session.
const Schema = `
create table if not exists frames(
	session  TEXT    NOT NULL,
	seq      INTEGER NOT NULL,
	image    BLOB    NOT NULL,
	caption  TEXT    NOT NULL,
	captured INTEGER NOT NULL,
	PRIMARY KEY(session, seq)
);
`

const (
	insert = `
insert into frames values(?, (select coalesce(max(seq)+1, 0) from frames where session is ?), ?, ?, ?)
  returning seq;
`

	count = `
select count(*) from frames where session is ?;
`

	get = `
select image, caption, captured from frames where session is ? and seq is ?;
`

	getAll = `
select image, caption, captured from frames where session is ? order by seq;
`

	drop = `
delete from frames where session is ?;
`

	sessions = `
select session, count(*) from frames group by session;
`

	purge = `
delete from frames;
`
)

// Open opens a DB, creating the tables if required.
// See https://pkg.go.dev/modernc.org/sqlite#Driver.Open for name handling
// details.
func Open(name string, log *slog.Logger) (*DB, error) {
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{store: db, log: log.With(slog.String("component", "state"))}, nil
}

// Store returns a frame store for the named session.
func (db *DB) Store(session string) *FrameStore {
	return &FrameStore{db: db, session: session}
}

// Sessions returns the number of frames held for each session.
func (db *DB) Sessions(ctx context.Context) (map[string]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.QueryContext(ctx, sessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		session string
		n       int
	)
	counts := make(map[string]int)
	for rows.Next() {
		err = rows.Scan(&session, &n)
		if err != nil {
			return nil, err
		}
		counts[session] = n
	}
	return counts, rows.Err()
}

// Purge deletes all stored frames.
func (db *DB) Purge(ctx context.Context) error {
	db.log.LogAttrs(ctx, slog.LevelDebug, "purge")
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.ExecContext(ctx, purge)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "purge", slog.Any("error", err))
	}
	return err
}

// Close closes the database.
func (db *DB) Close() error {
	return db.store.Close()
}

// FrameStore is an [animation.Store] backed by a DB.
type FrameStore struct {
	db      *DB
	session string
}

var _ animation.Store = (*FrameStore)(nil)

// Append adds f to the end of the session's frame sequence.
func (s *FrameStore) Append(ctx context.Context, f *animation.Frame) (int, error) {
	img, err := EncodeFrame(f)
	if err != nil {
		return -1, err
	}
	s.db.log.LogAttrs(ctx, slog.LevelDebug, "append", slog.String("session", s.session), slog.Int("bytes", len(img)))
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var seq int
	err = s.db.store.QueryRowContext(ctx, insert, s.session, s.session, img, f.Caption(), f.Captured().UnixNano()).Scan(&seq)
	if err != nil {
		s.db.log.LogAttrs(ctx, slog.LevelError, "append", slog.String("session", s.session), slog.Any("error", err))
		return -1, err
	}
	return seq, nil
}

// Len returns the length of the session's frame sequence.
func (s *FrameStore) Len(ctx context.Context) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int
	err := s.db.store.QueryRowContext(ctx, count, s.session).Scan(&n)
	return n, err
}

// Frame returns the i'th frame of the session's frame sequence.
func (s *FrameStore) Frame(ctx context.Context, i int) (*animation.Frame, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var (
		img      []byte
		caption  string
		captured int64
	)
	err := s.db.store.QueryRowContext(ctx, get, s.session, i).Scan(&img, &caption, &captured)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", animation.ErrIndex, i)
	}
	if err != nil {
		return nil, err
	}
	return DecodeFrame(img, caption, captured)
}

// Frames returns the session's frame sequence in order.
func (s *FrameStore) Frames(ctx context.Context) ([]*animation.Frame, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rows, err := s.db.store.QueryContext(ctx, getAll, s.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		img      []byte
		caption  string
		captured int64

		frames []*animation.Frame
	)
	for rows.Next() {
		err = rows.Scan(&img, &caption, &captured)
		if err != nil {
			return nil, err
		}
		f, err := DecodeFrame(img, caption, captured)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Clear deletes the session's frame sequence.
func (s *FrameStore) Clear(ctx context.Context) error {
	s.db.log.LogAttrs(ctx, slog.LevelDebug, "clear", slog.String("session", s.session))
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	_, err := s.db.store.ExecContext(ctx, drop, s.session)
	if err != nil {
		s.db.log.LogAttrs(ctx, slog.LevelError, "clear", slog.String("session", s.session), slog.Any("error", err))
	}
	return err
}

// Close deletes the session's frame sequence. The underlying DB is
// not closed.
func (s *FrameStore) Close() error {
	return s.Clear(context.Background())
}

// EncodeFrame returns the stored representation of the image held by f.
func EncodeFrame(f *animation.Frame) ([]byte, error) {
	var buf bytes.Buffer
	err := png.Encode(&buf, f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame returns a frame from its stored representation, caption
// and capture time in Unix nanoseconds.
func DecodeFrame(data []byte, caption string, captured int64) (*animation.Frame, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return animation.NewFrame(img, caption, time.Unix(0, captured)), nil
}
