// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pgstore provides persistent frame sequence storage using PostgreSQL.
package pgstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/state"
)

// DB is a persistent frame store shared by sessions.
type DB struct {
	name string

	mu    sync.Mutex
	store *pgx.Conn
	log   *slog.Logger
}

// Schema is the DB schema. Frames are held as PNG encoded images in
// sequence order for each session.
const Schema = `
create table if not exists frames (
	session  TEXT   NOT NULL,
	seq      INTEGER NOT NULL,
	image    BYTEA  NOT NULL,
	caption  TEXT   NOT NULL,
	captured BIGINT NOT NULL,
	PRIMARY KEY(session, seq)
);
`

const (
	insert = `
insert into frames values($1, (select coalesce(max(seq)+1, 0) from frames where session = $1), $2, $3, $4)
  returning seq;
`

	count = `
select count(*) from frames where session = $1;
`

	get = `
select image, caption, captured from frames where session = $1 and seq = $2;
`

	getAll = `
select image, caption, captured from frames where session = $1 order by seq;
`

	drop = `
delete from frames where session = $1;
`

	sessions = `
select session, count(*) from frames group by session;
`

	purge = `
delete from frames;
`
)

// Open opens a PostgreSQL DB, creating the tables if required. See
// [pgx.Connect] for name handling details. If name does not include a
// password, it is taken from $PGPASSWORD or the user's .pgpass file.
func Open(ctx context.Context, name string, log *slog.Logger) (*DB, error) {
	u, err := url.Parse(name)
	if err != nil {
		return nil, err
	}
	if u.User == nil {
		return nil, fmt.Errorf("missing user info: %s", u.Redacted())
	}
	if _, ok := u.User.Password(); !ok {
		pgHost, pgPort, err := net.SplitHostPort(u.Host)
		if err != nil {
			return nil, err
		}
		userInfo, err := pgUserinfo(u.User.Username(), pgHost, pgPort, strings.TrimPrefix(u.Path, "/"), os.Getenv("PGPASSWORD"))
		if err != nil {
			return nil, err
		}
		u.User = userInfo
	}

	db, err := pgx.Connect(ctx, u.String())
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(ctx, Schema)
	if err != nil {
		return nil, errors.Join(err, db.Close(ctx))
	}
	return &DB{
		name:  u.Redacted(),
		store: db,
		log:   log.With(slog.String("component", "pgstore")),
	}, nil
}

// Name returns the redacted name of the database.
func (db *DB) Name() string {
	if db == nil {
		return ""
	}
	return db.name
}

// Store returns a frame store for the named session.
func (db *DB) Store(session string) *FrameStore {
	return &FrameStore{db: db, session: session}
}

// Sessions returns the number of frames held for each session.
func (db *DB) Sessions(ctx context.Context) (map[string]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rows, err := db.store.Query(ctx, sessions)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		session string
		n       int64
	)
	counts := make(map[string]int)
	for rows.Next() {
		err = rows.Scan(&session, &n)
		if err != nil {
			return nil, err
		}
		counts[session] = int(n)
	}
	return counts, rows.Err()
}

// Purge deletes all stored frames.
func (db *DB) Purge(ctx context.Context) error {
	db.log.LogAttrs(ctx, slog.LevelDebug, "purge")
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.store.Exec(ctx, purge)
	if err != nil {
		db.log.LogAttrs(ctx, slog.LevelError, "purge", slog.Any("error", err))
	}
	return err
}

// Close closes the database.
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Close(ctx)
}

// FrameStore is an [animation.Store] backed by a DB.
type FrameStore struct {
	db      *DB
	session string
}

var _ animation.Store = (*FrameStore)(nil)

// Append adds f to the end of the session's frame sequence.
func (s *FrameStore) Append(ctx context.Context, f *animation.Frame) (int, error) {
	img, err := state.EncodeFrame(f)
	if err != nil {
		return -1, err
	}
	s.db.log.LogAttrs(ctx, slog.LevelDebug, "append", slog.String("session", s.session), slog.Int("bytes", len(img)))
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var seq int32
	err = s.db.store.QueryRow(ctx, insert, s.session, img, f.Caption(), f.Captured().UnixNano()).Scan(&seq)
	if err != nil {
		s.db.log.LogAttrs(ctx, slog.LevelError, "append", slog.String("session", s.session), slog.Any("error", err))
		return -1, err
	}
	return int(seq), nil
}

// Len returns the length of the session's frame sequence.
func (s *FrameStore) Len(ctx context.Context) (int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	err := s.db.store.QueryRow(ctx, count, s.session).Scan(&n)
	return int(n), err
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
	err := s.db.store.QueryRow(ctx, get, s.session, int32(i)).Scan(&img, &caption, &captured)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", animation.ErrIndex, i)
	}
	if err != nil {
		return nil, err
	}
	return state.DecodeFrame(img, caption, captured)
}

// Frames returns the session's frame sequence in order.
func (s *FrameStore) Frames(ctx context.Context) ([]*animation.Frame, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	rows, err := s.db.store.Query(ctx, getAll, s.session)
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
		f, err := state.DecodeFrame(img, caption, captured)
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
	_, err := s.db.store.Exec(ctx, drop, s.session)
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

func pgUserinfo(pgUser, pgHost, pgPort, database, pgPassword string) (*url.Userinfo, error) {
	if pgPassword != "" {
		return url.UserPassword(pgUser, pgPassword), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("could not get home directory: %w", err)
	}
	pgpass, err := os.Open(filepath.Join(home, ".pgpass"))
	if err != nil {
		return nil, fmt.Errorf("could not open .pgpass: %w", err)
	}
	defer pgpass.Close()
	fi, err := pgpass.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat .pgpass: %w", err)
	}
	if fi.Mode()&0o077 != 0o000 {
		return nil, fmt.Errorf(".pgpass permissions too relaxed: %s", fi.Mode())
	}
	e, found, err := findPgPass(bufio.NewScanner(pgpass), pgUser, pgHost, pgPort, database)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("must have postgres password in $PGPASSWORD or .pgpass")
	}
	return url.UserPassword(pgUser, e.password), nil
}

// findPgPass returns the first .pgpass entry in sc matching the
// provided connection parameters.
func findPgPass(sc *bufio.Scanner, user, host, port, database string) (pgPassEntry, bool, error) {
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parsePgPassLine(line)
		if err != nil {
			return pgPassEntry{}, false, fmt.Errorf("could not parse .pgpass: %w", err)
		}
		if e.match(user, host, port, database) {
			return e, true, nil
		}
	}
	if err := sc.Err(); err != nil {
		return pgPassEntry{}, false, fmt.Errorf("unexpected error reading .pgpass: %w", err)
	}
	return pgPassEntry{}, false, nil
}

type pgPassEntry struct {
	host     string
	port     string
	database string
	user     string
	password string
}

func (e pgPassEntry) match(user, host, port, database string) bool {
	return user == e.user &&
		(host == e.host || e.host == "*") &&
		(port == e.port || e.port == "*") &&
		(database == e.database || e.database == "*")
}

// parsePgPassLine parses a host:port:database:user:password line.
// Colons and backslashes within fields are escaped with a backslash.
func parsePgPassLine(text string) (pgPassEntry, error) {
	var (
		entry  pgPassEntry
		fields [5]strings.Builder
		field  int
		escape bool
	)
	for _, r := range text {
		switch {
		case escape:
			escape = false
		case r == '\\':
			escape = true
			continue
		case r == ':':
			field++
			if field == len(fields) {
				return entry, errors.New("too many fields")
			}
			continue
		}
		fields[field].WriteRune(r)
	}
	if field != len(fields)-1 {
		return entry, errors.New("too few fields")
	}
	entry.host = fields[0].String()
	entry.port = fields[1].String()
	entry.database = fields[2].String()
	entry.user = fields[3].String()
	entry.password = fields[4].String()
	return entry, nil
}
