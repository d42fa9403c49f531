// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The flipbook command serves a sketch to GIF animation tool over HTTP
// and JSON RPC, and compiles image files into animated GIFs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/canvas"
	"github.com/kortschak/flipbook/internal/config"
	"github.com/kortschak/flipbook/internal/export"
	"github.com/kortschak/flipbook/internal/mtls"
	"github.com/kortschak/flipbook/internal/server"
	"github.com/kortschak/flipbook/internal/session"
	"github.com/kortschak/flipbook/internal/sizing"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/state"
	"github.com/kortschak/flipbook/internal/state/pgstore"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/internal/xdg"
	"github.com/kortschak/flipbook/rpc"
)

// appName is the name of the application's XDG directories.
const appName = "flipbook"

func main() {
	os.Exit(Main())
}

// Main runs the flipbook command and returns its exit status.
func Main() int {
	if len(os.Args) > 1 && os.Args[1] == "compile" {
		return compile(os.Args[2:])
	}
	return serve(os.Args[1:])
}

func serve(args []string) int {
	flags := flag.NewFlagSet(appName, flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), `Usage of %[1]s:
  %[1]s [options]
  %[1]s compile [options] files...

Options:
`, appName)
		flags.PrintDefaults()
	}
	cfgPath := flags.String("config", "", "configuration file (default $XDG_CONFIG_HOME/flipbook/config.toml)")
	logging := flags.String("log", "", "logging level (debug, info, warn or error) overriding the configuration")
	lines := flags.Bool("lines", false, "display source line details in logs")
	v := flags.Bool("version", false, "print version and exit")
	err := flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() != 0 {
		flags.Usage()
		return 2
	}
	if *v {
		err := version.Print(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}

	path, explicit, err := configPath(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	var level slog.LevelVar
	if *logging != "" {
		err = level.UnmarshalText([]byte(*logging))
		if err != nil {
			flags.Usage()
			return 2
		}
	} else {
		l, err := config.Level(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
			return 1
		}
		level.Set(l)
	}
	addSource := slogext.NewAtomicBool(*lines || cfg.Log.AddSource)

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "main"))

	stateDir, err := stateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	pidFile := filepath.Join(stateDir, "pid")
	fl := flock.New(pidFile)
	ok, err := fl.TryLock()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "flipbook is already running")
		return 1
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mlog.LogAttrs(ctx, slog.LevelInfo, "config", slog.String("path", path), slog.Any("config", config.Redacted(cfg)))
	mlog.LogAttrs(ctx, slog.LevelInfo, "state dir", slog.String("path", stateDir))

	db, err := openStore(ctx, cfg.Store, stateDir, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open frame store: %v\n", err)
		return 1
	}
	var storeFor func(string) animation.Store
	if db != nil {
		defer db.close()
		storeFor = db.store

		// Sessions do not survive a restart, so frames left
		// by a previous run are unreachable.
		stale, err := db.Sessions(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read frame store: %v\n", err)
			return 1
		}
		if len(stale) != 0 {
			mlog.LogAttrs(ctx, slog.LevelInfo, "purge stale frames", slog.Any("sessions", stale))
			err = db.Purge(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to purge frame store: %v\n", err)
				return 1
			}
		}
	}

	opts, ttl, err := sessionOptions(cfg, storeFor, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	registry := session.NewRegistry(opts, ttl, log)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		registry.Run(ctx, time.Minute)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()

	h, err := server.New(registry, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create http server: %v\n", err)
		return 1
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen: %v\n", err)
		return 1
	}
	tlsConfig, err := mtls.ServerConfig(mtls.Files{
		ClientCA: cfg.Server.ClientCA,
		Cert:     cfg.Server.CertFile,
		Key:      cfg.Server.KeyFile,
	})
	if err != nil {
		ln.Close()
		fmt.Fprintf(os.Stderr, "invalid tls configuration: %v\n", err)
		return 1
	}
	srv := &http.Server{
		Handler:           h,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		if tlsConfig != nil {
			serveErr <- srv.ServeTLS(ln, "", "")
			return
		}
		serveErr <- srv.Serve(ln)
	}()
	mlog.LogAttrs(ctx, slog.LevelInfo, "http", slog.String("addr", ln.Addr().String()), slog.Bool("tls", tlsConfig != nil), slog.Bool("mtls", cfg.Server.ClientCA != ""))

	if cfg.Server.RPCNetwork != "none" {
		rpcSrv, err := rpc.NewServer(ctx, cfg.Server.RPCNetwork, cfg.Server.RPCAddr, jsonrpc2.NetListenOptions{}, registry, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start rpc server: %v\n", err)
			srv.Close()
			return 1
		}
		defer rpcSrv.Close()
		mlog.LogAttrs(ctx, slog.LevelInfo, "rpc", slog.String("network", cfg.Server.RPCNetwork), slog.String("addr", rpcSrv.Addr().String()))
	}

	changes := make(chan config.Change)
	watcher, err := config.NewWatcher(ctx, path, changes, -1, log)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelWarn, "config watch", slog.String("path", path), slog.Any("error", err))
	} else {
		defer watcher.Close()
	}

	for {
		select {
		case <-ctx.Done():
			mlog.LogAttrs(context.Background(), slog.LevelInfo, "terminating")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := srv.Shutdown(shutdownCtx)
			cancel()
			if err != nil {
				mlog.LogAttrs(context.Background(), slog.LevelWarn, "http shutdown", slog.Any("error", err))
			}
			return 0

		case err := <-serveErr:
			mlog.LogAttrs(ctx, slog.LevelError, "http serve", slog.Any("error", err))
			return 1

		case c := <-changes:
			mlog.LogAttrs(ctx, slog.LevelDebug, "config change", slog.Any("change", config.ChangeValue(c)))
			if c.Err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "config change error", slog.Any("error", c.Err))
				continue
			}
			next := c.Config
			if next == nil {
				mlog.LogAttrs(ctx, slog.LevelInfo, "config removed: using defaults", slog.String("path", path))
				next, _ = config.Default()
			}
			restart := next.Server
			restart.SessionTTL = cfg.Server.SessionTTL
			if next.Store != cfg.Store || restart != cfg.Server {
				mlog.LogAttrs(ctx, slog.LevelWarn, "server and store changes require a restart")
			}
			if *logging == "" {
				l, err := config.Level(next)
				if err != nil {
					mlog.LogAttrs(ctx, slog.LevelWarn, "config log level", slog.Any("error", err))
					continue
				}
				level.Set(l)
			}
			addSource.Store(*lines || next.Log.AddSource)
			opts, ttl, err := sessionOptions(next, storeFor, log)
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "config session options", slog.Any("error", err))
				continue
			}
			registry.SetOptions(opts, ttl)
			cfg.Canvas, cfg.Pen, cfg.Caption, cfg.GIF, cfg.Log = next.Canvas, next.Pen, next.Caption, next.GIF, next.Log
			cfg.Server.SessionTTL = next.Server.SessionTTL
			mlog.LogAttrs(ctx, slog.LevelInfo, "applied config")
		}
	}
}

func compile(args []string) int {
	flags := flag.NewFlagSet("compile", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), `Usage of %s compile:
  %[1]s compile [options] files...

Imports each image file in order, capturing one frame per file, and
writes the assembled GIF to the output directory, printing its path.

Options:
`, appName)
		flags.PrintDefaults()
	}
	out := flags.String("o", ".", "output directory")
	delay := flags.Int("delay", 0, "frame delay in milliseconds (default from configuration)")
	caption := flags.String("caption", "", "caption rendered on each frame")
	policy := flags.String("policy", "", "sizing policy: aspect_fit, max_bound or union_bound (default from configuration)")
	cfgPath := flags.String("config", "", "configuration file (default $XDG_CONFIG_HOME/flipbook/config.toml)")
	err := flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flags.NArg() == 0 || *delay < 0 {
		flags.Usage()
		return 2
	}

	path, explicit, err := configPath(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	if *policy != "" {
		cfg.Canvas.Policy = *policy
	}
	level, err := config.Level(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	log := slog.New(slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     level,
		AddSource: slogext.NewAtomicBool(cfg.Log.AddSource),
	}))

	opts, _, err := sessionOptions(cfg, nil, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	if *delay != 0 {
		opts.Settings.Delay = time.Duration(*delay) * time.Millisecond
	}
	opts.Settings.Caption = *caption
	sess, err := session.New(uuid.NewString(), opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, name := range flags.Args() {
		err = addFile(ctx, sess, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			return 1
		}
	}
	result, err := sess.GenerateGIF(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	gif, err := result.Wait(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	p, err := export.WriteFile(*out, gif)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(p)
	return 0
}

// addFile imports the image in the named file into sess and captures
// it as a frame.
func addFile(ctx context.Context, sess *session.Session, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	err = sess.Import(ctx, f)
	if err != nil {
		return err
	}
	_, err = sess.AddFrame(ctx)
	return err
}

// configPath returns the configuration file path to use and whether it
// was explicitly requested. If path is empty, an existing file in the XDG
// configuration directories is used, falling back to the location in the
// user's configuration directory.
func configPath(path string) (string, bool, error) {
	if path != "" {
		return path, true, nil
	}
	name := filepath.Join(appName, config.FileName)
	path, err := xdg.Config(name, false)
	if err == nil {
		return path, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", false, err
	}
	dir, ok := xdg.ConfigHome()
	if !ok {
		return "", false, errors.New("no xdg config directory")
	}
	return filepath.Join(dir, name), false, nil
}

// loadConfig returns the configuration at path. If the file does not
// exist and was not explicitly requested, the default configuration is
// returned.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, _, err := config.Load(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg, _ = config.Default()
	}
	return cfg, nil
}

// stateDir returns the application's XDG state directory, creating it
// if necessary.
func stateDir() (string, error) {
	dir, err := xdg.State(appName)
	if err == nil {
		return dir, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	home, ok := xdg.StateHome()
	if !ok {
		return "", errors.New("no xdg state directory")
	}
	dir = filepath.Join(home, appName)
	return dir, os.MkdirAll(dir, 0o755)
}

// sessionOptions returns the session options and idle session lifetime
// described by cfg. If store is not nil, sessions store their frames in
// the store it returns.
func sessionOptions(cfg *config.Config, store func(id string) animation.Store, log *slog.Logger) (session.Options, time.Duration, error) {
	ttl, delay, err := config.Durations(cfg)
	if err != nil {
		return session.Options{}, 0, err
	}
	var colors [4]color.Color
	for i, c := range []struct {
		name, val string
	}{
		{name: "background", val: cfg.Canvas.Background},
		{name: "pen color", val: cfg.Pen.Color},
		{name: "caption fill", val: cfg.Caption.Fill},
		{name: "caption outline", val: cfg.Caption.Outline},
	} {
		colors[i], err = canvas.ParseColor(c.val)
		if err != nil {
			return session.Options{}, 0, fmt.Errorf("%s: %w", c.name, err)
		}
	}
	opts := session.Options{
		Width:      cfg.Canvas.Width,
		Height:     cfg.Canvas.Height,
		Background: colors[0],
		Policy:     sizing.Kind(cfg.Canvas.Policy),
		Max:        image.Point{X: cfg.Canvas.MaxWidth, Y: cfg.Canvas.MaxHeight},
		Settings: session.Settings{
			Color: colors[1],
			Width: cfg.Pen.Width,
			Delay: delay,
		},
		Caption: session.CaptionStyle{
			Size:         cfg.Caption.Size,
			Fill:         colors[2],
			Outline:      colors[3],
			OutlineWidth: cfg.Caption.OutlineWidth,
			Margin:       cfg.Caption.Margin,
		},
		Quality: cfg.GIF.Quality,
		Workers: cfg.GIF.Workers,
		Log:     log,
		Store:   store,
	}
	return opts, ttl, nil
}

// frameDB is a persistent frame store shared by sessions.
type frameDB struct {
	sharedStore
	store func(id string) animation.Store
	close func() error
}

type sharedStore interface {
	Sessions(context.Context) (map[string]int, error)
	Purge(context.Context) error
}

// openStore opens the persistent frame store described by cfg. It
// returns nil for the memory store.
func openStore(ctx context.Context, cfg config.Store, stateDir string, log *slog.Logger) (*frameDB, error) {
	switch cfg.Kind {
	case "memory", "":
		return nil, nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(stateDir, "frames.sqlite3")
		}
		db, err := state.Open(path, log)
		if err != nil {
			return nil, err
		}
		return &frameDB{
			sharedStore: db,
			store:       func(id string) animation.Store { return db.Store(id) },
			close:       db.Close,
		}, nil
	case "postgres":
		db, err := pgstore.Open(ctx, cfg.URL, log)
		if err != nil {
			return nil, err
		}
		return &frameDB{
			sharedStore: db,
			store:       func(id string) animation.Store { return db.Store(id) },
			close:       func() error { return db.Close(context.Background()) },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store kind: %q", cfg.Kind)
	}
}
