// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/canvas"
	"github.com/kortschak/flipbook/internal/importer"
	"github.com/kortschak/flipbook/internal/session"
	"github.com/kortschak/flipbook/internal/slogext"
)

// Server is a JSON RPC 2 server exposing flipbook sessions.
type Server struct {
	listener *netListener
	server   *jsonrpc2.Server
	network  string

	registry *session.Registry

	log *slog.Logger

	fMu   sync.Mutex
	funcs Funcs
}

// NewServer returns a new Server communicating over the provided network
// which may be either "unix" or "tcp". If addr is empty an address is
// chosen; for unix it is a socket in the XDG runtime directory.
func NewServer(ctx context.Context, network, addr string, options jsonrpc2.NetListenOptions, registry *session.Registry, log *slog.Logger) (*Server, error) {
	s := Server{
		network:  network,
		registry: registry,
		log:      log.With(slog.String("component", "rpc")),
	}
	s.funcs = s.sessionFuncs()

	var err error
	s.listener, err = newNetListener(ctx, network, addr, options)
	if err != nil {
		return nil, err
	}
	s.server = jsonrpc2.NewServer(ctx, s.listener, &s)

	s.log.LogAttrs(ctx, slog.LevelDebug, "new server", slog.String("network", s.network), slog.Any("addr", slogext.Stringer{Stringer: s.listener.Addr()}))
	return &s, nil
}

// Addr returns the listener address of the server.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Funcs is a mapping from method names to insertable functions. A name with
// a nil function removes the mapping.
//
// If the ID is valid, the function must return either a non-nil, JSON-marshalable
// result, or a non-nil error. If it is not valid, the functions must return a nil
// result.
type Funcs map[string]func(context.Context, jsonrpc2.ID, json.RawMessage) (*Message[any], error)

// Funcs inserts the provided functions into the server's handler. If funcs is nil
// the mapping table is reset to the session methods.
func (s *Server) Funcs(funcs Funcs) {
	s.fMu.Lock()
	defer s.fMu.Unlock()
	if funcs == nil {
		s.funcs = s.sessionFuncs()
		return
	}
	for name, fn := range funcs {
		if fn != nil {
			s.funcs[name] = fn
		} else {
			delete(s.funcs, name)
		}
	}
}

// Methods returns the sorted list of methods handled by the server.
func (s *Server) Methods() []string {
	s.fMu.Lock()
	defer s.fMu.Unlock()
	methods := make([]string, 0, len(s.funcs))
	for m := range s.funcs {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Bind binds the server's handler to a connection.
func (s *Server) Bind(ctx context.Context, conn *jsonrpc2.Connection) jsonrpc2.ConnectionOptions {
	s.log.LogAttrs(ctx, slog.LevelDebug, "binding")
	return jsonrpc2.ConnectionOptions{
		Handler: s,
	}
}

// Handle is the server's message handler.
func (s *Server) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	s.log.LogAttrs(ctx, slog.LevelDebug, "handle", slog.Any("req", slogext.Request{Request: req}))

	s.fMu.Lock()
	fn, ok := s.funcs[req.Method]
	s.fMu.Unlock()
	if !ok {
		return nil, jsonrpc2.ErrNotHandled
	}

	res, err := fn(ctx, req.ID, req.Params)
	var ret any
	// Convert *Message[any] to any without type if nil.
	if res != nil {
		ret = res
	}
	if !req.IsCall() {
		if ret != nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "dropping func result", slog.String("method", req.Method), slog.Any("result", ret))
		}
		if err != nil {
			s.log.LogAttrs(ctx, slog.LevelError, "func notify error", slog.String("method", req.Method), slog.Any("error", err))
		}
		return nil, err
	}
	if err != nil {
		ret = nil
	} else if ret == nil {
		// Make sure a call has a return if there is no error.
		ret = NewMessage("", "ok")
	}
	return ret, err
}

// Close stops the server listening and waits for open connections
// to complete. Sessions held by the registry are not closed.
func (s *Server) Close() error {
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	s.server.Shutdown()
	return s.server.Wait()
}

// sessionFuncs returns a function table for operating on sessions
// held by the server's registry.
//
// The RPC methods in the table are listed in the package's method
// constants.
func (s *Server) sessionFuncs() Funcs {
	return Funcs{
		NewSession: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			err := UnmarshalMessage(params, &m)
			if err != nil {
				s.log.LogAttrs(ctx, slog.LevelError, NewSession, slog.Any("error", err))
				return nil, err
			}
			sess, err := s.registry.New()
			if err != nil {
				return nil, wireError(NewSession, "", err)
			}
			st, err := sess.Status(ctx)
			if err != nil {
				return nil, wireError(NewSession, sess.ID(), err)
			}
			return NewMessage[any](sess.ID(), st), nil
		},

		CloseSession: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			err := UnmarshalMessage(params, &m)
			if err != nil {
				s.log.LogAttrs(ctx, slog.LevelError, CloseSession, slog.Any("error", err))
				return nil, err
			}
			err = s.registry.Close(m.Session)
			if err != nil {
				return nil, wireError(CloseSession, m.Session, err)
			}
			return nil, nil
		},

		Status: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			sess, err := lookup(ctx, s, Status, params, &m)
			if err != nil {
				return nil, err
			}
			st, err := sess.Status(ctx)
			if err != nil {
				return nil, wireError(Status, m.Session, err)
			}
			return NewMessage[any](m.Session, st), nil
		},

		Settings: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[DrawSettings]
			sess, err := lookup(ctx, s, Settings, params, &m)
			if err != nil {
				return nil, err
			}
			settings := sess.Settings()
			if m.Body.Color != "" {
				settings.Color, err = canvas.ParseColor(m.Body.Color)
				if err != nil {
					return nil, wireError(Settings, m.Session, fmt.Errorf("%w: %w", session.ErrInvalid, err))
				}
			}
			if m.Body.Width != 0 {
				settings.Width = m.Body.Width
			}
			if m.Body.Delay != nil {
				settings.Delay = m.Body.Delay.Duration
			}
			if m.Body.Caption != nil {
				settings.Caption = *m.Body.Caption
			}
			err = sess.SetSettings(settings)
			if err != nil {
				return nil, wireError(Settings, m.Session, err)
			}
			st, err := sess.Status(ctx)
			if err != nil {
				return nil, wireError(Settings, m.Session, err)
			}
			return NewMessage[any](m.Session, st), nil
		},

		Pointer: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[[]session.PointerEvent]
			sess, err := lookup(ctx, s, Pointer, params, &m)
			if err != nil {
				return nil, err
			}
			n, err := sess.Pointer(m.Body...)
			if err != nil {
				return nil, wireError(Pointer, m.Session, err)
			}
			return NewMessage[any](m.Session, n), nil
		},

		Import: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[string]
			sess, err := lookup(ctx, s, Import, params, &m)
			if err != nil {
				return nil, err
			}
			if m.Body == "" {
				return nil, wireError(Import, m.Session, importer.ErrNoFile)
			}
			b, err := importer.ParseDataURI(m.Body)
			if err != nil {
				return nil, wireError(Import, m.Session, err)
			}
			err = sess.Import(ctx, bytes.NewReader(b))
			if err != nil {
				return nil, wireError(Import, m.Session, err)
			}
			st, err := sess.Status(ctx)
			if err != nil {
				return nil, wireError(Import, m.Session, err)
			}
			return NewMessage[any](m.Session, st), nil
		},

		AddFrame: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			sess, err := lookup(ctx, s, AddFrame, params, &m)
			if err != nil {
				return nil, err
			}
			idx, err := sess.AddFrame(ctx)
			if err != nil {
				return nil, wireError(AddFrame, m.Session, err)
			}
			return NewMessage[any](m.Session, idx), nil
		},

		GetFrame: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[int]
			sess, err := lookup(ctx, s, GetFrame, params, &m)
			if err != nil {
				return nil, err
			}
			f, err := sess.Frame(ctx, m.Body)
			if err != nil {
				return nil, wireError(GetFrame, m.Session, err)
			}
			var buf bytes.Buffer
			err = png.Encode(&buf, f)
			if err != nil {
				return nil, wireError(GetFrame, m.Session, err)
			}
			return NewMessage[any](m.Session, Frame{
				Index:   m.Body,
				Caption: f.Caption(),
				Image:   buf.Bytes(),
				Time:    f.Captured(),
			}), nil
		},

		ClearFrames: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			sess, err := lookup(ctx, s, ClearFrames, params, &m)
			if err != nil {
				return nil, err
			}
			err = sess.ClearFrames(ctx)
			if err != nil {
				return nil, wireError(ClearFrames, m.Session, err)
			}
			return nil, nil
		},

		Preview: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			sess, err := lookup(ctx, s, Preview, params, &m)
			if err != nil {
				return nil, err
			}
			err = sess.PreviewAnimation(ctx)
			if err != nil {
				return nil, wireError(Preview, m.Session, err)
			}
			return nil, nil
		},

		StopPreview: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			sess, err := lookup(ctx, s, StopPreview, params, &m)
			if err != nil {
				return nil, err
			}
			sess.StopPreview()
			return nil, nil
		},

		Generate: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[GenerateOptions]
			sess, err := lookup(ctx, s, Generate, params, &m)
			if err != nil {
				return nil, err
			}
			out, err := sess.GenerateGIF(ctx)
			if err != nil {
				return nil, wireError(Generate, m.Session, err)
			}
			if !m.Body.Wait {
				return nil, nil
			}
			gif, err := out.Wait(ctx)
			if err != nil {
				return nil, wireError(Generate, m.Session, err)
			}
			return NewMessage[any](m.Session, GIF{
				Name:    gif.Name,
				Data:    gif.Data,
				Created: gif.Created,
			}), nil
		},

		Download: func(ctx context.Context, id jsonrpc2.ID, params json.RawMessage) (*Message[any], error) {
			var m Message[None]
			sess, err := lookup(ctx, s, Download, params, &m)
			if err != nil {
				return nil, err
			}
			gif, err := sess.DownloadGIF()
			if err != nil {
				return nil, wireError(Download, m.Session, err)
			}
			return NewMessage[any](m.Session, GIF{
				Name:    gif.Name,
				Data:    gif.Data,
				Created: gif.Created,
			}), nil
		},
	}
}

// lookup unmarshals params into m and returns the session that m
// refers to.
func lookup[T any](ctx context.Context, s *Server, method string, params json.RawMessage, m *Message[T]) (*session.Session, error) {
	err := UnmarshalMessage(params, m)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, method, slog.Any("error", err))
		return nil, addDetail(err, method, m.Session)
	}
	sess, err := s.registry.Get(m.Session)
	if err != nil {
		return nil, wireError(method, m.Session, err)
	}
	return sess, nil
}

// wireError returns err as a [jsonrpc2.WireError] with a flipbook
// error code. The data field of the error holds the sub-code type,
// the method and the session ID.
func wireError(method, id string, err error) error {
	var werr *jsonrpc2.WireError
	if errors.As(err, &werr) {
		return err
	}
	code, typ := int64(ErrCodeInternal), 0
	switch {
	case errors.Is(err, importer.ErrNoFile):
		code, typ = ErrCodePrecondition, ErrCodeNoFile
	case errors.Is(err, animation.ErrNoFrames):
		code, typ = ErrCodePrecondition, ErrCodeNoFrames
	case errors.Is(err, animation.ErrBusy):
		code, typ = ErrCodePrecondition, ErrCodeBusy
	case errors.Is(err, session.ErrNoOutput):
		code, typ = ErrCodePrecondition, ErrCodeNoOutput
	case errors.Is(err, session.ErrCleared):
		code, typ = ErrCodePrecondition, ErrCodeCleared
	case errors.Is(err, session.ErrNotFound):
		code, typ = ErrCodeInvalidData, ErrCodeNoSession
	case errors.Is(err, session.ErrClosed):
		code, typ = ErrCodeInvalidData, ErrCodeClosed
	case errors.Is(err, importer.ErrDecode):
		code, typ = ErrCodeInvalidData, ErrCodeImage
	case errors.Is(err, animation.ErrIndex):
		code, typ = ErrCodeInvalidData, ErrCodeBounds
	case errors.Is(err, session.ErrInvalid):
		code, typ = ErrCodeInvalidMessage, ErrCodeParameters
	default:
		typ = ErrCodeStoreErr
	}
	return addDetail(NewError(code, err.Error(), map[string]any{"type": typ}), method, id)
}

// addDetail adds the method and session ID to the data of a
// [jsonrpc2.WireError].
func addDetail(err error, method, id string) error {
	details := map[string]any{"op": method}
	if id != "" {
		details["session"] = id
	}
	return AddWireErrorDetail(err, details)
}
