// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server provides the flipbook HTTP interface.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/canvas"
	"github.com/kortschak/flipbook/internal/export"
	"github.com/kortschak/flipbook/internal/importer"
	"github.com/kortschak/flipbook/internal/session"
	"github.com/kortschak/flipbook/internal/slogext"
)

// MaxUpload is the largest accepted import body.
const MaxUpload = 32 << 20

//go:embed ui
var ui embed.FS

// Server is the HTTP handler for flipbook sessions.
type Server struct {
	registry *session.Registry
	router   chi.Router
	log      *slog.Logger
}

// New returns a new Server operating on sessions held by registry.
func New(registry *session.Registry, log *slog.Logger) (*Server, error) {
	static, err := fs.Sub(ui, "ui")
	if err != nil {
		return nil, err
	}
	s := &Server{
		registry: registry,
		log:      log.With(slog.String("component", "http")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Handle("/*", http.FileServer(http.FS(static)))
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.newSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Use(s.withSession)
			r.Get("/", s.status)
			r.Delete("/", s.closeSession)
			r.Put("/settings", s.settings)
			r.Post("/pointer", s.pointer)
			r.Get("/canvas", s.canvas)
			r.Post("/import", s.importImage)
			r.Post("/frames", s.addFrame)
			r.Delete("/frames", s.clearFrames)
			r.Get("/frames/{n}", s.frame)
			r.Post("/preview", s.preview)
			r.Delete("/preview", s.stopPreview)
			r.Get("/preview", s.previewFrame)
			r.Post("/gif", s.generate)
			r.Get("/gif", s.download)
		})
	})
	s.router = r

	return s, nil
}

// ServeHTTP implements the [http.Handler] interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		s.log.LogAttrs(req.Context(), slog.LevelDebug, "request", slog.Any("req", slogext.HTTPRequest{
			Request:  req,
			ID:       middleware.GetReqID(req.Context()),
			Status:   ww.Status(),
			Bytes:    ww.BytesWritten(),
			Duration: time.Since(start),
		}))
	})
}

type sessionKey struct{}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sess, err := s.registry.Get(chi.URLParam(req, "id"))
		if err != nil {
			s.error(w, req, err)
			return
		}
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(req *http.Request) *session.Session {
	return req.Context().Value(sessionKey{}).(*session.Session)
}

// statusCode returns the HTTP status code corresponding to err.
func statusCode(err error) int {
	switch {
	case errors.Is(err, importer.ErrNoFile),
		errors.Is(err, animation.ErrNoFrames),
		errors.Is(err, animation.ErrBusy),
		errors.Is(err, session.ErrNoOutput),
		errors.Is(err, session.ErrCleared):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrClosed),
		errors.Is(err, animation.ErrIndex):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrDecode),
		errors.Is(err, session.ErrInvalid):
		return http.StatusBadRequest
	default:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusInternalServerError
	}
}

func (s *Server) error(w http.ResponseWriter, req *http.Request, err error) {
	code := statusCode(err)
	level := slog.LevelDebug
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.log.LogAttrs(req.Context(), level, "request error",
		slog.String("request_id", middleware.GetReqID(req.Context())),
		slog.String("path", req.URL.Path),
		slog.Int("status", code),
		slog.Any("error", err),
	)
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writePNG(w http.ResponseWriter, img image.Image) error {
	var buf bytes.Buffer
	err := png.Encode(&buf, img)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, err = w.Write(buf.Bytes())
	return err
}

func (s *Server) newSession(w http.ResponseWriter, req *http.Request) {
	sess, err := s.registry.New()
	if err != nil {
		s.error(w, req, err)
		return
	}
	st, err := sess.Status(req.Context())
	if err != nil {
		s.error(w, req, err)
		return
	}
	w.Header().Set("Location", "/api/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) closeSession(w http.ResponseWriter, req *http.Request) {
	err := s.registry.Close(sessionFrom(req).ID())
	if err != nil {
		s.error(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) status(w http.ResponseWriter, req *http.Request) {
	st, err := sessionFrom(req).Status(req.Context())
	if err != nil {
		s.error(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SettingsRequest is the body of a settings request. Absent fields
// retain the session's current setting.
type SettingsRequest struct {
	Color   string  `json:"color,omitempty"`
	Width   float64 `json:"pen_width,omitempty"`
	Delay   *int64  `json:"delay_ms,omitempty"`
	Caption *string `json:"caption,omitempty"`
}

func (s *Server) settings(w http.ResponseWriter, req *http.Request) {
	var body SettingsRequest
	err := decodeJSON(req.Body, &body)
	if err != nil {
		s.error(w, req, err)
		return
	}
	sess := sessionFrom(req)
	settings := sess.Settings()
	if body.Color != "" {
		settings.Color, err = canvas.ParseColor(body.Color)
		if err != nil {
			s.error(w, req, fmt.Errorf("%w: %w", session.ErrInvalid, err))
			return
		}
	}
	if body.Width != 0 {
		settings.Width = body.Width
	}
	if body.Delay != nil {
		settings.Delay = time.Duration(*body.Delay) * time.Millisecond
	}
	if body.Caption != nil {
		settings.Caption = *body.Caption
	}
	err = sess.SetSettings(settings)
	if err != nil {
		s.error(w, req, err)
		return
	}
	s.status(w, req)
}

func (s *Server) pointer(w http.ResponseWriter, req *http.Request) {
	var events []session.PointerEvent
	err := decodeJSON(req.Body, &events)
	if err != nil {
		s.error(w, req, err)
		return
	}
	n, err := sessionFrom(req).Pointer(events...)
	if err != nil {
		s.error(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"segments": n})
}

func (s *Server) canvas(w http.ResponseWriter, req *http.Request) {
	img, err := sessionFrom(req).Canvas()
	if err != nil {
		s.error(w, req, err)
		return
	}
	err = writePNG(w, img)
	if err != nil {
		s.error(w, req, err)
	}
}

// importImage accepts either a multipart form with the image in the
// "image" field, or the image as the raw request body.
func (s *Server) importImage(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, MaxUpload)
	var r io.Reader = req.Body
	mtyp, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mtyp == "multipart/form-data" {
		f, _, err := req.FormFile("image")
		switch {
		case err == nil:
			defer f.Close()
			r = f
		case errors.Is(err, http.ErrMissingFile):
			r = nil
		default:
			s.error(w, req, err)
			return
		}
	}
	if r != nil {
		// The decode may outlive the request, so the body is read here.
		b, err := io.ReadAll(r)
		if err != nil {
			s.error(w, req, fmt.Errorf("read image: %w", err))
			return
		}
		r = bytes.NewReader(b)
	}
	sess := sessionFrom(req)
	err := sess.Import(req.Context(), r)
	if err != nil {
		s.error(w, req, err)
		return
	}
	s.status(w, req)
}

func (s *Server) addFrame(w http.ResponseWriter, req *http.Request) {
	idx, err := sessionFrom(req).AddFrame(req.Context())
	if err != nil {
		s.error(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"index": idx})
}

func (s *Server) frame(w http.ResponseWriter, req *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(req, "n"))
	if err != nil {
		s.error(w, req, fmt.Errorf("%w: frame index: %w", session.ErrInvalid, err))
		return
	}
	f, err := sessionFrom(req).Frame(req.Context(), n)
	if err != nil {
		s.error(w, req, err)
		return
	}
	err = writePNG(w, f)
	if err != nil {
		s.error(w, req, err)
	}
}

func (s *Server) clearFrames(w http.ResponseWriter, req *http.Request) {
	err := sessionFrom(req).ClearFrames(req.Context())
	if err != nil {
		s.error(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) preview(w http.ResponseWriter, req *http.Request) {
	err := sessionFrom(req).PreviewAnimation(req.Context())
	if err != nil {
		s.error(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stopPreview(w http.ResponseWriter, req *http.Request) {
	sessionFrom(req).StopPreview()
	w.WriteHeader(http.StatusNoContent)
}

// previewFrame returns the frame currently shown by the preview, or
// no content if no frame has been shown.
func (s *Server) previewFrame(w http.ResponseWriter, req *http.Request) {
	idx, f, ok := sessionFrom(req).PreviewFrame()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("X-Frame-Index", strconv.Itoa(idx))
	err := writePNG(w, f)
	if err != nil {
		s.error(w, req, err)
	}
}

// generate starts an assembly. If the wait query parameter is true,
// the request is held until the animation is assembled and the GIF
// is returned, otherwise the request is accepted.
func (s *Server) generate(w http.ResponseWriter, req *http.Request) {
	sess := sessionFrom(req)
	out, err := sess.GenerateGIF(req.Context())
	if err != nil {
		s.error(w, req, err)
		return
	}
	wait, _ := strconv.ParseBool(req.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, map[string]bool{"encoding": true})
		return
	}
	gif, err := out.Wait(req.Context())
	if err != nil {
		s.error(w, req, err)
		return
	}
	export.Serve(w, req, gif)
}

func (s *Server) download(w http.ResponseWriter, req *http.Request) {
	gif, err := sessionFrom(req).DownloadGIF()
	if err != nil {
		s.error(w, req, err)
		return
	}
	export.Serve(w, req, gif)
}

// decodeJSON strictly decodes a single JSON value from r into v.
// Decoding errors are reported as session.ErrInvalid.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		return fmt.Errorf("%w: %w", session.ErrInvalid, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after request body", session.ErrInvalid)
	}
	return nil
}
