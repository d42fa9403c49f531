// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session provides the application state for a single drawing
// session.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/canvas"
	"github.com/kortschak/flipbook/internal/export"
	"github.com/kortschak/flipbook/internal/future"
	"github.com/kortschak/flipbook/internal/importer"
	"github.com/kortschak/flipbook/internal/sizing"
	"github.com/kortschak/flipbook/internal/text"
)

var (
	// ErrNoOutput is returned when a download is requested before
	// an animation has been assembled.
	ErrNoOutput = errors.New("no assembled output")

	// ErrCleared is the result of an assembly whose frames were
	// cleared before encoding completed.
	ErrCleared = errors.New("frames cleared during assembly")

	// ErrInvalid is returned for invalid settings and pointer events.
	ErrInvalid = errors.New("invalid request")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// Output is an assembled animation.
type Output = export.Output

// Settings are the drawing settings read at the time of each operation.
type Settings struct {
	// Color is the pen colour.
	Color color.Color
	// Width is the pen width in pixels.
	Width float64
	// Delay is the per-frame display duration.
	Delay time.Duration
	// Caption is the text rendered on captured frames.
	Caption string
}

func (s Settings) validate() error {
	var err error
	if s.Width <= 0 {
		err = errors.Join(err, fmt.Errorf("%w: pen width must be positive: %v", ErrInvalid, s.Width))
	}
	if s.Delay <= 0 {
		err = errors.Join(err, fmt.Errorf("%w: frame delay must be positive: %v", ErrInvalid, s.Delay))
	}
	if s.Delay > animation.MaxDelay {
		err = errors.Join(err, fmt.Errorf("%w: frame delay must not exceed %v: %v", ErrInvalid, animation.MaxDelay, s.Delay))
	}
	return err
}

// CaptionStyle is the configuration of caption rendering.
type CaptionStyle struct {
	Size         float64
	Fill         color.Color
	Outline      color.Color
	OutlineWidth int
	Margin       int
}

// Options are the session construction parameters.
type Options struct {
	// Width and Height are the initial canvas dimensions.
	Width, Height int
	// Background is the canvas background colour.
	Background color.Color

	// Policy is the canvas sizing policy and Max is the
	// bound limit used by the max and union bound policies.
	Policy sizing.Kind
	Max    image.Point

	// Settings are the initial drawing settings.
	Settings Settings

	Caption CaptionStyle

	// Quality and Workers are the encoding parameters.
	Quality int
	Workers int

	// Encoder is the animation encoder. If nil
	// animation.GIFEncoder is used.
	Encoder animation.Encoder

	// Store returns the frame store for the session
	// with the given ID. If nil, an animation.MemStore
	// is used.
	Store func(id string) animation.Store

	Log *slog.Logger
}

// Session is the state of a single drawing session. All methods are
// safe for concurrent use and are serialised by the session.
type Session struct {
	id  string
	log *slog.Logger

	// ctx is the lifetime of the session and
	// bounds asynchronous work started by it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	lastUsed time.Time

	canvas    *canvas.Canvas
	settings  Settings
	policy    sizing.Policy
	importer  *importer.Importer
	style     text.Style
	store     animation.Store
	player    animation.Player
	assembler *animation.Assembler

	output *Output
	// generation is incremented by each clear.
	generation uint64
}

// New returns a new session with the given ID.
func New(id string, opts Options) (*Session, error) {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "session"), slog.String("id", id))

	bg := opts.Background
	if bg == nil {
		bg = color.White
	}
	policy, err := sizing.New(opts.Policy, image.Point{X: opts.Width, Y: opts.Height}, opts.Max)
	if err != nil {
		return nil, err
	}
	settings := opts.Settings
	if settings.Color == nil {
		settings.Color = color.Black
	}
	err = settings.validate()
	if err != nil {
		return nil, err
	}
	face, err := text.NewFace(opts.Caption.Size)
	if err != nil {
		return nil, err
	}
	enc := opts.Encoder
	if enc == nil {
		enc = animation.GIFEncoder{}
	}
	var store animation.Store
	if opts.Store != nil {
		store = opts.Store(id)
	} else {
		store = &animation.MemStore{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		lastUsed: time.Now(),
		canvas:   canvas.New(opts.Width, opts.Height, bg),
		settings: settings,
		policy:   policy,
		importer: &importer.Importer{Policy: policy, Log: log},
		style: text.Style{
			Face:         face,
			Fill:         opts.Caption.Fill,
			Outline:      opts.Caption.Outline,
			OutlineWidth: opts.Caption.OutlineWidth,
			Margin:       opts.Caption.Margin,
		},
		store: store,
		assembler: &animation.Assembler{
			Encoder:    enc,
			Quality:    opts.Quality,
			Workers:    opts.Workers,
			Background: bg,
			Log:        log,
		},
	}
	return s, nil
}

// ID returns the session's ID.
func (s *Session) ID() string { return s.id }

// lock locks the session and marks it as used. It returns ErrClosed if
// the session has been closed, in which case the session is not locked.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.lastUsed = time.Now()
	return nil
}

// LastUsed returns the time of the last operation on the session.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Settings returns the current drawing settings.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// SetSettings replaces the current drawing settings. A nil colour leaves
// the pen colour unchanged.
func (s *Session) SetSettings(settings Settings) error {
	if settings.Color == nil {
		settings.Color = s.Settings().Color
	}
	err := settings.validate()
	if err != nil {
		return err
	}
	err = s.lock()
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.settings = settings
	s.log.LogAttrs(s.ctx, slog.LevelDebug, "settings",
		slog.String("color", canvas.FormatColor(settings.Color)),
		slog.Float64("width", settings.Width),
		slog.Duration("delay", settings.Delay),
		slog.String("caption", settings.Caption),
	)
	return nil
}

// Pointer event types.
const (
	PointerDown = "down"
	PointerMove = "move"
	PointerUp   = "up"
)

// PointerEvent is a pointer action on the canvas.
type PointerEvent struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Pointer applies the pointer events in order using the current pen
// settings. It returns the number of segments painted. Invalid events
// are rejected before any event is applied.
func (s *Session) Pointer(events ...PointerEvent) (int, error) {
	for i, ev := range events {
		switch ev.Type {
		case PointerDown, PointerMove, PointerUp:
		default:
			return 0, fmt.Errorf("%w: unknown pointer event type at %d: %q", ErrInvalid, i, ev.Type)
		}
		if !canvas.InRange(image.Point{X: ev.X, Y: ev.Y}) {
			return 0, fmt.Errorf("%w: pointer position out of range at %d: (%d,%d)", ErrInvalid, i, ev.X, ev.Y)
		}
	}
	err := s.lock()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	pen := canvas.Pen{Color: s.settings.Color, Width: s.settings.Width}
	var n int
	for _, ev := range events {
		p := image.Point{X: ev.X, Y: ev.Y}
		switch ev.Type {
		case PointerDown:
			s.canvas.PointerDown(p)
		case PointerMove:
			if s.canvas.PointerMove(p, pen) {
				n++
			}
		case PointerUp:
			s.canvas.PointerUp()
		}
	}
	return n, nil
}

// Canvas returns a copy of the current canvas.
func (s *Session) Canvas() (*image.RGBA, error) {
	err := s.lock()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.canvas.Snapshot(), nil
}

// Import decodes the image held in r and applies it to the canvas
// according to the session's sizing policy. Decoding is performed without
// holding the session. It returns importer.ErrNoFile if r is nil or
// empty. Failures leave the session unaltered.
func (s *Session) Import(ctx context.Context, r io.Reader) error {
	img, err := s.importer.Load(s.ctx, r).Wait(ctx)
	if err != nil {
		return err
	}
	return s.ImportImage(img)
}

// ImportImage applies img to the canvas according to the session's
// sizing policy.
func (s *Session) ImportImage(img image.Image) error {
	if img == nil {
		return importer.ErrNoFile
	}
	err := s.lock()
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.importer.Apply(s.canvas, img)
	return nil
}

// AddFrame captures the canvas with the current caption and appends it
// to the frame sequence. It returns the index of the new frame.
func (s *Session) AddFrame(ctx context.Context) (int, error) {
	err := s.lock()
	if err != nil {
		return -1, err
	}
	defer s.mu.Unlock()
	f, err := animation.Capture(s.canvas.Image(), s.policy.Bound(), s.canvas.Background(), s.settings.Caption, s.style)
	if err != nil {
		return -1, err
	}
	idx, err := s.store.Append(ctx, f)
	if err != nil {
		return -1, err
	}
	s.log.LogAttrs(ctx, slog.LevelDebug, "add frame", slog.Int("index", idx), slog.Any("size", f.Size()))
	return idx, nil
}

// Len returns the number of frames in the sequence.
func (s *Session) Len(ctx context.Context) (int, error) {
	err := s.lock()
	if err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	return s.store.Len(ctx)
}

// Frame returns the i'th frame of the sequence.
func (s *Session) Frame(ctx context.Context, i int) (*animation.Frame, error) {
	err := s.lock()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.store.Frame(ctx, i)
}

// Frames returns the frame sequence.
func (s *Session) Frames(ctx context.Context) ([]*animation.Frame, error) {
	err := s.lock()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.store.Frames(ctx)
}

// PreviewAnimation starts cycling through the frame sequence using the
// current frame delay, restarting from the first frame if a preview is
// already running. It returns animation.ErrNoFrames if the sequence is
// empty.
func (s *Session) PreviewAnimation(ctx context.Context) error {
	err := s.lock()
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	frames, err := s.store.Frames(ctx)
	if err != nil {
		return err
	}
	log := s.log
	return s.player.Play(frames, s.settings.Delay, func(i int, _ *animation.Frame) {
		log.LogAttrs(context.Background(), slog.LevelDebug, "preview", slog.Int("index", i))
	})
}

// StopPreview stops a running preview. It is a no-op if no preview is
// running.
func (s *Session) StopPreview() {
	s.player.Stop()
}

// Previewing returns whether a preview is running.
func (s *Session) Previewing() bool {
	return s.player.Playing()
}

// PreviewFrame returns the frame currently displayed by the preview and
// its index. If no frame has been displayed, ok is false.
func (s *Session) PreviewFrame() (index int, frame *animation.Frame, ok bool) {
	return s.player.Current()
}

// GenerateGIF starts assembling the frame sequence into an animated GIF
// and returns a future that is resolved with the output. On success the
// output becomes the session's assembled output unless the frames were
// cleared during encoding, in which case the future is resolved with
// ErrCleared. GenerateGIF returns animation.ErrNoFrames if the sequence
// is empty and animation.ErrBusy if a previous assembly is running.
func (s *Session) GenerateGIF(ctx context.Context) (*future.Future[Output], error) {
	err := s.lock()
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	frames, err := s.store.Frames(ctx)
	if err != nil {
		return nil, err
	}
	encoded, err := s.assembler.Assemble(s.ctx, frames, s.settings.Delay)
	if err != nil {
		return nil, err
	}
	gen := s.generation
	result := future.New[Output]()
	go func() {
		<-encoded.Done()
		b, err := encoded.Wait(context.Background())
		if err != nil {
			result.Resolve(Output{}, fmt.Errorf("generate gif: %w", err))
			return
		}
		now := time.Now()
		out := Output{Name: export.Filename(now), Data: b, Created: now}
		s.mu.Lock()
		if s.generation != gen || s.closed {
			s.mu.Unlock()
			s.log.LogAttrs(s.ctx, slog.LevelInfo, "discard stale assembly", slog.String("name", out.Name))
			result.Resolve(Output{}, ErrCleared)
			return
		}
		s.output = &out
		s.mu.Unlock()
		result.Resolve(out, nil)
	}()
	return result, nil
}

// Encoding returns whether an assembly is running.
func (s *Session) Encoding() bool {
	return s.assembler.Encoding()
}

// DownloadGIF returns the current assembled output. It returns
// ErrNoOutput if no output has been assembled since the last clear.
func (s *Session) DownloadGIF() (Output, error) {
	err := s.lock()
	if err != nil {
		return Output{}, err
	}
	defer s.mu.Unlock()
	if s.output == nil {
		return Output{}, ErrNoOutput
	}
	return *s.output, nil
}

// ClearFrames empties the frame sequence, discards any assembled output,
// stops any preview and resets the canvas and sizing policy to their
// initial state. An assembly that is running when ClearFrames is called
// does not become the session's output. If the frame store cannot be
// cleared, the session is left unchanged.
func (s *Session) ClearFrames(ctx context.Context) error {
	err := s.lock()
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	err = s.store.Clear(ctx)
	if err != nil {
		return fmt.Errorf("clear frames: %w", err)
	}
	s.player.Reset()
	s.output = nil
	s.generation++
	s.policy.Reset()
	s.canvas.Reset()
	s.log.LogAttrs(ctx, slog.LevelDebug, "clear frames")
	return nil
}

// Status is a summary of session state.
type Status struct {
	ID           string  `json:"id"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Frames       int     `json:"frames"`
	Drawing      bool    `json:"drawing"`
	Previewing   bool    `json:"previewing"`
	PreviewIndex int     `json:"preview_index"`
	Encoding     bool    `json:"encoding"`
	Output       string  `json:"output,omitempty"`
	Color        string  `json:"color"`
	PenWidth     float64 `json:"pen_width"`
	Delay        int64   `json:"delay_ms"`
	Caption      string  `json:"caption"`
	Policy       string  `json:"policy"`
}

// Status returns a summary of the session's state.
func (s *Session) Status(ctx context.Context) (Status, error) {
	err := s.lock()
	if err != nil {
		return Status{}, err
	}
	defer s.mu.Unlock()
	n, err := s.store.Len(ctx)
	if err != nil {
		return Status{}, err
	}
	size := s.canvas.Size()
	st := Status{
		ID:           s.id,
		Width:        size.X,
		Height:       size.Y,
		Frames:       n,
		Drawing:      s.canvas.Drawing(),
		Previewing:   s.player.Playing(),
		PreviewIndex: s.player.Index(),
		Encoding:     s.assembler.Encoding(),
		Color:        canvas.FormatColor(s.settings.Color),
		PenWidth:     s.settings.Width,
		Delay:        s.settings.Delay.Milliseconds(),
		Caption:      s.settings.Caption,
		Policy:       string(s.policy.Kind()),
	}
	if s.output != nil {
		st.Output = s.output.Name
	}
	return st, nil
}

// Close stops any running preview, abandons any running assembly and
// releases the session's frame store. Operations on a closed session
// return ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.player.Reset()
	s.cancel()
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "close")
	return errors.Join(s.store.Close(), s.style.Face.Close())
}
