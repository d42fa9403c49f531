// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc provides a JSON RPC 2 interface to flipbook sessions.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kortschak/jsonrpc2"
)

// Session methods. All methods are calls. The session field of the
// message must hold a valid session ID for all methods except NewSession.
const (
	NewSession   = "new_session"   // call Message[None] → Message[session.Status]
	CloseSession = "close_session" // call Message[None] → Message[string]
	Status       = "status"        // call Message[None] → Message[session.Status]
	Settings     = "settings"      // call Message[DrawSettings] → Message[session.Status]
	Pointer      = "pointer"       // call Message[[]session.PointerEvent] → Message[int] (segments)
	Import       = "import"        // call Message[string] (data URI) → Message[session.Status]
	AddFrame     = "add_frame"     // call Message[None] → Message[int] (index)
	GetFrame     = "frame"         // call Message[int] (index) → Message[Frame]
	ClearFrames  = "clear_frames"  // call Message[None] → Message[string]
	Preview      = "preview"       // call Message[None] → Message[string]
	StopPreview  = "stop_preview"  // call Message[None] → Message[string]
	Generate     = "generate"      // call Message[GenerateOptions] → Message[GIF] if waited, otherwise Message[string]
	Download     = "download"      // call Message[None] → Message[GIF]
)

// JSON RPC error codes.
const (
	ErrCodeInvalidMessage = 1 // an RPC message is invalid
	// Invalid message sub-codes:
	ErrCodeMessageSyntax       = 11 // syntax
	ErrCodeMessageUnknownField = 12 // unknown field
	ErrCodeShortMessage        = 13 // truncation
	ErrCodeMessageType         = 14 // type mismatch
	ErrCodeMethod              = 15 // method mismatch
	ErrCodeParameters          = 16 // invalid parameters

	ErrCodePrecondition = 2 // an operation was requested in an invalid state
	// Precondition sub-codes:
	ErrCodeNoFile   = 21 // no image data provided
	ErrCodeNoFrames = 22 // empty frame sequence
	ErrCodeBusy     = 23 // assembly in progress
	ErrCodeNoOutput = 24 // no assembled output
	ErrCodeCleared  = 25 // frames cleared during assembly

	ErrCodeInvalidData = 3 // data sent in a call was invalid
	// Invalid data sub-codes:
	ErrCodeNoSession = 31 // missing session
	ErrCodeImage     = 32 // image data
	ErrCodeBounds    = 33 // out of bounds
	ErrCodeClosed    = 34 // session closed

	ErrCodeInternal = 4  // an internal error happened
	ErrCodeStoreErr = 41 // store operation error
)

// Message is the message passing container.
type Message[T any] struct {
	Time    time.Time `json:"time"`
	Session string    `json:"session,omitempty"`
	Body    T         `json:"body,omitempty"`
}

// NewMessage is a convenience Message constructor. It populates the Time
// field and ensures that the session ID is included in the message.
func NewMessage[T any](session string, body T) *Message[T] {
	return &Message[T]{
		Time:    time.Now(),
		Session: session,
		Body:    body,
	}
}

// DrawSettings is the message body for a settings call. Zero-valued
// fields retain the session's current setting.
type DrawSettings struct {
	Color   string    `json:"color,omitempty"`
	Width   float64   `json:"width,omitempty"`
	Delay   *Duration `json:"delay,omitempty"`
	Caption *string   `json:"caption,omitempty"`
}

// GenerateOptions is the message body for a generate call.
type GenerateOptions struct {
	// Wait indicates that the call should not return
	// until the animation has been assembled.
	Wait bool `json:"wait,omitempty"`
}

// GIF is an assembled animation. Data is base64 encoded
// on the wire.
type GIF struct {
	Name    string    `json:"name"`
	Data    []byte    `json:"data,omitempty"`
	Created time.Time `json:"created"`
}

// Frame is the message body for a frame call.
type Frame struct {
	Index   int       `json:"index"`
	Caption string    `json:"caption,omitempty"`
	Image   []byte    `json:"image,omitempty"` // PNG
	Time    time.Time `json:"time"`
}

// UnmarshalMessage is a strict equivalent of [json.Unmarshal].
func UnmarshalMessage[T any](data []byte, v *Message[T]) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err != nil {
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: err.Error(),
			Data:    encodeErrData(err, data),
		}
	}
	if dec.More() {
		off := dec.InputOffset()
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: fmt.Sprintf("invalid character "+quoteChar(data[off])+" after top-level value at offset %d", off),
			Data:    encodeErrData(&json.SyntaxError{Offset: off}, data),
		}
	}
	return nil
}

// encodeErrData return the JSON encoding for an error's extra data.
func encodeErrData(err error, data []byte) json.RawMessage {
	type extra struct {
		Type    int    `json:"type,omitempty"`
		Offset  int64  `json:"offset,omitempty"`
		Message []byte `json:"msg"`
	}
	e := extra{
		Message: data,
	}
	switch err := err.(type) {
	case nil:
		return nil
	case *json.SyntaxError:
		e.Type = ErrCodeMessageSyntax
		e.Offset = err.Offset
	case *json.UnmarshalTypeError:
		e.Type = ErrCodeMessageType
		e.Offset = err.Offset
	default:
		switch {
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			e.Type = ErrCodeShortMessage
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			e.Type = ErrCodeMessageUnknownField
		}
	}
	var buf bytes.Buffer
	dec := json.NewEncoder(&buf)
	dec.SetEscapeHTML(false)
	dec.Encode(e)
	return bytes.TrimSpace(buf.Bytes())
}

// NewError returns an error that will be encoded correctly in the RPC protocol.
func NewError(code int64, message string, data any) error {
	e := &jsonrpc2.WireError{
		Code:    code,
		Message: message,
	}
	e.Data = wireErrorData(data)
	return e
}

// AddWireErrorDetail updates the Data field of a [jsonrpc2.WireError] with the
// fields in details, overwriting fields if they already exist. If err is not a
// [jsonrpc2.WireError] or the Data field does not encode a map, the error  is
// returned unmodified.
func AddWireErrorDetail(err error, details map[string]any) error {
	if err, ok := err.(*jsonrpc2.WireError); ok {
		var data map[string]any
		if json.Unmarshal(err.Data, &data) != nil {
			return err
		}
		for k, v := range details {
			data[k] = v
		}
		err.Data = wireErrorData(data)
		return err
	}
	return err
}

func wireErrorData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	var buf bytes.Buffer
	dec := json.NewEncoder(&buf)
	dec.SetEscapeHTML(false)
	err := dec.Encode(data)
	if err != nil {
		b, _ := json.Marshal("!" + err.Error())
		return b
	}
	return bytes.TrimSpace(buf.Bytes())
}

// quoteChar formats c as a quoted character literal.
func quoteChar(c byte) string {
	// special cases - different from quoted strings
	if c == '\'' {
		return `'\''`
	}
	if c == '"' {
		return `'"'`
	}

	// use quoted string with different quotation marks
	s := strconv.Quote(string(c))
	return "'" + s[1:len(s)-1] + "'"
}

// None is an empty parameter or response slot.
type None struct{}

// Duration is a helper for duration fields.
type Duration struct {
	time.Duration
}

func (d *Duration) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	err := json.Unmarshal(data, &text)
	if err != nil {
		return err
	}
	d.Duration, err = time.ParseDuration(text)
	return err
}
