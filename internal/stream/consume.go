// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

// DefaultReadSize is the size of each read from the transport.
const DefaultReadSize = 4096

// =============================================================================
// RESULT AND ERROR
// =============================================================================

// Result describes a completed stream.
type Result struct {
	// Text is the full reply. Empty is a valid reply.
	Text string

	// Fragments is the number of content fragments received.
	Fragments int

	// Anomalies counts records skipped as undecodable.
	Anomalies int

	// SawDone is false when the transport closed without the terminal marker.
	SawDone bool

	// FirstByte is the delay until the first byte arrived.
	FirstByte time.Duration

	// Duration is the total time spent reading.
	Duration time.Duration
}

// Error is a failed stream. Partial holds the text received before the
// failure so callers can keep it.
type Error struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// PartialText extracts the partial reply from a stream error, if any.
func PartialText(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Partial
	}
	return ""
}

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	logger      *zap.Logger
	readSize    int
	onFirstByte func()
}

// Option configures Consume.
type Option func(*options)

// WithLogger sets the logger used for decode anomalies.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithReadSize sets the transport read size.
func WithReadSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readSize = n
		}
	}
}

// WithFirstByte registers a hook that runs once when the first byte arrives.
func WithFirstByte(fn func()) Option {
	return func(o *options) { o.onFirstByte = fn }
}

// =============================================================================
// CONSUME
// =============================================================================

// Consume reads r to completion, decoding frames and folding their content.
// onProgress runs synchronously after every fragment, in arrival order.
//
// It returns after the terminal marker, on transport EOF, on a remote error
// payload, on a read error, or when ctx is cancelled. Failures are returned
// as *Error carrying the partial text.
func Consume(ctx context.Context, r io.Reader, onProgress ProgressFunc, opts ...Option) (Result, error) {
	o := options{readSize: DefaultReadSize}
	for _, opt := range opts {
		opt(&o)
	}

	dec := NewDecoder(o.logger)
	acc := NewAccumulator(onProgress)
	frameFn := acc.FrameFunc()

	start := time.Now()
	var res Result
	finish := func(err error) (Result, error) {
		res.Text = acc.Text()
		res.Fragments = acc.Fragments()
		res.Anomalies = dec.Anomalies()
		res.SawDone = dec.Done()
		res.Duration = time.Since(start)
		if err != nil {
			return res, &Error{Partial: res.Text, Err: err}
		}
		return res, nil
	}

	buf := make([]byte, o.readSize)
	gotByte := false
	for {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if !gotByte {
				gotByte = true
				res.FirstByte = time.Since(start)
				if o.onFirstByte != nil {
					o.onFirstByte()
				}
			}
			if err := dec.Feed(buf[:n], frameFn); err != nil {
				return finish(err)
			}
			if dec.Done() {
				return finish(nil)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if err := dec.Flush(frameFn); err != nil {
					return finish(err)
				}
				return finish(nil)
			}
			// A cancelled request surfaces as a read error on the body.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(ctxErr)
			}
			return finish(readErr)
		}
	}
}
