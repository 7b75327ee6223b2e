// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// FRAMING CONSTANTS
// =============================================================================

const (
	// DataPrefix marks a record that belongs to the decoder.
	DataPrefix = "data:"

	// DoneMarker is the terminal payload.
	DoneMarker = "[DONE]"

	// MaxLineSize bounds a single buffered record (1MB). A longer line is
	// dropped as an anomaly instead of growing the buffer without limit.
	MaxLineSize = 1 << 20
)

// =============================================================================
// FRAME AND ERRORS
// =============================================================================

// Frame is one decoded payload.
type Frame struct {
	// Content is an incremental text fragment.
	Content string `json:"content"`

	// Error is set when the server reports a failure. A present but empty
	// error field still counts as a failure.
	Error *string `json:"error,omitempty"`
}

// ErrStreamFailed is matched by every failure the server reports in-band.
var ErrStreamFailed = errors.New("stream failed")

// errDone stops a read loop once the terminal marker has been seen.
var errDone = errors.New("stream done")

// RemoteError is an explicit {"error": ...} payload.
type RemoteError struct {
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Message == "" {
		return ErrStreamFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrStreamFailed, e.Message)
}

// Is allows RemoteError to be compared with ErrStreamFailed.
func (e *RemoteError) Is(target error) bool {
	return target == ErrStreamFailed
}

// FrameFunc receives each decoded frame in arrival order. Returning an error
// aborts decoding.
type FrameFunc func(Frame) error

// =============================================================================
// DECODER
// =============================================================================

// Decoder splits a chunked byte stream into frames. It owns the partial
// line left over from the previous chunk and is used for one stream only.
type Decoder struct {
	buf       []byte
	done      bool
	anomalies int
	logger    *zap.Logger
}

// NewDecoder creates a decoder. A nil logger discards decode anomalies.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Done reports whether the terminal marker has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Anomalies returns the number of records that were skipped because their
// payload could not be decoded.
func (d *Decoder) Anomalies() int {
	return d.anomalies
}

// Buffered returns the number of bytes held back as an incomplete line.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Feed appends chunk to the buffer and emits a frame for every complete
// record. The trailing fragment after the last newline is kept for the
// next call.
//
// After the terminal marker Feed discards its input and returns nil. A
// remote error payload is returned as *RemoteError.
func (d *Decoder) Feed(chunk []byte, fn FrameFunc) error {
	if d.done {
		return nil
	}
	d.buf = append(d.buf, chunk...)

	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		if err := d.handleLine(line, fn); err != nil {
			if errors.Is(err, errDone) {
				d.done = true
				d.buf = nil
				return nil
			}
			return err
		}
	}

	if len(d.buf) > MaxLineSize {
		d.anomalies++
		d.logger.Warn("dropping oversized stream record", zap.Int("bytes", len(d.buf)))
		d.buf = nil
	}

	// Compact so a long stream does not pin the first chunk's array.
	if len(d.buf) == 0 {
		d.buf = nil
	} else if cap(d.buf) > 4*len(d.buf) && cap(d.buf) > 4096 {
		d.buf = append([]byte(nil), d.buf...)
	}
	return nil
}

// Flush treats any buffered fragment as a final record. It is called when
// the transport closes so a last record sent without a newline still
// counts.
func (d *Decoder) Flush(fn FrameFunc) error {
	if d.done || len(d.buf) == 0 {
		d.buf = nil
		return nil
	}
	line := d.buf
	d.buf = nil
	if err := d.handleLine(line, fn); err != nil {
		if errors.Is(err, errDone) {
			d.done = true
			return nil
		}
		return err
	}
	return nil
}

func (d *Decoder) handleLine(line []byte, fn FrameFunc) error {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		// Comments, event:, id:, retry: and blank separators.
		return nil
	}
	payload := line[len(DataPrefix):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}

	if string(bytes.TrimSpace(payload)) == DoneMarker {
		return errDone
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		d.anomalies++
		d.logger.Debug("skipping undecodable stream record",
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return nil
	}

	if frame.Error != nil {
		return &RemoteError{Message: *frame.Error}
	}

	return fn(frame)
}
