// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// STREAMING: Incremental SSE decoding with per-frame error isolation

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// MaxLineSize is the longest SSE line the decoder buffers before giving up.
	MaxLineSize = 1024 * 1024

	// DefaultMaxTokens is the completion budget sent with every request.
	DefaultMaxTokens = 4000
)

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// ErrLineTooLong is returned when an SSE line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("stream line exceeds maximum size")

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is one entry of the outbound message list.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReasoningOptions controls reasoning traces in the response.
type ReasoningOptions struct {
	Exclude bool `json:"exclude"`
}

// CompletionRequest is the body of a streaming chat-completions request.
// Sampling fields are always sent, including zero values.
type CompletionRequest struct {
	Model            string           `json:"model"`
	Messages         []ChatMessage    `json:"messages"`
	Temperature      float64          `json:"temperature"`
	Stream           bool             `json:"stream"`
	FrequencyPenalty float64          `json:"frequency_penalty"`
	PresencePenalty  float64          `json:"presence_penalty"`
	MaxTokens        int              `json:"max_tokens"`
	Reasoning        ReasoningOptions `json:"reasoning"`
}

// =============================================================================
// FRAME TYPES
// =============================================================================

// DeltaKind says which accumulator a frame's delta belongs to.
type DeltaKind int

const (
	DeltaNone DeltaKind = iota
	DeltaReasoning
	DeltaContent
)

// String returns the kind name used in logs and metrics.
func (k DeltaKind) String() string {
	switch k {
	case DeltaReasoning:
		return "reasoning"
	case DeltaContent:
		return "content"
	default:
		return "none"
	}
}

// Frame is one decoded JSON payload from the stream.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Model   string          `json:"model,omitempty"`
	Choices []FrameChoice   `json:"choices"`
	Usage   json.RawMessage `json:"usage,omitempty"`
	Error   *FrameAPIError  `json:"error,omitempty"`
}

// FrameChoice is one choice of a frame.
type FrameChoice struct {
	Delta        FrameDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason,omitempty"`
}

// FrameDelta carries the incremental text of a choice.
type FrameDelta struct {
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// FrameAPIError is an error reported inside an otherwise successful stream.
type FrameAPIError struct {
	Code    json.RawMessage `json:"code,omitempty"`
	Message string          `json:"message"`
}

// Delta returns the frame's delta. Reasoning wins when a frame carries both;
// DeltaNone is returned when there is no text.
func (f *Frame) Delta() (DeltaKind, string) {
	if len(f.Choices) == 0 {
		return DeltaNone, ""
	}
	d := f.Choices[0].Delta
	if d.Reasoning != "" {
		return DeltaReasoning, d.Reasoning
	}
	if d.Content != "" {
		return DeltaContent, d.Content
	}
	return DeltaNone, ""
}

// HasUsage reports whether the frame carries a usage object.
func (f *Frame) HasUsage() bool {
	return len(f.Usage) > 0 && !bytes.Equal(bytes.TrimSpace(f.Usage), []byte("null"))
}

// FinishReason returns the first choice's finish reason, if any.
func (f *Frame) FinishReason() string {
	if len(f.Choices) == 0 || f.Choices[0].FinishReason == nil {
		return ""
	}
	return *f.Choices[0].FinishReason
}

// FrameError describes a frame that could not be used.
type FrameError struct {
	// Payload is the offending data, truncated for logging.
	Payload string
	// Message is the in-stream API error message, if the frame carried one.
	Message string
	Err     error
}

// Error implements the error interface.
func (e *FrameError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("stream error: %s", e.Message)
	}
	return fmt.Sprintf("malformed frame %q: %v", e.Payload, e.Err)
}

// Unwrap returns the underlying error.
func (e *FrameError) Unwrap() error {
	return e.Err
}

// ParseFrame decodes a frame payload. A payload that is not a JSON object is
// rejected.
func ParseFrame(payload []byte) (*Frame, error) {
	if !utf8.Valid(payload) {
		return nil, &FrameError{Payload: truncatePayload(payload), Err: errors.New("invalid UTF-8")}
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, &FrameError{Payload: truncatePayload(payload), Err: err}
	}
	return &f, nil
}

func truncatePayload(p []byte) string {
	const max = 120
	if len(p) <= max {
		return string(p)
	}
	return string(p[:max]) + "..."
}

// =============================================================================
// FRAME DECODER
// =============================================================================

// EventKind classifies a decoder output.
type EventKind int

const (
	// EventFrame carries a parsed Frame.
	EventFrame EventKind = iota
	// EventDone is the [DONE] sentinel.
	EventDone
	// EventMalformed is a data line that failed to parse; Err is set.
	EventMalformed
)

// Event is one meaningful line produced by the decoder.
type Event struct {
	Kind  EventKind
	Frame *Frame
	Err   error
}

// FrameDecoder splits raw stream bytes into SSE lines and decodes the data
// lines. Bytes after the last newline are held until the next Feed, so a
// frame or a multi-byte character split across reads is reassembled.
//
// Lines without the "data: " prefix (comments, event names, keep-alives) are
// ignored. A FrameDecoder is not safe for concurrent use.
type FrameDecoder struct {
	buf  []byte
	done bool
}

// NewFrameDecoder creates an empty decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed consumes a chunk of bytes and returns the events for every complete
// line in it. After EventDone has been produced all further input is
// ignored. ErrLineTooLong is returned when a line grows past MaxLineSize.
func (d *FrameDecoder) Feed(p []byte) ([]Event, error) {
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		ev, ok := d.decodeLine(line)
		d.buf = d.buf[i+1:]
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Kind == EventDone {
			d.done = true
			d.buf = nil
			return events, nil
		}
	}

	if len(d.buf) > MaxLineSize {
		d.buf = nil
		return events, ErrLineTooLong
	}
	// Compact so the backing array does not grow without bound.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return events, nil
}

// Flush decodes any unterminated final line. Call it once at end of stream.
func (d *FrameDecoder) Flush() []Event {
	if d.done || len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	ev, ok := d.decodeLine(line)
	if !ok {
		return nil
	}
	if ev.Kind == EventDone {
		d.done = true
	}
	return []Event{ev}
}

// Done reports whether the [DONE] sentinel has been seen.
func (d *FrameDecoder) Done() bool {
	return d.done
}

// Pending returns the number of buffered bytes of an incomplete line.
func (d *FrameDecoder) Pending() int {
	return len(d.buf)
}

func (d *FrameDecoder) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := line[len(dataPrefix):]
	if bytes.Equal(bytes.TrimSpace(payload), doneMarker) {
		return Event{Kind: EventDone}, true
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return Event{}, false
	}

	frame, err := ParseFrame(payload)
	if err != nil {
		return Event{Kind: EventMalformed, Err: err}, true
	}
	return Event{Kind: EventFrame, Frame: frame}, true
}
