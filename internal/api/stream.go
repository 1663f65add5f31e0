// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// ======
// STREAMING QUERY TRANSPORT
// ======
//
// The backend answers /query with an event stream: newline-separated
// lines, the interesting ones prefixed "data: " and carrying a JSON
// frame. A frame holds a content delta (under either of two field
// names), a completion marker that may mint the conversation id, or an
// error. The stream ends at transport EOF; there is no END frame.

// QueryRequest is the body of a streaming /query call.
type QueryRequest struct {
	Query          string `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language"`
	Stream         bool   `json:"stream"`
}

// StreamEvent is one decoded unit delivered to the caller. Exactly one
// terminal event arrives per stream: Done on clean EOF, or Err.
type StreamEvent struct {
	// Content is a text delta to append to the assistant message.
	Content string

	// ConversationID is set when a completion frame minted an id for a
	// conversation that did not exist before this query.
	ConversationID string

	// Done marks clean end of stream.
	Done bool

	// Err marks stream failure. Partial content already delivered must
	// be rolled back by the caller.
	Err error
}

// streamFrame is the wire shape of one "data: " line. The backend uses
// content and response_chunk interchangeably for deltas.
type streamFrame struct {
	Content        *string `json:"content"`
	ResponseChunk  *string `json:"response_chunk"`
	Status         string  `json:"status"`
	ConversationID string  `json:"conversation_id"`
	Error          string  `json:"error"`
	Detail         string  `json:"detail"`
}

func (f *streamFrame) delta() (string, bool) {
	if f.Content != nil {
		return *f.Content, true
	}
	if f.ResponseChunk != nil {
		return *f.ResponseChunk, true
	}
	return "", false
}

func (f *streamFrame) errorText() string {
	if f.Error != "" {
		return f.Error
	}
	return f.Detail
}

// Query issues a streaming query. Setup failures (request, status,
// content type) return a synchronous error and no channel; after that,
// all outcomes arrive as events, ending with exactly one terminal
// event on every path. Cancel ctx to abort; the abort surfaces as a
// terminal Err event, never as a bare channel close.
func (c *Client) Query(ctx context.Context, q QueryRequest) (<-chan StreamEvent, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.setHeaders(req, true); err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}

	// RELIABILITY: A non-event-stream content type means the body is
	// not frame-structured. Interpreting it as JSON would corrupt the
	// message list, so the call fails here and is never retried.
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: expected event stream, got %q", ErrProtocol, contentType)
	}

	events := make(chan StreamEvent, 64)
	go c.readStream(ctx, resp.Body, events)
	return events, nil
}

// readStream consumes the response body, decodes frames, and delivers
// events in arrival order.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer body.Close()
	defer close(events)

	// RELIABILITY: Terminal events bypass the cancellation select. A
	// select racing a buffered channel against ctx.Done can drop the
	// terminal event on abort, and an aborted stream that closes with
	// no terminal event reads as a clean completion to the caller. The
	// channel is drained to its terminal event by the consumer, so the
	// unconditional send cannot block indefinitely.
	terminal := func(ev StreamEvent) {
		events <- ev
	}

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		dec     utf8Decoder
		lineBuf strings.Builder
		buf     = make([]byte, 4096)
	)

	// processText returns false once the stream is finished; the
	// terminal event has already been delivered by then.
	processText := func(text string) bool {
		for {
			idx := strings.IndexByte(text, '\n')
			if idx < 0 {
				lineBuf.WriteString(text)
				return true
			}
			lineBuf.WriteString(text[:idx])
			line := lineBuf.String()
			lineBuf.Reset()
			text = text[idx+1:]

			ev, ok := c.parseLine(line)
			if !ok {
				continue
			}
			if ev.Err != nil {
				terminal(ev)
				return false
			}
			if !send(ev) {
				terminal(StreamEvent{Err: ctx.Err()})
				return false
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			terminal(StreamEvent{Err: ctx.Err()})
			return
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			if !processText(dec.decode(buf[:n])) {
				return
			}
		}
		if err == io.EOF {
			// Flush any final unterminated line
			if !processText(dec.flush() + "\n") {
				return
			}
			terminal(StreamEvent{Done: true})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				terminal(StreamEvent{Err: ctx.Err()})
				return
			}
			terminal(StreamEvent{Err: fmt.Errorf("%w: %v", ErrNetwork, err)})
			return
		}
	}
}

// parseLine decodes one logical line into an event. Lines without the
// data prefix carry no frame; malformed frame JSON is logged and
// skipped rather than aborting the stream.
func (c *Client) parseLine(line string) (StreamEvent, bool) {
	line = strings.TrimSuffix(line, "\r")
	if line == "" {
		return StreamEvent{}, false
	}
	payload, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		return StreamEvent{}, false
	}

	var frame streamFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		c.log.Debug().Err(err).Str("line", line).Msg("skipping malformed stream frame")
		return StreamEvent{}, false
	}

	if msg := frame.errorText(); msg != "" {
		return StreamEvent{Err: &APIError{Detail: msg}}, true
	}
	if delta, ok := frame.delta(); ok {
		return StreamEvent{Content: delta}, true
	}
	if frame.Status == "complete" {
		return StreamEvent{ConversationID: frame.ConversationID}, true
	}
	c.log.Debug().Str("line", line).Msg("ignoring unrecognized stream frame")
	return StreamEvent{}, false
}

// ======
// UTF-8 CHUNK DECODING
// ======

// utf8Decoder converts raw read chunks to text while carrying partial
// multi-byte sequences over to the next chunk. Chunk boundaries land
// anywhere, including inside a rune; decoding each chunk in isolation
// would emit replacement characters mid-word.
type utf8Decoder struct {
	carry []byte
}

func (d *utf8Decoder) decode(p []byte) string {
	data := p
	if len(d.carry) > 0 {
		data = append(d.carry, p...)
	}

	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}

	d.carry = append([]byte(nil), data[cut:]...)
	return string(data[:cut])
}

// flush returns whatever bytes remain. Called at EOF; a dangling
// partial sequence decodes to replacement characters, which is the
// best available rendering of a truncated stream.
func (d *utf8Decoder) flush() string {
	s := string(d.carry)
	d.carry = nil
	return s
}
