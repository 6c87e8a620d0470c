// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpparser

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
)

// ResponseParser incrementally recognizes and rewrites one HTTP/1
// response read from a buffer.Queue (spec §4.2).
type ResponseParser struct {
	State ResponseState

	Version    string
	StatusCode int
	Reason     string

	HasContentLength bool
	ContentLength    int64
	Chunked          bool
	conn             connectionDirective

	RequestMethod string // "HEAD" suppresses close-delimited detection
	RequestIsHTTP10 bool

	StickyName     string
	StickyBackendID string // if non-empty, a Set-Cookie is appended (spec §6)
	ClientHasSticky bool   // request already presented the correct sticky cookie

	requestID     string
	insertedID    bool
}

// NewResponseParser constructs a parser ready to consume the status line.
// requestMethod and requestIsHTTP10 come from the matching request and
// govern close-delimited detection (spec §4.2).
func NewResponseParser(requestMethod string, requestIsHTTP10 bool, stickyName, requestID string) *ResponseParser {
	return &ResponseParser{
		RequestMethod:   requestMethod,
		RequestIsHTTP10: requestIsHTTP10,
		StickyName:      stickyName,
		requestID:       requestID,
	}
}

func (p *ResponseParser) Step(q *buffer.Queue) error {
	for {
		switch p.State.Kind {
		case RespInitial, RespHasStatusLine, RespHasLength:
			if err := p.stepHeaders(q); err != nil {
				return err
			}
		case RespResponseWithBody:
			if err := p.stepFixedBody(q); err != nil {
				return err
			}
		case RespResponseWithBodyChunks:
			if err := p.stepChunkedBody(q); err != nil {
				return err
			}
		case RespResponseWithBodyCloseDelimited:
			// streams verbatim until the backend half-closes; the session
			// drives this by forwarding whatever arrives and calling
			// Step again, so there is nothing further to parse here.
			q.Advance(len(q.InputView()))
			return nil
		case RespResponse, RespResponseUpgrade, RespEnded:
			p.State.Kind = RespEnded
			return nil
		case RespError:
			return fmt.Errorf("httpparser: response parser in error state (was %s)", p.State.PrevKind)
		default:
			return fmt.Errorf("httpparser: unknown response state %d", p.State.Kind)
		}
	}
}

func (p *ResponseParser) fail(prev ResponseKind) error {
	p.State = ResponseState{Kind: RespError, PrevKind: prev}
	return fmt.Errorf("httpparser: malformed response in state %s", prev)
}

func (p *ResponseParser) stepHeaders(q *buffer.Queue) error {
	view := q.InputView()
	lineLen, ok := findLine(view)
	if !ok {
		return NeedMore
	}
	line := view[:lineLen]

	if p.State.Kind == RespInitial {
		if err := p.parseStatusLine(line[:lineLen-len(crlf)]); err != nil {
			return p.fail(RespInitial)
		}
		q.Advance(lineLen)
		p.State.Kind = RespHasStatusLine
		return nil
	}

	if lineLen == len(crlf) {
		return p.finishHeaders(q)
	}

	h, ok := parseHeaderLine(line, lineLen)
	if !ok {
		return p.fail(p.State.Kind)
	}
	return p.consumeHeader(q, h, lineLen)
}

func (p *ResponseParser) parseStatusLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) < 2 {
		return fmt.Errorf("httpparser: malformed status line")
	}
	p.Version = string(parts[0])
	code, err := strconv.Atoi(string(parts[1]))
	if err != nil {
		return fmt.Errorf("httpparser: malformed status code: %w", err)
	}
	p.StatusCode = code
	if len(parts) == 3 {
		p.Reason = string(parts[2])
	}
	return nil
}

func (p *ResponseParser) consumeHeader(q *buffer.Queue, h parsedHeader, lineLen int) error {
	switch {
	case asciiEqualFold(h.Name, "content-length"):
		n, ok := parseContentLength(h.Value)
		if !ok {
			return p.fail(p.State.Kind)
		}
		p.ContentLength = n
		p.HasContentLength = true
		q.Advance(lineLen)
		if p.State.Kind == RespHasStatusLine {
			p.State.Kind = RespHasLength
		}
		return nil

	case asciiEqualFold(h.Name, "transfer-encoding"):
		if isChunkedTransferEncoding(h.Value) {
			p.Chunked = true
		}
		q.Advance(lineLen)
		if p.State.Kind == RespHasStatusLine {
			p.State.Kind = RespHasLength
		}
		return nil

	case asciiEqualFold(h.Name, "connection"):
		p.conn.add(h.Value)
		q.ApplyEdit(buffer.Delete(lineLen))
		return nil

	case asciiEqualFold(h.Name, "sozu-id"):
		q.ApplyEdit(buffer.Delete(lineLen))
		return nil

	case asciiEqualFold(h.Name, "set-cookie"):
		if setCookieIsSticky(h.Value, p.StickyName) {
			q.ApplyEdit(buffer.Delete(lineLen))
			return nil
		}
		q.Advance(lineLen)
		return nil

	case asciiEqualFold(h.Name, "upgrade"):
		q.Advance(lineLen)
		return nil

	default:
		if p.conn.shouldDeleteToken(h.Name) {
			q.ApplyEdit(buffer.Delete(lineLen))
			return nil
		}
		q.Advance(lineLen)
		return nil
	}
}

// isCloseDelimited reports whether, per spec §4.2, this response has
// neither Content-Length nor chunked Transfer-Encoding and is not one of
// the HEAD/1xx/204/304 cases excepted from close-delimiting.
func (p *ResponseParser) isCloseDelimited() bool {
	if p.HasContentLength || p.Chunked {
		return false
	}
	if p.RequestMethod == "HEAD" {
		return false
	}
	if p.StatusCode/100 == 1 || p.StatusCode == 204 || p.StatusCode == 304 {
		return false
	}
	return true
}

func (p *ResponseParser) finishHeaders(q *buffer.Queue) error {
	if !p.insertedID {
		q.ApplyEdit(buffer.Insert([]byte(fmt.Sprintf("Sozu-Id: %s\r\n", p.requestID))))
		if p.StickyBackendID != "" && !p.ClientHasSticky && p.StickyName != "" {
			q.ApplyEdit(buffer.Insert([]byte(fmt.Sprintf("Set-Cookie: %s=%s; Path=/\r\n", p.StickyName, p.StickyBackendID))))
		}
		p.insertedID = true
	}
	q.Advance(len(crlf))

	switch {
	case p.StatusCode == 101:
		p.State = ResponseState{Kind: RespResponseUpgrade}
	case p.Chunked:
		p.State = ResponseState{Kind: RespResponseWithBodyChunks, Chunk: ChunkState{Kind: ChunkInitial}}
	case p.HasContentLength && p.ContentLength > 0:
		p.State = ResponseState{Kind: RespResponseWithBody, RemainingBody: p.ContentLength}
	case p.isCloseDelimited():
		p.State = ResponseState{Kind: RespResponseWithBodyCloseDelimited}
	default:
		p.State = ResponseState{Kind: RespResponse}
	}
	return nil
}

func (p *ResponseParser) stepFixedBody(q *buffer.Queue) error {
	view := q.InputView()
	if len(view) == 0 {
		if p.State.RemainingBody == 0 {
			p.State.Kind = RespEnded
			return nil
		}
		return NeedMore
	}
	n := int64(len(view))
	if n > p.State.RemainingBody {
		n = p.State.RemainingBody
	}
	q.Advance(int(n))
	p.State.RemainingBody -= n
	if p.State.RemainingBody == 0 {
		p.State.Kind = RespEnded
	}
	return nil
}

func (p *ResponseParser) stepChunkedBody(q *buffer.Queue) error {
	view := q.InputView()
	newCS, err := stepChunk(q, view, p.State.Chunk)
	if err != nil {
		if err == NeedMore {
			return NeedMore
		}
		return p.fail(p.State.Kind)
	}
	p.State.Chunk = newCS
	if newCS.Kind == ChunkEnded {
		p.State.Kind = RespEnded
	}
	return nil
}

// KeepAlive mirrors RequestParser.KeepAlive for the response direction.
func (p *ResponseParser) KeepAlive() bool {
	if p.conn.hasClose {
		return false
	}
	if p.Version == "HTTP/1.1" {
		return true
	}
	return p.conn.hasKeepAlive
}
