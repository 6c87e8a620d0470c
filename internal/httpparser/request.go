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
	"strings"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
	"github.com/edgeproxy/edgeproxy/internal/errs"
)

// RequestParser incrementally recognizes and rewrites one HTTP/1 request
// read from a buffer.Queue (spec §4.2). A single instance handles exactly
// one request; Session.reset() constructs a fresh one for the next
// pipelined request.
type RequestParser struct {
	State RequestState

	Method  string
	Path    string
	Version string // "HTTP/1.0" or "HTTP/1.1"
	Host    string

	HasContentLength bool
	ContentLength    int64
	Chunked          bool
	Expect100        bool
	Upgrade          bool
	UpgradeProtocol  string
	conn             connectionDirective

	// StickyName is the cookie name identifying sticky-session affinity;
	// empty disables sticky rewriting for this listener.
	StickyName string
	// StickyBackendID is the backend id the client's sticky cookie named,
	// captured before the cookie is stripped from the forwarded request,
	// so Cluster.Select can honor it (spec §4.4).
	StickyBackendID string
	// ForwardedFix mirrors the feature flag from spec §4.2: when true,
	// existing Forwarded/X-Forwarded-*/Sozu-Id headers from the client
	// are retained alongside the synthesized block; when false (default)
	// they are deleted before insertion.
	ForwardedFix bool

	forwarding    ForwardingInfo
	serverName    string
	insertedBlock bool
}

// NewRequestParser constructs a parser ready to consume the request line.
func NewRequestParser(stickyName string, forwardedFix bool, forwarding ForwardingInfo, serverName string) *RequestParser {
	return &RequestParser{
		StickyName:   stickyName,
		ForwardedFix: forwardedFix,
		forwarding:   forwarding,
		serverName:   serverName,
	}
}

// Step consumes as much of q's current input view as forms complete units
// of work (the request line, one header at a time, or some body/chunk
// progress), applying edits to q as it goes. It returns NeedMore when the
// view is exhausted before a full unit is available.
func (p *RequestParser) Step(q *buffer.Queue) error {
	for {
		switch p.State.Kind {
		case ReqInitial, ReqHasRequestLine, ReqHasHost, ReqHasLength, ReqHasHostAndLength:
			if err := p.stepHeaders(q); err != nil {
				return err
			}
		case ReqRequestWithBody:
			if err := p.stepFixedBody(q); err != nil {
				return err
			}
		case ReqRequestWithBodyChunks:
			if err := p.stepChunkedBody(q); err != nil {
				return err
			}
		case ReqRequest, ReqEnded:
			p.State.Kind = ReqEnded
			return nil
		case ReqError:
			return fmt.Errorf("httpparser: request parser in error state (was %s)", p.State.PrevKind)
		default:
			return fmt.Errorf("httpparser: unknown request state %d", p.State.Kind)
		}
	}
}

func (p *RequestParser) fail(prev RequestKind) error {
	p.State = RequestState{Kind: ReqError, PrevKind: prev}
	return fmt.Errorf("httpparser: malformed request in state %s", prev)
}

// stepHeaders handles the request line and each subsequent header line,
// one per call to findLine, transitioning through HasRequestLine ->
// (HasHost|HasLength|HasHostAndLength) -> a terminal Request* kind.
func (p *RequestParser) stepHeaders(q *buffer.Queue) error {
	view := q.InputView()
	lineLen, ok := findLine(view)
	if !ok {
		if q.Full() {
			return fmt.Errorf("httpparser: %w: request headers exceed buffer capacity", errs.ErrPayloadTooLarge)
		}
		return NeedMore
	}
	line := view[:lineLen]

	if p.State.Kind == ReqInitial {
		if err := p.parseRequestLine(line[:lineLen-len(crlf)]); err != nil {
			return p.fail(ReqInitial)
		}
		q.Advance(lineLen)
		p.State.Kind = ReqHasRequestLine
		return nil
	}

	// blank line: end of headers
	if lineLen == len(crlf) {
		return p.finishHeaders(q)
	}

	h, ok := parseHeaderLine(line, lineLen)
	if !ok {
		return p.fail(p.State.Kind)
	}
	return p.consumeHeader(q, h, lineLen)
}

func (p *RequestParser) parseRequestLine(line []byte) error {
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return fmt.Errorf("httpparser: malformed request line")
	}
	p.Method = string(parts[0])
	p.Path = string(parts[1])
	p.Version = string(parts[2])
	if p.Version != "HTTP/1.0" && p.Version != "HTTP/1.1" {
		return fmt.Errorf("httpparser: unsupported version %q", p.Version)
	}
	return nil
}

func (p *RequestParser) consumeHeader(q *buffer.Queue, h parsedHeader, lineLen int) error {
	switch {
	case asciiEqualFold(h.Name, "host"):
		p.Host = h.Value
		q.Advance(lineLen)
		p.advanceAfterHostOrLength(true, p.HasContentLength || p.Chunked)
		return nil

	case asciiEqualFold(h.Name, "content-length"):
		n, ok := parseContentLength(h.Value)
		if !ok {
			return p.fail(p.State.Kind)
		}
		p.ContentLength = n
		p.HasContentLength = true
		q.Advance(lineLen)
		p.advanceAfterHostOrLength(p.Host != "", true)
		return nil

	case asciiEqualFold(h.Name, "transfer-encoding"):
		if isChunkedTransferEncoding(h.Value) {
			p.Chunked = true
		}
		q.Advance(lineLen)
		p.advanceAfterHostOrLength(p.Host != "", true)
		return nil

	case asciiEqualFold(h.Name, "connection"):
		p.conn.add(h.Value)
		q.ApplyEdit(buffer.Delete(lineLen))
		return nil

	case asciiEqualFold(h.Name, "sozu-id"):
		// a client-supplied Sozu-Id is always stripped; we mint our own.
		q.ApplyEdit(buffer.Delete(lineLen))
		return nil

	case asciiEqualFold(h.Name, "expect"):
		if asciiEqualFold(strings.TrimSpace(h.Value), "100-continue") {
			p.Expect100 = true
		}
		q.Advance(lineLen)
		return nil

	case asciiEqualFold(h.Name, "upgrade"):
		p.Upgrade = true
		p.UpgradeProtocol = h.Value
		q.Advance(lineLen)
		return nil

	case asciiEqualFold(h.Name, "cookie"):
		return p.rewriteCookie(q, h, lineLen)

	case isForwardingHeader(h.Name):
		if p.ForwardedFix {
			q.Advance(lineLen)
		} else {
			q.ApplyEdit(buffer.Delete(lineLen))
		}
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

func (p *RequestParser) rewriteCookie(q *buffer.Queue, h parsedHeader, lineLen int) error {
	rewritten, stickyValue, removed := rewriteCookieHeader(h.Value, p.StickyName)
	if !removed {
		q.Advance(lineLen)
		return nil
	}
	p.StickyBackendID = stickyValue
	q.ApplyEdit(buffer.Delete(lineLen))
	if rewritten != "" {
		q.ApplyEdit(buffer.Insert([]byte(fmt.Sprintf("Cookie: %s\r\n", rewritten))))
	}
	return nil
}

// advanceAfterHostOrLength updates State.Kind once Host and/or
// length-determining headers (Content-Length or chunked
// Transfer-Encoding) have been seen, per the HasHost/HasLength/
// HasHostAndLength progression in spec §4.2.
func (p *RequestParser) advanceAfterHostOrLength(hasHost, hasLength bool) {
	switch {
	case hasHost && hasLength:
		p.State.Kind = ReqHasHostAndLength
	case hasHost:
		p.State.Kind = ReqHasHost
	case hasLength:
		p.State.Kind = ReqHasLength
	}
}

func (p *RequestParser) finishHeaders(q *buffer.Queue) error {
	if p.Host == "" {
		return fmt.Errorf("httpparser: %w", errs.ErrNoHostGiven)
	}
	if !p.insertedBlock {
		q.ApplyEdit(buffer.Insert(BuildForwardedBlock(p.forwarding, p.serverName)))
		p.insertedBlock = true
	}
	q.Advance(len(crlf)) // the blank line itself

	switch {
	case p.Chunked:
		p.State = RequestState{Kind: ReqRequestWithBodyChunks, Chunk: ChunkState{Kind: ChunkInitial}}
	case p.HasContentLength && p.ContentLength > 0:
		p.State = RequestState{Kind: ReqRequestWithBody, RemainingBody: p.ContentLength}
	default:
		p.State = RequestState{Kind: ReqRequest}
	}
	return nil
}

func (p *RequestParser) stepFixedBody(q *buffer.Queue) error {
	view := q.InputView()
	if len(view) == 0 {
		if p.State.RemainingBody == 0 {
			p.State.Kind = ReqEnded
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
		p.State.Kind = ReqEnded
	}
	return nil
}

func (p *RequestParser) stepChunkedBody(q *buffer.Queue) error {
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
		p.State.Kind = ReqEnded
	}
	return nil
}

// KeepAlive reports whether the connection should be kept open after this
// request completes, per spec §4.7: HTTP/1.1 defaults to keep-alive
// unless Connection: close was sent; HTTP/1.0 requires an explicit
// Connection: keep-alive.
func (p *RequestParser) KeepAlive() bool {
	if p.conn.hasClose {
		return false
	}
	if p.Version == "HTTP/1.1" {
		return true
	}
	return p.conn.hasKeepAlive
}
