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

// Package session implements the per-connection state machine: proxy
// protocol detection, TLS handshake, HTTP request/response pumping, and
// the WebSocket/pipe fallback once a connection upgrades (spec §4.7-§4.9).
package session

import (
	"net"
	"time"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
	"github.com/edgeproxy/edgeproxy/internal/errs"
	"github.com/edgeproxy/edgeproxy/internal/httpparser"
)

// Phase is the top-level state from spec §4.7: Expect (proxy protocol) ->
// Handshake (TLS) -> Http -> WebSocket/Pipe, grounded on
// original_source/lib/src/protocol/http/mod.rs's Http struct plus
// lib/src/protocol/pipe.rs for the post-upgrade byte-pump phase.
type Phase int

const (
	PhaseExpect Phase = iota
	PhaseHandshake
	PhaseHTTP
	PhasePipe
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseExpect:
		return "expect"
	case PhaseHandshake:
		return "handshake"
	case PhaseHTTP:
		return "http"
	case PhasePipe:
		return "pipe"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// AnswerStatus names the canned response a session falls back to instead
// of proxying, mirroring original_source's DefaultAnswerStatus enum.
type AnswerStatus int

const (
	AnswerNone AnswerStatus = iota
	Answer301
	Answer400
	Answer404
	Answer408
	Answer413
	Answer503
	Answer504
)

// TimeoutKind distinguishes which timer fired, mirroring
// original_source's TimeoutStatus enum (Request/Response/
// WaitingForNewRequest), extended with Connect. There are no separate
// Front/Back timeout kinds.
type TimeoutKind int

const (
	TimeoutRequest TimeoutKind = iota
	TimeoutResponse
	TimeoutWaitingForNewRequest
	TimeoutConnect
)

// Timeouts holds the per-phase deadlines spec §4.7 requires.
type Timeouts struct {
	Connect          time.Duration
	Request          time.Duration
	Response         time.Duration
	WaitingForNewReq time.Duration
}

// DefaultTimeouts matches the conservative defaults used throughout the
// pack's HTTP server setups (30s connect, 10s request headers, 60s
// response, 20s idle keep-alive wait).
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:          30 * time.Second,
		Request:          10 * time.Second,
		Response:         60 * time.Second,
		WaitingForNewReq: 20 * time.Second,
	}
}

// maxPipelinedRequests bounds how many requests a single kept-alive
// connection may serve before the session forces a close, the
// loop-safety cap spec §4.7 requires to prevent a pathological client
// from holding a reactor slot forever.
const maxPipelinedRequests = 10000

// Session is the per-connection state machine. One Session owns exactly
// one frontend net.Conn and, once routed, one backend net.Conn.
type Session struct {
	Phase Phase
	ID    string // Sozu-Id / request id, minted fresh per request

	Frontend net.Conn
	Backend  net.Conn

	FrontBuf *buffer.Queue
	BackBuf  *buffer.Queue

	Request  *httpparser.RequestParser
	Response *httpparser.ResponseParser

	Answer        AnswerStatus
	StickyName    string
	StickyBackend string

	ClusterID string
	BackendID string

	Timeouts      Timeouts
	pipelineCount int

	closed bool
}

// New constructs a Session in PhaseExpect for a freshly accepted frontend
// connection. frontBuf/backBuf are checked out from a shared buffer.Pool
// by the caller (internal/worker), following
// original_source/lib/src/protocol/http/mod.rs's Http struct holding
// front_buf/back_buf as pool-backed BufferQueues.
func New(frontend net.Conn, frontBuf, backBuf *buffer.Queue, timeouts Timeouts) *Session {
	return &Session{
		Phase:    PhaseExpect,
		Frontend: frontend,
		FrontBuf: frontBuf,
		BackBuf:  backBuf,
		Timeouts: timeouts,
	}
}

// BeginRequest constructs a fresh RequestParser for the next request on
// this connection, called once after proxy-protocol/TLS setup and again
// after each keep-alive reset.
func (s *Session) BeginRequest(stickyName string, forwardedFix bool, forwarding httpparser.ForwardingInfo, serverName string) {
	s.StickyName = stickyName
	s.Request = httpparser.NewRequestParser(stickyName, forwardedFix, forwarding, serverName)
}

// BeginResponse constructs the matching ResponseParser once the request
// has been fully read and a backend chosen.
func (s *Session) BeginResponse(stickyName, stickyBackend, requestID string) {
	s.Response = httpparser.NewResponseParser(s.Request.Method, s.Request.Version == "HTTP/1.0", stickyName, requestID)
	s.Response.StickyBackendID = stickyBackend
}

// reset prepares the session for the next pipelined request on the same
// kept-alive connection: buffers are compacted (not reallocated) and the
// parsers are dropped so BeginRequest starts clean. Returns false once
// maxPipelinedRequests is reached, signaling the caller to close instead
// (spec §4.7's loop-safety cap).
func (s *Session) reset() bool {
	s.pipelineCount++
	if s.pipelineCount >= maxPipelinedRequests {
		return false
	}
	s.FrontBuf.Compact()
	s.BackBuf.Compact()
	s.Request = nil
	s.Response = nil
	s.ClusterID = ""
	s.BackendID = ""
	s.Answer = AnswerNone
	s.Phase = PhaseHTTP
	return true
}

// CanKeepAlive reports whether both the request and response agreed to
// keep the connection open and the pipeline cap hasn't been hit.
func (s *Session) CanKeepAlive() bool {
	if s.Request == nil || s.Response == nil {
		return false
	}
	if !s.Request.KeepAlive() || !s.Response.KeepAlive() {
		return false
	}
	return s.pipelineCount+1 < maxPipelinedRequests
}

// Advance drives the session to the next request on a kept-alive
// connection, or closes it out. Call after a response has fully been
// forwarded.
func (s *Session) Advance() bool {
	if !s.CanKeepAlive() {
		s.Phase = PhaseClosed
		return false
	}
	return s.reset()
}

// EnterUpgrade transitions a session whose response carried Upgrade (e.g.
// a 101 Switching Protocols for WebSocket) into PhasePipe, after which the
// session no longer parses HTTP and instead splices bytes bidirectionally
// (original_source lib/src/protocol/pipe.rs).
func (s *Session) EnterUpgrade() {
	s.Phase = PhasePipe
}

// Close marks the session closed and releases both connections. Safe to
// call multiple times.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.Phase = PhaseClosed
	var err error
	if s.Frontend != nil {
		err = s.Frontend.Close()
	}
	if s.Backend != nil {
		if berr := s.Backend.Close(); err == nil {
			err = berr
		}
	}
	return err
}

// Fail transitions the session to serve a canned answer instead of
// proxying, recording which one (spec §6's default-answer table).
func (s *Session) Fail(err error) AnswerStatus {
	status, _ := errs.StatusOf(err)
	switch status {
	case 301:
		s.Answer = Answer301
	case 400:
		s.Answer = Answer400
	case 404:
		s.Answer = Answer404
	case 408:
		s.Answer = Answer408
	case 413:
		s.Answer = Answer413
	case 503:
		s.Answer = Answer503
	case 504:
		s.Answer = Answer504
	default:
		s.Answer = Answer400
	}
	return s.Answer
}
