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

package worker

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edgeproxy/edgeproxy/internal/backend"
	"github.com/edgeproxy/edgeproxy/internal/buffer"
	"github.com/edgeproxy/edgeproxy/internal/errs"
	"github.com/edgeproxy/edgeproxy/internal/httpparser"
	"github.com/edgeproxy/edgeproxy/internal/listener"
	"github.com/edgeproxy/edgeproxy/internal/session"
)

const proxyProtocolHeaderTimeout = 5 * time.Second
const tlsHandshakeTimeout = 10 * time.Second

// connRetries caps how many distinct backends a single request may try
// before it's failed with 503.
const connRetries = 3

// startAcceptLoop runs ln's accept loop in its own goroutine until the
// returned cancel func is called, at which point ln.Close() (called by
// RemoveListener/HardStop) is what actually unblocks the pending Accept.
func (s *Server) startAcceptLoop(ln *listener.Listener) func() {
	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Net().Accept()
			if err != nil {
				select {
				case <-done:
					return
				default:
				}
				s.log.Warn("accept failed", zap.String("listener", ln.ID), zap.Error(err))
				continue
			}
			select {
			case <-done:
				conn.Close()
				return
			default:
			}
			if !ln.AllowAccept() {
				conn.Close()
				continue
			}
			s.metrics.ObserveAccept()
			listener.AddBacklog(1)
			go s.handleConnection(ln, conn)
		}
	}()
	return func() { close(done) }
}

// handleConnection runs one accepted connection end to end: optional
// PROXY protocol unwrap, optional TLS handshake, then either a raw TCP
// splice (ProtoTCP) or the HTTP/1 request/response pump loop, goroutine-
// per-connection over Go's own netpoller (spec §5's single-reactor model
// translated to idiomatic Go the same way Session.Splice's Open Question
// was resolved: keep the semantics, not the thread-per-core mechanism).
func (s *Server) handleConnection(ln *listener.Listener, conn net.Conn) {
	defer listener.AddBacklog(-1)

	if ln.ProxyProtocol {
		conn = session.ExpectProxyProtocol(conn, proxyProtocolHeaderTimeout)
	}

	if ln.Protocol == listener.ProtoTCP {
		s.handleTCPConnection(ln, conn)
		return
	}

	if ln.Protocol == listener.ProtoHTTPS {
		tlsConn := tls.Server(conn, ln.TLS)
		tlsConn.SetDeadline(time.Now().Add(tlsHandshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			s.log.Debug("tls handshake failed", zap.String("listener", ln.ID), zap.Error(err))
			conn.Close()
			return
		}
		tlsConn.SetDeadline(time.Time{})
		conn = tlsConn
	}

	s.handleHTTPConnection(ln, conn)
}

// handleTCPConnection splices conn to the single cluster ln.TCPClusterID
// names, with no HTTP parsing (spec's TCP proxying mode).
func (s *Server) handleTCPConnection(ln *listener.Listener, conn net.Conn) {
	defer conn.Close()

	c, ok := s.clusters.Get(ln.TCPClusterID)
	if !ok {
		s.log.Warn("tcp listener has no cluster configured", zap.String("listener", ln.ID))
		return
	}
	b, err := c.Select("")
	if err != nil {
		s.log.Debug("no backend available", zap.String("listener", ln.ID), zap.Error(err))
		return
	}
	backendConn, err := b.Dial()
	if err != nil {
		s.metrics.ObserveBackendError(c.ID, b.ID)
		return
	}
	defer backendConn.Close()

	b.CountConnection(1)
	defer b.CountConnection(-1)

	splice(conn, backendConn)
}

// splice copies bytes bidirectionally between two connections until
// either side closes, the raw byte-pump behavior of PhasePipe
// (original_source lib/src/protocol/pipe.rs) and of a ProtoTCP frontend
// alike.
func splice(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		if tc, ok := a.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		if tc, ok := b.(interface{ CloseWrite() error }); ok {
			tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}

// handleHTTPConnection drives the Expect/Http session phases for one
// frontend connection, serving as many pipelined requests as
// Session.Advance allows before closing (spec §4.7).
func (s *Server) handleHTTPConnection(ln *listener.Listener, conn net.Conn) {
	defer conn.Close()

	frontBuf, ok := s.checkoutBuffer()
	if !ok {
		s.log.Warn("buffer pool exhausted, refusing connection",
			zap.String("listener", ln.ID),
			zap.String("pool_size", humanize.Bytes(uint64(s.bufPool.Capacity()*s.bufPool.BufferSize()))))
		return
	}
	defer s.bufPool.Release(frontBuf.Buffer())

	sess := session.New(conn, frontBuf, nil, session.DefaultTimeouts())
	sess.Phase = session.PhaseHTTP

	tok := s.registerSession(sess)
	defer s.releaseSession(tok)

	for {
		if !s.serveOneRequest(ln, sess) {
			return
		}
		if !sess.Advance() {
			return
		}
	}
}

func (s *Server) checkoutBuffer() (*buffer.Queue, bool) {
	buf, ok := s.bufPool.Checkout()
	if !ok {
		return nil, false
	}
	return buffer.NewQueue(buf), true
}

// serveOneRequest parses one request, resolves its cluster/backend,
// forwards it, and pumps the matching response back. It returns false
// when the frontend connection should be closed outright (a parse
// failure past the point a canned answer could still be sent, or an
// unrecoverable backend error).
func (s *Server) serveOneRequest(ln *listener.Listener, sess *session.Session) bool {
	requestID := uuid.NewString()
	sess.ID = requestID
	forwarding := httpparser.ForwardingInfo{
		ClientAddr: session.SourceAddr(sess.Frontend).String(),
		Proto:      protoName(ln.Protocol),
		ListenPort: portOf(ln.Address),
		RequestID:  requestID,
	}

	sess.Frontend.SetReadDeadline(time.Now().Add(sess.Timeouts.Request))
	sess.BeginRequest(ln.StickyName, s.ForwardedFix, forwarding, s.ServerName)

	// The request line/headers must be parsed before routing is possible
	// (the Host header and path aren't known yet), so the first pass
	// reads directly into the front buffer without a destination to pump
	// to. Step only records edits while it parses (finishHeaders' inserted
	// block and any body bytes already buffered included); nothing is
	// written until those edits are flushed to the backend connection
	// chosen below.
	if err := s.readHeaders(sess); err != nil {
		s.failWithAnswer(ln, sess, err)
		return false
	}

	clusterID, ok := ln.Router.Lookup(sess.Request.Host, sess.Request.Path, sess.Request.Method)
	if !ok {
		s.failWithAnswer(ln, sess, errs.ErrHostNotFound)
		return false
	}
	cluster, ok := s.clusters.Get(clusterID)
	if !ok {
		s.failWithAnswer(ln, sess, errs.ErrNoBackendAvailable)
		return false
	}

	// A session tries up to connRetries distinct backends before it's
	// failed with 503; a backend that merely refused the connection
	// doesn't get a second chance within the same request.
	var (
		b           *backend.Backend
		backendConn net.Conn
		tried       = make(map[string]bool, connRetries)
	)
	for len(tried) < connRetries {
		var selErr error
		b, selErr = cluster.SelectExcluding(sess.Request.StickyBackendID, tried)
		if selErr != nil {
			s.failWithAnswer(ln, sess, selErr)
			return false
		}
		tried[b.ID] = true
		conn, dialErr := b.Dial()
		if dialErr == nil {
			backendConn = conn
			break
		}
		s.metrics.ObserveBackendError(cluster.ID, b.ID)
	}
	if backendConn == nil {
		s.failWithAnswer(ln, sess, errs.ErrNoBackendAvailable)
		return false
	}
	defer backendConn.Close()
	sess.Backend = backendConn
	sess.ClusterID = cluster.ID
	sess.BackendID = b.ID

	b.CountConnection(1)
	defer b.CountConnection(-1)

	backBuf, ok := s.checkoutBuffer()
	if !ok {
		s.failWithAnswer(ln, sess, errs.ErrNoBackendAvailable)
		return false
	}
	defer s.bufPool.Release(backBuf.Buffer())
	sess.BackBuf = backBuf

	// continued tracks whether the backend asked for the body (via a 100
	// Continue) or answered outright; false only happens when the client
	// sent Expect: 100-continue and the backend skipped straight to a
	// final response.
	continued := true
	if sess.Request.Expect100 {
		if _, err := sess.FrontBuf.Write(func(p []byte) (int, error) { return sess.Backend.Write(p) }); err != nil {
			s.metrics.ObserveBackendError(cluster.ID, b.ID)
			return false
		}
		sess.Backend.SetReadDeadline(time.Now().Add(sess.Timeouts.Response))
		var err error
		continued, err = awaitContinue(sess.Backend, sess.Frontend, sess.BackBuf)
		if err != nil {
			s.metrics.ObserveBackendError(cluster.ID, b.ID)
			return false
		}
	}
	if continued {
		if err := pumpMessage(sess.Frontend, sess.Backend, sess.FrontBuf, sess.Request.Step); err != nil {
			s.metrics.ObserveBackendError(cluster.ID, b.ID)
			return false
		}
	}

	clientHasSticky := sess.Request.StickyBackendID == b.ID
	sess.Backend.SetReadDeadline(time.Now().Add(sess.Timeouts.Response))
	// The cookie name is the listener's; a cluster with an empty
	// StickyName gets no sticky Set-Cookie handling.
	stickyName := ""
	if cluster.StickyName != "" {
		stickyName = ln.StickyName
	}
	sess.BeginResponse(stickyName, b.ID, requestID)
	sess.Response.ClientHasSticky = clientHasSticky

	if err := pumpMessage(sess.Backend, sess.Frontend, sess.BackBuf, sess.Response.Step); err != nil {
		s.metrics.ObserveBackendError(cluster.ID, b.ID)
		return false
	}
	s.metrics.ObserveRequest(cluster.ID, b.ID, sess.Request.Method, sess.Response.StatusCode)

	if sess.Response.StatusCode == 101 {
		sess.EnterUpgrade()
		splice(sess.Frontend, sess.Backend)
		return false
	}
	return true
}

// readHeaders drives RequestParser.Step over the frontend connection
// until the request headers (and, per the state machine, only the
// headers) are fully recognized -- i.e. until Step first returns nil or
// transitions past ReqHasHostAndLength into a body-bearing state. Because
// RequestParser.Step doesn't stop at the header/body boundary on its own
// (stepFixedBody/stepChunkedBody run in the same loop once entered), this
// calls Step just once per read and treats any non-NeedMore outcome,
// including "fully parsed, no body", as headers-done.
func (s *Server) readHeaders(sess *session.Session) error {
	q := sess.FrontBuf
	q.BeginParse()
	for {
		err := sess.Request.Step(q)
		if err == nil {
			return nil
		}
		if err != httpparser.NeedMore {
			return err
		}
		if sess.Request.State.Kind != httpparser.ReqInitial &&
			sess.Request.State.Kind != httpparser.ReqHasRequestLine &&
			sess.Request.State.Kind != httpparser.ReqHasHost &&
			sess.Request.State.Kind != httpparser.ReqHasLength &&
			sess.Request.State.Kind != httpparser.ReqHasHostAndLength {
			// headers are done; body/chunk progress needs a destination
			// to pump to, which serveOneRequest supplies via pumpMessage.
			return nil
		}
		if q.Full() {
			return errs.ErrPayloadTooLarge
		}
		n, rerr := sess.Frontend.Read(q.InputSpace())
		if n > 0 {
			q.Fill(n)
		}
		if rerr != nil {
			var ne net.Error
			if errors.As(rerr, &ne) && ne.Timeout() {
				return errs.ErrRequestTimeout
			}
			return fmt.Errorf("worker: %w: %v", errs.ErrIO, rerr)
		}
	}
}

// failWithAnswer records the canned answer Session.Fail selects and
// writes its body to the frontend connection before the caller closes it
// (spec §6's default-answer table).
func (s *Server) failWithAnswer(ln *listener.Listener, sess *session.Session, err error) {
	status := sess.Fail(err)
	body := answerBody(ln.Answers, status, sess.ClusterID)
	if len(body) > 0 {
		sess.Frontend.SetWriteDeadline(time.Now().Add(5 * time.Second))
		sess.Frontend.Write(body)
	}
}

func answerBody(answers listener.DefaultAnswers, status session.AnswerStatus, clusterID string) []byte {
	switch status {
	case session.Answer301:
		return answers.Redirect301
	case session.Answer400:
		return answers.BadRequest400
	case session.Answer404:
		return answers.NotFound404
	case session.Answer408:
		return answers.Timeout408
	case session.Answer413:
		return answers.TooLarge413
	case session.Answer503:
		return answers.For503(clusterID)
	case session.Answer504:
		return answers.GatewayTimeout504
	default:
		return answers.BadRequest400
	}
}

func protoName(p listener.Protocol) string {
	if p == listener.ProtoHTTPS {
		return "https"
	}
	return "http"
}

func portOf(address string) string {
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return ""
	}
	return port
}

