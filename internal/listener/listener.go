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

// Package listener implements the Configured/Active lifecycle of a bound
// socket, its routing table and TLS configuration, and the default error
// answers it serves when no cluster can be reached (spec §6).
package listener

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/edgeproxy/edgeproxy/internal/router"
)

// State is the listener lifecycle from spec §6: a listener begins
// Configured (bound but not accepting), becomes Active on Activate, and
// returns to Configured on Deactivate without closing the socket (so a
// later Activate needs no re-bind). The fd is not registered with a
// reactor; internal/worker serves it from an accept-loop goroutine.
type State int32

const (
	StateConfigured State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "configured"
}

// Protocol distinguishes the three listener kinds spec §6 supports.
type Protocol int

const (
	ProtoHTTP Protocol = iota
	ProtoHTTPS
	ProtoTCP
)

// DefaultAnswers holds the canned status-code responses a listener serves
// when routing or backend selection fails before a session ever reaches a
// cluster (spec §6: 301 HTTPS redirect, 400, 404, 408, 413, 503, 504).
// ClusterOverrides503 lets a specific cluster substitute its own 503 body.
type DefaultAnswers struct {
	Redirect301     []byte
	BadRequest400   []byte
	NotFound404     []byte
	Timeout408      []byte
	TooLarge413     []byte
	Unavailable503  []byte
	GatewayTimeout504 []byte

	ClusterOverrides503 map[string][]byte
}

func (d DefaultAnswers) For503(clusterID string) []byte {
	if body, ok := d.ClusterOverrides503[clusterID]; ok {
		return body
	}
	return d.Unavailable503
}

// Listener is a single bound socket plus the routing and TLS state needed
// to dispatch accepted connections (spec §6).
type Listener struct {
	ID       string
	Protocol Protocol
	Address  string

	Router   *router.Router
	TLS      *tls.Config // nil unless Protocol == ProtoHTTPS
	Answers  DefaultAnswers

	// ProxyProtocol declares that connections on this listener may carry
	// a leading PROXY protocol v1/v2 header (spec §4.1) before TLS/HTTP.
	ProxyProtocol bool

	// TCPClusterID names the single cluster a ProtoTCP listener splices
	// every accepted connection to, bypassing HTTP parsing and the
	// routing table entirely.
	TCPClusterID string

	// StickyName is the sticky-session cookie name rewritten in requests
	// and appended to responses for every cluster reachable from this
	// listener. Routing a request to its cluster requires its Host
	// header, which isn't known until after the cookie has already been
	// read, so the sticky cookie name is configured per listener rather
	// than per cluster.
	StickyName string

	// AcceptLimiter bounds the accept rate at a fixed 10000 connections
	// per second (burst 10000); AllowAccept turns away connections over
	// that rate. It does not look at the worker's session slab occupancy.
	// Grounded on listeners.go's use of golang.org/x/time/rate to throttle
	// QUIC handshakes.
	AcceptLimiter *rate.Limiter

	mu    sync.Mutex
	state State
	ln    net.Listener
}

// New constructs a Listener bound to address but left Configured; the
// caller (internal/worker) starts an accept-loop goroutine for it and
// calls Activate once ready to accept.
func New(id string, proto Protocol, address string, r *router.Router) (*Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &Listener{
		ID:            id,
		Protocol:      proto,
		Address:       address,
		Router:        r,
		AcceptLimiter: rate.NewLimiter(rate.Limit(10000), 10000),
		state:         StateConfigured,
		ln:            ln,
	}, nil
}

// Net returns the underlying net.Listener, for the worker's reactor to
// extract a raw fd from via (*net.TCPListener).File or SyscallConn.
func (l *Listener) Net() net.Listener {
	return l.ln
}

// Activate transitions Configured -> Active so the reactor begins
// dispatching accept-readiness events for this listener.
func (l *Listener) Activate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateActive
}

// Deactivate transitions Active -> Configured without closing the bound
// socket, so pending connections already accepted finish normally while no
// new ones are taken (spec §6).
func (l *Listener) Deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateConfigured
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Close releases the bound socket entirely; used only when a listener is
// removed from configuration, not on a plain Deactivate.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// AllowAccept reports whether the accept loop may hand off the next ready
// connection right now: the listener must be Active and under its accept
// rate limit.
func (l *Listener) AllowAccept() bool {
	return l.State() == StateActive && l.AcceptLimiter.Allow()
}

// backlog tracks accepted-but-not-yet-dispatched connections so the worker
// can report back-pressure depth through metrics.
var backlogDepth int64

func AddBacklog(delta int64) int64 { return atomic.AddInt64(&backlogDepth, delta) }
func BacklogDepth() int64          { return atomic.LoadInt64(&backlogDepth) }
