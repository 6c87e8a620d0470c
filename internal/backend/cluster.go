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

package backend

import (
	"sync"

	"github.com/edgeproxy/edgeproxy/internal/errs"
)

// Event is emitted once per continuous down/up episode for a backend
// (spec §4.6), for the control channel and metrics to consume.
type Event struct {
	ClusterID string
	BackendID string
	Up        bool
}

// EventSink receives cluster events; workers typically wire this to the
// control channel's outbound queue and to internal/metrics.
type EventSink func(Event)

// Cluster is the named group of backends a Frontend resolves to, plus its
// selection policy and sticky-session configuration (spec §3, §4.4).
type Cluster struct {
	ID         string
	StickyName string // empty disables sticky-session affinity

	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string // insertion order, for deterministic pool iteration
	policy   Selection
	sink     EventSink
}

// NewCluster constructs a Cluster using policy for backend selection (spec
// §4.4's choice of round_robin/random/least_loaded/weighted_round_robin).
func NewCluster(id string, policy Selection, sink EventSink) *Cluster {
	if policy == nil {
		policy = &RoundRobinSelection{}
	}
	if sink == nil {
		sink = func(Event) {}
	}
	return &Cluster{
		ID:       id,
		backends: make(map[string]*Backend),
		policy:   policy,
		sink:     sink,
	}
}

// AddBackend registers b with the cluster, replacing any existing backend
// with the same ID.
func (c *Cluster) AddBackend(b *Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.backends[b.ID]; !exists {
		c.order = append(c.order, b.ID)
	}
	c.backends[b.ID] = b
}

// RemoveBackend marks the named backend Closing; it is dropped from the
// pool once its last connection drains (spec §4.5).
func (c *Cluster) RemoveBackend(id string) {
	c.mu.RLock()
	b, ok := c.backends[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	b.MarkClosing()
}

// pool returns a snapshot slice of all non-Closed backends in insertion
// order, the shape Selection implementations expect.
func (c *Cluster) pool() []*Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Backend, 0, len(c.order))
	for _, id := range c.order {
		if b := c.backends[id]; b != nil && b.Status() != StatusClosed {
			out = append(out, b)
		}
	}
	return out
}

// ByID looks up a specific backend, used to honor sticky-session cookies.
func (c *Cluster) ByID(id string) (*Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.backends[id]
	return b, ok
}

// Select resolves a connection to a backend: stickyID, if non-empty and
// still available, wins outright; otherwise the cluster's policy picks
// from the pool. Fires BackendDown/BackendUp transitions discovered along
// the way (spec §4.6).
func (c *Cluster) Select(stickyID string) (*Backend, error) {
	return c.SelectExcluding(stickyID, nil)
}

// SelectExcluding is Select with a set of backend IDs already tried and
// rejected (by a failed Dial) on this session removed from consideration:
// a session moves on to a different backend rather than hammering the one
// that just refused it.
func (c *Cluster) SelectExcluding(stickyID string, excluded map[string]bool) (*Backend, error) {
	if stickyID != "" && !excluded[stickyID] {
		if b, ok := c.ByID(stickyID); ok && b.Available() {
			return b, nil
		}
	}
	pool := c.pool()
	c.observe(pool)
	if len(excluded) > 0 {
		filtered := make([]*Backend, 0, len(pool))
		for _, b := range pool {
			if !excluded[b.ID] {
				filtered = append(filtered, b)
			}
		}
		pool = filtered
	}
	b := c.policy.Select(pool)
	if b == nil {
		return nil, errs.ErrNoBackendAvailable
	}
	return b, nil
}

// observe fires BackendDown/BackendUp for any backend whose availability
// changed since the last observation, exactly once per continuous episode.
func (c *Cluster) observe(pool []*Backend) {
	for _, b := range pool {
		if b.Available() {
			if b.markUpIfRecovering() {
				c.sink(Event{ClusterID: c.ID, BackendID: b.ID, Up: true})
			}
		} else {
			if b.markDownIfNewEpisode() {
				c.sink(Event{ClusterID: c.ID, BackendID: b.ID, Up: false})
			}
		}
	}
}

// Drain releases any Closing backend whose connections have all closed,
// called periodically by the worker's timer wheel.
func (c *Cluster) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		c.backends[id].ReleaseIfDrained()
	}
}
