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

import "sync"

// Map is the worker-wide registry of clusters, keyed by cluster id, that
// internal/router's Lookup result indexes into (spec §4.4).
type Map struct {
	mu       sync.RWMutex
	clusters map[string]*Cluster
}

func NewMap() *Map {
	return &Map{clusters: make(map[string]*Cluster)}
}

func (m *Map) Add(c *Cluster) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[c.ID] = c
}

func (m *Map) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clusters, id)
}

func (m *Map) Get(id string) (*Cluster, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[id]
	return c, ok
}

// DrainAll calls Drain on every cluster; invoked periodically by the
// worker's timer wheel to release backends that finished closing.
func (m *Map) DrainAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clusters {
		c.Drain()
	}
}
