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
	"math/rand"
	"sync/atomic"
)

// Selection picks one available backend out of pool for a connection. The
// three strategies mirror spec §4.4's round_robin/random/least_loaded
// policies, grounded on
// modules/caddyhttp/reverseproxy/selectionpolicies_test.go's
// RoundRobinSelection/WeightedRoundRobinSelection/LeastConnSelection shapes.
type Selection interface {
	Select(pool []*Backend) *Backend
}

func available(pool []*Backend) []*Backend {
	out := make([]*Backend, 0, len(pool))
	var backups []*Backend
	for _, b := range pool {
		if !b.Available() {
			continue
		}
		if b.Backup {
			backups = append(backups, b)
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return backups
	}
	return out
}

// RoundRobinSelection cycles through the pool in order, skipping
// unavailable backends.
type RoundRobinSelection struct {
	counter uint32
}

func (s *RoundRobinSelection) Select(pool []*Backend) *Backend {
	choices := available(pool)
	if len(choices) == 0 {
		return nil
	}
	n := atomic.AddUint32(&s.counter, 1)
	return choices[int(n)%len(choices)]
}

// WeightedRoundRobinSelection distributes selections proportionally to
// each backend's Weight using a smooth weighted round-robin (each pick
// favors the candidate with the highest running weight, which is then
// discounted by the pool's total weight).
type WeightedRoundRobinSelection struct {
	current map[string]int
}

func (s *WeightedRoundRobinSelection) Select(pool []*Backend) *Backend {
	choices := available(pool)
	if len(choices) == 0 {
		return nil
	}
	if s.current == nil {
		s.current = make(map[string]int)
	}
	total := 0
	var best *Backend
	bestScore := 0
	for _, b := range choices {
		s.current[b.ID] += b.Weight
		total += b.Weight
		if best == nil || s.current[b.ID] > bestScore {
			best = b
			bestScore = s.current[b.ID]
		}
	}
	s.current[best.ID] -= total
	return best
}

// RandomSelection picks uniformly among available backends.
type RandomSelection struct{}

func (RandomSelection) Select(pool []*Backend) *Backend {
	choices := available(pool)
	if len(choices) == 0 {
		return nil
	}
	return choices[rand.Intn(len(choices))]
}

// LeastConnSelection picks the available backend with the fewest active
// connections, ties broken by pool order.
type LeastConnSelection struct{}

func (LeastConnSelection) Select(pool []*Backend) *Backend {
	choices := available(pool)
	if len(choices) == 0 {
		return nil
	}
	best := choices[0]
	for _, b := range choices[1:] {
		if b.ActiveConnections() < best.ActiveConnections() {
			best = b
		}
	}
	return best
}
