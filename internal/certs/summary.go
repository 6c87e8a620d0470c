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

package certs

import "fmt"

// RegisteredNames returns every hostname (exact and wildcard) currently
// bound to a certificate, for the control channel's Status response.
func (r *Resolver) RegisteredNames() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make(map[string]struct{}, len(r.exact)+len(r.wildcards))
	for n := range r.exact {
		names[n] = struct{}{}
	}
	for suffix := range r.wildcards {
		names["*."+suffix] = struct{}{}
	}
	return names
}

// SummarizeNames returns at most maxToDisplay of the registered hostnames,
// with a trailing "(and N more...)" marker when truncated. Certificate
// stores can carry hundreds of thousands of SANs, so logging them in full
// on every Add/Remove would itself become a bottleneck.
func SummarizeNames(names map[string]struct{}, maxToDisplay int) []string {
	n := min(len(names), maxToDisplay)
	out := make([]string, 0, n)
	for name := range names {
		if len(out) >= n {
			break
		}
		out = append(out, name)
	}
	if len(names) > maxToDisplay {
		out = append(out, fmt.Sprintf("(and %d more...)", len(names)-maxToDisplay))
	}
	return out
}
