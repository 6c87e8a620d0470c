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

import "time"

// ExponentialBackoff is the CONN_RETRIES circuit breaker from spec §4.5:
// consecutive Dial failures double the backoff delay up to a capped
// number of rounds, after which the backend is treated as unavailable
// until a Succeed call resets it. Grounded on
// original_source/lib/src/lib.rs's `retry::ExponentialBackoffPolicy::new(6)`.
type ExponentialBackoff struct {
	maxRetries int
	failures   int
	blockedAt  time.Time
	base       time.Duration
	now        func() time.Time
}

// NewExponentialBackoff constructs a backoff policy capped at maxRetries
// consecutive failures, with a 100ms base delay doubling each round.
func NewExponentialBackoff(maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		maxRetries: maxRetries,
		base:       100 * time.Millisecond,
		now:        time.Now,
	}
}

// CanTry reports whether a connection attempt may be made right now: the
// failure count hasn't exhausted maxRetries, and any backoff delay from
// the last failure has elapsed.
func (e *ExponentialBackoff) CanTry() bool {
	if e.failures == 0 {
		return true
	}
	if e.failures >= e.maxRetries {
		return false
	}
	return e.now().After(e.blockedAt)
}

// Fail records a connection failure, doubling the backoff delay for the
// next attempt (1x, 2x, 4x, ... base, capped at maxRetries rounds).
func (e *ExponentialBackoff) Fail() {
	e.failures++
	if e.failures > e.maxRetries {
		e.failures = e.maxRetries
	}
	shift := e.failures - 1
	if shift > 16 {
		shift = 16 // guard against absurd delays from overflow
	}
	delay := e.base << uint(shift)
	e.blockedAt = e.now().Add(delay)
}

// Succeed resets the failure count after a successful connection.
func (e *ExponentialBackoff) Succeed() {
	e.failures = 0
	e.blockedAt = time.Time{}
}

// Exhausted reports whether maxRetries consecutive failures have been
// recorded without an intervening success — the circuit-breaker-open state.
func (e *ExponentialBackoff) Exhausted() bool {
	return e.failures >= e.maxRetries
}
