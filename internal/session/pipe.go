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

package session

import (
	"io"
	"sync"
)

// HalfState tracks one direction of a PhasePipe connection: still open,
// half-closed (peer sent EOF, this direction still flushes), or closed.
// Grounded on original_source/lib/src/protocol/pipe.rs's half-open
// bookkeeping for a spliced WebSocket/raw-TCP connection.
type HalfState int

const (
	HalfOpen HalfState = iota
	HalfClosing
	HalfClosed
)

// Pipe shuttles bytes bidirectionally between the frontend and backend
// connections once a session has upgraded out of HTTP (spec §4.9). Unlike
// the HTTP phase, no further header rewriting happens here: Splice copies
// bytes directly between the two connections with io.Copy, unmodified,
// without going through FrontBuf/BackBuf.
type Pipe struct {
	Front HalfState
	Back  HalfState
}

// Splice runs the pipe to completion, copying front->back and back->front
// concurrently until both directions have closed. It returns the first
// error encountered on either side, unless it is just io.EOF.
func (s *Session) Splice() error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := io.Copy(s.Backend, s.Frontend)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := io.Copy(s.Frontend, s.Backend)
		errs <- err
	}()

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if err != nil && err != io.EOF && first == nil {
			first = err
		}
	}
	return first
}
