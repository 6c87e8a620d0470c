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
	"bytes"
	"fmt"
	"net"
	"strconv"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
	"github.com/edgeproxy/edgeproxy/internal/errs"
	"github.com/edgeproxy/edgeproxy/internal/httpparser"
)

// step is the shape shared by (*httpparser.RequestParser).Step and
// (*httpparser.ResponseParser).Step: consume as much of q's current view
// as forms complete units, returning httpparser.NeedMore when the view
// runs dry before the message ends.
type step func(q *buffer.Queue) error

// pumpMessage drives src/q/advance until advance reports the message is
// fully parsed (nil) or a genuine error occurs. Each iteration flushes
// whatever output the parser has produced so far to dst before asking for
// more input, so a message whose body exceeds one buffer's worth of bytes
// still streams through the fixed-size queue instead of stalling on
// buffer.Queue.Full (spec §4.1's "never recopy an untouched region" holds
// for the wire as a whole, not just one read).
func pumpMessage(src, dst net.Conn, q *buffer.Queue, advance step) error {
	q.BeginParse()
	for {
		stepErr := advance(q)
		if stepErr != nil && stepErr != httpparser.NeedMore {
			return stepErr
		}
		if _, err := q.Write(func(b []byte) (int, error) { return dst.Write(b) }); err != nil {
			return fmt.Errorf("worker: writing to %s: %w", dst.RemoteAddr(), err)
		}
		if stepErr == nil {
			return nil
		}
		q.Compact()
		if q.Full() {
			return fmt.Errorf("worker: %w", errs.ErrPayloadTooLarge)
		}
		n, err := src.Read(q.InputSpace())
		if n > 0 {
			q.Fill(n)
		}
		if err != nil {
			return fmt.Errorf("worker: reading from %s: %w", src.RemoteAddr(), err)
		}
	}
}

// awaitContinue reads backend's reply into q up to its first status line
// and reports whether it was a "100 Continue" interim response. A 100 is
// relayed verbatim to frontend and consumed from q, so the caller goes on
// to stream the request body. Any other
// status leaves q untouched, so a fresh ResponseParser started at q's
// current parse position reads it as the final response: the backend
// skipped straight to an answer without asking for the body.
func awaitContinue(backend, frontend net.Conn, q *buffer.Queue) (continued bool, err error) {
	for {
		view := q.InputView()
		end := bytes.Index(view, []byte("\r\n\r\n"))
		if end < 0 {
			if q.Full() {
				return false, fmt.Errorf("worker: %w", errs.ErrPayloadTooLarge)
			}
			n, rerr := backend.Read(q.InputSpace())
			if n > 0 {
				q.Fill(n)
			}
			if rerr != nil {
				return false, fmt.Errorf("worker: reading from %s: %w", backend.RemoteAddr(), rerr)
			}
			continue
		}
		code, ok := statusCodeOf(view[:end])
		if !ok {
			return false, fmt.Errorf("worker: malformed interim response from %s", backend.RemoteAddr())
		}
		if code != 100 {
			return false, nil
		}
		q.Advance(end + len("\r\n\r\n"))
		if _, werr := q.Write(func(b []byte) (int, error) { return frontend.Write(b) }); werr != nil {
			return false, fmt.Errorf("worker: writing to %s: %w", frontend.RemoteAddr(), werr)
		}
		return true, nil
	}
}

// statusCodeOf parses the numeric status code out of a response status
// line ("HTTP/1.1 100 Continue").
func statusCodeOf(statusLine []byte) (int, bool) {
	parts := bytes.SplitN(statusLine, []byte(" "), 3)
	if len(parts) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(string(parts[1]))
	if err != nil {
		return 0, false
	}
	return code, true
}
