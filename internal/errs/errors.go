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

// Package errs defines the sentinel error kinds of spec §7, each carrying
// the HTTP status it surfaces to the client (if any). Mirrors the
// teacher's pattern of a small typed API error (see admin.go's APIError)
// rather than ad hoc fmt.Errorf strings for conditions the session's
// state machine branches on.
package errs

import "errors"

// Kind is a sentinel error kind checked with errors.Is.
type Kind struct {
	name   string
	status int // 0 means "no direct client-facing status"
}

func (k *Kind) Error() string { return k.name }

// Status returns the HTTP status code this error kind surfaces to the
// client, or 0 if it has none (e.g. a silent close).
func (k *Kind) Status() int { return k.status }

var (
	ErrNoHostGiven        = &Kind{name: "no host given", status: 400}
	ErrNoRequestLineGiven = &Kind{name: "no request line given", status: 400}
	ErrInvalidHost        = &Kind{name: "invalid host", status: 400}
	ErrHostNotFound       = &Kind{name: "host not found", status: 404}
	ErrNoBackendAvailable = &Kind{name: "no backend available", status: 503}
	ErrHTTPSRedirect      = &Kind{name: "https redirect", status: 301}
	ErrPayloadTooLarge    = &Kind{name: "payload too large", status: 413}
	ErrRequestTimeout     = &Kind{name: "request timeout", status: 408}
	ErrResponseTimeout    = &Kind{name: "response timeout", status: 504}
	ErrIO                 = &Kind{name: "io error", status: 0}
	ErrWouldBlock         = &Kind{name: "would block", status: 0}
)

// StatusOf extracts the HTTP status carried by err, if err wraps one of
// the Kind sentinels declared above; ok is false otherwise.
func StatusOf(err error) (status int, ok bool) {
	var k *Kind
	if errors.As(err, &k) {
		return k.status, true
	}
	return 0, false
}
