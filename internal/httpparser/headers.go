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

package httpparser

import (
	"bytes"
	"strconv"
	"strings"
)

// crlf is the line terminator the parser looks for when scanning the
// request/status line and each header line.
var crlf = []byte("\r\n")

// findLine returns the byte length of the next CRLF-terminated line
// (including the CRLF) at the start of view, or (0, false) if view does
// not yet contain a complete line.
func findLine(view []byte) (int, bool) {
	idx := bytes.Index(view, crlf)
	if idx < 0 {
		return 0, false
	}
	return idx + len(crlf), true
}

// parsedHeader is one name/value pair recognized from a header line, along
// with the exact length (including CRLF) it occupied in the input.
type parsedHeader struct {
	Name  string
	Value string
	Len   int
}

// parseHeaderLine splits a single CRLF-terminated header line (length
// lineLen, including the CRLF) into name/value, or ok=false if it is not
// a "Name: value" line (e.g. it's the blank line ending the header
// block).
func parseHeaderLine(line []byte, lineLen int) (parsedHeader, bool) {
	content := line[:lineLen-len(crlf)]
	if len(content) == 0 {
		return parsedHeader{}, false
	}
	colon := bytes.IndexByte(content, ':')
	if colon < 0 {
		return parsedHeader{}, false
	}
	name := strings.TrimSpace(string(content[:colon]))
	value := strings.TrimSpace(string(content[colon+1:]))
	return parsedHeader{Name: name, Value: value, Len: lineLen}, true
}

// connectionDirective is the parsed state of a request or response's
// accumulated Connection-header tokens (possibly spread across repeated
// headers), used to decide keep-alive reuse and the per-token delete set
// referenced by spec §4.2.
type connectionDirective struct {
	tokens       []string
	hasClose     bool
	hasKeepAlive bool
}

func (c *connectionDirective) add(value string) {
	for _, tok := range splitTokens(value) {
		c.tokens = append(c.tokens, tok)
		switch {
		case asciiEqualFold(tok, "close"):
			c.hasClose = true
		case asciiEqualFold(tok, "keep-alive"):
			c.hasKeepAlive = true
		}
	}
}

// shouldDeleteToken reports whether headerName is itself one of the
// tokens named by an accumulated Connection header (the "to_delete" set
// from spec §4.2), meaning that header must be stripped from the forward
// request/response along with Connection itself.
func (c *connectionDirective) shouldDeleteToken(headerName string) bool {
	for _, t := range c.tokens {
		if asciiEqualFold(t, headerName) &&
			!asciiEqualFold(t, "close") && !asciiEqualFold(t, "keep-alive") {
			return true
		}
	}
	return false
}

// parseContentLength validates and parses a Content-Length header value.
func parseContentLength(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// isChunkedTransferEncoding reports whether a Transfer-Encoding header
// value names "chunked" as (per HTTP/1.1) it must be the last coding
// applied.
func isChunkedTransferEncoding(value string) bool {
	parts := strings.Split(value, ",")
	if len(parts) == 0 {
		return false
	}
	last := strings.TrimSpace(parts[len(parts)-1])
	return asciiEqualFold(last, "chunked")
}

// rewriteCookieHeader splits a Cookie header's `name=value; name2=value2`
// pairs and removes only the entry named stickyName, preserving the
// correct `; ` separators between the rest (spec §4.2, "Cookie headers
// are rewritten by Multiple([...]) edits"). stickyValue carries the
// removed entry's value, so the caller can honor sticky-session affinity
// against the backend id the client already pinned to.
func rewriteCookieHeader(value, stickyName string) (rewritten, stickyValue string, removed bool) {
	if stickyName == "" {
		return value, "", false
	}
	pairs := strings.Split(value, ";")
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		trimmed := strings.TrimSpace(p)
		eq := strings.IndexByte(trimmed, '=')
		name := trimmed
		if eq >= 0 {
			name = trimmed[:eq]
		}
		if asciiEqualFold(name, stickyName) {
			removed = true
			if eq >= 0 {
				stickyValue = trimmed[eq+1:]
			}
			continue
		}
		out = append(out, trimmed)
	}
	return strings.Join(out, "; "), stickyValue, removed
}

// setCookieIsSticky reports whether a Set-Cookie header's value begins
// with the sticky-session cookie name (spec §4.2: "the parser emits
// Delete for any ... Set-Cookie whose value begins with the sticky
// name").
func setCookieIsSticky(value, stickyName string) bool {
	if stickyName == "" {
		return false
	}
	prefix := stickyName + "="
	return len(value) >= len(prefix) && asciiEqualFold(value[:len(prefix)], prefix)
}
