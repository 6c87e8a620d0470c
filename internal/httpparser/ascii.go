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
	"strings"

	"golang.org/x/net/http/httpguts"
)

// asciiEqualFold is strings.EqualFold restricted to ASCII, which is all
// that header names and tokens ever legally contain; it avoids the
// Unicode case-folding surprises (e.g. Kelvin sign) that strings.EqualFold
// is subject to.
func asciiEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lower(a[i]) != lower(b[i]) {
			return false
		}
	}
	return true
}

func lower(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// asciiContainsFold reports whether any whitespace/comma-separated token in
// header matches needle case-insensitively, as used when scanning a
// Connection header's value for tokens listed in a to-delete set.
func asciiContainsFold(tokens []string, needle string) bool {
	for _, t := range tokens {
		if asciiEqualFold(strings.TrimSpace(t), needle) {
			return true
		}
	}
	return false
}

// splitTokens splits a comma-separated header value into trimmed tokens,
// e.g. the value of a Connection header.
func splitTokens(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validHeaderName reports whether name is a syntactically valid HTTP
// header field name, delegating to the same validator net/http uses
// internally.
func validHeaderName(name string) bool {
	return httpguts.ValidHeaderFieldName(name)
}

// validHeaderValue reports whether v is a syntactically valid HTTP header
// field value.
func validHeaderValue(v string) bool {
	return httpguts.ValidHeaderFieldValue(v)
}
