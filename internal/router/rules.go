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

package router

import (
	"regexp"
	"strings"
)

// Rule is one leaf entry: a path-matching strategy paired with an optional
// method filter, resolving to a cluster id (spec §3, §4.3).
type Rule struct {
	PathKind PathRuleKind
	Path     string
	Method   string // empty matches any method

	regex *regexp.Regexp // compiled lazily by Router.Insert via compile()
	ClusterID string
}

// compile prepares r for matching, compiling its regex if PathKind is
// PathRegex. Router.Insert calls this before storing the rule.
func (r *Rule) compile() error {
	if r.PathKind != PathRegex {
		return nil
	}
	re, err := regexp.Compile(r.Path)
	if err != nil {
		return err
	}
	r.regex = re
	return nil
}

func (r *Rule) matches(path, method string) bool {
	if r.Method != "" && r.Method != method {
		return false
	}
	switch r.PathKind {
	case PathEquals:
		return path == r.Path
	case PathRegex:
		return r.regex != nil && r.regex.MatchString(path)
	case PathPrefix:
		return strings.HasPrefix(path, r.Path)
	default:
		return false
	}
}

// matchRules resolves path/method against rules honoring the precedence
// from spec §4.3: Equals beats Regex beats Prefix; Regex candidates are
// tried in insertion order and the first match wins; among Prefix
// candidates the longest prefix wins, ties broken by insertion order.
// Equals and Regex rules are scanned across the whole leaf before falling
// back to Prefix, so an Equals rule inserted after a matching Regex rule
// still takes precedence.
func matchRules(rules []*Rule, path, method string) (string, bool) {
	for _, r := range rules {
		if r.PathKind == PathEquals && r.matches(path, method) {
			return r.ClusterID, true
		}
	}
	for _, r := range rules {
		if r.PathKind == PathRegex && r.matches(path, method) {
			return r.ClusterID, true
		}
	}
	var (
		bestPrefix    *Rule
		bestPrefixLen = -1
	)
	for _, r := range rules {
		if r.PathKind != PathPrefix || !r.matches(path, method) {
			continue
		}
		if len(r.Path) > bestPrefixLen {
			bestPrefix = r
			bestPrefixLen = len(r.Path)
		}
	}
	if bestPrefix != nil {
		return bestPrefix.ClusterID, true
	}
	return "", false
}
