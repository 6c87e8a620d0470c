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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExactHostLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("www.example.com", Rule{PathKind: PathPrefix, Path: "/", ClusterID: "main"}))

	id, ok := r.Lookup("www.example.com", "/anything", "GET")
	require.True(t, ok)
	require.Equal(t, "main", id)

	_, ok = r.Lookup("other.example.com", "/", "GET")
	require.False(t, ok)
}

func TestWildcardHostFallback(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("*.example.com", Rule{PathKind: PathPrefix, Path: "/", ClusterID: "wild"}))
	require.NoError(t, r.Insert("www.example.com", Rule{PathKind: PathPrefix, Path: "/", ClusterID: "exact"}))

	id, ok := r.Lookup("www.example.com", "/", "GET")
	require.True(t, ok)
	require.Equal(t, "exact", id, "exact host registration must win over the wildcard")

	id, ok = r.Lookup("api.example.com", "/", "GET")
	require.True(t, ok)
	require.Equal(t, "wild", id)

	_, ok = r.Lookup("example.com", "/", "GET")
	require.False(t, ok, "wildcard edge does not match the bare parent domain")
}

func TestPathRulePrecedence(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathPrefix, Path: "/", ClusterID: "root"}))
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathPrefix, Path: "/api", ClusterID: "api"}))
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathRegex, Path: `^/api/v[0-9]+$`, ClusterID: "api-version"}))
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathEquals, Path: "/api/v2", ClusterID: "api-v2-exact"}))

	id, ok := r.Lookup("example.com", "/api/v2", "GET")
	require.True(t, ok)
	require.Equal(t, "api-v2-exact", id, "Equals beats Regex and Prefix")

	id, ok = r.Lookup("example.com", "/api/v9", "GET")
	require.True(t, ok)
	require.Equal(t, "api-version", id, "Regex beats Prefix")

	id, ok = r.Lookup("example.com", "/api/widgets", "GET")
	require.True(t, ok)
	require.Equal(t, "api", id, "longest matching prefix wins")

	id, ok = r.Lookup("example.com", "/elsewhere", "GET")
	require.True(t, ok)
	require.Equal(t, "root", id)
}

func TestMethodFilter(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathPrefix, Path: "/", Method: "POST", ClusterID: "writer"}))

	_, ok := r.Lookup("example.com", "/", "GET")
	require.False(t, ok)

	id, ok := r.Lookup("example.com", "/", "POST")
	require.True(t, ok)
	require.Equal(t, "writer", id)
}

func TestMethodFilterIsCaseSensitive(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathPrefix, Path: "/", Method: "POST", ClusterID: "writer"}))

	_, ok := r.Lookup("example.com", "/", "post")
	require.False(t, ok, "a lowercase method must not match the canonical POST rule")

	id, ok := r.Lookup("example.com", "/", "POST")
	require.True(t, ok)
	require.Equal(t, "writer", id)
}

func TestRemoveRule(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathPrefix, Path: "/", ClusterID: "main"}))

	require.True(t, r.Remove("example.com", PathPrefix, "/", ""))
	_, ok := r.Lookup("example.com", "/", "GET")
	require.False(t, ok)

	require.False(t, r.Remove("example.com", PathPrefix, "/", ""), "second removal finds nothing left")
}

func TestInsertReplacesIdenticalRule(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathPrefix, Path: "/", ClusterID: "first"}))
	require.NoError(t, r.Insert("example.com", Rule{PathKind: PathPrefix, Path: "/", ClusterID: "second"}))

	id, ok := r.Lookup("example.com", "/", "GET")
	require.True(t, ok)
	require.Equal(t, "second", id)
}
