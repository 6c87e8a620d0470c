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

package listener

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/router"
)

func TestLifecycleStartsConfigured(t *testing.T) {
	l, err := New("l1", ProtoHTTP, "127.0.0.1:0", router.New())
	require.NoError(t, err)
	defer l.Close()

	require.Equal(t, StateConfigured, l.State())
	require.False(t, l.AllowAccept())

	l.Activate()
	require.Equal(t, StateActive, l.State())
	require.True(t, l.AllowAccept())

	l.Deactivate()
	require.Equal(t, StateConfigured, l.State())
	require.False(t, l.AllowAccept())
}

func TestDefaultAnswersClusterOverride(t *testing.T) {
	d := DefaultAnswers{
		Unavailable503:      []byte("default 503"),
		ClusterOverrides503: map[string][]byte{"checkout": []byte("checkout is down")},
	}

	require.Equal(t, []byte("default 503"), d.For503("other"))
	require.Equal(t, []byte("checkout is down"), d.For503("checkout"))
}
