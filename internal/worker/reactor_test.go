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
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestReactorReportsPipeReadiness registers the read end of an os.Pipe,
// which this test fully owns, so driving it through a real Reactor
// doesn't fight Go's own runtime netpoller the way registering a net.Conn
// fd directly would.
func TestReactorReportsPipeReadiness(t *testing.T) {
	r, err := NewReactor()
	require.NoError(t, err)
	defer r.Close()

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	const tok Token = 42
	require.NoError(t, r.Register(int(pr.Fd()), tok, true, false))

	_, err = pw.Write([]byte("x"))
	require.NoError(t, err)

	ready, err := r.Wait(nil, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, ready)

	found := false
	for _, ev := range ready {
		if ev.Token == tok {
			found = true
			require.True(t, ev.Read)
		}
	}
	require.True(t, found)

	require.NoError(t, r.Deregister(int(pr.Fd())))
}
