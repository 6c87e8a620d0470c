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
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
	"github.com/edgeproxy/edgeproxy/internal/errs"
	"github.com/edgeproxy/edgeproxy/internal/httpparser"
)

func pipeConn() (net.Conn, net.Conn) {
	return net.Pipe()
}

func newTestSession() *Session {
	front, _ := pipeConn()
	return New(front, buffer.NewQueue(make([]byte, 256)), buffer.NewQueue(make([]byte, 256)), DefaultTimeouts())
}

func TestSessionStartsInExpectPhase(t *testing.T) {
	s := newTestSession()
	require.Equal(t, PhaseExpect, s.Phase)
}

func TestSessionAdvanceClosesWithoutParsers(t *testing.T) {
	s := newTestSession()
	require.False(t, s.Advance())
	require.Equal(t, PhaseClosed, s.Phase)
}

func TestSessionAdvanceResetsOnKeepAlive(t *testing.T) {
	s := newTestSession()
	s.Phase = PhaseHTTP
	s.Request = &httpparser.RequestParser{Version: "HTTP/1.1"}
	s.Response = &httpparser.ResponseParser{Version: "HTTP/1.1"}

	require.True(t, s.Advance())
	require.Equal(t, PhaseHTTP, s.Phase)
	require.Nil(t, s.Request)
	require.Nil(t, s.Response)
}

func TestSessionAdvanceStopsAtPipelineCap(t *testing.T) {
	s := newTestSession()
	s.pipelineCount = maxPipelinedRequests - 1
	s.Request = &httpparser.RequestParser{Version: "HTTP/1.1"}
	s.Response = &httpparser.ResponseParser{Version: "HTTP/1.1"}

	require.False(t, s.Advance(), "pipeline cap must force a close")
	require.Equal(t, PhaseClosed, s.Phase)
}

func TestSessionFailMapsErrorToAnswer(t *testing.T) {
	s := newTestSession()
	require.Equal(t, Answer404, s.Fail(errs.ErrHostNotFound))
	require.Equal(t, Answer503, s.Fail(errs.ErrNoBackendAvailable))
	require.Equal(t, Answer400, s.Fail(errs.ErrNoHostGiven))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := newTestSession()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, PhaseClosed, s.Phase)
}
