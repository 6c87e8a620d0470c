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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
)

func drain(t *testing.T, q *buffer.Queue) string {
	t.Helper()
	var out []byte
	_, err := q.Write(func(b []byte) (int, error) {
		out = append(out, b...)
		return len(b), nil
	})
	require.NoError(t, err)
	return string(out)
}

func TestRequestParserInsertsForwardedBlock(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewRequestParser("", false, ForwardingInfo{
		ClientAddr: "10.0.0.1:5555",
		Proto:      "http",
		ListenPort: "8080",
		RequestID:  "test-id",
	}, "edge-1")

	q.BeginParse()
	require.NoError(t, p.Step(q))
	require.Equal(t, ReqEnded, p.State.Kind)

	out := drain(t, q)
	require.True(t, strings.HasPrefix(out, "GET / HTTP/1.1\r\nHost: example.com\r\n"))
	require.Contains(t, out, "X-Forwarded-For: 10.0.0.1\r\n")
	require.Contains(t, out, "Sozu-Id: test-id\r\n")
	require.Contains(t, out, "Forwarded: proto=http;for=10.0.0.1;by=edge-1\r\n")
	require.True(t, strings.HasSuffix(out, "\r\n\r\n"))
}

func TestRequestParserNeedsMoreData(t *testing.T) {
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), "GET / HTTP/1.1\r\nHost: exa")
	q.Fill(n)

	p := NewRequestParser("", false, ForwardingInfo{RequestID: "x"}, "edge-1")
	q.BeginParse()
	err := p.Step(q)
	require.ErrorIs(t, err, NeedMore)
	require.Equal(t, ReqHasRequestLine, p.State.Kind)
}

func TestRequestParserChunkedBodyPassesThrough(t *testing.T) {
	raw := "POST /u HTTP/1.1\r\nHost: e.com\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewRequestParser("", false, ForwardingInfo{RequestID: "id"}, "edge-1")
	q.BeginParse()
	require.NoError(t, p.Step(q))
	require.Equal(t, ReqEnded, p.State.Kind)

	out := drain(t, q)
	require.Contains(t, out, "5\r\nhello\r\n0\r\n\r\n")
}

func TestRequestParserDeletesConnectionAndStickyCookie(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: e.com\r\nConnection: close\r\nCookie: SERVERID=b1; lang=en\r\n\r\n"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewRequestParser("SERVERID", false, ForwardingInfo{RequestID: "id"}, "edge-1")
	q.BeginParse()
	require.NoError(t, p.Step(q))

	out := drain(t, q)
	require.NotContains(t, out, "Connection:")
	require.NotContains(t, out, "SERVERID=b1")
	require.Contains(t, out, "Cookie: lang=en")
	require.False(t, p.KeepAlive())
}

func TestKeepAliveDefaults(t *testing.T) {
	p11 := &RequestParser{Version: "HTTP/1.1"}
	require.True(t, p11.KeepAlive())

	p10 := &RequestParser{Version: "HTTP/1.0"}
	require.False(t, p10.KeepAlive())

	p10.conn.add("keep-alive")
	require.True(t, p10.KeepAlive())
}
