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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
)

func TestResponseParserInsertsSozuID(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewResponseParser("GET", false, "", "req-42")
	q.BeginParse()
	require.NoError(t, p.Step(q))
	require.Equal(t, RespEnded, p.State.Kind)

	out := drain(t, q)
	require.Contains(t, out, "Sozu-Id: req-42\r\n")
	require.Contains(t, out, "ok")
}

func TestResponseParserCloseDelimited(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n\r\nsome body without a length"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewResponseParser("GET", false, "", "id")
	q.BeginParse()
	require.NoError(t, p.Step(q))
	require.Equal(t, RespResponseWithBodyCloseDelimited, p.State.Kind)
}

func TestResponseParserHeadNotCloseDelimited(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\n\r\n"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewResponseParser("HEAD", false, "", "id")
	q.BeginParse()
	require.NoError(t, p.Step(q))
	require.Equal(t, RespEnded, p.State.Kind)
}

func TestResponseParserStickySetCookie(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewResponseParser("GET", false, "SERVERID", "id")
	p.StickyBackendID = "backend-7"
	q.BeginParse()
	require.NoError(t, p.Step(q))

	out := drain(t, q)
	require.Contains(t, out, "Set-Cookie: SERVERID=backend-7; Path=/\r\n")
}

func TestResponseParserUpgrade(t *testing.T) {
	raw := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"
	q := buffer.NewQueue(make([]byte, 512))
	n := copy(q.InputSpace(), raw)
	q.Fill(n)

	p := NewResponseParser("GET", false, "", "id")
	q.BeginParse()
	require.NoError(t, p.Step(q))
	require.Equal(t, RespEnded, p.State.Kind)
}
