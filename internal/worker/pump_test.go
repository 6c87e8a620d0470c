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
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/buffer"
	"github.com/edgeproxy/edgeproxy/internal/httpparser"
)

func TestPumpMessageRelaysFullRequest(t *testing.T) {
	clientSide, frontend := net.Pipe()
	backend, backendSide := net.Pipe()
	defer clientSide.Close()
	defer frontend.Close()
	defer backend.Close()
	defer backendSide.Close()

	raw := "GET /widgets HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"
	go func() {
		clientSide.Write([]byte(raw))
	}()

	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 4096)
		var out []byte
		backendSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			n, err := backendSide.Read(buf)
			out = append(out, buf[:n]...)
			if err != nil {
				break
			}
		}
		received <- string(out)
	}()

	q := buffer.NewQueue(make([]byte, 4096))
	p := httpparser.NewRequestParser("", false, httpparser.ForwardingInfo{
		ClientAddr: "10.0.0.1:5555",
		Proto:      "http",
		ListenPort: "80",
		RequestID:  "req-1",
	}, "edge-1")

	frontend.SetReadDeadline(time.Now().Add(2 * time.Second))
	err := pumpMessage(frontend, backend, q, p.Step)
	require.NoError(t, err)
	require.Equal(t, httpparser.ReqEnded, p.State.Kind)

	backend.Close()
	out := <-received
	require.Contains(t, out, "GET /widgets HTTP/1.1\r\n")
	require.Contains(t, out, "X-Forwarded-For: 10.0.0.1\r\n")
}

func TestAwaitContinueRelaysInterimResponse(t *testing.T) {
	backend, backendSide := net.Pipe()
	frontendSide, frontend := net.Pipe()
	defer backend.Close()
	defer backendSide.Close()
	defer frontendSide.Close()
	defer frontend.Close()

	go func() {
		backendSide.Write([]byte("HTTP/1.1 100 Continue\r\n\r\n"))
	}()

	relayed := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		frontendSide.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := frontendSide.Read(buf)
		relayed <- string(buf[:n])
	}()

	q := buffer.NewQueue(make([]byte, 256))
	backend.SetReadDeadline(time.Now().Add(2 * time.Second))
	continued, err := awaitContinue(backend, frontend, q)
	require.NoError(t, err)
	require.True(t, continued)
	require.Equal(t, "HTTP/1.1 100 Continue\r\n\r\n", <-relayed)
	require.Equal(t, 0, q.UnparsedLen(), "the interim response must be fully consumed")
}

func TestAwaitContinueLeavesFinalResponseUnconsumed(t *testing.T) {
	backend, backendSide := net.Pipe()
	frontendSide, frontend := net.Pipe()
	defer backend.Close()
	defer backendSide.Close()
	defer frontendSide.Close()
	defer frontend.Close()

	go func() {
		backendSide.Write([]byte("HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n"))
	}()

	q := buffer.NewQueue(make([]byte, 256))
	backend.SetReadDeadline(time.Now().Add(2 * time.Second))
	continued, err := awaitContinue(backend, frontend, q)
	require.NoError(t, err)
	require.False(t, continued)
	require.Equal(t, 0, q.ParsedLen(), "a non-100 response is left for the response parser to read fresh")
	require.Contains(t, string(q.InputView()), "417 Expectation Failed")
}

func TestPumpMessagePropagatesReadError(t *testing.T) {
	frontend, client := net.Pipe()
	backend, backendSide := net.Pipe()
	defer backendSide.Close()

	client.Close() // closing the peer immediately makes frontend.Read return io.EOF

	q := buffer.NewQueue(make([]byte, 256))
	p := httpparser.NewRequestParser("", false, httpparser.ForwardingInfo{}, "edge-1")

	err := pumpMessage(frontend, backend, q, p.Step)
	require.Error(t, err)
	require.True(t, errors.Is(err, io.EOF), "expected the underlying pipe error to be wrapped, got: %v", err)
}
