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
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// ExpectProxyProtocol wraps conn so PhaseExpect can transparently parse an
// optional leading PROXY protocol v1/v2 header (spec §4.1) before the TLS
// handshake or HTTP parsing ever sees the stream. Listeners that don't
// expect PROXY protocol skip this step entirely.
//
// The header is parsed lazily by go-proxyproto on the connection's first
// Read call, so the returned net.Conn can be handed straight to
// PhaseHandshake/PhaseHTTP without the session doing anything PROXY-protocol
// specific itself.
//
// Grounded on the listener-wrapping style in listeners.go's
// PacketConnWrapper, generalized to net.Conn; the wire format itself is
// delegated to github.com/pires/go-proxyproto, the canonical library for
// this exact concern.
func ExpectProxyProtocol(conn net.Conn, headerTimeout time.Duration) net.Conn {
	return proxyproto.NewConn(conn, proxyproto.WithReadHeaderTimeout(headerTimeout))
}

// SourceAddr returns the original client address carried by a PROXY
// protocol header, falling back to conn.RemoteAddr() when none was sent.
func SourceAddr(conn net.Conn) net.Addr {
	if pc, ok := conn.(*proxyproto.Conn); ok {
		if hdr := pc.ProxyHeader(); hdr != nil {
			return hdr.SourceAddr
		}
	}
	return conn.RemoteAddr()
}
