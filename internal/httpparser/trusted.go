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

import "net"

// PrivateRangesCIDR returns the CIDR blocks of a peer a listener trusts
// by default to have set its own Forwarded/X-Forwarded-For header
// truthfully (an upstream load balancer on the private network), the same
// private-ranges shortcut used elsewhere to seed trusted_proxies.
func PrivateRangesCIDR() []string {
	return []string{
		"192.168.0.0/16",
		"172.16.0.0/12",
		"10.0.0.0/8",
		"127.0.0.1/8",
		"fd00::/8",
		"::1/128",
	}
}

// TrustedProxies decides, from a set of CIDR blocks, whether an inbound
// connection's address is allowed to have its own Forwarded/X-Forwarded-*
// header chain appended to rather than replaced (spec §4.2's
// forwarded-header rewriting).
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies parses cidrs (e.g. PrivateRangesCIDR(), or an
// operator-supplied list from an AddListener control payload) into a
// TrustedProxies matcher. Malformed entries are skipped rather than
// rejected outright, since one bad entry in an otherwise-valid config
// shouldn't leave the listener permanently untrusting.
func NewTrustedProxies(cidrs []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		tp.nets = append(tp.nets, ipnet)
	}
	return tp
}

// Contains reports whether addr (host, or host:port) falls within any of
// the trusted CIDR blocks.
func (tp *TrustedProxies) Contains(addr string) bool {
	if tp == nil {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range tp.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
