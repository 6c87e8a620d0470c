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

// Package buffer implements the fixed-capacity byte buffer pool and the
// zero-copy BufferQueue that sessions use to stage bytes between a socket
// and the HTTP/1 parser/rewriter.
package buffer

import "fmt"

// Pool is a fixed-capacity pool of equal-sized byte buffers, lent on
// Checkout and returned on Release. It is only ever touched from the
// single worker goroutine that owns it, so no locking is required (see
// spec §5, "Shared resources").
type Pool struct {
	bufSize int
	free    [][]byte
	checked int
	total   int
}

// NewPool preconditions count fixed-size buffers of bufSize bytes each.
func NewPool(count, bufSize int) *Pool {
	p := &Pool{
		bufSize: bufSize,
		free:    make([][]byte, 0, count),
		total:   count,
	}
	for i := 0; i < count; i++ {
		p.free = append(p.free, make([]byte, bufSize))
	}
	return p
}

// Checkout lends one buffer from the pool. It returns false if the pool is
// exhausted; the caller must mask its read interest until a buffer is
// Released (spec §5, "BufferPool ... Exhaustion blocks a session").
func (p *Pool) Checkout() ([]byte, bool) {
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	p.checked++
	return buf, true
}

// Release returns a buffer to the pool. The slice is truncated back to its
// full capacity and its contents are not zeroed; callers must not retain
// any reference to buf after calling Release.
func (p *Pool) Release(buf []byte) {
	if cap(buf) != p.bufSize {
		panic(fmt.Sprintf("buffer: released buffer has wrong capacity: got %d, want %d", cap(buf), p.bufSize))
	}
	p.free = append(p.free, buf[:p.bufSize])
	p.checked--
}

// Available reports how many buffers are currently free.
func (p *Pool) Available() int { return len(p.free) }

// Capacity reports the total number of buffers the pool was created with.
func (p *Pool) Capacity() int { return p.total }

// BufferSize reports the fixed size, in bytes, of each buffer in the pool.
func (p *Pool) BufferSize() int { return p.bufSize }

// Exhausted reports whether every buffer in the pool is currently checked
// out.
func (p *Pool) Exhausted() bool { return len(p.free) == 0 }
