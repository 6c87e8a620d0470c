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

//go:build linux

package worker

import (
	"golang.org/x/sys/unix"
)

// Reactor is the edge-triggered readiness multiplexer spec §2 and §5
// require: one epoll instance per worker, registering read/write
// readiness per fd and reporting which Token became ready on each
// Wait call. Grounded on listen_unix.go's direct golang.org/x/sys/unix
// syscalls for socket options, generalized here to the epoll family of
// calls from the same package.
type Reactor struct {
	epfd int
}

// NewReactor creates a new epoll instance.
func NewReactor() (*Reactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Reactor{epfd: fd}, nil
}

// Ready describes one fd's readiness as reported by a Wait call.
type Ready struct {
	Token   Token
	Read    bool
	Write   bool
	HangUp  bool
	ErrorEv bool
}

func packEvent(tok Token, read, write bool) unix.EpollEvent {
	var events uint32 = unix.EPOLLET // edge-triggered, per spec §2
	if read {
		events |= unix.EPOLLIN
	}
	if write {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events}
	ev.Fd = int32(tok)
	return ev
}

// Register adds fd to the epoll set under identity tok, interested in
// read and/or write readiness.
func (r *Reactor) Register(fd int, tok Token, read, write bool) error {
	ev := packEvent(tok, read, write)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes the readiness interest for an already-registered fd.
func (r *Reactor) Modify(fd int, tok Token, read, write bool) error {
	ev := packEvent(tok, read, write)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Deregister removes fd from the epoll set.
func (r *Reactor) Deregister(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready or timeoutMillis
// elapses (-1 blocks indefinitely), appending results to dst and
// returning the extended slice.
func (r *Reactor) Wait(dst []Ready, timeoutMillis int) ([]Ready, error) {
	var raw [256]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, raw[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}
	for i := 0; i < n; i++ {
		ev := raw[i]
		dst = append(dst, Ready{
			Token:   Token(ev.Fd),
			Read:    ev.Events&unix.EPOLLIN != 0,
			Write:   ev.Events&unix.EPOLLOUT != 0,
			HangUp:  ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
			ErrorEv: ev.Events&unix.EPOLLERR != 0,
		})
	}
	return dst, nil
}

// Close releases the epoll fd.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
