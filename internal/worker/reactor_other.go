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

//go:build !linux

package worker

import (
	"sync"
)

// Reactor on non-Linux platforms is a minimal readiness-polling stand-in
// so the package builds for local development off the production target
// (epoll on Linux, mirrored by reactor_linux.go). It tracks registered
// interest and reports everything as ready on each Wait call rather than
// blocking on real kernel readiness notification, the same build-tag
// split Caddy's own listener code draws around platform-specific socket
// options.
type Reactor struct {
	mu        sync.Mutex
	interests map[int]Ready
}

func NewReactor() (*Reactor, error) {
	return &Reactor{interests: make(map[int]Ready)}, nil
}

type Ready struct {
	Token   Token
	Read    bool
	Write   bool
	HangUp  bool
	ErrorEv bool
}

func (r *Reactor) Register(fd int, tok Token, read, write bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interests[fd] = Ready{Token: tok, Read: read, Write: write}
	return nil
}

func (r *Reactor) Modify(fd int, tok Token, read, write bool) error {
	return r.Register(fd, tok, read, write)
}

func (r *Reactor) Deregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.interests, fd)
	return nil
}

func (r *Reactor) Wait(dst []Ready, timeoutMillis int) ([]Ready, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ready := range r.interests {
		dst = append(dst, ready)
	}
	return dst, nil
}

func (r *Reactor) Close() error {
	return nil
}
