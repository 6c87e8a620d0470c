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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgeproxy/edgeproxy/internal/session"
)

func TestTimerWheelFiresExpiredEntriesInDeadlineOrder(t *testing.T) {
	w := NewTimerWheel()
	fakeNow := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fakeNow }

	w.Schedule(10, session.TimeoutRequest, 2*time.Second)
	w.Schedule(11, session.TimeoutConnect, 1*time.Second)

	fakeNow = fakeNow.Add(3 * time.Second)
	fired := w.Fired()
	require.Len(t, fired, 2)
	require.Equal(t, Token(11), fired[0].tok)
	require.Equal(t, Token(10), fired[1].tok)
}

func TestTimerWheelCancelPreventsFiring(t *testing.T) {
	w := NewTimerWheel()
	fakeNow := time.Now()
	w.now = func() time.Time { return fakeNow }

	w.Schedule(5, session.TimeoutResponse, time.Second)
	w.Cancel(5, session.TimeoutResponse)

	fakeNow = fakeNow.Add(2 * time.Second)
	require.Empty(t, w.Fired())
}

func TestTimerWheelScheduleReplacesSameKind(t *testing.T) {
	w := NewTimerWheel()
	fakeNow := time.Now()
	w.now = func() time.Time { return fakeNow }

	w.Schedule(7, session.TimeoutRequest, time.Second)
	w.Schedule(7, session.TimeoutRequest, 5*time.Second)

	fakeNow = fakeNow.Add(2 * time.Second)
	require.Empty(t, w.Fired(), "the second Schedule call should have replaced the first deadline")
}

func TestTimerWheelCancelAllClearsEveryKind(t *testing.T) {
	w := NewTimerWheel()
	fakeNow := time.Now()
	w.now = func() time.Time { return fakeNow }

	w.Schedule(3, session.TimeoutRequest, time.Second)
	w.Schedule(3, session.TimeoutResponse, time.Second)
	w.CancelAll(3)

	fakeNow = fakeNow.Add(2 * time.Second)
	require.Empty(t, w.Fired())
}

func TestTimerWheelNextDeadlineReportsEarliest(t *testing.T) {
	w := NewTimerWheel()
	fakeNow := time.Now()
	w.now = func() time.Time { return fakeNow }

	_, ok := w.NextDeadline()
	require.False(t, ok)

	w.Schedule(1, session.TimeoutRequest, 5*time.Second)
	w.Schedule(2, session.TimeoutConnect, time.Second)

	d, ok := w.NextDeadline()
	require.True(t, ok)
	require.True(t, d.Equal(fakeNow.Add(time.Second)))
}
