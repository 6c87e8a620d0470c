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

package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffDoublesDelay(t *testing.T) {
	now := time.Unix(0, 0)
	e := NewExponentialBackoff(6)
	e.now = func() time.Time { return now }

	require.True(t, e.CanTry())
	e.Fail()
	require.False(t, e.CanTry(), "immediately after a failure the backend is blocked")

	now = now.Add(90 * time.Millisecond)
	require.False(t, e.CanTry(), "100ms base delay hasn't elapsed yet")

	now = now.Add(20 * time.Millisecond)
	require.True(t, e.CanTry())

	e.Succeed()
	require.True(t, e.CanTry())
}

func TestExponentialBackoffExhausts(t *testing.T) {
	now := time.Unix(0, 0)
	e := NewExponentialBackoff(3)
	e.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		e.Fail()
		now = now.Add(time.Hour)
	}
	require.True(t, e.Exhausted())
	require.False(t, e.CanTry(), "exhausted policy stays blocked regardless of elapsed time")

	e.Succeed()
	require.False(t, e.Exhausted())
	require.True(t, e.CanTry())
}

func TestRoundRobinSkipsUnavailable(t *testing.T) {
	pool := []*Backend{
		NewBackend("a", "10.0.0.1:80", 1),
		NewBackend("b", "10.0.0.2:80", 1),
		NewBackend("c", "10.0.0.3:80", 1),
	}
	pool[1].retry.Fail() // b becomes unavailable

	s := &RoundRobinSelection{}
	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		b := s.Select(pool)
		require.NotNil(t, b)
		seen[b.ID] = true
	}
	require.False(t, seen["b"])
	require.True(t, seen["a"])
	require.True(t, seen["c"])
}

func TestLeastConnPicksFewestActive(t *testing.T) {
	pool := []*Backend{
		NewBackend("a", "10.0.0.1:80", 1),
		NewBackend("b", "10.0.0.2:80", 1),
	}
	pool[0].CountConnection(5)

	s := LeastConnSelection{}
	b := s.Select(pool)
	require.Equal(t, "b", b.ID)
}

func TestClusterStickySessionWinsOverPolicy(t *testing.T) {
	c := NewCluster("cl1", &RoundRobinSelection{}, nil)
	c.AddBackend(NewBackend("a", "10.0.0.1:80", 1))
	c.AddBackend(NewBackend("b", "10.0.0.2:80", 1))

	b, err := c.Select("b")
	require.NoError(t, err)
	require.Equal(t, "b", b.ID)
}

func TestClusterSelectReturnsErrWhenEmpty(t *testing.T) {
	c := NewCluster("cl1", nil, nil)
	_, err := c.Select("")
	require.Error(t, err)
}

func TestClusterSelectExcludingSkipsTriedBackends(t *testing.T) {
	c := NewCluster("cl1", &RoundRobinSelection{}, nil)
	c.AddBackend(NewBackend("a", "10.0.0.1:80", 1))
	c.AddBackend(NewBackend("b", "10.0.0.2:80", 1))

	tried := map[string]bool{"a": true}
	for i := 0; i < 4; i++ {
		b, err := c.SelectExcluding("", tried)
		require.NoError(t, err)
		require.Equal(t, "b", b.ID)
	}
}

func TestClusterSelectExcludingErrsWhenAllTried(t *testing.T) {
	c := NewCluster("cl1", &RoundRobinSelection{}, nil)
	c.AddBackend(NewBackend("a", "10.0.0.1:80", 1))
	c.AddBackend(NewBackend("b", "10.0.0.2:80", 1))

	_, err := c.SelectExcluding("", map[string]bool{"a": true, "b": true})
	require.Error(t, err)
}

func TestClusterSelectExcludingIgnoresStickyIDOnceTried(t *testing.T) {
	c := NewCluster("cl1", &RoundRobinSelection{}, nil)
	c.AddBackend(NewBackend("a", "10.0.0.1:80", 1))
	c.AddBackend(NewBackend("b", "10.0.0.2:80", 1))

	b, err := c.SelectExcluding("a", map[string]bool{"a": true})
	require.NoError(t, err)
	require.Equal(t, "b", b.ID)
}

func TestClusterFiresDownUpEventsOncePerEpisode(t *testing.T) {
	var events []Event
	c := NewCluster("cl1", &RoundRobinSelection{}, func(e Event) { events = append(events, e) })
	b := NewBackend("a", "10.0.0.1:80", 1)
	c.AddBackend(b)

	b.retry.Fail()
	_, _ = c.Select("")
	_, _ = c.Select("") // second observation must not re-fire BackendDown

	require.Len(t, events, 1)
	require.False(t, events[0].Up)

	b.retry.Succeed()
	_, _ = c.Select("")

	require.Len(t, events, 2)
	require.True(t, events[1].Up)
}

func TestClusterRemoveBackendDrainsAfterConnectionsClose(t *testing.T) {
	c := NewCluster("cl1", nil, nil)
	b := NewBackend("a", "10.0.0.1:80", 1)
	b.CountConnection(1)
	c.AddBackend(b)

	c.RemoveBackend("a")
	require.Equal(t, StatusClosing, b.Status())

	c.Drain()
	require.Equal(t, StatusClosing, b.Status(), "still has an active connection")

	b.CountConnection(-1)
	c.Drain()
	require.Equal(t, StatusClosed, b.Status())
}
