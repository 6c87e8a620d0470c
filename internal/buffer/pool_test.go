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

package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolCheckoutExhaustion(t *testing.T) {
	p := NewPool(2, 16)
	require.Equal(t, 2, p.Available())

	b1, ok := p.Checkout()
	require.True(t, ok)
	b2, ok := p.Checkout()
	require.True(t, ok)
	require.True(t, p.Exhausted())

	_, ok = p.Checkout()
	require.False(t, ok, "third checkout should fail: pool only has 2 buffers")

	p.Release(b1)
	require.False(t, p.Exhausted())
	p.Release(b2)
	require.Equal(t, 2, p.Available())
}

func TestQueueAdvanceAndWrite(t *testing.T) {
	q := NewQueue(make([]byte, 32))
	n := copy(q.InputSpace(), []byte("GET / HTTP/1.1\r\n"))
	q.Fill(n)

	q.BeginParse()
	q.Advance(16) // slice the whole request line through verbatim

	var out []byte
	drained, err := q.Write(func(b []byte) (int, error) {
		out = append(out, b...)
		return len(b), nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, drained)
	require.Equal(t, "GET / HTTP/1.1\r\n", string(out))
	require.True(t, q.CanRestartParsing())
}

func TestQueueDeleteAndInsertFaithfulness(t *testing.T) {
	q := NewQueue(make([]byte, 64))
	n := copy(q.InputSpace(), []byte("Connection: close\r\n"))
	q.Fill(n)

	q.BeginParse()
	q.ApplyEdit(Delete(len("Connection: close\r\n")))
	q.ApplyEdit(Insert([]byte("Sozu-Id: abc\r\n")))

	var out []byte
	_, err := q.Write(func(b []byte) (int, error) {
		out = append(out, b...)
		return len(b), nil
	})
	require.NoError(t, err)
	require.Equal(t, "Sozu-Id: abc\r\n", string(out))
}

func TestPoolReleaseWrongCapacityPanics(t *testing.T) {
	p := NewPool(1, 16)
	defer func() {
		require.NotNil(t, recover())
	}()
	p.Release(make([]byte, 8))
}
