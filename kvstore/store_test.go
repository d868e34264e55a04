// Copyright 2024 The Nebulacore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBTreeEngineRoundTrip(t *testing.T) {
	e := NewBTreeEngine()
	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.MultiPut([]KVPair{{Key: []byte("b"), Value: []byte("2")}, {Key: []byte("c"), Value: []byte("3")}}))

	v, ok, err := e.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)

	_, ok, err = e.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBTreeEngineScanOrdering(t *testing.T) {
	e := NewBTreeEngine()
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, e.Put([]byte(k), []byte(k)))
	}
	it := e.Scan([]byte("a"), nil)
	var got []string
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, string(k))
	}
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBTreeEngineRemoveRange(t *testing.T) {
	e := NewBTreeEngine()
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Put([]byte(k), []byte(k)))
	}
	require.NoError(t, e.RemoveRange([]byte("b"), []byte("d")))
	_, ok, _ := e.Get([]byte("b"))
	require.False(t, ok)
	_, ok, _ = e.Get([]byte("c"))
	require.False(t, ok)
	_, ok, _ = e.Get([]byte("d"))
	require.True(t, ok)
}

func TestReadsRefusedOnFollowerWhenCheckLeader(t *testing.T) {
	mgr := NewManager()
	store := NewStore(mgr, nil, 1, true)
	engine := NewBTreeEngine()
	fake := NewLoopbackPartition(engine)
	fake.SetLeader(false)
	store.StartTestPartition(1, 1, engine, fake, nil)

	_, _, err := store.Get(1, 1, []byte("k"))
	require.ErrorIs(t, err, ErrNotLeader)

	_, err = store.Scan(1, 1, nil, nil)
	require.ErrorIs(t, err, ErrNotLeader)
}

func TestManagerAddPartIdempotent(t *testing.T) {
	m := NewManager()
	m.AddPart(0, 0, nil)
	m.AddPart(0, 0, nil)
	ids := m.Parts(0)
	require.Len(t, ids, 1)

	_, err := m.Peers(1, 5)
	require.ErrorIs(t, err, ErrPartNotFound)
}
