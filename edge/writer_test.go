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

package edge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/proto"
)

// failingEngine always rejects writes, used to simulate a remote
// partition whose commit never durably lands.
type failingEngine struct {
	kvstore.Engine
}

func (failingEngine) Put(key, value []byte) error           { return errors.New("simulated failure") }
func (failingEngine) MultiPut(kvs []kvstore.KVPair) error    { return errors.New("simulated failure") }
func (failingEngine) Get(key []byte) ([]byte, bool, error)   { return nil, false, nil }
func (failingEngine) MultiRemove(keys [][]byte) error        { return nil }
func (failingEngine) RemoveRange(start, end []byte) error    { return nil }
func (failingEngine) Scan(start, end []byte) kvstore.Iterator { return kvstore.NewBTreeEngine().Scan(start, end) }
func (failingEngine) Snapshot() (kvstore.Snapshot, error)    { return nil, nil }
func (failingEngine) Close() error                           { return nil }

func schema(edgeType proto.SchemaId) *proto.Schema {
	return &proto.Schema{Id: edgeType, Columns: []proto.ColumnDef{{Name: "weight", Type: proto.TypeInt64}}}
}

func buildTestWriter(t *testing.T, remoteFails bool) (*Writer, *kvstore.Store, proto.PartId, proto.PartId) {
	t.Helper()
	mgr := kvstore.NewManager()
	store := kvstore.NewTestStore(mgr)

	localEngine := kvstore.NewBTreeEngine()
	store.StartTestPartition(1, 1, localEngine, kvstore.NewLoopbackPartition(localEngine), nil)

	var remoteEngine kvstore.Engine
	if remoteFails {
		remoteEngine = failingEngine{Engine: kvstore.NewBTreeEngine()}
	} else {
		remoteEngine = kvstore.NewBTreeEngine()
	}
	store.StartTestPartition(1, 2, remoteEngine, kvstore.NewLoopbackPartition(remoteEngine), nil)

	txn := NewTxnManager(store)
	vidLen := func(space proto.SpaceId) (int, bool) { return 8, true }
	partOf := func(space proto.SpaceId, vid proto.VertexId) (proto.PartId, bool) {
		if len(vid) > 0 && vid[0] == 'B' {
			return 2, true
		}
		return 1, true
	}
	schemaFn := func(edgeType proto.SchemaId) (*proto.Schema, bool) { return schema(edgeType), true }
	indexFn := func(space proto.SpaceId) []*proto.IndexItem { return nil }

	w := NewWriter(txn, vidLen, partOf, schemaFn, indexFn, proto.NewRowCodec())
	return w, store, 1, 2
}

func TestAddEdgesAtomicSuccess(t *testing.T) {
	w, store, local, remote := buildTestWriter(t, false)

	req := &proto.AddEdgesRequest{
		SpaceId: 1,
		Parts: map[proto.PartId][]proto.NewEdge{
			local: {{
				Key:   proto.EdgeKey{Src: proto.VertexId("AAAAAAAA"), EdgeType: 10, Rank: 0, Dst: proto.VertexId("BBBBBBBB")},
				Props: map[string]proto.Value{"weight": {Type: proto.TypeInt64, I: 42}},
			}},
		},
	}
	resp := w.AddEdgesAtomic(req)
	require.False(t, resp.Failed())

	outKey := proto.EncodeKey(local, req.Parts[local][0].Key)
	_, ok, _ := store.Get(1, local, outKey)
	require.True(t, ok)

	inKey := proto.EncodeKey(remote, req.Parts[local][0].Key.Reversed())
	_, ok, _ = store.Get(1, remote, inKey)
	require.True(t, ok)
}

func TestAddEdgesAtomicRemoteFailureLeavesNeitherSideVisible(t *testing.T) {
	w, store, local, remote := buildTestWriter(t, true)

	key := proto.EdgeKey{Src: proto.VertexId("AAAAAAAA"), EdgeType: 10, Rank: 0, Dst: proto.VertexId("BBBBBBBB")}
	req := &proto.AddEdgesRequest{
		SpaceId: 1,
		Parts: map[proto.PartId][]proto.NewEdge{
			local: {{Key: key, Props: map[string]proto.Value{"weight": {Type: proto.TypeInt64, I: 42}}}},
		},
	}
	resp := w.AddEdgesAtomic(req)
	require.True(t, resp.Failed())
	require.Equal(t, local, resp.Results[0].PartId)

	outKey := proto.EncodeKey(local, key)
	_, ok, _ := store.Get(1, local, outKey)
	require.False(t, ok, "local side must be rolled back when the remote side fails")

	inKey := proto.EncodeKey(remote, key.Reversed())
	_, ok, _ = store.Get(1, remote, inKey)
	require.False(t, ok)
}

func TestAddEdgesAtomicVidLengthMismatch(t *testing.T) {
	w, _, local, _ := buildTestWriter(t, false)

	req := &proto.AddEdgesRequest{
		SpaceId: 1,
		Parts: map[proto.PartId][]proto.NewEdge{
			local: {{Key: proto.EdgeKey{Src: proto.VertexId("A"), EdgeType: 10, Dst: proto.VertexId("BBBBBBBB")}}},
		},
	}
	resp := w.AddEdgesAtomic(req)
	require.True(t, resp.Failed())
	require.Equal(t, proto.InvalidSpaceVidLen, resp.Results[0].Code)
}

func TestAddEdgesAtomicInvalidSpaceVidLen(t *testing.T) {
	w, _, local, _ := buildTestWriter(t, false)
	w.vidLen = func(space proto.SpaceId) (int, bool) { return 0, false }

	req := &proto.AddEdgesRequest{
		SpaceId: 1,
		Parts:   map[proto.PartId][]proto.NewEdge{local: {{}}},
	}
	resp := w.AddEdgesAtomic(req)
	require.True(t, resp.Failed())
	require.Equal(t, proto.InvalidSpaceVidLen, resp.Results[0].Code)
}
