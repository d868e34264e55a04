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
	"golang.org/x/sync/errgroup"

	"github.com/nebula-contrib/nebulacore/kvstore"
	"github.com/nebula-contrib/nebulacore/proto"
)

// VidLenResolver returns the configured vertex-id length for a space, or
// false if the space is unknown.
type VidLenResolver func(space proto.SpaceId) (int, bool)

// PartOfResolver hashes a vertex id to its owning partition within a
// space, or false on resolution failure.
type PartOfResolver func(space proto.SpaceId, vid proto.VertexId) (proto.PartId, bool)

// SchemaResolver returns the edge schema for |edgeType|, used to encode
// each new edge's row value.
type SchemaResolver func(edgeType proto.SchemaId) (*proto.Schema, bool)

// IndexResolver returns any secondary edge indexes defined for the
// space, so their entries can be written inside the same transaction.
type IndexResolver func(space proto.SpaceId) []*proto.IndexItem

// Writer is the atomic edge writer: it groups an AddEdgesRequest into
// (local_part, remote_part) chains and drives each through the
// transaction manager, aggregating per-partition failures.
type Writer struct {
	txn     *TxnManager
	vidLen  VidLenResolver
	partOf  PartOfResolver
	schema  SchemaResolver
	indexes IndexResolver
	codec   proto.RowCodec
}

// NewWriter wires the edge writer to its collaborators.
func NewWriter(txn *TxnManager, vidLen VidLenResolver, partOf PartOfResolver, schema SchemaResolver, indexes IndexResolver, codec proto.RowCodec) *Writer {
	return &Writer{txn: txn, vidLen: vidLen, partOf: partOf, schema: schema, indexes: indexes, codec: codec}
}

type chainBatch struct {
	local, remote []kvstore.KVPair
	index         []kvstore.KVPair
}

// AddEdgesAtomic resolves, encodes, groups and commits the request's
// edges, finishing only once every chain has resolved.
func (w *Writer) AddEdgesAtomic(req *proto.AddEdgesRequest) *proto.ExecResponse {
	resp := &proto.ExecResponse{}

	// Step 1: resolve vid length once; on failure every listed partition
	// fails with InvalidSpaceVidLen and we finish immediately.
	vidLen, ok := w.vidLen(req.SpaceId)
	if !ok {
		for part := range req.Parts {
			resp.Results = append(resp.Results, proto.PartitionResult{Code: proto.InvalidSpaceVidLen, PartId: part})
		}
		return resp
	}

	batches := make(map[Chain]*chainBatch)

	// Steps 2-3: resolve remote partitions and encode rows; any failure
	// aborts the whole request (request-level abort, per the resolved
	// open question), recording the failing partition's code.
	for local, edges := range req.Parts {
		for _, e := range edges {
			if len(e.Key.Src) != vidLen || len(e.Key.Dst) != vidLen {
				resp.Results = append(resp.Results, proto.PartitionResult{Code: proto.InvalidSpaceVidLen, PartId: local})
				return resp
			}
			remote, ok := w.partOf(req.SpaceId, e.Key.Dst)
			if !ok {
				resp.Results = append(resp.Results, proto.PartitionResult{Code: proto.SpaceNotFound, PartId: local})
				return resp
			}

			schemaID := e.Key.EdgeType
			if schemaID < 0 {
				schemaID = -schemaID
			}
			schema, ok := w.schema(schemaID)
			if !ok {
				resp.Results = append(resp.Results, proto.PartitionResult{Code: proto.SchemaNotFound, PartId: local})
				return resp
			}
			encoded, fault, err := w.codec.Encode(schema, e.Props)
			if err != nil {
				resp.Results = append(resp.Results, proto.PartitionResult{Code: proto.TranslateEdgeFault(fault), PartId: local})
				return resp
			}

			chain := Chain{Local: local, Remote: remote}
			b, ok := batches[chain]
			if !ok {
				b = &chainBatch{}
				batches[chain] = b
			}
			outKey := proto.EncodeKey(local, e.Key)
			inKey := proto.EncodeKey(remote, e.Key.Reversed())
			b.local = append(b.local, kvstore.KVPair{Key: outKey, Value: encoded})
			b.remote = append(b.remote, kvstore.KVPair{Key: inKey, Value: encoded})

			for _, idx := range w.indexes(req.SpaceId) {
				if idx.IsEdge && idx.SchemaId == e.Key.EdgeType {
					b.index = append(b.index, kvstore.KVPair{Key: indexEntryKey(idx, local, e), Value: nil})
				}
			}
		}
	}

	// Steps 4-6: submit every chain concurrently and wait for them all.
	type chainResult struct {
		chain Chain
		code  proto.KVCode
	}
	results := make([]chainResult, len(batches))
	chains := make([]Chain, 0, len(batches))
	for c := range batches {
		chains = append(chains, c)
	}

	var g errgroup.Group
	for i, chain := range chains {
		i, chain := i, chain
		b := batches[chain]
		g.Go(func() error {
			code := w.txn.AddSamePartEdges(req.SpaceId, chain, b.local, b.remote, b.index)
			results[i] = chainResult{chain: chain, code: code}
			return nil
		})
	}
	_ = g.Wait() // chain commits never return an error value; codes carry the outcome

	// Step 7: finish once all chains have resolved.
	for _, r := range results {
		if r.code != proto.KVSucceeded {
			resp.Results = append(resp.Results, proto.PartitionResult{Code: proto.TranslateKVCode(r.code), PartId: r.chain.Local})
		}
	}
	return resp
}

// indexEntryKey is a placeholder composite key for a secondary edge
// index entry: the index id byte followed by the out-edge key. It does
// not use the field-prefix and null-bitmap encoding of proto.EncodeIndexKey.
func indexEntryKey(idx *proto.IndexItem, local proto.PartId, e proto.NewEdge) []byte {
	key := proto.EncodeKey(local, e.Key)
	return append([]byte{byte(idx.IndexId)}, key...)
}
