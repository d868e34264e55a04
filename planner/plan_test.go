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

package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nebula-contrib/nebulacore/proto"
)

func testIndex() *proto.IndexItem {
	return &proto.IndexItem{
		IndexId:  1,
		SchemaId: 1,
		Fields: []proto.ColumnDef{
			{Name: "c1", Type: proto.TypeInt64},
			{Name: "c2", Type: proto.TypeInt64},
		},
	}
}

func lookups() (IndexLookup, SchemaLookup) {
	idx := testIndex()
	schema := &proto.Schema{Id: 1, Columns: []proto.ColumnDef{
		{Name: "c1", Type: proto.TypeInt64}, {Name: "c2", Type: proto.TypeInt64}, {Name: "c3", Type: proto.TypeInt64},
	}}
	return func(id proto.IndexId) (*proto.IndexItem, bool) {
			if id == idx.IndexId {
				return idx, true
			}
			return nil, false
		}, func(id proto.SchemaId) (*proto.Schema, bool) {
			if id == schema.Id {
				return schema, true
			}
			return nil, false
		}
}

func TestPlanIndexedOnly(t *testing.T) {
	lookupIdx, lookupSchema := lookups()
	req := &proto.LookupIndexRequest{
		Indices:       proto.LookupIndices{TagOrEdgeId: 1, Contexts: []proto.IndexQueryContext{{IndexId: 1}}},
		ReturnColumns: []string{"c1", "c2"},
	}
	plan, err := Build(req, lookupIdx, lookupSchema)
	require.NoError(t, err)

	kinds := kindsOf(plan)
	require.Equal(t, []NodeKind{NodeIndexScan, NodeIndexOutput, NodeAggregate}, kinds)
}

func TestPlanNeedsData(t *testing.T) {
	lookupIdx, lookupSchema := lookups()
	req := &proto.LookupIndexRequest{
		Indices:       proto.LookupIndices{TagOrEdgeId: 1, Contexts: []proto.IndexQueryContext{{IndexId: 1}}},
		ReturnColumns: []string{"c3"},
	}
	plan, err := Build(req, lookupIdx, lookupSchema)
	require.NoError(t, err)

	kinds := kindsOf(plan)
	require.Equal(t, []NodeKind{NodeIndexScan, NodeIndexVertex, NodeIndexOutput, NodeAggregate}, kinds)
}

func TestPlanNeedsFilterOnly(t *testing.T) {
	lookupIdx, lookupSchema := lookups()
	req := &proto.LookupIndexRequest{
		Indices:       proto.LookupIndices{TagOrEdgeId: 1, Contexts: []proto.IndexQueryContext{{IndexId: 1, Filter: "c1 > 1 && c2 > 1"}}},
		ReturnColumns: []string{"c1"},
	}
	plan, err := Build(req, lookupIdx, lookupSchema)
	require.NoError(t, err)

	kinds := kindsOf(plan)
	require.Equal(t, []NodeKind{NodeIndexScan, NodeIndexFilter, NodeIndexOutput, NodeAggregate}, kinds)
}

func TestPlanEdgeColumnOrder(t *testing.T) {
	lookupIdx, lookupSchema := lookups()
	req := &proto.LookupIndexRequest{
		Indices:       proto.LookupIndices{IsEdge: true, TagOrEdgeId: 1, Contexts: []proto.IndexQueryContext{{IndexId: 1}}},
		ReturnColumns: []string{"c1"},
	}
	plan, err := Build(req, lookupIdx, lookupSchema)
	require.NoError(t, err)
	require.Equal(t, []string{"_src", "_ranking", "_dst", "c1"}, plan.Columns)
}

func TestPlanVertexColumnOrder(t *testing.T) {
	lookupIdx, lookupSchema := lookups()
	req := &proto.LookupIndexRequest{
		Indices:       proto.LookupIndices{TagOrEdgeId: 1, Contexts: []proto.IndexQueryContext{{IndexId: 1}}},
		ReturnColumns: []string{"c1"},
	}
	plan, err := Build(req, lookupIdx, lookupSchema)
	require.NoError(t, err)
	require.Equal(t, []string{"_vid", "c1"}, plan.Columns)
}

func TestPlanEmptyContextsIsInvalidOperation(t *testing.T) {
	lookupIdx, lookupSchema := lookups()
	req := &proto.LookupIndexRequest{Indices: proto.LookupIndices{}}
	_, err := Build(req, lookupIdx, lookupSchema)
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestPlanUnknownIndex(t *testing.T) {
	lookupIdx, lookupSchema := lookups()
	req := &proto.LookupIndexRequest{Indices: proto.LookupIndices{Contexts: []proto.IndexQueryContext{{IndexId: 999}}}}
	_, err := Build(req, lookupIdx, lookupSchema)
	require.ErrorIs(t, err, ErrIndexNotFound)
}

func TestPlanRecordsScanInfo(t *testing.T) {
	idx := &proto.IndexItem{
		IndexId:  2,
		SchemaId: 1,
		Fields: []proto.ColumnDef{
			{Name: "name", Type: proto.TypeString},
			{Name: "age", Type: proto.TypeInt64, Nullable: true},
		},
	}
	lookupIdx := func(id proto.IndexId) (*proto.IndexItem, bool) { return idx, id == idx.IndexId }
	lookupSchema := func(id proto.SchemaId) (*proto.Schema, bool) { return nil, false }

	req := &proto.LookupIndexRequest{
		Indices:       proto.LookupIndices{TagOrEdgeId: 1, Contexts: []proto.IndexQueryContext{{IndexId: 2}}},
		ReturnColumns: []string{"name"},
	}
	plan, err := Build(req, lookupIdx, lookupSchema)
	require.NoError(t, err)
	require.Len(t, plan.ScanInfos, 1)
	require.Equal(t, 1, plan.ScanInfos[0].VColNum)
	require.True(t, plan.ScanInfos[0].HasNullableCol)
	require.Len(t, plan.ScanInfos[0].Columns, 2)
}

func kindsOf(p *Plan) []NodeKind {
	out := make([]NodeKind, 0, len(p.Nodes))
	for _, n := range p.Nodes {
		out = append(out, n.Kind)
	}
	return out
}
